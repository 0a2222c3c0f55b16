// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/Thermoquad/cdistat/pkg/cdi"
	"github.com/spf13/cobra"
)

var decodeCmd = &cobra.Command{
	Use:   "decode <hex>...",
	Short: "Decode a frame captured as hex",
	Long: `Decode bytes copied from a logic analyzer or raw_log output.

Hex may be split across arguments and may contain spaces, colons or dashes.
Every complete frame found in the bytes is decoded; leading noise is reported.

Example:
  cdistat decode "03 1F 40 00 00 00 00 89 05 0A 00 00 00 00 00 00 00 00 00 00 00 A9"`,
	Args: cobra.MinimumNArgs(1),
	RunE: runDecode,
}

func init() {
	rootCmd.AddCommand(decodeCmd)
}

// parseHex accepts hex with common separators removed
func parseHex(s string) ([]byte, error) {
	clean := strings.NewReplacer(" ", "", ":", "", "-", "", "\t", "", "\n", "", "0x", "", "0X", "").Replace(s)
	data, err := hex.DecodeString(clean)
	if err != nil {
		return nil, fmt.Errorf("invalid hex: %w", err)
	}
	return data, nil
}

func runDecode(cmd *cobra.Command, args []string) error {
	data, err := parseHex(strings.Join(args, " "))
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	found := 0
	rest := data
	for {
		offset, n, ok := cdi.FindFrame(rest, len(rest))
		if !ok {
			break
		}
		if offset > 0 {
			fmt.Fprintf(out, "Skipped %d bytes: %s\n", offset, cdi.FormatHex(rest[:offset]))
		}
		fmt.Fprint(out, cdi.FormatFrame(rest[offset:offset+n]))
		found++
		rest = rest[offset+n:]
	}

	if found == 0 {
		// Show why the bytes did not decode
		fmt.Fprint(out, cdi.FormatFrame(data))
		return fmt.Errorf("no complete frame in %d bytes", len(data))
	}
	if len(rest) > 0 {
		fmt.Fprintf(out, "Trailing %d bytes: %s\n", len(rest), cdi.FormatHex(rest))
	}
	return nil
}
