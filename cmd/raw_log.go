// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"fmt"
	"strings"
	"time"

	"github.com/Thermoquad/cdistat/pkg/cdi"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var rawLogPolls int

var rawLogCmd = &cobra.Command{
	Use:   "raw_log",
	Short: "Display raw bytes returned for each poll",
	Long: `Send the poll request on a fixed cadence and hex-dump whatever bytes come back.

Unlike monitor, no handshake is performed and bytes are not reassembled into
frames, so this shows exactly what the link delivers per read. Complete
frames found within a single read are marked.

Use --polls to stop after a number of requests (0 runs until Ctrl+C).`,
	RunE: runRawLog,
}

func init() {
	rootCmd.AddCommand(rawLogCmd)
	rawLogCmd.Flags().IntVar(&rawLogPolls, "polls", 0, "Number of polls before exiting (0 = unlimited)")
}

func runRawLog(cmd *cobra.Command, args []string) error {
	open, connInfo, err := OpenConnection()
	if err != nil {
		return err
	}

	ctx, stop := signalContext(cmd.Context())
	defer stop()

	ch, err := open(ctx)
	if err != nil {
		return err
	}
	defer ch.Close()

	fmt.Printf("cdistat - Raw Poll Log\n")
	fmt.Printf("Connection: %s\n", connInfo)
	fmt.Printf("Press Ctrl+C to exit\n\n")

	ecfg := cfg.Engine()
	req := cdi.BuildRequest()
	buf := make([]byte, 256)

	for poll := 1; rawLogPolls == 0 || poll <= rawLogPolls; poll++ {
		if err := ch.Write(ctx, req); err != nil {
			return ignoreCancel(ctx.Err(), fmt.Errorf("write failed: %w", err))
		}

		select {
		case <-ctx.Done():
			return nil
		case <-time.After(ecfg.PollInterval):
		}

		n, err := ch.Read(ctx, buf, ecfg.ReadTimeout)
		if err != nil {
			return ignoreCancel(ctx.Err(), fmt.Errorf("read failed: %w", err))
		}

		timestamp := time.Now().Format("15:04:05.000")
		if n == 0 {
			fmt.Printf("[%s] poll %d: (no data)\n", timestamp, poll)
			continue
		}

		marker := ""
		if offset, _, ok := cdi.FindFrame(buf, n); ok {
			marker = fmt.Sprintf("  [frame @ %d]", offset)
		}
		fmt.Printf("[%s] poll %d: %d bytes%s\n  %s\n", timestamp, poll, n, marker,
			strings.ReplaceAll(cdi.FormatHex(buf[:n]), "\n", "\n  "))
		logger.Debug("raw read", zap.Int("poll", poll), zap.Int("bytes", n))
	}
	return nil
}

// ignoreCancel drops err when the command was interrupted
func ignoreCancel(ctxErr, err error) error {
	if ctxErr != nil {
		return nil
	}
	return err
}
