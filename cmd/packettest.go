// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"fmt"
	"os"
	"time"

	"github.com/Thermoquad/cdistat/internal/engine"
	"github.com/Thermoquad/cdistat/pkg/cdi"
	"github.com/spf13/cobra"
)

var (
	packetTestTimeout int
)

var packetTestCmd = &cobra.Command{
	Use:   "packet_test",
	Short: "Test connection by waiting for a valid telemetry frame",
	Long: `Poll the unit until one valid telemetry frame arrives or the timeout expires.

This command connects over the selected transport, performs the handshake,
and polls. Noise and partial frames are skipped; only a complete frame with
correct start and end markers counts.

Exit codes:
  0 - Frame received before timeout
  1 - Timeout reached without receiving a valid frame
  2 - Connection error

Useful for checking wiring, baud rate and Bluetooth pairing.`,
	RunE: runPacketTest,
}

func init() {
	rootCmd.AddCommand(packetTestCmd)
	packetTestCmd.Flags().IntVar(&packetTestTimeout, "timeout", 10, "Timeout in seconds to wait for a frame")
}

func runPacketTest(cmd *cobra.Command, args []string) error {
	open, connInfo, err := OpenConnection()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Connection error: %v\n", err)
		os.Exit(2)
	}

	fmt.Printf("cdistat - Packet Test\n")
	fmt.Printf("Connection: %s\n", connInfo)
	fmt.Printf("Timeout: %d seconds\n", packetTestTimeout)
	fmt.Printf("Waiting for valid telemetry frame...\n\n")

	ctx, stop := signalContext(cmd.Context())
	defer stop()

	frameChan := make(chan cdi.Telemetry, 1)
	eng := engine.New(cfg.Engine(), logger, engine.WithRecordHandler(func(t cdi.Telemetry) {
		select {
		case frameChan <- t:
		default:
		}
	}))

	states, cancelStates := eng.State().Subscribe()
	defer cancelStates()

	if err := eng.Connect(ctx, open); err != nil {
		fmt.Fprintf(os.Stderr, "Connection error: %v\n", err)
		os.Exit(2)
	}

	exit := func(code int) {
		stats := eng.Stats()
		eng.Disconnect()
		eng.Wait()
		if stats.DiscardedBytes() > 0 {
			fmt.Printf("(skipped %d invalid bytes before sync)\n", stats.DiscardedBytes())
		}
		os.Exit(code)
	}

	timeout := time.After(time.Duration(packetTestTimeout) * time.Second)
	for {
		select {
		case t := <-frameChan:
			fmt.Printf("SUCCESS: Received valid frame\n")
			fmt.Printf("  RPM: %d\n", t.RPM())
			fmt.Printf("  Battery: %.1f V\n", t.BatteryVoltage())
			fmt.Printf("  Status: 0x%02X (%s)\n", t.StatusByte(), cdi.FormatStatusBits(t.StatusByte()))
			fmt.Printf("  Timing: %d\n", t.TimingByte())
			exit(0)

		case state := <-states:
			if state == engine.Error {
				fmt.Fprintf(os.Stderr, "%s\n", eng.Status().Get())
				exit(2)
			}

		case <-ctx.Done():
			fmt.Fprintf(os.Stderr, "Interrupted\n")
			exit(1)

		case <-timeout:
			fmt.Fprintf(os.Stderr, "TIMEOUT: No valid frame received within %d seconds\n", packetTestTimeout)
			exit(1)
		}
	}
}
