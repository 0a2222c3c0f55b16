// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"github.com/Thermoquad/cdistat/internal/recorder"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var (
	errorsOnly    bool
	statsInterval int
	useTUI        bool
	recordPath    string
)

var monitorCmd = &cobra.Command{
	Use:   "monitor",
	Short: "Poll the unit and display live telemetry",
	Long: `Connect to the unit, perform the handshake, and poll continuously.

Each decoded frame is displayed with RPM, battery voltage, status bits and
timing. Frames with implausible values (RPM above 20000, battery outside
6.0-18.0 V) are highlighted; they are still counted and recorded.

Periodic statistics show frame rate, discarded noise bytes and buffer
overflows, which help diagnose a noisy or misconfigured link.

Use --record to save every decoded frame to a CBOR file for later replay.`,
	RunE: runMonitor,
}

func init() {
	rootCmd.AddCommand(monitorCmd)
	monitorCmd.Flags().BoolVar(&errorsOnly, "errors-only", false, "Only print anomalous frames (text mode)")
	monitorCmd.Flags().IntVar(&statsInterval, "stats-interval", 10, "Statistics update interval (seconds)")
	monitorCmd.Flags().BoolVar(&useTUI, "tui", false, "Use terminal UI")
	monitorCmd.Flags().StringVarP(&recordPath, "record", "r", "", "Record telemetry to a CBOR file")
}

func runMonitor(cmd *cobra.Command, args []string) error {
	open, connInfo, err := OpenConnection()
	if err != nil {
		return err
	}

	ctx, stop := signalContext(cmd.Context())
	defer stop()

	var rec *recorder.Writer
	if recordPath != "" {
		rec, err = recorder.Create(recordPath, connInfo)
		if err != nil {
			return err
		}
		defer func() {
			if err := rec.Close(); err != nil {
				logger.Error("close recording", zap.String("path", recordPath), zap.Error(err))
			}
			logger.Info("recording saved", zap.String("path", recordPath), zap.Int("records", rec.Count()))
		}()
	}

	if useTUI {
		return runTUIMode(ctx, open, connInfo, rec)
	}
	return runTextMode(ctx, open, connInfo, rec)
}
