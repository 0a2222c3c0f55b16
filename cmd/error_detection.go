// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/Thermoquad/cdistat/internal/engine"
	"github.com/Thermoquad/cdistat/internal/recorder"
	"github.com/Thermoquad/cdistat/pkg/cdi"
	"go.uber.org/zap"
)

// printValidationErrors prints an anomalous frame with its issues highlighted
func printValidationErrors(t cdi.Telemetry, problems []cdi.ValidationError) {
	timestamp := t.Timestamp().Format("15:04:05.000")
	fmt.Printf("[%s] \033[1;33mANOMALY:\033[0m RPM %d, Battery %.1fV\n", timestamp, t.RPM(), t.BatteryVoltage())

	for i, p := range problems {
		switch p.Type {
		case cdi.AnomalyHighRPM:
			fmt.Printf("  Issue %d: \033[1;33m%s\033[0m\n", i+1, p.Message)
		case cdi.AnomalyLowVoltage, cdi.AnomalyHighVoltage:
			fmt.Printf("  Issue %d: \033[1;33m%s\033[0m\n", i+1, p.Message)
			fmt.Printf("    Battery=%.1fV (valid: %.1f to %.1fV)\n", t.BatteryVoltage(), cdi.MinPlausibleVoltage, cdi.MaxPlausibleVoltage)
		default:
			fmt.Printf("  Issue %d: %s\n", i+1, p.Message)
		}
	}
	fmt.Printf("  Status: 0x%02X (%s), Timing: %d\n\n", t.StatusByte(), cdi.FormatStatusBits(t.StatusByte()), t.TimingByte())
}

// printStateChange prints a lifecycle transition
func printStateChange(state engine.State, status string) {
	timestamp := time.Now().Format("15:04:05.000")
	color := "1;36"
	switch state {
	case engine.Monitoring:
		color = "1;32"
	case engine.Error:
		color = "1;31"
	}
	fmt.Printf("[%s] \033[%sm%s:\033[0m %s\n", timestamp, color, state, status)
}

// runTextMode polls until ctx is cancelled or the connection fails,
// printing frames, anomalies and periodic statistics
func runTextMode(ctx context.Context, open engine.Opener, connInfo string, rec *recorder.Writer) error {
	fmt.Printf("cdistat - Monitor\n")
	fmt.Printf("Connection: %s\n", connInfo)
	fmt.Printf("Statistics interval: %d seconds\n", statsInterval)
	if errorsOnly {
		fmt.Printf("Mode: Anomalies only\n")
	} else {
		fmt.Printf("Mode: All frames\n")
	}
	if rec != nil {
		fmt.Printf("Recording: %s\n", recordPath)
	}
	fmt.Printf("Press Ctrl+C to exit\n\n")

	handler := func(t cdi.Telemetry) {
		if problems := cdi.Validate(t); len(problems) > 0 {
			printValidationErrors(t, problems)
		} else if !errorsOnly {
			fmt.Print(cdi.FormatTelemetry(t))
		}
		if rec != nil {
			if err := rec.Write(t); err != nil {
				logger.Warn("record telemetry", zap.Error(err))
			}
		}
	}

	eng := engine.New(cfg.Engine(), logger, engine.WithRecordHandler(handler))
	states, cancelStates := eng.State().Subscribe()
	defer cancelStates()

	if err := eng.Connect(ctx, open); err != nil {
		return err
	}

	statsTicker := time.NewTicker(time.Duration(statsInterval) * time.Second)
	defer statsTicker.Stop()

	printStats := func() {
		stats := eng.Stats()
		fmt.Println()
		fmt.Print(stats.String())
		fmt.Println()
	}

	last := engine.Disconnected
	for {
		select {
		case <-ctx.Done():
			eng.Disconnect()
			eng.Wait()
			printStats()
			return nil

		case state := <-states:
			if state == last {
				continue
			}
			last = state
			printStateChange(state, eng.Status().Get())
			if state == engine.Error {
				eng.Wait()
				printStats()
				return eng.LastError()
			}

		case <-statsTicker.C:
			printStats()
		}
	}
}
