// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/Thermoquad/cdistat/internal/recorder"
	"github.com/Thermoquad/cdistat/pkg/cdi"
	"github.com/spf13/cobra"
)

var (
	replayStats      bool
	replayErrorsOnly bool
)

var replayCmd = &cobra.Command{
	Use:   "replay <file>",
	Short: "Print telemetry from a recording",
	Long: `Print every record from a file written by monitor --record.

Records are validated again on replay, so anomalies are highlighted the same
way as during live monitoring. Use --stats for a summary at the end.`,
	Args: cobra.ExactArgs(1),
	RunE: runReplay,
}

func init() {
	rootCmd.AddCommand(replayCmd)
	replayCmd.Flags().BoolVar(&replayStats, "stats", false, "Print statistics after the last record")
	replayCmd.Flags().BoolVar(&replayErrorsOnly, "errors-only", false, "Only print anomalous records")
}

func runReplay(cmd *cobra.Command, args []string) error {
	r, err := recorder.Open(args[0])
	if err != nil {
		return err
	}
	defer r.Close()

	h := r.Header()
	fmt.Printf("Recording: %s\n", args[0])
	if h.Source != "" {
		fmt.Printf("Source: %s\n", h.Source)
	}
	fmt.Printf("Started: %s\n\n", h.StartTime().Format("2006-01-02 15:04:05"))

	stats := cdi.NewStatistics()
	var first, last time.Time
	for {
		t, err := r.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return fmt.Errorf("record %d: %w", stats.TotalFrames()+1, err)
		}

		if first.IsZero() {
			first = t.Timestamp()
		}
		last = t.Timestamp()

		problems := cdi.Validate(t)
		stats.Update(t, problems)
		switch {
		case len(problems) > 0:
			printValidationErrors(t, problems)
		case !replayErrorsOnly:
			fmt.Print(cdi.FormatTelemetry(t))
		}
	}

	if replayStats {
		printReplayStats(stats, last.Sub(first))
	}
	return nil
}

// printReplayStats summarizes a recording. Rates use the recorded span,
// not wall time.
func printReplayStats(s *cdi.Statistics, span time.Duration) {
	total := s.TotalFrames()
	fmt.Printf("\n=== Recording (%.1f seconds) ===\n", span.Seconds())
	fmt.Printf("Total Frames:    %8d\n", total)
	fmt.Printf("Valid Frames:    %8d\n", s.ValidFrames)
	if s.AnomalousFrames > 0 {
		fmt.Printf("Anomalous:       %8d\n", s.AnomalousFrames)
		fmt.Printf("  High RPM:         %5d\n", s.HighRPM)
		fmt.Printf("  Voltage:          %5d\n", s.VoltageOutliers)
	}
	if span > 0 {
		fmt.Printf("Frame Rate:      %8.1f frames/sec\n", float64(total)/span.Seconds())
	}
	fmt.Println("================================")
}
