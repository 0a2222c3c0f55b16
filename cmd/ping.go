// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/Thermoquad/cdistat/internal/engine"
	"github.com/Thermoquad/cdistat/pkg/cdi"
	"github.com/spf13/cobra"
)

var (
	pingTimeout int
	pingCount   int
)

var pingCmd = &cobra.Command{
	Use:   "ping",
	Short: "Measure request-to-frame round trip time",
	Long: `Send the poll request and time how long the unit takes to return a full frame.

Each ping writes one request, then reads repeatedly until a complete frame
has been reassembled or the timeout expires. The link is otherwise idle, so
the round trip includes the unit's response latency plus transport delay.

Exit codes:
  0 - All pings answered
  1 - One or more pings failed or timed out
  2 - Connection error`,
	RunE: runPing,
}

func init() {
	rootCmd.AddCommand(pingCmd)
	pingCmd.Flags().IntVar(&pingTimeout, "timeout", 2, "Timeout in seconds for each ping")
	pingCmd.Flags().IntVar(&pingCount, "count", 5, "Number of pings to send")
}

// pingResult is the outcome of one request
type pingResult struct {
	rtt       time.Duration
	telemetry cdi.Telemetry
	skipped   uint64
}

// pingOnce writes one request and reads until a frame arrives
func pingOnce(ctx context.Context, ch engine.Channel, timeout time.Duration) (pingResult, error) {
	r := cdi.NewReassembler(cdi.DefaultCapacity)
	buf := make([]byte, 256)

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	start := time.Now()
	if err := ch.Write(ctx, cdi.BuildRequest()); err != nil {
		return pingResult{}, fmt.Errorf("send failed: %w", err)
	}

	for {
		n, err := ch.Read(ctx, buf, 10*time.Millisecond)
		if err != nil {
			if ctx.Err() != nil {
				return pingResult{}, ctx.Err()
			}
			return pingResult{}, fmt.Errorf("read failed: %w", err)
		}
		if records := r.Feed(buf[:n]); len(records) > 0 {
			return pingResult{
				rtt:       time.Since(start),
				telemetry: records[0],
				skipped:   r.Stats().BytesSkipped,
			}, nil
		}

		select {
		case <-ctx.Done():
			return pingResult{}, ctx.Err()
		case <-time.After(5 * time.Millisecond):
		}
	}
}

func runPing(cmd *cobra.Command, args []string) error {
	open, connInfo, err := OpenConnection()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Connection error: %v\n", err)
		os.Exit(2)
	}

	ctx, stop := signalContext(cmd.Context())
	defer stop()

	ch, err := open(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Connection error: %v\n", err)
		os.Exit(2)
	}
	defer ch.Close()

	fmt.Printf("cdistat - Ping Test\n")
	fmt.Printf("Connection: %s\n", connInfo)
	fmt.Printf("Timeout: %d seconds per ping\n", pingTimeout)
	fmt.Printf("Count: %d pings\n\n", pingCount)

	successCount := 0
	failCount := 0
	var total, best, worst time.Duration

	for i := 1; i <= pingCount && ctx.Err() == nil; i++ {
		fmt.Printf("Ping %d/%d: ", i, pingCount)

		res, err := pingOnce(ctx, ch, time.Duration(pingTimeout)*time.Second)
		switch {
		case errors.Is(err, context.DeadlineExceeded):
			fmt.Printf("TIMEOUT (no frame in %ds)\n", pingTimeout)
			failCount++
		case err != nil:
			fmt.Printf("%v\n", err)
			failCount++
		default:
			extra := ""
			if res.skipped > 0 {
				extra = fmt.Sprintf(", skipped %d bytes", res.skipped)
			}
			fmt.Printf("frame RPM=%d, rtt=%v%s\n", res.telemetry.RPM(), res.rtt.Round(time.Millisecond), extra)
			successCount++
			total += res.rtt
			if best == 0 || res.rtt < best {
				best = res.rtt
			}
			if res.rtt > worst {
				worst = res.rtt
			}
		}

		// Let late bytes drain before the next request
		if i < pingCount {
			time.Sleep(cfg.Engine().PollInterval)
		}
	}

	sent := successCount + failCount
	if sent == 0 {
		return nil
	}

	fmt.Printf("\n--- Ping statistics ---\n")
	fmt.Printf("%d pings sent, %d frames received, %.0f%% loss\n",
		sent, successCount, float64(failCount)/float64(sent)*100)
	if successCount > 0 {
		fmt.Printf("rtt min/avg/max = %v/%v/%v\n",
			best.Round(time.Millisecond),
			(total / time.Duration(successCount)).Round(time.Millisecond),
			worst.Round(time.Millisecond))
	}

	if failCount > 0 {
		ch.Close()
		os.Exit(1)
	}
	return nil
}
