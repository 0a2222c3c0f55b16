// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cdi

import (
	"fmt"
	"time"
)

// Statistics tracks polling results and stream health
type Statistics struct {
	StartTime      time.Time
	LastUpdateTime time.Time

	// Counters
	Polls           uint64
	EmptyReads      uint64
	ValidFrames     uint64
	AnomalousFrames uint64
	HighRPM         uint64
	VoltageOutliers uint64
	Stream          ReassemblerStats

	// Rates (calculated)
	FrameRate float64 // frames/sec
	NoiseRate float64 // discarded bytes/sec
}

// NewStatistics creates a new statistics tracker
func NewStatistics() *Statistics {
	now := time.Now()
	return &Statistics{
		StartTime:      now,
		LastUpdateTime: now,
	}
}

// RecordPoll counts one request/read cycle and the number of bytes it returned
func (s *Statistics) RecordPoll(n int) {
	s.Polls++
	if n == 0 {
		s.EmptyReads++
	}
}

// Update counts a decoded record and its validation results
func (s *Statistics) Update(t Telemetry, validationErrors []ValidationError) {
	if len(validationErrors) == 0 {
		s.ValidFrames++
	} else {
		s.AnomalousFrames++
		for _, err := range validationErrors {
			switch err.Type {
			case AnomalyHighRPM:
				s.HighRPM++
			case AnomalyLowVoltage, AnomalyHighVoltage:
				s.VoltageOutliers++
			}
		}
	}
	s.LastUpdateTime = t.timestamp
	if s.LastUpdateTime.IsZero() {
		s.LastUpdateTime = time.Now()
	}
}

// SetStream replaces the stream counters with a reassembler snapshot
func (s *Statistics) SetStream(rs ReassemblerStats) {
	s.Stream = rs
}

// TotalFrames returns valid plus anomalous frames
func (s Statistics) TotalFrames() uint64 {
	return s.ValidFrames + s.AnomalousFrames
}

// DiscardedBytes returns every byte the stream threw away
func (s Statistics) DiscardedBytes() uint64 {
	return s.Stream.BytesSkipped + s.Stream.BytesOverflow + s.Stream.BytesTruncated
}

// CalculateRates calculates frame and noise rates
func (s *Statistics) CalculateRates() {
	elapsed := time.Since(s.StartTime).Seconds()
	if elapsed > 0 {
		s.FrameRate = float64(s.TotalFrames()) / elapsed
		s.NoiseRate = float64(s.DiscardedBytes()) / elapsed
	}
}

// String returns a formatted statistics summary
func (s *Statistics) String() string {
	s.CalculateRates()

	var validPercent, anomalousPercent float64
	if total := s.TotalFrames(); total > 0 {
		validPercent = float64(s.ValidFrames) * 100.0 / float64(total)
		anomalousPercent = float64(s.AnomalousFrames) * 100.0 / float64(total)
	}

	elapsed := time.Since(s.StartTime)

	result := fmt.Sprintf("=== Statistics (%.0f seconds) ===\n", elapsed.Seconds())
	result += fmt.Sprintf("Polls:           %8d (%d empty)\n", s.Polls, s.EmptyReads)
	result += fmt.Sprintf("Total Frames:    %8d\n", s.TotalFrames())
	result += fmt.Sprintf("Valid Frames:    %8d (%.1f%%)\n", s.ValidFrames, validPercent)

	if s.AnomalousFrames > 0 {
		result += fmt.Sprintf("Anomalous:       %8d (%.1f%%)\n", s.AnomalousFrames, anomalousPercent)
		if s.HighRPM > 0 {
			result += fmt.Sprintf("  High RPM:         %5d\n", s.HighRPM)
		}
		if s.VoltageOutliers > 0 {
			result += fmt.Sprintf("  Voltage:          %5d\n", s.VoltageOutliers)
		}
	}
	if d := s.DiscardedBytes(); d > 0 {
		result += fmt.Sprintf("Discarded Bytes: %8d\n", d)
		if s.Stream.Overflows > 0 {
			result += fmt.Sprintf("  Overflows:        %5d\n", s.Stream.Overflows)
		}
	}

	result += fmt.Sprintf("Frame Rate:      %8.1f frames/sec\n", s.FrameRate)
	result += fmt.Sprintf("Noise Rate:      %8.1f bytes/sec\n", s.NoiseRate)
	result += "================================\n"

	return result
}

// Reset resets all statistics counters
func (s *Statistics) Reset() {
	*s = *NewStatistics()
}
