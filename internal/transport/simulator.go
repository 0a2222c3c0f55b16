// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package transport

import (
	"bytes"
	"context"
	"errors"
	"math"
	"math/rand"
	"sync"
	"time"

	"github.com/Thermoquad/cdistat/pkg/cdi"
)

// ErrSimulatorClosed is returned by a closed Simulator
var ErrSimulatorClosed = errors.New("simulator closed")

// SimulatorOptions shapes the simulated link
type SimulatorOptions struct {
	// SilentPolls is how many requests go unanswered before the unit wakes up
	SilentPolls int

	// Fragment splits each reply at a random point; the tail arrives with
	// the next reply
	Fragment bool

	// NoiseRate is the probability (0..1) of line noise before a reply
	NoiseRate float64

	// Seed makes fragmentation and noise reproducible; zero uses the clock
	Seed int64
}

// Simulator is an in-memory ignition unit. Each request written to it queues
// one telemetry frame from a synthetic engine sweep.
type Simulator struct {
	opts SimulatorOptions

	mu       sync.Mutex
	rng      *rand.Rand
	requests int
	replies  int
	pending  []byte
	held     []byte
	closed   bool
}

// NewSimulator creates a connected simulator
func NewSimulator(opts SimulatorOptions) *Simulator {
	seed := opts.Seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	return &Simulator{
		opts: opts,
		rng:  rand.New(rand.NewSource(seed)),
	}
}

func (s *Simulator) Write(ctx context.Context, p []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrSimulatorClosed
	}

	// The unit ignores anything that is not the poll request
	if !bytes.Equal(p, cdi.BuildRequest()) {
		return nil
	}
	s.requests++
	if s.requests <= s.opts.SilentPolls {
		return nil
	}

	s.pending = append(s.pending, s.held...)
	s.held = nil

	if s.opts.NoiseRate > 0 && s.rng.Float64() < s.opts.NoiseRate {
		s.pending = append(s.pending, s.noise(1+s.rng.Intn(8))...)
	}

	frame := cdi.EncodeFrame(SampleAt(s.replies))
	s.replies++
	if s.opts.Fragment {
		cut := 1 + s.rng.Intn(cdi.FrameSize-1)
		s.pending = append(s.pending, frame[:cut]...)
		s.held = append(s.held, frame[cut:]...)
	} else {
		s.pending = append(s.pending, frame...)
	}
	return nil
}

// Read drains queued bytes; it never waits
func (s *Simulator) Read(ctx context.Context, p []byte, timeout time.Duration) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return 0, ErrSimulatorClosed
	}
	n := copy(p, s.pending)
	s.pending = s.pending[n:]
	return n, nil
}

func (s *Simulator) IsConnected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return !s.closed
}

func (s *Simulator) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	s.pending = nil
	s.held = nil
	return nil
}

// Requests returns how many poll requests the simulator has received
func (s *Simulator) Requests() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.requests
}

// String describes the link for status lines
func (s *Simulator) String() string {
	return "Demo: simulated CDI"
}

// noise returns n random bytes without a start marker. Callers hold s.mu.
func (s *Simulator) noise(n int) []byte {
	out := make([]byte, n)
	for i := range out {
		b := byte(s.rng.Intn(256))
		for b == cdi.StartByte {
			b = byte(s.rng.Intn(256))
		}
		out[i] = b
	}
	return out
}

// SampleAt returns the i-th record of the simulated sweep: RPM ramps from
// idle to 9000 and back while the charging voltage follows engine speed.
func SampleAt(i int) cdi.Telemetry {
	const (
		idle   = 1200
		peak   = 9000
		steps  = 40
		period = 2 * steps
	)

	phase := i % period
	if phase > steps {
		phase = period - phase
	}
	rpm := idle + (peak-idle)*phase/steps
	// Quantized to the 0.1 V wire resolution so samples survive a round trip
	volts := math.Round((12.4+1.8*float64(rpm-idle)/float64(peak-idle))*10) / 10

	var status uint8 = 0x01
	if rpm > 3000 {
		status |= 0x04
	}
	timing := uint8(10 + rpm/500)

	return cdi.NewTelemetry(uint16(rpm), volts, status, timing)
}
