// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package transport

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.bug.st/serial"
)

// SerialChannel is a USB serial link to the unit. Reads block for at most
// the timeout hint.
type SerialChannel struct {
	port serial.Port
	name string

	mu          sync.Mutex
	closed      bool
	readTimeout time.Duration
}

// OpenSerial opens portName at baudRate, 8N1
func OpenSerial(portName string, baudRate int) (*SerialChannel, error) {
	mode := &serial.Mode{
		BaudRate: baudRate,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	}

	port, err := serial.Open(portName, mode)
	if err != nil {
		return nil, fmt.Errorf("failed to open serial port %s: %w", portName, err)
	}

	return &SerialChannel{port: port, name: portName}, nil
}

func (s *SerialChannel) Write(ctx context.Context, p []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	for len(p) > 0 {
		n, err := s.port.Write(p)
		if err != nil {
			return err
		}
		p = p[n:]
	}
	return nil
}

func (s *SerialChannel) Read(ctx context.Context, p []byte, timeout time.Duration) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	s.mu.Lock()
	if timeout != s.readTimeout {
		if err := s.port.SetReadTimeout(timeout); err != nil {
			s.mu.Unlock()
			return 0, fmt.Errorf("set read timeout: %w", err)
		}
		s.readTimeout = timeout
	}
	s.mu.Unlock()

	// go.bug.st/serial returns (0, nil) when the timeout expires
	return s.port.Read(p)
}

func (s *SerialChannel) IsConnected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return !s.closed
}

func (s *SerialChannel) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	return s.port.Close()
}

// String describes the link for status lines
func (s *SerialChannel) String() string {
	return fmt.Sprintf("Serial: %s", s.name)
}
