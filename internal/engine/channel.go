// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package engine

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Channel is a bidirectional byte stream to one ignition unit.
//
// Implementations differ in read semantics: a serial port blocks up to the
// timeout hint, a socket returns whatever bytes are already available and
// ignores the hint. Either way a zero-byte read with a nil error means "no
// data yet". Close must be idempotent. The engine compares channels by
// identity, so implementations should use pointer receivers.
type Channel interface {
	Write(ctx context.Context, p []byte) error
	Read(ctx context.Context, p []byte, timeout time.Duration) (int, error)
	IsConnected() bool
	Close() error
}

// Opener establishes a Channel. Device selection, permissions and pairing
// happen inside the opener.
type Opener func(ctx context.Context) (Channel, error)

// Engine errors
var (
	// ErrChannelUnavailable is returned when an operation is given a nil or
	// already closed channel.
	ErrChannelUnavailable = errors.New("channel unavailable")

	// ErrChannelClosed reports a channel that closed underneath a running loop.
	ErrChannelClosed = errors.New("channel closed")
)

// IOError wraps a failed channel operation
type IOError struct {
	Op  string // "write" or "read"
	Err error
}

func (e *IOError) Error() string {
	return fmt.Sprintf("%s failed: %v", e.Op, e.Err)
}

func (e *IOError) Unwrap() error {
	return e.Err
}
