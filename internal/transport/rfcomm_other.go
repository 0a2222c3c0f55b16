// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

//go:build !linux

package transport

import (
	"context"
	"time"
)

// RFCOMMChannel is unavailable on this platform
type RFCOMMChannel struct{}

// OpenRFCOMM always fails on this platform
func OpenRFCOMM(ctx context.Context, addr string, channel uint8) (*RFCOMMChannel, error) {
	return nil, ErrRFCOMMUnsupported
}

func (r *RFCOMMChannel) Write(ctx context.Context, p []byte) error { return ErrRFCOMMUnsupported }

func (r *RFCOMMChannel) Read(ctx context.Context, p []byte, timeout time.Duration) (int, error) {
	return 0, ErrRFCOMMUnsupported
}

func (r *RFCOMMChannel) IsConnected() bool { return false }

func (r *RFCOMMChannel) Close() error { return nil }
