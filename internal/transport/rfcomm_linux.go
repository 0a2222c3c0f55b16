// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

//go:build linux

package transport

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sys/unix"
)

// pollSlice bounds each wait so cancellation is noticed promptly
const pollSlice = 100 * time.Millisecond

// errConnectionClosed reports an orderly shutdown by the remote side
var errConnectionClosed = errors.New("connection closed")

// RFCOMMChannel is a Bluetooth Serial Port Profile socket. Reads return the
// bytes already received and never wait, so the timeout hint is ignored.
type RFCOMMChannel struct {
	mu   sync.Mutex
	fd   int
	addr string
}

// OpenRFCOMM connects to addr ("AA:BB:CC:DD:EE:FF") on the given RFCOMM
// channel. The connect honors ctx.
func OpenRFCOMM(ctx context.Context, addr string, channel uint8) (*RFCOMMChannel, error) {
	bdaddr, err := ParseBTAddr(addr)
	if err != nil {
		return nil, err
	}
	if channel == 0 {
		channel = DefaultRFCOMMChannel
	}

	fd, err := unix.Socket(unix.AF_BLUETOOTH, unix.SOCK_STREAM|unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC, unix.BTPROTO_RFCOMM)
	if err != nil {
		return nil, fmt.Errorf("rfcomm socket: %w", err)
	}

	sa := &unix.SockaddrRFCOMM{Addr: bdaddr, Channel: channel}
	if err := unix.Connect(fd, sa); err != nil && !errors.Is(err, unix.EINPROGRESS) {
		unix.Close(fd)
		return nil, fmt.Errorf("rfcomm connect %s ch %d: %w", addr, channel, err)
	}
	if err := waitConnected(ctx, fd); err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("rfcomm connect %s ch %d: %w", addr, channel, err)
	}

	return &RFCOMMChannel{fd: fd, addr: addr}, nil
}

// waitConnected waits for a non-blocking connect to finish
func waitConnected(ctx context.Context, fd int) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		fds := []unix.PollFd{{Fd: int32(fd), Events: unix.POLLOUT}}
		n, err := unix.Poll(fds, int(pollSlice/time.Millisecond))
		if err != nil {
			if errors.Is(err, unix.EINTR) {
				continue
			}
			return err
		}
		if n == 0 {
			continue
		}
		soErr, err := unix.GetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_ERROR)
		if err != nil {
			return err
		}
		if soErr != 0 {
			return unix.Errno(soErr)
		}
		return nil
	}
}

func (r *RFCOMMChannel) Write(ctx context.Context, p []byte) error {
	for len(p) > 0 {
		if err := ctx.Err(); err != nil {
			return err
		}

		r.mu.Lock()
		if r.fd < 0 {
			r.mu.Unlock()
			return errConnectionClosed
		}
		n, err := unix.Write(r.fd, p)
		fd := r.fd
		r.mu.Unlock()

		switch {
		case errors.Is(err, unix.EAGAIN):
			fds := []unix.PollFd{{Fd: int32(fd), Events: unix.POLLOUT}}
			if _, err := unix.Poll(fds, int(pollSlice/time.Millisecond)); err != nil && !errors.Is(err, unix.EINTR) {
				return err
			}
		case errors.Is(err, unix.EINTR):
		case err != nil:
			return err
		default:
			p = p[n:]
		}
	}
	return nil
}

func (r *RFCOMMChannel) Read(ctx context.Context, p []byte, timeout time.Duration) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.fd < 0 {
		return 0, errConnectionClosed
	}

	n, err := unix.Read(r.fd, p)
	switch {
	case errors.Is(err, unix.EAGAIN), errors.Is(err, unix.EINTR):
		return 0, nil
	case err != nil:
		return 0, err
	case n == 0 && len(p) > 0:
		return 0, errConnectionClosed
	}
	return n, nil
}

func (r *RFCOMMChannel) IsConnected() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.fd >= 0
}

func (r *RFCOMMChannel) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.fd < 0 {
		return nil
	}
	err := unix.Close(r.fd)
	r.fd = -1
	return err
}

// String describes the link for status lines
func (r *RFCOMMChannel) String() string {
	return fmt.Sprintf("Bluetooth: %s", r.addr)
}
