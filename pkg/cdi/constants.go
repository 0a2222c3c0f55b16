// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package cdi implements the polling protocol spoken by CDI ignition units.
//
// The unit answers a fixed 4-byte request with an unframed, fixed-size
// 22-byte reply. There is no length field, escaping or checksum: a reply is
// recognised only by its start and end markers sitting exactly FrameSize-1
// bytes apart. This package provides the request constant, frame search and
// decoding, and a Reassembler that recovers frames from a fragmented or noisy
// byte stream.
package cdi

// Frame markers
const (
	StartByte = 0x03
	EndByte   = 0xA9
)

// Frame layout
const (
	FrameSize = 22

	offsetRPM     = 1 // 2 bytes, big-endian
	offsetBattery = 7 // volts * 10
	offsetStatus  = 8
	offsetTiming  = 9
)

// Reassembler buffer limits
const (
	DefaultCapacity = 256
	HighWaterMark   = 128 // overflow triggers above this many unframed bytes
	OverflowKeep    = 64  // trailing bytes retained after an overflow
)

// requestMessage is the only message the host ever sends.
var requestMessage = [4]byte{0x01, 0xAB, 0xAC, 0xA1}

// RequestSize is the length of the poll request on the wire.
const RequestSize = len(requestMessage)

