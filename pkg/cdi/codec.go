// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cdi

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"time"
)

// Decode errors
var (
	ErrInvalidLength  = errors.New("invalid frame length")
	ErrInvalidFraming = errors.New("invalid frame markers")
)

// BuildRequest returns the poll request sent before every read.
// The caller owns the returned slice.
func BuildRequest() []byte {
	req := make([]byte, RequestSize)
	copy(req, requestMessage[:])
	return req
}

// FindFrame scans buf[:length] for the leftmost complete frame.
// A candidate needs StartByte at offset and EndByte at offset+FrameSize-1;
// nothing between the markers is checked. Returns the offset, the frame
// length (always FrameSize) and whether a frame was found.
func FindFrame(buf []byte, length int) (offset int, frameLen int, ok bool) {
	if length > len(buf) {
		length = len(buf)
	}
	for i := 0; i+FrameSize <= length; i++ {
		if buf[i] == StartByte && buf[i+FrameSize-1] == EndByte {
			return i, FrameSize, true
		}
	}
	return 0, 0, false
}

// Decode decodes a single 22-byte frame. Every field of the result comes
// from the frame except the timestamp, which is the decode time and is
// ignored by Equal.
func Decode(frame []byte) (Telemetry, error) {
	if len(frame) != FrameSize {
		return Telemetry{}, fmt.Errorf("%w: got %d bytes, want %d", ErrInvalidLength, len(frame), FrameSize)
	}
	if frame[0] != StartByte || frame[FrameSize-1] != EndByte {
		return Telemetry{}, fmt.Errorf("%w: start=0x%02X end=0x%02X", ErrInvalidFraming, frame[0], frame[FrameSize-1])
	}

	t := Telemetry{
		rpm:            binary.BigEndian.Uint16(frame[offsetRPM : offsetRPM+2]),
		batteryVoltage: float64(frame[offsetBattery]) / 10.0,
		statusByte:     frame[offsetStatus],
		timingByte:     frame[offsetTiming],
		timestamp:      time.Now(),
	}
	copy(t.reserved[:4], frame[3:7])
	copy(t.reserved[4:], frame[10:21])
	return t, nil
}

// EncodeFrame builds the wire frame a unit would send for t.
// Battery voltage is rounded to the nearest 0.1 V and clamped to 0-25.5 V.
func EncodeFrame(t Telemetry) []byte {
	frame := make([]byte, FrameSize)
	frame[0] = StartByte
	binary.BigEndian.PutUint16(frame[offsetRPM:offsetRPM+2], t.rpm)
	copy(frame[3:7], t.reserved[:4])
	frame[offsetBattery] = voltageByte(t.batteryVoltage)
	frame[offsetStatus] = t.statusByte
	frame[offsetTiming] = t.timingByte
	copy(frame[10:21], t.reserved[4:])
	frame[FrameSize-1] = EndByte
	return frame
}

func voltageByte(v float64) byte {
	scaled := math.Round(v * 10)
	switch {
	case math.IsNaN(scaled) || scaled < 0:
		return 0
	case scaled > math.MaxUint8:
		return math.MaxUint8
	}
	return byte(scaled)
}
