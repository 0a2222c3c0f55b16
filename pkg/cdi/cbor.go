// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cdi

import (
	"fmt"
	"time"

	"github.com/fxamacker/cbor/v2"
)

// Record is the CBOR form of a telemetry sample: {0: unix-ms, 1: frame}.
// Storing the wire frame keeps reserved bytes and lets readers re-decode
// with the same rules as a live stream.
type Record struct {
	Timestamp int64  `cbor:"0,keyasint"`
	Frame     []byte `cbor:"1,keyasint"`
}

// NewRecord converts telemetry into its CBOR record form
func NewRecord(t Telemetry) Record {
	ts := t.timestamp
	if ts.IsZero() {
		ts = time.Now()
	}
	return Record{
		Timestamp: ts.UnixMilli(),
		Frame:     EncodeFrame(t),
	}
}

// Telemetry decodes the stored frame and restores the recorded timestamp
func (r Record) Telemetry() (Telemetry, error) {
	t, err := Decode(r.Frame)
	if err != nil {
		return Telemetry{}, err
	}
	t.timestamp = time.UnixMilli(r.Timestamp)
	return t, nil
}

// MarshalRecord encodes telemetry as a single CBOR record
func MarshalRecord(t Telemetry) ([]byte, error) {
	data, err := cbor.Marshal(NewRecord(t))
	if err != nil {
		return nil, fmt.Errorf("failed to encode CBOR record: %w", err)
	}
	return data, nil
}

// UnmarshalRecord decodes a single CBOR record into telemetry
func UnmarshalRecord(data []byte) (Telemetry, error) {
	if len(data) == 0 {
		return Telemetry{}, fmt.Errorf("empty CBOR record")
	}
	var r Record
	if err := cbor.Unmarshal(data, &r); err != nil {
		return Telemetry{}, fmt.Errorf("failed to decode CBOR: %w", err)
	}
	return r.Telemetry()
}
