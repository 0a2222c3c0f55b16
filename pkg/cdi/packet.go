// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cdi

import "time"

// Telemetry is one decoded reply from the ignition unit.
//
// Values are immutable snapshots; the reserved bytes of the source frame
// are carried along untouched so newer firmware fields survive a decode.
type Telemetry struct {
	rpm            uint16
	batteryVoltage float64
	statusByte     uint8
	timingByte     uint8
	reserved       [reservedSize]byte
	timestamp      time.Time
}

// reservedSize covers frame bytes 3-6 and 10-20.
const reservedSize = 4 + 11

// NewTelemetry creates a telemetry value from already-scaled fields.
// Reserved bytes are zero.
func NewTelemetry(rpm uint16, batteryVoltage float64, status, timing uint8) Telemetry {
	return Telemetry{
		rpm:            rpm,
		batteryVoltage: batteryVoltage,
		statusByte:     status,
		timingByte:     timing,
		timestamp:      time.Now(),
	}
}

// RPM returns the engine speed
func (t Telemetry) RPM() uint16 {
	return t.rpm
}

// BatteryVoltage returns the supply voltage in volts
func (t Telemetry) BatteryVoltage() float64 {
	return t.batteryVoltage
}

// StatusByte returns the raw status bitfield
func (t Telemetry) StatusByte() uint8 {
	return t.statusByte
}

// TimingByte returns the raw ignition timing value
func (t Telemetry) TimingByte() uint8 {
	return t.timingByte
}

// Reserved returns a copy of the uninterpreted frame bytes 3-6 followed by 10-20.
func (t Telemetry) Reserved() []byte {
	out := make([]byte, reservedSize)
	copy(out, t.reserved[:])
	return out
}

// Timestamp returns the decode time
func (t Telemetry) Timestamp() time.Time {
	return t.timestamp
}

// Equal reports whether two records carry the same decoded fields and
// reserved bytes. Timestamps are ignored.
func (t Telemetry) Equal(o Telemetry) bool {
	return t.rpm == o.rpm &&
		t.batteryVoltage == o.batteryVoltage &&
		t.statusByte == o.statusByte &&
		t.timingByte == o.timingByte &&
		t.reserved == o.reserved
}
