// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cdi

import (
	"fmt"
	"strings"
)

// FormatTelemetry formats a record into a human-readable line
func FormatTelemetry(t Telemetry) string {
	timestamp := t.timestamp.Format("15:04:05.000")
	return fmt.Sprintf("[%s] RPM: %5d  Battery: %4.1fV  Status: 0x%02X (%s)  Timing: %d\n",
		timestamp, t.rpm, t.batteryVoltage, t.statusByte, FormatStatusBits(t.statusByte), t.timingByte)
}

// FormatStatusBits renders the status bitfield MSB first, e.g. "0000_0101"
func FormatStatusBits(status uint8) string {
	bits := fmt.Sprintf("%08b", status)
	return bits[:4] + "_" + bits[4:]
}

// FormatHex renders bytes as space-separated hex, 16 per line
func FormatHex(data []byte) string {
	var b strings.Builder
	for i, v := range data {
		if i > 0 {
			if i%16 == 0 {
				b.WriteString("\n")
			} else {
				b.WriteString(" ")
			}
		}
		fmt.Fprintf(&b, "%02X", v)
	}
	return b.String()
}

// FormatFrame formats a raw frame with its decoded fields, or the decode
// error when the bytes are not a valid frame
func FormatFrame(frame []byte) string {
	result := fmt.Sprintf("Frame (%d bytes):\n  %s\n", len(frame), strings.ReplaceAll(FormatHex(frame), "\n", "\n  "))

	t, err := Decode(frame)
	if err != nil {
		return result + fmt.Sprintf("  Decode error: %v\n", err)
	}

	result += fmt.Sprintf("  RPM:      %d\n", t.rpm)
	result += fmt.Sprintf("  Battery:  %.1f V\n", t.batteryVoltage)
	result += fmt.Sprintf("  Status:   0x%02X (%s)\n", t.statusByte, FormatStatusBits(t.statusByte))
	result += fmt.Sprintf("  Timing:   %d\n", t.timingByte)
	result += fmt.Sprintf("  Reserved: %s\n", FormatHex(t.reserved[:]))
	return result
}
