// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cdi

import (
	"bytes"
	"errors"
	"strings"
	"testing"
	"time"
)

// ============================================================
// Test Helpers
// ============================================================

// exampleFrame is a captured reply: rpm=300, 15.0V, status=5, timing=10
var exampleFrame = []byte{
	0x03, 0x01, 0x2C, 0x00, 0x00, 0x00, 0x00, 0x96, 0x05, 0x0A, 0x00,
	0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0xA9,
}

// makeFrame builds a valid frame with the given field values
func makeFrame(rpm uint16, decivolts, status, timing uint8) []byte {
	frame := make([]byte, FrameSize)
	frame[0] = StartByte
	frame[1] = byte(rpm >> 8)
	frame[2] = byte(rpm)
	frame[7] = decivolts
	frame[8] = status
	frame[9] = timing
	frame[FrameSize-1] = EndByte
	return frame
}

// noise returns n bytes that can never start a frame
func noise(n int) []byte {
	out := make([]byte, n)
	for i := range out {
		out[i] = byte(0x40 + i%0x20)
	}
	return out
}

// ============================================================
// Request Tests
// ============================================================

func TestBuildRequest(t *testing.T) {
	want := []byte{0x01, 0xAB, 0xAC, 0xA1}
	got := BuildRequest()
	if !bytes.Equal(got, want) {
		t.Fatalf("BuildRequest() = % X, want % X", got, want)
	}
}

func TestBuildRequest_ReturnsCopy(t *testing.T) {
	first := BuildRequest()
	first[0] = 0xFF
	second := BuildRequest()
	if second[0] != 0x01 {
		t.Errorf("mutating a returned request changed later requests: % X", second)
	}
}

// ============================================================
// FindFrame Tests
// ============================================================

func TestFindFrame_ShortBuffers(t *testing.T) {
	for n := 0; n < FrameSize; n++ {
		buf := make([]byte, n)
		if n > 0 {
			buf[0] = StartByte
			buf[n-1] = EndByte
		}
		if _, _, ok := FindFrame(buf, n); ok {
			t.Errorf("FindFrame found a frame in %d bytes", n)
		}
	}
}

func TestFindFrame_AtOffset(t *testing.T) {
	buf := append(noise(5), exampleFrame...)
	offset, n, ok := FindFrame(buf, len(buf))
	if !ok {
		t.Fatal("expected frame to be found")
	}
	if offset != 5 || n != FrameSize {
		t.Errorf("FindFrame = (%d, %d), want (5, %d)", offset, n, FrameSize)
	}
}

func TestFindFrame_RespectsLength(t *testing.T) {
	buf := append([]byte{}, exampleFrame...)
	if _, _, ok := FindFrame(buf, FrameSize-1); ok {
		t.Error("FindFrame should not look past the logical length")
	}
	if _, _, ok := FindFrame(buf, 100); !ok {
		t.Error("FindFrame should clamp a length larger than the buffer")
	}
}

func TestFindFrame_Leftmost(t *testing.T) {
	buf := append(append([]byte{}, makeFrame(1, 0, 0, 0)...), makeFrame(2, 0, 0, 0)...)
	offset, _, ok := FindFrame(buf, len(buf))
	if !ok || offset != 0 {
		t.Errorf("FindFrame = (%d, %v), want leftmost frame at 0", offset, ok)
	}
}

func TestFindFrame_MisalignedEndMarker(t *testing.T) {
	buf := make([]byte, 30)
	buf[0] = StartByte
	buf[20] = EndByte
	buf[22] = EndByte
	if _, _, ok := FindFrame(buf, len(buf)); ok {
		t.Error("markers at distance other than 21 must not match")
	}
}

// ============================================================
// Decode Tests
// ============================================================

func TestDecode_Example(t *testing.T) {
	rec, err := Decode(exampleFrame)
	if err != nil {
		t.Fatalf("Decode error: %v", err)
	}
	if rec.RPM() != 300 {
		t.Errorf("RPM = %d, want 300", rec.RPM())
	}
	if rec.BatteryVoltage() != 15.0 {
		t.Errorf("BatteryVoltage = %v, want 15.0", rec.BatteryVoltage())
	}
	if rec.StatusByte() != 5 {
		t.Errorf("StatusByte = %d, want 5", rec.StatusByte())
	}
	if rec.TimingByte() != 10 {
		t.Errorf("TimingByte = %d, want 10", rec.TimingByte())
	}
}

func TestDecode_OnlyTimestampVaries(t *testing.T) {
	first, err := Decode(exampleFrame)
	if err != nil {
		t.Fatalf("Decode error: %v", err)
	}
	time.Sleep(2 * time.Millisecond)
	second, _ := Decode(exampleFrame)

	if !first.Equal(second) {
		t.Errorf("decoding the same frame twice differs: %+v vs %+v", first, second)
	}
	if !second.Timestamp().After(first.Timestamp()) {
		t.Errorf("timestamps = %v, %v, want decode times", first.Timestamp(), second.Timestamp())
	}
	if !bytes.Equal(EncodeFrame(first), exampleFrame) {
		t.Errorf("EncodeFrame(Decode(frame)) = % X, want % X", EncodeFrame(first), exampleFrame)
	}
}

func TestDecode_Errors(t *testing.T) {
	tests := []struct {
		name  string
		frame []byte
		want  error
	}{
		{"empty", nil, ErrInvalidLength},
		{"short", exampleFrame[:21], ErrInvalidLength},
		{"long", append(append([]byte{}, exampleFrame...), 0x00), ErrInvalidLength},
		{"bad start", func() []byte { f := makeFrame(1, 1, 1, 1); f[0] = 0x04; return f }(), ErrInvalidFraming},
		{"bad end", func() []byte { f := makeFrame(1, 1, 1, 1); f[21] = 0xAA; return f }(), ErrInvalidFraming},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Decode(tt.frame)
			if !errors.Is(err, tt.want) {
				t.Errorf("Decode error = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestDecode_BigEndianRPM(t *testing.T) {
	rec, err := Decode(makeFrame(0xABCD, 0, 0, 0))
	if err != nil {
		t.Fatalf("Decode error: %v", err)
	}
	if rec.RPM() != 0xABCD {
		t.Errorf("RPM = 0x%04X, want 0xABCD", rec.RPM())
	}
}

func TestDecode_ReservedPreserved(t *testing.T) {
	frame := makeFrame(1000, 120, 0, 0)
	for i := 3; i <= 6; i++ {
		frame[i] = byte(0x10 + i)
	}
	for i := 10; i <= 20; i++ {
		frame[i] = byte(0x10 + i)
	}

	rec, err := Decode(frame)
	if err != nil {
		t.Fatalf("Decode error: %v", err)
	}
	want := append(append([]byte{}, frame[3:7]...), frame[10:21]...)
	if !bytes.Equal(rec.Reserved(), want) {
		t.Errorf("Reserved = % X, want % X", rec.Reserved(), want)
	}
	if !bytes.Equal(EncodeFrame(rec), frame) {
		t.Errorf("EncodeFrame did not reproduce the source frame")
	}
}

// ============================================================
// EncodeFrame Tests
// ============================================================

func TestEncodeFrame_Example(t *testing.T) {
	got := EncodeFrame(NewTelemetry(300, 15.0, 5, 10))
	if !bytes.Equal(got, exampleFrame) {
		t.Errorf("EncodeFrame =\n% X\nwant\n% X", got, exampleFrame)
	}
}

func TestEncodeFrame_VoltageClamp(t *testing.T) {
	tests := []struct {
		volts float64
		want  byte
	}{
		{-1, 0},
		{0, 0},
		{12.34, 123},
		{12.36, 124},
		{25.5, 255},
		{99, 255},
	}

	for _, tt := range tests {
		frame := EncodeFrame(NewTelemetry(0, tt.volts, 0, 0))
		if frame[offsetBattery] != tt.want {
			t.Errorf("voltage %.2f encoded as %d, want %d", tt.volts, frame[offsetBattery], tt.want)
		}
	}
}

// ============================================================
// Validator Tests
// ============================================================

func TestValidate(t *testing.T) {
	tests := []struct {
		name  string
		rec   Telemetry
		types []AnomalyType
	}{
		{"nominal", NewTelemetry(3000, 13.8, 0, 0), nil},
		{"no voltage reading", NewTelemetry(0, 0, 0, 0), nil},
		{"high rpm", NewTelemetry(25000, 13.8, 0, 0), []AnomalyType{AnomalyHighRPM}},
		{"low voltage", NewTelemetry(800, 4.2, 0, 0), []AnomalyType{AnomalyLowVoltage}},
		{"high voltage and rpm", NewTelemetry(30000, 21.0, 0, 0), []AnomalyType{AnomalyHighRPM, AnomalyHighVoltage}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			errs := Validate(tt.rec)
			if len(errs) != len(tt.types) {
				t.Fatalf("got %d anomalies, want %d: %v", len(errs), len(tt.types), errs)
			}
			for i, e := range errs {
				if e.Type != tt.types[i] {
					t.Errorf("anomaly %d type = %d, want %d", i, e.Type, tt.types[i])
				}
				if e.Error() == "" {
					t.Errorf("anomaly %d has empty message", i)
				}
			}
		})
	}
}

// ============================================================
// Statistics Tests
// ============================================================

func TestStatistics_Update(t *testing.T) {
	s := NewStatistics()
	s.RecordPoll(22)
	s.RecordPoll(0)

	good := NewTelemetry(1000, 13.0, 0, 0)
	bad := NewTelemetry(30000, 13.0, 0, 0)
	s.Update(good, Validate(good))
	s.Update(bad, Validate(bad))
	s.SetStream(ReassemblerStats{BytesSkipped: 3, BytesOverflow: 64, Overflows: 1})

	if s.Polls != 2 || s.EmptyReads != 1 {
		t.Errorf("Polls=%d EmptyReads=%d, want 2 and 1", s.Polls, s.EmptyReads)
	}
	if s.TotalFrames() != 2 || s.ValidFrames != 1 || s.AnomalousFrames != 1 || s.HighRPM != 1 {
		t.Errorf("unexpected frame counters: %+v", s)
	}
	if s.DiscardedBytes() != 67 {
		t.Errorf("DiscardedBytes = %d, want 67", s.DiscardedBytes())
	}

	out := s.String()
	for _, want := range []string{"Total Frames:", "Anomalous:", "Overflows:", "Frame Rate:"} {
		if !strings.Contains(out, want) {
			t.Errorf("String() missing %q:\n%s", want, out)
		}
	}

	s.Reset()
	if s.TotalFrames() != 0 || s.Polls != 0 {
		t.Errorf("Reset did not clear counters: %+v", s)
	}
}

func TestStatistics_SnapshotCounters(t *testing.T) {
	snapshot := func() Statistics {
		s := NewStatistics()
		rec := NewTelemetry(1000, 13.0, 0, 0)
		s.Update(rec, nil)
		s.SetStream(ReassemblerStats{BytesSkipped: 5})
		return *s
	}

	// Counters are readable straight off a returned copy
	if got := snapshot().TotalFrames(); got != 1 {
		t.Errorf("TotalFrames = %d, want 1", got)
	}
	if got := snapshot().DiscardedBytes(); got != 5 {
		t.Errorf("DiscardedBytes = %d, want 5", got)
	}
}

// ============================================================
// Formatter Tests
// ============================================================

func TestFormatStatusBits(t *testing.T) {
	if got := FormatStatusBits(0x05); got != "0000_0101" {
		t.Errorf("FormatStatusBits(0x05) = %q", got)
	}
	if got := FormatStatusBits(0xF0); got != "1111_0000" {
		t.Errorf("FormatStatusBits(0xF0) = %q", got)
	}
}

func TestFormatTelemetry(t *testing.T) {
	rec, _ := Decode(exampleFrame)
	out := FormatTelemetry(rec)
	for _, want := range []string{"RPM:   300", "15.0V", "0x05", "Timing: 10"} {
		if !strings.Contains(out, want) {
			t.Errorf("FormatTelemetry missing %q: %s", want, out)
		}
	}
}

func TestFormatFrame(t *testing.T) {
	out := FormatFrame(exampleFrame)
	if !strings.Contains(out, "03 01 2C") || !strings.Contains(out, "RPM:      300") {
		t.Errorf("unexpected FormatFrame output:\n%s", out)
	}

	out = FormatFrame(exampleFrame[:10])
	if !strings.Contains(out, "Decode error") {
		t.Errorf("short frame should report a decode error:\n%s", out)
	}
}

func TestFormatHex_Wraps(t *testing.T) {
	out := FormatHex(make([]byte, 17))
	if strings.Count(out, "\n") != 1 {
		t.Errorf("expected one line break for 17 bytes, got %q", out)
	}
}

// ============================================================
// CBOR Record Tests
// ============================================================

func TestRecord_RoundTrip(t *testing.T) {
	frame := append([]byte{}, exampleFrame...)
	frame[4] = 0x7E
	rec, err := Decode(frame)
	if err != nil {
		t.Fatalf("Decode error: %v", err)
	}

	data, err := MarshalRecord(rec)
	if err != nil {
		t.Fatalf("MarshalRecord error: %v", err)
	}
	got, err := UnmarshalRecord(data)
	if err != nil {
		t.Fatalf("UnmarshalRecord error: %v", err)
	}
	if !got.Equal(rec) {
		t.Errorf("record changed across CBOR: got %+v, want %+v", got, rec)
	}
	if got.Timestamp().UnixMilli() != rec.Timestamp().UnixMilli() {
		t.Errorf("timestamp = %v, want %v", got.Timestamp(), rec.Timestamp())
	}
}

func TestUnmarshalRecord_Errors(t *testing.T) {
	if _, err := UnmarshalRecord(nil); err == nil {
		t.Error("expected error for empty record")
	}
	if _, err := UnmarshalRecord([]byte{0xFF, 0x00}); err == nil {
		t.Error("expected error for invalid CBOR")
	}

	bad := Record{Timestamp: time.Now().UnixMilli(), Frame: []byte{0x03, 0xA9}}
	if _, err := bad.Telemetry(); !errors.Is(err, ErrInvalidLength) {
		t.Errorf("expected ErrInvalidLength, got %v", err)
	}
}
