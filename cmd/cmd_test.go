// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"bytes"
	"encoding/hex"
	"strings"
	"testing"

	"github.com/Thermoquad/cdistat/internal/config"
	"github.com/Thermoquad/cdistat/internal/engine"
	"github.com/Thermoquad/cdistat/pkg/cdi"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"
)

// parseGlobalFlags returns a command whose global flags were parsed from args
func parseGlobalFlags(t *testing.T, args ...string) *cobra.Command {
	t.Helper()
	c := &cobra.Command{Use: "test"}
	addGlobalFlags(c.Flags())
	if err := c.ParseFlags(args); err != nil {
		t.Fatalf("ParseFlags(%v) error = %v", args, err)
	}
	return c
}

// ============================================================
// Flag Resolution Tests
// ============================================================

func TestApplyFlags(t *testing.T) {
	tests := []struct {
		name      string
		args      []string
		preset    func(c *config.Config)
		transport string
		check     func(t *testing.T, c *config.Config)
	}{
		{
			name:      "no flags keeps defaults",
			transport: config.TransportSerial,
			check: func(t *testing.T, c *config.Config) {
				if c.Transport.Baud != 9600 {
					t.Errorf("Baud = %d, want 9600", c.Transport.Baud)
				}
			},
		},
		{
			name:      "serial flags",
			args:      []string{"--port", "/dev/ttyUSB1", "--baud", "19200"},
			transport: config.TransportSerial,
			check: func(t *testing.T, c *config.Config) {
				if c.Transport.Port != "/dev/ttyUSB1" || c.Transport.Baud != 19200 {
					t.Errorf("Port/Baud = %q/%d", c.Transport.Port, c.Transport.Baud)
				}
			},
		},
		{
			name:      "url implies websocket",
			args:      []string{"--url", "ws://ecu.local/cdi"},
			transport: config.TransportWebSocket,
		},
		{
			name:      "bluetooth address implies rfcomm",
			args:      []string{"--bt-addr", "00:11:22:33:44:55", "--bt-channel", "3"},
			transport: config.TransportRFCOMM,
			check: func(t *testing.T, c *config.Config) {
				if c.Transport.BTChannel != 3 {
					t.Errorf("BTChannel = %d, want 3", c.Transport.BTChannel)
				}
			},
		},
		{
			name:      "explicit transport wins",
			args:      []string{"--transport", "demo", "--url", "ws://ecu.local/cdi"},
			transport: config.TransportDemo,
		},
		{
			name:      "configured port blocks implication",
			args:      []string{"--url", "ws://ecu.local/cdi"},
			preset:    func(c *config.Config) { c.Transport.Port = "/dev/ttyACM0" },
			transport: config.TransportSerial,
		},
		{
			name:      "unset flags do not clobber file values",
			preset:    func(c *config.Config) { c.Transport.Baud = 115200; c.Logging.Level = "debug" },
			transport: config.TransportSerial,
			check: func(t *testing.T, c *config.Config) {
				if c.Transport.Baud != 115200 || c.Logging.Level != "debug" {
					t.Errorf("Baud/Level = %d/%q", c.Transport.Baud, c.Logging.Level)
				}
			},
		},
		{
			name:      "logging flags",
			args:      []string{"--log-level", "warn", "--log-file", "/tmp/cdistat.log"},
			transport: config.TransportSerial,
			check: func(t *testing.T, c *config.Config) {
				if c.Logging.Level != "warn" || c.Logging.File != "/tmp/cdistat.log" {
					t.Errorf("Logging = %+v", c.Logging)
				}
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := config.Default()
			if tt.preset != nil {
				tt.preset(c)
			}
			applyFlags(parseGlobalFlags(t, tt.args...), c)

			if c.Transport.Type != tt.transport {
				t.Errorf("Transport.Type = %q, want %q", c.Transport.Type, tt.transport)
			}
			if tt.check != nil {
				tt.check(t, c)
			}
		})
	}
}

// ============================================================
// Decode Command Tests
// ============================================================

func TestParseHex(t *testing.T) {
	tests := []struct {
		in      string
		want    []byte
		wantErr bool
	}{
		{in: "01ABACA1", want: []byte{0x01, 0xAB, 0xAC, 0xA1}},
		{in: "01 ab ac a1", want: []byte{0x01, 0xAB, 0xAC, 0xA1}},
		{in: "01:AB:AC:A1", want: []byte{0x01, 0xAB, 0xAC, 0xA1}},
		{in: "0x01 0xAB", want: []byte{0x01, 0xAB}},
		{in: "0G", wantErr: true},
		{in: "ABC", wantErr: true},
	}

	for _, tt := range tests {
		got, err := parseHex(tt.in)
		if tt.wantErr {
			if err == nil {
				t.Errorf("parseHex(%q) expected error", tt.in)
			}
			continue
		}
		if err != nil {
			t.Errorf("parseHex(%q) error = %v", tt.in, err)
			continue
		}
		if !bytes.Equal(got, tt.want) {
			t.Errorf("parseHex(%q) = % X, want % X", tt.in, got, tt.want)
		}
	}
}

func TestRunDecode(t *testing.T) {
	frame := cdi.EncodeFrame(cdi.NewTelemetry(8000, 13.7, 0x05, 10))
	input := "FF 00 " + hex.EncodeToString(frame)

	var out bytes.Buffer
	c := &cobra.Command{}
	c.SetOut(&out)
	if err := runDecode(c, []string{input}); err != nil {
		t.Fatalf("runDecode() error = %v", err)
	}

	for _, want := range []string{"Skipped 2 bytes: FF 00", "RPM:      8000", "Battery:  13.7 V", "0000_0101"} {
		if !strings.Contains(out.String(), want) {
			t.Errorf("output missing %q:\n%s", want, out.String())
		}
	}
}

func TestRunDecode_NoFrame(t *testing.T) {
	var out bytes.Buffer
	c := &cobra.Command{}
	c.SetOut(&out)
	if err := runDecode(c, []string{"03 00 00 A9"}); err == nil {
		t.Fatal("runDecode() expected error for a short input")
	}
	if !strings.Contains(out.String(), "Decode error") {
		t.Errorf("output should explain the failure:\n%s", out.String())
	}
}

// ============================================================
// Config Command Tests
// ============================================================

func TestConfigCommand(t *testing.T) {
	saved := cfg
	t.Cleanup(func() { cfg = saved })

	cfg = config.Default()
	cfg.Transport.Port = "/dev/ttyUSB0"

	var out bytes.Buffer
	configCmd.SetOut(&out)
	t.Cleanup(func() { configCmd.SetOut(nil) })

	if err := configCmd.RunE(configCmd, nil); err != nil {
		t.Fatalf("config error = %v", err)
	}
	if !strings.Contains(out.String(), "/dev/ttyUSB0") {
		t.Errorf("output missing port:\n%s", out.String())
	}
}

// ============================================================
// TUI Model Tests
// ============================================================

func TestModel_AddFrameRowNewestFirst(t *testing.T) {
	m := initialModel("Demo: simulated CDI", "")
	m.maxFrameRows = 3

	for i := 1; i <= 5; i++ {
		m.addFrameRow(cdi.NewTelemetry(uint16(i*1000), 13.0, 0, 0), nil)
	}

	rows := m.frames.Rows()
	if len(rows) != 3 {
		t.Fatalf("rows = %d, want 3", len(rows))
	}
	if rows[0][1] != "5000" || rows[2][1] != "3000" {
		t.Errorf("RPM column = %s..%s, want 5000..3000", rows[0][1], rows[2][1])
	}
	if rows[0][5] != "ok" {
		t.Errorf("flags = %q, want ok", rows[0][5])
	}
}

func TestModel_RecordMsg(t *testing.T) {
	m := initialModel("Demo: simulated CDI", "")
	rec := cdi.NewTelemetry(25000, 5.0, 0, 0)

	updated, _ := m.Update(recordMsg{telemetry: rec, problems: cdi.Validate(rec)})
	m = updated.(model)

	if m.latest == nil || m.latest.RPM() != 25000 {
		t.Fatalf("latest = %v, want RPM 25000", m.latest)
	}
	if got := m.frames.Rows()[0][5]; got != "high rpm, low batt" {
		t.Errorf("flags = %q, want %q", got, "high rpm, low batt")
	}
	if len(m.eventLog) != 2 {
		t.Errorf("eventLog = %d entries, want 2", len(m.eventLog))
	}
}

func TestModel_StateMsg(t *testing.T) {
	m := initialModel("Demo: simulated CDI", "")
	rec := cdi.NewTelemetry(3000, 13.0, 0, 0)
	m.latest = &rec

	updated, _ := m.Update(stateMsg{state: engine.Monitoring, status: engine.StatusConnected})
	m = updated.(model)
	if m.state != engine.Monitoring || m.status != engine.StatusConnected {
		t.Errorf("state/status = %s/%q", m.state, m.status)
	}
	if m.latest == nil {
		t.Error("latest cleared while monitoring")
	}

	updated, _ = m.Update(stateMsg{state: engine.Disconnected, status: engine.StatusDisconnected})
	m = updated.(model)
	if m.latest != nil {
		t.Error("latest should be cleared on disconnect")
	}
	if len(m.eventLog) != 2 {
		t.Errorf("eventLog = %d entries, want 2", len(m.eventLog))
	}
}

func TestModel_ReconnectKey(t *testing.T) {
	calls := 0
	m := initialModel("Demo: simulated CDI", "")
	m.reconnect = func() error { calls++; return nil }
	key := tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune{'r'}}

	m.state = engine.Monitoring
	updated, _ := m.Update(key)
	m = updated.(model)
	if calls != 0 {
		t.Errorf("reconnect called while monitoring")
	}

	m.state = engine.Error
	updated, _ = m.Update(key)
	m = updated.(model)
	if calls != 1 {
		t.Errorf("reconnect calls = %d, want 1", calls)
	}
}

func TestModel_ReconnectFailureLogged(t *testing.T) {
	m := initialModel("Demo: simulated CDI", "")
	m.state = engine.Error
	m.reconnect = func() error { return engine.ErrChannelUnavailable }

	updated, _ := m.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune{'r'}})
	m = updated.(model)

	last := m.eventLog[len(m.eventLog)-1]
	if !last.isError || !strings.Contains(last.message, "channel unavailable") {
		t.Errorf("last event = %+v, want reconnect failure", last)
	}
}

func TestModel_QuitKey(t *testing.T) {
	m := initialModel("Demo: simulated CDI", "")
	updated, cmd := m.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune{'q'}})
	m = updated.(model)

	if !m.quitting || cmd == nil {
		t.Error("q should quit")
	}
	if m.View() != "Shutting down...\n" {
		t.Errorf("View() = %q", m.View())
	}
}

func TestModel_EventLogBounded(t *testing.T) {
	m := initialModel("Demo: simulated CDI", "")
	for i := 0; i < m.maxLogEntries+20; i++ {
		m.addLogEntry("notice", false)
	}
	if len(m.eventLog) != m.maxLogEntries {
		t.Errorf("eventLog = %d entries, want %d", len(m.eventLog), m.maxLogEntries)
	}
}

func TestModel_ViewShowsTelemetry(t *testing.T) {
	m := initialModel("Demo: simulated CDI", "run.cbor")
	updated, _ := m.Update(recordMsg{telemetry: cdi.NewTelemetry(4321, 12.8, 0x01, 7)})
	view := updated.(model).View()

	for _, want := range []string{"CDISTAT - MONITOR", "Recording: run.cbor", "4321", "12.8 V"} {
		if !strings.Contains(view, want) {
			t.Errorf("View() missing %q", want)
		}
	}
}
