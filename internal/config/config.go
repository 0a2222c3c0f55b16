// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package config loads cdistat settings from a YAML file and the environment.
//
// Precedence, lowest first: built-in defaults, the YAML file, CDISTAT_*
// environment variables, then command-line flags applied by the caller.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/Thermoquad/cdistat/internal/engine"
	"gopkg.in/yaml.v3"
)

// Transport types
const (
	TransportSerial    = "serial"
	TransportRFCOMM    = "rfcomm"
	TransportWebSocket = "websocket"
	TransportDemo      = "demo"
)

// Config holds all cdistat settings
type Config struct {
	Transport TransportConfig `yaml:"transport"`
	Poll      PollConfig      `yaml:"poll"`
	Demo      DemoConfig      `yaml:"demo"`
	Logging   LoggingConfig   `yaml:"logging"`

	path string
}

// TransportConfig selects and addresses the byte channel
type TransportConfig struct {
	Type          string `yaml:"type"`      // serial, rfcomm, websocket or demo
	Port          string `yaml:"port"`      // serial device, or "auto"
	Baud          int    `yaml:"baud_rate"` // serial only
	BTAddr        string `yaml:"bt_addr"`   // AA:BB:CC:DD:EE:FF
	BTChannel     uint8  `yaml:"bt_channel"`
	URL           string `yaml:"url"` // ws:// or wss://
	Username      string `yaml:"username"`
	SkipSSLVerify bool   `yaml:"no_ssl_verify"`
}

// PollConfig holds engine timings in milliseconds
type PollConfig struct {
	IntervalMs     int `yaml:"interval_ms"`
	HandshakeMs    int `yaml:"handshake_ms"`
	ReadTimeoutMs  int `yaml:"read_timeout_ms"`
	BufferCapacity int `yaml:"buffer_capacity"`
}

// DemoConfig shapes the simulated unit
type DemoConfig struct {
	Fragment    bool    `yaml:"fragment"`
	NoiseRate   float64 `yaml:"noise_rate"`
	SilentPolls int     `yaml:"silent_polls"`
}

// LoggingConfig controls the diagnostic log
type LoggingConfig struct {
	Level      string `yaml:"level"` // debug, info, warn, error
	File       string `yaml:"file"`  // empty logs to stderr
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups"`
	MaxAgeDays int    `yaml:"max_age_days"`
}

// Default returns the built-in configuration
func Default() *Config {
	return &Config{
		Transport: TransportConfig{
			Type:      TransportSerial,
			Baud:      9600,
			BTChannel: 1,
		},
		Poll: PollConfig{
			IntervalMs:     100,
			HandshakeMs:    100,
			ReadTimeoutMs:  100,
			BufferCapacity: 256,
		},
		Demo: DemoConfig{
			Fragment:  true,
			NoiseRate: 0.05,
		},
		Logging: LoggingConfig{
			Level:      "info",
			MaxSizeMB:  10,
			MaxBackups: 3,
			MaxAgeDays: 28,
		},
	}
}

// Load reads path (when non-empty) over the defaults and then applies
// environment overrides. A missing file is not an error.
func Load(path string) (*Config, error) {
	cfg := Default()
	cfg.path = path

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case errors.Is(err, fs.ErrNotExist):
		case err != nil:
			return nil, fmt.Errorf("read config %s: %w", path, err)
		default:
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("parse config %s: %w", path, err)
			}
		}
	}

	if err := cfg.applyEnvOverrides(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Path returns the file the config was loaded from
func (c *Config) Path() string {
	return c.path
}

// applyEnvOverrides reads CDISTAT_* variables
func (c *Config) applyEnvOverrides() error {
	if v := os.Getenv("CDISTAT_TRANSPORT"); v != "" {
		c.Transport.Type = strings.ToLower(v)
	}
	if v := os.Getenv("CDISTAT_PORT"); v != "" {
		c.Transport.Port = v
	}
	if v := os.Getenv("CDISTAT_BAUD"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("CDISTAT_BAUD: %w", err)
		}
		c.Transport.Baud = n
	}
	if v := os.Getenv("CDISTAT_BT_ADDR"); v != "" {
		c.Transport.BTAddr = v
	}
	if v := os.Getenv("CDISTAT_URL"); v != "" {
		c.Transport.URL = v
	}
	if v := os.Getenv("CDISTAT_POLL_MS"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("CDISTAT_POLL_MS: %w", err)
		}
		c.Poll.IntervalMs = n
	}
	if v := os.Getenv("CDISTAT_LOG_LEVEL"); v != "" {
		c.Logging.Level = v
	}
	if v := os.Getenv("CDISTAT_LOG_FILE"); v != "" {
		c.Logging.File = v
	}
	return nil
}

// Validate checks that the selected transport is addressable
func (c *Config) Validate() error {
	t := c.Transport
	switch t.Type {
	case TransportSerial:
		if t.Port == "" {
			return errors.New("serial transport requires a port (--port)")
		}
		if t.Baud <= 0 {
			return fmt.Errorf("invalid baud rate %d", t.Baud)
		}
	case TransportRFCOMM:
		if t.BTAddr == "" {
			return errors.New("rfcomm transport requires a bluetooth address (--bt-addr)")
		}
	case TransportWebSocket:
		if t.URL == "" {
			return errors.New("websocket transport requires a URL (--url)")
		}
	case TransportDemo:
		if c.Demo.NoiseRate < 0 || c.Demo.NoiseRate > 1 {
			return fmt.Errorf("demo noise_rate %v out of range 0..1", c.Demo.NoiseRate)
		}
	default:
		return fmt.Errorf("unknown transport %q (serial, rfcomm, websocket, demo)", t.Type)
	}

	if c.Poll.IntervalMs <= 0 || c.Poll.HandshakeMs <= 0 || c.Poll.ReadTimeoutMs <= 0 {
		return errors.New("poll timings must be positive")
	}
	return nil
}

// Engine converts the poll settings into engine timings
func (c *Config) Engine() engine.Config {
	return engine.Config{
		PollInterval:      time.Duration(c.Poll.IntervalMs) * time.Millisecond,
		HandshakeInterval: time.Duration(c.Poll.HandshakeMs) * time.Millisecond,
		ReadTimeout:       time.Duration(c.Poll.ReadTimeoutMs) * time.Millisecond,
		BufferCapacity:    c.Poll.BufferCapacity,
	}
}

// Marshal renders the effective configuration as YAML
func (c *Config) Marshal() ([]byte, error) {
	return yaml.Marshal(c)
}
