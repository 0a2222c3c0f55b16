// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"github.com/Thermoquad/cdistat/internal/config"
	"github.com/Thermoquad/cdistat/internal/logging"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"go.uber.org/zap"
)

var (
	// Config file
	configPath string

	// Transport selection
	transportType string

	// Serial connection flags
	portName string
	baudRate int

	// Bluetooth connection flags
	btAddr    string
	btChannel uint8

	// WebSocket connection flags
	wsURL         string
	wsUsername    string
	wsNoSSLVerify bool

	// Logging flags
	logLevel string
	logFile  string

	// Resolved by PersistentPreRunE
	cfg    *config.Config
	logger = zap.NewNop()
)

var rootCmd = &cobra.Command{
	Use:   "cdistat",
	Short: "CDI Ignition Telemetry Monitor",
	Long: `cdistat - A CLI tool for polling and monitoring CDI ignition units.

The unit answers a 4-byte poll request with a 22-byte telemetry frame carrying
engine RPM, battery voltage, a status bitfield and ignition timing. cdistat
polls continuously, reassembles frames from the byte stream, and shows the
decoded values as a text log or a terminal UI.

Connection modes:
  Serial:    --port /dev/ttyUSB0 [--baud 9600]   (--port auto picks a USB port)
  Bluetooth: --transport rfcomm --bt-addr AA:BB:CC:DD:EE:FF [--bt-channel 1]
  WebSocket: --transport websocket --url ws://host/path [--username user]
  Demo:      --transport demo

Settings are read from --config (YAML), then CDISTAT_* environment variables,
then flags. For WebSocket authentication, the password is read from the
CDISTAT_PASSWORD environment variable, or prompted interactively if not set.
The --password flag is intentionally not provided to avoid leaking
credentials in shell history.`,
	Version:           "1.0.0",
	SilenceUsage:      true,
	PersistentPreRunE: loadSettings,
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		logger.Sync()
	},
}

func init() {
	addGlobalFlags(rootCmd.PersistentFlags())
}

// addGlobalFlags binds the connection and logging flags shared by every
// command
func addGlobalFlags(flags *pflag.FlagSet) {
	flags.StringVarP(&configPath, "config", "c", "", "YAML config file")
	flags.StringVarP(&transportType, "transport", "t", config.TransportSerial, "Transport: serial, rfcomm, websocket or demo")

	// Serial connection flags
	flags.StringVarP(&portName, "port", "p", "", "Serial port device, or \"auto\"")
	flags.IntVarP(&baudRate, "baud", "b", 9600, "Baud rate (serial only)")

	// Bluetooth connection flags
	flags.StringVar(&btAddr, "bt-addr", "", "Bluetooth address (rfcomm only)")
	flags.Uint8Var(&btChannel, "bt-channel", 1, "RFCOMM channel (rfcomm only)")

	// WebSocket connection flags
	flags.StringVarP(&wsURL, "url", "u", "", "WebSocket URL (ws:// or wss://)")
	flags.StringVar(&wsUsername, "username", "", "Username for HTTP Basic auth")
	flags.BoolVar(&wsNoSSLVerify, "no-ssl-verify", false, "Skip TLS certificate verification (wss:// only)")

	// Logging flags
	flags.StringVar(&logLevel, "log-level", "info", "Log level: debug, info, warn, error")
	flags.StringVar(&logFile, "log-file", "", "Write logs to a rotating file instead of stderr")
}

// loadSettings resolves config file, environment and flags into cfg and
// builds the logger
func loadSettings(cmd *cobra.Command, args []string) error {
	loaded, err := config.Load(configPath)
	if err != nil {
		return err
	}
	applyFlags(cmd, loaded)
	cfg = loaded

	l, err := logging.New(cfg.Logging)
	if err != nil {
		return err
	}
	logger = l
	if cfg.Path() != "" {
		logger.Debug("config loaded", zap.String("path", cfg.Path()))
	}
	return nil
}

// applyFlags overrides c with every flag the user set explicitly
func applyFlags(cmd *cobra.Command, c *config.Config) {
	flags := cmd.Flags()
	t := &c.Transport

	if flags.Changed("transport") {
		t.Type = transportType
	}
	if flags.Changed("port") {
		t.Port = portName
	}
	if flags.Changed("baud") {
		t.Baud = baudRate
	}
	if flags.Changed("bt-addr") {
		t.BTAddr = btAddr
	}
	if flags.Changed("bt-channel") {
		t.BTChannel = btChannel
	}
	if flags.Changed("url") {
		t.URL = wsURL
	}
	if flags.Changed("username") {
		t.Username = wsUsername
	}
	if flags.Changed("no-ssl-verify") {
		t.SkipSSLVerify = wsNoSSLVerify
	}
	if flags.Changed("log-level") {
		c.Logging.Level = logLevel
	}
	if flags.Changed("log-file") {
		c.Logging.File = logFile
	}

	// A URL or Bluetooth address alone implies its transport
	if !flags.Changed("transport") && t.Type == config.TransportSerial && t.Port == "" {
		switch {
		case t.URL != "":
			t.Type = config.TransportWebSocket
		case t.BTAddr != "":
			t.Type = config.TransportRFCOMM
		}
	}
}

// Execute runs the root command
func Execute() error {
	return rootCmd.Execute()
}

