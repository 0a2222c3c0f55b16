// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/Thermoquad/cdistat/internal/config"
	"github.com/Thermoquad/cdistat/internal/engine"
	"github.com/Thermoquad/cdistat/internal/transport"
)

// OpenConnection validates the effective settings and returns an opener for
// the selected transport plus a description of the endpoint
func OpenConnection() (engine.Opener, string, error) {
	if err := cfg.Validate(); err != nil {
		return nil, "", err
	}

	password := ""
	if cfg.Transport.Type == config.TransportWebSocket && cfg.Transport.Username != "" {
		var err error
		password, err = transport.GetPassword()
		if err != nil {
			return nil, "", err
		}
	}

	return transport.NewOpener(cfg.Transport, cfg.Demo, password, logger)
}

// signalContext is cancelled on Ctrl+C or SIGTERM
func signalContext(parent context.Context) (context.Context, context.CancelFunc) {
	if parent == nil {
		parent = context.Background()
	}
	return signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
}
