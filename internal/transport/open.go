// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package transport provides the byte channels cdistat can poll a unit over.
package transport

import (
	"context"
	"fmt"

	"github.com/Thermoquad/cdistat/internal/config"
	"github.com/Thermoquad/cdistat/internal/engine"
	"go.uber.org/zap"
)

// Compile-time interface checks
var (
	_ engine.Channel = (*SerialChannel)(nil)
	_ engine.Channel = (*RFCOMMChannel)(nil)
	_ engine.Channel = (*WebSocketChannel)(nil)
	_ engine.Channel = (*Simulator)(nil)
)

// NewOpener returns an Opener for the transport selected in cfg along with
// a human-readable description of the endpoint. password is only used by
// the websocket transport.
func NewOpener(cfg config.TransportConfig, demo config.DemoConfig, password string, logger *zap.Logger) (engine.Opener, string, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.With(zap.String("transport", cfg.Type))

	switch cfg.Type {
	case config.TransportSerial:
		return func(ctx context.Context) (engine.Channel, error) {
			name, err := ResolvePort(cfg.Port)
			if err != nil {
				return nil, err
			}
			logger.Info("opening serial port", zap.String("port", name), zap.Int("baud", cfg.Baud))
			ch, err := OpenSerial(name, cfg.Baud)
			if err != nil {
				return nil, err
			}
			return ch, nil
		}, fmt.Sprintf("Serial: %s @ %d baud", cfg.Port, cfg.Baud), nil

	case config.TransportRFCOMM:
		if _, err := ParseBTAddr(cfg.BTAddr); err != nil {
			return nil, "", err
		}
		return func(ctx context.Context) (engine.Channel, error) {
			logger.Info("connecting rfcomm", zap.String("addr", cfg.BTAddr), zap.Uint8("channel", cfg.BTChannel))
			ch, err := OpenRFCOMM(ctx, cfg.BTAddr, cfg.BTChannel)
			if err != nil {
				return nil, err
			}
			return ch, nil
		}, fmt.Sprintf("Bluetooth: %s ch %d", cfg.BTAddr, cfg.BTChannel), nil

	case config.TransportWebSocket:
		opts := WebSocketOptions{
			URL:           cfg.URL,
			Username:      cfg.Username,
			Password:      password,
			SkipSSLVerify: cfg.SkipSSLVerify,
		}
		return func(ctx context.Context) (engine.Channel, error) {
			logger.Info("dialing websocket", zap.String("url", cfg.URL))
			ch, err := OpenWebSocket(ctx, opts)
			if err != nil {
				return nil, err
			}
			return ch, nil
		}, fmt.Sprintf("WebSocket: %s", cfg.URL), nil

	case config.TransportDemo:
		opts := SimulatorOptions{
			SilentPolls: demo.SilentPolls,
			Fragment:    demo.Fragment,
			NoiseRate:   demo.NoiseRate,
		}
		return func(ctx context.Context) (engine.Channel, error) {
			logger.Info("starting simulator", zap.Bool("fragment", opts.Fragment), zap.Float64("noise_rate", opts.NoiseRate))
			return NewSimulator(opts), nil
		}, "Demo: simulated CDI", nil
	}

	return nil, "", fmt.Errorf("unknown transport %q", cfg.Type)
}
