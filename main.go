// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad
//
// cdistat - CDI Ignition Telemetry Monitor
//
// A CLI tool for polling CDI ignition units over serial, Bluetooth RFCOMM
// or WebSocket and displaying decoded telemetry in human-readable format.

package main

import (
	"os"

	"github.com/Thermoquad/cdistat/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
