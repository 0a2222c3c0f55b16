// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package transport

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// DefaultRFCOMMChannel is the Serial Port Profile channel used by HC-05 style
// adapters fitted to the ignition unit
const DefaultRFCOMMChannel uint8 = 1

// ErrRFCOMMUnsupported is returned on platforms without a Bluetooth socket API
var ErrRFCOMMUnsupported = errors.New("rfcomm sockets are not supported on this platform")

// ParseBTAddr parses "AA:BB:CC:DD:EE:FF" into the little-endian byte order
// used by the kernel's bdaddr_t.
func ParseBTAddr(s string) ([6]byte, error) {
	var addr [6]byte
	parts := strings.Split(s, ":")
	if len(parts) != 6 {
		return addr, fmt.Errorf("invalid bluetooth address %q", s)
	}
	for i, part := range parts {
		if len(part) != 2 {
			return addr, fmt.Errorf("invalid bluetooth address %q", s)
		}
		b, err := strconv.ParseUint(part, 16, 8)
		if err != nil {
			return addr, fmt.Errorf("invalid bluetooth address %q: %w", s, err)
		}
		addr[5-i] = byte(b)
	}
	return addr, nil
}

// FormatBTAddr is the inverse of ParseBTAddr
func FormatBTAddr(addr [6]byte) string {
	return fmt.Sprintf("%02X:%02X:%02X:%02X:%02X:%02X",
		addr[5], addr[4], addr[3], addr[2], addr[1], addr[0])
}
