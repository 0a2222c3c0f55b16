// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package engine

// State is the connection lifecycle state
type State int

// Lifecycle states
//
//	Disconnected -> Connecting -> Initializing -> Monitoring
//	Initializing, Monitoring -> Error       (I/O failure)
//	any -> Disconnected                     (Disconnect)
const (
	Disconnected State = iota
	Connecting
	Initializing
	Monitoring
	Error
)

var stateNames = []string{"DISCONNECTED", "CONNECTING", "INITIALIZING", "MONITORING", "ERROR"}

func (s State) String() string {
	if s < 0 || int(s) >= len(stateNames) {
		return "UNKNOWN"
	}
	return stateNames[s]
}

// Active reports whether a connection attempt is in progress or established
func (s State) Active() bool {
	return s == Connecting || s == Initializing || s == Monitoring
}
