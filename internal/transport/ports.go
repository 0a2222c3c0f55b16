// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package transport

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"go.bug.st/serial/enumerator"
)

// AutoPort selects the first USB serial port when given as the port name
const AutoPort = "auto"

// ErrNoPorts is returned when enumeration finds no serial ports
var ErrNoPorts = errors.New("no serial ports found")

// PortInfo describes one serial port
type PortInfo struct {
	Name         string
	IsUSB        bool
	VID          string
	PID          string
	SerialNumber string
	Product      string
}

func (p PortInfo) String() string {
	if !p.IsUSB {
		return p.Name
	}
	s := fmt.Sprintf("%s  USB %s:%s", p.Name, strings.ToUpper(p.VID), strings.ToUpper(p.PID))
	if p.Product != "" {
		s += "  " + p.Product
	}
	if p.SerialNumber != "" {
		s += "  SN " + p.SerialNumber
	}
	return s
}

// ListPorts returns the serial ports on this host, USB ports first
func ListPorts() ([]PortInfo, error) {
	details, err := enumerator.GetDetailedPortsList()
	if err != nil {
		return nil, fmt.Errorf("enumerate ports: %w", err)
	}

	ports := make([]PortInfo, 0, len(details))
	for _, d := range details {
		ports = append(ports, PortInfo{
			Name:         d.Name,
			IsUSB:        d.IsUSB,
			VID:          d.VID,
			PID:          d.PID,
			SerialNumber: d.SerialNumber,
			Product:      d.Product,
		})
	}
	sortPorts(ports)
	return ports, nil
}

// SelectPort picks the preferred port: the first USB port, else the first port
func SelectPort(ports []PortInfo) (string, error) {
	for _, p := range ports {
		if p.IsUSB {
			return p.Name, nil
		}
	}
	if len(ports) > 0 {
		return ports[0].Name, nil
	}
	return "", ErrNoPorts
}

// ResolvePort expands AutoPort into a concrete device name
func ResolvePort(name string) (string, error) {
	if name != AutoPort {
		return name, nil
	}
	ports, err := ListPorts()
	if err != nil {
		return "", err
	}
	return SelectPort(ports)
}

func sortPorts(ports []PortInfo) {
	sort.SliceStable(ports, func(i, j int) bool {
		if ports[i].IsUSB != ports[j].IsUSB {
			return ports[i].IsUSB
		}
		return ports[i].Name < ports[j].Name
	})
}
