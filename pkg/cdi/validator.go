// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cdi

import "fmt"

// AnomalyType represents different kinds of implausible telemetry
type AnomalyType int

const (
	AnomalyHighRPM AnomalyType = iota
	AnomalyLowVoltage
	AnomalyHighVoltage
)

// Plausibility limits used by Validate
const (
	MaxPlausibleRPM     = 20000
	MinPlausibleVoltage = 6.0
	MaxPlausibleVoltage = 18.0
)

// ValidationError describes one implausible field in a decoded record
type ValidationError struct {
	Type    AnomalyType
	Message string
	Details map[string]interface{}
}

// Error implements the error interface
func (v *ValidationError) Error() string {
	return v.Message
}

// Validate checks decoded telemetry against plausibility limits.
// Anomalies are warnings: the record is still valid protocol-wise.
// A zero battery reading is treated as "not measured" and not reported.
func Validate(t Telemetry) []ValidationError {
	errors := []ValidationError{}

	if t.rpm > MaxPlausibleRPM {
		errors = append(errors, ValidationError{
			Type:    AnomalyHighRPM,
			Message: fmt.Sprintf("High RPM (rpm=%d, max %d)", t.rpm, MaxPlausibleRPM),
			Details: map[string]interface{}{"rpm": t.rpm, "max": MaxPlausibleRPM},
		})
	}

	v := t.batteryVoltage
	switch {
	case v == 0:
	case v < MinPlausibleVoltage:
		errors = append(errors, ValidationError{
			Type:    AnomalyLowVoltage,
			Message: fmt.Sprintf("Low battery voltage (%.1fV, min %.1fV)", v, MinPlausibleVoltage),
			Details: map[string]interface{}{"voltage": v, "min": MinPlausibleVoltage},
		})
	case v > MaxPlausibleVoltage:
		errors = append(errors, ValidationError{
			Type:    AnomalyHighVoltage,
			Message: fmt.Sprintf("High battery voltage (%.1fV, max %.1fV)", v, MaxPlausibleVoltage),
			Details: map[string]interface{}{"voltage": v, "max": MaxPlausibleVoltage},
		})
	}

	return errors
}
