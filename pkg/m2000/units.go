// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2026 The aps-m2000-power-analyzer Authors

package m2000

import (
	"fmt"
	"math"
	"strings"
)

// Placeholder is printed instead of a number for unavailable values
const Placeholder = "---"

// Engineering prefix thresholds, evaluated on the absolute value
const (
	nanoBelow  = 1e-6
	microBelow = 1e-3
	milliBelow = 1.0
	kiloAbove  = 1.5e3
	megaAbove  = 1e6
)

// parameterTypes maps short parameter names to measurement types
var parameterTypes = map[string]string{
	"V":     TypeVolts,
	"A":     TypeAmps,
	"W":     TypeWatts,
	"VA":    TypeVA,
	"VAR":   TypeVAR,
	"PF":    TypePF,
	"FREQ":  TypeFreq,
	"PHASE": TypePhase,
	"THD":   TypeTHD,
	"CF":    TypeCF,
	"FF":    TypeFF,
}

// baseUnits maps measurement types to their display unit
var baseUnits = map[string]string{
	TypeVolts: "V",
	TypeAmps:  "A",
	TypeWatts: "W",
	TypeVA:    "VA",
	TypeVAR:   "VAR",
	TypeFreq:  "Hz",
	TypePhase: "°",
	TypeTHD:   "%",
	TypePF:    "",
	TypeCF:    "",
	TypeFF:    "",
}

// MeasurementType resolves a short parameter name (V, A, W, ...) or a full
// measurement type to the wire keyword.
func MeasurementType(param string) (string, error) {
	p := strings.ToUpper(strings.TrimSpace(param))
	if t, ok := parameterTypes[p]; ok {
		return t, nil
	}
	if _, ok := baseUnits[p]; ok {
		return p, nil
	}
	return "", fmt.Errorf("unknown parameter %q", param)
}

// ParameterName returns the short name for a measurement type (VOLTS -> V).
func ParameterName(measurementType string) string {
	t := strings.ToUpper(measurementType)
	for name, typ := range parameterTypes {
		if typ == t && len(name) < len(t) {
			return name
		}
	}
	return t
}

// BaseUnit returns the display unit of a measurement type or parameter name.
func BaseUnit(param string) string {
	t, err := MeasurementType(param)
	if err != nil {
		return ""
	}
	return baseUnits[t]
}

// scaled reports whether the unit takes engineering prefixes
func scaled(unit string) bool {
	return unit != "" && unit != "°" && unit != "%"
}

// Prefix selects the engineering prefix and multiplier for a magnitude.
func Prefix(v float64) (prefix string, multiplier float64) {
	a := math.Abs(v)
	switch {
	case a == 0:
		return "", 1
	case a < nanoBelow:
		return "n", 1e9
	case a < microBelow:
		return "µ", 1e6
	case a < milliBelow:
		return "m", 1e3
	case a > megaAbove:
		return "M", 1e-6
	case a > kiloAbove:
		return "k", 1e-3
	}
	return "", 1
}

// FormatValue renders a value with three decimals and an engineering prefix
// before unit. Unavailable values render as the placeholder.
func FormatValue(v Value, unit string) string {
	f, err := v.Float64()
	if err != nil {
		return strings.TrimSpace(Placeholder + " " + unit)
	}
	if !scaled(unit) {
		return strings.TrimSpace(fmt.Sprintf("%.3f %s", f, unit))
	}
	prefix, mult := Prefix(f)
	return fmt.Sprintf("%.3f %s%s", f*mult, prefix, unit)
}

// FormatMeasurement formats a value for a parameter name or measurement type.
func FormatMeasurement(v Value, param string) string {
	return FormatValue(v, BaseUnit(param))
}
