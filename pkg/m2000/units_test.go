// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2026 The aps-m2000-power-analyzer Authors

package m2000

import "testing"

func TestFormatValue_Boundaries(t *testing.T) {
	tests := []struct {
		name  string
		value float64
		unit  string
		want  string
	}{
		{"nano", 0.0000009, "A", "900.000 nA"},
		{"micro edge", 1e-6, "A", "1.000 µA"},
		{"just under milli", 0.0009999, "A", "999.900 µA"},
		{"milli edge", 1e-3, "V", "1.000 mV"},
		{"milli", 0.25, "V", "250.000 mV"},
		{"unit edge", 1.0, "V", "1.000 V"},
		{"no prefix", 999.9, "V", "999.900 V"},
		{"kilo edge stays plain", 1500.0, "W", "1500.000 W"},
		{"kilo", 1500.1, "W", "1.500 kW"},
		{"mega edge stays kilo", 1e6, "VA", "1000.000 kVA"},
		{"mega", 2.5e6, "VAR", "2.500 MVAR"},
		{"negative", -1500.1, "W", "-1.500 kW"},
		{"negative milli", -0.5, "A", "-500.000 mA"},
		{"zero", 0, "V", "0.000 V"},
		{"frequency", 50.0, "Hz", "50.000 Hz"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := FormatValue(Float(tt.value), tt.unit); got != tt.want {
				t.Errorf("FormatValue(%v, %q) = %q, want %q", tt.value, tt.unit, got, tt.want)
			}
		})
	}
}

func TestFormatValue_Unscaled(t *testing.T) {
	tests := []struct {
		value float64
		unit  string
		want  string
	}{
		{0.987, "", "0.987"},
		{-12.5, "°", "-12.500 °"},
		{3.2, "%", "3.200 %"},
	}
	for _, tt := range tests {
		if got := FormatValue(Float(tt.value), tt.unit); got != tt.want {
			t.Errorf("FormatValue(%v, %q) = %q, want %q", tt.value, tt.unit, got, tt.want)
		}
	}
}

func TestFormatValue_Unavailable(t *testing.T) {
	if got := FormatValue(Unavailable, "V"); got != "--- V" {
		t.Errorf("FormatValue(unavailable, V) = %q, want \"--- V\"", got)
	}
	if got := FormatValue(Unavailable, ""); got != Placeholder {
		t.Errorf("FormatValue(unavailable, \"\") = %q, want %q", got, Placeholder)
	}
}

func TestMeasurementType(t *testing.T) {
	tests := map[string]string{
		"V":     TypeVolts,
		"a":     TypeAmps,
		"W":     TypeWatts,
		"pf":    TypePF,
		"FREQ":  TypeFreq,
		"volts": TypeVolts,
	}
	for in, want := range tests {
		got, err := MeasurementType(in)
		if err != nil {
			t.Errorf("MeasurementType(%q) failed: %v", in, err)
			continue
		}
		if got != want {
			t.Errorf("MeasurementType(%q) = %q, want %q", in, got, want)
		}
	}

	if _, err := MeasurementType("OHMS"); err == nil {
		t.Error("MeasurementType(OHMS) should fail")
	}
}

func TestParameterName(t *testing.T) {
	tests := map[string]string{
		TypeVolts: "V",
		TypeAmps:  "A",
		TypeWatts: "W",
		TypeVA:    "VA",
		TypeFreq:  "FREQ",
	}
	for in, want := range tests {
		if got := ParameterName(in); got != want {
			t.Errorf("ParameterName(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestFormatMeasurement(t *testing.T) {
	if got := FormatMeasurement(Float(230.1), "V"); got != "230.100 V" {
		t.Errorf("FormatMeasurement(230.1, V) = %q", got)
	}
	if got := FormatMeasurement(Float(49.98), "FREQ"); got != "49.980 Hz" {
		t.Errorf("FormatMeasurement(49.98, FREQ) = %q", got)
	}
}
