// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2026 The aps-m2000-power-analyzer Authors

package m2000

import (
	"errors"
	"math"
	"testing"
)

func TestParseNR3(t *testing.T) {
	tests := []struct {
		field string
		want  float64
	}{
		{"+1.23450E+02", 123.45},
		{"-1.23450E+02", -123.45},
		{"1.00000E0", 1},
		{"+2.50000E-03", 0.0025},
		{"+9.99999E+9", 9.99999e9},
		{"-4.00000E-12", -4e-12},
		{"+0.00000E-9", 0},
		{"0.00000E+1", 0},
		{" +1.00000E+00 ", 1},
	}

	for _, tt := range tests {
		t.Run(tt.field, func(t *testing.T) {
			v, err := ParseNR3(tt.field)
			if err != nil {
				t.Fatalf("ParseNR3(%q) failed: %v", tt.field, err)
			}
			got, err := v.Float64()
			if err != nil {
				t.Fatalf("Float64() failed: %v", err)
			}
			if math.Abs(got-tt.want) > math.Abs(tt.want)*1e-12 {
				t.Errorf("ParseNR3(%q) = %v, want %v", tt.field, got, tt.want)
			}
		})
	}
}

func TestParseNR3_UnavailableIsNotZero(t *testing.T) {
	for _, field := range []string{"+0.00000E+0", "+0.00000E+00", "0.00000E0", "-0.00000E-0"} {
		v, err := ParseNR3(field)
		if err != nil {
			t.Fatalf("ParseNR3(%q) failed: %v", field, err)
		}
		if v.Available() {
			t.Errorf("ParseNR3(%q) should be unavailable", field)
		}
		if _, err := v.Float64(); !errors.Is(err, ErrUnavailable) {
			t.Errorf("Float64() error = %v, want ErrUnavailable", err)
		}
	}

	zero, _ := ParseNR3("+0.00000E-9")
	if !zero.Available() {
		t.Error("+0.00000E-9 should be an available zero")
	}
	if zero == Unavailable {
		t.Error("zero and unavailable must compare unequal")
	}
}

func TestParseNR3_Malformed(t *testing.T) {
	tests := []string{
		"",
		"1.0",
		"+1.2345E+02",       // four mantissa digits
		"+12.3450E+02",      // two integer digits
		"+1.23450E+123",     // three exponent digits
		"+1.23450e+02",      // lower-case marker
		"+1,23450E+02",      // comma decimal
		"+1.23450X+02",      // bad marker
		"+1.23450E+",        // no exponent digits
		"++1.23450E+02",     // double sign
		"+1.2345aE+02",      // letter in mantissa
		"+1.23450E+02EXTRA", // too wide
	}

	for _, field := range tests {
		t.Run(field, func(t *testing.T) {
			_, err := ParseNR3(field)
			var malformed *MalformedResponseError
			if !errors.As(err, &malformed) {
				t.Errorf("ParseNR3(%q) error = %v, want MalformedResponseError", field, err)
			}
		})
	}
}

func TestParseValues(t *testing.T) {
	values, err := ParseValues("+1.20000E+02,+5.00000E-01;+6.00000E+01", 3)
	if err != nil {
		t.Fatalf("ParseValues failed: %v", err)
	}
	want := []float64{120, 0.5, 60}
	for i, v := range values {
		got, _ := v.Float64()
		if math.Abs(got-want[i]) > 1e-9 {
			t.Errorf("values[%d] = %v, want %v", i, got, want[i])
		}
	}
}

func TestParseValues_CountMismatch(t *testing.T) {
	tests := []struct {
		reply string
		want  int
		got   int
	}{
		{"+1.00000E+00", 2, 1},
		{"+1.00000E+00,+1.00000E+00,+1.00000E+00", 2, 3},
		{"", 1, 0},
		{"+1.00000E+00,", 1, 2},
	}

	for _, tt := range tests {
		_, err := ParseValues(tt.reply, tt.want)
		var mismatch *FieldCountMismatchError
		if !errors.As(err, &mismatch) {
			t.Errorf("ParseValues(%q, %d) error = %v, want FieldCountMismatchError", tt.reply, tt.want, err)
			continue
		}
		if mismatch.Expected != tt.want || mismatch.Got != tt.got {
			t.Errorf("mismatch = %d/%d, want %d/%d", mismatch.Expected, mismatch.Got, tt.want, tt.got)
		}
	}
}

func TestParseErrorCode(t *testing.T) {
	tests := []struct {
		reply   string
		want    int
		wantErr bool
	}{
		{"0", 0, false},
		{"3", 3, false},
		{"+10", 10, false},
		{" 7 ", 7, false},
		{"+3.00000E+00", 3, false},
		{"11", 0, true},
		{"-1", 0, true},
		{"abc", 0, true},
		{"+3.50000E+00", 0, true},
	}

	for _, tt := range tests {
		got, err := ParseErrorCode(tt.reply)
		if (err != nil) != tt.wantErr {
			t.Errorf("ParseErrorCode(%q) error = %v, wantErr %v", tt.reply, err, tt.wantErr)
			continue
		}
		if got != tt.want {
			t.Errorf("ParseErrorCode(%q) = %d, want %d", tt.reply, got, tt.want)
		}
	}
}

func TestErrorCodeText(t *testing.T) {
	if ErrorCodeText(0) != "no error" {
		t.Errorf("ErrorCodeText(0) = %q", ErrorCodeText(0))
	}
	if ErrorCodeText(3) != "data field out of valid range" {
		t.Errorf("ErrorCodeText(3) = %q", ErrorCodeText(3))
	}
	if ErrorCodeText(42) != "unknown error code" {
		t.Errorf("ErrorCodeText(42) = %q", ErrorCodeText(42))
	}
}

func TestIsRecoverable(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, true},
		{"timeout", &TimeoutError{Command: "*IDN?"}, true},
		{"malformed", &MalformedResponseError{Field: "x"}, true},
		{"mismatch", &FieldCountMismatchError{Expected: 1, Got: 2}, true},
		{"protocol", &ProtocolError{Message: "x"}, true},
		{"instrument", &InstrumentError{Code: 3}, true},
		{"connection", &ConnectionError{Transport: "lan", Err: errors.New("refused")}, false},
		{"identification", &IdentificationError{Reply: "FOO"}, false},
		{"plain", errors.New("boom"), false},
	}
	for _, tt := range tests {
		if got := IsRecoverable(tt.err); got != tt.want {
			t.Errorf("IsRecoverable(%s) = %v, want %v", tt.name, got, tt.want)
		}
	}
}

func TestFormatNR3(t *testing.T) {
	tests := []struct {
		value Value
		want  string
	}{
		{Float(123.45), "+1.23450E+02"},
		{Float(-0.0025), "-2.50000E-03"},
		{Float(0), "+0.00000E-09"},
		{Unavailable, "+0.00000E+00"},
	}
	for _, tt := range tests {
		got := FormatNR3(tt.value)
		if got != tt.want {
			t.Errorf("FormatNR3(%v) = %q, want %q", tt.value, got, tt.want)
		}
		back, err := ParseNR3(got)
		if err != nil {
			t.Errorf("ParseNR3(FormatNR3(%v)) failed: %v", tt.value, err)
			continue
		}
		if back.Available() != tt.value.Available() {
			t.Errorf("availability of %q changed after round trip", got)
		}
	}
}
