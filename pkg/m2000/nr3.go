// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2026 The aps-m2000-power-analyzer Authors

package m2000

import (
	"math"
	"strconv"
	"strings"
)

// NR3 field width limits: "1.00000E0" up to "+1.00000E+00"
const (
	nr3MinWidth = 9
	nr3MaxWidth = 12
)

// Value is a decoded NR3 field. An unavailable value is distinct from zero.
type Value struct {
	v         float64
	available bool
}

// Unavailable is the marker the instrument sends as +0.00000E+0.
var Unavailable = Value{}

// Float wraps a plain number as an available value.
func Float(v float64) Value { return Value{v: v, available: true} }

// Available reports whether the instrument had data for the field.
func (v Value) Available() bool { return v.available }

// Float64 returns the decoded number, or ErrUnavailable.
func (v Value) Float64() (float64, error) {
	if !v.available {
		return 0, ErrUnavailable
	}
	return v.v, nil
}

func (v Value) String() string {
	if !v.available {
		return "unavailable"
	}
	return strconv.FormatFloat(v.v, 'g', -1, 64)
}

// ParseNR3 decodes one fixed-format field: optional sign, one digit, '.',
// five digits, 'E', optional sign, one or two exponent digits.
//
// A zero mantissa with exponent 0 marks data as unavailable. Any other
// exponent on a zero mantissa (the instrument sends -9) is an exact zero.
func ParseNR3(field string) (Value, error) {
	s := strings.TrimSpace(field)
	bad := func(reason string) (Value, error) {
		return Value{}, &MalformedResponseError{Field: field, Reason: reason}
	}
	if len(s) < nr3MinWidth || len(s) > nr3MaxWidth {
		return bad("width out of range")
	}

	i := 0
	negative := false
	if s[i] == '+' || s[i] == '-' {
		negative = s[i] == '-'
		i++
	}
	// d.ddddd
	if len(s)-i < 7 || !isDigit(s[i]) || s[i+1] != '.' {
		return bad("mantissa must be d.ddddd")
	}
	mantissaText := s[i : i+7]
	for _, c := range []byte(mantissaText[2:]) {
		if !isDigit(c) {
			return bad("mantissa must be d.ddddd")
		}
	}
	i += 7
	if i >= len(s) || s[i] != 'E' {
		return bad("missing exponent marker")
	}
	i++
	expText := s[i:]
	expNegative := false
	if len(expText) > 0 && (expText[0] == '+' || expText[0] == '-') {
		expNegative = expText[0] == '-'
		expText = expText[1:]
	}
	if len(expText) < 1 || len(expText) > 2 || !isDigit(expText[0]) || (len(expText) == 2 && !isDigit(expText[1])) {
		return bad("exponent must be one or two digits")
	}

	mantissa, err := strconv.ParseFloat(mantissaText, 64)
	if err != nil {
		return bad(err.Error())
	}
	exp, _ := strconv.Atoi(expText)
	if expNegative {
		exp = -exp
	}

	if mantissa == 0 {
		if exp == 0 {
			return Unavailable, nil
		}
		return Float(0), nil
	}
	if negative {
		mantissa = -mantissa
	}
	return Float(mantissa * math.Pow10(exp)), nil
}

// ParseValues splits a composite numeric reply and decodes each field. Values
// are separated by ',' within one reply and by ';' between replies of a
// command set. The count must equal want.
func ParseValues(reply string, want int) ([]Value, error) {
	fields := splitValues(reply)
	if len(fields) != want {
		return nil, &FieldCountMismatchError{Expected: want, Got: len(fields)}
	}
	values := make([]Value, len(fields))
	for i, f := range fields {
		v, err := ParseNR3(f)
		if err != nil {
			return nil, err
		}
		values[i] = v
	}
	return values, nil
}

// ParseErrorCode decodes the error register reply (an integer 0-10, possibly
// in NR3 form).
func ParseErrorCode(reply string) (int, error) {
	s := strings.TrimSpace(reply)
	if code, err := strconv.Atoi(strings.TrimPrefix(s, "+")); err == nil {
		if code < 0 || code > ErrCodeMax {
			return 0, &MalformedResponseError{Command: KeywordError, Field: reply, Reason: "error code out of range"}
		}
		return code, nil
	}
	v, err := ParseNR3(s)
	if err != nil {
		return 0, &MalformedResponseError{Command: KeywordError, Field: reply, Reason: "not an error code"}
	}
	f, err := v.Float64()
	if err != nil {
		return ErrCodeNone, nil
	}
	if f != math.Trunc(f) || f < 0 || f > ErrCodeMax {
		return 0, &MalformedResponseError{Command: KeywordError, Field: reply, Reason: "error code out of range"}
	}
	return int(f), nil
}

func splitValues(reply string) []string {
	reply = strings.TrimSpace(reply)
	if reply == "" {
		return nil
	}
	return strings.Split(strings.ReplaceAll(reply, CommandSeparator, FieldSeparator), FieldSeparator)
}

func isDigit(c byte) bool {
	return c >= '0' && c <= '9'
}

// FormatNR3 renders a value in the instrument's fixed layout, the inverse of
// ParseNR3. Exact zero is sent as +0.00000E-09.
func FormatNR3(v Value) string {
	f, err := v.Float64()
	if err != nil {
		return "+0.00000E+00"
	}
	if f == 0 {
		return "+0.00000E-09"
	}
	s := strconv.FormatFloat(f, 'E', 5, 64)
	if f > 0 {
		s = "+" + s
	}
	return s
}
