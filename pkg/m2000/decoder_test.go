// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2026 The aps-m2000-power-analyzer Authors

package m2000

import (
	"strings"
	"testing"
)

func TestDecoder_SingleReply(t *testing.T) {
	d := NewDecoder()
	lines, n, err := d.Decode([]byte("APS,M2000,12345,1.07\r\n"))
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	if n != 22 {
		t.Errorf("consumed = %d, want 22", n)
	}
	if len(lines) != 1 || lines[0] != "APS,M2000,12345,1.07" {
		t.Errorf("lines = %q", lines)
	}
}

func TestDecoder_AnyTerminator(t *testing.T) {
	for _, term := range []string{"\n", "\r", "\f", "\x00", "\r\n", "\n\r"} {
		d := NewDecoder()
		lines, _, err := d.Decode([]byte("0" + term + "1" + term))
		if err != nil {
			t.Fatalf("Decode(%q) failed: %v", term, err)
		}
		if len(lines) != 2 || lines[0] != "0" || lines[1] != "1" {
			t.Errorf("terminator %q: lines = %q, want [0 1]", term, lines)
		}
	}
}

func TestDecoder_ByteAtATime(t *testing.T) {
	d := NewDecoder()
	input := "+1.00000E+00,+2.50000E-03\r\n"

	var got []string
	for i := 0; i < len(input); i++ {
		line, ok, err := d.DecodeByte(input[i])
		if err != nil {
			t.Fatalf("DecodeByte(%d) failed: %v", i, err)
		}
		if ok {
			got = append(got, line)
		}
		if i == 5 && d.Partial() != input[:6] {
			t.Errorf("Partial() = %q, want %q", d.Partial(), input[:6])
		}
	}
	if len(got) != 1 || got[0] != "+1.00000E+00,+2.50000E-03" {
		t.Errorf("got = %q", got)
	}
}

func TestDecoder_RawBytes(t *testing.T) {
	d := NewDecoder()
	d.Decode([]byte("\r\nAB"))
	if string(d.GetRawBytes()) != "AB" {
		t.Errorf("GetRawBytes() = %q, want \"AB\"", d.GetRawBytes())
	}
	d.Reset()
	if len(d.GetRawBytes()) != 0 || d.Partial() != "" {
		t.Error("Reset() should clear buffers")
	}
}

func TestDecoder_Overflow(t *testing.T) {
	d := NewDecoder()
	_, _, err := d.Decode([]byte(strings.Repeat("1", MaxResponseLength+1)))
	if err == nil {
		t.Fatal("expected overflow error")
	}
	// Decoder recovers on the next reply
	lines, _, err := d.Decode([]byte("0\n"))
	if err != nil || len(lines) != 1 || lines[0] != "0" {
		t.Errorf("after overflow: lines = %q, err = %v", lines, err)
	}
}

func TestDecoder_NonASCII(t *testing.T) {
	d := NewDecoder()
	_, n, err := d.Decode([]byte{'1', 0xC3, '2', '\n'})
	if err == nil {
		t.Fatal("expected error for non-ASCII byte")
	}
	if n != 2 {
		t.Errorf("consumed = %d, want 2", n)
	}
}
