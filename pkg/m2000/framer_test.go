// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2026 The aps-m2000-power-analyzer Authors

package m2000

import (
	"bytes"
	"errors"
	"strings"
	"testing"
)

func TestFrame_AppendsCRLF(t *testing.T) {
	tests := []struct {
		name string
		text string
		want string
	}{
		{"plain", "*RST", "*RST\r\n"},
		{"already terminated", "*RST\r\n", "*RST\r\n"},
		{"bare LF replaced", "*IDN?\n", "*IDN?\r\n"},
		{"bare CR replaced", "*IDN?\r", "*IDN?\r\n"},
		{"command set", "*RST;*CLS", "*RST;*CLS\r\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := FrameText(tt.text)
			if err != nil {
				t.Fatalf("FrameText failed: %v", err)
			}
			if string(got) != tt.want {
				t.Errorf("FrameText(%q) = %q, want %q", tt.text, got, tt.want)
			}
		})
	}
}

func TestFrame_Errors(t *testing.T) {
	if _, err := FrameText(""); !errors.Is(err, ErrEmptyCommand) {
		t.Errorf("FrameText(\"\") error = %v, want ErrEmptyCommand", err)
	}
	if _, err := FrameText(strings.Repeat("X", MaxCommandLength)); !errors.Is(err, ErrCommandTooLong) {
		t.Errorf("FrameText(4095 chars) error = %v, want ErrCommandTooLong", err)
	}
	if _, err := FrameText("READ?\x01"); err == nil {
		t.Error("FrameText with control byte should fail")
	}
}

func TestFrame_MaxLength(t *testing.T) {
	text := strings.Repeat("X", MaxCommandLength-len(Terminator))
	frame, err := FrameText(text)
	if err != nil {
		t.Fatalf("FrameText at limit failed: %v", err)
	}
	if len(frame) != MaxCommandLength {
		t.Errorf("len(frame) = %d, want %d", len(frame), MaxCommandLength)
	}
}

func TestDeframe_RoundTrip(t *testing.T) {
	read, _ := Read(Field{Type: TypeVolts, Source: "CH1", Coupling: CouplingACDC})
	set, _ := Join(Reset(), Clear(), Identify())
	for _, c := range []Command{Identify(), Reset(), read, set, Reread(1), Local()} {
		frame, err := Frame(c)
		if err != nil {
			t.Fatalf("Frame(%q) failed: %v", c, err)
		}
		if got := Deframe(frame); got != c.Text() {
			t.Errorf("Deframe(Frame(%q)) = %q", c.Text(), got)
		}
	}
}

func TestDeframe_AcceptsAllTerminators(t *testing.T) {
	for _, raw := range []string{"0\n", "0\r", "0\f", "0\x00", "0\r\n", "0\n\r\x00"} {
		if got := Deframe([]byte(raw)); got != "0" {
			t.Errorf("Deframe(%q) = %q, want \"0\"", raw, got)
		}
	}
}

func TestSplitReplies(t *testing.T) {
	got := SplitReplies("APS,M2000,1234,1.0; 0 ;+1.00000E+00")
	want := []string{"APS,M2000,1234,1.0", "0", "+1.00000E+00"}
	if len(got) != len(want) {
		t.Fatalf("SplitReplies len = %d, want %d", len(got), len(want))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("SplitReplies[%d] = %q, want %q", i, got[i], want[i])
		}
	}
}

func TestChunkReports(t *testing.T) {
	data := []byte(strings.Repeat("A", 130))
	reports := ChunkReports(data, HIDReportSize)

	if len(reports) != 3 {
		t.Fatalf("len(reports) = %d, want 3", len(reports))
	}
	for i, r := range reports {
		if len(r) != HIDReportSize {
			t.Errorf("report %d size = %d, want %d", i, len(r), HIDReportSize)
		}
		if r[0] != HIDReportID {
			t.Errorf("report %d ID = 0x%02X, want 0x%02X", i, r[0], HIDReportID)
		}
	}
	// 63 + 63 + 4
	if got := ReportPayload(reports[2]); len(got) != 4 {
		t.Errorf("last report payload = %d bytes, want 4", len(got))
	}
}

func TestChunkReports_Reassemble(t *testing.T) {
	read, _ := Read(
		Field{Type: TypeVolts, Source: "CH1", Coupling: CouplingACDC},
		Field{Type: TypeAmps, Source: "CH2", Coupling: CouplingACDC},
		Field{Type: TypeWatts, Source: "CH3", Coupling: CouplingACDC},
		Field{Type: TypeFreq, Source: "CH4"},
	)
	frame, _ := Frame(read)

	var joined []byte
	for _, r := range ChunkReports(frame, HIDReportSize) {
		joined = append(joined, ReportPayload(r)...)
	}
	if !bytes.Equal(joined, frame) {
		t.Errorf("reassembled = %q, want %q", joined, frame)
	}
}

func TestReportPayload(t *testing.T) {
	tests := []struct {
		name   string
		report []byte
		want   string
	}{
		{"empty", nil, ""},
		{"id only", []byte{0}, ""},
		{"nul padded", append([]byte{0, 'A', 'P', 'S', '\r', '\n'}, make([]byte, 58)...), "APS\r\n"},
		{"stops at non-ascii", []byte{0, '1', 0xFF, '2'}, "1"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := string(ReportPayload(tt.report)); got != tt.want {
				t.Errorf("ReportPayload() = %q, want %q", got, tt.want)
			}
		})
	}
}
