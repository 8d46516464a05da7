// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2026 The aps-m2000-power-analyzer Authors

package m2000

import (
	"errors"
	"strings"
	"testing"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		keyword string
		want    Kind
	}{
		{KeywordIdentify, KindQuery},
		{KeywordError, KindQuery},
		{KeywordRead, KindQuery},
		{KeywordReread, KindQuery},
		{KeywordChannelInfo, KindQuery},
		{KeywordReset, KindCommand},
		{KeywordClear, KindCommand},
		{KeywordLocal, KindCommand},
		{"read?", KindQuery},
		{" *idn? ", KindQuery},
	}

	for _, tt := range tests {
		t.Run(tt.keyword, func(t *testing.T) {
			for i := 0; i < 3; i++ {
				if got := Classify(tt.keyword); got != tt.want {
					t.Fatalf("Classify(%q) = %v, want %v", tt.keyword, got, tt.want)
				}
			}
		})
	}
}

func TestConstructors_Kind(t *testing.T) {
	read, err := Read(Field{Type: TypeVolts})
	if err != nil {
		t.Fatalf("Read failed: %v", err)
	}

	tests := []struct {
		name    string
		cmd     Command
		text    string
		kind    Kind
		replies int
		values  int
	}{
		{"identify", Identify(), "*IDN?", KindQuery, 1, 0},
		{"reset", Reset(), "*RST", KindCommand, 0, 0},
		{"clear", Clear(), "*CLS", KindCommand, 0, 0},
		{"error", ErrorQuery(), "*ERR?", KindQuery, 1, 0},
		{"local", Local(), "LOCAL", KindCommand, 0, 0},
		{"channel info", ChannelInfo("ch2"), "CHINFO?,CH2", KindQuery, 1, 0},
		{"reread", Reread(3), "REREAD?", KindQuery, 1, 3},
		{"read", read, "READ?,VOLTS:CH1", KindQuery, 1, 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.cmd.Text() != tt.text {
				t.Errorf("Text() = %q, want %q", tt.cmd.Text(), tt.text)
			}
			if tt.cmd.Kind() != tt.kind {
				t.Errorf("Kind() = %v, want %v", tt.cmd.Kind(), tt.kind)
			}
			if tt.cmd.Replies() != tt.replies {
				t.Errorf("Replies() = %d, want %d", tt.cmd.Replies(), tt.replies)
			}
			if tt.cmd.Values() != tt.values {
				t.Errorf("Values() = %d, want %d", tt.cmd.Values(), tt.values)
			}
		})
	}
}

func TestField_Encode(t *testing.T) {
	tests := []struct {
		name    string
		field   Field
		want    string
		wantErr bool
	}{
		{"type only", Field{Type: "volts"}, "VOLTS:CH1", false},
		{"with coupling", Field{Type: TypeVolts, Source: "ch1", Coupling: "acdc"}, "VOLTS:CH1:ACDC", false},
		{"secondary source", Field{Type: TypeWatts, Source: "CH1", Source2: "CH2"}, "WATTS:CH1:CH2", false},
		{"harmonic defaults coupling", Field{Type: TypeVolts, Source: "CH3", Harmonic: 5}, "VOLTS:CH3:ACDC:H5", false},
		{"all five", Field{Type: TypeAmps, Source: "CH1", Source2: "CH2", Coupling: "AC", Harmonic: 3}, "AMPS:CH1:CH2:AC:H3", false},
		{"missing type", Field{Source: "CH1"}, "", true},
		{"negative harmonic", Field{Type: TypeVolts, Harmonic: -1}, "", true},
		{"separator in source", Field{Type: TypeVolts, Source: "CH1;*RST"}, "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := tt.field.Encode()
			if (err != nil) != tt.wantErr {
				t.Fatalf("Encode() error = %v, wantErr %v", err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("Encode() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestRead_MultipleFields(t *testing.T) {
	cmd, err := Read(
		Field{Type: TypeVolts, Source: "CH1", Coupling: CouplingACDC},
		Field{Type: TypeAmps, Source: "CH1", Coupling: CouplingACDC},
		Field{Type: TypeWatts, Source: "CH1", Coupling: CouplingACDC},
	)
	if err != nil {
		t.Fatalf("Read failed: %v", err)
	}
	want := "READ?,VOLTS:CH1:ACDC,AMPS:CH1:ACDC,WATTS:CH1:ACDC"
	if cmd.Text() != want {
		t.Errorf("Text() = %q, want %q", cmd.Text(), want)
	}
	if cmd.Values() != 3 {
		t.Errorf("Values() = %d, want 3", cmd.Values())
	}
}

func TestRead_Empty(t *testing.T) {
	if _, err := Read(); !errors.Is(err, ErrEmptyCommand) {
		t.Errorf("Read() error = %v, want ErrEmptyCommand", err)
	}
}

func TestRead_TooLong(t *testing.T) {
	fields := make([]Field, 400)
	for i := range fields {
		fields[i] = Field{Type: TypeVolts, Source: "CH1", Coupling: CouplingACDC}
	}
	if _, err := Read(fields...); !errors.Is(err, ErrCommandTooLong) {
		t.Errorf("Read(400 fields) error = %v, want ErrCommandTooLong", err)
	}
}

func TestJoin(t *testing.T) {
	read, _ := Read(Field{Type: TypeVolts}, Field{Type: TypeAmps})
	set, err := Join(Reset(), Clear(), Identify(), read)
	if err != nil {
		t.Fatalf("Join failed: %v", err)
	}

	if set.Text() != "*RST;*CLS;*IDN?;READ?,VOLTS:CH1,AMPS:CH1" {
		t.Errorf("Text() = %q", set.Text())
	}
	if set.Kind() != KindQuery {
		t.Errorf("Kind() = %v, want query", set.Kind())
	}
	if set.Replies() != 2 {
		t.Errorf("Replies() = %d, want 2", set.Replies())
	}
	if set.Values() != 2 {
		t.Errorf("Values() = %d, want 2", set.Values())
	}
}

func TestJoin_CommandsOnly(t *testing.T) {
	set, err := Join(Reset(), Clear())
	if err != nil {
		t.Fatalf("Join failed: %v", err)
	}
	if set.Kind() != KindCommand {
		t.Errorf("Kind() = %v, want command", set.Kind())
	}
	if set.Replies() != 0 {
		t.Errorf("Replies() = %d, want 0", set.Replies())
	}
}

func TestJoin_Errors(t *testing.T) {
	if _, err := Join(); !errors.Is(err, ErrEmptyCommand) {
		t.Errorf("Join() error = %v, want ErrEmptyCommand", err)
	}
	if _, err := Join(Reset(), Command{}); !errors.Is(err, ErrEmptyCommand) {
		t.Errorf("Join(zero) error = %v, want ErrEmptyCommand", err)
	}

	long, _ := Raw(strings.Repeat("A", 3000))
	if _, err := Join(long, long); !errors.Is(err, ErrCommandTooLong) {
		t.Errorf("Join(long, long) error = %v, want ErrCommandTooLong", err)
	}
}

func TestRaw(t *testing.T) {
	tests := []struct {
		text    string
		kind    Kind
		replies int
	}{
		{"*RST", KindCommand, 0},
		{"*idn?", KindQuery, 1},
		{"*RST;*CLS;*ERR?", KindQuery, 1},
		{"READ?,VOLTS:CH1;*ERR?", KindQuery, 2},
		{"local\r\n", KindCommand, 0},
	}

	for _, tt := range tests {
		t.Run(tt.text, func(t *testing.T) {
			c, err := Raw(tt.text)
			if err != nil {
				t.Fatalf("Raw failed: %v", err)
			}
			if c.Kind() != tt.kind {
				t.Errorf("Kind() = %v, want %v", c.Kind(), tt.kind)
			}
			if c.Replies() != tt.replies {
				t.Errorf("Replies() = %d, want %d", c.Replies(), tt.replies)
			}
		})
	}

	if _, err := Raw("   "); !errors.Is(err, ErrEmptyCommand) {
		t.Errorf("Raw(blank) error = %v, want ErrEmptyCommand", err)
	}
}

func TestKeyword(t *testing.T) {
	tests := map[string]string{
		"READ?,VOLTS:CH1": "READ?",
		"read? volts":     "READ?",
		" *idn? ":         "*IDN?",
		"LOCAL":           "LOCAL",
	}
	for in, want := range tests {
		if got := Keyword(in); got != want {
			t.Errorf("Keyword(%q) = %q, want %q", in, got, want)
		}
	}
}
