// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2026 The aps-m2000-power-analyzer Authors

package m2000

import (
	"fmt"
	"strconv"
	"strings"
)

// Kind tells whether the instrument replies to a command.
type Kind int

const (
	// KindCommand expects no reply. Reading after one desynchronizes the session.
	KindCommand Kind = iota
	// KindQuery expects exactly one terminated reply.
	KindQuery
)

func (k Kind) String() string {
	if k == KindQuery {
		return "query"
	}
	return "command"
}

// Classify returns the kind of a keyword. Queries end in '?'.
func Classify(keyword string) Kind {
	if strings.HasSuffix(strings.TrimSpace(keyword), "?") {
		return KindQuery
	}
	return KindCommand
}

// Command is an immutable command or command set ready for framing.
type Command struct {
	text    string
	kind    Kind
	replies int // reply segments expected (one per query in the set)
	values  int // numeric values expected across the replies, 0 if textual
}

// Text returns the command text without terminator.
func (c Command) Text() string { return c.text }

// Kind returns KindQuery if any part of the set expects a reply.
func (c Command) Kind() Kind { return c.kind }

// Replies returns the number of semicolon-joined reply segments expected.
func (c Command) Replies() int { return c.replies }

// Values returns the number of numeric values expected, or 0 for textual replies.
func (c Command) Values() int { return c.values }

func (c Command) String() string { return c.text }

func newCommand(keyword string, args ...string) Command {
	text := keyword
	if len(args) > 0 {
		text += FieldSeparator + strings.Join(args, FieldSeparator)
	}
	kind := Classify(keyword)
	replies := 0
	if kind == KindQuery {
		replies = 1
	}
	return Command{text: text, kind: kind, replies: replies}
}

// Identify creates the identification query (*IDN?).
func Identify() Command { return newCommand(KeywordIdentify) }

// Reset creates the reset command (*RST). No reply.
func Reset() Command { return newCommand(KeywordReset) }

// Clear creates the clear command (*CLS). No reply.
func Clear() Command { return newCommand(KeywordClear) }

// ErrorQuery creates the error register query (*ERR?).
func ErrorQuery() Command { return newCommand(KeywordError) }

// Local creates the return-to-local-control command. No reply.
func Local() Command { return newCommand(KeywordLocal) }

// ChannelInfo creates the channel-info query for one channel.
func ChannelInfo(channel string) Command {
	return newCommand(KeywordChannelInfo, strings.ToUpper(channel))
}

// Read creates a measurement read query for the given fields.
// The reply carries one NR3 value per field, in order.
func Read(fields ...Field) (Command, error) {
	if len(fields) == 0 {
		return Command{}, fmt.Errorf("read: %w", ErrEmptyCommand)
	}
	args := make([]string, len(fields))
	for i, f := range fields {
		s, err := f.Encode()
		if err != nil {
			return Command{}, fmt.Errorf("read field %d: %w", i, err)
		}
		args[i] = s
	}
	c := newCommand(KeywordRead, args...)
	c.values = len(fields)
	if len(c.text)+len(Terminator) > MaxCommandLength {
		return Command{}, ErrCommandTooLong
	}
	return c, nil
}

// Reread creates the repeat-read query. The instrument re-executes the last
// READ? field set, so n must match that set's field count.
func Reread(n int) Command {
	c := newCommand(KeywordReread)
	c.values = n
	return c
}

// Raw wraps caller-supplied text. Each semicolon-separated part is classified
// by its own keyword.
func Raw(text string) (Command, error) {
	text = strings.TrimRight(strings.TrimSpace(text), "\r\n\f\x00")
	if text == "" {
		return Command{}, ErrEmptyCommand
	}
	if len(text)+len(Terminator) > MaxCommandLength {
		return Command{}, ErrCommandTooLong
	}
	c := Command{text: text, kind: KindCommand}
	for _, part := range strings.Split(text, CommandSeparator) {
		if Classify(Keyword(part)) == KindQuery {
			c.kind = KindQuery
			c.replies++
		}
	}
	return c, nil
}

// Keyword extracts the leading keyword of a single command, upper-cased.
func Keyword(text string) string {
	text = strings.TrimSpace(text)
	if i := strings.IndexAny(text, " ,:"); i >= 0 {
		text = text[:i]
	}
	return strings.ToUpper(text)
}

// Join coalesces commands into one semicolon-joined transmission. If the
// instrument reports an error afterwards, the failing part cannot be identified.
func Join(cmds ...Command) (Command, error) {
	if len(cmds) == 0 {
		return Command{}, ErrEmptyCommand
	}
	parts := make([]string, len(cmds))
	set := Command{kind: KindCommand}
	for i, c := range cmds {
		if c.text == "" {
			return Command{}, fmt.Errorf("join part %d: %w", i, ErrEmptyCommand)
		}
		parts[i] = c.text
		if c.kind == KindQuery {
			set.kind = KindQuery
		}
		set.replies += c.replies
		set.values += c.values
	}
	set.text = strings.Join(parts, CommandSeparator)
	if len(set.text)+len(Terminator) > MaxCommandLength {
		return Command{}, ErrCommandTooLong
	}
	return set, nil
}

// Field is one measurement request inside READ?. Empty sub-fields take their
// defaults; trailing defaults are omitted from the wire.
type Field struct {
	Type     string // required, e.g. VOLTS
	Source   string // defaults to CH1
	Source2  string // secondary source, optional
	Coupling string // coupling or statistic type, optional
	Harmonic int    // harmonic index, 0 = none
}

// Encode renders the colon-joined sub-fields.
func (f Field) Encode() (string, error) {
	if f.Type == "" {
		return "", fmt.Errorf("field: measurement type required")
	}
	if f.Harmonic < 0 {
		return "", fmt.Errorf("field: negative harmonic %d", f.Harmonic)
	}
	source := f.Source
	if source == "" {
		source = "CH1"
	}
	parts := []string{strings.ToUpper(f.Type), strings.ToUpper(source)}
	if f.Source2 != "" {
		parts = append(parts, strings.ToUpper(f.Source2))
	}
	if f.Coupling != "" {
		parts = append(parts, strings.ToUpper(f.Coupling))
	} else if f.Harmonic > 0 {
		parts = append(parts, CouplingACDC)
	}
	if f.Harmonic > 0 {
		parts = append(parts, "H"+strconv.Itoa(f.Harmonic))
	}
	for _, p := range parts {
		if strings.ContainsAny(p, ",:; \r\n") {
			return "", fmt.Errorf("field: sub-field %q contains a separator", p)
		}
	}
	return strings.Join(parts, SubFieldSeparator), nil
}

// Channel returns the source with its default applied.
func (f Field) Channel() string {
	if f.Source == "" {
		return "CH1"
	}
	return strings.ToUpper(f.Source)
}

func (f Field) String() string {
	s, err := f.Encode()
	if err != nil {
		return "<invalid field>"
	}
	return s
}
