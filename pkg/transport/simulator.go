// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2026 The aps-m2000-power-analyzer Authors

package transport

import (
	"errors"
	"math"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/bob10042/aps-m2000-power-analyzer/pkg/m2000"
)

// ErrClosed is returned by a closed simulator
var ErrClosed = errors.New("transport closed")

// DefaultIdentity is the simulator's *IDN? reply
const DefaultIdentity = "APS,M2000,SIM00001,1.0.0"

// errCodeInterface is raised for unknown keywords and REREAD? without a field set
const errCodeInterface = 1

// simulated readings per measurement type
var simBase = map[string]float64{
	m2000.TypeVolts: 230.0,
	m2000.TypeAmps:  1.25,
	m2000.TypeWatts: 280.0,
	m2000.TypeVA:    287.5,
	m2000.TypeVAR:   62.0,
	m2000.TypePF:    0.974,
	m2000.TypeFreq:  50.0,
	m2000.TypePhase: 12.5,
	m2000.TypeTHD:   2.1,
	m2000.TypeCF:    1.41,
	m2000.TypeFF:    1.11,
}

// SimOption configures a Simulator
type SimOption func(*Simulator)

// WithIdentity sets the *IDN? reply.
func WithIdentity(id string) SimOption {
	return func(s *Simulator) { s.identity = id }
}

// WithLatency delays every reply.
func WithLatency(d time.Duration) SimOption {
	return func(s *Simulator) { s.latency = d }
}

// WithValue fixes the reading of a TYPE:SOURCE pair, e.g. "VOLTS:CH1".
func WithValue(key string, v float64) SimOption {
	return func(s *Simulator) { s.values[strings.ToUpper(key)] = m2000.Float(v) }
}

// WithUnavailable makes a TYPE:SOURCE pair report the unavailable marker.
func WithUnavailable(key string) SimOption {
	return func(s *Simulator) { s.values[strings.ToUpper(key)] = m2000.Unavailable }
}

// WithSilent suppresses replies to a keyword, as if the instrument hung.
func WithSilent(keyword string) SimOption {
	return func(s *Simulator) { s.silent[strings.ToUpper(keyword)] = true }
}

// WithValueSeparator sets the separator between values of a READ? or
// REREAD? reply. The default is ','.
func WithValueSeparator(sep string) SimOption {
	return func(s *Simulator) { s.valueSep = sep }
}

// WithFailure makes a keyword raise an error code and abort the rest of its
// command set.
func WithFailure(keyword string, code int) SimOption {
	return func(s *Simulator) { s.failures[strings.ToUpper(keyword)] = code }
}

type simReply struct {
	data    []byte
	readyAt time.Time
}

// Simulator is an in-process M2000. It answers the identification, error,
// READ?, REREAD? and CHINFO? queries and follows the instrument's rules for
// command sets: replies are ';'-joined, and an error stops the set.
type Simulator struct {
	mu       sync.Mutex
	identity string
	latency  time.Duration
	values   map[string]m2000.Value
	silent   map[string]bool
	failures map[string]int
	valueSep string

	inbuf   []byte
	out     []simReply
	writes  []string
	reads   int
	errCode int
	fields  []string // last READ? set, replayed by REREAD?
	cycle   int
	remote  bool
	closed  bool
}

// NewSimulator creates an idle simulated instrument.
func NewSimulator(opts ...SimOption) *Simulator {
	s := &Simulator{
		identity: DefaultIdentity,
		valueSep: m2000.FieldSeparator,
		values:   make(map[string]m2000.Value),
		silent:   make(map[string]bool),
		failures: make(map[string]int),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Simulator) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return 0, ErrClosed
	}

	s.inbuf = append(s.inbuf, p...)
	for {
		i := indexTerminator(s.inbuf)
		if i < 0 {
			break
		}
		line := string(s.inbuf[:i])
		s.inbuf = s.inbuf[i+1:]
		if line == "" {
			continue
		}
		s.writes = append(s.writes, line)
		s.execute(line)
	}
	return len(p), nil
}

func indexTerminator(b []byte) int {
	for i, c := range b {
		if c == m2000.LF || c == m2000.CR || c == m2000.FF || c == m2000.NUL {
			return i
		}
	}
	return -1
}

// execute runs one command set and queues its reply
func (s *Simulator) execute(line string) {
	s.remote = true
	var replies []string
	quiet := false

	for _, part := range strings.Split(line, m2000.CommandSeparator) {
		part = strings.TrimSpace(part)
		kw := m2000.Keyword(part)
		if code, ok := s.failures[kw]; ok {
			s.errCode = code
			break
		}
		if s.silent[kw] {
			quiet = true
		}

		stop := false
		switch kw {
		case m2000.KeywordReset:
			s.fields = nil
			s.errCode = m2000.ErrCodeNone
		case m2000.KeywordClear:
			s.errCode = m2000.ErrCodeNone
		case m2000.KeywordIdentify:
			replies = append(replies, s.identity)
		case m2000.KeywordError:
			replies = append(replies, strconv.Itoa(s.errCode))
			s.errCode = m2000.ErrCodeNone
		case m2000.KeywordRead:
			fields, ok := parseReadFields(part)
			if !ok {
				s.errCode = m2000.ErrCodeOutOfRange
				stop = true
				break
			}
			s.fields = fields
			replies = append(replies, s.readings())
		case m2000.KeywordReread:
			if len(s.fields) == 0 {
				s.errCode = errCodeInterface
				stop = true
				break
			}
			replies = append(replies, s.readings())
		case m2000.KeywordChannelInfo:
			ch := strings.TrimLeft(part[len(kw):], ", ")
			replies = append(replies, strings.ToUpper(ch)+",PM1000+,ACTIVE")
		case m2000.KeywordLocal:
			s.remote = false
		default:
			s.errCode = errCodeInterface
			stop = true
		}
		if stop {
			break
		}
	}

	if quiet || len(replies) == 0 {
		return
	}
	data := strings.Join(replies, m2000.CommandSeparator) + m2000.Terminator
	s.out = append(s.out, simReply{data: []byte(data), readyAt: time.Now().Add(s.latency)})
}

// parseReadFields validates the READ? argument list and returns the
// TYPE:SOURCE keys
func parseReadFields(part string) ([]string, bool) {
	i := strings.Index(part, m2000.FieldSeparator)
	if i < 0 {
		return nil, false
	}
	args := strings.Split(part[i+1:], m2000.FieldSeparator)
	keys := make([]string, 0, len(args))
	for _, arg := range args {
		sub := strings.Split(strings.ToUpper(strings.TrimSpace(arg)), m2000.SubFieldSeparator)
		if len(sub) == 0 || len(sub) > m2000.MaxSubFields {
			return nil, false
		}
		if _, ok := simBase[sub[0]]; !ok {
			return nil, false
		}
		source := "CH1"
		if len(sub) > 1 && sub[1] != "" {
			source = sub[1]
		}
		if !knownChannel(source) {
			return nil, false
		}
		keys = append(keys, sub[0]+m2000.SubFieldSeparator+source)
	}
	return keys, true
}

func knownChannel(ch string) bool {
	for _, c := range m2000.Channels {
		if c == ch {
			return true
		}
	}
	return false
}

// readings renders the current field set; caller holds mu
func (s *Simulator) readings() string {
	s.cycle++
	out := make([]string, len(s.fields))
	for i, key := range s.fields {
		v, ok := s.values[key]
		if !ok {
			typ := key[:strings.Index(key, m2000.SubFieldSeparator)]
			ripple := 1 + 0.002*math.Sin(float64(s.cycle+i)/3)
			v = m2000.Float(simBase[typ] * ripple)
		}
		out[i] = m2000.FormatNR3(v)
	}
	return strings.Join(out, s.valueSep)
}

func (s *Simulator) Read(p []byte) (int, error) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return 0, ErrClosed
	}
	s.reads++
	n, wait := s.take(p)
	s.mu.Unlock()
	if n > 0 {
		return n, nil
	}

	time.Sleep(wait)

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return 0, ErrClosed
	}
	n, _ = s.take(p)
	return n, nil
}

// take copies ready reply bytes into p, or reports how long to wait
func (s *Simulator) take(p []byte) (int, time.Duration) {
	if len(s.out) == 0 {
		return 0, PollInterval
	}
	head := &s.out[0]
	if wait := time.Until(head.readyAt); wait > 0 {
		if wait > PollInterval {
			wait = PollInterval
		}
		return 0, wait
	}
	n := copy(p, head.data)
	head.data = head.data[n:]
	if len(head.data) == 0 {
		s.out = s.out[1:]
	}
	return n, 0
}

// Drain discards queued replies.
func (s *Simulator) Drain() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.out = nil
	return nil
}

func (s *Simulator) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

func (s *Simulator) String() string {
	return "Simulator: " + s.identity
}

// Writes returns every command set received, without terminators.
func (s *Simulator) Writes() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.writes...)
}

// Reads returns how many times Read was called.
func (s *Simulator) Reads() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.reads
}

// SetErrorCode loads the error register.
func (s *Simulator) SetErrorCode(code int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.errCode = code
}

// SetValue fixes the reading of a TYPE:SOURCE pair.
func (s *Simulator) SetValue(key string, v m2000.Value) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.values[strings.ToUpper(key)] = v
}

// Remote reports whether the instrument is under remote control.
func (s *Simulator) Remote() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.remote
}

// Closed reports whether Close was called.
func (s *Simulator) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}
