// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2026 The aps-m2000-power-analyzer Authors

// Package session owns one transport to one M2000 and runs the strictly
// half-duplex command/reply exchange over it.
package session

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/bob10042/aps-m2000-power-analyzer/pkg/m2000"
	"github.com/bob10042/aps-m2000-power-analyzer/pkg/transport"
)

// DefaultQueryTimeout is the total budget for one reply.
const DefaultQueryTimeout = 5 * time.Second

// DefaultSettle is the pause between *CLS and the first query on connect.
const DefaultSettle = 100 * time.Millisecond

// State of the protocol engine
type State int

const (
	StateDisconnected State = iota
	StateConnecting
	StateReady
	StateQuerying
	StateError
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateReady:
		return "ready"
	case StateQuerying:
		return "querying"
	case StateError:
		return "error"
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// Status is the connection signal published to user interfaces.
type Status string

const (
	StatusConnecting   Status = "connecting"
	StatusConnected    Status = "connected"
	StatusFailed       Status = "failed"
	StatusDisconnected Status = "disconnected"
)

// StatusHandler receives connection status changes. err is set for StatusFailed.
type StatusHandler func(status Status, err error)

// Observer receives the outcome of every exchange.
type Observer interface {
	ObserveExchange(keyword string, kind m2000.Kind, elapsed time.Duration, err error)
}

// Dialer opens the transport on Connect.
type Dialer func(ctx context.Context) (transport.Transport, error)

// Response is the reply to one query or command set.
type Response struct {
	Command m2000.Command
	Line    string   // deframed reply
	Replies []string // one per query in the set, in order
	Elapsed time.Duration
}

// Values decodes the numeric fields of the reply.
func (r Response) Values() ([]m2000.Value, error) {
	values, err := m2000.ParseValues(r.Line, r.Command.Values())
	if err != nil {
		var mismatch *m2000.FieldCountMismatchError
		var malformed *m2000.MalformedResponseError
		switch {
		case errors.As(err, &mismatch):
			mismatch.Command = m2000.Keyword(r.Command.Text())
		case errors.As(err, &malformed):
			malformed.Command = m2000.Keyword(r.Command.Text())
		}
		return nil, err
	}
	return values, nil
}

// Session is the protocol engine for one instrument.
type Session struct {
	mu       sync.Mutex
	dial     Dialer
	t        transport.Transport
	dec      *m2000.Decoder
	buf      []byte
	state    State
	dialing  bool // handshake in progress; Connect reports failures itself
	desynced bool
	identity string
	last     string // text of the last command set written

	log      *logrus.Entry
	timeout  time.Duration
	settle   time.Duration
	onStatus StatusHandler
	observer Observer
}

// Option configures a Session
type Option func(*Session)

// WithLogger sets the session logger.
func WithLogger(log *logrus.Entry) Option {
	return func(s *Session) { s.log = log }
}

// WithQueryTimeout sets the total budget for one reply.
func WithQueryTimeout(d time.Duration) Option {
	return func(s *Session) { s.timeout = d }
}

// WithSettle sets the pause between *CLS and *IDN? on connect.
func WithSettle(d time.Duration) Option {
	return func(s *Session) { s.settle = d }
}

// WithStatusHandler registers a connection status callback.
func WithStatusHandler(h StatusHandler) Option {
	return func(s *Session) { s.onStatus = h }
}

// WithObserver registers an exchange observer, e.g. a metrics collector.
func WithObserver(o Observer) Option {
	return func(s *Session) { s.observer = o }
}

// WithDialer replaces the transport opener.
func WithDialer(d Dialer) Option {
	return func(s *Session) { s.dial = d }
}

// New creates a disconnected session for the configured transport.
func New(cfg transport.Config, opts ...Option) *Session {
	s := &Session{
		dec:     m2000.NewDecoder(),
		buf:     make([]byte, 256),
		state:   StateDisconnected,
		timeout: DefaultQueryTimeout,
		settle:  DefaultSettle,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.log == nil {
		l := logrus.New()
		l.SetOutput(io.Discard)
		s.log = logrus.NewEntry(l)
	}
	if s.dial == nil {
		log := s.log
		s.dial = func(ctx context.Context) (transport.Transport, error) {
			return transport.Open(ctx, cfg, log)
		}
	}
	return s
}

// State returns the engine state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Identity returns the *IDN? reply captured on connect.
func (s *Session) Identity() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.identity
}

// Endpoint describes the open transport, or "" when disconnected.
func (s *Session) Endpoint() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.t == nil {
		return ""
	}
	return s.t.String()
}

func (s *Session) notify(status Status, err error) {
	if s.onStatus != nil {
		s.onStatus(status, err)
	}
}

// Connect opens the transport, resets and clears the instrument, and checks
// that it identifies as an APS analyzer.
func (s *Session) Connect(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != StateDisconnected && s.state != StateError {
		return &m2000.ProtocolError{Message: "connect while " + s.state.String()}
	}
	if s.t != nil {
		s.closeLocked()
	}

	s.state = StateConnecting
	s.notify(StatusConnecting, nil)

	t, err := s.dial(ctx)
	if err != nil {
		s.state = StateDisconnected
		var connErr *m2000.ConnectionError
		if !errors.As(err, &connErr) {
			err = &m2000.ConnectionError{Transport: "dial", Err: err}
		}
		s.notify(StatusFailed, err)
		return err
	}
	s.t = t
	s.dec.Reset()
	s.desynced = false
	s.log = s.log.WithField("endpoint", t.String())

	s.dialing = true
	err = s.connectLocked(ctx)
	s.dialing = false
	if err != nil {
		s.closeLocked()
		s.state = StateDisconnected
		s.notify(StatusFailed, err)
		return err
	}

	s.state = StateReady
	s.log.WithField("identity", s.identity).Info("connected")
	s.notify(StatusConnected, nil)
	return nil
}

func (s *Session) connectLocked(ctx context.Context) error {
	for _, c := range []m2000.Command{m2000.Reset(), m2000.Clear()} {
		if err := s.writeLocked(c); err != nil {
			return err
		}
	}
	if s.settle > 0 {
		select {
		case <-time.After(s.settle):
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	resp, err := s.exchangeLocked(ctx, m2000.Identify())
	if err != nil {
		return err
	}
	if !strings.Contains(resp.Line, m2000.VendorMarker) {
		return &m2000.IdentificationError{Reply: resp.Line}
	}
	s.identity = resp.Line
	return nil
}

// Send transmits a command or query. A command is written and never
// followed by a read; a query waits for its reply.
func (s *Session) Send(ctx context.Context, cmd m2000.Command) (Response, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateReady {
		return Response{}, fmt.Errorf("send %q: %w", cmd.Text(), m2000.ErrNotReady)
	}
	if cmd.Kind() == m2000.KindCommand {
		start := time.Now()
		err := s.writeLocked(cmd)
		s.observe(cmd, time.Since(start), err)
		return Response{Command: cmd}, err
	}
	return s.exchangeLocked(ctx, cmd)
}

// Query sends a query and returns its reply.
func (s *Session) Query(ctx context.Context, cmd m2000.Command) (Response, error) {
	if cmd.Kind() != m2000.KindQuery {
		return Response{}, &m2000.ProtocolError{Command: cmd.Text(), Message: "not a query"}
	}
	return s.Send(ctx, cmd)
}

// Batch joins commands into one transmission. If the instrument reports an
// error afterwards, the failing part of the set cannot be identified.
func (s *Session) Batch(ctx context.Context, cmds ...m2000.Command) (Response, error) {
	set, err := m2000.Join(cmds...)
	if err != nil {
		return Response{}, err
	}
	return s.Send(ctx, set)
}

// CheckError reads the error register. A non-zero code is returned as
// *m2000.InstrumentError naming the command set that preceded the poll.
func (s *Session) CheckError(ctx context.Context) error {
	s.mu.Lock()
	last := s.last
	s.mu.Unlock()

	resp, err := s.Query(ctx, m2000.ErrorQuery())
	if err != nil {
		return err
	}
	code, err := m2000.ParseErrorCode(resp.Line)
	if err != nil {
		return err
	}
	if code != m2000.ErrCodeNone {
		return &m2000.InstrumentError{Code: code, Command: last}
	}
	return nil
}

// ChannelInfo returns the module description of one channel.
func (s *Session) ChannelInfo(ctx context.Context, channel string) (string, error) {
	resp, err := s.Query(ctx, m2000.ChannelInfo(channel))
	if err != nil {
		return "", err
	}
	return resp.Line, nil
}

// Disconnect returns the instrument to front-panel control and closes the
// transport. It is safe to call in any state and never fails.
func (s *Session) Disconnect() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.t == nil {
		s.state = StateDisconnected
		return
	}
	// Attempted in every state, including after a transport failure
	if frame, err := m2000.Frame(m2000.Local()); err == nil {
		if _, err := s.t.Write(frame); err != nil {
			s.log.WithError(err).Debug("LOCAL not delivered")
		}
	}
	s.closeLocked()
	s.state = StateDisconnected
	s.log.Info("disconnected")
	s.notify(StatusDisconnected, nil)
}

func (s *Session) closeLocked() {
	if err := s.t.Close(); err != nil {
		s.log.WithError(err).Debug("transport close failed")
	}
	s.t = nil
}

// writeLocked frames and writes one command set, draining stale input first
// if an earlier reply was abandoned.
func (s *Session) writeLocked(cmd m2000.Command) error {
	frame, err := m2000.Frame(cmd)
	if err != nil {
		return err
	}
	if s.desynced {
		if d, ok := s.t.(transport.Drainer); ok {
			if err := d.Drain(); err != nil {
				s.log.WithError(err).Warn("failed to drain stale input")
			}
		}
		s.desynced = false
	}
	s.dec.Reset()

	s.log.WithField("tx", cmd.Text()).Debug("write")
	if _, err := s.t.Write(frame); err != nil {
		return s.fail(err)
	}
	s.last = cmd.Text()
	return nil
}

// fail records an unrecoverable transport error
func (s *Session) fail(err error) error {
	s.state = StateError
	connErr := &m2000.ConnectionError{Transport: s.t.String(), Err: err}
	s.log.WithError(err).Error("transport failed")
	if !s.dialing {
		s.notify(StatusFailed, connErr)
	}
	return connErr
}

func (s *Session) observe(cmd m2000.Command, elapsed time.Duration, err error) {
	if s.observer != nil {
		s.observer.ObserveExchange(m2000.Keyword(cmd.Text()), cmd.Kind(), elapsed, err)
	}
}

// exchangeLocked writes a query and reads its terminated reply
func (s *Session) exchangeLocked(ctx context.Context, cmd m2000.Command) (Response, error) {
	start := time.Now()
	if err := s.writeLocked(cmd); err != nil {
		s.observe(cmd, time.Since(start), err)
		return Response{}, err
	}

	prev := s.state
	s.state = StateQuerying
	line, err := s.readLocked(ctx, cmd)
	if s.state == StateQuerying {
		s.state = prev
	}
	elapsed := time.Since(start)
	s.observe(cmd, elapsed, err)
	if err != nil {
		return Response{}, err
	}

	s.log.WithFields(logrus.Fields{"rx": line, "elapsed": elapsed}).Debug("reply")
	resp := Response{Command: cmd, Line: line, Replies: m2000.SplitReplies(line), Elapsed: elapsed}
	// Numeric values may come back joined by ';' as well as ','; their count
	// is checked by Response.Values.
	if cmd.Values() == 0 && len(resp.Replies) != cmd.Replies() {
		return resp, &m2000.ProtocolError{
			Command: cmd.Text(),
			Message: fmt.Sprintf("expected %d replies, got %d", cmd.Replies(), len(resp.Replies)),
		}
	}
	return resp, nil
}

// readLocked polls the transport until a terminated reply arrives, the
// budget runs out, or ctx is done
func (s *Session) readLocked(ctx context.Context, cmd m2000.Command) (string, error) {
	deadline := time.Now().Add(s.timeout)
	for {
		if err := ctx.Err(); err != nil {
			s.desynced = true
			return "", fmt.Errorf("query %q abandoned: %w", cmd.Text(), err)
		}
		if time.Now().After(deadline) {
			s.desynced = true
			err := &m2000.TimeoutError{Command: cmd.Text(), Budget: s.timeout, Partial: s.dec.Partial()}
			entry := s.log.WithError(err)
			if _, ok := s.t.(*transport.Serial); ok {
				entry = entry.WithField("hint", "check DTR and RTS/CTS handshake")
			}
			entry.Warn("query timed out")
			return "", err
		}

		n, err := s.t.Read(s.buf)
		if err != nil {
			return "", s.fail(err)
		}
		if n == 0 {
			continue
		}
		lines, _, err := s.dec.Decode(s.buf[:n])
		if err != nil {
			s.desynced = true
			return "", &m2000.MalformedResponseError{Command: cmd.Text(), Field: s.dec.Partial(), Reason: err.Error()}
		}
		if len(lines) > 0 {
			if len(lines) > 1 || len(s.dec.Partial()) > 0 {
				// Bytes after the reply belong to nothing we asked for
				s.desynced = true
				s.log.WithField("extra", lines[1:]).Warn("unsolicited data after reply")
			}
			return m2000.Deframe([]byte(lines[0])), nil
		}
	}
}
