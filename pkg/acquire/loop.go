// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2026 The aps-m2000-power-analyzer Authors

// Package acquire runs rate-paced measurement cycles against a connected
// session and turns each reply into a record.
package acquire

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/bob10042/aps-m2000-power-analyzer/pkg/m2000"
	"github.com/bob10042/aps-m2000-power-analyzer/pkg/session"
)

// Loop states
type State int

const (
	StateIdle State = iota
	StateArmed
	StateSampling
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateArmed:
		return "armed"
	case StateSampling:
		return "sampling"
	case StateStopped:
		return "stopped"
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// MaxRate is the highest sample rate accepted, in Hz.
const MaxRate = 100.0

// Session is the part of *session.Session the loop drives.
type Session interface {
	Query(ctx context.Context, cmd m2000.Command) (session.Response, error)
	CheckError(ctx context.Context) error
	Disconnect()
}

// Handler receives every record, valid or not. A handler error is logged
// and does not stop the loop.
type Handler func(rec m2000.Record) error

// Config bounds a run. Zero Duration and zero MaxSamples run until cancelled.
type Config struct {
	Rate       float64 // requested cycles per second
	Duration   time.Duration
	MaxSamples int
}

// Interval returns the requested time between cycle starts.
func (c Config) Interval() time.Duration {
	return time.Duration(float64(time.Second) / c.Rate)
}

// Validate checks the rate and limits.
func (c Config) Validate() error {
	if c.Rate <= 0 || c.Rate > MaxRate {
		return fmt.Errorf("rate %.3g Hz out of range (0, %g]", c.Rate, MaxRate)
	}
	if c.Duration < 0 || c.MaxSamples < 0 {
		return fmt.Errorf("duration and sample limit must not be negative")
	}
	return nil
}

// Summary describes a finished run.
type Summary struct {
	Samples   int
	Valid     int
	Requested float64 // Hz
	Achieved  float64 // Hz, from first to last cycle start
	Started   time.Time
	Stopped   time.Time
	LastErr   error
}

// Loop issues READ? once, then REREAD? each cycle, at up to the requested
// rate. It never tries to catch up when a cycle overruns the interval.
type Loop struct {
	sess Session
	plan Plan
	cfg  Config
	log  *logrus.Entry

	mu      sync.Mutex
	state   State
	defined bool // the instrument holds our field set
	stats   *Statistics

	read   m2000.Command
	reread m2000.Command
}

// Option configures a Loop
type Option func(*Loop)

// WithLogger sets the loop logger.
func WithLogger(log *logrus.Entry) Option {
	return func(l *Loop) { l.log = log }
}

// New creates an idle loop for a connected session.
func New(sess Session, plan Plan, cfg Config, opts ...Option) (*Loop, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	read, err := m2000.Read(plan.Fields...)
	if err != nil {
		return nil, err
	}
	l := &Loop{
		sess:   sess,
		plan:   plan,
		cfg:    cfg,
		state:  StateIdle,
		stats:  NewStatistics(),
		read:   read,
		reread: m2000.Reread(plan.Len()),
	}
	for _, opt := range opts {
		opt(l)
	}
	if l.log == nil {
		lg := logrus.New()
		lg.SetOutput(io.Discard)
		l.log = logrus.NewEntry(lg)
	}
	return l, nil
}

// State returns the loop state.
func (l *Loop) State() State {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.state
}

func (l *Loop) setState(s State) {
	l.mu.Lock()
	l.state = s
	l.mu.Unlock()
}

// Stats returns the live statistics.
func (l *Loop) Stats() *Statistics {
	return l.stats
}

// Run samples until ctx is cancelled or a limit is reached. A cycle already
// in flight when ctx is cancelled completes first. The session is always
// disconnected before Run returns.
//
// Recoverable errors mark that cycle's record invalid and the loop
// continues. A connection-level error stops the loop and is returned.
func (l *Loop) Run(ctx context.Context, handle Handler) (sum Summary, err error) {
	defer l.sess.Disconnect()
	defer func() {
		l.setState(StateStopped)
		sum.Stopped = time.Now()
		l.log.WithFields(logrus.Fields{
			"samples":  sum.Samples,
			"valid":    sum.Valid,
			"achieved": fmt.Sprintf("%.2f Hz", sum.Achieved),
		}).Info("acquisition stopped")
	}()

	l.setState(StateArmed)
	interval := l.cfg.Interval()
	sum.Requested = l.cfg.Rate
	l.stats.Reset()

	// Cycles run to completion even after ctx is cancelled
	cycleCtx := context.WithoutCancel(ctx)

	var first, last time.Time
	for seq := 1; ; seq++ {
		if ctx.Err() != nil {
			break
		}
		if l.cfg.MaxSamples > 0 && seq > l.cfg.MaxSamples {
			break
		}
		start := time.Now()
		if first.IsZero() {
			first = start
			sum.Started = start
		} else if l.cfg.Duration > 0 && start.Sub(first) >= l.cfg.Duration {
			break
		}
		l.setState(StateSampling)

		rec, cerr := l.cycle(cycleCtx, seq, first)
		l.stats.Update(rec)
		sum.Samples++
		last = start
		if sum.Samples > 1 {
			sum.Achieved = float64(sum.Samples-1) / last.Sub(first).Seconds()
		}
		if cerr != nil && !m2000.IsRecoverable(cerr) {
			sum.LastErr = cerr
			return sum, cerr
		}
		if rec.Valid() {
			sum.Valid++
		} else {
			sum.LastErr = rec.Err
		}

		if handle != nil {
			if herr := handle(rec); herr != nil {
				l.log.WithError(herr).Warn("record handler failed")
			}
		}

		if wait := interval - time.Since(start); wait > 0 {
			select {
			case <-time.After(wait):
			case <-ctx.Done():
			}
		}
	}
	return sum, nil
}

// cycle runs one read or reread and polls the error register
func (l *Loop) cycle(ctx context.Context, seq int, first time.Time) (m2000.Record, error) {
	cmd := l.reread
	if !l.defined {
		cmd = l.read
	}
	now := time.Now()
	rec := m2000.Record{
		Seq:       seq,
		Timestamp: now,
		Elapsed:   now.Sub(first),
	}

	resp, err := l.sess.Query(ctx, cmd)
	var values []m2000.Value
	if err == nil {
		values, err = resp.Values()
	}
	if err != nil && !m2000.IsRecoverable(err) {
		rec.Err = err
		rec.Measurements = l.measurements(nil)
		return rec, err
	}

	// A failed set stops on the instrument, so the register tells why
	regErr := l.sess.CheckError(ctx)
	var inst *m2000.InstrumentError
	switch {
	case errors.As(regErr, &inst):
		err = inst
	case regErr != nil && !m2000.IsRecoverable(regErr):
		rec.Err = regErr
		rec.Measurements = l.measurements(nil)
		return rec, regErr
	case regErr != nil && err == nil:
		err = regErr
	}

	if err != nil {
		// Re-send the full field set next time
		l.defined = false
		rec.Err = err
		rec.Measurements = l.measurements(nil)
		l.log.WithError(err).WithField("seq", seq).Warn("cycle failed")
		return rec, err
	}

	l.defined = true
	rec.Measurements = l.measurements(values)
	return rec, nil
}

// measurements pairs values with plan columns; nil values yields placeholders
func (l *Loop) measurements(values []m2000.Value) []m2000.Measurement {
	ms := make([]m2000.Measurement, len(l.plan.Columns))
	for i, c := range l.plan.Columns {
		v := m2000.Unavailable
		if values != nil {
			v = values[i]
		}
		ms[i] = m2000.Measurement{
			Channel:   c.Channel,
			Parameter: c.Parameter,
			Value:     v,
			Unit:      c.Unit,
			Formatted: m2000.FormatValue(v, c.Unit),
		}
	}
	return ms
}
