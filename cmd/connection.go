// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2026 The aps-m2000-power-analyzer Authors

package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/bob10042/aps-m2000-power-analyzer/pkg/acquire"
	"github.com/bob10042/aps-m2000-power-analyzer/pkg/config"
	"github.com/bob10042/aps-m2000-power-analyzer/pkg/m2000"
	"github.com/bob10042/aps-m2000-power-analyzer/pkg/session"
	"github.com/bob10042/aps-m2000-power-analyzer/pkg/transport"
)

const (
	initialBackoff = 1 * time.Second
	maxBackoff     = 30 * time.Second
)

// connectionInfo describes the configured interface for banners
func connectionInfo() string {
	return describeConnection(cfg)
}

func describeConnection(c *config.Config) string {
	switch c.TransportConfig().Kind {
	case transport.KindSerial:
		return fmt.Sprintf("Serial: %s @ %d baud", c.Serial.Port, c.Serial.Baud)
	case transport.KindLAN:
		return fmt.Sprintf("LAN: %s:%d", c.LAN.Host, c.LAN.Port)
	case transport.KindUSB:
		if c.USB.Serial != "" {
			return fmt.Sprintf("USB: %04X:%04X serial %s", c.USB.VendorID, c.USB.ProductID, c.USB.Serial)
		}
		return fmt.Sprintf("USB: %04X:%04X", c.USB.VendorID, c.USB.ProductID)
	case transport.KindSim:
		return "Simulator"
	}
	return c.Interface
}

// newSession builds a disconnected session from the resolved configuration
func newSession(opts ...session.Option) *session.Session {
	return sessionFor(cfg, opts...)
}

func sessionFor(c *config.Config, opts ...session.Option) *session.Session {
	base := []session.Option{
		session.WithLogger(logger.WithField("component", "session")),
		session.WithQueryTimeout(c.Timeouts.Query),
		session.WithSettle(c.Timeouts.Settle),
	}
	return session.New(c.TransportConfig(), append(base, opts...)...)
}

// openSession connects a new session. Connection errors exit with status 2.
func openSession(ctx context.Context, opts ...session.Option) *session.Session {
	sess := newSession(opts...)
	if err := sess.Connect(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Connection error: %v\n", err)
		var ident *m2000.IdentificationError
		if errors.As(err, &ident) {
			fmt.Fprintf(os.Stderr, "The device answered but is not an APS analyzer.\n")
		}
		os.Exit(2)
	}
	return sess
}

// signalContext is cancelled on SIGINT or SIGTERM
func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

// nextBackoff doubles d up to maxBackoff
func nextBackoff(d time.Duration) time.Duration {
	d *= 2
	if d > maxBackoff {
		d = maxBackoff
	}
	return d
}

// connectWithBackoff retries Connect with exponential backoff until it
// succeeds or ctx is done.
func connectWithBackoff(ctx context.Context, sess *session.Session, onFail func(err error, retry time.Duration)) error {
	backoff := initialBackoff
	for {
		err := sess.Connect(ctx)
		if err == nil {
			return nil
		}
		if onFail != nil {
			onFail(err, backoff)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}
		backoff = nextBackoff(backoff)
	}
}

// supervisor keeps an acquisition running across connection losses.
type supervisor struct {
	sess   *session.Session
	plan   acquire.Plan
	acfg   acquire.Config
	handle acquire.Handler
	log    *logrus.Entry

	// Optional hooks
	onLost      func(err error)
	onRetry     func(err error, retry time.Duration)
	onConnected func(identity string, reconnect bool)
}

// run connects, samples, and on a connection-level error reconnects with
// backoff. It returns when ctx is done or a run ends within its limits.
func (s *supervisor) run(ctx context.Context) error {
	first := true
	for {
		if err := connectWithBackoff(ctx, s.sess, s.onRetry); err != nil {
			return nil
		}
		if s.onConnected != nil {
			s.onConnected(s.sess.Identity(), !first)
		}
		first = false

		loop, err := acquire.New(s.sess, s.plan, s.acfg, acquire.WithLogger(s.log))
		if err != nil {
			s.sess.Disconnect()
			return err
		}
		sum, err := loop.Run(ctx, s.handle)
		if err == nil {
			return nil
		}
		s.log.WithError(err).WithField("samples", sum.Samples).Warn("connection lost")
		if s.onLost != nil {
			s.onLost(err)
		}
		if ctx.Err() != nil {
			return nil
		}
	}
}
