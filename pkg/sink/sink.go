// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2026 The aps-m2000-power-analyzer Authors

// Package sink delivers measurement records to files, browsers and message
// queues.
package sink

import (
	"errors"
	"io"

	"github.com/sirupsen/logrus"

	"github.com/bob10042/aps-m2000-power-analyzer/pkg/m2000"
)

// Sink consumes records produced by the acquisition loop.
type Sink interface {
	Write(rec m2000.Record) error
	Close() error
}

// Func adapts a function to a Sink with a no-op Close.
type Func func(rec m2000.Record) error

func (f Func) Write(rec m2000.Record) error { return f(rec) }
func (f Func) Close() error                 { return nil }

// Multi fans a record out to every sink. All sinks see every record even
// when some fail.
type Multi []Sink

func (m Multi) Write(rec m2000.Record) error {
	var errs []error
	for _, s := range m {
		if err := s.Write(rec); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (m Multi) Close() error {
	var errs []error
	for _, s := range m {
		if err := s.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func discardLogger() *logrus.Entry {
	lg := logrus.New()
	lg.SetOutput(io.Discard)
	return logrus.NewEntry(lg)
}
