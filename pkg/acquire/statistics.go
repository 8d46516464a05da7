// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2026 The aps-m2000-power-analyzer Authors

package acquire

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/bob10042/aps-m2000-power-analyzer/pkg/m2000"
)

// Statistics tracks cycle outcomes and rates
type Statistics struct {
	mu sync.Mutex

	StartTime      time.Time
	LastUpdateTime time.Time

	// Counters
	TotalCycles      uint64
	ValidCycles      uint64
	Timeouts         uint64
	MalformedReplies uint64
	CountMismatches  uint64
	ProtocolErrors   uint64
	InstrumentErrors uint64
	Unavailable      uint64 // values reported as unavailable in valid cycles

	// Rates (calculated)
	CycleRate float64 // cycles/sec
	ErrorRate float64 // errors/sec
}

// NewStatistics creates a new statistics tracker
func NewStatistics() *Statistics {
	now := time.Now()
	return &Statistics{
		StartTime:      now,
		LastUpdateTime: now,
	}
}

// Update counts one cycle and classifies its error
func (s *Statistics) Update(rec m2000.Record) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.TotalCycles++
	s.LastUpdateTime = time.Now()

	if rec.Err == nil {
		s.ValidCycles++
		for _, m := range rec.Measurements {
			if !m.Value.Available() {
				s.Unavailable++
			}
		}
		return
	}

	var (
		timeout   *m2000.TimeoutError
		malformed *m2000.MalformedResponseError
		mismatch  *m2000.FieldCountMismatchError
		protocol  *m2000.ProtocolError
		inst      *m2000.InstrumentError
	)
	switch {
	case errors.As(rec.Err, &inst):
		s.InstrumentErrors++
	case errors.As(rec.Err, &timeout):
		s.Timeouts++
	case errors.As(rec.Err, &malformed):
		s.MalformedReplies++
	case errors.As(rec.Err, &mismatch):
		s.CountMismatches++
	case errors.As(rec.Err, &protocol):
		s.ProtocolErrors++
	}
}

func (s *Statistics) errorCount() uint64 {
	return s.TotalCycles - s.ValidCycles
}

// calculateRates calculates cycle and error rates; caller holds mu
func (s *Statistics) calculateRates() {
	elapsed := time.Since(s.StartTime).Seconds()
	if elapsed > 0 {
		s.CycleRate = float64(s.TotalCycles) / elapsed
		s.ErrorRate = float64(s.errorCount()) / elapsed
	}
}

// Snapshot returns a copy safe to read while the loop keeps running
func (s *Statistics) Snapshot() Statistics {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calculateRates()
	return Statistics{
		StartTime:        s.StartTime,
		LastUpdateTime:   s.LastUpdateTime,
		TotalCycles:      s.TotalCycles,
		ValidCycles:      s.ValidCycles,
		Timeouts:         s.Timeouts,
		MalformedReplies: s.MalformedReplies,
		CountMismatches:  s.CountMismatches,
		ProtocolErrors:   s.ProtocolErrors,
		InstrumentErrors: s.InstrumentErrors,
		Unavailable:      s.Unavailable,
		CycleRate:        s.CycleRate,
		ErrorRate:        s.ErrorRate,
	}
}

// String returns a formatted statistics summary
func (s *Statistics) String() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calculateRates()

	var validPercent float64
	if s.TotalCycles > 0 {
		validPercent = float64(s.ValidCycles) * 100.0 / float64(s.TotalCycles)
	}
	elapsed := time.Since(s.StartTime)

	result := fmt.Sprintf("=== Statistics (%.0f seconds) ===\n", elapsed.Seconds())
	result += fmt.Sprintf("Total Cycles:    %8d\n", s.TotalCycles)
	result += fmt.Sprintf("Valid Cycles:    %8d (%.1f%%)\n", s.ValidCycles, validPercent)

	if s.Timeouts > 0 {
		result += fmt.Sprintf("Timeouts:        %8d\n", s.Timeouts)
	}
	if s.MalformedReplies > 0 {
		result += fmt.Sprintf("Malformed:       %8d\n", s.MalformedReplies)
	}
	if s.CountMismatches > 0 {
		result += fmt.Sprintf("Count Mismatch:  %8d\n", s.CountMismatches)
	}
	if s.ProtocolErrors > 0 {
		result += fmt.Sprintf("Protocol Errors: %8d\n", s.ProtocolErrors)
	}
	if s.InstrumentErrors > 0 {
		result += fmt.Sprintf("Instrument Errs: %8d\n", s.InstrumentErrors)
	}
	if s.Unavailable > 0 {
		result += fmt.Sprintf("Unavailable:     %8d values\n", s.Unavailable)
	}

	result += fmt.Sprintf("Cycle Rate:      %8.2f cycles/sec\n", s.CycleRate)
	result += fmt.Sprintf("Error Rate:      %8.2f errors/sec\n", s.ErrorRate)
	result += "================================\n"

	return result
}

// Reset resets all statistics counters
func (s *Statistics) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now()
	s.StartTime = now
	s.LastUpdateTime = now
	s.TotalCycles = 0
	s.ValidCycles = 0
	s.Timeouts = 0
	s.MalformedReplies = 0
	s.CountMismatches = 0
	s.ProtocolErrors = 0
	s.InstrumentErrors = 0
	s.Unavailable = 0
	s.CycleRate = 0
	s.ErrorRate = 0
}
