// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2026 The aps-m2000-power-analyzer Authors

package m2000

import (
	"errors"
	"fmt"
	"time"
)

// Sentinel errors
var (
	ErrNotReady       = errors.New("session not ready")
	ErrCommandTooLong = fmt.Errorf("command set exceeds %d characters", MaxCommandLength)
	ErrUnavailable    = errors.New("data unavailable")
	ErrEmptyCommand   = errors.New("empty command")
)

// ConnectionError reports that the transport could not be opened or failed
// underneath an operation. It is fatal to the session.
type ConnectionError struct {
	Transport string
	Err       error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("connection error (%s): %v", e.Transport, e.Err)
}

func (e *ConnectionError) Unwrap() error { return e.Err }

// IdentificationError reports a liveness check whose reply lacked the vendor marker.
type IdentificationError struct {
	Reply string
}

func (e *IdentificationError) Error() string {
	return fmt.Sprintf("identification failed: reply %q does not contain %q", e.Reply, VendorMarker)
}

// TimeoutError reports a query whose terminated reply did not arrive in time.
type TimeoutError struct {
	Command string
	Budget  time.Duration
	Partial string
}

func (e *TimeoutError) Error() string {
	if e.Partial != "" {
		return fmt.Sprintf("timeout after %v waiting for reply to %q (partial %q)", e.Budget, e.Command, e.Partial)
	}
	return fmt.Sprintf("timeout after %v waiting for reply to %q", e.Budget, e.Command)
}

// Timeout lets callers treat TimeoutError like a net.Error.
func (e *TimeoutError) Timeout() bool { return true }

// MalformedResponseError reports a reply field that does not match the NR3 grammar.
type MalformedResponseError struct {
	Command string
	Field   string
	Reason  string
}

func (e *MalformedResponseError) Error() string {
	if e.Command != "" {
		return fmt.Sprintf("malformed response field %q to %q: %s", e.Field, e.Command, e.Reason)
	}
	return fmt.Sprintf("malformed response field %q: %s", e.Field, e.Reason)
}

// FieldCountMismatchError reports a composite reply with the wrong number of values.
type FieldCountMismatchError struct {
	Command  string
	Expected int
	Got      int
}

func (e *FieldCountMismatchError) Error() string {
	return fmt.Sprintf("field count mismatch for %q: expected %d, got %d", e.Command, e.Expected, e.Got)
}

// ProtocolError reports a misuse of the protocol or a reply that cannot be
// matched to the issued command set.
type ProtocolError struct {
	Command string
	Message string
}

func (e *ProtocolError) Error() string {
	if e.Command == "" {
		return "protocol error: " + e.Message
	}
	return fmt.Sprintf("protocol error for %q: %s", e.Command, e.Message)
}

// InstrumentError carries a non-zero error register value. The instrument
// stops executing the rest of the command set that raised it.
type InstrumentError struct {
	Code    int
	Command string
}

func (e *InstrumentError) Error() string {
	if e.Command != "" {
		return fmt.Sprintf("instrument error %d (%s) after %q", e.Code, ErrorCodeText(e.Code), e.Command)
	}
	return fmt.Sprintf("instrument error %d (%s)", e.Code, ErrorCodeText(e.Code))
}

// ErrorCodeText returns a short description of an error register value.
func ErrorCodeText(code int) string {
	switch code {
	case ErrCodeNone:
		return "no error"
	case ErrCodeOutOfRange:
		return "data field out of valid range"
	}
	if code < 0 || code > ErrCodeMax {
		return "unknown error code"
	}
	return "interface error"
}

// IsRecoverable reports whether err only invalidates the current operation.
// Connection and identification failures are not recoverable.
func IsRecoverable(err error) bool {
	if err == nil {
		return true
	}
	var (
		timeout   *TimeoutError
		malformed *MalformedResponseError
		mismatch  *FieldCountMismatchError
		protocol  *ProtocolError
		inst      *InstrumentError
	)
	switch {
	case errors.As(err, &timeout),
		errors.As(err, &malformed),
		errors.As(err, &mismatch),
		errors.As(err, &protocol),
		errors.As(err, &inst):
		return true
	}
	return false
}
