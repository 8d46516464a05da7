// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2026 The aps-m2000-power-analyzer Authors

// Package transport moves raw bytes between the host and an M2000 over
// RS-232, TCP or USB HID. Transports know nothing about command semantics;
// framing and reply assembly live in package m2000.
package transport

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/bob10042/aps-m2000-power-analyzer/pkg/m2000"
)

// PollInterval bounds a single Read call. Read returns (0, nil) when no byte
// arrived within it, so callers can check deadlines and cancellation.
const PollInterval = 100 * time.Millisecond

// Kind selects the physical interface.
type Kind string

const (
	KindSerial Kind = "serial"
	KindLAN    Kind = "lan"
	KindUSB    Kind = "usb"
	KindSim    Kind = "sim"
)

// Kinds lists every supported interface name
var Kinds = []Kind{KindSerial, KindLAN, KindUSB, KindSim}

// ParseKind validates an interface name.
func ParseKind(s string) (Kind, error) {
	for _, k := range Kinds {
		if string(k) == s {
			return k, nil
		}
	}
	return "", fmt.Errorf("unknown interface %q (want serial, lan, usb or sim)", s)
}

// Transport is a byte pipe to one instrument.
//
// Write sends the whole buffer or fails. Read blocks for at most
// PollInterval and may return (0, nil). A USB HID transport returns only the
// ASCII payload of each input report.
type Transport interface {
	io.Writer
	io.Reader
	io.Closer
	String() string
}

// Drainer is implemented by transports that can discard unread input.
type Drainer interface {
	Drain() error
}

// SerialConfig configures the RS-232 interface.
type SerialConfig struct {
	Port       string
	Baud       int
	RequireCTS bool          // refuse to write while CTS is deasserted (on by default)
	CTSTimeout time.Duration // how long Write waits for CTS
}

// LANConfig configures the TCP interface.
type LANConfig struct {
	Host        string
	Port        int
	DialTimeout time.Duration
}

// HIDConfig configures the USB HID interface.
type HIDConfig struct {
	VendorID  uint16
	ProductID uint16
	Serial    string // empty opens the first matching device
}

// Config selects and configures one transport.
type Config struct {
	Kind   Kind
	Serial SerialConfig
	LAN    LANConfig
	HID    HIDConfig
	Sim    []SimOption
}

// DefaultConfig returns the factory settings of each interface.
func DefaultConfig() Config {
	return Config{
		Kind: KindSerial,
		Serial: SerialConfig{
			Baud:       115200,
			RequireCTS: true,
			CTSTimeout: time.Second,
		},
		LAN: LANConfig{
			Port:        m2000.DefaultTCPPort,
			DialTimeout: 5 * time.Second,
		},
		HID: HIDConfig{
			VendorID:  m2000.VendorID,
			ProductID: m2000.ProductID,
		},
	}
}

// Open opens the configured transport. Failures are reported as
// *m2000.ConnectionError.
func Open(ctx context.Context, cfg Config, log *logrus.Entry) (Transport, error) {
	if log == nil {
		log = discardLogger()
	}
	log = log.WithField("interface", string(cfg.Kind))

	var (
		t   Transport
		err error
	)
	switch cfg.Kind {
	case KindSerial:
		t, err = OpenSerial(cfg.Serial, log)
	case KindLAN:
		t, err = DialLAN(ctx, cfg.LAN, log)
	case KindUSB:
		t, err = OpenHID(cfg.HID, log)
	case KindSim:
		t, err = NewSimulator(cfg.Sim...), nil
	default:
		err = fmt.Errorf("unknown interface %q", cfg.Kind)
	}
	if err != nil {
		return nil, &m2000.ConnectionError{Transport: string(cfg.Kind), Err: err}
	}
	log.WithField("endpoint", t.String()).Debug("transport open")
	return t, nil
}

func discardLogger() *logrus.Entry {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return logrus.NewEntry(l)
}
