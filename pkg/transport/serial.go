// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2026 The aps-m2000-power-analyzer Authors

package transport

import (
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
	"go.bug.st/serial"
	"go.bug.st/serial/enumerator"

	"github.com/bob10042/aps-m2000-power-analyzer/pkg/m2000"
)

// ErrCTSTimeout is returned when RequireCTS is set and the instrument never
// raised CTS.
var ErrCTSTimeout = errors.New("timed out waiting for CTS")

// Serial wraps an RS-232 port: 8 data bits, no parity, one stop bit, with
// DTR and RTS asserted for hardware handshake.
type Serial struct {
	port serial.Port
	cfg  SerialConfig
	log  *logrus.Entry
}

// validBaud reports whether the M2000 supports rate
func validBaud(rate int) bool {
	for _, b := range m2000.BaudRates {
		if b == rate {
			return true
		}
	}
	return false
}

// OpenSerial opens a serial port connection
func OpenSerial(cfg SerialConfig, log *logrus.Entry) (*Serial, error) {
	if cfg.Port == "" {
		return nil, fmt.Errorf("serial port not specified")
	}
	if !validBaud(cfg.Baud) {
		return nil, fmt.Errorf("unsupported baud rate %d (want one of %v)", cfg.Baud, m2000.BaudRates)
	}
	if cfg.CTSTimeout <= 0 {
		cfg.CTSTimeout = time.Second
	}
	if log == nil {
		log = discardLogger()
	}

	mode := &serial.Mode{
		BaudRate: cfg.Baud,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
		InitialStatusBits: &serial.ModemOutputBits{
			RTS: true,
			DTR: true,
		},
	}

	port, err := serial.Open(cfg.Port, mode)
	if err != nil {
		return nil, fmt.Errorf("failed to open serial port %s: %w", cfg.Port, err)
	}
	if err := port.SetReadTimeout(PollInterval); err != nil {
		port.Close()
		return nil, fmt.Errorf("failed to set read timeout: %w", err)
	}
	// Stale bytes from a previous session would desynchronize the first reply
	if err := port.ResetInputBuffer(); err != nil {
		log.WithError(err).Warn("could not flush serial input")
	}

	return &Serial{port: port, cfg: cfg, log: log}, nil
}

func (s *Serial) Read(p []byte) (int, error) {
	// go.bug.st/serial returns (0, nil) when the read timeout expires
	return s.port.Read(p)
}

func (s *Serial) Write(p []byte) (int, error) {
	if s.cfg.RequireCTS {
		if err := s.waitCTS(); err != nil {
			return 0, err
		}
	}
	n, err := s.port.Write(p)
	if err != nil {
		return n, err
	}
	if n != len(p) {
		return n, fmt.Errorf("short write: %d of %d bytes", n, len(p))
	}
	return n, s.port.Drain()
}

// waitCTS polls the modem status lines until the instrument is ready to
// receive.
func (s *Serial) waitCTS() error {
	deadline := time.Now().Add(s.cfg.CTSTimeout)
	for {
		bits, err := s.port.GetModemStatusBits()
		if err != nil {
			return fmt.Errorf("failed to read modem status: %w", err)
		}
		if bits.CTS {
			return nil
		}
		if time.Now().After(deadline) {
			return ErrCTSTimeout
		}
		time.Sleep(10 * time.Millisecond)
	}
}

// Drain discards unread input.
func (s *Serial) Drain() error {
	return s.port.ResetInputBuffer()
}

func (s *Serial) Close() error {
	// Drop the handshake lines so the instrument sees the host leave
	if err := s.port.SetDTR(false); err != nil {
		s.log.WithError(err).Debug("failed to clear DTR")
	}
	return s.port.Close()
}

func (s *Serial) String() string {
	return fmt.Sprintf("Serial: %s @ %d baud", s.cfg.Port, s.cfg.Baud)
}

// PortInfo describes one serial port found on the host.
type PortInfo struct {
	Name         string
	USB          bool
	VID          string
	PID          string
	SerialNumber string
}

// ListSerialPorts enumerates the host's serial ports.
func ListSerialPorts() ([]PortInfo, error) {
	details, err := enumerator.GetDetailedPortsList()
	if err != nil {
		return nil, fmt.Errorf("failed to list serial ports: %w", err)
	}
	ports := make([]PortInfo, 0, len(details))
	for _, d := range details {
		ports = append(ports, PortInfo{
			Name:         d.Name,
			USB:          d.IsUSB,
			VID:          d.VID,
			PID:          d.PID,
			SerialNumber: d.SerialNumber,
		})
	}
	return ports, nil
}
