// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2026 The aps-m2000-power-analyzer Authors

package transport

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"strconv"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/bob10042/aps-m2000-power-analyzer/pkg/m2000"
)

// writeTimeout bounds a single TCP write
const writeTimeout = 5 * time.Second

// LAN wraps a TCP stream to the instrument's command port.
type LAN struct {
	conn net.Conn
	addr string
	log  *logrus.Entry
}

// DialLAN connects to the instrument over TCP.
func DialLAN(ctx context.Context, cfg LANConfig, log *logrus.Entry) (*LAN, error) {
	if cfg.Host == "" {
		return nil, fmt.Errorf("LAN host not specified")
	}
	if cfg.Port == 0 {
		cfg.Port = m2000.DefaultTCPPort
	}
	if cfg.DialTimeout <= 0 {
		cfg.DialTimeout = 5 * time.Second
	}
	if log == nil {
		log = discardLogger()
	}

	addr := net.JoinHostPort(cfg.Host, strconv.Itoa(cfg.Port))
	dialer := net.Dialer{Timeout: cfg.DialTimeout}
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to %s: %w", addr, err)
	}
	if tcp, ok := conn.(*net.TCPConn); ok {
		tcp.SetNoDelay(true)
	}
	return &LAN{conn: conn, addr: addr, log: log}, nil
}

// NewLAN wraps an established connection.
func NewLAN(conn net.Conn, log *logrus.Entry) *LAN {
	if log == nil {
		log = discardLogger()
	}
	return &LAN{conn: conn, addr: conn.RemoteAddr().String(), log: log}
}

func (l *LAN) Read(p []byte) (int, error) {
	if err := l.conn.SetReadDeadline(time.Now().Add(PollInterval)); err != nil {
		return 0, err
	}
	n, err := l.conn.Read(p)
	if err != nil && isTimeout(err) {
		return n, nil
	}
	return n, err
}

func (l *LAN) Write(p []byte) (int, error) {
	if err := l.conn.SetWriteDeadline(time.Now().Add(writeTimeout)); err != nil {
		return 0, err
	}
	return l.conn.Write(p)
}

// Drain discards whatever the instrument has already sent.
func (l *LAN) Drain() error {
	buf := make([]byte, 512)
	for {
		if err := l.conn.SetReadDeadline(time.Now().Add(10 * time.Millisecond)); err != nil {
			return err
		}
		n, err := l.conn.Read(buf)
		if err != nil {
			if isTimeout(err) {
				return nil
			}
			return err
		}
		l.log.WithField("bytes", n).Debug("discarded stale input")
	}
}

func (l *LAN) Close() error {
	return l.conn.Close()
}

func (l *LAN) String() string {
	return "LAN: " + l.addr
}

func isTimeout(err error) bool {
	if errors.Is(err, os.ErrDeadlineExceeded) {
		return true
	}
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}
