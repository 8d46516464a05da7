// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2026 The aps-m2000-power-analyzer Authors

package transport

import (
	"bufio"
	"context"
	"errors"
	"net"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bob10042/aps-m2000-power-analyzer/pkg/m2000"
)

// readLine reads from t until a reply line is complete or the budget expires
func readLine(t *testing.T, tr Transport, budget time.Duration) string {
	t.Helper()
	d := m2000.NewDecoder()
	buf := make([]byte, 64)
	deadline := time.Now().Add(budget)
	for time.Now().Before(deadline) {
		n, err := tr.Read(buf)
		require.NoError(t, err)
		lines, _, err := d.Decode(buf[:n])
		require.NoError(t, err)
		if len(lines) > 0 {
			return lines[0]
		}
	}
	t.Fatalf("no reply within %v", budget)
	return ""
}

func TestParseKind(t *testing.T) {
	for _, k := range Kinds {
		got, err := ParseKind(string(k))
		require.NoError(t, err)
		assert.Equal(t, k, got)
	}
	_, err := ParseKind("gpib")
	assert.Error(t, err)
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	assert.Equal(t, 115200, cfg.Serial.Baud)
	assert.True(t, cfg.Serial.RequireCTS, "RTS/CTS handshake is mandatory")
	assert.Equal(t, m2000.DefaultTCPPort, cfg.LAN.Port)
	assert.Equal(t, uint16(0x10C4), cfg.HID.VendorID)
	assert.Equal(t, uint16(0x8835), cfg.HID.ProductID)
}

func TestOpen_Simulator(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Kind = KindSim
	cfg.Sim = []SimOption{WithIdentity("APS,M2000,TEST,2.0")}

	tr, err := Open(context.Background(), cfg, nil)
	require.NoError(t, err)
	defer tr.Close()

	_, err = tr.Write([]byte("*IDN?\r\n"))
	require.NoError(t, err)
	assert.Equal(t, "APS,M2000,TEST,2.0", readLine(t, tr, time.Second))
}

func TestOpen_Errors(t *testing.T) {
	tests := []struct {
		name string
		cfg  Config
	}{
		{"unknown kind", Config{Kind: "gpib"}},
		{"serial without port", Config{Kind: KindSerial, Serial: SerialConfig{Baud: 9600}}},
		{"serial bad baud", Config{Kind: KindSerial, Serial: SerialConfig{Port: "/dev/null", Baud: 1200}}},
		{"lan without host", Config{Kind: KindLAN}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Open(context.Background(), tt.cfg, nil)
			var connErr *m2000.ConnectionError
			require.True(t, errors.As(err, &connErr), "error = %v", err)
			assert.Equal(t, string(tt.cfg.Kind), connErr.Transport)
		})
	}
}

func TestLAN_RoundTrip(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()

	received := make(chan string, 1)
	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		line, err := bufio.NewReader(conn).ReadString('\n')
		if err != nil {
			return
		}
		received <- line
		conn.Write([]byte("APS,M2000,LAN,1.0\r\n"))
		time.Sleep(200 * time.Millisecond)
	}()

	addr := ln.Addr().(*net.TCPAddr)
	tr, err := DialLAN(context.Background(), LANConfig{Host: "127.0.0.1", Port: addr.Port}, nil)
	require.NoError(t, err)
	defer tr.Close()
	assert.True(t, strings.HasPrefix(tr.String(), "LAN: 127.0.0.1:"))

	frame, _ := m2000.Frame(m2000.Identify())
	_, err = tr.Write(frame)
	require.NoError(t, err)

	select {
	case line := <-received:
		assert.Equal(t, "*IDN?\r\n", line)
	case <-time.After(time.Second):
		t.Fatal("server never received the command")
	}
	assert.Equal(t, "APS,M2000,LAN,1.0", readLine(t, tr, time.Second))
}

func TestLAN_ReadPollsWithoutError(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()

	done := make(chan struct{})
	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		<-done
		conn.Close()
	}()
	defer close(done)

	addr := ln.Addr().(*net.TCPAddr)
	tr, err := DialLAN(context.Background(), LANConfig{Host: "127.0.0.1", Port: addr.Port}, nil)
	require.NoError(t, err)
	defer tr.Close()

	start := time.Now()
	n, err := tr.Read(make([]byte, 16))
	assert.NoError(t, err)
	assert.Zero(t, n)
	assert.GreaterOrEqual(t, time.Since(start), PollInterval/2)
	assert.NoError(t, tr.Drain())
}

func TestDialLAN_Refused(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	port := ln.Addr().(*net.TCPAddr).Port
	ln.Close()

	_, err = DialLAN(context.Background(), LANConfig{Host: "127.0.0.1", Port: port, DialTimeout: time.Second}, nil)
	assert.Error(t, err)
}
