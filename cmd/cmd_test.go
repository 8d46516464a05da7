// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2026 The aps-m2000-power-analyzer Authors

package cmd

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bob10042/aps-m2000-power-analyzer/pkg/acquire"
	"github.com/bob10042/aps-m2000-power-analyzer/pkg/config"
	"github.com/bob10042/aps-m2000-power-analyzer/pkg/m2000"
	"github.com/bob10042/aps-m2000-power-analyzer/pkg/session"
	"github.com/bob10042/aps-m2000-power-analyzer/pkg/sink"
)

func quietLogger() {
	logger = logrus.New()
	logger.SetOutput(io.Discard)
}

func sampleRecord() m2000.Record {
	return m2000.Record{
		Seq:       7,
		Timestamp: time.Date(2025, 3, 1, 12, 30, 45, 250_000_000, time.UTC),
		Measurements: []m2000.Measurement{
			{Channel: "CH1", Parameter: "V", Value: m2000.Float(230.5), Unit: "V", Formatted: "230.500 V"},
			{Channel: "CH1", Parameter: "A", Value: m2000.Float(1.25), Unit: "A", Formatted: "1.250 A"},
			{Channel: "CH2", Parameter: "V", Value: m2000.Unavailable, Unit: "V", Formatted: "---"},
		},
	}
}

func TestNextBackoff(t *testing.T) {
	d := initialBackoff
	var seen []time.Duration
	for i := 0; i < 7; i++ {
		seen = append(seen, d)
		d = nextBackoff(d)
	}
	assert.Equal(t, []time.Duration{
		1 * time.Second, 2 * time.Second, 4 * time.Second, 8 * time.Second,
		16 * time.Second, 30 * time.Second, 30 * time.Second,
	}, seen)
}

func TestIdentityFields(t *testing.T) {
	tests := []struct {
		idn  string
		want [4]string
	}{
		{"APS, M2000, 12345, 1.07", [4]string{"APS", "M2000", "12345", "1.07"}},
		{"APS,M2000", [4]string{"APS", "M2000", "", ""}},
		{"APS,M2000,1,2,extra", [4]string{"APS", "M2000", "1", "2,extra"}},
		{"", [4]string{"", "", "", ""}},
	}
	for _, tt := range tests {
		t.Run(tt.idn, func(t *testing.T) {
			assert.Equal(t, tt.want, identityFields(tt.idn))
		})
	}
}

func TestRecordLine(t *testing.T) {
	line := recordLine(sampleRecord(), false)
	assert.Equal(t, "[12:30:45.250] #7     CH1_V=230.500 V  CH1_A=1.250 A  CH2_V=---", line)

	rec := sampleRecord()
	rec.Err = errors.New("timeout")
	assert.Equal(t, "[12:30:45.250] #7     INVALID: timeout", recordLine(rec, false))
}

func TestPrintRecord(t *testing.T) {
	var buf bytes.Buffer
	printRecord(&buf, sampleRecord(), false)
	out := buf.String()

	assert.True(t, strings.HasPrefix(out, "2025-03-01 12:30:45.250 sample 7\n"))
	assert.Contains(t, out, "CH1:\n")
	assert.Contains(t, out, "CH2:\n")
	assert.Less(t, strings.Index(out, "CH1:"), strings.Index(out, "CH2:"))
	assert.NotContains(t, out, "INVALID")
}

func TestApplyFlags_InfersInterface(t *testing.T) {
	tests := []struct {
		name string
		args []string
		want string
	}{
		{"none", nil, "serial"},
		{"host", []string{"--host", "10.0.0.5"}, "lan"},
		{"port", []string{"--port", "/dev/ttyS1"}, "serial"},
		{"usb serial", []string{"--usb-serial", "A1"}, "usb"},
		{"explicit wins", []string{"--interface", "sim", "--host", "10.0.0.5"}, "sim"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := &cobra.Command{Use: "test"}
			c.Flags().StringVar(&ifaceName, "interface", "", "")
			c.Flags().StringVar(&portName, "port", "", "")
			c.Flags().StringVar(&lanHost, "host", "", "")
			c.Flags().StringVar(&usbSerial, "usb-serial", "", "")
			require.NoError(t, c.Flags().Parse(tt.args))

			conf := config.Default()
			applyFlags(c, conf)
			assert.Equal(t, tt.want, conf.Interface)
		})
	}
}

func TestPlanAxes(t *testing.T) {
	plan, err := acquire.NewPlan([]string{"CH1", "CH2"}, []string{"V", "A"}, "ACDC")
	require.NoError(t, err)

	channels, params := planAxes(plan)
	assert.Equal(t, []string{"CH1", "CH2"}, channels)
	assert.Equal(t, []string{"V", "A"}, params)
}

func newTestController(t *testing.T) *controller {
	t.Helper()
	quietLogger()

	conf := config.Default()
	conf.Interface = "sim"
	conf.Timeouts.Settle = 0
	conf.Acquisition.Rate = 50
	plan, err := conf.Plan()
	require.NoError(t, err)

	ctrl := newController(*conf, plan, conf.AcquireConfig(), logger.WithField("component", "test"))
	ctrl.hub = sink.NewHub(sink.WithConfig(ctrl.configMessage))
	t.Cleanup(func() { ctrl.hub.Close() })
	return ctrl
}

func TestController_StartStop(t *testing.T) {
	ctrl := newTestController(t)
	ctx := context.Background()

	require.NoError(t, ctrl.start(ctx))
	assert.Error(t, ctrl.start(ctx), "second start must be refused")

	require.Eventually(t, func() bool {
		return ctrl.stats.Snapshot().ValidCycles >= 3
	}, 5*time.Second, 10*time.Millisecond)

	status := ctrl.snapshot()
	assert.True(t, status.Running)
	assert.Equal(t, string(session.StatusConnected), status.Status)
	assert.NotEmpty(t, status.Identity)
	assert.Equal(t, "sim", status.Interface)
	assert.True(t, ctrl.configMessage().Connected)

	require.NoError(t, ctrl.stop())
	assert.ErrorIs(t, ctrl.stop(), errNotRunning)
	assert.False(t, ctrl.snapshot().Running)
}

func TestController_Requests(t *testing.T) {
	ctrl := newTestController(t)
	handle := ctrl.requestHandler(context.Background())

	request := func(raw string) controlResponse {
		var req sink.Request
		require.NoError(t, json.Unmarshal([]byte(raw), &req))
		resp, ok := handle(req).(controlResponse)
		require.True(t, ok)
		return resp
	}

	// Configure while stopped only updates the plan
	resp := request(`{"type":"configure","channels":["CH1","CH3"],"parameters":["V","FREQ"],"sample_rate":20}`)
	require.True(t, resp.Success, resp.Error)
	assert.Equal(t, "configure_response", resp.Type)
	msg := ctrl.configMessage()
	assert.Equal(t, []string{"CH1", "CH3"}, msg.Channels)
	assert.Equal(t, []string{"V", "FREQ"}, msg.Parameters)
	assert.Equal(t, 20.0, msg.SampleRate)

	resp = request(`{"type":"configure","parameters":["BOGUS"]}`)
	assert.False(t, resp.Success)
	assert.NotEmpty(t, resp.Error)

	resp = request(`{"type":"configure","sample_rate":1000}`)
	assert.False(t, resp.Success, "rate above the maximum must be refused")

	resp = request(`{"type":"connect","interface":"nope"}`)
	assert.False(t, resp.Success)

	resp = request(`{"type":"connect","interface":"sim"}`)
	require.True(t, resp.Success, resp.Error)
	assert.Equal(t, "connect_response", resp.Type)

	resp = request(`{"type":"connect","interface":"sim"}`)
	assert.False(t, resp.Success, "connect while running must be refused")

	require.Eventually(t, func() bool {
		return ctrl.stats.Snapshot().ValidCycles >= 2
	}, 5*time.Second, 10*time.Millisecond)

	// Configure while running restarts with the new rate
	resp = request(`{"type":"configure","sample_rate":40}`)
	require.True(t, resp.Success, resp.Error)
	assert.True(t, ctrl.snapshot().Running)
	assert.Equal(t, 40.0, ctrl.snapshot().SampleRate)

	resp = request(`{"type":"disconnect"}`)
	require.True(t, resp.Success, resp.Error)
	assert.Equal(t, "disconnect_response", resp.Type)
	assert.False(t, ctrl.snapshot().Running)

	resp = request(`{"type":"disconnect"}`)
	assert.False(t, resp.Success)

	resp = request(`{"type":"reboot"}`)
	assert.False(t, resp.Success)
	assert.Equal(t, "error", resp.Type)
}

func TestSupervisor_StopsAtLimit(t *testing.T) {
	quietLogger()
	conf := config.Default()
	conf.Interface = "sim"
	conf.Timeouts.Settle = 0
	plan, err := conf.Plan()
	require.NoError(t, err)

	var records []m2000.Record
	var connects []bool
	sup := &supervisor{
		sess: sessionFor(conf),
		plan: plan,
		acfg: acquire.Config{Rate: acquire.MaxRate, MaxSamples: 3},
		handle: func(rec m2000.Record) error {
			records = append(records, rec)
			return nil
		},
		log: logger.WithField("component", "test"),
		onConnected: func(identity string, reconnect bool) {
			connects = append(connects, reconnect)
		},
	}

	require.NoError(t, sup.run(context.Background()))
	require.Len(t, records, 3)
	for _, rec := range records {
		assert.True(t, rec.Valid(), "record %d: %v", rec.Seq, rec.Err)
		assert.Len(t, rec.Measurements, plan.Len())
	}
	assert.Equal(t, []bool{false}, connects)
}

func TestSupervisor_CancelWhileRetrying(t *testing.T) {
	quietLogger()
	conf := config.Default()
	conf.Interface = "lan"
	conf.LAN.Host = "127.0.0.1"
	conf.LAN.Port = 1
	conf.LAN.DialTimeout = 100 * time.Millisecond
	plan, err := conf.Plan()
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	retries := 0
	sup := &supervisor{
		sess:   sessionFor(conf),
		plan:   plan,
		acfg:   conf.AcquireConfig(),
		handle: func(m2000.Record) error { return nil },
		log:    logger.WithField("component", "test"),
		onRetry: func(err error, retry time.Duration) {
			retries++
			assert.Equal(t, initialBackoff, retry)
			cancel()
		},
	}

	done := make(chan error, 1)
	go func() { done <- sup.run(ctx) }()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("supervisor did not stop after cancel")
	}
	assert.Equal(t, 1, retries)
}
