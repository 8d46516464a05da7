// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2026 The aps-m2000-power-analyzer Authors

package cmd

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/bob10042/aps-m2000-power-analyzer/pkg/acquire"
	"github.com/bob10042/aps-m2000-power-analyzer/pkg/config"
	"github.com/bob10042/aps-m2000-power-analyzer/pkg/m2000"
	"github.com/bob10042/aps-m2000-power-analyzer/pkg/metrics"
	"github.com/bob10042/aps-m2000-power-analyzer/pkg/session"
	"github.com/bob10042/aps-m2000-power-analyzer/pkg/sink"
)

// Client request and response types
const (
	requestConnect    = "connect"
	requestDisconnect = "disconnect"
	requestConfigure  = "configure"
)

var errNotRunning = errors.New("acquisition is not running")

type connectRequest struct {
	Interface string `json:"interface"`
	Config    struct {
		Port      string `json:"port"`
		Baud      int    `json:"baud"`
		Host      string `json:"host"`
		TCPPort   int    `json:"tcp_port"`
		USBSerial string `json:"usb_serial"`
	} `json:"config"`
}

type configureRequest struct {
	Channels   []string `json:"channels"`
	Parameters []string `json:"parameters"`
	SampleRate float64  `json:"sample_rate"`
}

type controlResponse struct {
	Type    string `json:"type"`
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
	Error   string `json:"error,omitempty"`
}

// statusResponse is served on /api/status
type statusResponse struct {
	Interface  string   `json:"interface"`
	Endpoint   string   `json:"endpoint"`
	Status     string   `json:"status"`
	Identity   string   `json:"identity,omitempty"`
	Running    bool     `json:"running"`
	Channels   []string `json:"channels"`
	Parameters []string `json:"parameters"`
	SampleRate float64  `json:"sample_rate"`
	Clients    int      `json:"clients"`
	Cycles     uint64   `json:"cycles"`
	Valid      uint64   `json:"valid"`
	CycleRate  float64  `json:"cycle_rate"`
	ErrorRate  float64  `json:"error_rate"`
	LastError  string   `json:"last_error,omitempty"`
}

// controller owns the acquisition behind the web server. Browser clients
// start, stop and reconfigure it; records fan out to the hub, the metrics
// collector and any extra sinks.
type controller struct {
	log       *logrus.Entry
	hub       *sink.Hub
	collector *metrics.Collector // nil when metrics are disabled
	extra     sink.Sink          // nil when no extra sinks are configured
	stats     *acquire.Statistics

	// runMu serializes start and stop. It is held while a stopping run
	// drains, so the run's own callbacks only take mu.
	runMu  sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}

	mu       sync.Mutex
	conf     config.Config
	plan     acquire.Plan
	acfg     acquire.Config
	status   session.Status
	identity string
	lastErr  error
	running  bool
}

func newController(conf config.Config, plan acquire.Plan, acfg acquire.Config, log *logrus.Entry) *controller {
	return &controller{
		log:    log,
		conf:   conf,
		plan:   plan,
		acfg:   acfg,
		stats:  acquire.NewStatistics(),
		status: session.StatusDisconnected,
	}
}

// configMessage describes the acquisition for new and existing clients
func (c *controller) configMessage() sink.ConfigMessage {
	c.mu.Lock()
	defer c.mu.Unlock()
	channels, params := planAxes(c.plan)
	return sink.ConfigMessage{
		Interface:  c.conf.Interface,
		Endpoint:   describeConnection(&c.conf),
		Channels:   channels,
		Parameters: params,
		SampleRate: c.acfg.Rate,
		Connected:  c.status == session.StatusConnected,
	}
}

func (c *controller) snapshot() statusResponse {
	snap := c.stats.Snapshot()
	c.mu.Lock()
	defer c.mu.Unlock()
	channels, params := planAxes(c.plan)
	resp := statusResponse{
		Interface:  c.conf.Interface,
		Endpoint:   describeConnection(&c.conf),
		Status:     string(c.status),
		Identity:   c.identity,
		Running:    c.running,
		Channels:   channels,
		Parameters: params,
		SampleRate: c.acfg.Rate,
		Cycles:     snap.TotalCycles,
		Valid:      snap.ValidCycles,
		CycleRate:  snap.CycleRate,
		ErrorRate:  snap.ErrorRate,
	}
	if c.lastErr != nil {
		resp.LastError = c.lastErr.Error()
	}
	return resp
}

// planAxes lists the distinct channels and parameters in plan order
func planAxes(plan acquire.Plan) (channels, params []string) {
	seenCh := make(map[string]bool)
	seenParam := make(map[string]bool)
	for _, col := range plan.Columns {
		if !seenCh[col.Channel] {
			seenCh[col.Channel] = true
			channels = append(channels, col.Channel)
		}
		if !seenParam[col.Parameter] {
			seenParam[col.Parameter] = true
			params = append(params, col.Parameter)
		}
	}
	return channels, params
}

func (c *controller) onStatus(status session.Status, err error) {
	c.mu.Lock()
	c.status = status
	if err != nil {
		c.lastErr = err
	}
	c.mu.Unlock()

	c.hub.PublishStatus(status, err)
	if c.collector != nil {
		c.collector.ObserveStatus(status, err)
	}
}

func (c *controller) handle(rec m2000.Record) error {
	c.stats.Update(rec)
	if rec.Err != nil {
		c.mu.Lock()
		c.lastErr = rec.Err
		c.mu.Unlock()
	}
	if c.collector != nil {
		c.collector.ObserveRecord(rec)
	}
	err := c.hub.Write(rec)
	if c.extra != nil {
		err = errors.Join(err, c.extra.Write(rec))
	}
	return err
}

// start launches the acquisition in the background
func (c *controller) start(ctx context.Context) error {
	c.runMu.Lock()
	defer c.runMu.Unlock()
	return c.startLocked(ctx)
}

func (c *controller) startLocked(ctx context.Context) error {
	if c.cancel != nil {
		return errors.New("acquisition is already running")
	}

	c.mu.Lock()
	conf := c.conf
	plan := c.plan
	acfg := c.acfg
	c.running = true
	c.identity = ""
	c.mu.Unlock()

	opts := []session.Option{session.WithStatusHandler(c.onStatus)}
	if c.collector != nil {
		opts = append(opts, session.WithObserver(c.collector))
	}
	sess := sessionFor(&conf, opts...)

	sup := &supervisor{
		sess:   sess,
		plan:   plan,
		acfg:   acfg,
		handle: c.handle,
		log:    c.log,
		onRetry: func(err error, retry time.Duration) {
			c.log.WithError(err).WithField("retry", retry).Warn("connect failed")
		},
		onConnected: func(identity string, reconnect bool) {
			c.mu.Lock()
			c.identity = identity
			c.mu.Unlock()
			c.log.WithFields(logrus.Fields{"identity": identity, "reconnect": reconnect}).Info("analyzer connected")
			if err := c.hub.PublishConfig(); err != nil {
				c.log.WithError(err).Error("failed to publish config")
			}
		},
	}

	runCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	c.cancel = cancel
	c.done = done

	go func() {
		defer close(done)
		if err := sup.run(runCtx); err != nil {
			c.log.WithError(err).Error("acquisition stopped")
		}
		c.mu.Lock()
		c.running = false
		c.mu.Unlock()
		if err := c.hub.PublishConfig(); err != nil {
			c.log.WithError(err).Error("failed to publish config")
		}
	}()
	return nil
}

// stop ends the acquisition and waits for the cycle in flight
func (c *controller) stop() error {
	c.runMu.Lock()
	defer c.runMu.Unlock()
	return c.stopLocked()
}

func (c *controller) stopLocked() error {
	if c.cancel == nil {
		return errNotRunning
	}
	c.cancel()
	<-c.done
	c.cancel = nil
	c.done = nil
	return nil
}

// configure validates and applies a new field set and rate, restarting a
// running acquisition.
func (c *controller) configure(ctx context.Context, req configureRequest) error {
	c.mu.Lock()
	channels, params := planAxes(c.plan)
	coupling := strings.ToUpper(c.conf.Acquisition.Coupling)
	acfg := c.acfg
	c.mu.Unlock()

	if len(req.Channels) > 0 {
		channels = req.Channels
	}
	if len(req.Parameters) > 0 {
		params = req.Parameters
	}
	if req.SampleRate != 0 {
		acfg.Rate = req.SampleRate
	}
	plan, err := acquire.NewPlan(channels, params, coupling)
	if err != nil {
		return err
	}
	if err := acfg.Validate(); err != nil {
		return err
	}

	c.runMu.Lock()
	defer c.runMu.Unlock()
	restart := c.stopLocked() == nil

	c.mu.Lock()
	c.plan = plan
	c.acfg = acfg
	c.conf.Acquisition.Channels = channels
	c.conf.Acquisition.Parameters = params
	c.conf.Acquisition.Rate = acfg.Rate
	c.mu.Unlock()

	if restart {
		return c.startLocked(ctx)
	}
	return c.hub.PublishConfig()
}

// connect applies interface overrides and starts the acquisition
func (c *controller) connect(ctx context.Context, req connectRequest) error {
	c.mu.Lock()
	conf := c.conf
	c.mu.Unlock()

	if req.Interface != "" {
		conf.Interface = req.Interface
	}
	if req.Config.Port != "" {
		conf.Serial.Port = req.Config.Port
	}
	if req.Config.Baud != 0 {
		conf.Serial.Baud = req.Config.Baud
	}
	if req.Config.Host != "" {
		conf.LAN.Host = req.Config.Host
	}
	if req.Config.TCPPort != 0 {
		conf.LAN.Port = req.Config.TCPPort
	}
	if req.Config.USBSerial != "" {
		conf.USB.Serial = req.Config.USBSerial
	}
	if err := conf.Validate(); err != nil {
		return err
	}

	c.runMu.Lock()
	defer c.runMu.Unlock()
	if c.cancel != nil {
		return errors.New("already connected, disconnect first")
	}
	c.mu.Lock()
	c.conf = conf
	c.mu.Unlock()
	return c.startLocked(ctx)
}

// requestHandler answers browser requests. Requests run on the client's read
// goroutine; a restart blocks only that client.
func (c *controller) requestHandler(ctx context.Context) sink.RequestHandler {
	return func(req sink.Request) any {
		log := c.log.WithField("request", req.Type)
		var err error
		resp := controlResponse{Type: req.Type + "_response"}

		switch req.Type {
		case requestConnect:
			var r connectRequest
			if err = json.Unmarshal(req.Params, &r); err == nil {
				err = c.connect(ctx, r)
			}
			resp.Message = "connecting"
		case requestDisconnect:
			err = c.stop()
			resp.Message = "disconnected"
		case requestConfigure:
			var r configureRequest
			if err = json.Unmarshal(req.Params, &r); err == nil {
				err = c.configure(ctx, r)
			}
			resp.Message = "configuration applied"
		default:
			err = fmt.Errorf("unknown request type %q", req.Type)
			resp.Type = "error"
		}

		if err != nil {
			log.WithError(err).Warn("request failed")
			resp.Message = ""
			resp.Error = err.Error()
			return resp
		}
		log.Info("request handled")
		resp.Success = true
		return resp
	}
}
