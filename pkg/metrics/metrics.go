// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2026 The aps-m2000-power-analyzer Authors

// Package metrics exports session and acquisition activity as Prometheus
// metrics.
package metrics

import (
	"errors"
	"math"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/bob10042/aps-m2000-power-analyzer/pkg/m2000"
	"github.com/bob10042/aps-m2000-power-analyzer/pkg/session"
)

const namespace = "m2000"

// Collector holds the exported metrics. It implements session.Observer and
// can be passed as a session.StatusHandler via ObserveStatus.
type Collector struct {
	Exchanges        *prometheus.CounterVec
	ExchangeDuration *prometheus.HistogramVec
	Cycles           *prometheus.CounterVec
	InstrumentErrors *prometheus.CounterVec
	Values           *prometheus.GaugeVec
	Connected        prometheus.Gauge
	LastSample       prometheus.Gauge
}

// NewCollector creates the metrics and registers them with reg.
func NewCollector(reg prometheus.Registerer) (*Collector, error) {
	c := &Collector{
		Exchanges: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "exchanges_total",
			Help:      "Commands and queries sent, by keyword and result.",
		}, []string{"keyword", "kind", "result"}),

		ExchangeDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "exchange_duration_seconds",
			Help:      "Time from write to terminated reply.",
			Buckets:   []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5},
		}, []string{"keyword"}),

		Cycles: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "acquisition_cycles_total",
			Help:      "Acquisition cycles, by validity.",
		}, []string{"result"}),

		InstrumentErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "instrument_errors_total",
			Help:      "Non-zero error register values, by code.",
		}, []string{"code"}),

		Values: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "measurement",
			Help:      "Latest measured value in base units. NaN when unavailable.",
		}, []string{"channel", "parameter", "unit"}),

		Connected: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "connected",
			Help:      "1 while a session to the analyzer is open.",
		}),

		LastSample: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "last_sample_timestamp_seconds",
			Help:      "Unix time of the latest valid record.",
		}),
	}

	for _, col := range []prometheus.Collector{
		c.Exchanges,
		c.ExchangeDuration,
		c.Cycles,
		c.InstrumentErrors,
		c.Values,
		c.Connected,
		c.LastSample,
	} {
		if err := reg.Register(col); err != nil {
			return nil, err
		}
	}
	return c, nil
}

func result(err error) string {
	if err == nil {
		return "ok"
	}
	var timeout *m2000.TimeoutError
	switch {
	case errors.As(err, &timeout):
		return "timeout"
	case m2000.IsRecoverable(err):
		return "error"
	}
	return "fatal"
}

// ObserveExchange records one command or query.
func (c *Collector) ObserveExchange(keyword string, kind m2000.Kind, elapsed time.Duration, err error) {
	c.Exchanges.WithLabelValues(keyword, kind.String(), result(err)).Inc()
	if kind == m2000.KindQuery && err == nil {
		c.ExchangeDuration.WithLabelValues(keyword).Observe(elapsed.Seconds())
	}
}

// ObserveRecord records one acquisition cycle.
func (c *Collector) ObserveRecord(rec m2000.Record) {
	if !rec.Valid() {
		c.Cycles.WithLabelValues("invalid").Inc()
		var inst *m2000.InstrumentError
		if errors.As(rec.Err, &inst) {
			c.InstrumentErrors.WithLabelValues(strconv.Itoa(inst.Code)).Inc()
		}
		return
	}
	c.Cycles.WithLabelValues("valid").Inc()
	c.LastSample.Set(float64(rec.Timestamp.UnixNano()) / 1e9)
	for _, m := range rec.Measurements {
		v, err := m.Value.Float64()
		if err != nil {
			v = math.NaN()
		}
		c.Values.WithLabelValues(m.Channel, m.Parameter, m.Unit).Set(v)
	}
}

// ObserveStatus tracks the connection signal.
func (c *Collector) ObserveStatus(status session.Status, _ error) {
	if status == session.StatusConnected {
		c.Connected.Set(1)
		return
	}
	c.Connected.Set(0)
}

// Handler serves the metrics gathered by g.
func Handler(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}
