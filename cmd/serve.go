// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2026 The aps-m2000-power-analyzer Authors

package cmd

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"

	"github.com/bob10042/aps-m2000-power-analyzer/pkg/metrics"
	"github.com/bob10042/aps-m2000-power-analyzer/pkg/sink"
)

var (
	serveAddr    string
	serveRate    float64
	serveIdle    bool
	serveRedis   bool
	serveCSV     string
	shutdownWait = 5 * time.Second
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve live measurements over WebSocket with Prometheus metrics",
	Long: `Run the acquisition in the background and serve it over HTTP.

Endpoints:
  /ws           WebSocket feed: config, status and data messages. Clients
                may send connect, disconnect and configure requests.
  /metrics      Prometheus metrics (path and switch from the configuration)
  /api/status   Acquisition status as JSON
  /health       Liveness check

With --idle the server waits for a connect request instead of connecting
at start. Connection losses are retried with backoff from 1s to 30s.`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
	addPlanFlags(serveCmd)
	serveCmd.Flags().StringVar(&serveAddr, "addr", "", "Listen address (default from config: :8080)")
	serveCmd.Flags().Float64VarP(&serveRate, "rate", "r", 2, "Cycles per second")
	serveCmd.Flags().BoolVar(&serveIdle, "idle", false, "Wait for a client connect request")
	serveCmd.Flags().BoolVar(&serveRedis, "redis", false, "Publish records to Redis")
	serveCmd.Flags().StringVar(&serveCSV, "csv", "", "Log valid records to this CSV file")
}

func runServe(cmd *cobra.Command, args []string) error {
	plan, err := resolvePlan(cmd)
	if err != nil {
		return err
	}
	if cmd.Flags().Changed("addr") {
		cfg.Web.Addr = serveAddr
	}
	if cmd.Flags().Changed("rate") {
		cfg.Acquisition.Rate = serveRate
	}
	if cmd.Flags().Changed("redis") {
		cfg.Redis.Enabled = serveRedis
	}
	if cmd.Flags().Changed("csv") {
		cfg.Acquisition.CSV = serveCSV
	}
	acfg := cfg.AcquireConfig()
	acfg.Duration = 0
	acfg.MaxSamples = 0
	if err := acfg.Validate(); err != nil {
		return err
	}

	ctx, cancel := signalContext()
	defer cancel()

	ctrl := newController(*cfg, plan, acfg, logger.WithField("component", "acquire"))

	extra, err := buildSinks(ctx, plan)
	if err != nil {
		return err
	}
	defer extra.Close()
	if len(extra) > 0 {
		ctrl.extra = extra
	}

	mux := http.NewServeMux()
	if cfg.Metrics.Enabled {
		reg := prometheus.NewRegistry()
		reg.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
		collector, err := metrics.NewCollector(reg)
		if err != nil {
			return fmt.Errorf("failed to register metrics: %w", err)
		}
		ctrl.collector = collector
		mux.Handle(cfg.Metrics.Path, metrics.Handler(reg))
	}

	hub := sink.NewHub(
		sink.WithHubLogger(logger.WithField("component", "hub")),
		sink.WithConfig(ctrl.configMessage),
		sink.WithRequestHandler(ctrl.requestHandler(ctx)),
	)
	ctrl.hub = hub

	mux.Handle("/ws", hub)
	mux.HandleFunc("/api/status", func(w http.ResponseWriter, r *http.Request) {
		resp := ctrl.snapshot()
		resp.Clients = hub.Clients()
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(resp)
	})
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})

	srv := &http.Server{
		Addr:              cfg.Web.Addr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	fmt.Printf("M2000 - Serve\n")
	fmt.Printf("Connection: %s\n", connectionInfo())
	fmt.Printf("Listening on %s (WebSocket /ws", cfg.Web.Addr)
	if cfg.Metrics.Enabled {
		fmt.Printf(", metrics %s", cfg.Metrics.Path)
	}
	fmt.Printf(")\nPress Ctrl+C to stop\n\n")

	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	if !serveIdle {
		if err := ctrl.start(ctx); err != nil {
			return err
		}
	}

	var serveErr error
	select {
	case <-ctx.Done():
	case serveErr = <-errCh:
	}

	logger.Info("shutting down")
	if err := ctrl.stop(); err != nil && !errors.Is(err, errNotRunning) {
		logger.WithError(err).Warn("failed to stop acquisition")
	}
	hub.Close()

	shutdownCtx, done := context.WithTimeout(context.Background(), shutdownWait)
	defer done()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.WithError(err).Warn("server shutdown")
	}
	if serveErr != nil {
		return fmt.Errorf("server failed: %w", serveErr)
	}
	return nil
}
