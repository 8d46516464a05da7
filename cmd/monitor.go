// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2026 The aps-m2000-power-analyzer Authors

package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"

	"github.com/bob10042/aps-m2000-power-analyzer/pkg/acquire"
	"github.com/bob10042/aps-m2000-power-analyzer/pkg/m2000"
	"github.com/bob10042/aps-m2000-power-analyzer/pkg/session"
)

var (
	monitorRate float64
	monitorTUI  bool
)

var monitorCmd = &cobra.Command{
	Use:   "monitor",
	Short: "Live view of measurements with automatic reconnection",
	Long: `Monitor the analyzer in an interactive terminal UI.

Features:
  - Latest formatted values per channel and parameter
  - Cycle statistics (valid, timeouts, malformed replies, instrument errors)
  - Event logging (connection changes, failed cycles)
  - Automatic reconnection on connection loss (1s backoff doubling to 30s)

Without a terminal (or with --tui=false) records are printed as text lines.`,
	RunE: runMonitor,
}

func init() {
	rootCmd.AddCommand(monitorCmd)
	addPlanFlags(monitorCmd)
	monitorCmd.Flags().Float64VarP(&monitorRate, "rate", "r", 2, "Cycles per second")
	monitorCmd.Flags().BoolVar(&monitorTUI, "tui", true, "Use terminal UI (false for text mode)")
}

func runMonitor(cmd *cobra.Command, args []string) error {
	plan, err := resolvePlan(cmd)
	if err != nil {
		return err
	}
	if cmd.Flags().Changed("rate") {
		cfg.Acquisition.Rate = monitorRate
	}
	acfg := cfg.AcquireConfig()
	acfg.Duration = 0
	acfg.MaxSamples = 0
	if err := acfg.Validate(); err != nil {
		return err
	}

	ctx, cancel := signalContext()
	defer cancel()

	if !monitorTUI || !isTerminal(os.Stdout) {
		return runMonitorText(ctx, plan, acfg)
	}

	m := initialMonitorModel(connectionInfo(), plan, acfg.Rate)
	p := tea.NewProgram(m, tea.WithAltScreen(), tea.WithContext(ctx))

	// The TUI owns the terminal; keep logs out of it
	logger.SetOutput(io.Discard)

	sess := newSession(session.WithStatusHandler(func(status session.Status, err error) {
		p.Send(statusMsg{status: status, err: err})
	}))
	sup := &supervisor{
		sess: sess,
		plan: plan,
		acfg: acfg,
		handle: func(rec m2000.Record) error {
			p.Send(recordMsg{rec: rec})
			return nil
		},
		log: logger.WithField("component", "acquire"),
		onLost: func(err error) {
			p.Send(eventMsg{message: fmt.Sprintf("Connection lost: %v", err), isError: true})
		},
		onRetry: func(err error, retry time.Duration) {
			p.Send(eventMsg{message: fmt.Sprintf("Retrying in %s", retry), isError: false})
		},
		onConnected: func(identity string, reconnect bool) {
			p.Send(connectedMsg{identity: identity, reconnect: reconnect})
		},
	}

	runCtx, stop := context.WithCancel(ctx)
	done := make(chan error, 1)
	go func() { done <- sup.run(runCtx) }()

	_, tuiErr := p.Run()
	stop()
	supErr := <-done
	if tuiErr != nil && !errors.Is(tuiErr, tea.ErrProgramKilled) {
		return fmt.Errorf("TUI error: %v", tuiErr)
	}
	return supErr
}

// runMonitorText prints one line per record and reconnects like the TUI
func runMonitorText(ctx context.Context, plan acquire.Plan, acfg acquire.Config) error {
	fmt.Printf("M2000 - Monitor\n")
	fmt.Printf("Connection: %s\n", connectionInfo())
	fmt.Printf("Press Ctrl+C to exit\n\n")

	sess := newSession(session.WithStatusHandler(func(status session.Status, err error) {
		if err != nil {
			fmt.Printf("[%s] %s: %v\n", time.Now().Format("15:04:05.000"), status, err)
			return
		}
		fmt.Printf("[%s] %s\n", time.Now().Format("15:04:05.000"), status)
	}))
	sup := &supervisor{
		sess: sess,
		plan: plan,
		acfg: acfg,
		handle: func(rec m2000.Record) error {
			fmt.Println(recordLine(rec, false))
			return nil
		},
		log: logger.WithField("component", "acquire"),
		onRetry: func(err error, retry time.Duration) {
			fmt.Printf("Retrying in %s\n", retry)
		},
		onConnected: func(identity string, reconnect bool) {
			fmt.Printf("Identity: %s\n", identity)
		},
	}
	return sup.run(ctx)
}
