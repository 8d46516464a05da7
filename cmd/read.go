// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2026 The aps-m2000-power-analyzer Authors

package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/bob10042/aps-m2000-power-analyzer/pkg/acquire"
	"github.com/bob10042/aps-m2000-power-analyzer/pkg/m2000"
	"github.com/bob10042/aps-m2000-power-analyzer/pkg/session"
)

var (
	// Shared by read, stream, monitor and serve
	planChannels []string
	planParams   []string
	planCoupling string

	readJSON bool
)

var readCmd = &cobra.Command{
	Use:   "read",
	Short: "Read channels × parameters once",
	Long: `Send one READ? for every channel/parameter pair and print the values
grouped by channel, with engineering prefixes and units.

Parameters: V, A, W, VA, VAR, PF, FREQ, PHASE, THD, CF, FF.
Channels: CH1 to CH4 and the virtual power channels VPA1 to VPA3.

Example:
  m2000 read --channels CH1,CH2 --params V,A,W,PF`,
	RunE: runRead,
}

func init() {
	rootCmd.AddCommand(readCmd)
	addPlanFlags(readCmd)
	readCmd.Flags().BoolVar(&readJSON, "json", false, "Print the record as JSON")
}

func addPlanFlags(c *cobra.Command) {
	c.Flags().StringSliceVar(&planChannels, "channels", nil, "Channels to read (default from config: CH1)")
	c.Flags().StringSliceVar(&planParams, "params", nil, "Parameters to read (default from config: V,A,W)")
	c.Flags().StringVar(&planCoupling, "coupling", "", "Coupling for V/A/W/VA/VAR: ACDC, AC or DC")
}

// resolvePlan applies the plan flags over the configuration
func resolvePlan(c *cobra.Command) (acquire.Plan, error) {
	if c.Flags().Changed("channels") {
		cfg.Acquisition.Channels = planChannels
	}
	if c.Flags().Changed("params") {
		cfg.Acquisition.Parameters = planParams
	}
	if c.Flags().Changed("coupling") {
		cfg.Acquisition.Coupling = planCoupling
	}
	return cfg.Plan()
}

// acquireOnce runs a single READ? cycle, including the error register poll.
// The session is disconnected afterwards.
func acquireOnce(ctx context.Context, sess *session.Session, plan acquire.Plan) (m2000.Record, error) {
	loop, err := acquire.New(sess, plan, acquire.Config{Rate: acquire.MaxRate, MaxSamples: 1},
		acquire.WithLogger(logger.WithField("component", "acquire")))
	if err != nil {
		sess.Disconnect()
		return m2000.Record{}, err
	}
	var rec m2000.Record
	_, err = loop.Run(ctx, func(r m2000.Record) error {
		rec = r
		return nil
	})
	return rec, err
}

func printOnce(rec m2000.Record, asJSON bool) error {
	if asJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(rec)
	}
	printRecord(os.Stdout, rec, isTerminal(os.Stdout))
	return nil
}

func runRead(cmd *cobra.Command, args []string) error {
	plan, err := resolvePlan(cmd)
	if err != nil {
		return err
	}

	ctx, cancel := signalContext()
	defer cancel()

	sess := openSession(ctx)
	if !readJSON {
		fmt.Printf("M2000 - Read\n")
		fmt.Printf("Connection: %s\n", connectionInfo())
		fmt.Printf("Identity: %s\n\n", sess.Identity())
	}

	rec, err := acquireOnce(ctx, sess, plan)
	if err != nil {
		return err
	}
	if err := printOnce(rec, readJSON); err != nil {
		return err
	}
	if !rec.Valid() {
		os.Exit(1)
	}
	return nil
}
