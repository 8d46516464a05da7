// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2026 The aps-m2000-power-analyzer Authors

package cmd

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/bob10042/aps-m2000-power-analyzer/pkg/acquire"
	"github.com/bob10042/aps-m2000-power-analyzer/pkg/m2000"
	"github.com/bob10042/aps-m2000-power-analyzer/pkg/sink"
)

var (
	streamRate     float64
	streamDuration time.Duration
	streamSamples  int
	streamCSV      string
	streamRedis    bool
	streamQuiet    bool
	streamStats    bool
)

var streamCmd = &cobra.Command{
	Use:   "stream",
	Short: "Acquire measurements continuously at a fixed rate",
	Long: `Run the acquisition loop: one READ? to define the field set, then REREAD?
each cycle at up to --rate cycles per second. The error register is polled
after every cycle and any error marks that record invalid.

The loop never catches up on overrun cycles; when the instrument is slower
than the requested rate the achieved rate is reported at the end.

Records can be logged to CSV (--csv, valid records only, header
Timestamp,CH1_V(V),...) and published to Redis (--redis, settings from the
configuration file). Ctrl+C stops after the cycle in flight.

Exit codes:
  0 - Stopped by limit or interrupt
  1 - Stopped by a connection error
  2 - Connection error at start`,
	RunE: runStream,
}

func init() {
	rootCmd.AddCommand(streamCmd)
	addPlanFlags(streamCmd)
	streamCmd.Flags().Float64VarP(&streamRate, "rate", "r", 2, "Cycles per second")
	streamCmd.Flags().DurationVarP(&streamDuration, "duration", "d", 0, "Stop after this long (0 = until interrupted)")
	streamCmd.Flags().IntVarP(&streamSamples, "samples", "n", 0, "Stop after this many cycles (0 = no limit)")
	streamCmd.Flags().StringVar(&streamCSV, "csv", "", "Log valid records to this CSV file")
	streamCmd.Flags().BoolVar(&streamRedis, "redis", false, "Publish records to Redis")
	streamCmd.Flags().BoolVarP(&streamQuiet, "quiet", "q", false, "Do not print records")
	streamCmd.Flags().BoolVar(&streamStats, "stats", true, "Print statistics when stopped")
}

// resolveAcquire applies the stream flags over the configuration
func resolveAcquire(c *cobra.Command) acquire.Config {
	if c.Flags().Changed("rate") {
		cfg.Acquisition.Rate = streamRate
	}
	if c.Flags().Changed("duration") {
		cfg.Acquisition.Duration = streamDuration
	}
	if c.Flags().Changed("samples") {
		cfg.Acquisition.MaxSamples = streamSamples
	}
	if c.Flags().Changed("csv") {
		cfg.Acquisition.CSV = streamCSV
	}
	if c.Flags().Changed("redis") {
		cfg.Redis.Enabled = streamRedis
	}
	return cfg.AcquireConfig()
}

// buildSinks opens the configured record consumers
func buildSinks(ctx context.Context, plan acquire.Plan) (sink.Multi, error) {
	var sinks sink.Multi
	if cfg.Acquisition.CSV != "" {
		c, err := sink.CreateCSV(cfg.Acquisition.CSV, plan.Headers())
		if err != nil {
			return nil, fmt.Errorf("failed to create CSV log: %w", err)
		}
		sinks = append(sinks, c)
	}
	if cfg.Redis.Enabled {
		r, err := sink.NewRedis(ctx, cfg.SinkRedisConfig(), logger.WithField("component", "redis"))
		if err != nil {
			sinks.Close()
			return nil, err
		}
		sinks = append(sinks, r)
	}
	return sinks, nil
}

func runStream(cmd *cobra.Command, args []string) error {
	plan, err := resolvePlan(cmd)
	if err != nil {
		return err
	}
	acfg := resolveAcquire(cmd)
	if err := acfg.Validate(); err != nil {
		return err
	}

	ctx, cancel := signalContext()
	defer cancel()

	sinks, err := buildSinks(ctx, plan)
	if err != nil {
		return err
	}
	defer sinks.Close()

	color := isTerminal(os.Stdout)
	if !streamQuiet {
		sinks = append(sinks, sink.Func(func(rec m2000.Record) error {
			fmt.Println(recordLine(rec, color))
			return nil
		}))
	}

	sess := openSession(ctx)

	fmt.Printf("M2000 - Stream\n")
	fmt.Printf("Connection: %s\n", connectionInfo())
	fmt.Printf("Identity: %s\n", sess.Identity())
	fmt.Printf("Rate: %.3g Hz, %d values per cycle\n", acfg.Rate, plan.Len())
	if cfg.Acquisition.CSV != "" {
		fmt.Printf("CSV: %s\n", cfg.Acquisition.CSV)
	}
	fmt.Printf("Press Ctrl+C to stop\n\n")

	loop, err := acquire.New(sess, plan, acfg, acquire.WithLogger(logger.WithField("component", "acquire")))
	if err != nil {
		sess.Disconnect()
		return err
	}
	sum, runErr := loop.Run(ctx, sinks.Write)

	fmt.Printf("\n--- Stream summary ---\n")
	fmt.Printf("Samples:        %d\n", sum.Samples)
	fmt.Printf("Failed cycles:  %d\n", sum.Samples-sum.Valid)
	fmt.Printf("Requested rate: %.3f Hz\n", sum.Requested)
	fmt.Printf("Achieved rate:  %.3f Hz\n", sum.Achieved)
	if sum.LastErr != nil {
		fmt.Printf("Last error:     %v\n", sum.LastErr)
	}
	if streamStats {
		fmt.Printf("\n%s", loop.Stats().String())
	}

	if runErr != nil {
		fmt.Fprintf(os.Stderr, "Stopped: %v\n", runErr)
		sinks.Close()
		os.Exit(1)
	}
	return nil
}
