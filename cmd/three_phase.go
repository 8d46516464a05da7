// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2026 The aps-m2000-power-analyzer Authors

package cmd

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/bob10042/aps-m2000-power-analyzer/pkg/acquire"
	"github.com/bob10042/aps-m2000-power-analyzer/pkg/m2000"
)

var (
	threePhaseCoupling string
	threePhaseJSON     bool
)

var threePhaseCmd = &cobra.Command{
	Use:   "three-phase",
	Short: "Read a three-phase power survey in one command set",
	Long: `Read total power, apparent power, reactive power, power factor and
frequency from the VPA1 virtual channel, plus volts and amps of CH1 to CH3,
with a single READ? of 11 fields.`,
	RunE: runThreePhase,
}

func init() {
	rootCmd.AddCommand(threePhaseCmd)
	threePhaseCmd.Flags().StringVar(&threePhaseCoupling, "coupling", m2000.CouplingACDC, "Coupling: ACDC, AC or DC")
	threePhaseCmd.Flags().BoolVar(&threePhaseJSON, "json", false, "Print the record as JSON")
}

func runThreePhase(cmd *cobra.Command, args []string) error {
	plan, err := acquire.ThreePhasePlan(strings.ToUpper(threePhaseCoupling))
	if err != nil {
		return err
	}
	if _, err := m2000.Read(plan.Fields...); err != nil {
		return err
	}

	ctx, cancel := signalContext()
	defer cancel()

	sess := openSession(ctx)
	if !threePhaseJSON {
		fmt.Printf("M2000 - Three-Phase Survey\n")
		fmt.Printf("Connection: %s\n", connectionInfo())
		fmt.Printf("Identity: %s\n\n", sess.Identity())
	}

	rec, err := acquireOnce(ctx, sess, plan)
	if err != nil {
		return err
	}
	if err := printOnce(rec, threePhaseJSON); err != nil {
		return err
	}
	if !rec.Valid() {
		os.Exit(1)
	}
	return nil
}
