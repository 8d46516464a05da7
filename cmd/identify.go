// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2026 The aps-m2000-power-analyzer Authors

package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var identifyChannels bool

var identifyCmd = &cobra.Command{
	Use:   "identify",
	Short: "Connect, print the analyzer identity and check the error register",
	Long: `Connect to the analyzer, run the reset/clear/identify handshake and print
the identification string.

With --channels the installed power modules of CH1 to CH4 are listed too.

Exit codes:
  0 - Identified and error register clear
  1 - Identified but the error register reported an error
  2 - Connection or identification error`,
	RunE: runIdentify,
}

func init() {
	rootCmd.AddCommand(identifyCmd)
	identifyCmd.Flags().BoolVar(&identifyChannels, "channels", false, "Query channel module information")
}

func runIdentify(cmd *cobra.Command, args []string) error {
	ctx, cancel := signalContext()
	defer cancel()

	sess := openSession(ctx)
	defer sess.Disconnect()

	fmt.Printf("M2000 - Identify\n")
	fmt.Printf("Connection: %s\n\n", connectionInfo())

	id := identityFields(sess.Identity())
	fmt.Printf("Identity:     %s\n", sess.Identity())
	fmt.Printf("Manufacturer: %s\n", id[0])
	fmt.Printf("Model:        %s\n", id[1])
	fmt.Printf("Serial:       %s\n", id[2])
	fmt.Printf("Firmware:     %s\n", id[3])

	if identifyChannels {
		fmt.Printf("\nChannels:\n")
		for _, ch := range []string{"CH1", "CH2", "CH3", "CH4"} {
			info, err := sess.ChannelInfo(ctx, ch)
			if err != nil {
				fmt.Printf("  %s: %v\n", ch, err)
				continue
			}
			fmt.Printf("  %s: %s\n", ch, info)
		}
	}

	if err := sess.CheckError(ctx); err != nil {
		fmt.Printf("\nError register: %v\n", err)
		sess.Disconnect()
		os.Exit(1)
	}
	fmt.Printf("\nError register: clear\n")
	return nil
}
