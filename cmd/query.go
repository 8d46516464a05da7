// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2026 The aps-m2000-power-analyzer Authors

package cmd

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/bob10042/aps-m2000-power-analyzer/pkg/m2000"
)

var queryNoCheck bool

var queryCmd = &cobra.Command{
	Use:   "query <command>[;<command>...]",
	Short: "Send a raw command or command set",
	Long: `Send any command or semicolon-joined command set to the analyzer.

Each part is classified by its keyword: parts ending in '?' are queries and
produce one reply segment, other parts are commands and produce none. Replies
are printed one per line. The error register is checked afterwards unless
--no-check is given.

Examples:
  m2000 query '*IDN?'
  m2000 query 'READ?,VOLTS:CH1:ACDC,AMPS:CH1:ACDC'
  m2000 query 'CHINFO?,CH1;CHINFO?,CH2'

Exit codes:
  0 - Sent, and error register clear
  1 - Send failed or the error register reported an error
  2 - Connection error`,
	Args: cobra.MinimumNArgs(1),
	RunE: runQuery,
}

func init() {
	rootCmd.AddCommand(queryCmd)
	queryCmd.Flags().BoolVar(&queryNoCheck, "no-check", false, "Do not read the error register afterwards")
}

func runQuery(cmd *cobra.Command, args []string) error {
	command, err := m2000.Raw(strings.Join(args, " "))
	if err != nil {
		return err
	}

	ctx, cancel := signalContext()
	defer cancel()

	sess := openSession(ctx)
	defer sess.Disconnect()

	start := time.Now()
	resp, err := sess.Send(ctx, command)
	if err != nil {
		fmt.Fprintf(os.Stderr, "SEND FAILED: %v\n", err)
		sess.Disconnect()
		os.Exit(1)
	}

	if command.Kind() == m2000.KindCommand {
		fmt.Printf("OK (%s, no reply expected)\n", time.Since(start).Round(time.Millisecond))
	}
	for _, r := range resp.Replies {
		fmt.Println(r)
	}

	if queryNoCheck {
		return nil
	}
	if err := sess.CheckError(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error register: %v\n", err)
		sess.Disconnect()
		os.Exit(1)
	}
	return nil
}
