// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2026 The aps-m2000-power-analyzer Authors
//
// m2000 - APS M2000 Power Analyzer CLI
//
// Identifies, queries and samples an APS M2000 power analyzer over RS-232,
// TCP or USB HID, and streams the measurements to the terminal, CSV files,
// Redis, WebSocket clients and Prometheus.

package main

import (
	"os"

	"github.com/bob10042/aps-m2000-power-analyzer/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
