// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2026 The aps-m2000-power-analyzer Authors

package cmd

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"golang.org/x/term"

	"github.com/bob10042/aps-m2000-power-analyzer/pkg/m2000"
)

var (
	labelStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("12")).Bold(true)
	valueStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("10"))
	dimStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
	errorStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("9")).Bold(true)
	warningStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("11"))
)

// isTerminal reports whether f is an interactive terminal
func isTerminal(f *os.File) bool {
	return term.IsTerminal(int(f.Fd()))
}

// paint renders s with style when color is enabled
func paint(color bool, style lipgloss.Style, s string) string {
	if !color {
		return s
	}
	return style.Render(s)
}

// groupByChannel keeps first-seen channel order
func groupByChannel(ms []m2000.Measurement) ([]string, map[string][]m2000.Measurement) {
	var order []string
	groups := make(map[string][]m2000.Measurement)
	for _, m := range ms {
		if _, ok := groups[m.Channel]; !ok {
			order = append(order, m.Channel)
		}
		groups[m.Channel] = append(groups[m.Channel], m)
	}
	return order, groups
}

// printRecord writes a record as a table grouped by channel.
func printRecord(w io.Writer, rec m2000.Record, color bool) {
	fmt.Fprintf(w, "%s %s\n", paint(color, dimStyle, rec.Timestamp.Format("2006-01-02 15:04:05.000")),
		paint(color, dimStyle, fmt.Sprintf("sample %d", rec.Seq)))
	if !rec.Valid() {
		fmt.Fprintf(w, "%s %v\n", paint(color, errorStyle, "INVALID:"), rec.Err)
	}
	order, groups := groupByChannel(rec.Measurements)
	for _, ch := range order {
		fmt.Fprintf(w, "%s\n", paint(color, labelStyle, ch+":"))
		for _, m := range groups[ch] {
			style := valueStyle
			if !m.Value.Available() {
				style = warningStyle
			}
			fmt.Fprintf(w, "  %-6s %s\n", m.Parameter, paint(color, style, fmt.Sprintf("%14s", m.Formatted)))
		}
	}
}

// recordLine formats a record on one line for streaming output.
func recordLine(rec m2000.Record, color bool) string {
	var b strings.Builder
	fmt.Fprintf(&b, "[%s] #%-5d ", rec.Timestamp.Format("15:04:05.000"), rec.Seq)
	if !rec.Valid() {
		b.WriteString(paint(color, errorStyle, "INVALID: "+rec.Err.Error()))
		return b.String()
	}
	for i, m := range rec.Measurements {
		if i > 0 {
			b.WriteString("  ")
		}
		style := valueStyle
		if !m.Value.Available() {
			style = warningStyle
		}
		fmt.Fprintf(&b, "%s=%s", m.Key(), paint(color, style, m.Formatted))
	}
	return b.String()
}

// identityFields splits an *IDN? reply into manufacturer, model, serial
// and firmware. Missing fields are empty.
func identityFields(idn string) [4]string {
	var out [4]string
	for i, part := range strings.SplitN(idn, ",", 4) {
		out[i] = strings.TrimSpace(part)
	}
	return out
}
