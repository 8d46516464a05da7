// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2026 The aps-m2000-power-analyzer Authors

package cmd

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/table"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/bob10042/aps-m2000-power-analyzer/pkg/acquire"
	"github.com/bob10042/aps-m2000-power-analyzer/pkg/m2000"
	"github.com/bob10042/aps-m2000-power-analyzer/pkg/session"
)

// Event log entry
type eventLogEntry struct {
	timestamp time.Time
	message   string
	isError   bool // true for errors, false for info
}

// TUI model
type monitorModel struct {
	connInfo      string
	identity      string
	rate          float64
	status        session.Status
	stats         *acquire.Statistics
	lastRecord    *m2000.Record
	values        table.Model
	eventLog      []eventLogEntry
	maxLogEntries int
	width         int
	height        int
	quitting      bool
}

// Messages
type monitorTickMsg time.Time

type recordMsg struct {
	rec m2000.Record
}

type statusMsg struct {
	status session.Status
	err    error
}

type connectedMsg struct {
	identity  string
	reconnect bool
}

type eventMsg struct {
	message string
	isError bool
}

func initialMonitorModel(connInfo string, plan acquire.Plan, rate float64) monitorModel {
	columns := []table.Column{
		{Title: "Channel", Width: 8},
		{Title: "Param", Width: 6},
		{Title: "Value", Width: 16},
		{Title: "Raw (NR3)", Width: 14},
	}
	rows := make([]table.Row, len(plan.Columns))
	for i, c := range plan.Columns {
		rows[i] = table.Row{c.Channel, c.Parameter, m2000.FormatValue(m2000.Unavailable, c.Unit), ""}
	}
	t := table.New(
		table.WithColumns(columns),
		table.WithRows(rows),
		table.WithHeight(len(rows)+1),
	)
	styles := table.DefaultStyles()
	styles.Selected = lipgloss.NewStyle()
	t.SetStyles(styles)

	return monitorModel{
		connInfo:      connInfo,
		rate:          rate,
		status:        session.StatusConnecting,
		stats:         acquire.NewStatistics(),
		values:        t,
		eventLog:      make([]eventLogEntry, 0),
		maxLogEntries: 100,
		width:         80,
		height:        24,
	}
}

func (m monitorModel) Init() tea.Cmd {
	return monitorTickCmd()
}

func monitorTickCmd() tea.Cmd {
	return tea.Tick(time.Second, func(t time.Time) tea.Msg {
		return monitorTickMsg(t)
	})
}

func (m monitorModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			m.quitting = true
			return m, tea.Quit
		case "r":
			m.stats.Reset()
			m.addLogEntry("Statistics reset", false)
		}

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height

	case monitorTickMsg:
		return m, monitorTickCmd()

	case statusMsg:
		m.status = msg.status
		switch {
		case msg.err != nil:
			m.addLogEntry(fmt.Sprintf("%s: %v", msg.status, msg.err), true)
		default:
			m.addLogEntry(string(msg.status), false)
		}

	case connectedMsg:
		m.identity = msg.identity
		if msg.reconnect {
			m.addLogEntry("Reconnected: "+msg.identity, false)
		} else {
			m.addLogEntry("Identified: "+msg.identity, false)
		}

	case eventMsg:
		m.addLogEntry(msg.message, msg.isError)

	case recordMsg:
		m.applyRecord(msg.rec)
	}

	return m, nil
}

func (m *monitorModel) applyRecord(rec m2000.Record) {
	m.stats.Update(rec)
	if !rec.Valid() {
		m.addLogEntry(fmt.Sprintf("Sample %d: %v", rec.Seq, rec.Err), true)
		return
	}
	m.lastRecord = &rec
	rows := make([]table.Row, len(rec.Measurements))
	for i, ms := range rec.Measurements {
		rows[i] = table.Row{ms.Channel, ms.Parameter, ms.Formatted, m2000.FormatNR3(ms.Value)}
	}
	m.values.SetRows(rows)
}

func (m *monitorModel) addLogEntry(message string, isError bool) {
	entry := eventLogEntry{
		timestamp: time.Now(),
		message:   message,
		isError:   isError,
	}
	m.eventLog = append(m.eventLog, entry)

	// Keep only last N entries
	if len(m.eventLog) > m.maxLogEntries {
		m.eventLog = m.eventLog[len(m.eventLog)-m.maxLogEntries:]
	}
}

func (m monitorModel) View() string {
	if m.quitting {
		return "Shutting down...\n"
	}

	// Styles
	titleStyle := lipgloss.NewStyle().
		Bold(true).
		Foreground(lipgloss.Color("12")).
		Background(lipgloss.Color("235")).
		Padding(0, 1)

	boxStyle := lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(lipgloss.Color("240")).
		Padding(0, 1)

	// Header
	var s strings.Builder
	s.WriteString(titleStyle.Render("M2000 - LIVE MONITOR"))
	s.WriteString("\n")
	s.WriteString(dimStyle.Render(fmt.Sprintf("%s | Rate: %.3g Hz | 'r' reset stats | 'q' quit",
		m.connInfo, m.rate)))
	s.WriteString("\n\n")

	// Connection status
	switch m.status {
	case session.StatusConnected:
		s.WriteString(valueStyle.Render("✓ Connected"))
		if m.identity != "" {
			s.WriteString(dimStyle.Render(" " + m.identity))
		}
	case session.StatusFailed:
		s.WriteString(errorStyle.Render("✗ Connection failed, retrying"))
	case session.StatusDisconnected:
		s.WriteString(warningStyle.Render("⏳ Disconnected"))
	default:
		s.WriteString(warningStyle.Render("⏳ Connecting..."))
	}
	s.WriteString("\n\n")

	// Latest values
	title := "Latest Values:"
	if m.lastRecord != nil {
		title = fmt.Sprintf("Latest Values (sample %d, %s):", m.lastRecord.Seq,
			m.lastRecord.Timestamp.Format("15:04:05.000"))
	}
	s.WriteString(labelStyle.Render(title))
	s.WriteString("\n")
	s.WriteString(boxStyle.Render(m.values.View()))
	s.WriteString("\n\n")

	// Statistics
	snap := m.stats.Snapshot()
	var validPercent float64
	if snap.TotalCycles > 0 {
		validPercent = float64(snap.ValidCycles) * 100.0 / float64(snap.TotalCycles)
	}
	failed := snap.TotalCycles - snap.ValidCycles

	statsContent := strings.Builder{}
	statsContent.WriteString(fmt.Sprintf("%s %s   %s %s   %s %s\n",
		labelStyle.Render("Cycles:"), valueStyle.Render(fmt.Sprintf("%d", snap.TotalCycles)),
		labelStyle.Render("Valid:"), valueStyle.Render(fmt.Sprintf("%d (%.1f%%)", snap.ValidCycles, validPercent)),
		labelStyle.Render("Failed:"), errorStyle.Render(fmt.Sprintf("%d", failed)),
	))
	if failed > 0 {
		statsContent.WriteString(fmt.Sprintf("%s %d   %s %d   %s %d   %s %d\n",
			dimStyle.Render("timeouts"), snap.Timeouts,
			dimStyle.Render("malformed"), snap.MalformedReplies,
			dimStyle.Render("count mismatches"), snap.CountMismatches,
			dimStyle.Render("instrument errors"), snap.InstrumentErrors,
		))
	}
	statsContent.WriteString(fmt.Sprintf("%s %s   %s %s",
		labelStyle.Render("Cycle Rate:"), valueStyle.Render(fmt.Sprintf("%.2f /s", snap.CycleRate)),
		labelStyle.Render("Error Rate:"), func() string {
			if snap.ErrorRate > 0 {
				return errorStyle.Render(fmt.Sprintf("%.2f /s", snap.ErrorRate))
			}
			return valueStyle.Render(fmt.Sprintf("%.2f /s", snap.ErrorRate))
		}(),
	))
	s.WriteString(boxStyle.Render(statsContent.String()))
	s.WriteString("\n\n")

	// Event log
	s.WriteString(labelStyle.Render("Recent Events:"))
	s.WriteString("\n")

	logHeight := m.height - 16 - m.values.Height()
	if logHeight < 5 {
		logHeight = 5
	}
	startIdx := len(m.eventLog) - logHeight
	if startIdx < 0 {
		startIdx = 0
	}

	logContent := strings.Builder{}
	if len(m.eventLog) == 0 {
		logContent.WriteString(dimStyle.Render("  (no events yet)"))
	} else {
		for i := startIdx; i < len(m.eventLog); i++ {
			entry := m.eventLog[i]
			timestamp := entry.timestamp.Format("01/02/06 15:04:05.000")
			if entry.isError {
				logContent.WriteString(fmt.Sprintf("%s %s\n",
					dimStyle.Render(timestamp),
					errorStyle.Render("✗ "+entry.message),
				))
			} else {
				logContent.WriteString(fmt.Sprintf("%s %s\n",
					dimStyle.Render(timestamp),
					warningStyle.Render("ℹ "+entry.message),
				))
			}
		}
	}

	s.WriteString(boxStyle.Width(m.width - 4).Render(logContent.String()))

	return s.String()
}
