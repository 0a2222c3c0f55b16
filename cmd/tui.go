// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/Thermoquad/cdistat/internal/engine"
	"github.com/Thermoquad/cdistat/internal/recorder"
	"github.com/Thermoquad/cdistat/pkg/cdi"
	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/table"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"go.uber.org/zap"
)

// Event log entry
type eventLogEntry struct {
	timestamp time.Time
	message   string
	isError   bool // true for errors, false for notices
}

// TUI model
type model struct {
	connInfo  string
	recording string

	state   engine.State
	status  string
	latest  *cdi.Telemetry
	stats   cdi.Statistics
	statsFn func() cdi.Statistics

	frames        table.Model
	maxFrameRows  int
	spinner       spinner.Model
	eventLog      []eventLogEntry
	maxLogEntries int

	reconnect func() error

	width    int
	height   int
	quitting bool
}

// Messages
type tickMsg time.Time
type stateMsg struct {
	state  engine.State
	status string
}
type recordMsg struct {
	telemetry cdi.Telemetry
	problems  []cdi.ValidationError
}

var frameColumns = []table.Column{
	{Title: "Time", Width: 12},
	{Title: "RPM", Width: 6},
	{Title: "Battery", Width: 8},
	{Title: "Status", Width: 10},
	{Title: "Timing", Width: 6},
	{Title: "Flags", Width: 24},
}

func initialModel(connInfo string, recording string) model {
	frames := table.New(
		table.WithColumns(frameColumns),
		table.WithHeight(10),
		table.WithFocused(false),
	)
	styles := table.DefaultStyles()
	styles.Header = styles.Header.
		BorderStyle(lipgloss.NormalBorder()).
		BorderForeground(lipgloss.Color("240")).
		BorderBottom(true).
		Bold(true)
	styles.Selected = styles.Selected.Foreground(lipgloss.NoColor{}).Bold(false)
	frames.SetStyles(styles)

	return model{
		connInfo:      connInfo,
		recording:     recording,
		state:         engine.Disconnected,
		status:        engine.StatusDisconnected,
		stats:         *cdi.NewStatistics(),
		frames:        frames,
		maxFrameRows:  200,
		spinner:       spinner.New(spinner.WithSpinner(spinner.Dot)),
		eventLog:      make([]eventLogEntry, 0),
		maxLogEntries: 100,
		width:         80,
		height:        24,
	}
}

func (m model) Init() tea.Cmd {
	return tea.Batch(
		tickCmd(),
		m.spinner.Tick,
		tea.EnterAltScreen,
	)
}

func tickCmd() tea.Cmd {
	return tea.Tick(time.Second, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

func (m model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			m.quitting = true
			return m, tea.Quit
		case "r":
			if m.reconnect != nil && !m.state.Active() {
				m.addLogEntry("Reconnecting", false)
				if err := m.reconnect(); err != nil {
					m.addLogEntry(fmt.Sprintf("Reconnect failed: %v", err), true)
				}
			}
		}

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.frames.SetHeight(m.frameTableHeight())

	case tickMsg:
		if m.statsFn != nil {
			m.stats = m.statsFn()
		}
		return m, tickCmd()

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd

	case stateMsg:
		if msg.state != m.state {
			m.addLogEntry(fmt.Sprintf("%s: %s", msg.state, msg.status), msg.state == engine.Error)
		}
		m.state = msg.state
		m.status = msg.status
		if msg.state == engine.Disconnected {
			m.latest = nil
		}

	case recordMsg:
		rec := msg.telemetry
		m.latest = &rec
		m.addFrameRow(rec, msg.problems)
		for _, p := range msg.problems {
			m.addLogEntry(p.Message, true)
		}
	}

	return m, nil
}

func (m *model) addLogEntry(message string, isError bool) {
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

// addFrameRow puts the newest frame at the top of the table
func (m *model) addFrameRow(t cdi.Telemetry, problems []cdi.ValidationError) {
	flags := "ok"
	if len(problems) > 0 {
		parts := make([]string, 0, len(problems))
		for _, p := range problems {
			switch p.Type {
			case cdi.AnomalyHighRPM:
				parts = append(parts, "high rpm")
			case cdi.AnomalyLowVoltage:
				parts = append(parts, "low batt")
			case cdi.AnomalyHighVoltage:
				parts = append(parts, "high batt")
			}
		}
		flags = strings.Join(parts, ", ")
	}

	row := table.Row{
		t.Timestamp().Format("15:04:05.000"),
		fmt.Sprintf("%d", t.RPM()),
		fmt.Sprintf("%.1f V", t.BatteryVoltage()),
		cdi.FormatStatusBits(t.StatusByte()),
		fmt.Sprintf("%d", t.TimingByte()),
		flags,
	}

	rows := append([]table.Row{row}, m.frames.Rows()...)
	if len(rows) > m.maxFrameRows {
		rows = rows[:m.maxFrameRows]
	}
	m.frames.SetRows(rows)
}

// frameTableHeight gives the table what the fixed sections leave over
func (m model) frameTableHeight() int {
	h := m.height - 26
	if h < 5 {
		h = 5
	}
	return h
}

func (m model) View() string {
	if m.quitting {
		return "Shutting down...\n"
	}

	// Styles
	titleStyle := lipgloss.NewStyle().
		Bold(true).
		Foreground(lipgloss.Color("12")).
		Background(lipgloss.Color("235")).
		Padding(0, 1)

	headerStyle := lipgloss.NewStyle().
		Foreground(lipgloss.Color("241"))

	statsLabelStyle := lipgloss.NewStyle().
		Foreground(lipgloss.Color("12")).
		Bold(true)

	statsValueStyle := lipgloss.NewStyle().
		Foreground(lipgloss.Color("10"))

	errorStyle := lipgloss.NewStyle().
		Foreground(lipgloss.Color("9")).
		Bold(true)

	warningStyle := lipgloss.NewStyle().
		Foreground(lipgloss.Color("11"))

	boxStyle := lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(lipgloss.Color("240")).
		Padding(0, 1)

	// Header
	var s strings.Builder
	s.WriteString(titleStyle.Render("CDISTAT - MONITOR"))
	s.WriteString("\n")
	header := fmt.Sprintf("%s | Press 'q' to quit, 'r' to reconnect", m.connInfo)
	if m.recording != "" {
		header += " | Recording: " + m.recording
	}
	s.WriteString(headerStyle.Render(header))
	s.WriteString("\n\n")

	// Connection status
	switch m.state {
	case engine.Connecting, engine.Initializing:
		s.WriteString(m.spinner.View() + " " + warningStyle.Render(m.status))
	case engine.Monitoring:
		s.WriteString(statsValueStyle.Render("✓ " + m.status))
	case engine.Error:
		s.WriteString(errorStyle.Render("✗ " + m.status))
	default:
		s.WriteString(headerStyle.Render(m.status))
	}
	s.WriteString("\n\n")

	// Latest telemetry
	telemetryContent := strings.Builder{}
	if m.latest == nil {
		telemetryContent.WriteString(headerStyle.Render("(no telemetry yet)"))
	} else {
		t := m.latest
		telemetryContent.WriteString(fmt.Sprintf("%s %s   %s %s\n",
			statsLabelStyle.Render("RPM:"), statsValueStyle.Render(fmt.Sprintf("%5d", t.RPM())),
			statsLabelStyle.Render("Battery:"), statsValueStyle.Render(fmt.Sprintf("%4.1f V", t.BatteryVoltage())),
		))
		telemetryContent.WriteString(fmt.Sprintf("%s %s   %s %s",
			statsLabelStyle.Render("Status:"), statsValueStyle.Render(fmt.Sprintf("0x%02X (%s)", t.StatusByte(), cdi.FormatStatusBits(t.StatusByte()))),
			statsLabelStyle.Render("Timing:"), statsValueStyle.Render(fmt.Sprintf("%d", t.TimingByte())),
		))
	}
	s.WriteString(boxStyle.Render(telemetryContent.String()))
	s.WriteString("\n")

	// Statistics
	st := m.stats
	var validPercent float64
	if total := st.TotalFrames(); total > 0 {
		validPercent = float64(st.ValidFrames) * 100.0 / float64(total)
	}

	statsContent := strings.Builder{}
	statsContent.WriteString(fmt.Sprintf("%s %s   %s %s   %s %s\n",
		statsLabelStyle.Render("Frames:"), statsValueStyle.Render(fmt.Sprintf("%d", st.TotalFrames())),
		statsLabelStyle.Render("Valid:"), statsValueStyle.Render(fmt.Sprintf("%d (%.1f%%)", st.ValidFrames, validPercent)),
		statsLabelStyle.Render("Polls:"), statsValueStyle.Render(fmt.Sprintf("%d (%d empty)", st.Polls, st.EmptyReads)),
	))
	if st.AnomalousFrames > 0 {
		statsContent.WriteString(fmt.Sprintf("%s %s (%s: %d, %s: %d)\n",
			statsLabelStyle.Render("Anomalous:"), warningStyle.Render(fmt.Sprintf("%d", st.AnomalousFrames)),
			headerStyle.Render("high RPM"), st.HighRPM,
			headerStyle.Render("voltage"), st.VoltageOutliers,
		))
	}
	discarded := statsValueStyle.Render(fmt.Sprintf("%d", st.DiscardedBytes()))
	if st.DiscardedBytes() > 0 {
		discarded = warningStyle.Render(fmt.Sprintf("%d (%d overflows)", st.DiscardedBytes(), st.Stream.Overflows))
	}
	statsContent.WriteString(fmt.Sprintf("%s %s   %s %s",
		statsLabelStyle.Render("Frame Rate:"), statsValueStyle.Render(fmt.Sprintf("%.1f frames/s", st.FrameRate)),
		statsLabelStyle.Render("Discarded:"), discarded,
	))
	s.WriteString(boxStyle.Render(statsContent.String()))
	s.WriteString("\n")

	// Frame table
	s.WriteString(statsLabelStyle.Render("Frames:"))
	s.WriteString("\n")
	s.WriteString(boxStyle.Render(m.frames.View()))
	s.WriteString("\n")

	// Event log
	s.WriteString(statsLabelStyle.Render("Recent Events:"))
	s.WriteString("\n")

	logContent := strings.Builder{}
	const logLines = 5
	startIdx := len(m.eventLog) - logLines
	if startIdx < 0 {
		startIdx = 0
	}
	if len(m.eventLog) == 0 {
		logContent.WriteString(headerStyle.Render("  (no events yet)"))
	} else {
		for i := startIdx; i < len(m.eventLog); i++ {
			entry := m.eventLog[i]
			timestamp := entry.timestamp.Format("15:04:05.000")
			if entry.isError {
				logContent.WriteString(fmt.Sprintf("%s %s\n",
					headerStyle.Render(timestamp),
					errorStyle.Render("✗ "+entry.message),
				))
			} else {
				logContent.WriteString(fmt.Sprintf("%s %s\n",
					headerStyle.Render(timestamp),
					warningStyle.Render("ℹ "+entry.message),
				))
			}
		}
	}

	width := m.width - 4
	if width < 20 {
		width = 20
	}
	s.WriteString(boxStyle.Width(width).Render(strings.TrimRight(logContent.String(), "\n")))

	return s.String()
}

// runTUIMode runs the monitor with the terminal UI
func runTUIMode(ctx context.Context, open engine.Opener, connInfo string, rec *recorder.Writer) error {
	// The terminal belongs to the UI; without a log file, discard logs
	engineLogger := logger
	if cfg.Logging.File == "" {
		engineLogger = zap.NewNop()
	}

	recording := ""
	if rec != nil {
		recording = recordPath
	}
	m := initialModel(connInfo, recording)

	var p *tea.Program
	handler := func(t cdi.Telemetry) {
		if rec != nil {
			if err := rec.Write(t); err != nil {
				engineLogger.Warn("record telemetry", zap.Error(err))
			}
		}
		p.Send(recordMsg{telemetry: t, problems: cdi.Validate(t)})
	}

	eng := engine.New(cfg.Engine(), engineLogger, engine.WithRecordHandler(handler))
	m.statsFn = eng.Stats
	m.reconnect = func() error {
		return eng.Connect(ctx, open)
	}

	p = tea.NewProgram(m, tea.WithContext(ctx))

	// Forward lifecycle and status changes to the UI
	states, cancelStates := eng.State().Subscribe()
	defer cancelStates()
	go func() {
		for state := range states {
			p.Send(stateMsg{state: state, status: eng.Status().Get()})
		}
	}()
	statuses, cancelStatuses := eng.Status().Subscribe()
	defer cancelStatuses()
	go func() {
		for status := range statuses {
			p.Send(stateMsg{state: eng.State().Get(), status: status})
		}
	}()

	if err := eng.Connect(ctx, open); err != nil {
		return err
	}

	_, err := p.Run()
	eng.Disconnect()
	eng.Wait()

	if err != nil && ctx.Err() == nil {
		return fmt.Errorf("TUI error: %w", err)
	}
	return nil
}
