package tui

import (
	"fmt"
	"sort"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/ShayCichocki/conductor/internal/workflow"
)

// maxLogEntries is how many activity lines the monitor renders.
const maxLogEntries = 8

// ActiveStep is a step whose worker is running.
type ActiveStep struct {
	StepID string
	Worker string
	Since  time.Time
}

// ProgressState tracks a run as its events arrive.
type ProgressState struct {
	RunID      string
	Plan       string
	Round      int
	StepsTotal int
	StepsDone  int
	Failed     int
	Active     map[string]ActiveStep
}

// EventMsg wraps a workflow event for the program.
type EventMsg struct {
	Event workflow.Event
}

// EventsClosedMsg is sent when the event channel closes.
type EventsClosedMsg struct{}

// RunDoneMsg is sent when the run returns.
type RunDoneMsg struct {
	Output string
	Err    error
}

// WaitForEvent returns a command that delivers the next event from ch.
func WaitForEvent(ch <-chan workflow.Event) tea.Cmd {
	return func() tea.Msg {
		ev, ok := <-ch
		if !ok {
			return EventsClosedMsg{}
		}
		return EventMsg{Event: ev}
	}
}

type logEntry struct {
	Timestamp time.Time
	Kind      string
	Message   string
}

// ProgressModel is a read-only monitor for one workflow run.
type ProgressModel struct {
	events <-chan workflow.Event
	state  ProgressState
	logs   []logEntry
	width  int
	height int

	quitting bool
	done     bool
	output   string
	err      error

	// Styles
	headerStyle   lipgloss.Style
	labelStyle    lipgloss.Style
	valueStyle    lipgloss.Style
	progressFull  lipgloss.Style
	progressEmpty lipgloss.Style
	phaseStyle    lipgloss.Style
	failedStyle   lipgloss.Style
	runningStyle  lipgloss.Style
	logStyle      lipgloss.Style
	logTimeStyle  lipgloss.Style
}

// NewProgressModel creates a monitor reading from events.
func NewProgressModel(events <-chan workflow.Event) *ProgressModel {
	return &ProgressModel{
		events: events,
		state:  ProgressState{Active: make(map[string]ActiveStep)},

		headerStyle: lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("15")).
			BorderStyle(lipgloss.NormalBorder()).
			BorderBottom(true).
			BorderForeground(lipgloss.Color("238")).
			MarginBottom(1),
		labelStyle: lipgloss.NewStyle().
			Foreground(lipgloss.Color("245")).
			Width(16),
		valueStyle: lipgloss.NewStyle().
			Foreground(lipgloss.Color("252")).
			Bold(true),
		progressFull: lipgloss.NewStyle().
			Foreground(lipgloss.Color("34")),
		progressEmpty: lipgloss.NewStyle().
			Foreground(lipgloss.Color("240")),
		phaseStyle: lipgloss.NewStyle().
			Foreground(lipgloss.Color("205")).
			Bold(true),
		failedStyle: lipgloss.NewStyle().
			Foreground(lipgloss.Color("196")),
		runningStyle: lipgloss.NewStyle().
			Foreground(lipgloss.Color("34")),
		logStyle: lipgloss.NewStyle().
			Foreground(lipgloss.Color("245")),
		logTimeStyle: lipgloss.NewStyle().
			Foreground(lipgloss.Color("240")),
	}
}

// Init starts listening for events.
func (m *ProgressModel) Init() tea.Cmd {
	if m.events == nil {
		return nil
	}
	return WaitForEvent(m.events)
}

// Update implements tea.Model.
func (m *ProgressModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			m.quitting = !m.done
			return m, tea.Quit
		}

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height

	case EventMsg:
		m.apply(msg.Event)
		return m, WaitForEvent(m.events)

	case EventsClosedMsg:
		return m, nil

	case RunDoneMsg:
		m.done = true
		m.output = msg.Output
		m.err = msg.Err
	}
	return m, nil
}

// apply folds an event into the progress state.
func (m *ProgressModel) apply(ev workflow.Event) {
	s := &m.state
	if s.RunID == "" {
		s.RunID = ev.RunID
	}

	switch ev.Type {
	case workflow.EventPlanned:
		s.StepsTotal = len(ev.Steps)
		if name, _, ok := strings.Cut(ev.Message, ": "); ok {
			s.Plan = name
		}
		m.log(ev, ev.Message)
	case workflow.EventRoundStarted:
		s.Round = ev.Round
		m.log(ev, fmt.Sprintf("round %d: %s", ev.Round+1, strings.Join(ev.Steps, ", ")))
	case workflow.EventStepStarted:
		s.Active[ev.StepID] = ActiveStep{StepID: ev.StepID, Worker: ev.Worker, Since: ev.Timestamp}
		m.log(ev, fmt.Sprintf("%s started on %s", ev.StepID, ev.Worker))
	case workflow.EventStepCompleted:
		delete(s.Active, ev.StepID)
		s.StepsDone++
		m.log(ev, ev.StepID+" completed")
	case workflow.EventStepFailed:
		delete(s.Active, ev.StepID)
		s.StepsDone++
		s.Failed++
		m.log(ev, fmt.Sprintf("%s failed: %s", ev.StepID, ev.Message))
	case workflow.EventRunDone:
		m.log(ev, "synthesis complete")
	}
}

func (m *ProgressModel) log(ev workflow.Event, message string) {
	ts := ev.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}
	m.logs = append(m.logs, logEntry{Timestamp: ts, Kind: string(ev.Type), Message: message})
}

// State returns the current progress.
func (m *ProgressModel) State() ProgressState {
	return m.state
}

// Output returns the final synthesis once the run is done.
func (m *ProgressModel) Output() string {
	return m.output
}

// Err returns the run error, if any.
func (m *ProgressModel) Err() error {
	return m.err
}

// View implements tea.Model.
func (m *ProgressModel) View() string {
	if m.quitting {
		return "Run cancelled.\n"
	}

	var b strings.Builder
	b.WriteString(m.headerStyle.Render("Workflow Progress"))
	b.WriteString("\n")

	plan := m.state.Plan
	if plan == "" {
		plan = "planning..."
	}
	b.WriteString(m.labelStyle.Render("Plan:"))
	b.WriteString(m.phaseStyle.Render(plan))
	b.WriteString("\n")

	b.WriteString(m.labelStyle.Render("Round:"))
	b.WriteString(m.valueStyle.Render(fmt.Sprintf("%d", m.state.Round+1)))
	b.WriteString("\n")

	pct := float64(0)
	if m.state.StepsTotal > 0 {
		pct = float64(m.state.StepsDone) / float64(m.state.StepsTotal) * 100
	}
	b.WriteString(m.labelStyle.Render("Steps:"))
	b.WriteString(m.valueStyle.Render(fmt.Sprintf("%d/%d complete", m.state.StepsDone, m.state.StepsTotal)))
	if m.state.Failed > 0 {
		b.WriteString("  ")
		b.WriteString(m.failedStyle.Render(fmt.Sprintf("%d failed", m.state.Failed)))
	}
	b.WriteString("\n")
	b.WriteString(m.renderProgressBar(pct, 30))
	b.WriteString("\n\n")

	if len(m.state.Active) > 0 {
		b.WriteString(m.labelStyle.Render("Running:"))
		b.WriteString("\n")
		active := make([]ActiveStep, 0, len(m.state.Active))
		for _, a := range m.state.Active {
			active = append(active, a)
		}
		sort.Slice(active, func(i, j int) bool { return active[i].StepID < active[j].StepID })
		for _, a := range active {
			b.WriteString(fmt.Sprintf("  %s  %s on %s\n", m.runningStyle.Render("running"), a.StepID, a.Worker))
		}
		b.WriteString("\n")
	}

	b.WriteString(m.renderLogs())
	b.WriteString("\n")
	switch {
	case m.done && m.err != nil:
		b.WriteString(m.failedStyle.Bold(true).Render(fmt.Sprintf("Error: %v", m.err)))
	case m.done:
		b.WriteString(m.runningStyle.Bold(true).Render("Run complete! Press q to exit."))
	default:
		b.WriteString(m.logTimeStyle.Render("Press q to cancel"))
	}
	b.WriteString("\n")
	return b.String()
}

func (m *ProgressModel) renderLogs() string {
	if len(m.logs) == 0 {
		return ""
	}
	var b strings.Builder
	b.WriteString(lipgloss.NewStyle().
		Bold(true).
		Foreground(lipgloss.Color("252")).
		Render("Activity Log"))
	b.WriteString("\n")

	start := max(0, len(m.logs)-maxLogEntries)
	for _, entry := range m.logs[start:] {
		ts := m.logTimeStyle.Render(entry.Timestamp.Format("15:04:05"))
		kind := lipgloss.NewStyle().
			Foreground(lipgloss.Color("205")).
			Width(15).
			Render(entry.Kind)
		b.WriteString(fmt.Sprintf("  %s %s %s\n", ts, kind, m.logStyle.Render(entry.Message)))
	}
	return b.String()
}

func (m *ProgressModel) renderProgressBar(pct float64, width int) string {
	pct = min(max(pct, 0), 100)
	filled := int(pct / 100 * float64(width))
	bar := m.progressFull.Render(strings.Repeat("█", filled)) +
		m.progressEmpty.Render(strings.Repeat("░", width-filled))
	return fmt.Sprintf("  %s %.0f%%", bar, pct)
}

// NewProgressProgram creates a program for the run monitor. Send a
// RunDoneMsg when the run returns.
func NewProgressProgram(events <-chan workflow.Event) (*tea.Program, *ProgressModel) {
	m := NewProgressModel(events)
	p := tea.NewProgram(m, tea.WithAltScreen())
	return p, m
}
