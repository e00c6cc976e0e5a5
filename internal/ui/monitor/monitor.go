// Package monitor renders a live view of every agent's window state and
// worker status from coordination events on the bus.
package monitor

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/mattn/go-runewidth"

	"github.com/zjrosen/conductor/internal/log"
	"github.com/zjrosen/conductor/internal/orchestration/events"
	"github.com/zjrosen/conductor/internal/orchestration/taskboard"
	"github.com/zjrosen/conductor/internal/ui/styles"
)

// DefaultRefreshInterval is how often task counts are re-read.
const DefaultRefreshInterval = time.Second

// maxLogLines is how many recent warnings the monitor keeps.
const maxLogLines = 5

const (
	colAgent  = 8
	colWindow = 20
	colWorker = 10
	colTask   = 14
	minEvent  = 16
)

// Source yields the next bus event as a tea.Msg.
// pubsub.ContinuousListener satisfies it.
type Source interface {
	Listen() tea.Cmd
}

// CountsFunc reports the number of tasks per status.
type CountsFunc func() map[taskboard.Status]int

type refreshMsg time.Time

type agentRow struct {
	id        string
	window    events.WindowState
	worker    events.WorkerStatus
	seen      bool
	taskID    string
	lastEvent string
}

// Model is the monitor's Bubble Tea model.
type Model struct {
	source   Source
	counts   CountsFunc
	logs     Source
	interval time.Duration
	spinner  spinner.Model

	rows   map[string]*agentRow
	order  []string
	tasks    map[taskboard.Status]int
	seen     int
	width    int
	warnings []string
}

// Option configures a Model.
type Option func(*Model)

// WithCounts shows task counts read from fn every interval.
func WithCounts(fn CountsFunc, interval time.Duration) Option {
	return func(m *Model) {
		m.counts = fn
		if interval > 0 {
			m.interval = interval
		}
	}
}

// WithLogs shows the most recent warning and error log lines from source,
// typically log.NewListener. A nil source is ignored.
func WithLogs(source Source) Option {
	return func(m *Model) {
		if source != nil {
			m.logs = source
		}
	}
}

// New creates a monitor for agents fed by source. Agents first seen on the
// bus are appended to the view.
func New(source Source, agents []string, opts ...Option) Model {
	m := Model{
		source:   source,
		interval: DefaultRefreshInterval,
		spinner:  spinner.New(spinner.WithSpinner(spinner.Dot)),
		rows:     make(map[string]*agentRow, len(agents)),
		width:    120,
	}
	m.spinner.Style = lipgloss.NewStyle().Foreground(styles.StatusWarningColor)
	for _, opt := range opts {
		opt(&m)
	}
	for _, id := range agents {
		m.row(id)
	}
	return m
}

// Init starts listening for events.
func (m Model) Init() tea.Cmd {
	cmds := []tea.Cmd{m.source.Listen(), m.spinner.Tick}
	if m.counts != nil {
		cmds = append(cmds, m.refresh())
	}
	if m.logs != nil {
		cmds = append(cmds, m.logs.Listen())
	}
	return tea.Batch(cmds...)
}

// Update handles bus events, key presses and timers.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c", "esc":
			return m, tea.Quit
		}
		return m, nil

	case tea.WindowSizeMsg:
		m.width = msg.Width
		return m, nil

	case events.Event:
		m = m.apply(msg)
		return m, m.source.Listen()

	case log.LogEvent:
		if m.logs == nil {
			return m, nil
		}
		if msg.Topic == log.LevelWarn.Topic() || msg.Topic == log.LevelError.Topic() {
			m.warnings = append(m.warnings, msg.Payload)
			if len(m.warnings) > maxLogLines {
				m.warnings = m.warnings[len(m.warnings)-maxLogLines:]
			}
		}
		return m, m.logs.Listen()

	case refreshMsg:
		m.tasks = m.counts()
		return m, m.refresh()

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	}
	return m, nil
}

func (m Model) refresh() tea.Cmd {
	return tea.Tick(m.interval, func(t time.Time) tea.Msg {
		return refreshMsg(t)
	})
}

// apply folds one event into the agent rows. The rows map is shared between
// copies of the model; Bubble Tea only ever holds the latest one.
func (m Model) apply(ev events.Event) Model {
	if ev.Payload == nil || ev.Payload.Agent() == "" {
		return m
	}
	r := m.row(ev.Payload.Agent())
	m.seen++

	switch v := ev.Payload.(type) {
	case events.StateChange:
		r.window = v.To
	case events.WorkerStatusChange:
		r.worker = v.Status
		r.seen = true
		r.taskID = v.TaskID
	}
	r.lastEvent = events.Describe(ev.Payload)
	return m
}

func (m *Model) row(id string) *agentRow {
	if r, ok := m.rows[id]; ok {
		return r
	}
	r := &agentRow{id: id, window: events.StateUnknown}
	m.rows[id] = r
	m.order = append(m.order, id)
	sort.Strings(m.order)
	return r
}

var (
	titleStyle  = lipgloss.NewStyle().Bold(true).Foreground(styles.TextPrimaryColor)
	headerStyle = lipgloss.NewStyle().Bold(true).Foreground(styles.TextSecondaryColor)
	mutedStyle  = lipgloss.NewStyle().Foreground(styles.TextMutedColor)
	okStyle     = lipgloss.NewStyle().Foreground(styles.StatusSuccessColor)
	busyStyle   = lipgloss.NewStyle().Foreground(styles.StatusWarningColor)
	errStyle    = lipgloss.NewStyle().Foreground(styles.StatusErrorColor)
	boxStyle    = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).
			BorderForeground(styles.BorderDefaultColor).
			Padding(0, 1)
)

// View renders the agent table and task counts.
func (m Model) View() string {
	var b strings.Builder
	b.WriteString(titleStyle.Render("conductor"))
	b.WriteString(mutedStyle.Render(fmt.Sprintf("  %d events", m.seen)))
	b.WriteString("\n\n")

	eventWidth := m.width - colAgent - colWindow - colWorker - colTask - 8
	if eventWidth < minEvent {
		eventWidth = minEvent
	}

	b.WriteString(headerStyle.Render(
		cell("AGENT", colAgent) + cell("WINDOW", colWindow) + cell("WORKER", colWorker) +
			cell("TASK", colTask) + "LAST EVENT"))
	b.WriteString("\n")

	for _, id := range m.order {
		r := m.rows[id]
		b.WriteString(cell(r.id, colAgent))
		b.WriteString(m.renderWindow(r.window))
		b.WriteString(renderWorker(r))
		b.WriteString(cell(orDash(r.taskID), colTask))
		b.WriteString(mutedStyle.Render(runewidth.Truncate(r.lastEvent, eventWidth, "…")))
		b.WriteString("\n")
	}

	if m.counts != nil {
		b.WriteString("\n")
		b.WriteString(m.renderCounts())
		b.WriteString("\n")
	}
	if len(m.warnings) > 0 {
		b.WriteString("\n")
		lineWidth := m.width - 6
		if lineWidth < minEvent {
			lineWidth = minEvent
		}
		for _, w := range m.warnings {
			b.WriteString(errStyle.Render(runewidth.Truncate(w, lineWidth, "…")))
			b.WriteString("\n")
		}
	}
	b.WriteString(mutedStyle.Render("q to quit"))

	return boxStyle.Render(b.String())
}

func (m Model) renderWindow(s events.WindowState) string {
	text := cell(s.String(), colWindow-2)
	switch {
	case s.NeedsRecovery():
		return "  " + errStyle.Render(text)
	case s.IsBusy():
		return m.spinner.View() + " " + busyStyle.Render(text)
	case s == events.StateIdle:
		return "  " + okStyle.Render(text)
	default:
		return "  " + mutedStyle.Render(text)
	}
}

func renderWorker(r *agentRow) string {
	if !r.seen {
		return mutedStyle.Render(cell("-", colWorker))
	}
	text := cell(r.worker.String(), colWorker)
	switch r.worker {
	case events.WorkerWorking:
		return busyStyle.Render(text)
	case events.WorkerRetired:
		return mutedStyle.Render(text)
	default:
		return okStyle.Render(text)
	}
}

func (m Model) renderCounts() string {
	parts := make([]string, 0, len(taskboard.AllStatuses))
	for _, s := range taskboard.AllStatuses {
		parts = append(parts, fmt.Sprintf("%s %d", s, m.tasks[s]))
	}
	return headerStyle.Render("tasks ") + strings.Join(parts, mutedStyle.Render(" · "))
}

// cell truncates s to width display cells and pads it with a trailing gap.
func cell(s string, width int) string {
	s = runewidth.Truncate(s, width-1, "…")
	return runewidth.FillRight(s, width)
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
