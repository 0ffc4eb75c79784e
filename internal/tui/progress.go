package tui

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/ShayCichocki/weave/internal/orchestrator"
)

// maxLogLines is the number of activity lines kept.
const maxLogLines = 8

// EventMsg carries one orchestrator event into the model.
type EventMsg struct {
	Event orchestrator.Event
}

// eventsClosedMsg signals that the event channel was closed.
type eventsClosedMsg struct{}

type partState string

const (
	partProvisioning partState = "provisioning"
	partRunning      partState = "running"
	partDone         partState = "done"
	partFailed       partState = "failed"
)

type partRow struct {
	index    int
	role     string
	desc     string
	line     string
	state    partState
	err      string
	cost     float64
	duration time.Duration
}

type stepRow struct {
	role     string
	decision string
	cost     float64
}

type mergeRow struct {
	line   string
	merged bool
	paths  []string
	err    string
}

// Model is the bubbletea model of the progress view.
type Model struct {
	spinner spinner.Model
	events  <-chan orchestrator.Event
	onQuit  func()

	task     string
	runID    string
	phase    string
	planned  string
	verdict  string
	parts    map[string]*partRow
	steps    []stepRow
	merges   []mergeRow
	logs     []string
	width    int
	done     bool
	status   string
	runErr   string
	cost     float64
	quitting bool
}

// NewModel creates a progress model reading from events. onQuit, if set, is
// called when the user quits before the run is done.
func NewModel(task string, events <-chan orchestrator.Event, onQuit func()) *Model {
	s := spinner.New()
	s.Spinner = spinner.Dot
	s.Style = titleStyle
	return &Model{
		spinner: s,
		events:  events,
		onQuit:  onQuit,
		task:    task,
		phase:   "starting",
		parts:   make(map[string]*partRow),
		width:   80,
	}
}

// Init implements tea.Model.
func (m *Model) Init() tea.Cmd {
	return tea.Batch(m.spinner.Tick, waitForEvent(m.events))
}

func waitForEvent(ch <-chan orchestrator.Event) tea.Cmd {
	if ch == nil {
		return nil
	}
	return func() tea.Msg {
		ev, ok := <-ch
		if !ok {
			return eventsClosedMsg{}
		}
		return EventMsg{Event: ev}
	}
}

// Update implements tea.Model.
func (m *Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			m.quitting = true
			if !m.done && m.onQuit != nil {
				m.onQuit()
			}
			return m, tea.Quit
		}

	case tea.WindowSizeMsg:
		m.width = msg.Width

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd

	case EventMsg:
		m.apply(msg.Event)
		if m.done {
			return m, tea.Quit
		}
		return m, waitForEvent(m.events)

	case eventsClosedMsg:
		m.done = true
		return m, tea.Quit
	}
	return m, nil
}

// apply folds one event into the view state.
func (m *Model) apply(ev orchestrator.Event) {
	if ev.RunID != "" {
		m.runID = ev.RunID
	}

	switch ev.Type {
	case orchestrator.EventRunStarted:
		m.phase = "planning"
		m.log("run started")
	case orchestrator.EventPlanned:
		m.planned = ev.Message
		m.phase = "decomposing"
		m.log("planned " + ev.Message)
	case orchestrator.EventDecomposed:
		m.verdict = ev.Message
		m.phase = "executing"
		m.log("decomposed: " + ev.Message)
	case orchestrator.EventSubtaskStarted:
		m.phase = "executing"
		p := m.part(ev)
		p.desc = ev.Message
		p.state = partProvisioning
	case orchestrator.EventSubtaskRunning:
		p := m.part(ev)
		p.line = ev.LineID
		p.state = partRunning
		m.log(fmt.Sprintf("part %d (%s) running on %s", ev.Index+1, ev.Role, ev.LineID))
	case orchestrator.EventSubtaskCompleted:
		p := m.part(ev)
		p.state = partDone
		p.cost = ev.Cost
		p.duration = ev.Duration
		m.log(fmt.Sprintf("part %d (%s) completed", ev.Index+1, ev.Role))
	case orchestrator.EventSubtaskFailed:
		p := m.part(ev)
		p.state = partFailed
		if ev.Error != nil {
			p.err = ev.Error.Error()
		}
		m.log(fmt.Sprintf("part %d (%s) failed", ev.Index+1, ev.Role))
	case orchestrator.EventRoutingStep:
		m.phase = "routing"
		m.steps = append(m.steps, stepRow{role: ev.Role, decision: ev.Message, cost: ev.Cost})
	case orchestrator.EventMergeStarted:
		m.phase = "merging"
		m.log("merging into " + ev.Message)
	case orchestrator.EventMergeOutcome:
		row := mergeRow{line: ev.LineID, merged: ev.Message == "" && len(ev.Paths) == 0, paths: ev.Paths, err: ev.Message}
		m.merges = append(m.merges, row)
	case orchestrator.EventMergeCompleted:
		if ev.Error != nil {
			m.log("merge finished with conflicts")
		} else {
			m.log("merge finished")
		}
	case orchestrator.EventRunDone:
		m.done = true
		m.phase = "done"
		m.status = ev.Message
		m.cost = ev.Cost
		if ev.Error != nil {
			m.runErr = ev.Error.Error()
		}
	}
}

func (m *Model) part(ev orchestrator.Event) *partRow {
	p, ok := m.parts[ev.ExecutionID]
	if !ok {
		p = &partRow{index: ev.Index, role: ev.Role}
		m.parts[ev.ExecutionID] = p
	}
	return p
}

func (m *Model) log(line string) {
	m.logs = append(m.logs, line)
	if len(m.logs) > maxLogLines {
		m.logs = m.logs[len(m.logs)-maxLogLines:]
	}
}

// View implements tea.Model.
func (m *Model) View() string {
	var b strings.Builder

	head := titleStyle.Render("weave")
	if !m.done {
		head = m.spinner.View() + " " + head
	}
	b.WriteString(head + mutedStyle.Render("  "+m.phase) + "\n")
	b.WriteString(taskStyle.Width(max(m.width-2, 20)).Render(m.task) + "\n")
	if m.planned != "" {
		b.WriteString(mutedStyle.Render("roles: ") + m.planned + "\n")
	}
	if m.verdict != "" {
		b.WriteString(mutedStyle.Render("plan:  ") + m.verdict + "\n")
	}

	if len(m.parts) > 0 {
		b.WriteString(sectionStyle.Render("Parts") + "\n")
		for _, p := range m.sortedParts() {
			b.WriteString(m.renderPart(p) + "\n")
		}
	}

	if len(m.steps) > 0 {
		b.WriteString(sectionStyle.Render("Routing") + "\n")
		for i, s := range m.steps {
			fmt.Fprintf(&b, "  %d. %s -> %s %s\n", i+1, roleStyle.Render(s.role), s.decision, mutedStyle.Render(fmt.Sprintf("$%.4f", s.cost)))
		}
	}

	if len(m.merges) > 0 {
		b.WriteString(sectionStyle.Render("Merge") + "\n")
		for _, r := range m.merges {
			switch {
			case r.merged:
				fmt.Fprintf(&b, "  %s %s\n", successStyle.Render("✓"), r.line)
			case len(r.paths) > 0:
				fmt.Fprintf(&b, "  %s %s %s\n", errorStyle.Render("✗"), r.line, warnStyle.Render("conflicts: "+strings.Join(r.paths, ", ")))
			default:
				fmt.Fprintf(&b, "  %s %s %s\n", errorStyle.Render("✗"), r.line, mutedStyle.Render(r.err))
			}
		}
	}

	if len(m.logs) > 0 {
		b.WriteString(sectionStyle.Render("Activity") + "\n")
		for _, l := range m.logs {
			b.WriteString(mutedStyle.Render("  "+l) + "\n")
		}
	}

	b.WriteString("\n" + m.footer() + "\n")
	return lipgloss.NewStyle().Padding(0, 1).Render(b.String())
}

func (m *Model) sortedParts() []*partRow {
	rows := make([]*partRow, 0, len(m.parts))
	for _, p := range m.parts {
		rows = append(rows, p)
	}
	sort.Slice(rows, func(i, j int) bool { return rows[i].index < rows[j].index })
	return rows
}

func (m *Model) renderPart(p *partRow) string {
	var mark string
	switch p.state {
	case partDone:
		mark = successStyle.Render("✓")
	case partFailed:
		mark = errorStyle.Render("✗")
	default:
		mark = m.spinner.View()
	}
	line := fmt.Sprintf("  %s %d. %s %s", mark, p.index+1, roleStyle.Render(p.role), p.desc)
	switch p.state {
	case partDone:
		line += mutedStyle.Render(fmt.Sprintf("  %s $%.4f", p.duration.Round(time.Second), p.cost))
	case partFailed:
		line += "  " + errorStyle.Render(p.err)
	default:
		line += mutedStyle.Render("  " + string(p.state))
	}
	return line
}

func (m *Model) footer() string {
	if !m.done {
		return hintStyle.Render("q: cancel run")
	}
	summary := fmt.Sprintf("%s  $%.4f", m.status, m.cost)
	if m.status == "succeeded" {
		return successStyle.Render(summary)
	}
	if m.runErr != "" {
		summary += "  " + m.runErr
	}
	return errorStyle.Render(summary)
}

// Done reports whether the run finished.
func (m *Model) Done() bool {
	return m.done
}
