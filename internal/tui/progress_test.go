package tui

import (
	"errors"
	"strings"
	"testing"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/ShayCichocki/weave/internal/orchestrator"
)

func feed(m *Model, events ...orchestrator.Event) {
	for _, ev := range events {
		m.Update(EventMsg{Event: ev})
	}
}

func TestModel_ParallelRun(t *testing.T) {
	m := NewModel("add login and signup", nil, nil)

	feed(m,
		orchestrator.Event{Type: orchestrator.EventRunStarted, RunID: "r1"},
		orchestrator.Event{Type: orchestrator.EventPlanned, Message: "[coder reviewer] (heuristic)"},
		orchestrator.Event{Type: orchestrator.EventDecomposed, Message: "2 independent parts"},
		orchestrator.Event{Type: orchestrator.EventSubtaskStarted, ExecutionID: "e1", Index: 1, Role: "coder", Message: "signup form"},
		orchestrator.Event{Type: orchestrator.EventSubtaskStarted, ExecutionID: "e0", Index: 0, Role: "coder", Message: "login form"},
		orchestrator.Event{Type: orchestrator.EventSubtaskRunning, ExecutionID: "e0", Index: 0, Role: "coder", LineID: "weave/aaa"},
		orchestrator.Event{Type: orchestrator.EventSubtaskCompleted, ExecutionID: "e0", Index: 0, Role: "coder", Cost: 0.5},
		orchestrator.Event{Type: orchestrator.EventSubtaskFailed, ExecutionID: "e1", Index: 1, Role: "coder", Error: errors.New("worker crashed")},
		orchestrator.Event{Type: orchestrator.EventMergeStarted, Message: "main"},
		orchestrator.Event{Type: orchestrator.EventMergeOutcome, LineID: "weave/aaa"},
	)

	if m.runID != "r1" || m.phase != "merging" {
		t.Errorf("runID/phase = %q/%q", m.runID, m.phase)
	}
	rows := m.sortedParts()
	if len(rows) != 2 || rows[0].desc != "login form" || rows[1].desc != "signup form" {
		t.Fatalf("parts not ordered by index: %+v", rows)
	}
	if rows[0].state != partDone || rows[0].line != "weave/aaa" || rows[1].state != partFailed {
		t.Errorf("states = %s/%s", rows[0].state, rows[1].state)
	}

	view := m.View()
	for _, want := range []string{"add login and signup", "login form", "worker crashed", "weave/aaa", "q: cancel run"} {
		if !strings.Contains(view, want) {
			t.Errorf("view missing %q", want)
		}
	}
}

func TestModel_MergeConflictRow(t *testing.T) {
	m := NewModel("t", nil, nil)
	feed(m, orchestrator.Event{Type: orchestrator.EventMergeOutcome, LineID: "weave/b", Paths: []string{"x.go"}, Message: "conflict"})

	if len(m.merges) != 1 || m.merges[0].merged {
		t.Fatalf("merges = %+v", m.merges)
	}
	if !strings.Contains(m.View(), "conflicts: x.go") {
		t.Error("view should list conflicted paths")
	}
}

func TestModel_SequentialRoutingAndDone(t *testing.T) {
	m := NewModel("fix bug", nil, nil)

	feed(m,
		orchestrator.Event{Type: orchestrator.EventRoutingStep, Role: "coder", Message: "reviewer", Cost: 0.1},
		orchestrator.Event{Type: orchestrator.EventRoutingStep, Role: "reviewer", Message: "COMPLETE"},
	)
	if len(m.steps) != 2 || m.phase != "routing" {
		t.Fatalf("steps = %+v phase = %q", m.steps, m.phase)
	}

	_, cmd := m.Update(EventMsg{Event: orchestrator.Event{Type: orchestrator.EventRunDone, Message: "succeeded", Cost: 0.1}})
	if !m.Done() {
		t.Fatal("model should be done")
	}
	if cmd == nil {
		t.Fatal("run done should quit")
	}
	if _, ok := cmd().(tea.QuitMsg); !ok {
		t.Error("expected tea.Quit")
	}
	if !strings.Contains(m.View(), "succeeded") {
		t.Error("footer should show the status")
	}
}

func TestModel_QuitCancelsRun(t *testing.T) {
	cancelled := false
	m := NewModel("t", nil, func() { cancelled = true })

	m.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune("q")})
	if !cancelled || !m.quitting {
		t.Error("quitting before the run is done should cancel it")
	}
}

func TestModel_QuitAfterDoneDoesNotCancel(t *testing.T) {
	cancelled := false
	m := NewModel("t", nil, func() { cancelled = true })
	feed(m, orchestrator.Event{Type: orchestrator.EventRunDone, Message: "failed"})

	m.Update(tea.KeyMsg{Type: tea.KeyCtrlC})
	if cancelled {
		t.Error("quitting after the run is done should not cancel")
	}
}

func TestModel_ReadsEventChannel(t *testing.T) {
	ch := make(chan orchestrator.Event, 1)
	m := NewModel("t", ch, nil)

	ch <- orchestrator.Event{Type: orchestrator.EventRunStarted, RunID: "r9"}
	msg := waitForEvent(ch)()
	m.Update(msg)
	if m.runID != "r9" {
		t.Errorf("runID = %q, want r9", m.runID)
	}

	close(ch)
	if _, ok := waitForEvent(ch)().(eventsClosedMsg); !ok {
		t.Error("closed channel should yield eventsClosedMsg")
	}
}

func TestModel_LogIsBounded(t *testing.T) {
	m := NewModel("t", nil, nil)
	for range 20 {
		feed(m, orchestrator.Event{Type: orchestrator.EventMergeStarted, Message: "main"})
	}
	if len(m.logs) != maxLogLines {
		t.Errorf("logs = %d, want %d", len(m.logs), maxLogLines)
	}
}
