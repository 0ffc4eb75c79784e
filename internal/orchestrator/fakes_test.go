package orchestrator

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/ShayCichocki/weave/internal/agent"
	"github.com/ShayCichocki/weave/internal/git"
	"github.com/ShayCichocki/weave/pkg/models"
)

// fakeLines is an in-memory HistoryLineProvider.
type fakeLines struct {
	mu         sync.Mutex
	forked     []string
	integrated []string
	conflicts  map[string][]string
	// conflictCall makes the nth Integrate call (1-based) conflict on conflictPaths.
	conflictCall  int
	conflictPaths []string
	calls         int
	discards      int
	deleted       []string
	forkErr       error
}

func (f *fakeLines) Fork(ctx context.Context, base, hint string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.forkErr != nil {
		return "", f.forkErr
	}
	line := git.LineName(hint)
	f.forked = append(f.forked, line)
	return line, nil
}

func (f *fakeLines) Integrate(ctx context.Context, line, base string) (*git.Integration, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if paths, ok := f.conflicts[line]; ok {
		return &git.Integration{ConflictedPaths: paths}, nil
	}
	if f.calls == f.conflictCall {
		return &git.Integration{ConflictedPaths: f.conflictPaths}, nil
	}
	f.integrated = append(f.integrated, line)
	return &git.Integration{Success: true}, nil
}

func (f *fakeLines) DiscardAttempt(ctx context.Context, base string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.discards++
	return nil
}

func (f *fakeLines) Delete(ctx context.Context, line string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deleted = append(f.deleted, line)
	return nil
}

// fakeSandboxes tracks live sandboxes and commits.
type fakeSandboxes struct {
	mu        sync.Mutex
	root      string
	live      map[string]bool
	created   int
	destroyed int
	commits   []string
	createErr error
}

func newFakeSandboxes(root string) *fakeSandboxes {
	return &fakeSandboxes{root: root, live: make(map[string]bool)}
}

func (f *fakeSandboxes) Create(ctx context.Context, req agent.SandboxRequest) (*agent.Sandbox, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.createErr != nil {
		return nil, f.createErr
	}
	f.created++
	f.live[req.ID] = true
	return &agent.Sandbox{ID: req.ID, LineID: req.LineID, Path: filepath.Join(f.root, req.ID), CreatedAt: time.Now()}, nil
}

func (f *fakeSandboxes) Destroy(ctx context.Context, sb *agent.Sandbox) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.live[sb.ID] {
		f.destroyed++
		delete(f.live, sb.ID)
	}
	return nil
}

func (f *fakeSandboxes) Commit(ctx context.Context, sb *agent.Sandbox, message string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.live[sb.ID] {
		return false, fmt.Errorf("sandbox %s is not live", sb.ID)
	}
	f.commits = append(f.commits, sb.LineID)
	return true, nil
}

func (f *fakeSandboxes) liveCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.live)
}

// memRecorder is an in-memory RunRecorder.
type memRecorder struct {
	mu       sync.Mutex
	runs     map[string]models.Run
	statuses map[string][]models.ExecutionStatus
	traces   []models.TraceEntry
	outcomes []models.MergeOutcome
}

func (m *memRecorder) CreateRun(ctx context.Context, run *models.Run) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.runs == nil {
		m.runs = make(map[string]models.Run)
	}
	m.runs[run.ID] = *run
	return nil
}

func (m *memRecorder) FinishRun(ctx context.Context, run *models.Run) error {
	return m.CreateRun(ctx, run)
}

func (m *memRecorder) RecordExecution(ctx context.Context, e *models.SubtaskExecution) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.statuses == nil {
		m.statuses = make(map[string][]models.ExecutionStatus)
	}
	m.statuses[e.ID] = append(m.statuses[e.ID], e.Status)
	return nil
}

func (m *memRecorder) RecordTrace(ctx context.Context, runID string, seq int, entry models.TraceEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.traces = append(m.traces, entry)
	return nil
}

func (m *memRecorder) RecordMergeOutcome(ctx context.Context, runID string, o models.MergeOutcome) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.outcomes = append(m.outcomes, o)
	return nil
}

func (m *memRecorder) last(id string) models.ExecutionStatus {
	m.mu.Lock()
	defer m.mu.Unlock()
	s := m.statuses[id]
	if len(s) == 0 {
		return ""
	}
	return s[len(s)-1]
}
