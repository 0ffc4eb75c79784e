//go:build integration

package integration

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/ShayCichocki/weave/internal/agent"
	"github.com/ShayCichocki/weave/internal/decompose"
	"github.com/ShayCichocki/weave/internal/git"
	"github.com/ShayCichocki/weave/internal/logging"
	"github.com/ShayCichocki/weave/internal/merge"
	"github.com/ShayCichocki/weave/internal/orchestrator"
	"github.com/ShayCichocki/weave/internal/planner"
	"github.com/ShayCichocki/weave/internal/roles"
	"github.com/ShayCichocki/weave/internal/router"
	"github.com/ShayCichocki/weave/internal/state"
	"github.com/ShayCichocki/weave/pkg/models"
)

const twoPartProposal = `{
  "parallel": true,
  "complexity": 8,
  "task_type": "FEATURE",
  "reasoning": "separate files",
  "parts": [
    {"role": "coder", "description": "create alpha.txt", "target_files": ["alpha.txt"]},
    {"role": "tester", "description": "create beta.txt", "target_files": ["beta.txt"]}
  ]
}`

// newRepo creates a repository with one commit on main.
func newRepo(t *testing.T) (*git.ExecRunner, string) {
	t.Helper()
	if _, err := exec.LookPath("git"); err != nil {
		t.Skip("git not available")
	}

	dir := t.TempDir()
	r := git.NewRunner(dir)
	for _, args := range [][]string{
		{"init", "-q"},
		{"symbolic-ref", "HEAD", "refs/heads/main"},
		{"config", "user.email", "weave@example.com"},
		{"config", "user.name", "weave"},
		{"config", "commit.gpgsign", "false"},
	} {
		mustGit(t, r, args...)
	}
	writeFile(t, dir, "README.md", "base\n")
	mustGit(t, r, "add", "-A")
	mustGit(t, r, "commit", "-q", "-m", "initial")
	return r, dir
}

func mustGit(t *testing.T, r git.Runner, args ...string) string {
	t.Helper()
	out, err := r.Run(context.Background(), args...)
	if err != nil {
		t.Fatalf("git %v failed: %v", args, err)
	}
	return out
}

func writeFile(t *testing.T, dir, name, content string) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(dir, name), []byte(content), 0644); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
}

// harness wires real git, worktree and state components around a
// scripted invoker.
type harness struct {
	repo    string
	git     *git.ExecRunner
	db      *state.DB
	engine  *orchestrator.Engine
	emitter *orchestrator.EventEmitter
}

func newHarness(t *testing.T, inv agent.WorkerInvoker) *harness {
	t.Helper()
	r, repo := newRepo(t)

	db, err := state.OpenProject(t.TempDir(), state.DriverModernc)
	if err != nil {
		t.Fatalf("OpenProject: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	logger := logging.Nop()
	sandboxes, err := agent.NewWorktreeManager(t.TempDir(), repo, logger)
	if err != nil {
		t.Fatalf("NewWorktreeManager: %v", err)
	}
	lines := git.NewLines(r)
	reg := roles.Default()
	emitter := orchestrator.NewEventEmitter(512, logger)

	engine := orchestrator.NewEngine(orchestrator.Components{
		Planner:     planner.New(reg),
		Decomposer:  decompose.New(inv, reg),
		Router:      router.New(inv, reg, router.WithMaxIterations(5)),
		Coordinator: orchestrator.NewCoordinator(inv, sandboxes, lines, orchestrator.WithMaxConcurrent(2), orchestrator.WithRegistry(reg), orchestrator.WithEmitter(emitter), orchestrator.WithRecorder(db)),
		Merger:      merge.NewMerger(lines, merge.WithDeleteMerged(true)),
		Sandboxes:   sandboxes,
		Lines:       lines,
	}, orchestrator.WithRunRecorder(db), orchestrator.WithEngineEmitter(emitter))

	return &harness{repo: repo, git: r, db: db, engine: engine, emitter: emitter}
}

// run executes task and collects every emitted event.
func (h *harness) run(t *testing.T, req orchestrator.RunRequest) (*orchestrator.RunResult, []orchestrator.Event, error) {
	t.Helper()
	var events []orchestrator.Event
	done := make(chan struct{})
	go func() {
		defer close(done)
		for ev := range h.emitter.Events() {
			events = append(events, ev)
		}
	}()
	result, err := h.engine.Run(context.Background(), req)
	h.emitter.Close()
	<-done
	return result, events, err
}

func (h *harness) show(t *testing.T, ref string) (string, bool) {
	t.Helper()
	out, err := h.git.Run(context.Background(), "show", ref)
	if err != nil {
		return "", false
	}
	return out, true
}

func (h *harness) branchExists(t *testing.T, name string) bool {
	t.Helper()
	ok, err := h.git.BranchExists(context.Background(), name)
	if err != nil {
		t.Fatalf("BranchExists: %v", err)
	}
	return ok
}

// fileWriter scripts parallel workers: the planner gets the proposal and
// every part writes the file named in its prompt.
func fileWriter(proposal string, extra func(inv agent.Invocation) error) agent.InvokerFunc {
	return func(ctx context.Context, inv agent.Invocation) (*agent.Result, error) {
		if inv.WorkDir == "" {
			return &agent.Result{Text: proposal}, nil
		}
		for _, name := range []string{"alpha.txt", "beta.txt"} {
			if strings.Contains(inv.Prompt, name) {
				if err := os.WriteFile(filepath.Join(inv.WorkDir, name), []byte(inv.Role+"\n"), 0644); err != nil {
					return nil, err
				}
			}
		}
		if extra != nil {
			if err := extra(inv); err != nil {
				return nil, err
			}
		}
		return &agent.Result{Text: "done", Cost: 0.01}, nil
	}
}

func TestParallelRunMergesEveryPart(t *testing.T) {
	h := newHarness(t, fileWriter(twoPartProposal, nil))

	result, events, err := h.run(t, orchestrator.RunRequest{Task: "add alpha and beta", Base: "main"})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if result.Run.Status != models.RunSucceeded {
		t.Fatalf("status = %s (%s)", result.Run.Status, result.Run.Error)
	}
	if result.Run.Mode != models.RunModeParallel {
		t.Errorf("mode = %s, want parallel", result.Run.Mode)
	}

	for file, role := range map[string]string{"alpha.txt": "coder", "beta.txt": "tester"} {
		got, ok := h.show(t, "main:"+file)
		if !ok {
			t.Errorf("%s not on main", file)
			continue
		}
		if strings.TrimSpace(got) != role {
			t.Errorf("%s = %q, want %q", file, got, role)
		}
	}

	if len(result.Merge.Merged) != 2 {
		t.Fatalf("merged %d lines, want 2", len(result.Merge.Merged))
	}
	for _, line := range result.Merge.Merged {
		if h.branchExists(t, line) {
			t.Errorf("merged line %s not deleted", line)
		}
	}

	ctx := context.Background()
	stored, err := h.db.GetRun(ctx, result.Run.ID)
	if err != nil {
		t.Fatalf("GetRun: %v", err)
	}
	if stored.Status != models.RunSucceeded || stored.FinishedAt.IsZero() {
		t.Errorf("stored run = %+v", stored)
	}
	execs, err := h.db.ListExecutions(ctx, result.Run.ID)
	if err != nil {
		t.Fatalf("ListExecutions: %v", err)
	}
	if len(execs) != 2 {
		t.Fatalf("stored %d executions, want 2", len(execs))
	}
	for i, e := range execs {
		if e.Index != i || e.Status != models.ExecutionCompleted {
			t.Errorf("execution %d = index %d status %s", i, e.Index, e.Status)
		}
	}
	outcomes, err := h.db.ListMergeOutcomes(ctx, result.Run.ID)
	if err != nil {
		t.Fatalf("ListMergeOutcomes: %v", err)
	}
	if len(outcomes) != 2 {
		t.Errorf("stored %d merge outcomes, want 2", len(outcomes))
	}

	if last := events[len(events)-1]; last.Type != orchestrator.EventRunDone || last.Message != string(models.RunSucceeded) {
		t.Errorf("last event = %+v", last)
	}
}

func TestParallelConflictKeepsLosingLine(t *testing.T) {
	// Both parts also touch a file neither declared.
	shared := func(inv agent.Invocation) error {
		return os.WriteFile(filepath.Join(inv.WorkDir, "shared.txt"), []byte(inv.Role+" was here\n"), 0644)
	}
	h := newHarness(t, fileWriter(twoPartProposal, shared))

	result, _, err := h.run(t, orchestrator.RunRequest{Task: "add alpha and beta", Base: "main"})
	if err == nil {
		t.Fatal("expected merge conflict error")
	}
	if result.Run.Status != models.RunConflicts {
		t.Fatalf("status = %s, want conflicts", result.Run.Status)
	}

	if len(result.Merge.Merged) != 1 || len(result.Merge.Conflicts) != 1 {
		t.Fatalf("merged=%v conflicts=%v", result.Merge.Merged, result.Merge.Conflicts)
	}
	conflict := result.Merge.Conflicts[0]
	if fmt.Sprint(conflict.ConflictedPaths) != "[shared.txt]" {
		t.Errorf("conflicted paths = %v", conflict.ConflictedPaths)
	}
	if !h.branchExists(t, conflict.HistoryLineID) {
		t.Errorf("conflicting line %s was deleted", conflict.HistoryLineID)
	}

	// Plan order decides the winner.
	if got, _ := h.show(t, "main:shared.txt"); strings.TrimSpace(got) != "coder was here" {
		t.Errorf("shared.txt on main = %q", got)
	}
	if _, ok := h.show(t, "main:beta.txt"); ok {
		t.Error("beta.txt from the conflicting line reached main")
	}
	if status := mustGit(t, h.git, "status", "--porcelain"); strings.TrimSpace(status) != "" {
		t.Errorf("base checkout left dirty:\n%s", status)
	}
}

func TestSequentialRunRoutesAndMerges(t *testing.T) {
	var calls atomic.Int32
	inv := agent.InvokerFunc(func(ctx context.Context, inv agent.Invocation) (*agent.Result, error) {
		if inv.WorkDir == "" {
			t.Errorf("unexpected planning call for role %s", inv.Role)
			return &agent.Result{Text: "{}"}, nil
		}
		if calls.Add(1) == 1 {
			if err := os.WriteFile(filepath.Join(inv.WorkDir, "fix.txt"), []byte("fixed\n"), 0644); err != nil {
				return nil, err
			}
			return &agent.Result{Text: "Made the change.\nNEXT: reviewer\nREASON: needs review", Cost: 0.02}, nil
		}
		complete := models.Complete("looks good", true)
		return &agent.Result{Text: "Reviewed.", Decision: &complete, Cost: 0.01}, nil
	})
	h := newHarness(t, inv)

	result, events, err := h.run(t, orchestrator.RunRequest{Task: "fix the typo in the readme", Base: "main", Sequential: true})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if result.Run.Status != models.RunSucceeded || result.Run.Mode != models.RunModeSequential {
		t.Fatalf("run = %s/%s (%s)", result.Run.Status, result.Run.Mode, result.Run.Error)
	}
	if result.Decomposition != nil {
		t.Error("sequential run should skip decomposition")
	}
	if result.Routing.Status != router.StatusCompleted || result.Routing.Iterations != 2 {
		t.Errorf("routing = %s after %d", result.Routing.Status, result.Routing.Iterations)
	}
	if got, ok := h.show(t, "main:fix.txt"); !ok || strings.TrimSpace(got) != "fixed" {
		t.Errorf("fix.txt on main = %q (found %v)", got, ok)
	}

	trace, err := h.db.ListTrace(context.Background(), result.Run.ID)
	if err != nil {
		t.Fatalf("ListTrace: %v", err)
	}
	if len(trace) != 2 {
		t.Fatalf("stored %d trace entries, want 2", len(trace))
	}
	if trace[0].Decision.NextRole != "reviewer" || !trace[1].Decision.IsComplete() {
		t.Errorf("trace decisions = %v, %v", trace[0].Decision, trace[1].Decision)
	}

	steps := 0
	for _, ev := range events {
		if ev.Type == orchestrator.EventRoutingStep {
			steps++
		}
	}
	if steps != 2 {
		t.Errorf("routing step events = %d, want 2", steps)
	}
}

func TestSequentialLoopIsAborted(t *testing.T) {
	inv := agent.InvokerFunc(func(ctx context.Context, inv agent.Invocation) (*agent.Result, error) {
		next := "reviewer"
		if inv.Role == "reviewer" {
			next = "coder"
		}
		return &agent.Result{Text: "NEXT: " + next}, nil
	})
	h := newHarness(t, inv)

	result, _, err := h.run(t, orchestrator.RunRequest{Task: "implement the parser", Base: "main", Sequential: true})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if result.Run.Status != models.RunAborted {
		t.Fatalf("status = %s, want aborted", result.Run.Status)
	}
	if result.Routing.Status != router.StatusLoopDetected {
		t.Errorf("routing status = %s", result.Routing.Status)
	}
	if abort := result.Routing.Abort(); abort == nil || len(abort.Roles) == 0 {
		t.Errorf("abort = %v", abort)
	}
}
