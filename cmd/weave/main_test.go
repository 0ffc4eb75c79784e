package main

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/fatih/color"

	"github.com/ShayCichocki/weave/internal/config"
	"github.com/ShayCichocki/weave/internal/merge"
	"github.com/ShayCichocki/weave/internal/orchestrator"
	"github.com/ShayCichocki/weave/internal/roles"
	"github.com/ShayCichocki/weave/pkg/models"
)

func init() {
	color.NoColor = true
}

func TestScaffoldConfigLoads(t *testing.T) {
	data, err := scaffoldConfig(config.Default(), config.BackendCLI)
	if err != nil {
		t.Fatalf("scaffoldConfig: %v", err)
	}
	path := filepath.Join(t.TempDir(), config.ProjectConfigName)
	if err := os.WriteFile(path, data, 0644); err != nil {
		t.Fatal(err)
	}

	cfg, err := config.LoadFromPath(path)
	if err != nil {
		t.Fatalf("LoadFromPath: %v\n%s", err, data)
	}
	if cfg.Worker.Backend != config.BackendCLI {
		t.Errorf("backend = %q, want cli", cfg.Worker.Backend)
	}
	if cfg.Roles.File != rolesFile {
		t.Errorf("roles.file = %q, want %q", cfg.Roles.File, rolesFile)
	}
	if cfg.Timeouts.Default != config.Default().Timeouts.Default {
		t.Errorf("timeouts.default = %v", cfg.Timeouts.Default)
	}
}

func TestScaffoldRolesParses(t *testing.T) {
	data, err := scaffoldRoles(roles.DefaultRoles())
	if err != nil {
		t.Fatalf("scaffoldRoles: %v", err)
	}
	reg, err := roles.Parse(data)
	if err != nil {
		t.Fatalf("Parse: %v\n%s", err, data)
	}
	if reg.Len() != len(roles.DefaultRoles()) {
		t.Errorf("parsed %d roles, want %d", reg.Len(), len(roles.DefaultRoles()))
	}
	if !reg.Has("coder") {
		t.Error("coder role missing")
	}
}

func TestUpdateGitignoreIdempotent(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, ".gitignore")
	if err := os.WriteFile(path, []byte("bin/"), 0644); err != nil {
		t.Fatal(err)
	}

	for range 2 {
		if err := updateGitignore(dir); err != nil {
			t.Fatalf("updateGitignore: %v", err)
		}
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	content := string(data)
	if !strings.HasPrefix(content, "bin/\n") {
		t.Errorf("existing entries not kept:\n%s", content)
	}
	for _, entry := range gitignoreEntries {
		if n := strings.Count(content, entry); n != 1 {
			t.Errorf("%s appears %d times", entry, n)
		}
	}
}

func TestFindGitRoot(t *testing.T) {
	root := t.TempDir()
	if err := os.Mkdir(filepath.Join(root, ".git"), 0755); err != nil {
		t.Fatal(err)
	}
	nested := filepath.Join(root, "a", "b")
	if err := os.MkdirAll(nested, 0755); err != nil {
		t.Fatal(err)
	}

	got, err := findGitRoot(nested)
	if err != nil {
		t.Fatalf("findGitRoot: %v", err)
	}
	if got != root {
		t.Errorf("findGitRoot = %q, want %q", got, root)
	}
}

func TestInRepo(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"", ""},
		{"/etc/roles.yaml", "/etc/roles.yaml"},
		{".weave/roles.yaml", "/repo/.weave/roles.yaml"},
	}
	for _, tt := range tests {
		if got := inRepo("/repo", tt.in); got != tt.want {
			t.Errorf("inRepo(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestPrintSummaryParallel(t *testing.T) {
	result := &orchestrator.RunResult{
		Run: &models.Run{ID: "0123456789abcdef", Base: "main", Mode: models.RunModeParallel, Status: models.RunConflicts, Cost: 0.5, Error: "merge conflict"},
		Plan: &models.TaskPlan{RoleSequence: []string{"coder", "reviewer"}},
		Parallel: &orchestrator.ParallelResult{
			Executions: []*models.SubtaskExecution{
				{Index: 0, HistoryLineID: "weave/part-a"},
				{Index: 1, HistoryLineID: "weave/part-b"},
			},
			Failed: []orchestrator.FailedSubtask{{Index: 1, Err: errors.New("worker crashed")}},
		},
		Merge: &merge.Result{
			Merged:    []string{"weave/part-a"},
			Conflicts: []models.MergeOutcome{{HistoryLineID: "weave/part-c", ConflictedPaths: []string{"go.mod"}}},
		},
	}

	var buf bytes.Buffer
	printSummary(&buf, result)
	out := buf.String()

	for _, want := range []string{
		"Run 01234567: conflicts",
		"Roles: coder -> reviewer",
		"part 2: worker crashed",
		"kept branch weave/part-b",
		"Merged: 1 line(s)",
		"weave/part-c: conflict in go.mod",
		"Error: merge conflict",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("summary missing %q:\n%s", want, out)
		}
	}
}

func TestPrintSummaryNil(t *testing.T) {
	var buf bytes.Buffer
	printSummary(&buf, nil)
	if buf.Len() != 0 {
		t.Errorf("expected no output, got %q", buf.String())
	}
}

func TestPrintEvent(t *testing.T) {
	ts := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	tests := []struct {
		name string
		ev   orchestrator.Event
		want string
	}{
		{"merged", orchestrator.Event{Type: orchestrator.EventMergeOutcome, LineID: "weave/x", Timestamp: ts}, "merged weave/x"},
		{"conflict", orchestrator.Event{Type: orchestrator.EventMergeOutcome, LineID: "weave/x", Message: "conflict", Paths: []string{"a.go"}, Timestamp: ts}, "weave/x: conflict a.go"},
		{"failed part", orchestrator.Event{Type: orchestrator.EventSubtaskFailed, Index: 2, Role: "tester", Error: errors.New("boom"), Timestamp: ts}, "part 3 [tester] boom"},
		{"routing step", orchestrator.Event{Type: orchestrator.EventRoutingStep, Role: "coder", Message: "next: reviewer", Timestamp: ts}, "coder -> next: reviewer"},
		{"default", orchestrator.Event{Type: orchestrator.EventDecomposed, Message: "too simple", Timestamp: ts}, "decomposed: too simple"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			printEvent(&buf, tt.ev)
			if !strings.Contains(buf.String(), tt.want) {
				t.Errorf("printEvent = %q, want substring %q", buf.String(), tt.want)
			}
			if !strings.HasPrefix(buf.String(), "03:04:05") {
				t.Errorf("missing timestamp: %q", buf.String())
			}
		})
	}

	var buf bytes.Buffer
	printEvent(&buf, orchestrator.Event{Type: orchestrator.EventRunDone})
	if buf.Len() != 0 {
		t.Errorf("run_done should print nothing, got %q", buf.String())
	}
}

func TestPrintDecomposition(t *testing.T) {
	plan := models.Plan{
		Parallel: false,
		Stage:    models.StageConflicts,
		Reason:   "part 2 depends on part 1",
		Proposed: []models.SubtaskSpec{
			{Role: "coder", Description: "schema", TargetFiles: []string{"db/"}},
			{Role: "coder", Description: "handler", TargetFiles: []string{"api/"}, DependsOn: []int{0}},
		},
		Order: []int{0, 1},
	}

	var buf bytes.Buffer
	printDecomposition(&buf, plan)
	out := buf.String()
	for _, want := range []string{"sequential (conflicts)", "Rejected proposal:", "2. [coder] handler", "depends on: [1]", "Suggested order: [1 2]"} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
}

func TestTruncate(t *testing.T) {
	if got := truncate("short", 10); got != "short" {
		t.Errorf("truncate = %q", got)
	}
	if got := truncate("line one\nline two", 12); got != "line one ..." {
		t.Errorf("truncate = %q", got)
	}
}

func TestApplyRunOverrides(t *testing.T) {
	t.Cleanup(func() { runBackend, runMaxConcurrent = "", 0 })

	cfg := config.Default()
	runBackend, runMaxConcurrent = config.BackendCLI, 7
	if err := applyRunOverrides(cfg); err != nil {
		t.Fatalf("applyRunOverrides: %v", err)
	}
	if cfg.Worker.Backend != config.BackendCLI || cfg.Parallel.MaxConcurrent != 7 {
		t.Errorf("overrides not applied: %+v %+v", cfg.Worker, cfg.Parallel)
	}

	runBackend = "carrier-pigeon"
	if err := applyRunOverrides(config.Default()); err == nil {
		t.Error("expected error for unknown backend")
	}
}
