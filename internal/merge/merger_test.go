package merge

import (
	"context"
	"errors"
	"os"
	"os/exec"
	"path/filepath"
	"reflect"
	"testing"

	werrors "github.com/ShayCichocki/weave/internal/errors"
	"github.com/ShayCichocki/weave/internal/git"
	"github.com/ShayCichocki/weave/pkg/models"
)

// fakeLines scripts Integrate outcomes per line and records every call.
type fakeLines struct {
	conflicts map[string][]string
	failures  map[string]error
	calls     []string
	attempts  int
	discards  int
	deleted   []string
}

func (f *fakeLines) Fork(ctx context.Context, base, hint string) (string, error) {
	return git.LineName(hint), nil
}

func (f *fakeLines) Integrate(ctx context.Context, line, base string) (*git.Integration, error) {
	f.calls = append(f.calls, "integrate "+line)
	f.attempts++
	if err := f.failures[line]; err != nil {
		return nil, err
	}
	if paths, ok := f.conflicts[line]; ok {
		return &git.Integration{Success: false, ConflictedPaths: paths}, nil
	}
	return &git.Integration{Success: true}, nil
}

func (f *fakeLines) DiscardAttempt(ctx context.Context, base string) error {
	f.calls = append(f.calls, "discard "+base)
	f.discards++
	return nil
}

func (f *fakeLines) Delete(ctx context.Context, line string) error {
	f.deleted = append(f.deleted, line)
	return nil
}

func completed(id string, index int, line string) *models.SubtaskExecution {
	e := models.NewSubtaskExecution(id, index, models.SubtaskSpec{Role: "coder"})
	e.HistoryLineID = line
	e.Status = models.ExecutionCompleted
	return e
}

func TestMergeAll_OrdersByIndexAndSkipsIncomplete(t *testing.T) {
	lines := &fakeLines{}
	failed := completed("e-failed", 1, "weave/failed")
	failed.Status = models.ExecutionFailed

	result, err := NewMerger(lines).MergeAll(context.Background(), "main", []*models.SubtaskExecution{
		completed("e2", 2, "weave/two"),
		failed,
		completed("e0", 0, "weave/zero"),
	})
	if err != nil {
		t.Fatalf("MergeAll failed: %v", err)
	}

	want := []string{"integrate weave/zero", "integrate weave/two"}
	if !reflect.DeepEqual(lines.calls, want) {
		t.Errorf("calls = %v, want %v", lines.calls, want)
	}
	if !reflect.DeepEqual(result.Merged, []string{"weave/zero", "weave/two"}) {
		t.Errorf("Merged = %v", result.Merged)
	}
}

func TestMergeAll_ConflictIsDiscardedAndPassContinues(t *testing.T) {
	lines := &fakeLines{conflicts: map[string][]string{"weave/l2": {"x"}}}

	result, err := NewMerger(lines).MergeAll(context.Background(), "main", []*models.SubtaskExecution{
		completed("e1", 0, "weave/l1"),
		completed("e2", 1, "weave/l2"),
		completed("e3", 2, "weave/l3"),
	})

	var mc *werrors.MergeConflictError
	if !errors.As(err, &mc) {
		t.Fatalf("error = %v, want *MergeConflictError", err)
	}
	if mc.Base != "main" || len(mc.Outcomes) != 1 || mc.Outcomes[0].HistoryLineID != "weave/l2" {
		t.Errorf("MergeConflictError = %+v", mc)
	}
	if !reflect.DeepEqual(mc.Paths(), []string{"x"}) {
		t.Errorf("Paths() = %v, want [x]", mc.Paths())
	}

	want := []string{"integrate weave/l1", "integrate weave/l2", "discard main", "integrate weave/l3"}
	if !reflect.DeepEqual(lines.calls, want) {
		t.Errorf("calls = %v, want %v", lines.calls, want)
	}
	if !reflect.DeepEqual(result.Merged, []string{"weave/l1", "weave/l3"}) {
		t.Errorf("Merged = %v", result.Merged)
	}
	if len(result.Outcomes) != 3 {
		t.Errorf("Outcomes = %d, want 3", len(result.Outcomes))
	}
	if result.Outcomes[1].ExecutionID != "e2" || result.Outcomes[1].Merged {
		t.Errorf("Outcomes[1] = %+v", result.Outcomes[1])
	}
}

func TestMerge_IntegrationErrorIsDiscarded(t *testing.T) {
	lines := &fakeLines{failures: map[string]error{"weave/bad": errors.New("checkout failed")}}

	result, err := NewMerger(lines).Merge(context.Background(), "main", []Candidate{{LineID: "weave/bad"}})
	if werrors.KindOf(err) != werrors.KindMergeConflict {
		t.Fatalf("KindOf(err) = %s, want merge_conflict", werrors.KindOf(err))
	}
	if lines.discards != 1 {
		t.Errorf("discards = %d, want 1", lines.discards)
	}
	if result.Conflicts[0].Error != "checkout failed" {
		t.Errorf("Error = %q", result.Conflicts[0].Error)
	}
}

func TestMerge_DeleteMergedAndHook(t *testing.T) {
	lines := &fakeLines{conflicts: map[string][]string{"weave/b": {"y"}}}
	var seen []models.MergeOutcome

	m := NewMerger(lines, WithDeleteMerged(true), WithOutcomeHook(func(o models.MergeOutcome) { seen = append(seen, o) }))
	_, _ = m.Merge(context.Background(), "main", []Candidate{{LineID: "weave/a", Index: 0}, {LineID: "weave/b", Index: 1}})

	if !reflect.DeepEqual(lines.deleted, []string{"weave/a"}) {
		t.Errorf("deleted = %v, want only the merged line", lines.deleted)
	}
	if len(seen) != 2 || !seen[0].Merged || seen[1].Merged {
		t.Errorf("hook saw %+v", seen)
	}
}

func TestMerge_StopsOnCancel(t *testing.T) {
	lines := &fakeLines{}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	result, err := NewMerger(lines).Merge(ctx, "main", []Candidate{{LineID: "weave/a"}})
	if !errors.Is(err, context.Canceled) {
		t.Errorf("error = %v, want context.Canceled", err)
	}
	if lines.attempts != 0 || len(result.Outcomes) != 0 {
		t.Error("no line should be attempted after cancellation")
	}
}

func TestMerge_NoCandidates(t *testing.T) {
	result, err := NewMerger(&fakeLines{}).Merge(context.Background(), "main", nil)
	if err != nil || len(result.Outcomes) != 0 {
		t.Errorf("Merge(nil) = %+v, %v", result, err)
	}
}

// TestMergeAll_RealRepository runs the two-line overlap scenario end to end:
// L1 and L2 both edit x, L1 merges, L2 conflicts and the base is untouched.
func TestMergeAll_RealRepository(t *testing.T) {
	if _, err := exec.LookPath("git"); err != nil {
		t.Skip("git not available")
	}
	ctx := context.Background()
	dir := t.TempDir()
	r := git.NewRunner(dir)
	run := func(args ...string) string {
		t.Helper()
		out, err := r.Run(ctx, args...)
		if err != nil {
			t.Fatalf("git %v: %v", args, err)
		}
		return out
	}
	write := func(name, content string) {
		t.Helper()
		if err := os.WriteFile(filepath.Join(dir, name), []byte(content), 0644); err != nil {
			t.Fatal(err)
		}
	}

	run("init", "-q")
	run("symbolic-ref", "HEAD", "refs/heads/main")
	run("config", "user.email", "weave@example.com")
	run("config", "user.name", "weave")
	run("config", "commit.gpgsign", "false")
	write("x", "base\n")
	run("add", "-A")
	run("commit", "-q", "-m", "initial")

	lines := git.NewLines(r)
	l1, err := lines.Fork(ctx, "main", "l1")
	if err != nil {
		t.Fatal(err)
	}
	l2, err := lines.Fork(ctx, "main", "l2")
	if err != nil {
		t.Fatal(err)
	}
	for line, content := range map[string]string{l1: "one\n", l2: "two\n"} {
		run("checkout", "-q", line)
		write("x", content)
		run("commit", "-q", "-am", "edit x")
	}
	run("checkout", "-q", "main")

	_, err = NewMerger(lines).MergeAll(ctx, "main", []*models.SubtaskExecution{
		completed("e1", 0, l1),
		completed("e2", 1, l2),
	})
	var mc *werrors.MergeConflictError
	if !errors.As(err, &mc) {
		t.Fatalf("error = %v, want *MergeConflictError", err)
	}
	if !reflect.DeepEqual(mc.Paths(), []string{"x"}) {
		t.Errorf("Paths() = %v, want [x]", mc.Paths())
	}

	data, err := os.ReadFile(filepath.Join(dir, "x"))
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != "one\n" {
		t.Errorf("x = %q, want L1's content", data)
	}
	if status := run("status", "--porcelain"); status != "" {
		t.Errorf("base line is dirty after discard:\n%s", status)
	}
	if subject := run("log", "-1", "--format=%s"); subject != "Merge weave/l1 into main" {
		t.Errorf("HEAD = %q, want the L1 merge commit", subject)
	}
}
