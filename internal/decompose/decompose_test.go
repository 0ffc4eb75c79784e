package decompose

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/ShayCichocki/weave/internal/agent"
	"github.com/ShayCichocki/weave/internal/roles"
	"github.com/ShayCichocki/weave/pkg/models"
)

// staticWorker returns the same response to every invocation.
func staticWorker(text string, err error) agent.WorkerInvoker {
	return agent.InvokerFunc(func(ctx context.Context, inv agent.Invocation) (*agent.Result, error) {
		if err != nil {
			return nil, err
		}
		return &agent.Result{Text: text}, nil
	})
}

func newTestDecomposer(text string, err error) *Decomposer {
	return New(staticWorker(text, err), roles.Default(), WithMinComplexity(3), WithMaxParts(4))
}

const twoIndependentParts = `Here is the split:
{
  "parallel": true,
  "complexity": 6,
  "task_type": "feature",
  "reasoning": "api and docs are disjoint",
  "parts": [
    {"role": "coder", "description": "add endpoint", "target_files": ["internal/api/handler.go"]},
    {"role": "Documenter", "description": "document endpoint", "target_files": ["docs/"]}
  ]
}
Done.`

func TestDecompose_Accepts(t *testing.T) {
	plan := newTestDecomposer(twoIndependentParts, nil).Decompose(context.Background(), "add an endpoint")

	if !plan.Parallel {
		t.Fatalf("expected parallel plan, got reason %q", plan.Reason)
	}
	if plan.Stage != models.StageAccepted {
		t.Errorf("Stage = %s, want accepted", plan.Stage)
	}
	if len(plan.Parts) != 2 {
		t.Fatalf("Parts = %d, want 2", len(plan.Parts))
	}
	if plan.Parts[1].Role != "documenter" {
		t.Errorf("role should be normalized, got %q", plan.Parts[1].Role)
	}
	if plan.TaskType != models.TaskTypeFeature {
		t.Errorf("TaskType = %q, want FEATURE", plan.TaskType)
	}
	if plan.Complexity != 6 {
		t.Errorf("Complexity = %v, want 6", plan.Complexity)
	}
}

func TestDecompose_SharedFileScenario(t *testing.T) {
	response := `{"complexity": 7, "parts": [
		{"role": "coder", "description": "A", "target_files": ["x"]},
		{"role": "coder", "description": "B", "target_files": ["x"]}
	]}`

	plan := newTestDecomposer(response, nil).Decompose(context.Background(), "task")

	if plan.Parallel {
		t.Fatal("parts sharing x must not run in parallel")
	}
	if plan.Stage != models.StageConflicts {
		t.Errorf("Stage = %s, want conflicts", plan.Stage)
	}
	if !strings.Contains(plan.Reason, "conflicting path x") {
		t.Errorf("Reason = %q, want it to cite x", plan.Reason)
	}
	if len(plan.Parts) != 0 {
		t.Error("a rejected plan must not carry parts")
	}
	if len(plan.Proposed) != 2 {
		t.Errorf("Proposed = %d, want 2", len(plan.Proposed))
	}
}

func TestDecompose_FailsClosed(t *testing.T) {
	tests := []struct {
		name     string
		response string
		err      error
	}{
		{"empty", "", nil},
		{"prose only", "I think this should be split into two parts.", nil},
		{"truncated json", `{"complexity": 5, "parts": [{"role": "coder"`, nil},
		{"wrong types", `{"complexity": "high", "parts": []}`, nil},
		{"string dependencies", `{"complexity": 5, "parts": [{"role":"coder","description":"a","target_files":["a"],"depends_on":["first"]}]}`, nil},
		{"worker error", "", errors.New("worker crashed")},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			plan := newTestDecomposer(tt.response, tt.err).Decompose(context.Background(), "task")
			if plan.Parallel {
				t.Fatal("expected sequential plan")
			}
			if plan.Stage != models.StageAnalysis {
				t.Errorf("Stage = %s, want analysis", plan.Stage)
			}
			if !strings.HasPrefix(plan.Reason, "analysis failed") {
				t.Errorf("Reason = %q, want analysis failed", plan.Reason)
			}
		})
	}
}

func TestDecompose_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	worker := agent.InvokerFunc(func(ctx context.Context, inv agent.Invocation) (*agent.Result, error) {
		return nil, ctx.Err()
	})
	plan := New(worker, roles.Default()).Decompose(ctx, "task")
	if plan.Parallel || !strings.HasPrefix(plan.Reason, "analysis failed") {
		t.Errorf("cancelled decomposition = %+v", plan)
	}
}

func TestDecompose_NoInvoker(t *testing.T) {
	plan := New(nil, roles.Default()).Decompose(context.Background(), "task")
	if plan.Parallel || !strings.HasPrefix(plan.Reason, "analysis failed") {
		t.Errorf("plan = %+v", plan)
	}
}

func TestDecompose_InvokesPlannerRole(t *testing.T) {
	var got agent.Invocation
	worker := agent.InvokerFunc(func(ctx context.Context, inv agent.Invocation) (*agent.Result, error) {
		got = inv
		return &agent.Result{Text: twoIndependentParts}, nil
	})

	New(worker, roles.Default(), WithPlannerRole("Architect"), WithModel("opus")).Decompose(context.Background(), "split me")

	if got.Role != "architect" {
		t.Errorf("Role = %q, want architect", got.Role)
	}
	if got.Model != "opus" {
		t.Errorf("Model = %q, want opus", got.Model)
	}
	if got.WorkDir != "" {
		t.Error("planning worker must not receive a sandbox")
	}
	if !strings.Contains(got.Prompt, "split me") || !strings.Contains(got.Prompt, "- coder") {
		t.Error("prompt should include the task and the role list")
	}
}

func TestEvaluate_Stages(t *testing.T) {
	f := func(v float64) *float64 { return &v }
	no := false
	ok := models.SubtaskSpec{Role: "coder", Description: "d", TargetFiles: []string{"a"}}
	other := models.SubtaskSpec{Role: "tester", Description: "d", TargetFiles: []string{"b"}}
	dependent := other
	dependent.DependsOn = []int{0}

	tests := []struct {
		name      string
		proposal  Proposal
		wantStage models.DecomposeStage
		wantIn    string
	}{
		{"worker declined", Proposal{Parallel: &no, Reasoning: "tiny change", Complexity: f(8), Parts: []models.SubtaskSpec{ok, other}}, models.StageAnalysis, "tiny change"},
		{"missing complexity", Proposal{Parts: []models.SubtaskSpec{ok, other}}, models.StageStructure, "complexity"},
		{"unknown role", Proposal{Complexity: f(8), Parts: []models.SubtaskSpec{ok, {Role: "wizard", Description: "d", TargetFiles: []string{"c"}}}}, models.StageStructure, `unknown role "wizard"`},
		{"missing description", Proposal{Complexity: f(8), Parts: []models.SubtaskSpec{ok, {Role: "coder", TargetFiles: []string{"c"}}}}, models.StageStructure, "missing description"},
		{"missing files", Proposal{Complexity: f(8), Parts: []models.SubtaskSpec{ok, {Role: "coder", Description: "d"}}}, models.StageStructure, "missing target_files"},
		{"blank file", Proposal{Complexity: f(8), Parts: []models.SubtaskSpec{ok, {Role: "coder", Description: "d", TargetFiles: []string{" "}}}}, models.StageStructure, "empty target"},
		{"below floor", Proposal{Complexity: f(2), Parts: []models.SubtaskSpec{ok, other}}, models.StageComplexity, "below"},
		{"single part", Proposal{Complexity: f(8), Parts: []models.SubtaskSpec{ok}}, models.StageCardinality, "[2, 4]"},
		{"too many parts", Proposal{Complexity: f(8), Parts: []models.SubtaskSpec{
			part("1"), part("2"), part("3"), part("4"), part("5"),
		}}, models.StageCardinality, "5 parts"},
		{"dependency", Proposal{Complexity: f(8), Parts: []models.SubtaskSpec{ok, dependent}}, models.StageConflicts, "depends on"},
	}

	d := newTestDecomposer("", nil)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := tt.proposal
			plan := d.Evaluate(&p)
			if plan.Parallel {
				t.Fatal("expected rejection")
			}
			if plan.Stage != tt.wantStage {
				t.Errorf("Stage = %s, want %s (reason %q)", plan.Stage, tt.wantStage, plan.Reason)
			}
			if !strings.Contains(plan.Reason, tt.wantIn) {
				t.Errorf("Reason = %q, want it to contain %q", plan.Reason, tt.wantIn)
			}
		})
	}
}

func TestEvaluate_SuggestsOrderForDependentParts(t *testing.T) {
	c := 8.0
	first := models.SubtaskSpec{Role: "coder", Description: "d", TargetFiles: []string{"b"}, DependsOn: []int{1}}
	second := models.SubtaskSpec{Role: "coder", Description: "d", TargetFiles: []string{"a"}}

	plan := newTestDecomposer("", nil).Evaluate(&Proposal{Complexity: &c, Parts: []models.SubtaskSpec{first, second}})
	if plan.Parallel {
		t.Fatal("expected rejection")
	}
	if len(plan.Order) != 2 || plan.Order[0] != 1 || plan.Order[1] != 0 {
		t.Errorf("Order = %v, want [1 0]", plan.Order)
	}
}

func TestParseResponse_CodeFence(t *testing.T) {
	response := "```json\n{\"complexity\": 4, \"task_type\": \"bogus\", \"parts\": []}\n```"
	p, err := ParseResponse(response)
	if err != nil {
		t.Fatalf("ParseResponse failed: %v", err)
	}
	if p.Complexity == nil || *p.Complexity != 4 {
		t.Errorf("Complexity = %v, want 4", p.Complexity)
	}
	if p.TaskType != "" {
		t.Errorf("unknown task type should be dropped, got %q", p.TaskType)
	}
}

func TestParseResponse_TruncatesPreview(t *testing.T) {
	_, err := ParseResponse(strings.Repeat("z", 1000))
	if err == nil {
		t.Fatal("expected error")
	}
	if !strings.Contains(err.Error(), "(truncated)") {
		t.Errorf("long responses should be truncated in the error: %v", err)
	}
}

func TestBuildPrompt(t *testing.T) {
	prompt := BuildPrompt("do the thing", []models.RoleDescriptor{{Name: "coder", Description: "writes code"}}, 3)
	for _, want := range []string{"- coder: writes code", "at most 3 parts", "do the thing"} {
		if !strings.Contains(prompt, want) {
			t.Errorf("prompt missing %q", want)
		}
	}
}
