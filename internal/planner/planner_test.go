package planner

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ShayCichocki/weave/internal/agent"
	"github.com/ShayCichocki/weave/internal/roles"
	"github.com/ShayCichocki/weave/pkg/models"
)

func replying(text string) agent.WorkerInvoker {
	return agent.InvokerFunc(func(ctx context.Context, inv agent.Invocation) (*agent.Result, error) {
		return &agent.Result{Text: text}, nil
	})
}

func TestPlanner_WorkerStrategy(t *testing.T) {
	var got agent.Invocation
	invoker := agent.InvokerFunc(func(ctx context.Context, inv agent.Invocation) (*agent.Result, error) {
		got = inv
		return &agent.Result{Text: "Here is the plan:\n" +
			`{"roles": ["Architect", "wizard", "coder", "coder"], "task_type": "feature", "complexity": 6, "reasoning": "needs design first"}`}, nil
	})

	p := New(roles.Default(), WithWorker(invoker, "", "claude-haiku"))
	plan := p.Plan(context.Background(), "add an orders API")

	assert.Equal(t, "worker", plan.Strategy)
	assert.Equal(t, []string{"architect", "coder"}, plan.RoleSequence)
	assert.Equal(t, []string{"wizard"}, plan.DroppedRoles)
	assert.Equal(t, models.TaskTypeFeature, plan.TaskType)
	assert.Equal(t, 6, plan.Complexity)
	assert.Equal(t, "planner", got.Role)
	assert.Equal(t, "claude-haiku", got.Model)
	assert.Contains(t, got.Prompt, "add an orders API")
	assert.Contains(t, got.Prompt, "- tester: Writes and runs tests")
}

func TestPlanner_FallsBackToHeuristic(t *testing.T) {
	tests := []struct {
		name    string
		invoker agent.WorkerInvoker
	}{
		{"invoke error", agent.InvokerFunc(func(ctx context.Context, inv agent.Invocation) (*agent.Result, error) {
			return nil, errors.New("rate limited")
		})},
		{"not json", replying("I think the coder should do it.")},
		{"malformed json", replying(`{"roles": [coder]}`)},
		{"only unknown roles", replying(`{"roles": ["wizard", "bard"]}`)},
		{"empty roles", replying(`{"roles": []}`)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			plan := New(roles.Default(), WithWorker(tt.invoker, "planner", "")).Plan(context.Background(), "fix the crash in the parser")
			require.NotNil(t, plan)
			assert.Equal(t, "heuristic", plan.Strategy)
			assert.NotEmpty(t, plan.RoleSequence)
		})
	}
}

func TestPlanner_WorkerFillsInvalidFields(t *testing.T) {
	p := New(roles.Default(), WithWorker(replying(`{"roles": ["coder"], "task_type": "CHORE", "complexity": 42}`), "", ""))
	plan := p.Plan(context.Background(), "fix the login bug")

	assert.Equal(t, "worker", plan.Strategy)
	assert.Equal(t, models.TaskTypeBugfix, plan.TaskType)
	assert.GreaterOrEqual(t, plan.Complexity, 1)
	assert.LessOrEqual(t, plan.Complexity, 10)
}

func TestPlanner_StrategyOrder(t *testing.T) {
	p := New(roles.Default(), WithWorker(replying("{}"), "", ""))
	assert.Equal(t, []string{"worker", "heuristic"}, p.Strategies())
	assert.Equal(t, []string{"heuristic"}, New(roles.Default()).Strategies())
}

func TestPlanner_CancelledContextStillPlans(t *testing.T) {
	called := false
	invoker := agent.InvokerFunc(func(ctx context.Context, inv agent.Invocation) (*agent.Result, error) {
		called = true
		return nil, ctx.Err()
	})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	plan := New(roles.Default(), WithWorker(invoker, "", "")).Plan(ctx, "write docs")
	assert.False(t, called)
	assert.Equal(t, "heuristic", plan.Strategy)
}

func TestHeuristic_Plan(t *testing.T) {
	h := NewHeuristicStrategy(roles.Default(), DefaultSequence)

	tests := []struct {
		name     string
		task     string
		want     []string
		taskType models.TaskType
	}{
		{
			name:     "design implement test",
			task:     "Design the database schema and implement the endpoint with tests",
			want:     []string{"architect", "coder", "tester"},
			taskType: models.TaskTypeFeature,
		},
		{
			name:     "bugfix",
			task:     "fix the crash in the parser",
			want:     []string{"coder"},
			taskType: models.TaskTypeBugfix,
		},
		{
			name:     "docs",
			task:     "update the README",
			want:     []string{"documenter"},
			taskType: models.TaskTypeFeature,
		},
		{
			name:     "security review",
			task:     "review the session handling for security problems",
			want:     []string{"reviewer"},
			taskType: models.TaskTypeFeature,
		},
		{
			name:     "no match uses default sequence",
			task:     "hello world",
			want:     []string{"coder", "reviewer"},
			taskType: models.TaskTypeFeature,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			plan, err := h.Plan(context.Background(), tt.task)
			require.NoError(t, err)
			assert.Equal(t, tt.want, plan.RoleSequence)
			assert.Equal(t, tt.taskType, plan.TaskType)
			assert.Equal(t, "heuristic", plan.Strategy)
		})
	}
}

func TestHeuristic_DefaultSequenceFiltersUnregistered(t *testing.T) {
	reg, err := roles.NewRegistry(models.RoleDescriptor{Name: "solo"})
	require.NoError(t, err)

	plan, err := NewHeuristicStrategy(reg, []string{"coder", "Solo"}).Plan(context.Background(), "anything")
	require.NoError(t, err)
	assert.Equal(t, []string{"solo"}, plan.RoleSequence)

	plan, err = NewHeuristicStrategy(reg, []string{"coder"}).Plan(context.Background(), "anything")
	require.NoError(t, err)
	assert.Equal(t, []string{"solo"}, plan.RoleSequence)
}

func TestHeuristic_OrderFollowsRegistry(t *testing.T) {
	h := NewHeuristicStrategy(roles.Default(), nil)
	plan, err := h.Plan(context.Background(), "write tests, then design the interface")
	require.NoError(t, err)
	assert.Equal(t, []string{"architect", "tester"}, plan.RoleSequence)
}

func TestPlanner_WorkerFractionalComplexity(t *testing.T) {
	p := New(roles.Default(), WithWorker(replying(`{"roles": ["coder"], "task_type": "BUGFIX", "complexity": 6.5}`), "", ""))
	plan := p.Plan(context.Background(), "fix the crash in the parser")

	assert.Equal(t, "worker", plan.Strategy)
	assert.Equal(t, 7, plan.Complexity)
	assert.Equal(t, []string{"coder"}, plan.RoleSequence)
}
