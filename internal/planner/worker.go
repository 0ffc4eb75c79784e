package planner

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"strings"

	"github.com/ShayCichocki/weave/internal/agent"
	"github.com/ShayCichocki/weave/internal/roles"
	"github.com/ShayCichocki/weave/pkg/models"
)

const planningPrompt = `Choose the roles that should work on this task, in the order they should run.

## Available roles
%s

## Task
%s

Respond with JSON only:
{
  "roles": ["<role>", ...],
  "task_type": "SETUP" | "FEATURE" | "BUGFIX" | "REFACTOR",
  "complexity": <1-10>,
  "reasoning": "<one or two sentences>"
}
`

// workerPlan is the planning worker's JSON response.
type workerPlan struct {
	Roles      []string `json:"roles"`
	TaskType   string   `json:"task_type"`
	Complexity float64  `json:"complexity"`
	Reasoning  string   `json:"reasoning"`
}

// WorkerStrategy asks a planning worker for the role sequence.
type WorkerStrategy struct {
	invoker  agent.WorkerInvoker
	registry roles.RoleRegistry
	analyzer *RequestAnalyzer
	role     string
	model    string
}

// NewWorkerStrategy creates a strategy that invokes role through invoker.
func NewWorkerStrategy(invoker agent.WorkerInvoker, registry roles.RoleRegistry, role, model string) *WorkerStrategy {
	return &WorkerStrategy{
		invoker:  invoker,
		registry: registry,
		analyzer: NewRequestAnalyzer(),
		role:     roles.Normalize(role),
		model:    model,
	}
}

// Name implements Strategy.
func (w *WorkerStrategy) Name() string { return "worker" }

// Plan implements Strategy.
func (w *WorkerStrategy) Plan(ctx context.Context, task string) (*models.TaskPlan, error) {
	res, err := w.invoker.Invoke(ctx, agent.Invocation{
		Role:   w.role,
		Prompt: fmt.Sprintf(planningPrompt, describeRoles(w.registry.ListAll()), task),
		Model:  w.model,
	})
	if err != nil {
		return nil, fmt.Errorf("invoke planning worker: %w", err)
	}

	parsed, err := parseWorkerPlan(res.Text)
	if err != nil {
		return nil, err
	}

	plan := &models.TaskPlan{
		TaskType:   models.TaskType(strings.ToUpper(strings.TrimSpace(parsed.TaskType))),
		Complexity: int(math.Round(parsed.Complexity)),
		Reasoning:  parsed.Reasoning,
		Strategy:   w.Name(),
	}
	seen := make(map[string]bool)
	for _, name := range parsed.Roles {
		n := roles.Normalize(name)
		switch {
		case n == "" || seen[n]:
			continue
		case w.registry.Has(n):
			plan.RoleSequence = append(plan.RoleSequence, n)
		default:
			plan.DroppedRoles = append(plan.DroppedRoles, n)
		}
		seen[n] = true
	}
	if len(plan.RoleSequence) == 0 {
		return nil, fmt.Errorf("planning worker proposed no registered roles (dropped %v)", plan.DroppedRoles)
	}

	if !plan.TaskType.Valid() || plan.Complexity < 1 || plan.Complexity > 10 {
		analysis := w.analyzer.Analyze(task)
		if !plan.TaskType.Valid() {
			plan.TaskType = analysis.Type
		}
		if plan.Complexity < 1 || plan.Complexity > 10 {
			plan.Complexity = analysis.Complexity
		}
	}
	return plan, nil
}

// parseWorkerPlan extracts the JSON object from a worker response.
func parseWorkerPlan(text string) (*workerPlan, error) {
	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start < 0 || end <= start {
		return nil, fmt.Errorf("no JSON object in planning response")
	}
	var p workerPlan
	if err := json.Unmarshal([]byte(text[start:end+1]), &p); err != nil {
		return nil, fmt.Errorf("parse planning response: %w", err)
	}
	return &p, nil
}

func describeRoles(descs []models.RoleDescriptor) string {
	var b strings.Builder
	for _, d := range descs {
		fmt.Fprintf(&b, "- %s", d.Name)
		if d.Description != "" {
			fmt.Fprintf(&b, ": %s", d.Description)
		}
		b.WriteString("\n")
	}
	return strings.TrimRight(b.String(), "\n")
}
