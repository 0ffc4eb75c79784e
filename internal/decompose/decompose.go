// Package decompose decides whether a task can be split into independent
// parts that run concurrently.
package decompose

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/ShayCichocki/weave/internal/agent"
	"github.com/ShayCichocki/weave/internal/roles"
	"github.com/ShayCichocki/weave/pkg/models"
)

// Defaults for the decomposition thresholds.
const (
	DefaultPlannerRole   = "planner"
	DefaultMinComplexity = 3.0
	DefaultMaxParts      = 5
)

// analysisFailed prefixes every reason produced when no usable proposal exists.
const analysisFailed = "analysis failed"

// Decomposer asks a planning worker for a split and accepts it only if every
// stage passes. Any failure yields a sequential plan.
type Decomposer struct {
	invoker       agent.WorkerInvoker
	roles         roles.RoleRegistry
	plannerRole   string
	model         string
	minComplexity float64
	maxParts      int
	logger        *slog.Logger
}

// Option configures a Decomposer.
type Option func(*Decomposer)

// WithPlannerRole sets the role used to invoke the planning worker.
func WithPlannerRole(role string) Option {
	return func(d *Decomposer) { d.plannerRole = roles.Normalize(role) }
}

// WithModel sets the planning worker's model.
func WithModel(model string) Option {
	return func(d *Decomposer) { d.model = model }
}

// WithMinComplexity sets the complexity floor below which tasks stay sequential.
func WithMinComplexity(min float64) Option {
	return func(d *Decomposer) { d.minComplexity = min }
}

// WithMaxParts sets the largest accepted number of parts.
func WithMaxParts(n int) Option {
	return func(d *Decomposer) { d.maxParts = n }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(d *Decomposer) { d.logger = l }
}

// New creates a Decomposer.
func New(invoker agent.WorkerInvoker, registry roles.RoleRegistry, opts ...Option) *Decomposer {
	d := &Decomposer{
		invoker:       invoker,
		roles:         registry,
		plannerRole:   DefaultPlannerRole,
		minComplexity: DefaultMinComplexity,
		maxParts:      DefaultMaxParts,
		logger:        slog.New(slog.DiscardHandler),
	}
	for _, opt := range opts {
		opt(d)
	}
	if d.maxParts < 2 {
		d.maxParts = 2
	}
	return d
}

// Decompose returns a plan for task. It never fails: invocation errors,
// unparseable responses and cancellation all produce a sequential plan
// whose reason starts with "analysis failed".
func (d *Decomposer) Decompose(ctx context.Context, task string) models.Plan {
	if d.invoker == nil {
		return models.SequentialPlan(models.StageAnalysis, analysisFailed+": no planning worker configured")
	}

	prompt := BuildPrompt(task, d.roles.ListAll(), d.maxParts)
	res, err := d.invoker.Invoke(ctx, agent.Invocation{
		Role:   d.plannerRole,
		Prompt: prompt,
		Model:  d.model,
	})
	if err != nil {
		d.logger.Warn("planning worker failed", "role", d.plannerRole, "error", err)
		return models.SequentialPlan(models.StageAnalysis, fmt.Sprintf("%s: %v", analysisFailed, err))
	}
	if err := ctx.Err(); err != nil {
		return models.SequentialPlan(models.StageAnalysis, fmt.Sprintf("%s: %v", analysisFailed, err))
	}

	proposal, err := ParseResponse(res.Text)
	if err != nil {
		d.logger.Warn("unparseable decomposition", "error", err)
		return models.SequentialPlan(models.StageAnalysis, fmt.Sprintf("%s: %v", analysisFailed, err))
	}

	plan := d.Evaluate(proposal)
	d.logger.Info("decomposition decided",
		"parallel", plan.Parallel,
		"stage", plan.Stage,
		"parts", len(plan.Proposed),
		"reason", plan.Reason,
	)
	return plan
}

// Evaluate applies the acceptance stages to a parsed proposal in order:
// structure, complexity floor, cardinality and independence.
func (d *Decomposer) Evaluate(p *Proposal) models.Plan {
	reject := func(stage models.DecomposeStage, reason string) models.Plan {
		plan := models.SequentialPlan(stage, reason)
		plan.Proposed = p.Parts
		plan.TaskType = p.TaskType
		if p.Complexity != nil {
			plan.Complexity = *p.Complexity
		}
		return plan
	}

	if p.Parallel != nil && !*p.Parallel {
		reason := "planning worker chose sequential execution"
		if p.Reasoning != "" {
			reason += ": " + p.Reasoning
		}
		return reject(models.StageAnalysis, reason)
	}

	if reason := d.checkStructure(p); reason != "" {
		return reject(models.StageStructure, reason)
	}

	if *p.Complexity < d.minComplexity {
		return reject(models.StageComplexity,
			fmt.Sprintf("complexity %.1f is below the parallel threshold %.1f", *p.Complexity, d.minComplexity))
	}

	if n := len(p.Parts); n < 2 || n > d.maxParts {
		return reject(models.StageCardinality,
			fmt.Sprintf("%d parts is outside the accepted range [2, %d]", n, d.maxParts))
	}

	result := ValidateIndependence(p.Parts)
	if !result.Valid {
		plan := reject(models.StageConflicts, result.Reason)
		plan.Order = result.Order
		return plan
	}

	reason := fmt.Sprintf("%d independent parts", len(p.Parts))
	if p.Reasoning != "" {
		reason += ": " + p.Reasoning
	}
	return models.Plan{
		Parallel:   true,
		Parts:      p.Parts,
		Proposed:   p.Parts,
		Reason:     reason,
		Stage:      models.StageAccepted,
		Complexity: *p.Complexity,
		TaskType:   p.TaskType,
	}
}

// checkStructure returns the first structural defect, or "".
func (d *Decomposer) checkStructure(p *Proposal) string {
	if p.Complexity == nil {
		return "missing complexity estimate"
	}
	if len(p.Parts) == 0 {
		return "no parts proposed"
	}
	for i, part := range p.Parts {
		switch {
		case part.Role == "":
			return fmt.Sprintf("part %d: missing role", i)
		case !d.roles.Has(part.Role):
			return fmt.Sprintf("part %d: unknown role %q", i, part.Role)
		case part.Description == "":
			return fmt.Sprintf("part %d: missing description", i)
		case len(part.TargetFiles) == 0:
			return fmt.Sprintf("part %d: missing target_files", i)
		}
		for _, f := range part.TargetFiles {
			if strings.TrimSpace(f) == "" {
				return fmt.Sprintf("part %d: empty target file entry", i)
			}
		}
	}
	return ""
}
