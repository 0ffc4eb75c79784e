// Package planner chooses the role sequence the router follows.
package planner

import (
	"context"
	"log/slog"

	"github.com/ShayCichocki/weave/internal/agent"
	"github.com/ShayCichocki/weave/internal/roles"
	"github.com/ShayCichocki/weave/pkg/models"
)

// DefaultPlanningRole is the role invoked by the worker strategy.
const DefaultPlanningRole = "planner"

// DefaultSequence is used when the heuristic matches no role.
var DefaultSequence = []string{"coder", "reviewer"}

// Strategy produces a plan or reports why it could not.
type Strategy interface {
	Name() string
	Plan(ctx context.Context, task string) (*models.TaskPlan, error)
}

// Planner tries its strategies in order and returns the first plan.
// The heuristic strategy is always last, so Plan always returns a plan.
type Planner struct {
	strategies []Strategy
	heuristic  *HeuristicStrategy
	logger     *slog.Logger
}

type config struct {
	invoker         agent.WorkerInvoker
	role            string
	model           string
	defaultSequence []string
	logger          *slog.Logger
}

// Option configures a Planner.
type Option func(*config)

// WithWorker enables the worker strategy.
func WithWorker(invoker agent.WorkerInvoker, role, model string) Option {
	return func(c *config) {
		c.invoker = invoker
		if role != "" {
			c.role = role
		}
		c.model = model
	}
}

// WithDefaultSequence sets the heuristic's fallback sequence.
func WithDefaultSequence(seq []string) Option {
	return func(c *config) {
		if len(seq) > 0 {
			c.defaultSequence = seq
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *config) { c.logger = l }
}

// New creates a Planner over registry.
func New(registry roles.RoleRegistry, opts ...Option) *Planner {
	c := &config{
		role:            DefaultPlanningRole,
		defaultSequence: DefaultSequence,
		logger:          slog.New(slog.DiscardHandler),
	}
	for _, opt := range opts {
		opt(c)
	}

	p := &Planner{
		heuristic: NewHeuristicStrategy(registry, c.defaultSequence),
		logger:    c.logger,
	}
	if c.invoker != nil {
		p.strategies = append(p.strategies, NewWorkerStrategy(c.invoker, registry, c.role, c.model))
	}
	p.strategies = append(p.strategies, p.heuristic)
	return p
}

// Strategies returns the strategy names in the order they are tried.
func (p *Planner) Strategies() []string {
	names := make([]string, len(p.strategies))
	for i, s := range p.strategies {
		names[i] = s.Name()
	}
	return names
}

// Plan returns the first successful strategy's plan.
func (p *Planner) Plan(ctx context.Context, task string) *models.TaskPlan {
	for _, s := range p.strategies {
		if ctx.Err() != nil && s != Strategy(p.heuristic) {
			continue
		}
		plan, err := s.Plan(ctx, task)
		if err != nil {
			p.logger.Warn("planning strategy failed", "strategy", s.Name(), "error", err)
			continue
		}
		if plan == nil || len(plan.RoleSequence) == 0 {
			p.logger.Warn("planning strategy returned no roles", "strategy", s.Name())
			continue
		}
		p.logger.Info("task planned", "strategy", s.Name(), "roles", plan.RoleSequence, "type", plan.TaskType)
		return plan
	}

	// Unreachable unless the registry is empty.
	plan, _ := p.heuristic.Plan(ctx, task)
	return plan
}
