// Package router runs the role-to-role routing loop of the sequential path.
//
// One worker runs at a time against a shared append-only trace. After each
// step the worker's decision picks the next role or ends the loop, subject
// to an iteration ceiling and a ping-pong detector.
package router

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/ShayCichocki/weave/internal/agent"
	werrors "github.com/ShayCichocki/weave/internal/errors"
	"github.com/ShayCichocki/weave/internal/roles"
	"github.com/ShayCichocki/weave/pkg/models"
)

// Status is how a routing loop ended.
type Status string

const (
	StatusCompleted      Status = "completed"
	StatusIterationLimit Status = "iteration_limit"
	StatusLoopDetected   Status = "loop_detected"
	StatusFailed         Status = "failed"
	StatusCancelled      Status = "cancelled"
)

const (
	// DefaultMaxIterations is the iteration ceiling when none is configured.
	DefaultMaxIterations = 10
	// DefaultFallbackRole receives unknown or missing routing targets.
	DefaultFallbackRole = "coder"
	// DefaultTraceWindow is how many trace entries each prompt includes.
	DefaultTraceWindow = 8

	// loopWindow is the number of recent transitions inspected for ping-pong.
	loopWindow = 3
	// summaryLimit bounds the output excerpt stored per trace entry.
	summaryLimit = 240
)

// Request is one routing run.
type Request struct {
	Task string
	// Sequence is the planned role order. Its first role starts the loop.
	Sequence []string
	// WorkDir is the sandbox every step runs in.
	WorkDir string
	// OnStep, if set, is called after every trace append of this run.
	OnStep func(models.TraceEntry)
}

// Transition is one edge between roles.
type Transition struct {
	From string `json:"from"`
	To   string `json:"to"`
}

// Outcome is the result of a routing run. It always carries the full trace.
type Outcome struct {
	Status      Status
	Iterations  int
	Trace       *models.ExecutionTrace
	Transitions []Transition
	// Visits counts invocations per role.
	Visits map[string]int
	// LoopRoles are the roles involved when Status is StatusLoopDetected.
	LoopRoles []string
	// LastRole is the role invoked in the final iteration.
	LastRole string
	// Err is set for StatusFailed and StatusCancelled.
	Err error
}

// Cost returns the summed worker cost.
func (o *Outcome) Cost() float64 {
	return o.Trace.TotalCost()
}

// Abort returns the safety stop as a RoutingAbort, or nil if routing
// ended any other way.
func (o *Outcome) Abort() *werrors.RoutingAbort {
	switch o.Status {
	case StatusLoopDetected:
		return &werrors.RoutingAbort{Cause: werrors.ErrLoopDetected, Iterations: o.Iterations, Roles: o.LoopRoles}
	case StatusIterationLimit:
		return &werrors.RoutingAbort{Cause: werrors.ErrIterationExceeded, Iterations: o.Iterations}
	default:
		return nil
	}
}

// Router drives the routing loop.
type Router struct {
	invoker       agent.WorkerInvoker
	registry      roles.RoleRegistry
	parser        DecisionParser
	fallback      string
	maxIterations int
	traceWindow   int
	onStep        func(models.TraceEntry)
	logger        *slog.Logger
}

// Option configures a Router.
type Option func(*Router)

// WithMaxIterations sets the iteration ceiling.
func WithMaxIterations(n int) Option {
	return func(r *Router) {
		if n > 0 {
			r.maxIterations = n
		}
	}
}

// WithFallbackRole sets the role used for unknown or missing targets.
func WithFallbackRole(role string) Option {
	return func(r *Router) { r.fallback = roles.Normalize(role) }
}

// WithParser replaces the text decision parser.
func WithParser(p DecisionParser) Option {
	return func(r *Router) { r.parser = p }
}

// WithTraceWindow sets how many trace entries each prompt includes.
func WithTraceWindow(n int) Option {
	return func(r *Router) { r.traceWindow = n }
}

// WithStepHook is called after every trace append.
func WithStepHook(fn func(models.TraceEntry)) Option {
	return func(r *Router) { r.onStep = fn }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(r *Router) { r.logger = l }
}

// New creates a Router.
func New(invoker agent.WorkerInvoker, registry roles.RoleRegistry, opts ...Option) *Router {
	r := &Router{
		invoker:       invoker,
		registry:      registry,
		fallback:      DefaultFallbackRole,
		maxIterations: DefaultMaxIterations,
		traceWindow:   DefaultTraceWindow,
		logger:        slog.New(slog.DiscardHandler),
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.parser == nil {
		r.parser = NewTextParser(r.fallback)
	}
	return r
}

// Run executes the routing loop until a worker completes, a guardrail
// stops it, a worker fails, or ctx is cancelled.
//
// Loop and ceiling stops are reported through Outcome.Status with a nil
// error. A worker failure returns an *errors.ExecutionError.
func (r *Router) Run(ctx context.Context, req Request) (*Outcome, error) {
	if !r.registry.Has(r.fallback) {
		return nil, fmt.Errorf("fallback role %q is not registered", r.fallback)
	}

	out := &Outcome{
		Trace:  models.NewExecutionTrace(),
		Visits: make(map[string]int),
	}
	available := r.registry.ListAll()
	modelFor := make(map[string]string, len(available))
	for _, d := range available {
		modelFor[d.Name] = d.Model
	}

	current := r.initialRole(req.Sequence)
	for {
		if err := ctx.Err(); err != nil {
			return r.cancelled(out, err)
		}

		out.Iterations++
		out.Visits[current]++
		out.LastRole = current

		r.logger.Info("routing step", "iteration", out.Iterations, "role", current)
		start := time.Now()
		res, err := r.invoker.Invoke(ctx, agent.Invocation{
			Role:    current,
			Prompt:  BuildPrompt(current, req.Task, req.Sequence, available, out.Trace, r.traceWindow),
			WorkDir: req.WorkDir,
			Model:   modelFor[current],
		})
		if err != nil {
			if ctx.Err() != nil {
				return r.cancelled(out, ctx.Err())
			}
			execErr := werrors.NewExecutionError("", current, err)
			out.Status = StatusFailed
			out.Err = execErr
			r.logger.Error("routing step failed", "role", current, "error", err)
			return out, execErr
		}

		decision := r.decide(res)
		duration := res.Duration
		if duration == 0 {
			duration = time.Since(start)
		}
		entry := models.TraceEntry{
			Role:      current,
			Timestamp: start,
			Duration:  duration,
			Cost:      res.Cost,
			Decision:  decision,
			Summary:   summarize(res.Text),
		}
		out.Trace.Append(entry)
		if r.onStep != nil {
			r.onStep(entry)
		}
		if req.OnStep != nil {
			req.OnStep(entry)
		}

		if decision.IsComplete() {
			out.Status = StatusCompleted
			r.logger.Info("routing completed", "iterations", out.Iterations, "explicit", decision.Explicit)
			return out, nil
		}

		out.Transitions = append(out.Transitions, Transition{From: current, To: decision.NextRole})
		if loop := pingPong(out.Transitions); loop != nil {
			out.Status = StatusLoopDetected
			out.LoopRoles = loop
			r.logger.Warn("routing loop detected", "iterations", out.Iterations, "roles", loop)
			return out, nil
		}
		if out.Iterations >= r.maxIterations {
			out.Status = StatusIterationLimit
			r.logger.Warn("routing iteration ceiling reached", "iterations", out.Iterations)
			return out, nil
		}

		current = decision.NextRole
	}
}

func (r *Router) cancelled(out *Outcome, err error) (*Outcome, error) {
	out.Status = StatusCancelled
	out.Err = err
	return out, err
}

func (r *Router) initialRole(sequence []string) string {
	if len(sequence) > 0 {
		if first := roles.Normalize(sequence[0]); r.registry.Has(first) {
			return first
		}
	}
	return r.fallback
}

// decide prefers a structured decision and falls back to parsing the text.
// Unknown targets become the fallback role.
func (r *Router) decide(res *agent.Result) models.RoutingDecision {
	var d models.RoutingDecision
	if res.Decision != nil {
		d = *res.Decision
	} else {
		d = r.parser.Parse(res.Text)
	}
	if d.IsComplete() {
		return d
	}

	d.NextRole = roles.Normalize(d.NextRole)
	if !r.registry.Has(d.NextRole) {
		reason := fmt.Sprintf("unknown role %q", d.NextRole)
		if d.NextRole == "" {
			reason = "no next role"
		}
		return models.RouteTo(r.fallback, reason, false)
	}
	return d
}

// pingPong returns the roles involved when the last loopWindow transitions
// touch at most two distinct roles.
func pingPong(transitions []Transition) []string {
	if len(transitions) < loopWindow {
		return nil
	}
	var involved []string
	seen := make(map[string]bool)
	for _, t := range transitions[len(transitions)-loopWindow:] {
		for _, role := range []string{t.From, t.To} {
			if !seen[role] {
				seen[role] = true
				involved = append(involved, role)
			}
		}
	}
	if len(involved) > 2 {
		return nil
	}
	return involved
}

func summarize(text string) string {
	text = strings.Join(strings.Fields(text), " ")
	runes := []rune(text)
	if len(runes) <= summaryLimit {
		return text
	}
	return string(runes[:summaryLimit]) + "..."
}
