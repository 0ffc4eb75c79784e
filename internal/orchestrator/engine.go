package orchestrator

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/ShayCichocki/weave/internal/agent"
	"github.com/ShayCichocki/weave/internal/decompose"
	werrors "github.com/ShayCichocki/weave/internal/errors"
	"github.com/ShayCichocki/weave/internal/git"
	"github.com/ShayCichocki/weave/internal/merge"
	"github.com/ShayCichocki/weave/internal/planner"
	"github.com/ShayCichocki/weave/internal/router"
	"github.com/ShayCichocki/weave/pkg/models"
)

// RunRecorder persists runs along with their executions, trace entries and
// merge outcomes.
type RunRecorder interface {
	ExecutionRecorder
	CreateRun(ctx context.Context, run *models.Run) error
	FinishRun(ctx context.Context, run *models.Run) error
	RecordTrace(ctx context.Context, runID string, seq int, entry models.TraceEntry) error
	RecordMergeOutcome(ctx context.Context, runID string, outcome models.MergeOutcome) error
}

// Components are the collaborators an Engine drives.
type Components struct {
	Planner     *planner.Planner
	Decomposer  *decompose.Decomposer
	Router      *router.Router
	Coordinator *Coordinator
	Merger      *merge.Merger
	Sandboxes   agent.SandboxProvider
	Lines       git.HistoryLineProvider
}

// RunRequest is one task for the engine.
type RunRequest struct {
	Task string
	// Base is the line every part forks from and merges into.
	Base string
	// Sequential skips decomposition.
	Sequential bool
}

// RunResult is everything a run produced. Fields for the path not taken
// are nil.
type RunResult struct {
	Run           *models.Run
	Plan          *models.TaskPlan
	Decomposition *models.Plan
	Parallel      *ParallelResult
	Routing       *router.Outcome
	Merge         *merge.Result
}

// Engine plans a task, runs it on the parallel or sequential path and
// merges the results into the base line.
type Engine struct {
	c        Components
	recorder RunRecorder
	emitter  *EventEmitter
	logger   *slog.Logger
}

// EngineOption configures an Engine.
type EngineOption func(*Engine)

// WithRunRecorder persists runs.
func WithRunRecorder(r RunRecorder) EngineOption {
	return func(e *Engine) { e.recorder = r }
}

// WithEngineEmitter sets the event emitter.
func WithEngineEmitter(em *EventEmitter) EngineOption {
	return func(e *Engine) { e.emitter = em }
}

// WithEngineLogger sets the logger.
func WithEngineLogger(l *slog.Logger) EngineOption {
	return func(e *Engine) {
		if l != nil {
			e.logger = l
		}
	}
}

// NewEngine creates an Engine.
func NewEngine(c Components, opts ...EngineOption) *Engine {
	e := &Engine{c: c, logger: slog.New(slog.DiscardHandler)}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Run executes req end to end. The result is returned even when err is
// non-nil. A routing loop or ceiling stop is not an error; it is reported
// through Routing.Abort and a RunAborted status.
func (e *Engine) Run(ctx context.Context, req RunRequest) (*RunResult, error) {
	if req.Base == "" {
		return nil, fmt.Errorf("base line is required")
	}

	run := &models.Run{
		ID:        uuid.New().String(),
		Task:      req.Task,
		Base:      req.Base,
		Status:    models.RunRunning,
		StartedAt: time.Now(),
	}
	log := e.logger.With("run", run.ID)
	result := &RunResult{Run: run}

	if e.recorder != nil {
		if err := e.recorder.CreateRun(ctx, run); err != nil {
			log.Warn("record run", "error", err)
		}
	}
	e.emitter.Emit(Event{Type: EventRunStarted, RunID: run.ID, Message: req.Task})

	result.Plan = e.c.Planner.Plan(ctx, req.Task)
	e.emitter.Emit(Event{Type: EventPlanned, RunID: run.ID, Message: fmt.Sprintf("%v (%s)", result.Plan.RoleSequence, result.Plan.Strategy)})

	var err error
	if !req.Sequential && e.c.Decomposer != nil {
		plan := e.c.Decomposer.Decompose(ctx, req.Task)
		result.Decomposition = &plan
		e.emitter.Emit(Event{Type: EventDecomposed, RunID: run.ID, Message: plan.Reason})
		log.Info("task decomposed", "parallel", plan.Parallel, "stage", plan.Stage, "reason", plan.Reason)
	}

	if result.Decomposition != nil && result.Decomposition.Parallel {
		run.Mode = models.RunModeParallel
		err = e.runParallel(ctx, run, result)
	} else {
		run.Mode = models.RunModeSequential
		err = e.runSequential(ctx, run, result)
	}

	e.finish(ctx, run, result, err, log)
	return result, err
}

func (e *Engine) runParallel(ctx context.Context, run *models.Run, result *RunResult) error {
	pr := e.c.Coordinator.ForRun(run.ID).RunParallel(ctx, run.Base, result.Decomposition.Parts)
	result.Parallel = pr
	run.Cost = pr.Cost()

	var errs []error
	for _, f := range pr.Failed {
		errs = append(errs, f.Err)
	}
	if ctx.Err() != nil {
		return werrors.Join(append(errs, ctx.Err())...)
	}

	mr, mergeErr := e.merge(ctx, run, func() (*merge.Result, error) {
		return e.c.Merger.MergeAll(ctx, run.Base, pr.Executions)
	})
	result.Merge = mr
	if mergeErr != nil {
		errs = append(errs, mergeErr)
	}
	return werrors.Join(errs...)
}

func (e *Engine) runSequential(ctx context.Context, run *models.Run, result *RunResult) error {
	line, err := e.route(ctx, run, result)
	if result.Routing != nil {
		run.Cost = result.Routing.Cost()
	}
	if err != nil {
		return err
	}

	mr, err := e.merge(ctx, run, func() (*merge.Result, error) {
		return e.c.Merger.Merge(ctx, run.Base, []merge.Candidate{{LineID: line}})
	})
	result.Merge = mr
	return err
}

// route runs the router in one sandbox and returns the line holding its
// committed work. The sandbox is gone when route returns.
func (e *Engine) route(ctx context.Context, run *models.Run, result *RunResult) (string, error) {
	line, err := e.c.Lines.Fork(ctx, run.Base, "seq-"+shortID(run.ID))
	if err != nil {
		return "", fmt.Errorf("fork history line: %w", err)
	}
	sb, err := e.c.Sandboxes.Create(ctx, agent.SandboxRequest{ID: run.ID, LineID: line})
	if err != nil {
		dropLine(ctx, e.c.Lines, line, e.logger.With("run", run.ID))
		return "", fmt.Errorf("create sandbox: %w", err)
	}
	log := e.logger.With("run", run.ID, "sandbox", sb.ID)
	defer e.destroy(ctx, sb, log)

	seq := 0
	outcome, err := e.c.Router.Run(ctx, router.Request{
		Task:     run.Task,
		Sequence: result.Plan.RoleSequence,
		WorkDir:  sb.Path,
		OnStep: func(entry models.TraceEntry) {
			seq++
			if e.recorder != nil {
				if err := e.recorder.RecordTrace(context.WithoutCancel(ctx), run.ID, seq, entry); err != nil {
					log.Warn("record trace entry", "error", err)
				}
			}
			e.emitter.Emit(Event{Type: EventRoutingStep, RunID: run.ID, Role: entry.Role, Message: entry.Decision.String(), Cost: entry.Cost, Duration: entry.Duration})
		},
	})
	result.Routing = outcome
	if err != nil {
		return "", err
	}

	if committer, ok := e.c.Sandboxes.(agent.SandboxCommitter); ok {
		if _, err := committer.Commit(ctx, sb, fmt.Sprintf("weave: %s", firstLine(run.Task))); err != nil {
			return "", fmt.Errorf("commit sandbox: %w", err)
		}
	}
	return line, nil
}

func (e *Engine) merge(ctx context.Context, run *models.Run, do func() (*merge.Result, error)) (*merge.Result, error) {
	e.emitter.Emit(Event{Type: EventMergeStarted, RunID: run.ID, Message: run.Base})
	mr, err := do()
	if mr != nil {
		for _, o := range mr.Outcomes {
			if e.recorder != nil {
				if rerr := e.recorder.RecordMergeOutcome(context.WithoutCancel(ctx), run.ID, o); rerr != nil {
					e.logger.Warn("record merge outcome", "run", run.ID, "error", rerr)
				}
			}
			ev := Event{Type: EventMergeOutcome, RunID: run.ID, ExecutionID: o.ExecutionID, LineID: o.HistoryLineID, Paths: o.ConflictedPaths}
			if !o.Merged {
				ev.Message = o.Error
				if ev.Message == "" {
					ev.Message = "conflict"
				}
			}
			e.emitter.Emit(ev)
		}
	}
	e.emitter.Emit(Event{Type: EventMergeCompleted, RunID: run.ID, Error: err})
	return mr, err
}

func (e *Engine) destroy(ctx context.Context, sb *agent.Sandbox, log *slog.Logger) {
	cleanupCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cleanupTimeout)
	defer cancel()
	if err := e.c.Sandboxes.Destroy(cleanupCtx, sb); err != nil {
		log.Warn("destroy sandbox", "error", err)
	}
}

func (e *Engine) finish(ctx context.Context, run *models.Run, result *RunResult, err error, log *slog.Logger) {
	run.FinishedAt = time.Now()
	run.Status = runStatus(ctx, result, err)
	if err != nil {
		run.Error = err.Error()
	}

	if e.recorder != nil {
		if rerr := e.recorder.FinishRun(context.WithoutCancel(ctx), run); rerr != nil {
			log.Warn("record run", "error", rerr)
		}
	}
	log.Info("run finished", "status", run.Status, "mode", run.Mode, "cost", run.Cost)
	e.emitter.Emit(Event{Type: EventRunDone, RunID: run.ID, Message: string(run.Status), Error: err, Cost: run.Cost})
}

func runStatus(ctx context.Context, result *RunResult, err error) models.RunStatus {
	switch {
	case ctx.Err() != nil:
		return models.RunCancelled
	case err == nil && result.Routing != nil && result.Routing.Abort() != nil:
		return models.RunAborted
	case err == nil:
		return models.RunSucceeded
	case werrors.KindOf(err) == werrors.KindMergeConflict && (result.Parallel == nil || len(result.Parallel.Failed) == 0):
		return models.RunConflicts
	default:
		return models.RunFailed
	}
}

func firstLine(s string) string {
	for i, r := range s {
		if r == '\n' {
			s = s[:i]
			break
		}
	}
	return clip(s, 60)
}

// clip shortens s to at most n runes, marking the cut with "...".
func clip(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n-3]) + "..."
}
