package orchestrator

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/ShayCichocki/weave/internal/agent"
	werrors "github.com/ShayCichocki/weave/internal/errors"
	"github.com/ShayCichocki/weave/internal/git"
	"github.com/ShayCichocki/weave/internal/roles"
	"github.com/ShayCichocki/weave/pkg/models"
)

// DefaultMaxConcurrent bounds parallel parts when no limit is configured.
const DefaultMaxConcurrent = 4

// cleanupTimeout bounds sandbox teardown, which runs even after cancellation.
const cleanupTimeout = 30 * time.Second

// ExecutionRecorder persists execution snapshots.
type ExecutionRecorder interface {
	RecordExecution(ctx context.Context, e *models.SubtaskExecution) error
}

// FailedSubtask identifies a part that did not complete.
type FailedSubtask struct {
	ID    string
	Index int
	Err   error
}

// ParallelResult is the settled outcome of every part.
type ParallelResult struct {
	// Completed holds completed executions in index order.
	Completed []*models.SubtaskExecution
	// Failed holds failed and cancelled parts in index order.
	Failed []FailedSubtask
	// Executions holds every execution in index order.
	Executions []*models.SubtaskExecution
}

// Cost sums the cost of every execution.
func (r *ParallelResult) Cost() float64 {
	var total float64
	for _, e := range r.Executions {
		total += e.Cost
	}
	return total
}

// Coordinator runs independent parts concurrently, each on its own history
// line in its own sandbox.
type Coordinator struct {
	invoker       agent.WorkerInvoker
	sandboxes     agent.SandboxProvider
	lines         git.HistoryLineProvider
	registry      roles.RoleRegistry
	timeouts      *agent.TimeoutHandler
	maxConcurrent int
	emitter       *EventEmitter
	recorder      ExecutionRecorder
	runID         string
	logger        *slog.Logger
}

// NewCoordinator creates a Coordinator.
func NewCoordinator(invoker agent.WorkerInvoker, sandboxes agent.SandboxProvider, lines git.HistoryLineProvider, opts ...CoordinatorOption) *Coordinator {
	c := &Coordinator{
		invoker:       invoker,
		sandboxes:     sandboxes,
		lines:         lines,
		timeouts:      agent.NewTimeoutHandler(agent.DefaultTimeout, agent.DefaultGrace, nil),
		maxConcurrent: DefaultMaxConcurrent,
		logger:        slog.New(slog.DiscardHandler),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// ForRun returns a copy of c that tags executions and events with runID.
func (c *Coordinator) ForRun(runID string) *Coordinator {
	cp := *c
	cp.runID = runID
	cp.logger = c.logger.With("run", runID)
	return &cp
}

// RunParallel executes every part and waits for all of them to settle.
// A failing part never cancels its siblings. Cancelling ctx cancels parts
// that have not settled.
func (c *Coordinator) RunParallel(ctx context.Context, base string, parts []models.SubtaskSpec) *ParallelResult {
	execs := make([]*models.SubtaskExecution, len(parts))
	errs := make([]error, len(parts))
	for i, spec := range parts {
		e := models.NewSubtaskExecution(uuid.New().String(), i, spec)
		e.RunID = c.runID
		execs[i] = e
	}

	g := new(errgroup.Group)
	g.SetLimit(max(c.maxConcurrent, 1))
	for i, e := range execs {
		g.Go(func() error {
			errs[i] = c.runOne(ctx, base, e)
			return nil
		})
	}
	_ = g.Wait()

	result := &ParallelResult{Executions: execs}
	for i, e := range execs {
		if e.Status == models.ExecutionCompleted {
			result.Completed = append(result.Completed, e)
			continue
		}
		result.Failed = append(result.Failed, FailedSubtask{ID: e.ID, Index: e.Index, Err: errs[i]})
	}
	return result
}

// runOne drives a single execution to a terminal status and returns why
// it did not complete, or nil.
func (c *Coordinator) runOne(ctx context.Context, base string, e *models.SubtaskExecution) error {
	log := c.logger.With("subtask", e.ID, "index", e.Index, "role", e.Spec.Role)
	err := c.execute(ctx, base, e, log)
	if err == nil && e.Status != models.ExecutionCompleted {
		err = fmt.Errorf("execution stopped in status %s", e.Status)
	}
	if err != nil && !e.Status.Terminal() {
		e.Fail(err)
	}
	c.finish(ctx, e, err, log)
	return err
}

func (c *Coordinator) execute(ctx context.Context, base string, e *models.SubtaskExecution, log *slog.Logger) error {
	role := e.Spec.Role

	if err := ctx.Err(); err != nil {
		e.Cancel(err)
		return err
	}

	_ = e.Transition(models.ExecutionProvisioning)
	c.emitter.Emit(Event{Type: EventSubtaskStarted, RunID: c.runID, ExecutionID: e.ID, Index: e.Index, Role: role, Message: e.Spec.Description})

	line, err := c.lines.Fork(ctx, base, shortID(e.ID))
	if err != nil {
		return c.settle(ctx, e, fmt.Errorf("fork history line: %w", err))
	}
	e.HistoryLineID = line

	sb, err := c.sandboxes.Create(ctx, agent.SandboxRequest{ID: e.ID, LineID: line})
	if err != nil {
		// The line holds no work yet.
		dropLine(ctx, c.lines, line, log)
		e.HistoryLineID = ""
		return c.settle(ctx, e, fmt.Errorf("create sandbox: %w", err))
	}
	defer c.destroy(ctx, sb, log)
	e.SandboxID = sb.ID
	e.SandboxPath = sb.Path

	if err := e.Transition(models.ExecutionRunning); err != nil {
		return err
	}
	c.record(ctx, e, log)
	c.emitter.Emit(Event{Type: EventSubtaskRunning, RunID: c.runID, ExecutionID: e.ID, Index: e.Index, Role: role, LineID: line})

	supervised, expired, release := c.timeouts.Supervise(ctx, e.ID, role)
	start := time.Now()
	res, err := c.invoker.Invoke(supervised, agent.Invocation{
		Role:    role,
		Prompt:  partPrompt(e.Spec),
		WorkDir: sb.Path,
		Model:   c.modelFor(role),
	})
	timedOut := expired()
	release()
	if err != nil {
		if timedOut && !werrors.Is(err, werrors.ErrTimeout) {
			err = fmt.Errorf("%w: role %s after %s: %v", werrors.ErrTimeout, role, c.timeouts.GetTimeout(role), err)
		}
		if !timedOut && ctx.Err() != nil {
			e.Cancel(ctx.Err())
			return ctx.Err()
		}
		execErr := werrors.NewExecutionError(e.ID, role, err)
		e.Fail(execErr)
		return execErr
	}

	e.Output = res.Text
	e.Cost = res.Cost
	e.Duration = res.Duration
	if e.Duration == 0 {
		e.Duration = time.Since(start)
	}

	if committer, ok := c.sandboxes.(agent.SandboxCommitter); ok {
		committed, err := committer.Commit(ctx, sb, commitMessage(e.Spec))
		if err != nil {
			return c.settle(ctx, e, werrors.NewExecutionError(e.ID, role, fmt.Errorf("commit sandbox: %w", err)))
		}
		if !committed {
			log.Info("worker left no changes")
		}
	}

	return e.Transition(models.ExecutionCompleted)
}

// settle fails e with err, or cancels it when ctx was cancelled.
func (c *Coordinator) settle(ctx context.Context, e *models.SubtaskExecution, err error) error {
	if ctx.Err() != nil {
		err = fmt.Errorf("%w: %v", ctx.Err(), err)
		e.Cancel(err)
		return err
	}
	e.Fail(err)
	return err
}

func (c *Coordinator) finish(ctx context.Context, e *models.SubtaskExecution, err error, log *slog.Logger) {
	c.record(ctx, e, log)

	ev := Event{
		RunID:       c.runID,
		ExecutionID: e.ID,
		Index:       e.Index,
		Role:        e.Spec.Role,
		LineID:      e.HistoryLineID,
		Cost:        e.Cost,
		Duration:    e.Duration,
	}
	if err == nil {
		ev.Type = EventSubtaskCompleted
		log.Info("subtask completed", "cost", e.Cost, "duration", e.Duration)
	} else {
		ev.Type = EventSubtaskFailed
		ev.Error = err
		ev.Message = string(e.Status)
		log.Warn("subtask did not complete", "status", e.Status, "error", err)
	}
	c.emitter.Emit(ev)
}

// destroy tears down sb, even when ctx is cancelled. Failures are logged only.
func (c *Coordinator) destroy(ctx context.Context, sb *agent.Sandbox, log *slog.Logger) {
	cleanupCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cleanupTimeout)
	defer cancel()
	if err := c.sandboxes.Destroy(cleanupCtx, sb); err != nil {
		log.Warn("destroy sandbox", "sandbox", sb.ID, "error", err)
	}
}

// dropLine deletes an unused line, even when ctx is cancelled. Failures are
// logged only.
func dropLine(ctx context.Context, lines git.HistoryLineProvider, line string, log *slog.Logger) {
	cleanupCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cleanupTimeout)
	defer cancel()
	if err := lines.Delete(cleanupCtx, line); err != nil {
		log.Warn("delete unused history line", "line", line, "error", err)
	}
}

func (c *Coordinator) record(ctx context.Context, e *models.SubtaskExecution, log *slog.Logger) {
	if c.recorder == nil {
		return
	}
	if err := c.recorder.RecordExecution(context.WithoutCancel(ctx), e); err != nil {
		log.Warn("record execution", "error", err)
	}
}

func (c *Coordinator) modelFor(role string) string {
	if c.registry == nil {
		return ""
	}
	for _, d := range c.registry.ListAll() {
		if d.Name == role {
			return d.Model
		}
	}
	return ""
}

func partPrompt(spec models.SubtaskSpec) string {
	var b strings.Builder
	b.WriteString(spec.Description)
	b.WriteString("\n\nOnly modify these paths:\n")
	for _, f := range spec.TargetFiles {
		fmt.Fprintf(&b, "- %s\n", f)
	}
	b.WriteString("\nOther parts of this task are being worked on at the same time in separate copies of the repository. Do not touch files outside your paths.\n")
	return b.String()
}

func commitMessage(spec models.SubtaskSpec) string {
	summary := strings.TrimSpace(strings.SplitN(spec.Description, "\n", 2)[0])
	return fmt.Sprintf("weave(%s): %s", spec.Role, clip(summary, 60))
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
