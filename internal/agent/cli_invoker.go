package agent

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	werrors "github.com/ShayCichocki/weave/internal/errors"
)

// DefaultAllowedTools lets CLI workers edit their sandbox without prompting.
const DefaultAllowedTools = "Read,Write,Edit,Bash,Glob,Grep"

// CLIInvoker runs workers through the claude CLI in stream-json mode.
type CLIInvoker struct {
	binary       string
	allowedTools string
	timeouts     *TimeoutHandler
	logger       *slog.Logger
}

// CLIOption configures a CLIInvoker.
type CLIOption func(*CLIInvoker)

// WithBinary overrides the CLI executable.
func WithBinary(path string) CLIOption {
	return func(c *CLIInvoker) { c.binary = path }
}

// WithAllowedTools overrides the tool allowlist.
func WithAllowedTools(tools string) CLIOption {
	return func(c *CLIInvoker) { c.allowedTools = tools }
}

// WithTimeouts sets the per-role deadlines.
func WithTimeouts(h *TimeoutHandler) CLIOption {
	return func(c *CLIInvoker) { c.timeouts = h }
}

// WithCLILogger sets the logger.
func WithCLILogger(l *slog.Logger) CLIOption {
	return func(c *CLIInvoker) { c.logger = l }
}

// NewCLIInvoker creates a CLI-backed invoker.
func NewCLIInvoker(opts ...CLIOption) *CLIInvoker {
	c := &CLIInvoker{
		binary:       "claude",
		allowedTools: DefaultAllowedTools,
		logger:       slog.New(slog.DiscardHandler),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.timeouts == nil {
		c.timeouts = NewTimeoutHandler(0, 0, nil)
	}
	return c
}

// Verify CLIInvoker implements WorkerInvoker at compile time.
var _ WorkerInvoker = (*CLIInvoker)(nil)

// Invoke runs one worker process to completion. A process that outlives
// its role's deadline is terminated and ErrTimeout is returned.
func (c *CLIInvoker) Invoke(ctx context.Context, inv Invocation) (*Result, error) {
	id := uuid.New().String()
	supervised, expired, release := c.timeouts.Supervise(ctx, id, inv.Role)
	defer release()

	start := time.Now()
	c.logger.Debug("starting worker", "role", inv.Role, "workdir", inv.WorkDir, "invocation", id)

	event, err := runProcess(supervised, ProcessOptions{
		Binary:       c.binary,
		Prompt:       inv.Prompt,
		WorkDir:      inv.WorkDir,
		Model:        inv.Model,
		AllowedTools: c.allowedTools,
		DrainDelay:   c.timeouts.Grace(),
	}, c.timeouts.Grace())
	elapsed := time.Since(start)

	if err != nil {
		if expired() {
			c.logger.Warn("worker timed out", "role", inv.Role, "timeout", c.timeouts.GetTimeout(inv.Role))
			return nil, fmt.Errorf("%w: role %s after %s", werrors.ErrTimeout, inv.Role, c.timeouts.GetTimeout(inv.Role))
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("invoke %s: %w", inv.Role, err)
	}

	c.logger.Debug("worker finished", "role", inv.Role, "cost", event.Cost, "duration", elapsed)
	return &Result{
		Text:     event.Message,
		Cost:     event.Cost,
		Duration: elapsed,
	}, nil
}
