package orchestrator

import (
	"log/slog"

	"github.com/ShayCichocki/weave/internal/agent"
	"github.com/ShayCichocki/weave/internal/roles"
)

// CoordinatorOption configures a Coordinator.
type CoordinatorOption func(*Coordinator)

// WithMaxConcurrent sets the maximum number of parts running at once.
func WithMaxConcurrent(n int) CoordinatorOption {
	return func(c *Coordinator) {
		if n > 0 {
			c.maxConcurrent = n
		}
	}
}

// WithTimeouts sets the per-role invocation timeouts.
func WithTimeouts(h *agent.TimeoutHandler) CoordinatorOption {
	return func(c *Coordinator) {
		if h != nil {
			c.timeouts = h
		}
	}
}

// WithRegistry supplies per-role model overrides.
func WithRegistry(r roles.RoleRegistry) CoordinatorOption {
	return func(c *Coordinator) { c.registry = r }
}

// WithEmitter sets the event emitter.
func WithEmitter(e *EventEmitter) CoordinatorOption {
	return func(c *Coordinator) { c.emitter = e }
}

// WithRecorder persists every execution snapshot.
func WithRecorder(r ExecutionRecorder) CoordinatorOption {
	return func(c *Coordinator) { c.recorder = r }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) CoordinatorOption {
	return func(c *Coordinator) {
		if l != nil {
			c.logger = l
		}
	}
}
