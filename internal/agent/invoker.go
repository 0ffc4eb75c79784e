// Package agent runs role-bound workers and provides their isolated sandboxes.
package agent

import (
	"context"
	"time"

	"github.com/ShayCichocki/weave/pkg/models"
)

// Invocation is one request to a worker.
type Invocation struct {
	// Role is the registered role the worker acts as.
	Role string
	// Prompt is the full instruction text.
	Prompt string
	// WorkDir is the sandbox the worker may modify. Empty means no files.
	WorkDir string
	// Model optionally overrides the backend's default model.
	Model string
}

// Result is a worker's response.
type Result struct {
	// Text is the worker's final textual output.
	Text string
	// Cost is the cost in dollars reported by the backend.
	Cost float64
	// Duration is the wall time of the invocation.
	Duration time.Duration
	// Decision is set when the backend returned a structured routing
	// decision. Callers fall back to parsing Text when it is nil.
	Decision *models.RoutingDecision
}

// WorkerInvoker runs a worker to completion. Implementations must return
// promptly once ctx is done.
type WorkerInvoker interface {
	Invoke(ctx context.Context, inv Invocation) (*Result, error)
}

// InvokerFunc adapts a function to WorkerInvoker.
type InvokerFunc func(ctx context.Context, inv Invocation) (*Result, error)

// Invoke calls f.
func (f InvokerFunc) Invoke(ctx context.Context, inv Invocation) (*Result, error) {
	return f(ctx, inv)
}
