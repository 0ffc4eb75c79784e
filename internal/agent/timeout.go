package agent

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	werrors "github.com/ShayCichocki/weave/internal/errors"
)

// DefaultTimeout applies to roles without an override.
const DefaultTimeout = 15 * time.Minute

// DefaultGrace is how long a terminated worker has between SIGTERM and SIGKILL.
const DefaultGrace = 10 * time.Second

// TimeoutHandler holds per-role invocation deadlines and tracks active timers.
type TimeoutHandler struct {
	defaultTimeout time.Duration
	grace          time.Duration
	timeouts       map[string]time.Duration
	timers         map[string]*time.Timer
	mu             sync.RWMutex
}

// NewTimeoutHandler creates a handler. A zero defaultTimeout or grace uses
// the package defaults.
func NewTimeoutHandler(defaultTimeout, grace time.Duration, perRole map[string]time.Duration) *TimeoutHandler {
	if defaultTimeout <= 0 {
		defaultTimeout = DefaultTimeout
	}
	if grace <= 0 {
		grace = DefaultGrace
	}
	h := &TimeoutHandler{
		defaultTimeout: defaultTimeout,
		grace:          grace,
		timeouts:       make(map[string]time.Duration, len(perRole)),
		timers:         make(map[string]*time.Timer),
	}
	for role, d := range perRole {
		if d > 0 {
			h.timeouts[strings.ToLower(role)] = d
		}
	}
	return h
}

// GetTimeout returns the deadline for role.
func (h *TimeoutHandler) GetTimeout(role string) time.Duration {
	h.mu.RLock()
	defer h.mu.RUnlock()

	if d, ok := h.timeouts[strings.ToLower(role)]; ok {
		return d
	}
	return h.defaultTimeout
}

// Grace returns the SIGTERM-to-SIGKILL grace period.
func (h *TimeoutHandler) Grace() time.Duration {
	return h.grace
}

// Supervise derives a context that is cancelled when role's deadline fires.
// The returned expired func reports whether the deadline (rather than the
// parent) ended the context. Call release when the invocation finishes.
func (h *TimeoutHandler) Supervise(ctx context.Context, id, role string) (supervised context.Context, expired func() bool, release func()) {
	timeout := h.GetTimeout(role)
	supervised, cancel := context.WithCancel(ctx)

	var mu sync.Mutex
	fired := false

	timer := time.AfterFunc(timeout, func() {
		mu.Lock()
		fired = true
		mu.Unlock()
		cancel()
	})

	h.mu.Lock()
	if old, ok := h.timers[id]; ok {
		old.Stop()
	}
	h.timers[id] = timer
	h.mu.Unlock()

	expired = func() bool {
		mu.Lock()
		defer mu.Unlock()
		return fired
	}
	release = func() {
		timer.Stop()
		cancel()
		h.mu.Lock()
		if active, ok := h.timers[id]; ok && active == timer {
			delete(h.timers, id)
		}
		h.mu.Unlock()
	}
	return supervised, expired, release
}

// ActiveTimers returns the number of currently active timers.
func (h *TimeoutHandler) ActiveTimers() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.timers)
}

// StopAll stops all active timers without cancelling their contexts.
func (h *TimeoutHandler) StopAll() {
	h.mu.Lock()
	defer h.mu.Unlock()

	for id, timer := range h.timers {
		timer.Stop()
		delete(h.timers, id)
	}
}

// TimeoutInvoker bounds every invocation of inner by its role's deadline.
// An invocation still running grace after its deadline is abandoned.
type TimeoutInvoker struct {
	inner    WorkerInvoker
	timeouts *TimeoutHandler
	logger   *slog.Logger
}

// NewTimeoutInvoker wraps inner with h's deadlines. A nil logger discards.
func NewTimeoutInvoker(inner WorkerInvoker, h *TimeoutHandler, logger *slog.Logger) *TimeoutInvoker {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &TimeoutInvoker{inner: inner, timeouts: h, logger: logger}
}

// Verify TimeoutInvoker implements WorkerInvoker at compile time.
var _ WorkerInvoker = (*TimeoutInvoker)(nil)

type invokeOutcome struct {
	res *Result
	err error
}

// Invoke runs inner under a supervised context. Expiry is reported as
// ErrTimeout.
func (t *TimeoutInvoker) Invoke(ctx context.Context, inv Invocation) (*Result, error) {
	id := uuid.New().String()
	supervised, expired, release := t.timeouts.Supervise(ctx, id, inv.Role)
	defer release()

	done := make(chan invokeOutcome, 1)
	go func() {
		res, err := t.inner.Invoke(supervised, inv)
		done <- invokeOutcome{res: res, err: err}
	}()

	var out invokeOutcome
	select {
	case out = <-done:
	case <-supervised.Done():
		grace := time.NewTimer(t.timeouts.Grace())
		defer grace.Stop()
		select {
		case out = <-done:
		case <-grace.C:
			t.logger.Warn("worker ignored cancellation; abandoned", "role", inv.Role, "invocation", id)
			out.err = supervised.Err()
		}
	}

	if expired() {
		if out.err == nil {
			// The deadline won the race but the worker finished.
			return out.res, nil
		}
		if werrors.Is(out.err, werrors.ErrTimeout) {
			return nil, out.err
		}
		timeout := t.timeouts.GetTimeout(inv.Role)
		t.logger.Warn("worker timed out", "role", inv.Role, "timeout", timeout)
		return nil, fmt.Errorf("%w: role %s after %s", werrors.ErrTimeout, inv.Role, timeout)
	}
	return out.res, out.err
}
