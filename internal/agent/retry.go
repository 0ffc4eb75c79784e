package agent

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	werrors "github.com/ShayCichocki/weave/internal/errors"
)

// RetryDecision represents the decision after evaluating a failure.
type RetryDecision int

const (
	// Retry indicates the invocation should be attempted again.
	Retry RetryDecision = iota
	// Abort indicates the failure should be returned to the caller.
	Abort
)

// String returns a human-readable representation of the retry decision.
func (d RetryDecision) String() string {
	switch d {
	case Retry:
		return "retry"
	case Abort:
		return "abort"
	default:
		return "unknown"
	}
}

// transientError marks a failure as safe to retry.
type transientError struct {
	err error
}

func (e *transientError) Error() string { return e.err.Error() }
func (e *transientError) Unwrap() error { return e.err }

// Transient marks err as a transient failure the RetryingInvoker may retry.
func Transient(err error) error {
	if err == nil {
		return nil
	}
	return &transientError{err: err}
}

// IsTransient returns true if err was marked with Transient.
func IsTransient(err error) bool {
	var t *transientError
	return errors.As(err, &t)
}

// DecideRetry is the default failure policy: retry transient failures, abort
// on cancellation, timeouts and everything else.
func DecideRetry(err error) RetryDecision {
	switch {
	case err == nil:
		return Abort
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return Abort
	case werrors.Is(err, werrors.ErrTimeout):
		return Abort
	case IsTransient(err):
		return Retry
	default:
		return Abort
	}
}

// RetryingInvoker wraps a WorkerInvoker and retries transient failures with
// exponential backoff. Retries are invisible to callers apart from latency.
type RetryingInvoker struct {
	inner       WorkerInvoker
	maxAttempts int
	baseDelay   time.Duration
	maxDelay    time.Duration
	decide      func(error) RetryDecision
	logger      *slog.Logger
}

// RetryOption configures a RetryingInvoker.
type RetryOption func(*RetryingInvoker)

// WithMaxAttempts sets the total number of attempts, including the first.
func WithMaxAttempts(n int) RetryOption {
	return func(r *RetryingInvoker) {
		if n < 1 {
			n = 1
		}
		r.maxAttempts = n
	}
}

// WithBackoff sets the initial and maximum delay between attempts.
func WithBackoff(base, max time.Duration) RetryOption {
	return func(r *RetryingInvoker) {
		r.baseDelay = base
		r.maxDelay = max
	}
}

// WithRetryPolicy replaces the failure policy.
func WithRetryPolicy(decide func(error) RetryDecision) RetryOption {
	return func(r *RetryingInvoker) { r.decide = decide }
}

// WithRetryLogger sets the logger.
func WithRetryLogger(l *slog.Logger) RetryOption {
	return func(r *RetryingInvoker) { r.logger = l }
}

// NewRetryingInvoker wraps inner. Defaults: 3 attempts, 2s doubling to 30s.
func NewRetryingInvoker(inner WorkerInvoker, opts ...RetryOption) *RetryingInvoker {
	r := &RetryingInvoker{
		inner:       inner,
		maxAttempts: 3,
		baseDelay:   2 * time.Second,
		maxDelay:    30 * time.Second,
		decide:      DecideRetry,
		logger:      slog.New(slog.DiscardHandler),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Verify RetryingInvoker implements WorkerInvoker at compile time.
var _ WorkerInvoker = (*RetryingInvoker)(nil)

// Invoke calls the wrapped invoker until it succeeds, the policy aborts or
// attempts run out. Cost and duration accumulate across attempts.
func (r *RetryingInvoker) Invoke(ctx context.Context, inv Invocation) (*Result, error) {
	var cost float64
	var spent time.Duration
	delay := r.baseDelay

	for attempt := 1; ; attempt++ {
		res, err := r.inner.Invoke(ctx, inv)
		if err == nil {
			res.Cost += cost
			res.Duration += spent
			return res, nil
		}

		if r.decide(err) != Retry || attempt >= r.maxAttempts {
			if attempt > 1 {
				return nil, fmt.Errorf("after %d attempts: %w", attempt, err)
			}
			return nil, err
		}

		r.logger.Warn("retrying worker", "role", inv.Role, "attempt", attempt, "delay", delay, "error", err)

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		case <-timer.C:
		}
		spent += delay

		delay *= 2
		if r.maxDelay > 0 && delay > r.maxDelay {
			delay = r.maxDelay
		}
	}
}
