// Package errors defines weave's error taxonomy and classification helpers.
//
// The taxonomy has four families:
//   - ValidationFailure: a plan was rejected before any side effect.
//   - MergeConflictError: isolated lines could not be integrated; the base line is clean.
//   - ExecutionError: a single subtask or routed step failed.
//   - RoutingAbort: the router stopped on a loop or its iteration ceiling.
//
// Validation failures and routing aborts are normally resolved locally and
// surfaced as structured reasons. Merge conflicts and execution failures are
// always returned to the caller.
package errors

import (
	"errors"
	"fmt"
	"strings"

	"github.com/ShayCichocki/weave/pkg/models"
)

// Re-export standard library functions so callers import a single package.
var (
	Is     = errors.Is
	As     = errors.As
	Unwrap = errors.Unwrap
	New    = errors.New
	Join   = errors.Join
)

// Sentinel errors.
var (
	// ErrLoopDetected indicates the router saw two roles ping-ponging.
	ErrLoopDetected = New("routing loop detected")
	// ErrIterationExceeded indicates the router hit its iteration ceiling.
	ErrIterationExceeded = New("routing iteration ceiling exceeded")
	// ErrTimeout indicates a worker invocation exceeded its deadline and was terminated.
	ErrTimeout = New("worker invocation timed out")
	// ErrSandboxDestroyed indicates an operation on an already-destroyed sandbox.
	ErrSandboxDestroyed = New("sandbox already destroyed")
)

// Kind classifies an error within the taxonomy.
type Kind int

const (
	KindUnknown Kind = iota
	KindValidation
	KindMergeConflict
	KindExecution
	KindRoutingAbort
)

// String returns the string representation of the kind.
func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "validation_failure"
	case KindMergeConflict:
		return "merge_conflict"
	case KindExecution:
		return "execution_failure"
	case KindRoutingAbort:
		return "routing_abort"
	default:
		return "unknown"
	}
}

// ValidationFailure reports a rejected plan.
type ValidationFailure struct {
	Stage  models.DecomposeStage
	Reason string
}

func (e *ValidationFailure) Error() string {
	return fmt.Sprintf("plan rejected at %s: %s", e.Stage, e.Reason)
}

// MergeConflictError lists every line that could not be integrated into Base.
type MergeConflictError struct {
	Base     string
	Outcomes []models.MergeOutcome
}

func (e *MergeConflictError) Error() string {
	parts := make([]string, 0, len(e.Outcomes))
	for _, o := range e.Outcomes {
		switch {
		case len(o.ConflictedPaths) > 0:
			parts = append(parts, fmt.Sprintf("%s (%s)", o.HistoryLineID, strings.Join(o.ConflictedPaths, ", ")))
		case o.Error != "":
			parts = append(parts, fmt.Sprintf("%s (%s)", o.HistoryLineID, o.Error))
		default:
			parts = append(parts, o.HistoryLineID)
		}
	}
	return fmt.Sprintf("merge into %s failed for %d line(s): %s", e.Base, len(e.Outcomes), strings.Join(parts, "; "))
}

// Paths returns the union of conflicted paths in outcome order.
func (e *MergeConflictError) Paths() []string {
	seen := make(map[string]bool)
	var paths []string
	for _, o := range e.Outcomes {
		for _, p := range o.ConflictedPaths {
			if !seen[p] {
				seen[p] = true
				paths = append(paths, p)
			}
		}
	}
	return paths
}

// ExecutionError reports a failed subtask or routed step.
type ExecutionError struct {
	// ID is the execution ID, or empty for a routed step.
	ID   string
	Role string
	// Timeout is true when the worker was terminated for exceeding its deadline.
	Timeout bool
	Err     error
}

func (e *ExecutionError) Error() string {
	subject := e.Role
	if e.ID != "" {
		subject = fmt.Sprintf("%s (%s)", e.ID, e.Role)
	}
	if e.Timeout {
		return fmt.Sprintf("execution %s timed out: %v", subject, e.Err)
	}
	return fmt.Sprintf("execution %s failed: %v", subject, e.Err)
}

func (e *ExecutionError) Unwrap() error { return e.Err }

// NewExecutionError wraps err for the given execution and role.
// Timeout is inferred from err.
func NewExecutionError(id, role string, err error) *ExecutionError {
	return &ExecutionError{ID: id, Role: role, Err: err, Timeout: Is(err, ErrTimeout)}
}

// RoutingAbort reports a routing safety stop.
type RoutingAbort struct {
	// Cause is ErrLoopDetected or ErrIterationExceeded.
	Cause      error
	Iterations int
	// Roles are the roles involved in a detected loop.
	Roles []string
}

func (e *RoutingAbort) Error() string {
	if len(e.Roles) > 0 {
		return fmt.Sprintf("%v after %d iterations: %s", e.Cause, e.Iterations, strings.Join(e.Roles, " <-> "))
	}
	return fmt.Sprintf("%v after %d iterations", e.Cause, e.Iterations)
}

func (e *RoutingAbort) Unwrap() error { return e.Cause }

// KindOf returns the taxonomy kind of err, or KindUnknown.
func KindOf(err error) Kind {
	var vf *ValidationFailure
	var mc *MergeConflictError
	var ex *ExecutionError
	var ra *RoutingAbort
	switch {
	case err == nil:
		return KindUnknown
	case As(err, &mc):
		return KindMergeConflict
	case As(err, &ex):
		return KindExecution
	case As(err, &ra):
		return KindRoutingAbort
	case As(err, &vf):
		return KindValidation
	default:
		return KindUnknown
	}
}

// IsRetryable returns true for failures that are safe to retry as-is:
// validation failures (no side effects) and timeouts.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if KindOf(err) == KindValidation {
		return true
	}
	return Is(err, ErrTimeout)
}
