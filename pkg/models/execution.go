package models

import (
	"errors"
	"fmt"
	"time"
)

// ExecutionStatus represents the lifecycle state of a subtask execution.
type ExecutionStatus string

const (
	// ExecutionPending indicates the execution has been created but not provisioned.
	ExecutionPending ExecutionStatus = "pending"
	// ExecutionProvisioning indicates the history line and sandbox are being created.
	ExecutionProvisioning ExecutionStatus = "provisioning"
	// ExecutionRunning indicates the worker is running inside the sandbox.
	ExecutionRunning ExecutionStatus = "running"
	// ExecutionCompleted indicates the worker finished and its work was recorded.
	ExecutionCompleted ExecutionStatus = "completed"
	// ExecutionFailed indicates provisioning or the worker failed, including timeouts.
	ExecutionFailed ExecutionStatus = "failed"
	// ExecutionCancelled indicates the run was cancelled before the execution settled.
	ExecutionCancelled ExecutionStatus = "cancelled"
)

// ErrInvalidTransition is returned when a status change would regress or skip
// out of a terminal state.
var ErrInvalidTransition = errors.New("invalid execution status transition")

// Valid returns true if the status is a known value.
func (s ExecutionStatus) Valid() bool {
	switch s {
	case ExecutionPending, ExecutionProvisioning, ExecutionRunning,
		ExecutionCompleted, ExecutionFailed, ExecutionCancelled:
		return true
	default:
		return false
	}
}

// Terminal returns true if no further transitions are allowed from s.
func (s ExecutionStatus) Terminal() bool {
	return s == ExecutionCompleted || s == ExecutionFailed || s == ExecutionCancelled
}

// executionTransitions defines the allowed forward transitions.
// Terminal states map to an empty set.
var executionTransitions = map[ExecutionStatus]map[ExecutionStatus]bool{
	ExecutionPending: {
		ExecutionProvisioning: true,
		ExecutionFailed:       true,
		ExecutionCancelled:    true,
	},
	ExecutionProvisioning: {
		ExecutionRunning:   true,
		ExecutionFailed:    true,
		ExecutionCancelled: true,
	},
	ExecutionRunning: {
		ExecutionCompleted: true,
		ExecutionFailed:    true,
		ExecutionCancelled: true,
	},
	ExecutionCompleted: {},
	ExecutionFailed:    {},
	ExecutionCancelled: {},
}

// CanTransition reports whether an execution may move from one status to another.
func CanTransition(from, to ExecutionStatus) bool {
	targets, ok := executionTransitions[from]
	if !ok {
		return false
	}
	return targets[to]
}

// SubtaskExecution is the mutable record of one parallel part.
// It is owned by exactly one coordinator goroutine for its lifetime.
type SubtaskExecution struct {
	// ID is the unique identifier for this execution.
	ID string `json:"id"`
	// RunID groups the executions of one coordination run.
	RunID string `json:"run_id,omitempty"`
	// Index is the part's position in the accepted plan.
	Index int `json:"index"`
	// Spec is the validated subtask specification.
	Spec SubtaskSpec `json:"spec"`
	// HistoryLineID identifies the isolated branch forked for this part.
	HistoryLineID string `json:"history_line_id,omitempty"`
	// SandboxID identifies the sandbox handle.
	SandboxID string `json:"sandbox_id,omitempty"`
	// SandboxPath is the sandbox's working directory.
	SandboxPath string `json:"sandbox_path,omitempty"`
	// Status is the current lifecycle state.
	Status ExecutionStatus `json:"status"`
	// StartedAt is when provisioning began.
	StartedAt time.Time `json:"started_at"`
	// FinishedAt is when the execution reached a terminal status.
	FinishedAt time.Time `json:"finished_at,omitempty"`
	// Cost is the cost in dollars reported by the worker.
	Cost float64 `json:"cost"`
	// Duration is the worker invocation time.
	Duration time.Duration `json:"duration"`
	// Output is the worker's final text output.
	Output string `json:"output,omitempty"`
	// Error contains the failure message for failed or cancelled executions.
	Error string `json:"error,omitempty"`
}

// NewSubtaskExecution creates a pending execution for the part at index.
func NewSubtaskExecution(id string, index int, spec SubtaskSpec) *SubtaskExecution {
	return &SubtaskExecution{
		ID:     id,
		Index:  index,
		Spec:   spec,
		Status: ExecutionPending,
	}
}

// Transition moves the execution to status to.
// It refuses any transition the table does not allow, so status never regresses.
func (e *SubtaskExecution) Transition(to ExecutionStatus) error {
	if !CanTransition(e.Status, to) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, e.Status, to)
	}
	now := time.Now()
	if to == ExecutionProvisioning {
		e.StartedAt = now
	}
	if to.Terminal() {
		e.FinishedAt = now
	}
	e.Status = to
	return nil
}

// Fail moves a non-terminal execution to failed and records err.
// It is a no-op for executions that already settled.
func (e *SubtaskExecution) Fail(err error) {
	e.settle(ExecutionFailed, err)
}

// Cancel moves a non-terminal execution to cancelled and records err.
func (e *SubtaskExecution) Cancel(err error) {
	e.settle(ExecutionCancelled, err)
}

func (e *SubtaskExecution) settle(to ExecutionStatus, err error) {
	if e.Status.Terminal() {
		return
	}
	if err != nil {
		e.Error = err.Error()
	}
	_ = e.Transition(to)
}
