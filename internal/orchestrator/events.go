package orchestrator

import (
	"time"
)

// EventType represents the type of engine event.
type EventType string

const (
	// EventRunStarted indicates a run has started.
	EventRunStarted EventType = "run_started"
	// EventPlanned indicates the task planner chose a role sequence.
	EventPlanned EventType = "planned"
	// EventDecomposed indicates the decomposer returned a verdict.
	EventDecomposed EventType = "decomposed"
	// EventSubtaskStarted indicates a parallel part began provisioning.
	EventSubtaskStarted EventType = "subtask_started"
	// EventSubtaskRunning indicates a part's worker was invoked.
	EventSubtaskRunning EventType = "subtask_running"
	// EventSubtaskCompleted indicates a part completed.
	EventSubtaskCompleted EventType = "subtask_completed"
	// EventSubtaskFailed indicates a part failed or was cancelled.
	EventSubtaskFailed EventType = "subtask_failed"
	// EventRoutingStep indicates the router finished one step.
	EventRoutingStep EventType = "routing_step"
	// EventMergeStarted indicates the merge pass has started.
	EventMergeStarted EventType = "merge_started"
	// EventMergeOutcome reports one line's integration attempt.
	EventMergeOutcome EventType = "merge_outcome"
	// EventMergeCompleted indicates the merge pass finished.
	EventMergeCompleted EventType = "merge_completed"
	// EventRunDone indicates the run is over.
	EventRunDone EventType = "run_done"
)

// Event represents an event emitted by the engine.
// Events drive the progress view and log output.
type Event struct {
	// Type is the kind of event.
	Type EventType
	// RunID is the run the event belongs to.
	RunID string
	// ExecutionID is the related subtask execution, if any.
	ExecutionID string
	// Index is the part's position in the plan, for subtask events.
	Index int
	// Role is the role involved, if any.
	Role string
	// LineID is the history line involved, if any.
	LineID string
	// Message provides additional context about the event.
	Message string
	// Error contains error details for failure events.
	Error error
	// Paths lists conflicted paths for merge outcome events.
	Paths []string
	// Cost is the cost attributed to the event.
	Cost float64
	// Duration is the elapsed time attributed to the event.
	Duration time.Duration
	// Timestamp is when the event occurred.
	Timestamp time.Time
}
