package models

import "time"

// RunMode is the execution path a run took.
type RunMode string

const (
	RunModeParallel   RunMode = "parallel"
	RunModeSequential RunMode = "sequential"
)

// RunStatus is the final state of a run.
type RunStatus string

const (
	RunRunning   RunStatus = "running"
	RunSucceeded RunStatus = "succeeded"
	RunConflicts RunStatus = "conflicts"
	RunFailed    RunStatus = "failed"
	RunCancelled RunStatus = "cancelled"
	// RunAborted means routing stopped on a loop or its iteration ceiling.
	RunAborted RunStatus = "aborted"
)

// Run is one invocation of the engine for a task.
type Run struct {
	ID         string    `json:"id"`
	Task       string    `json:"task"`
	Base       string    `json:"base"`
	Mode       RunMode   `json:"mode,omitempty"`
	Status     RunStatus `json:"status"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at,omitempty"`
	Cost       float64   `json:"cost"`
	Error      string    `json:"error,omitempty"`
}
