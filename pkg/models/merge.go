package models

// MergeOutcome records one attempt to integrate a history line into the base line.
type MergeOutcome struct {
	// HistoryLineID is the line that was integrated.
	HistoryLineID string `json:"history_line_id"`
	// ExecutionID is the subtask execution that produced the line.
	ExecutionID string `json:"execution_id,omitempty"`
	// Merged is true when the line was integrated.
	Merged bool `json:"merged"`
	// ConflictedPaths lists paths with overlapping edits.
	ConflictedPaths []string `json:"conflicted_paths,omitempty"`
	// Error describes an integration failure that was not a content conflict.
	Error string `json:"error,omitempty"`
}
