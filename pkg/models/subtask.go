// Package models defines the data types shared across weave's packages.
package models

// SubtaskSpec is one proposed part of a decomposed task.
// It is immutable once the plan containing it has been validated.
type SubtaskSpec struct {
	// Role names the registered role whose worker executes the part.
	Role string `json:"role" yaml:"role"`
	// Description is the work handed to the worker.
	Description string `json:"description" yaml:"description"`
	// TargetFiles lists every file or directory (trailing "/") the part may modify.
	TargetFiles []string `json:"target_files" yaml:"target_files"`
	// DependsOn lists indices of parts that must finish first.
	// Accepted parallel plans never carry dependencies.
	DependsOn []int `json:"depends_on,omitempty" yaml:"depends_on,omitempty"`
}

// DecomposeStage identifies which decomposition check decided a plan.
type DecomposeStage string

const (
	StageAnalysis    DecomposeStage = "analysis"
	StageStructure   DecomposeStage = "structure"
	StageComplexity  DecomposeStage = "complexity"
	StageCardinality DecomposeStage = "cardinality"
	StageConflicts   DecomposeStage = "conflicts"
	StageAccepted    DecomposeStage = "accepted"
)

// Plan is the decomposer's verdict for a task.
// When Parallel is false, Parts is empty and Reason says why.
type Plan struct {
	Parallel bool          `json:"parallel"`
	Parts    []SubtaskSpec `json:"parts,omitempty"`
	Reason   string        `json:"reason"`

	// Stage is the check that produced the verdict.
	Stage DecomposeStage `json:"stage"`
	// Complexity is the planning worker's estimate, when one was parsed.
	Complexity float64 `json:"complexity,omitempty"`
	// TaskType is the planning worker's classification, when one was parsed.
	TaskType TaskType `json:"task_type,omitempty"`
	// Order is a dependency-respecting order over the proposed parts when the
	// proposal was rejected only because it declared acyclic dependencies.
	Order []int `json:"order,omitempty"`
	// Proposed holds the parts the worker proposed, accepted or not.
	Proposed []SubtaskSpec `json:"proposed,omitempty"`
}

// SequentialPlan returns a rejected plan decided at stage with reason.
func SequentialPlan(stage DecomposeStage, reason string) Plan {
	return Plan{Parallel: false, Stage: stage, Reason: reason}
}
