package models

// RoleDescriptor is a named capability profile bound to one worker configuration.
type RoleDescriptor struct {
	// Name is the role identifier used in routing decisions.
	Name string `json:"name" yaml:"name"`
	// Description is a one-line summary shown to planning workers.
	Description string `json:"description,omitempty" yaml:"description,omitempty"`
	// Capabilities are lowercase tags scored by the heuristic planner.
	Capabilities []string `json:"capabilities,omitempty" yaml:"capabilities,omitempty"`
	// Model optionally overrides the worker model for this role.
	Model string `json:"model,omitempty" yaml:"model,omitempty"`
}

// TaskType is the classification of a task.
type TaskType string

const (
	// TaskTypeSetup is scaffolding, configuration or initialization work.
	TaskTypeSetup TaskType = "SETUP"
	// TaskTypeFeature is new functionality.
	TaskTypeFeature TaskType = "FEATURE"
	// TaskTypeBugfix is a fix for existing behavior.
	TaskTypeBugfix TaskType = "BUGFIX"
	// TaskTypeRefactor is restructuring without behavior change.
	TaskTypeRefactor TaskType = "REFACTOR"
)

// Valid returns true if the task type is a known value.
func (t TaskType) Valid() bool {
	switch t {
	case TaskTypeSetup, TaskTypeFeature, TaskTypeBugfix, TaskTypeRefactor:
		return true
	default:
		return false
	}
}

// TaskPlan is the Task Planner's output: the role sequence the router follows.
type TaskPlan struct {
	RoleSequence []string `json:"role_sequence"`
	TaskType     TaskType `json:"task_type"`
	// Complexity is an estimate on a 1-10 scale.
	Complexity int    `json:"complexity"`
	Reasoning  string `json:"reasoning"`
	// Strategy names the planning strategy that produced the plan.
	Strategy string `json:"strategy"`
	// DroppedRoles lists role names a planning worker proposed that are not registered.
	DroppedRoles []string `json:"dropped_roles,omitempty"`
}
