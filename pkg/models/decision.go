package models

// DecisionKind tags the variant of a RoutingDecision.
type DecisionKind string

const (
	// DecisionNext routes to NextRole.
	DecisionNext DecisionKind = "next"
	// DecisionComplete terminates routing.
	DecisionComplete DecisionKind = "complete"
)

// RoutingDecision is a worker's self-reported next step.
// Explicit is false whenever the decision was inferred by a fallback
// rather than stated by the worker.
type RoutingDecision struct {
	Kind     DecisionKind `json:"kind"`
	NextRole string       `json:"next_role,omitempty"`
	Reason   string       `json:"reason,omitempty"`
	Explicit bool         `json:"explicit"`
}

// RouteTo builds a decision that routes to role.
func RouteTo(role, reason string, explicit bool) RoutingDecision {
	return RoutingDecision{Kind: DecisionNext, NextRole: role, Reason: reason, Explicit: explicit}
}

// Complete builds a terminating decision.
func Complete(reason string, explicit bool) RoutingDecision {
	return RoutingDecision{Kind: DecisionComplete, Reason: reason, Explicit: explicit}
}

// IsComplete returns true if the decision terminates routing.
func (d RoutingDecision) IsComplete() bool {
	return d.Kind == DecisionComplete
}

// String renders the decision in the NEXT: grammar.
func (d RoutingDecision) String() string {
	if d.IsComplete() {
		return "COMPLETE"
	}
	if d.NextRole == "" {
		return "<none>"
	}
	return d.NextRole
}
