// Package orchestrator runs a task end to end.
//
// The Engine consults the planner for a role sequence and the decomposer for
// a parallel split. An accepted split goes to the Coordinator, which runs
// every part concurrently on its own history line and sandbox. Otherwise the
// router drives the whole task in one sandbox. Either way the resulting
// lines are merged into the base line one at a time.
package orchestrator
