// Package tui renders the live progress view of a weave run.
//
// The view is read-only. It consumes orchestrator events and shows the
// planned roles, one row per parallel part, the routing steps of a
// sequential run, merge outcomes and a short activity log. Quitting with
// 'q' or Ctrl+C cancels the run.
//
// Usage:
//
//	err := tui.Run(ctx, task, emitter.Events(), cancel)
package tui
