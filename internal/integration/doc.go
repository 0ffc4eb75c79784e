// Package integration runs the engine end to end against real git
// repositories, worktrees and a sqlite state database. Only the workers
// are scripted.
//
// Build tag: integration
// Run with: go test -tags integration ./internal/integration/...
package integration
