package agent

import (
	"context"
	"time"
)

// SandboxRequest asks for an isolated working copy bound to a history line.
type SandboxRequest struct {
	// ID names the sandbox. It must be unique among live sandboxes.
	ID string
	// LineID is the history line checked out in the sandbox.
	LineID string
}

// Sandbox is a handle to an isolated working copy. It has no behavior of
// its own; its owner must destroy it through the provider that created it.
type Sandbox struct {
	ID        string
	Path      string
	LineID    string
	CreatedAt time.Time
}

// SandboxProvider creates and destroys sandboxes.
type SandboxProvider interface {
	Create(ctx context.Context, req SandboxRequest) (*Sandbox, error)
	// Destroy removes the sandbox. Destroying a sandbox twice is not an error.
	Destroy(ctx context.Context, sb *Sandbox) error
}

// SandboxCommitter records a sandbox's changes on its history line.
// Providers implement it optionally.
type SandboxCommitter interface {
	// Commit stages and commits all changes. It returns false when there
	// was nothing to commit.
	Commit(ctx context.Context, sb *Sandbox, message string) (bool, error)
}
