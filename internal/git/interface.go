// Package git provides the git operations weave runs against a repository.
package git

import "context"

// BranchOperations defines the interface for git branch operations.
type BranchOperations interface {
	// CurrentBranch returns the name of the current branch.
	CurrentBranch(ctx context.Context) (string, error)
	// CreateBranchAt creates a branch pointing at base without checking it out.
	CreateBranchAt(ctx context.Context, name, base string) error
	// CheckoutBranch switches to the specified branch.
	CheckoutBranch(ctx context.Context, name string) error
	// BranchExists returns true if the branch exists.
	BranchExists(ctx context.Context, name string) (bool, error)
	// DeleteBranch deletes the specified branch (force delete).
	DeleteBranch(ctx context.Context, name string) error
	// ListBranches returns local branch names matching pattern.
	ListBranches(ctx context.Context, pattern string) ([]string, error)
}

// RefOperations resolves refs to commit SHAs.
type RefOperations interface {
	// RevParse returns the full SHA ref resolves to.
	RevParse(ctx context.Context, ref string) (string, error)
}

// DiffOperations defines the interface for git status operations.
type DiffOperations interface {
	// Status returns the output of git status --porcelain.
	Status(ctx context.Context) (string, error)
	// HasChanges returns true if there are uncommitted changes.
	HasChanges(ctx context.Context) (bool, error)
	// ConflictedFiles returns a list of files with unmerged changes.
	ConflictedFiles(ctx context.Context) ([]string, error)
}

// CommitOperations defines the interface for git commit operations.
type CommitOperations interface {
	// AddAll stages every change in the working tree.
	AddAll(ctx context.Context) error
	// Commit creates a new commit with the given message.
	Commit(ctx context.Context, message string) error
	// ResetHard resets the index and working tree to ref.
	ResetHard(ctx context.Context, ref string) error
}

// MergeOperations defines the interface for git merge operations.
type MergeOperations interface {
	// MergeNoFFMessage merges the specified branch with --no-ff and a custom message.
	MergeNoFFMessage(ctx context.Context, branch, message string) error
	// MergeAbort aborts an in-progress merge.
	MergeAbort(ctx context.Context) error
	// MergeInProgress returns true if MERGE_HEAD exists.
	MergeInProgress(ctx context.Context) (bool, error)
}

// WorktreeOperations defines the interface for git worktree operations.
type WorktreeOperations interface {
	// WorktreeAdd creates a new worktree at path with branch checked out.
	WorktreeAdd(ctx context.Context, path, branch string) error
	// WorktreeRemove force-removes the worktree at the given path.
	WorktreeRemove(ctx context.Context, path string) error
	// WorktreeUnlock unlocks a locked worktree.
	WorktreeUnlock(ctx context.Context, path string) error
	// WorktreeListPorcelain returns the raw porcelain output for detailed parsing.
	WorktreeListPorcelain(ctx context.Context) (string, error)
	// WorktreePruneExpireNow prunes worktrees with --expire now.
	WorktreePruneExpireNow(ctx context.Context) error
}

// Runner defines the complete interface for git operations.
// Consumers should prefer the focused interfaces when possible.
type Runner interface {
	BranchOperations
	RefOperations
	DiffOperations
	CommitOperations
	MergeOperations
	WorktreeOperations
	// At returns a Runner operating on the repository or worktree at path.
	At(path string) Runner
	// Run executes an arbitrary git command with the given arguments.
	Run(ctx context.Context, args ...string) (string, error)
}
