package git

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/google/uuid"
)

// LinePrefix prefixes every branch weave forks.
const LinePrefix = "weave/"

// Integration is the result of folding a history line into its base.
type Integration struct {
	// Success is true when the merge commit was created.
	Success bool
	// ConflictedPaths lists unmerged paths when Success is false.
	ConflictedPaths []string
}

// HistoryLineProvider forks, integrates and deletes isolated lines of history.
type HistoryLineProvider interface {
	// Fork creates a new line at base and returns its ID. hint, when set,
	// becomes part of the ID.
	Fork(ctx context.Context, base, hint string) (string, error)
	// Integrate merges line into base. A content conflict is reported via
	// Integration, not as an error; the attempt is left in place until
	// DiscardAttempt is called.
	Integrate(ctx context.Context, line, base string) (*Integration, error)
	// DiscardAttempt restores base to its exact state before the last
	// Integrate call if that call did not succeed. It never undoes a
	// successful integration.
	DiscardAttempt(ctx context.Context, base string) error
	// Delete removes the line.
	Delete(ctx context.Context, line string) error
}

// Lines implements HistoryLineProvider with git branches in one repository.
// Integration happens in the repository's main worktree, so calls are serialized.
type Lines struct {
	git Runner

	mu         sync.Mutex
	preAttempt map[string]string // base -> HEAD SHA before the last attempt
}

// NewLines creates a line provider over runner.
func NewLines(runner Runner) *Lines {
	return &Lines{
		git:        runner,
		preAttempt: make(map[string]string),
	}
}

// Verify Lines implements HistoryLineProvider at compile time.
var _ HistoryLineProvider = (*Lines)(nil)

// LineName builds the branch name for hint, or a random one when hint is empty.
func LineName(hint string) string {
	if hint == "" {
		hint = uuid.New().String()[:8]
	}
	return LinePrefix + hint
}

// Fork creates a branch at base.
func (l *Lines) Fork(ctx context.Context, base, hint string) (string, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	name := LineName(hint)
	exists, err := l.git.BranchExists(ctx, name)
	if err != nil {
		return "", fmt.Errorf("fork %s: %w", base, err)
	}
	if exists {
		return "", fmt.Errorf("fork %s: line %s already exists", base, name)
	}
	if err := l.git.CreateBranchAt(ctx, name, base); err != nil {
		return "", fmt.Errorf("fork %s: %w", base, err)
	}
	return name, nil
}

// Integrate checks out base and merges line with a merge commit.
func (l *Lines) Integrate(ctx context.Context, line, base string) (*Integration, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	// Only a SHA recorded by this attempt may be restored.
	delete(l.preAttempt, base)
	if err := l.git.CheckoutBranch(ctx, base); err != nil {
		return nil, fmt.Errorf("checkout %s: %w", base, err)
	}
	head, err := l.git.RevParse(ctx, "HEAD")
	if err != nil {
		return nil, fmt.Errorf("resolve %s: %w", base, err)
	}
	l.preAttempt[base] = head

	mergeErr := l.git.MergeNoFFMessage(ctx, line, fmt.Sprintf("Merge %s into %s", line, base))
	if mergeErr == nil {
		delete(l.preAttempt, base)
		return &Integration{Success: true}, nil
	}

	conflicts, err := l.git.ConflictedFiles(ctx)
	if err != nil {
		return nil, fmt.Errorf("merge %s: %w (listing conflicts: %v)", line, mergeErr, err)
	}
	if len(conflicts) == 0 {
		return nil, fmt.Errorf("merge %s: %w", line, mergeErr)
	}
	return &Integration{Success: false, ConflictedPaths: conflicts}, nil
}

// DiscardAttempt aborts any in-progress merge and hard-resets base to the
// SHA recorded by the last Integrate call. Nothing is reset when that call
// succeeded or failed before recording base.
func (l *Lines) DiscardAttempt(ctx context.Context, base string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	inProgress, err := l.git.MergeInProgress(ctx)
	if err != nil {
		return fmt.Errorf("discard attempt on %s: %w", base, err)
	}
	if inProgress {
		// A failed abort still leaves reset --hard to restore the tree.
		_ = l.git.MergeAbort(ctx)
	}

	head, ok := l.preAttempt[base]
	if !ok {
		return nil
	}
	if err := l.git.ResetHard(ctx, head); err != nil {
		return fmt.Errorf("discard attempt on %s: %w", base, err)
	}
	delete(l.preAttempt, base)
	return nil
}

// Delete force-deletes the line's branch.
func (l *Lines) Delete(ctx context.Context, line string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if !strings.HasPrefix(line, LinePrefix) {
		return fmt.Errorf("delete %s: not a weave line", line)
	}
	if err := l.git.DeleteBranch(ctx, line); err != nil {
		return fmt.Errorf("delete %s: %w", line, err)
	}
	return nil
}

// Stale returns every weave line in the repository not listed in active.
func (l *Lines) Stale(ctx context.Context, active []string) ([]string, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	branches, err := l.git.ListBranches(ctx, LinePrefix+"*")
	if err != nil {
		return nil, fmt.Errorf("list lines: %w", err)
	}
	keep := make(map[string]bool, len(active))
	for _, a := range active {
		keep[a] = true
	}
	var stale []string
	for _, b := range branches {
		if !keep[b] {
			stale = append(stale, b)
		}
	}
	return stale, nil
}
