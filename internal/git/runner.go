package git

import (
	"context"
	"fmt"
	"strings"

	iexec "github.com/ShayCichocki/weave/internal/exec"
)

// ExecRunner implements Runner by shelling out to the git binary.
type ExecRunner struct {
	repoPath string
	cmd      iexec.CommandRunner
}

// NewRunner creates a new git runner for the repository at the given path.
func NewRunner(repoPath string) *ExecRunner {
	return NewRunnerWithCommands(repoPath, iexec.NewRunner())
}

// NewRunnerWithCommands creates a git runner over a custom command runner (for testing).
func NewRunnerWithCommands(repoPath string, cmd iexec.CommandRunner) *ExecRunner {
	return &ExecRunner{repoPath: repoPath, cmd: cmd}
}

// run executes a git command and returns its trimmed output.
func (r *ExecRunner) run(ctx context.Context, args ...string) (string, error) {
	out, err := r.cmd.Run(ctx, r.repoPath, "git", args...)
	if err != nil {
		return "", fmt.Errorf("git %s: %w: %s", strings.Join(args, " "), err, strings.TrimSpace(string(out)))
	}
	return strings.TrimSpace(string(out)), nil
}

func (r *ExecRunner) runSilent(ctx context.Context, args ...string) error {
	_, err := r.run(ctx, args...)
	return err
}

// Run executes an arbitrary git command with the given arguments.
func (r *ExecRunner) Run(ctx context.Context, args ...string) (string, error) {
	return r.run(ctx, args...)
}

// At returns a runner for the repository or worktree at path.
func (r *ExecRunner) At(path string) Runner {
	return &ExecRunner{repoPath: path, cmd: r.cmd}
}

// RepoPath returns the directory commands run in.
func (r *ExecRunner) RepoPath() string {
	return r.repoPath
}

// CurrentBranch returns the name of the current branch.
func (r *ExecRunner) CurrentBranch(ctx context.Context) (string, error) {
	return r.run(ctx, "rev-parse", "--abbrev-ref", "HEAD")
}

// CreateBranchAt creates a branch at base.
func (r *ExecRunner) CreateBranchAt(ctx context.Context, name, base string) error {
	return r.runSilent(ctx, "branch", name, base)
}

// CheckoutBranch switches to the specified branch.
func (r *ExecRunner) CheckoutBranch(ctx context.Context, name string) error {
	return r.runSilent(ctx, "checkout", name)
}

// BranchExists returns true if the branch exists.
func (r *ExecRunner) BranchExists(ctx context.Context, name string) (bool, error) {
	_, err := r.cmd.Run(ctx, r.repoPath, "git", "show-ref", "--verify", "--quiet", "refs/heads/"+name)
	if err != nil {
		// Exit code 1 means the branch doesn't exist.
		if iexec.ExitCode(err) == 1 {
			return false, nil
		}
		return false, fmt.Errorf("check branch exists: %w", err)
	}
	return true, nil
}

// DeleteBranch deletes the specified branch.
func (r *ExecRunner) DeleteBranch(ctx context.Context, name string) error {
	return r.runSilent(ctx, "branch", "-D", name)
}

// ListBranches returns local branch names matching pattern.
func (r *ExecRunner) ListBranches(ctx context.Context, pattern string) ([]string, error) {
	out, err := r.run(ctx, "branch", "--list", "--format=%(refname:short)", pattern)
	if err != nil {
		return nil, err
	}
	return splitLines(out), nil
}

// RevParse returns the SHA that ref resolves to.
func (r *ExecRunner) RevParse(ctx context.Context, ref string) (string, error) {
	return r.run(ctx, "rev-parse", "--verify", ref)
}

// Status returns the output of git status --porcelain.
func (r *ExecRunner) Status(ctx context.Context) (string, error) {
	return r.run(ctx, "status", "--porcelain")
}

// HasChanges returns true if there are uncommitted changes.
func (r *ExecRunner) HasChanges(ctx context.Context) (bool, error) {
	status, err := r.Status(ctx)
	if err != nil {
		return false, err
	}
	return len(status) > 0, nil
}

// ConflictedFiles returns a list of files with unmerged changes.
func (r *ExecRunner) ConflictedFiles(ctx context.Context) ([]string, error) {
	out, err := r.run(ctx, "diff", "--name-only", "--diff-filter=U")
	if err != nil {
		return nil, err
	}
	return splitLines(out), nil
}

// AddAll stages every change in the working tree.
func (r *ExecRunner) AddAll(ctx context.Context) error {
	return r.runSilent(ctx, "add", "-A")
}

// Commit creates a new commit with the given message.
func (r *ExecRunner) Commit(ctx context.Context, message string) error {
	return r.runSilent(ctx, "commit", "-m", message)
}

// ResetHard resets the index and working tree to ref.
func (r *ExecRunner) ResetHard(ctx context.Context, ref string) error {
	return r.runSilent(ctx, "reset", "--hard", ref)
}

// MergeNoFFMessage merges the specified branch with --no-ff and a custom message.
func (r *ExecRunner) MergeNoFFMessage(ctx context.Context, branch, message string) error {
	return r.runSilent(ctx, "merge", "--no-ff", "-m", message, branch)
}

// MergeAbort aborts an in-progress merge.
func (r *ExecRunner) MergeAbort(ctx context.Context) error {
	return r.runSilent(ctx, "merge", "--abort")
}

// MergeInProgress returns true if MERGE_HEAD exists.
func (r *ExecRunner) MergeInProgress(ctx context.Context) (bool, error) {
	_, err := r.cmd.Run(ctx, r.repoPath, "git", "rev-parse", "-q", "--verify", "MERGE_HEAD")
	if err != nil {
		if iexec.ExitCode(err) == 1 {
			return false, nil
		}
		return false, fmt.Errorf("check merge state: %w", err)
	}
	return true, nil
}

// WorktreeAdd creates a new worktree at path with branch checked out.
func (r *ExecRunner) WorktreeAdd(ctx context.Context, path, branch string) error {
	return r.runSilent(ctx, "worktree", "add", path, branch)
}

// WorktreeRemove force-removes the worktree at the given path.
func (r *ExecRunner) WorktreeRemove(ctx context.Context, path string) error {
	return r.runSilent(ctx, "worktree", "remove", "--force", path)
}

// WorktreeUnlock unlocks a locked worktree.
func (r *ExecRunner) WorktreeUnlock(ctx context.Context, path string) error {
	return r.runSilent(ctx, "worktree", "unlock", path)
}

// WorktreeListPorcelain returns the raw porcelain output for detailed parsing.
func (r *ExecRunner) WorktreeListPorcelain(ctx context.Context) (string, error) {
	return r.run(ctx, "worktree", "list", "--porcelain")
}

// WorktreePruneExpireNow prunes worktrees with --expire now.
func (r *ExecRunner) WorktreePruneExpireNow(ctx context.Context) error {
	return r.runSilent(ctx, "worktree", "prune", "--expire", "now")
}

func splitLines(out string) []string {
	if out == "" {
		return nil
	}
	var lines []string
	for _, line := range strings.Split(out, "\n") {
		if line = strings.TrimSpace(line); line != "" {
			lines = append(lines, line)
		}
	}
	return lines
}

// Verify ExecRunner implements Runner at compile time.
var _ Runner = (*ExecRunner)(nil)
