package agent

import (
	"bufio"
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	werrors "github.com/ShayCichocki/weave/internal/errors"
	"github.com/ShayCichocki/weave/internal/git"
)

// Worktree is one entry from git worktree list.
type Worktree struct {
	Path       string
	BranchName string
}

// WorktreeManager provides sandboxes as git worktrees of one repository.
type WorktreeManager struct {
	baseDir  string
	repoPath string
	git      git.Runner
	logger   *slog.Logger

	mu        sync.Mutex
	destroyed map[string]bool
}

// Verify WorktreeManager implements the sandbox interfaces at compile time.
var (
	_ SandboxProvider  = (*WorktreeManager)(nil)
	_ SandboxCommitter = (*WorktreeManager)(nil)
)

// DefaultWorktreeDir returns ~/.cache/weave/worktrees.
func DefaultWorktreeDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("get home directory: %w", err)
	}
	return filepath.Join(home, ".cache", "weave", "worktrees"), nil
}

// NewWorktreeManager creates a manager for the repository at repoPath.
// baseDir defaults to DefaultWorktreeDir.
func NewWorktreeManager(baseDir, repoPath string, logger *slog.Logger) (*WorktreeManager, error) {
	return NewWorktreeManagerWithRunner(baseDir, repoPath, git.NewRunner(repoPath), logger)
}

// NewWorktreeManagerWithRunner creates a manager with a custom git runner (for testing).
func NewWorktreeManagerWithRunner(baseDir, repoPath string, runner git.Runner, logger *slog.Logger) (*WorktreeManager, error) {
	if baseDir == "" {
		dir, err := DefaultWorktreeDir()
		if err != nil {
			return nil, err
		}
		baseDir = dir
	}
	if err := os.MkdirAll(baseDir, 0755); err != nil {
		return nil, fmt.Errorf("create worktree base directory: %w", err)
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &WorktreeManager{
		baseDir:   baseDir,
		repoPath:  repoPath,
		git:       runner,
		logger:    logger,
		destroyed: make(map[string]bool),
	}, nil
}

// Create adds a worktree with the request's line checked out.
func (m *WorktreeManager) Create(ctx context.Context, req SandboxRequest) (*Sandbox, error) {
	if req.ID == "" || req.LineID == "" {
		return nil, fmt.Errorf("create sandbox: id and line are required")
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	path := filepath.Join(m.baseDir, sanitize(req.ID))
	if _, err := os.Stat(path); err == nil {
		return nil, fmt.Errorf("create sandbox %s: %s already exists", req.ID, path)
	}
	if err := m.git.WorktreeAdd(ctx, path, req.LineID); err != nil {
		return nil, fmt.Errorf("create sandbox %s: %w", req.ID, err)
	}
	delete(m.destroyed, path)

	return &Sandbox{
		ID:        req.ID,
		Path:      path,
		LineID:    req.LineID,
		CreatedAt: time.Now(),
	}, nil
}

// Destroy removes the sandbox's worktree. The line itself is left intact.
func (m *WorktreeManager) Destroy(ctx context.Context, sb *Sandbox) error {
	if sb == nil {
		return nil
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.destroyed[sb.Path] {
		return nil
	}
	if _, err := os.Stat(sb.Path); os.IsNotExist(err) {
		m.destroyed[sb.Path] = true
		_ = m.git.WorktreePruneExpireNow(ctx)
		return nil
	}

	_ = m.git.WorktreeUnlock(ctx, sb.Path) // may not be locked
	if err := m.git.WorktreeRemove(ctx, sb.Path); err != nil {
		if rmErr := os.RemoveAll(sb.Path); rmErr != nil {
			return fmt.Errorf("destroy sandbox %s: %w", sb.ID, err)
		}
		_ = m.git.WorktreePruneExpireNow(ctx)
	}
	m.destroyed[sb.Path] = true
	return nil
}

// Commit stages and commits everything in the sandbox.
func (m *WorktreeManager) Commit(ctx context.Context, sb *Sandbox, message string) (bool, error) {
	m.mu.Lock()
	gone := m.destroyed[sb.Path]
	m.mu.Unlock()
	if gone {
		return false, fmt.Errorf("commit sandbox %s: %w", sb.ID, werrors.ErrSandboxDestroyed)
	}

	wt := m.git.At(sb.Path)
	dirty, err := wt.HasChanges(ctx)
	if err != nil {
		return false, fmt.Errorf("commit sandbox %s: %w", sb.ID, err)
	}
	if !dirty {
		return false, nil
	}
	if err := wt.AddAll(ctx); err != nil {
		return false, fmt.Errorf("commit sandbox %s: %w", sb.ID, err)
	}
	if err := wt.Commit(ctx, message); err != nil {
		return false, fmt.Errorf("commit sandbox %s: %w", sb.ID, err)
	}
	return true, nil
}

// List returns all worktrees of the repository.
func (m *WorktreeManager) List(ctx context.Context) ([]*Worktree, error) {
	output, err := m.git.WorktreeListPorcelain(ctx)
	if err != nil {
		return nil, fmt.Errorf("list worktrees: %w", err)
	}
	return parseWorktreeList(output)
}

// parseWorktreeList parses the output of 'git worktree list --porcelain'.
func parseWorktreeList(output string) ([]*Worktree, error) {
	var worktrees []*Worktree
	var current *Worktree

	scanner := bufio.NewScanner(strings.NewReader(output))
	for scanner.Scan() {
		line := scanner.Text()
		switch {
		case line == "":
			if current != nil {
				worktrees = append(worktrees, current)
				current = nil
			}
		case strings.HasPrefix(line, "worktree "):
			current = &Worktree{Path: strings.TrimPrefix(line, "worktree ")}
		case strings.HasPrefix(line, "branch ") && current != nil:
			current.BranchName = strings.TrimPrefix(strings.TrimPrefix(line, "branch "), "refs/heads/")
		}
	}
	if current != nil {
		worktrees = append(worktrees, current)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("parse worktree list: %w", err)
	}
	return worktrees, nil
}

// ListOrphans returns weave worktrees under the base directory whose line
// is not in activeLines.
func (m *WorktreeManager) ListOrphans(ctx context.Context, activeLines []string) ([]*Worktree, error) {
	worktrees, err := m.List(ctx)
	if err != nil {
		return nil, err
	}

	active := make(map[string]bool, len(activeLines))
	for _, l := range activeLines {
		active[l] = true
	}

	base := resolvePath(m.baseDir) + string(filepath.Separator)
	var orphans []*Worktree
	for _, wt := range worktrees {
		if !strings.HasPrefix(resolvePath(wt.Path), base) {
			continue
		}
		if !strings.HasPrefix(wt.BranchName, git.LinePrefix) || active[wt.BranchName] {
			continue
		}
		orphans = append(orphans, wt)
	}
	return orphans, nil
}

// CleanupOrphans removes orphaned worktrees and returns how many were removed.
func (m *WorktreeManager) CleanupOrphans(ctx context.Context, activeLines []string, verbose func(path string)) (int, error) {
	orphans, err := m.ListOrphans(ctx, activeLines)
	if err != nil {
		return 0, err
	}

	removed := 0
	for _, wt := range orphans {
		if err := m.Destroy(ctx, &Sandbox{ID: filepath.Base(wt.Path), Path: wt.Path, LineID: wt.BranchName}); err != nil {
			m.logger.Warn("remove orphaned worktree", "path", wt.Path, "error", err)
			continue
		}
		if verbose != nil {
			verbose(wt.Path)
		}
		removed++
	}

	_ = m.git.WorktreePruneExpireNow(ctx)
	return removed, nil
}

// BaseDir returns the base directory where worktrees are created.
func (m *WorktreeManager) BaseDir() string {
	return m.baseDir
}

// RepoPath returns the path to the main git repository.
func (m *WorktreeManager) RepoPath() string {
	return m.repoPath
}

// resolvePath cleans p and resolves symlinks when it exists.
func resolvePath(p string) string {
	if resolved, err := filepath.EvalSymlinks(p); err == nil {
		return resolved
	}
	return filepath.Clean(p)
}

// sanitize turns an ID into a single path element.
func sanitize(id string) string {
	return strings.NewReplacer("/", "-", string(filepath.Separator), "-", "..", "-").Replace(id)
}
