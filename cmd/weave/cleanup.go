package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/ShayCichocki/weave/internal/agent"
	"github.com/ShayCichocki/weave/internal/git"
	"github.com/ShayCichocki/weave/internal/state"
	"github.com/ShayCichocki/weave/pkg/models"
)

var (
	cleanupForce    bool
	cleanupDryRun   bool
	cleanupBranches bool
	cleanupRuns     bool
)

var cleanupCmd = &cobra.Command{
	Use:   "cleanup",
	Short: "Remove orphaned worktrees and stale weave branches",
	Long: `Clean up after crashed or interrupted runs.

This command:
  - Lists weave worktrees whose branch belongs to no running run
  - Removes them and runs git worktree prune

With --branches:
  - Deletes weave/ branches that belong to no running run, including
    branches kept from failed parts

With --runs:
  - Deletes finished runs older than state.retention from the database

Examples:
  weave cleanup              # Interactive cleanup with confirmation
  weave cleanup --force      # Skip confirmation prompt
  weave cleanup --dry-run    # Show what would be removed
  weave cleanup --branches --runs`,
	RunE: runCleanup,
}

func init() {
	cleanupCmd.Flags().BoolVarP(&cleanupForce, "force", "f", false, "Skip confirmation prompt")
	cleanupCmd.Flags().BoolVar(&cleanupDryRun, "dry-run", false, "Show what would be removed without removing")
	cleanupCmd.Flags().BoolVar(&cleanupBranches, "branches", false, "Also delete stale weave/ branches")
	cleanupCmd.Flags().BoolVar(&cleanupRuns, "runs", false, "Also purge runs older than state.retention")
}

func runCleanup(cmd *cobra.Command, args []string) error {
	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.Close()
	ctx := cmd.Context()

	var db *state.DB
	if _, err := os.Stat(state.ProjectDBPath(a.repo)); err == nil {
		if db, err = state.OpenProject(a.repo, a.cfg.State.Driver); err != nil {
			return fmt.Errorf("open state: %w", err)
		}
		defer db.Close()
	}

	active, err := activeLines(ctx, db)
	if err != nil {
		// Without run state nothing counts as active.
		a.logger.Warn("query active runs", "error", err)
		active = nil
	}

	wtManager, err := agent.NewWorktreeManager(a.cfg.Parallel.WorktreeDir, a.repo, a.logger)
	if err != nil {
		return fmt.Errorf("create worktree manager: %w", err)
	}
	if err := cleanupWorktrees(ctx, wtManager, active); err != nil {
		return err
	}

	if cleanupBranches {
		if err := cleanupStaleBranches(ctx, a.lines(), active); err != nil {
			return err
		}
	}

	if cleanupRuns {
		if db == nil {
			fmt.Println("No state database; no runs to purge.")
			return nil
		}
		return purgeRuns(ctx, db, a)
	}
	return nil
}

func cleanupWorktrees(ctx context.Context, m *agent.WorktreeManager, active []string) error {
	orphans, err := m.ListOrphans(ctx, active)
	if err != nil {
		return fmt.Errorf("list orphaned worktrees: %w", err)
	}
	if len(orphans) == 0 {
		fmt.Println("No orphaned worktrees found.")
		return nil
	}

	fmt.Printf("Found %d orphaned worktree(s):\n", len(orphans))
	for _, wt := range orphans {
		fmt.Printf("  - %s (branch: %s)\n", wt.Path, wt.BranchName)
	}
	fmt.Println()

	if cleanupDryRun {
		fmt.Println("Dry run mode - no worktrees were removed.")
		return nil
	}
	ok, err := confirm("Remove these worktrees?")
	if err != nil {
		return err
	}
	if !ok {
		fmt.Println("Worktree cleanup cancelled.")
		return nil
	}

	var verboseCallback func(path string)
	if verbose {
		verboseCallback = func(path string) {
			fmt.Printf("Removed: %s\n", path)
		}
	}
	removed, err := m.CleanupOrphans(ctx, active, verboseCallback)
	if err != nil {
		return fmt.Errorf("cleanup orphaned worktrees: %w", err)
	}
	fmt.Printf("Removed %d orphaned worktree(s).\n", removed)
	return nil
}

func cleanupStaleBranches(ctx context.Context, lines *git.Lines, active []string) error {
	stale, err := lines.Stale(ctx, active)
	if err != nil {
		return err
	}
	if len(stale) == 0 {
		fmt.Println("No stale weave branches found.")
		return nil
	}

	fmt.Printf("Found %d stale branch(es):\n", len(stale))
	for _, b := range stale {
		fmt.Printf("  - %s\n", b)
	}
	fmt.Println()

	if cleanupDryRun {
		fmt.Println("Dry run mode - no branches were deleted.")
		return nil
	}
	ok, err := confirm("Delete these branches?")
	if err != nil {
		return err
	}
	if !ok {
		fmt.Println("Branch cleanup cancelled.")
		return nil
	}

	deleted := 0
	for _, b := range stale {
		if err := lines.Delete(ctx, b); err != nil {
			fmt.Printf("  could not delete %s: %v\n", b, err)
			continue
		}
		if verbose {
			fmt.Printf("Deleted: %s\n", b)
		}
		deleted++
	}
	fmt.Printf("Deleted %d branch(es).\n", deleted)
	return nil
}

func purgeRuns(ctx context.Context, db *state.DB, a *app) error {
	retention := a.cfg.State.Retention
	if cleanupDryRun {
		runs, err := db.ListRuns(ctx, 0)
		if err != nil {
			return err
		}
		count := 0
		for _, r := range runs {
			if !r.FinishedAt.IsZero() && r.FinishedAt.Before(time.Now().Add(-retention)) {
				count++
			}
		}
		fmt.Printf("Dry run: would purge %d run(s) older than %s.\n", count, retention)
		return nil
	}

	purged, err := db.PurgeOldRuns(ctx, retention)
	if err != nil {
		return fmt.Errorf("purge old runs: %w", err)
	}
	if purged > 0 {
		fmt.Printf("Purged %d run(s) older than %s.\n", purged, retention)
	} else {
		fmt.Printf("No runs older than %s found.\n", retention)
	}
	return nil
}

// activeLines returns the history lines of every run still marked running.
func activeLines(ctx context.Context, db *state.DB) ([]string, error) {
	if db == nil {
		return nil, nil
	}
	runs, err := db.ListRuns(ctx, 0)
	if err != nil {
		return nil, err
	}

	var lines []string
	for _, r := range runs {
		if r.Status != models.RunRunning {
			continue
		}
		lines = append(lines, git.LineName("seq-"+shortRunID(r.ID)))
		execs, err := db.ListExecutions(ctx, r.ID)
		if err != nil {
			return nil, err
		}
		for _, e := range execs {
			if e.HistoryLineID != "" {
				lines = append(lines, e.HistoryLineID)
			}
		}
	}
	return lines, nil
}

func confirm(prompt string) (bool, error) {
	if cleanupForce {
		return true, nil
	}
	fmt.Printf("%s [y/N] ", prompt)
	reader := bufio.NewReader(os.Stdin)
	response, err := reader.ReadString('\n')
	if err != nil {
		return false, fmt.Errorf("read confirmation: %w", err)
	}
	response = strings.TrimSpace(strings.ToLower(response))
	return response == "y" || response == "yes", nil
}
