package main

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/ShayCichocki/weave/internal/state"
	"github.com/ShayCichocki/weave/pkg/models"
)

var (
	statusLimit int
	statusRun   string
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show recent runs",
	Long: `Display recent runs from the project state database.

With --run, shows one run in detail: its parts, routing steps and merge
outcomes. A run ID prefix is enough.`,
	RunE: runStatus,
}

func init() {
	statusCmd.Flags().IntVarP(&statusLimit, "limit", "n", 10, "Number of runs to show")
	statusCmd.Flags().StringVar(&statusRun, "run", "", "Show details for one run")
}

func runStatus(cmd *cobra.Command, args []string) error {
	cwd, err := os.Getwd()
	if err != nil {
		return fmt.Errorf("get working directory: %w", err)
	}
	repo, err := findGitRoot(cwd)
	if err != nil {
		return fmt.Errorf("find git repository: %w", err)
	}
	if _, err := os.Stat(state.ProjectDBPath(repo)); os.IsNotExist(err) {
		fmt.Println("No runs yet. Run 'weave run <task>' to start.")
		return nil
	}

	cfg, err := loadConfig(repo)
	if err != nil {
		return err
	}
	db, err := state.OpenProject(repo, cfg.State.Driver)
	if err != nil {
		return fmt.Errorf("open state: %w", err)
	}
	defer db.Close()

	ctx := cmd.Context()
	if statusRun != "" {
		run, err := findRun(cmd, db, statusRun)
		if err != nil {
			return err
		}
		return displayRunDetail(cmd, db, run)
	}

	runs, err := db.ListRuns(ctx, statusLimit)
	if err != nil {
		return err
	}
	if len(runs) == 0 {
		fmt.Println("No runs yet. Run 'weave run <task>' to start.")
		return nil
	}
	displayRuns(os.Stdout, runs)
	return nil
}

func findRun(cmd *cobra.Command, db *state.DB, id string) (*models.Run, error) {
	if run, err := db.GetRun(cmd.Context(), id); err == nil {
		return run, nil
	}
	runs, err := db.ListRuns(cmd.Context(), 0)
	if err != nil {
		return nil, err
	}
	var match *models.Run
	for i := range runs {
		if strings.HasPrefix(runs[i].ID, id) {
			if match != nil {
				return nil, fmt.Errorf("run prefix %q is ambiguous", id)
			}
			match = &runs[i]
		}
	}
	if match == nil {
		return nil, fmt.Errorf("run %q not found", id)
	}
	return match, nil
}

func displayRuns(w io.Writer, runs []models.Run) {
	fmt.Fprintf(w, "%-8s  %-10s  %-10s  %-16s  %8s  %s\n", "RUN", "STATUS", "MODE", "STARTED", "COST", "TASK")
	for _, r := range runs {
		fmt.Fprintf(w, "%-8s  %-10s  %-10s  %-16s  %8s  %s\n",
			shortRunID(r.ID), r.Status, r.Mode, r.StartedAt.Local().Format("2006-01-02 15:04"),
			fmt.Sprintf("$%.4f", r.Cost), truncate(r.Task, 50))
	}
}

func displayRunDetail(cmd *cobra.Command, db *state.DB, run *models.Run) error {
	ctx := cmd.Context()
	w := os.Stdout

	fmt.Fprintf(w, "Run:      %s\n", run.ID)
	fmt.Fprintf(w, "Task:     %s\n", run.Task)
	fmt.Fprintf(w, "Status:   %s\n", statusColor(run.Status))
	fmt.Fprintf(w, "Mode:     %s\n", run.Mode)
	fmt.Fprintf(w, "Base:     %s\n", run.Base)
	fmt.Fprintf(w, "Started:  %s\n", run.StartedAt.Local().Format(time.RFC1123))
	if !run.FinishedAt.IsZero() {
		fmt.Fprintf(w, "Duration: %s\n", run.FinishedAt.Sub(run.StartedAt).Round(time.Second))
	}
	fmt.Fprintf(w, "Cost:     $%.4f\n", run.Cost)
	if run.Error != "" {
		fmt.Fprintf(w, "Error:    %s\n", run.Error)
	}

	execs, err := db.ListExecutions(ctx, run.ID)
	if err != nil {
		return err
	}
	if len(execs) > 0 {
		fmt.Fprintln(w, "\nParts:")
		for _, e := range execs {
			fmt.Fprintf(w, "  %d. [%s] %-10s %s\n", e.Index+1, e.Spec.Role, e.Status, truncate(e.Spec.Description, 60))
			if e.HistoryLineID != "" {
				fmt.Fprintf(w, "     branch %s", e.HistoryLineID)
				if e.Duration > 0 {
					fmt.Fprintf(w, ", %s", e.Duration.Round(time.Second))
				}
				fmt.Fprintln(w)
			}
			if e.Error != "" {
				fmt.Fprintf(w, "     error: %s\n", e.Error)
			}
		}
	}

	trace, err := db.ListTrace(ctx, run.ID)
	if err != nil {
		return err
	}
	if len(trace) > 0 {
		fmt.Fprintln(w, "\nRouting:")
		for i, t := range trace {
			fmt.Fprintf(w, "  %d. %-10s %s ($%.4f, %s)\n", i+1, t.Role, t.Decision, t.Cost, t.Duration.Round(time.Second))
		}
	}

	outcomes, err := db.ListMergeOutcomes(ctx, run.ID)
	if err != nil {
		return err
	}
	if len(outcomes) > 0 {
		fmt.Fprintln(w, "\nMerge:")
		for _, o := range outcomes {
			switch {
			case o.Merged:
				fmt.Fprintf(w, "  merged     %s\n", o.HistoryLineID)
			case len(o.ConflictedPaths) > 0:
				fmt.Fprintf(w, "  conflict   %s: %s\n", o.HistoryLineID, strings.Join(o.ConflictedPaths, ", "))
			default:
				fmt.Fprintf(w, "  failed     %s: %s\n", o.HistoryLineID, o.Error)
			}
		}
	}
	return nil
}

func truncate(s string, n int) string {
	s = strings.ReplaceAll(s, "\n", " ")
	if len(s) <= n {
		return s
	}
	return s[:n-3] + "..."
}
