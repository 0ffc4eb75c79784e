package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/fatih/color"
	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"

	"github.com/ShayCichocki/weave/internal/config"
	"github.com/ShayCichocki/weave/internal/orchestrator"
	"github.com/ShayCichocki/weave/internal/signals"
	"github.com/ShayCichocki/weave/internal/state"
	"github.com/ShayCichocki/weave/internal/tui"
	"github.com/ShayCichocki/weave/pkg/models"
)

// eventBuffer sizes the engine's event channel.
const eventBuffer = 256

var (
	runSequential    bool
	runNoTUI         bool
	runBase          string
	runBackend       string
	runMaxConcurrent int
)

var runCmd = &cobra.Command{
	Use:   "run <task>",
	Short: "Plan, execute and merge a task",
	Long: `Run a task end to end.

The task planner picks a role sequence. Unless --sequential is given, the
decomposer then decides whether the task splits into independent parts.
Parallel parts each run in their own worktree on their own branch and are
merged into the base branch in plan order. Otherwise the router drives the
role sequence in one worktree.

Ctrl+C, SIGTERM or 'weave stop' from another shell cancels the run; work in
flight is abandoned and nothing further is merged.

Examples:
  weave run "add a /health endpoint and a test for it"
  weave run --sequential "fix the flaky retry test"
  weave run --backend cli --max-concurrent 2 "split the config package"`,
	Args: cobra.MinimumNArgs(1),
	RunE: runRun,
}

func init() {
	runCmd.Flags().BoolVar(&runSequential, "sequential", false, "Skip decomposition and route the task in one worktree")
	runCmd.Flags().BoolVar(&runNoTUI, "no-tui", false, "Print events as lines instead of the progress view")
	runCmd.Flags().StringVar(&runBase, "base", "", "Base branch (default: current branch)")
	runCmd.Flags().StringVar(&runBackend, "backend", "", "Worker backend: api or cli (overrides worker.backend)")
	runCmd.Flags().IntVar(&runMaxConcurrent, "max-concurrent", 0, "Concurrent parts (overrides parallel.max_concurrent)")
}

func runRun(cmd *cobra.Command, args []string) error {
	task := strings.TrimSpace(strings.Join(args, " "))
	if task == "" {
		return fmt.Errorf("task is empty")
	}

	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.Close()

	if err := applyRunOverrides(a.cfg); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx, release, err := signals.Watch(ctx, a.repo, a.logger)
	if err != nil {
		return err
	}
	defer release()
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	base, err := a.currentBranch(ctx, runBase)
	if err != nil {
		return err
	}

	db, err := state.OpenProject(a.repo, a.cfg.State.Driver)
	if err != nil {
		return fmt.Errorf("open state: %w", err)
	}
	defer db.Close()

	timeouts := a.timeouts()
	defer timeouts.StopAll()
	inv, err := a.newInvoker(ctx, timeouts)
	if err != nil {
		return err
	}

	emitter := orchestrator.NewEventEmitter(eventBuffer, a.logger)
	engine, err := a.buildEngine(engineDeps{invoker: inv, timeouts: timeouts, db: db, emitter: emitter})
	if err != nil {
		return err
	}

	var (
		result *orchestrator.RunResult
		runErr error
	)
	done := make(chan struct{})
	go func() {
		defer close(done)
		defer emitter.Close()
		result, runErr = engine.Run(ctx, orchestrator.RunRequest{Task: task, Base: base, Sequential: runSequential})
	}()

	if a.cfg.TUI.Enabled && !runNoTUI && isTerminal(os.Stdout) {
		if err := tui.Run(cmd.Context(), task, emitter.Events(), cancel); err != nil {
			a.logger.Warn("progress view", "error", err)
		}
		// The view may quit before the run ends.
		go func() {
			for range emitter.Events() {
			}
		}()
	} else {
		for ev := range emitter.Events() {
			printEvent(os.Stdout, ev)
		}
	}
	<-done

	if errors.Is(context.Cause(ctx), signals.ErrStopRequested) {
		fmt.Println(color.YellowString("Stop requested; run cancelled."))
	}
	printSummary(os.Stdout, result)
	return runErr
}

func applyRunOverrides(cfg *config.Config) error {
	if runBackend != "" {
		cfg.Worker.Backend = runBackend
	}
	if runMaxConcurrent > 0 {
		cfg.Parallel.MaxConcurrent = runMaxConcurrent
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid flags: %w", err)
	}
	return nil
}

func isTerminal(f *os.File) bool {
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}

// printEvent writes one event as a log line.
func printEvent(w io.Writer, ev orchestrator.Event) {
	ts := ev.Timestamp.Format("15:04:05")
	switch ev.Type {
	case orchestrator.EventSubtaskStarted, orchestrator.EventSubtaskRunning:
		fmt.Fprintf(w, "%s  part %d [%s] %s\n", ts, ev.Index+1, ev.Role, ev.Type)
	case orchestrator.EventSubtaskCompleted:
		fmt.Fprintf(w, "%s  %s part %d [%s] done in %s ($%.4f)\n", ts, color.GreenString("✓"), ev.Index+1, ev.Role, ev.Duration.Round(time.Millisecond), ev.Cost)
	case orchestrator.EventSubtaskFailed:
		fmt.Fprintf(w, "%s  %s part %d [%s] %v\n", ts, color.RedString("✗"), ev.Index+1, ev.Role, ev.Error)
	case orchestrator.EventRoutingStep:
		fmt.Fprintf(w, "%s  %s -> %s\n", ts, ev.Role, ev.Message)
	case orchestrator.EventMergeOutcome:
		if ev.Message == "" && len(ev.Paths) == 0 {
			fmt.Fprintf(w, "%s  %s merged %s\n", ts, color.GreenString("✓"), ev.LineID)
		} else {
			fmt.Fprintf(w, "%s  %s %s: %s %s\n", ts, color.RedString("✗"), ev.LineID, ev.Message, strings.Join(ev.Paths, ", "))
		}
	case orchestrator.EventRunDone:
		// Covered by the summary.
	default:
		if ev.Message != "" {
			fmt.Fprintf(w, "%s  %s: %s\n", ts, ev.Type, ev.Message)
		} else {
			fmt.Fprintf(w, "%s  %s\n", ts, ev.Type)
		}
	}
}

// printSummary writes the final report for a run.
func printSummary(w io.Writer, result *orchestrator.RunResult) {
	if result == nil || result.Run == nil {
		return
	}
	run := result.Run

	fmt.Fprintln(w)
	fmt.Fprintf(w, "Run %s: %s\n", shortRunID(run.ID), statusColor(run.Status))
	fmt.Fprintf(w, "  Mode: %s  Base: %s  Cost: $%.4f\n", run.Mode, run.Base, run.Cost)
	if result.Plan != nil {
		fmt.Fprintf(w, "  Roles: %s\n", strings.Join(result.Plan.RoleSequence, " -> "))
	}
	if d := result.Decomposition; d != nil && !d.Parallel {
		fmt.Fprintf(w, "  Not split (%s): %s\n", d.Stage, d.Reason)
	}

	if p := result.Parallel; p != nil {
		fmt.Fprintf(w, "  Parts: %d completed, %d failed\n", len(p.Completed), len(p.Failed))
		for _, f := range p.Failed {
			fmt.Fprintf(w, "    %s part %d: %v\n", color.RedString("✗"), f.Index+1, f.Err)
			if f.Index < len(p.Executions) && p.Executions[f.Index].HistoryLineID != "" {
				fmt.Fprintf(w, "      kept branch %s\n", p.Executions[f.Index].HistoryLineID)
			}
		}
	}

	if r := result.Routing; r != nil {
		fmt.Fprintf(w, "  Routing: %s after %d iteration(s)\n", r.Status, r.Iterations)
		if abort := r.Abort(); abort != nil {
			fmt.Fprintf(w, "    %s\n", color.YellowString(abort.Error()))
		}
	}

	if m := result.Merge; m != nil {
		fmt.Fprintf(w, "  Merged: %d line(s)\n", len(m.Merged))
		for _, c := range m.Conflicts {
			msg := c.Error
			if len(c.ConflictedPaths) > 0 {
				msg = "conflict in " + strings.Join(c.ConflictedPaths, ", ")
			}
			fmt.Fprintf(w, "    %s %s: %s\n", color.RedString("✗"), c.HistoryLineID, msg)
		}
	}

	if run.Error != "" && run.Status != models.RunSucceeded {
		fmt.Fprintf(w, "  Error: %s\n", run.Error)
	}
}

func statusColor(s models.RunStatus) string {
	switch s {
	case models.RunSucceeded:
		return color.GreenString(string(s))
	case models.RunConflicts, models.RunAborted, models.RunCancelled:
		return color.YellowString(string(s))
	default:
		return color.RedString(string(s))
	}
}

func shortRunID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
