package main

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/ShayCichocki/weave/internal/agent"
	"github.com/ShayCichocki/weave/pkg/models"
)

var planHeuristic bool

var planCmd = &cobra.Command{
	Use:   "plan <task>",
	Short: "Show the role sequence chosen for a task",
	Long: `Run only the task planner and print the role sequence it chose.

With planner.use_worker enabled the planner role is asked first and the
keyword heuristic is the fallback. --heuristic skips the worker.`,
	Args: cobra.MinimumNArgs(1),
	RunE: runPlan,
}

func init() {
	planCmd.Flags().BoolVar(&planHeuristic, "heuristic", false, "Use the keyword heuristic only")
}

func runPlan(cmd *cobra.Command, args []string) error {
	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.Close()

	var inv agent.WorkerInvoker
	if a.cfg.Planner.UseWorker && !planHeuristic {
		timeouts := a.timeouts()
		defer timeouts.StopAll()
		if inv, err = a.newInvoker(cmd.Context(), timeouts); err != nil {
			return err
		}
	}

	plan := a.planner(inv).Plan(cmd.Context(), strings.Join(args, " "))
	printTaskPlan(os.Stdout, plan)
	return nil
}

func printTaskPlan(w io.Writer, p *models.TaskPlan) {
	fmt.Fprintf(w, "Roles:      %s\n", strings.Join(p.RoleSequence, " -> "))
	fmt.Fprintf(w, "Type:       %s\n", p.TaskType)
	fmt.Fprintf(w, "Complexity: %d\n", p.Complexity)
	fmt.Fprintf(w, "Strategy:   %s\n", p.Strategy)
	if p.Reasoning != "" {
		fmt.Fprintf(w, "Reasoning:  %s\n", p.Reasoning)
	}
	if len(p.DroppedRoles) > 0 {
		fmt.Fprintf(w, "Dropped:    %s\n", strings.Join(p.DroppedRoles, ", "))
	}
}
