package main

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/ShayCichocki/weave/pkg/models"
)

var splitCmd = &cobra.Command{
	Use:   "split <task>",
	Short: "Ask the decomposer whether a task can run in parallel",
	Long: `Run the decomposer without executing anything.

Prints the verdict, the stage that decided it and, if the task was split,
each part with its role and target files. Rejected proposals are shown too,
along with a suggested order when parts depend on each other.`,
	Args: cobra.MinimumNArgs(1),
	RunE: runSplit,
}

func runSplit(cmd *cobra.Command, args []string) error {
	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.Close()

	timeouts := a.timeouts()
	defer timeouts.StopAll()
	inv, err := a.newInvoker(cmd.Context(), timeouts)
	if err != nil {
		return err
	}

	plan := a.decomposer(inv).Decompose(cmd.Context(), strings.Join(args, " "))
	printDecomposition(os.Stdout, plan)
	return nil
}

func printDecomposition(w io.Writer, p models.Plan) {
	verdict := color.YellowString("sequential")
	if p.Parallel {
		verdict = color.GreenString("parallel")
	}
	fmt.Fprintf(w, "Verdict: %s (%s)\n", verdict, p.Stage)
	fmt.Fprintf(w, "Reason:  %s\n", p.Reason)
	if p.Complexity > 0 {
		fmt.Fprintf(w, "Complexity: %.1f\n", p.Complexity)
	}

	parts := p.Parts
	if !p.Parallel {
		parts = p.Proposed
		if len(parts) > 0 {
			fmt.Fprintln(w, "Rejected proposal:")
		}
	}
	for i, part := range parts {
		fmt.Fprintf(w, "  %d. [%s] %s\n", i+1, part.Role, part.Description)
		if len(part.TargetFiles) > 0 {
			fmt.Fprintf(w, "     files: %s\n", strings.Join(part.TargetFiles, ", "))
		}
		if len(part.DependsOn) > 0 {
			fmt.Fprintf(w, "     depends on: %v\n", oneBased(part.DependsOn))
		}
	}
	if len(p.Order) > 0 {
		fmt.Fprintf(w, "Suggested order: %v\n", oneBased(p.Order))
	}
}

func oneBased(idx []int) []int {
	out := make([]int, len(idx))
	for i, v := range idx {
		out[i] = v + 1
	}
	return out
}
