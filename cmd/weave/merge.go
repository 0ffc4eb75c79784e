package main

import (
	"fmt"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/ShayCichocki/weave/internal/merge"
)

var (
	mergeBase string
	mergeKeep bool
)

var mergeCmd = &cobra.Command{
	Use:   "merge <branch>...",
	Short: "Merge existing branches into a base branch",
	Long: `Merge branches into the base branch one at a time, in the order given.

A branch that conflicts is rolled back and skipped; the rest are still
attempted. Use this to recover parts kept after a failed run.

Merged weave/ branches are deleted unless --keep is set or
merge.delete_merged is false. Other branches are never deleted.

Examples:
  weave merge --base main weave/part-1a2b3c4d weave/part-5e6f7a8b`,
	Args: cobra.MinimumNArgs(1),
	RunE: runMerge,
}

func init() {
	mergeCmd.Flags().StringVar(&mergeBase, "base", "", "Base branch (default: current branch)")
	mergeCmd.Flags().BoolVar(&mergeKeep, "keep", false, "Keep branches after merging")
}

func runMerge(cmd *cobra.Command, args []string) error {
	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.Close()

	ctx := cmd.Context()
	base, err := a.currentBranch(ctx, mergeBase)
	if err != nil {
		return err
	}
	if mergeKeep {
		a.cfg.Merge.DeleteMerged = false
	}

	candidates := make([]merge.Candidate, len(args))
	for i, branch := range args {
		candidates[i] = merge.Candidate{LineID: branch, Index: i}
	}

	result, err := a.merger(a.lines()).Merge(ctx, base, candidates)
	if result != nil {
		for _, o := range result.Outcomes {
			switch {
			case o.Merged:
				printStatus("✓", fmt.Sprintf("merged %s into %s", o.HistoryLineID, base), color.FgGreen)
			case len(o.ConflictedPaths) > 0:
				printStatus("✗", fmt.Sprintf("%s conflicts in %v", o.HistoryLineID, o.ConflictedPaths), color.FgRed)
			default:
				printStatus("✗", fmt.Sprintf("%s: %s", o.HistoryLineID, o.Error), color.FgRed)
			}
		}
	}
	return err
}

// printStatus prints a colored status mark followed by a message.
func printStatus(symbol, message string, colorAttr color.Attribute) {
	c := color.New(colorAttr)
	fmt.Printf("%s %s\n", c.Sprint(symbol), message)
}
