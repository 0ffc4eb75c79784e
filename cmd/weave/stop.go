package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/ShayCichocki/weave/internal/signals"
)

var stopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Ask a running weave to stop",
	Long: `Write the stop signal file for this repository.

A 'weave run' in progress cancels its workers, skips any remaining merges and
exits. The file is cleared when the next run starts.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cwd, err := os.Getwd()
		if err != nil {
			return fmt.Errorf("get working directory: %w", err)
		}
		repo, err := findGitRoot(cwd)
		if err != nil {
			return fmt.Errorf("find git repository: %w", err)
		}
		if err := signals.RequestStop(repo); err != nil {
			return err
		}
		fmt.Printf("Stop requested (%s).\n", signals.StopPath(repo))
		return nil
	},
}
