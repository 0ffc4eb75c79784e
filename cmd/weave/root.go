package main

import (
	"os"

	"github.com/spf13/cobra"
)

var (
	configPath string
	verbose    bool
)

var rootCmd = &cobra.Command{
	Use:   "weave",
	Short: "Role-based coding workers on parallel history lines",
	Long: `Weave plans a coding task as a sequence of worker roles, decides whether it
can be split into independent parts, runs each part in its own git worktree
and merges the resulting branches back into the base branch.

Tasks that cannot be split safely are routed through the role sequence in a
single worktree, with each worker naming the role that should act next.`,
	SilenceUsage: true,
}

// Execute runs the root command
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Config file (default: user config merged with .weave.yaml)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Log to stderr at debug level")

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(planCmd)
	rootCmd.AddCommand(splitCmd)
	rootCmd.AddCommand(mergeCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(stopCmd)
	rootCmd.AddCommand(cleanupCmd)
	rootCmd.AddCommand(rolesCmd)
	rootCmd.AddCommand(initCmd)
	rootCmd.AddCommand(versionCmd)
}
