package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	yaml "go.yaml.in/yaml/v3"

	"github.com/ShayCichocki/weave/internal/config"
	iexec "github.com/ShayCichocki/weave/internal/exec"
	"github.com/ShayCichocki/weave/internal/roles"
	"github.com/ShayCichocki/weave/pkg/models"
)

// rolesFile is where init writes the editable role set.
const rolesFile = ".weave/roles.yaml"

var (
	initForce   bool
	initNoGit   bool
	initBackend string
)

var initCmd = &cobra.Command{
	Use:   "init [directory]",
	Short: "Initialize a weave project",
	Long: `Initialize a directory for use with weave.

This command:
  - Verifies git is installed and initializes a repository if needed
  - Creates the .weave directory
  - Writes .weave.yaml with the main settings
  - Writes .weave/roles.yaml with the built-in roles, ready to edit
  - Adds weave state and logs to .gitignore

Examples:
  weave init                 # Initialize current directory
  weave init ./myproject     # Initialize specific directory
  weave init --backend cli   # Use the claude CLI as the worker backend
  weave init --force         # Overwrite existing files`,
	Args: cobra.MaximumNArgs(1),
	RunE: runInit,
}

func init() {
	initCmd.Flags().BoolVar(&initForce, "force", false, "Overwrite existing configuration")
	initCmd.Flags().BoolVar(&initNoGit, "no-git", false, "Skip git initialization")
	initCmd.Flags().StringVar(&initBackend, "backend", config.BackendAPI, "Worker backend to configure: api or cli")
}

func runInit(cmd *cobra.Command, args []string) error {
	targetDir := "."
	if len(args) > 0 {
		targetDir = args[0]
	}
	absPath, err := filepath.Abs(targetDir)
	if err != nil {
		return fmt.Errorf("resolving absolute path: %w", err)
	}
	if err := os.MkdirAll(absPath, 0755); err != nil {
		return fmt.Errorf("creating directory %s: %w", absPath, err)
	}
	if initBackend != config.BackendAPI && initBackend != config.BackendCLI {
		return fmt.Errorf("unknown backend %q (want api or cli)", initBackend)
	}

	fmt.Printf("Initializing weave in %s...\n\n", absPath)

	cfgPath := filepath.Join(absPath, config.ProjectConfigName)
	if _, err := os.Stat(cfgPath); err == nil && !initForce {
		fmt.Printf("%s already exists. Use --force to overwrite.\n", config.ProjectConfigName)
		return nil
	}

	runner := iexec.NewRunner()
	if _, err := runner.LookPath("git"); err != nil {
		printStatus("✗", "Git not found", color.FgRed)
		return fmt.Errorf("git not found in PATH: %w", err)
	}
	printStatus("✓", "Git found", color.FgGreen)

	switch initBackend {
	case config.BackendCLI:
		if _, err := runner.LookPath("claude"); err != nil {
			printStatus("⚠", "claude CLI not found in PATH", color.FgYellow)
		} else {
			printStatus("✓", "claude CLI found", color.FgGreen)
		}
	default:
		if os.Getenv("ANTHROPIC_API_KEY") == "" && os.Getenv("WEAVE_ANTHROPIC_API_KEY") == "" {
			printStatus("⚠", "ANTHROPIC_API_KEY not set (you can set it later)", color.FgYellow)
		} else {
			printStatus("✓", "ANTHROPIC_API_KEY is set", color.FgGreen)
		}
	}

	if !initNoGit {
		if err := initGitRepo(cmd.Context(), runner, absPath); err != nil {
			return err
		}
	}

	if err := os.MkdirAll(filepath.Join(absPath, ".weave", "logs"), 0755); err != nil {
		return fmt.Errorf("creating .weave directory: %w", err)
	}
	printStatus("✓", "Created .weave directory", color.FgGreen)

	data, err := scaffoldConfig(config.Default(), initBackend)
	if err != nil {
		return err
	}
	if err := os.WriteFile(cfgPath, data, 0644); err != nil {
		return fmt.Errorf("writing %s: %w", config.ProjectConfigName, err)
	}
	printStatus("✓", "Wrote "+config.ProjectConfigName, color.FgGreen)

	data, err = scaffoldRoles(roles.DefaultRoles())
	if err != nil {
		return err
	}
	if err := os.WriteFile(filepath.Join(absPath, rolesFile), data, 0644); err != nil {
		return fmt.Errorf("writing %s: %w", rolesFile, err)
	}
	printStatus("✓", "Wrote "+rolesFile, color.FgGreen)

	if !initNoGit {
		if err := updateGitignore(absPath); err != nil {
			return fmt.Errorf("updating .gitignore: %w", err)
		}
		printStatus("✓", "Updated .gitignore", color.FgGreen)
	}

	fmt.Printf("\n%s weave initialization complete!\n\n", color.GreenString("✓"))
	fmt.Println("Next steps:")
	fmt.Println("  weave split \"your task here\"   # see how a task would be divided")
	fmt.Println("  weave run \"your task here\"")
	return nil
}

func initGitRepo(ctx context.Context, runner iexec.CommandRunner, dir string) error {
	if _, err := os.Stat(filepath.Join(dir, ".git")); os.IsNotExist(err) {
		if out, err := runner.Run(ctx, dir, "git", "init"); err != nil {
			return fmt.Errorf("git init failed: %w\n%s", err, out)
		}
		printStatus("✓", "Initialized git repository", color.FgGreen)
	} else {
		printStatus("✓", "Git repository exists", color.FgGreen)
	}

	// Worktrees need a commit to branch from.
	if _, err := runner.Run(ctx, dir, "git", "rev-parse", "--verify", "HEAD"); err != nil {
		if out, err := runner.Run(ctx, dir, "git", "commit", "--allow-empty", "-m", "Initial commit"); err != nil {
			return fmt.Errorf("creating initial commit: %w\n%s", err, out)
		}
		printStatus("✓", "Created initial commit", color.FgGreen)
	}
	return nil
}

// scaffoldConfig renders the project config written by init.
func scaffoldConfig(cfg *config.Config, backend string) ([]byte, error) {
	doc := map[string]any{
		"worker": map[string]any{
			"backend":      backend,
			"max_attempts": cfg.Worker.MaxAttempts,
		},
		"anthropic": map[string]any{
			"model": cfg.Anthropic.Model,
		},
		"timeouts": map[string]any{
			"default": cfg.Timeouts.Default.String(),
			"grace":   cfg.Timeouts.Grace.String(),
		},
		"decompose": map[string]any{
			"min_complexity": cfg.Decompose.MinComplexity,
			"max_parts":      cfg.Decompose.MaxParts,
		},
		"router": map[string]any{
			"max_iterations": cfg.Router.MaxIterations,
			"fallback_role":  cfg.Router.FallbackRole,
		},
		"planner": map[string]any{
			"default_sequence": cfg.Planner.DefaultSequence,
		},
		"parallel": map[string]any{
			"max_concurrent": cfg.Parallel.MaxConcurrent,
		},
		"merge": map[string]any{
			"delete_merged": cfg.Merge.DeleteMerged,
		},
		"roles": map[string]any{
			"file": rolesFile,
		},
	}
	data, err := yaml.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("render config: %w", err)
	}
	return append([]byte("# weave project configuration\n"), data...), nil
}

// scaffoldRoles renders descriptors in the roles file layout.
func scaffoldRoles(descs []models.RoleDescriptor) ([]byte, error) {
	data, err := yaml.Marshal(struct {
		Roles []models.RoleDescriptor `yaml:"roles"`
	}{Roles: descs})
	if err != nil {
		return nil, fmt.Errorf("render roles: %w", err)
	}
	return data, nil
}

var gitignoreEntries = []string{
	".weave/state.db*",
	".weave/logs/",
	".weave/signals/",
}

func updateGitignore(repoPath string) error {
	gitignorePath := filepath.Join(repoPath, ".gitignore")

	var existing string
	if data, err := os.ReadFile(gitignorePath); err == nil {
		existing = string(data)
	}

	var missing []string
	for _, entry := range gitignoreEntries {
		if !strings.Contains(existing, entry) {
			missing = append(missing, entry)
		}
	}
	if len(missing) == 0 {
		return nil
	}

	var b strings.Builder
	b.WriteString(existing)
	if len(existing) > 0 && !strings.HasSuffix(existing, "\n") {
		b.WriteString("\n")
	}
	b.WriteString("\n# weave\n")
	for _, entry := range missing {
		b.WriteString(entry + "\n")
	}
	return os.WriteFile(gitignorePath, []byte(b.String()), 0644)
}
