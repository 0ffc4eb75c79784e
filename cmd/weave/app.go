package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/anthropics/anthropic-sdk-go"

	"github.com/ShayCichocki/weave/internal/agent"
	"github.com/ShayCichocki/weave/internal/api"
	"github.com/ShayCichocki/weave/internal/config"
	"github.com/ShayCichocki/weave/internal/decompose"
	"github.com/ShayCichocki/weave/internal/git"
	"github.com/ShayCichocki/weave/internal/logging"
	"github.com/ShayCichocki/weave/internal/merge"
	"github.com/ShayCichocki/weave/internal/orchestrator"
	"github.com/ShayCichocki/weave/internal/planner"
	"github.com/ShayCichocki/weave/internal/roles"
	"github.com/ShayCichocki/weave/internal/router"
	"github.com/ShayCichocki/weave/internal/state"
)

// app bundles what every subcommand needs: config, repository root,
// logger and role registry.
type app struct {
	cfg      *config.Config
	repo     string
	logger   *slog.Logger
	closer   io.Closer
	registry *roles.Registry
}

func newApp() (*app, error) {
	cwd, err := os.Getwd()
	if err != nil {
		return nil, fmt.Errorf("get working directory: %w", err)
	}
	repo, err := findGitRoot(cwd)
	if err != nil {
		return nil, fmt.Errorf("find git repository: %w", err)
	}

	cfg, err := loadConfig(repo)
	if err != nil {
		return nil, err
	}

	logger, closer, err := buildLogger(cfg, repo)
	if err != nil {
		return nil, err
	}

	registry, err := buildRegistry(cfg, repo)
	if err != nil {
		_ = closer.Close()
		return nil, err
	}

	return &app{cfg: cfg, repo: repo, logger: logger, closer: closer, registry: registry}, nil
}

func (a *app) Close() error {
	return a.closer.Close()
}

func loadConfig(dir string) (*config.Config, error) {
	if configPath != "" {
		cfg, err := config.LoadFromPath(configPath)
		if err != nil {
			return nil, fmt.Errorf("load config %s: %w", configPath, err)
		}
		return cfg, nil
	}
	cfg, err := config.LoadFrom(dir)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	return cfg, nil
}

func buildLogger(cfg *config.Config, repo string) (*slog.Logger, io.Closer, error) {
	if verbose {
		return logging.New("", "debug")
	}
	logger, closer, err := logging.New(inRepo(repo, cfg.Logging.Dir), cfg.Logging.Level)
	if err != nil {
		return nil, nil, fmt.Errorf("open log: %w", err)
	}
	return logger, closer, nil
}

func buildRegistry(cfg *config.Config, repo string) (*roles.Registry, error) {
	if cfg.Roles.File == "" {
		return roles.Default(), nil
	}
	reg, err := roles.LoadFile(inRepo(repo, cfg.Roles.File))
	if err != nil {
		return nil, fmt.Errorf("load roles: %w", err)
	}
	return reg, nil
}

// inRepo resolves a relative config path against the repository root.
func inRepo(repo, p string) string {
	if p == "" || filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(repo, p)
}

func (a *app) timeouts() *agent.TimeoutHandler {
	return agent.NewTimeoutHandler(a.cfg.Timeouts.Default, a.cfg.Timeouts.Grace, a.cfg.Timeouts.Roles)
}

// newInvoker builds the configured worker backend. Each attempt is bounded by
// its role's timeout and transient failures are retried.
func (a *app) newInvoker(ctx context.Context, timeouts *agent.TimeoutHandler) (agent.WorkerInvoker, error) {
	var inner agent.WorkerInvoker
	switch a.cfg.Worker.Backend {
	case config.BackendCLI:
		inner = agent.NewCLIInvoker(
			agent.WithBinary(a.cfg.Worker.CLIBinary),
			agent.WithAllowedTools(a.cfg.Worker.AllowedTools),
			agent.WithTimeouts(timeouts),
			agent.WithCLILogger(a.logger),
		)
	default:
		key, source, err := config.ResolveAPIKey(a.cfg)
		if err != nil {
			return nil, err
		}
		a.logger.Debug("api key resolved", "source", source, "key", config.MaskAPIKey(key))
		client, err := api.NewClient(ctx, api.ClientConfig{
			Model:      anthropic.Model(a.cfg.Anthropic.Model),
			APIKey:     key,
			BaseURL:    a.cfg.Anthropic.BaseURL,
			UseBedrock: a.cfg.Anthropic.UseBedrock,
			AWSRegion:  a.cfg.Anthropic.AWSRegion,
			AWSProfile: a.cfg.Anthropic.AWSProfile,
			MaxRetries: a.cfg.Anthropic.MaxRetries,
		})
		if err != nil {
			return nil, fmt.Errorf("create API client: %w", err)
		}
		inner = api.NewInvoker(client,
			api.WithMaxTurns(a.cfg.Worker.MaxTurns),
			api.WithInvokerLogger(a.logger),
			api.WithCommandTimeouts(timeouts),
		)
	}

	return agent.NewRetryingInvoker(agent.NewTimeoutInvoker(inner, timeouts, a.logger),
		agent.WithMaxAttempts(a.cfg.Worker.MaxAttempts),
		agent.WithBackoff(a.cfg.Worker.BackoffBase, a.cfg.Worker.BackoffMax),
		agent.WithRetryLogger(a.logger),
	), nil
}

func (a *app) planner(inv agent.WorkerInvoker) *planner.Planner {
	opts := []planner.Option{
		planner.WithDefaultSequence(a.cfg.Planner.DefaultSequence),
		planner.WithLogger(a.logger),
	}
	if a.cfg.Planner.UseWorker && inv != nil {
		opts = append(opts, planner.WithWorker(inv, a.cfg.Planner.Role, a.cfg.Planner.Model))
	}
	return planner.New(a.registry, opts...)
}

func (a *app) decomposer(inv agent.WorkerInvoker) *decompose.Decomposer {
	return decompose.New(inv, a.registry,
		decompose.WithPlannerRole(a.cfg.Decompose.PlannerRole),
		decompose.WithModel(a.cfg.Decompose.Model),
		decompose.WithMinComplexity(a.cfg.Decompose.MinComplexity),
		decompose.WithMaxParts(a.cfg.Decompose.MaxParts),
		decompose.WithLogger(a.logger),
	)
}

func (a *app) lines() *git.Lines {
	return git.NewLines(git.NewRunner(a.repo))
}

func (a *app) merger(lines git.HistoryLineProvider) *merge.Merger {
	return merge.NewMerger(lines,
		merge.WithDeleteMerged(a.cfg.Merge.DeleteMerged),
		merge.WithLogger(a.logger),
	)
}

// engineDeps are the per-run collaborators handed to buildEngine.
type engineDeps struct {
	invoker  agent.WorkerInvoker
	timeouts *agent.TimeoutHandler
	db       *state.DB
	emitter  *orchestrator.EventEmitter
}

func (a *app) buildEngine(d engineDeps) (*orchestrator.Engine, error) {
	sandboxes, err := agent.NewWorktreeManager(a.cfg.Parallel.WorktreeDir, a.repo, a.logger)
	if err != nil {
		return nil, fmt.Errorf("create worktree manager: %w", err)
	}
	lines := a.lines()

	coordOpts := []orchestrator.CoordinatorOption{
		orchestrator.WithMaxConcurrent(a.cfg.Parallel.MaxConcurrent),
		orchestrator.WithTimeouts(d.timeouts),
		orchestrator.WithRegistry(a.registry),
		orchestrator.WithEmitter(d.emitter),
		orchestrator.WithLogger(a.logger),
	}
	engineOpts := []orchestrator.EngineOption{
		orchestrator.WithEngineEmitter(d.emitter),
		orchestrator.WithEngineLogger(a.logger),
	}
	if d.db != nil {
		coordOpts = append(coordOpts, orchestrator.WithRecorder(d.db))
		engineOpts = append(engineOpts, orchestrator.WithRunRecorder(d.db))
	}

	return orchestrator.NewEngine(orchestrator.Components{
		Planner:    a.planner(d.invoker),
		Decomposer: a.decomposer(d.invoker),
		Router: router.New(d.invoker, a.registry,
			router.WithMaxIterations(a.cfg.Router.MaxIterations),
			router.WithFallbackRole(a.cfg.Router.FallbackRole),
			router.WithTraceWindow(a.cfg.Router.TraceWindow),
			router.WithLogger(a.logger),
		),
		Coordinator: orchestrator.NewCoordinator(d.invoker, sandboxes, lines, coordOpts...),
		Merger:      a.merger(lines),
		Sandboxes:   sandboxes,
		Lines:       lines,
	}, engineOpts...), nil
}

// currentBranch returns base if set, otherwise the checked-out branch.
func (a *app) currentBranch(ctx context.Context, base string) (string, error) {
	if base != "" {
		return base, nil
	}
	branch, err := git.NewRunner(a.repo).CurrentBranch(ctx)
	if err != nil {
		return "", fmt.Errorf("detect base branch: %w", err)
	}
	return branch, nil
}

// findGitRoot finds the root of the git repository starting from the given directory.
func findGitRoot(startDir string) (string, error) {
	dir := startDir
	for {
		if _, err := os.Stat(filepath.Join(dir, ".git")); err == nil {
			return dir, nil
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			return "", fmt.Errorf("not in a git repository")
		}
		dir = parent
	}
}
