// Package config handles configuration loading for weave.
// It supports XDG config paths, project-level overrides, and environment variables.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// ProjectConfigName is the project-level config file searched upward from
// the working directory.
const ProjectConfigName = ".weave.yaml"

// Worker backends.
const (
	BackendAPI = "api"
	BackendCLI = "cli"
)

// Config holds all configuration for weave.
type Config struct {
	Anthropic AnthropicConfig `mapstructure:"anthropic"`
	Worker    WorkerConfig    `mapstructure:"worker"`
	Timeouts  TimeoutsConfig  `mapstructure:"timeouts"`
	Decompose DecomposeConfig `mapstructure:"decompose"`
	Router    RouterConfig    `mapstructure:"router"`
	Planner   PlannerConfig   `mapstructure:"planner"`
	Parallel  ParallelConfig  `mapstructure:"parallel"`
	Merge     MergeConfig     `mapstructure:"merge"`
	State     StateConfig     `mapstructure:"state"`
	Logging   LoggingConfig   `mapstructure:"logging"`
	Roles     RolesConfig     `mapstructure:"roles"`
	TUI       TUIConfig       `mapstructure:"tui"`
}

// AnthropicConfig holds Anthropic API settings.
type AnthropicConfig struct {
	APIKey     string `mapstructure:"api_key"`
	BaseURL    string `mapstructure:"base_url"`
	Model      string `mapstructure:"model"`
	UseBedrock bool   `mapstructure:"use_bedrock"`
	AWSRegion  string `mapstructure:"aws_region"`
	AWSProfile string `mapstructure:"aws_profile"`
	MaxRetries int    `mapstructure:"max_retries"`
}

// WorkerConfig selects and tunes the worker backend.
type WorkerConfig struct {
	// Backend is "api" (Messages API) or "cli" (claude subprocess).
	Backend      string        `mapstructure:"backend"`
	CLIBinary    string        `mapstructure:"cli_binary"`
	AllowedTools string        `mapstructure:"allowed_tools"`
	MaxTurns     int           `mapstructure:"max_turns"`
	MaxAttempts  int           `mapstructure:"max_attempts"`
	BackoffBase  time.Duration `mapstructure:"backoff_base"`
	BackoffMax   time.Duration `mapstructure:"backoff_max"`
}

// TimeoutsConfig holds worker time limits. Roles overrides Default per role.
type TimeoutsConfig struct {
	Default time.Duration            `mapstructure:"default"`
	Grace   time.Duration            `mapstructure:"grace"`
	Roles   map[string]time.Duration `mapstructure:"roles"`
}

// DecomposeConfig holds decomposer settings.
type DecomposeConfig struct {
	PlannerRole   string  `mapstructure:"planner_role"`
	Model         string  `mapstructure:"model"`
	MinComplexity float64 `mapstructure:"min_complexity"`
	MaxParts      int     `mapstructure:"max_parts"`
}

// RouterConfig holds sequential routing settings.
type RouterConfig struct {
	MaxIterations int    `mapstructure:"max_iterations"`
	FallbackRole  string `mapstructure:"fallback_role"`
	TraceWindow   int    `mapstructure:"trace_window"`
}

// PlannerConfig holds task planner settings.
type PlannerConfig struct {
	// UseWorker enables the worker-backed strategy ahead of the heuristic.
	UseWorker       bool     `mapstructure:"use_worker"`
	Role            string   `mapstructure:"role"`
	Model           string   `mapstructure:"model"`
	DefaultSequence []string `mapstructure:"default_sequence"`
}

// ParallelConfig holds parallel coordinator settings.
type ParallelConfig struct {
	MaxConcurrent int `mapstructure:"max_concurrent"`
	// WorktreeDir is where sandboxes are created. Empty means the system
	// temp directory.
	WorktreeDir string `mapstructure:"worktree_dir"`
}

// MergeConfig holds history merger settings.
type MergeConfig struct {
	DeleteMerged bool `mapstructure:"delete_merged"`
}

// StateConfig holds persistence settings.
type StateConfig struct {
	// Driver is "sqlite" (pure Go) or "sqlite3" (cgo).
	Driver    string        `mapstructure:"driver"`
	Retention time.Duration `mapstructure:"retention"`
}

// LoggingConfig holds log settings.
type LoggingConfig struct {
	Level string `mapstructure:"level"`
	// Dir holds weave.log. Relative paths are resolved against the repository.
	Dir string `mapstructure:"dir"`
}

// RolesConfig points at an optional role registry file.
type RolesConfig struct {
	File string `mapstructure:"file"`
}

// TUIConfig holds progress view settings.
type TUIConfig struct {
	Enabled     bool          `mapstructure:"enabled"`
	RefreshRate time.Duration `mapstructure:"refresh_rate"`
}

// Load loads configuration starting the project search at the current
// working directory.
func Load() (*Config, error) {
	cwd, err := os.Getwd()
	if err != nil {
		return nil, fmt.Errorf("get working directory: %w", err)
	}
	return LoadFrom(cwd)
}

// LoadFrom loads configuration from XDG paths, project overrides found at or
// above dir, and environment variables.
// Precedence (highest to lowest):
// 1. Environment variables (ANTHROPIC_API_KEY, WEAVE_*)
// 2. Project config (.weave.yaml in dir or a parent)
// 3. User config (~/.config/weave/config.yaml)
// 4. Built-in defaults
func LoadFrom(dir string) (*Config, error) {
	v := newViper()

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(userConfigDir())
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("reading user config: %w", err)
		}
	}

	if projectConfig := FindProjectConfig(dir); projectConfig != "" {
		pv := viper.New()
		pv.SetConfigFile(projectConfig)
		if err := pv.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("reading project config %s: %w", projectConfig, err)
		}
		if err := v.MergeConfigMap(pv.AllSettings()); err != nil {
			return nil, fmt.Errorf("merging project config: %w", err)
		}
	}

	return decode(v)
}

// LoadFromPath loads configuration from a specific file over the defaults.
func LoadFromPath(path string) (*Config, error) {
	v := newViper()

	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("reading config from %s: %w", path, err)
	}

	return decode(v)
}

func newViper() *viper.Viper {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("WEAVE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	_ = v.BindEnv("anthropic.api_key", "WEAVE_ANTHROPIC_API_KEY", "ANTHROPIC_API_KEY")
	return v
}

func decode(v *viper.Viper) (*Config, error) {
	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}
	cfg.Anthropic.APIKey = os.ExpandEnv(cfg.Anthropic.APIKey)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks value bounds.
func (c *Config) Validate() error {
	var errs []error
	check := func(ok bool, format string, args ...any) {
		if !ok {
			errs = append(errs, fmt.Errorf(format, args...))
		}
	}

	check(c.Worker.Backend == BackendAPI || c.Worker.Backend == BackendCLI,
		"worker.backend must be %q or %q, got %q", BackendAPI, BackendCLI, c.Worker.Backend)
	check(c.Worker.MaxAttempts >= 1, "worker.max_attempts must be at least 1")
	check(c.Worker.MaxTurns >= 1, "worker.max_turns must be at least 1")
	check(c.Timeouts.Default > 0, "timeouts.default must be positive")
	check(c.Timeouts.Grace >= 0, "timeouts.grace must not be negative")
	for role, d := range c.Timeouts.Roles {
		check(d > 0, "timeouts.roles.%s must be positive", role)
	}
	check(c.Decompose.MaxParts >= 2, "decompose.max_parts must be at least 2")
	check(c.Decompose.MinComplexity >= 0, "decompose.min_complexity must not be negative")
	check(c.Router.MaxIterations >= 1, "router.max_iterations must be at least 1")
	check(c.Router.FallbackRole != "", "router.fallback_role must be set")
	check(c.Parallel.MaxConcurrent >= 1, "parallel.max_concurrent must be at least 1")
	check(c.State.Driver == "sqlite" || c.State.Driver == "sqlite3",
		"state.driver must be sqlite or sqlite3, got %q", c.State.Driver)

	if len(errs) > 0 {
		return fmt.Errorf("invalid config: %w", errors.Join(errs...))
	}
	return nil
}

// UserConfigPath returns the path to the user config file.
func UserConfigPath() string {
	return filepath.Join(userConfigDir(), "config.yaml")
}

// setDefaults configures default values.
func setDefaults(v *viper.Viper) {
	d := Default()

	v.SetDefault("anthropic.api_key", "")
	v.SetDefault("anthropic.base_url", "")
	v.SetDefault("anthropic.model", d.Anthropic.Model)
	v.SetDefault("anthropic.use_bedrock", false)
	v.SetDefault("anthropic.aws_region", "")
	v.SetDefault("anthropic.aws_profile", "")
	v.SetDefault("anthropic.max_retries", d.Anthropic.MaxRetries)

	v.SetDefault("worker.backend", d.Worker.Backend)
	v.SetDefault("worker.cli_binary", d.Worker.CLIBinary)
	v.SetDefault("worker.allowed_tools", d.Worker.AllowedTools)
	v.SetDefault("worker.max_turns", d.Worker.MaxTurns)
	v.SetDefault("worker.max_attempts", d.Worker.MaxAttempts)
	v.SetDefault("worker.backoff_base", d.Worker.BackoffBase.String())
	v.SetDefault("worker.backoff_max", d.Worker.BackoffMax.String())

	v.SetDefault("timeouts.default", d.Timeouts.Default.String())
	v.SetDefault("timeouts.grace", d.Timeouts.Grace.String())
	v.SetDefault("timeouts.roles", map[string]string{})

	v.SetDefault("decompose.planner_role", d.Decompose.PlannerRole)
	v.SetDefault("decompose.model", "")
	v.SetDefault("decompose.min_complexity", d.Decompose.MinComplexity)
	v.SetDefault("decompose.max_parts", d.Decompose.MaxParts)

	v.SetDefault("router.max_iterations", d.Router.MaxIterations)
	v.SetDefault("router.fallback_role", d.Router.FallbackRole)
	v.SetDefault("router.trace_window", d.Router.TraceWindow)

	v.SetDefault("planner.use_worker", d.Planner.UseWorker)
	v.SetDefault("planner.role", d.Planner.Role)
	v.SetDefault("planner.model", "")
	v.SetDefault("planner.default_sequence", d.Planner.DefaultSequence)

	v.SetDefault("parallel.max_concurrent", d.Parallel.MaxConcurrent)
	v.SetDefault("parallel.worktree_dir", "")

	v.SetDefault("merge.delete_merged", d.Merge.DeleteMerged)

	v.SetDefault("state.driver", d.State.Driver)
	v.SetDefault("state.retention", d.State.Retention.String())

	v.SetDefault("logging.level", d.Logging.Level)
	v.SetDefault("logging.dir", d.Logging.Dir)

	v.SetDefault("roles.file", "")

	v.SetDefault("tui.enabled", d.TUI.Enabled)
	v.SetDefault("tui.refresh_rate", d.TUI.RefreshRate.String())
}

// userConfigDir returns the XDG config directory for weave.
func userConfigDir() string {
	if xdgConfig := os.Getenv("XDG_CONFIG_HOME"); xdgConfig != "" {
		return filepath.Join(xdgConfig, "weave")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".", ".config", "weave")
	}
	return filepath.Join(home, ".config", "weave")
}

// FindProjectConfig searches for .weave.yaml in dir and its parents.
func FindProjectConfig(dir string) string {
	dir, err := filepath.Abs(dir)
	if err != nil {
		return ""
	}
	for {
		path := filepath.Join(dir, ProjectConfigName)
		if _, err := os.Stat(path); err == nil {
			return path
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return ""
		}
		dir = parent
	}
}

// Default returns a Config with default values.
func Default() *Config {
	return &Config{
		Anthropic: AnthropicConfig{
			Model:      "claude-sonnet-4-5-20250929",
			MaxRetries: 2,
		},
		Worker: WorkerConfig{
			Backend:      BackendAPI,
			CLIBinary:    "claude",
			AllowedTools: "Read,Write,Edit,Bash,Glob,Grep",
			MaxTurns:     30,
			MaxAttempts:  3,
			BackoffBase:  2 * time.Second,
			BackoffMax:   30 * time.Second,
		},
		Timeouts: TimeoutsConfig{
			Default: 15 * time.Minute,
			Grace:   10 * time.Second,
			Roles:   map[string]time.Duration{},
		},
		Decompose: DecomposeConfig{
			PlannerRole:   "planner",
			MinComplexity: 3.0,
			MaxParts:      5,
		},
		Router: RouterConfig{
			MaxIterations: 10,
			FallbackRole:  "coder",
			TraceWindow:   8,
		},
		Planner: PlannerConfig{
			UseWorker:       true,
			Role:            "planner",
			DefaultSequence: []string{"coder", "reviewer"},
		},
		Parallel: ParallelConfig{
			MaxConcurrent: 4,
		},
		Merge: MergeConfig{
			DeleteMerged: true,
		},
		State: StateConfig{
			Driver:    "sqlite",
			Retention: 30 * 24 * time.Hour,
		},
		Logging: LoggingConfig{
			Level: "info",
			Dir:   filepath.Join(".weave", "logs"),
		},
		TUI: TUIConfig{
			Enabled:     true,
			RefreshRate: 100 * time.Millisecond,
		},
	}
}
