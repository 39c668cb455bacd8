// Package config loads taskforge settings from defaults, a YAML file,
// TASKFORGE_* environment variables and command-line flags.
package config

import "time"

// Config holds all application configuration.
type Config struct {
	Log         LogConfig         `mapstructure:"log"`
	Catalog     CatalogConfig     `mapstructure:"catalog"`
	Coordinator CoordinatorConfig `mapstructure:"coordinator"`
	Recovery    RecoveryConfig    `mapstructure:"recovery"`
	Planner     PlannerConfig     `mapstructure:"planner"`
	Evaluator   EvaluatorConfig   `mapstructure:"evaluator"`
	Oracle      OracleConfig      `mapstructure:"oracle"`
	Tools       ToolsConfig       `mapstructure:"tools"`
	Journal     JournalConfig     `mapstructure:"journal"`
	Output      OutputConfig      `mapstructure:"output"`
}

// LogConfig configures logging behavior. When File is set records go to a
// size-rotated file.
type LogConfig struct {
	Level      string `mapstructure:"level"`
	Format     string `mapstructure:"format"`
	File       string `mapstructure:"file"`
	MaxSizeMB  int    `mapstructure:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAgeDays int    `mapstructure:"max_age_days"`
	Compress   bool   `mapstructure:"compress"`
	AlsoStderr bool   `mapstructure:"also_stderr"`
}

// CatalogConfig locates worker and skill definitions.
type CatalogConfig struct {
	Dir       string   `mapstructure:"dir"`
	SkillsDir string   `mapstructure:"skills_dir"`
	Include   []string `mapstructure:"include"`
	Watch     bool     `mapstructure:"watch"`
}

// CoordinatorConfig bounds task execution.
type CoordinatorConfig struct {
	MaxParallel  int           `mapstructure:"max_parallel"`
	PhaseTimeout time.Duration `mapstructure:"phase_timeout"`
	TaskTimeout  time.Duration `mapstructure:"task_timeout"`
	MaxPhases    int           `mapstructure:"max_phases"`
}

// RecoveryConfig configures phase retries. Fallbacks map a worker name to
// the worker that replaces it after a failure.
type RecoveryConfig struct {
	MaxRetries  int               `mapstructure:"max_retries"`
	BackoffBase time.Duration     `mapstructure:"backoff_base"`
	BackoffMax  time.Duration     `mapstructure:"backoff_max"`
	Fallbacks   map[string]string `mapstructure:"fallbacks"`
}

// PlannerConfig configures planning.
type PlannerConfig struct {
	FallbackWorker string `mapstructure:"fallback_worker"`
}

// EvaluatorConfig configures phase evaluation.
type EvaluatorConfig struct {
	PreviewChars int `mapstructure:"preview_chars"`
}

// OracleConfig selects the model backend.
type OracleConfig struct {
	Provider      string    `mapstructure:"provider"`
	Model         string    `mapstructure:"model"`
	Temperature   float64   `mapstructure:"temperature"`
	RatePerMinute int       `mapstructure:"rate_per_minute"`
	CLI           CLIConfig `mapstructure:"cli"`
}

// CLIConfig configures the external command backend.
type CLIConfig struct {
	Path      string        `mapstructure:"path"`
	Args      []string      `mapstructure:"args"`
	ModelFlag string        `mapstructure:"model_flag"`
	Timeout   time.Duration `mapstructure:"timeout"`
}

// ToolsConfig configures the builtin tools.
type ToolsConfig struct {
	Workspace    string        `mapstructure:"workspace"`
	AllowWrite   bool          `mapstructure:"allow_write"`
	ShellTimeout time.Duration `mapstructure:"shell_timeout"`
	FetchTimeout time.Duration `mapstructure:"fetch_timeout"`
}

// JournalConfig enables the SQLite progress journal when Path is set.
type JournalConfig struct {
	Path string `mapstructure:"path"`
}

// OutputConfig configures result output.
type OutputConfig struct {
	ResultFile string `mapstructure:"result_file"`
}
