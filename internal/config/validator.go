package config

import (
	"fmt"
	"strings"
)

// ValidationError represents a configuration validation error.
type ValidationError struct {
	Field   string
	Value   interface{}
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("config validation: %s: %s (got: %v)", e.Field, e.Message, e.Value)
}

// ValidationErrors collects multiple validation errors.
type ValidationErrors []ValidationError

func (e ValidationErrors) Error() string {
	msgs := make([]string, 0, len(e))
	for _, err := range e {
		msgs = append(msgs, err.Error())
	}
	return strings.Join(msgs, "; ")
}

// HasErrors returns true if there are any validation errors.
func (e ValidationErrors) HasErrors() bool {
	return len(e) > 0
}

// Validator validates configuration.
type Validator struct {
	errors ValidationErrors
}

// NewValidator creates a new validator.
func NewValidator() *Validator {
	return &Validator{errors: make(ValidationErrors, 0)}
}

// Validate validates the entire configuration.
func (v *Validator) Validate(cfg *Config) error {
	v.validateLog(&cfg.Log)
	v.validateCatalog(&cfg.Catalog)
	v.validateCoordinator(&cfg.Coordinator)
	v.validateRecovery(&cfg.Recovery)
	v.validateOracle(&cfg.Oracle)
	v.validateTools(&cfg.Tools)
	if cfg.Evaluator.PreviewChars <= 0 {
		v.addError("evaluator.preview_chars", cfg.Evaluator.PreviewChars, "must be positive")
	}

	if len(v.errors) > 0 {
		return v.errors
	}
	return nil
}

// Errors returns the collected validation errors.
func (v *Validator) Errors() ValidationErrors {
	return v.errors
}

func (v *Validator) addError(field string, value interface{}, msg string) {
	v.errors = append(v.errors, ValidationError{Field: field, Value: value, Message: msg})
}

func (v *Validator) validateLog(cfg *LogConfig) {
	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[cfg.Level] {
		v.addError("log.level", cfg.Level, "must be one of: debug, info, warn, error")
	}
	validFormats := map[string]bool{"auto": true, "text": true, "json": true}
	if !validFormats[cfg.Format] {
		v.addError("log.format", cfg.Format, "must be one of: auto, text, json")
	}
	if cfg.File != "" && (cfg.MaxSizeMB < 0 || cfg.MaxBackups < 0 || cfg.MaxAgeDays < 0) {
		v.addError("log.file", cfg.File, "rotation limits must not be negative")
	}
}

func (v *Validator) validateCatalog(cfg *CatalogConfig) {
	if strings.TrimSpace(cfg.Dir) == "" {
		v.addError("catalog.dir", cfg.Dir, "required")
	}
}

func (v *Validator) validateCoordinator(cfg *CoordinatorConfig) {
	if cfg.MaxParallel <= 0 {
		v.addError("coordinator.max_parallel", cfg.MaxParallel, "must be positive")
	}
	if cfg.PhaseTimeout <= 0 {
		v.addError("coordinator.phase_timeout", cfg.PhaseTimeout, "must be positive")
	}
	if cfg.TaskTimeout <= 0 {
		v.addError("coordinator.task_timeout", cfg.TaskTimeout, "must be positive")
	}
	if cfg.MaxPhases <= 0 {
		v.addError("coordinator.max_phases", cfg.MaxPhases, "must be positive")
	}
}

func (v *Validator) validateRecovery(cfg *RecoveryConfig) {
	if cfg.MaxRetries < 0 {
		v.addError("recovery.max_retries", cfg.MaxRetries, "must be non-negative")
	}
	if cfg.BackoffBase < 0 {
		v.addError("recovery.backoff_base", cfg.BackoffBase, "must be non-negative")
	}
	if cfg.BackoffMax < cfg.BackoffBase {
		v.addError("recovery.backoff_max", cfg.BackoffMax, "must not be below backoff_base")
	}
	for worker, fallback := range cfg.Fallbacks {
		if worker == fallback {
			v.addError("recovery.fallbacks."+worker, fallback, "worker cannot fall back to itself")
		}
	}
}

func (v *Validator) validateOracle(cfg *OracleConfig) {
	switch cfg.Provider {
	case "ollama":
	case "cli":
		if strings.TrimSpace(cfg.CLI.Path) == "" {
			v.addError("oracle.cli.path", cfg.CLI.Path, "required when provider is cli")
		}
	default:
		v.addError("oracle.provider", cfg.Provider, "must be one of: ollama, cli")
	}
	if cfg.Temperature < 0 || cfg.Temperature > 2 {
		v.addError("oracle.temperature", cfg.Temperature, "must be between 0 and 2")
	}
	if cfg.RatePerMinute <= 0 {
		v.addError("oracle.rate_per_minute", cfg.RatePerMinute, "must be positive")
	}
}

func (v *Validator) validateTools(cfg *ToolsConfig) {
	if cfg.ShellTimeout <= 0 {
		v.addError("tools.shell_timeout", cfg.ShellTimeout, "must be positive")
	}
	if cfg.FetchTimeout <= 0 {
		v.addError("tools.fetch_timeout", cfg.FetchTimeout, "must be positive")
	}
}

// ValidateConfig is a convenience function that creates a validator and validates config.
func ValidateConfig(cfg *Config) error {
	return NewValidator().Validate(cfg)
}
