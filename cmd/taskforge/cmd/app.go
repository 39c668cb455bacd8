package cmd

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"

	"github.com/hugo-lorenzo-mato/taskforge/internal/adapters/cli"
	"github.com/hugo-lorenzo-mato/taskforge/internal/adapters/ollama"
	"github.com/hugo-lorenzo-mato/taskforge/internal/adapters/tools"
	"github.com/hugo-lorenzo-mato/taskforge/internal/catalog"
	"github.com/hugo-lorenzo-mato/taskforge/internal/config"
	"github.com/hugo-lorenzo-mato/taskforge/internal/core"
	"github.com/hugo-lorenzo-mato/taskforge/internal/logging"
	"github.com/hugo-lorenzo-mato/taskforge/internal/service"
	"github.com/hugo-lorenzo-mato/taskforge/internal/service/workflow"
)

// app holds the components shared by the commands. Close releases them.
type app struct {
	cfg     *config.Config
	logger  *logging.Logger
	loader  *catalog.Loader
	catalog catalog.Provider
	issues  []catalog.LoadIssue
	closers []func() error
}

func newLogger(cfg *config.Config) *logging.Logger {
	lc := logging.DefaultConfig()
	lc.Level = cfg.Log.Level
	lc.Format = cfg.Log.Format
	lc.File = logging.FileConfig{
		Path:       cfg.Log.File,
		MaxSizeMB:  cfg.Log.MaxSizeMB,
		MaxBackups: cfg.Log.MaxBackups,
		MaxAgeDays: cfg.Log.MaxAgeDays,
		Compress:   cfg.Log.Compress,
		AlsoStderr: cfg.Log.AlsoStderr,
	}
	return logging.New(lc)
}

// skillsDir resolves a relative skills directory next to the worker
// directory, so the defaults give .testagent/agents and .testagent/skills.
func skillsDir(cfg config.CatalogConfig) string {
	if cfg.SkillsDir == "" || filepath.IsAbs(cfg.SkillsDir) {
		return cfg.SkillsDir
	}
	return filepath.Join(filepath.Dir(cfg.Dir), cfg.SkillsDir)
}

// newApp loads the configuration and the worker catalog. When watching is
// enabled the catalog reloads until ctx is done.
func newApp(ctx context.Context, watch bool) (*app, error) {
	cfg, file, err := loadConfig()
	if err != nil {
		return nil, err
	}
	logger := newLogger(cfg)
	logger.Debug("config loaded", "file", file)
	a := &app{cfg: cfg, logger: logger, closers: []func() error{logger.Close}}

	a.loader = catalog.NewLoader(cfg.Catalog.Dir,
		catalog.WithSkillsDir(skillsDir(cfg.Catalog)),
		catalog.WithInclude(cfg.Catalog.Include...),
		catalog.WithLogger(logger),
	)
	cat, issues, err := a.loader.Load()
	if err != nil {
		_ = a.Close()
		return nil, fmt.Errorf("loading catalog: %w", err)
	}
	a.catalog = cat
	a.issues = issues

	if watch && cfg.Catalog.Watch {
		watcher := catalog.NewWatcher(a.loader, cat, logger)
		go func() {
			if err := watcher.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				logger.Warn("catalog: watcher stopped", "error", err)
			}
		}()
		a.catalog = watcher
	}
	return a, nil
}

// Close releases everything the app opened, in reverse order.
func (a *app) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}

// backend builds the model adapter named by oracle.provider, paced by a
// shared rate limiter.
func (a *app) backend(renderer *service.PromptRenderer) (core.Oracle, core.Reasoner, error) {
	oc := a.cfg.Oracle

	var (
		oracle   core.Oracle
		reasoner core.Reasoner
	)
	switch oc.Provider {
	case "ollama":
		client, err := ollama.NewFromEnvironment(ollama.Config{Model: oc.Model, Temperature: oc.Temperature}, renderer, a.logger)
		if err != nil {
			return nil, nil, err
		}
		oracle, reasoner = client, client
	case "cli":
		adapter, err := cli.New(cli.Config{
			Name:      filepath.Base(oc.CLI.Path),
			Path:      oc.CLI.Path,
			Args:      oc.CLI.Args,
			Model:     oc.Model,
			ModelFlag: oc.CLI.ModelFlag,
			WorkDir:   a.cfg.Tools.Workspace,
			Timeout:   oc.CLI.Timeout,
		}, renderer, a.logger)
		if err != nil {
			return nil, nil, err
		}
		oracle, reasoner = adapter, adapter
	default:
		return nil, nil, core.ErrValidation(core.CodeInvalidConfig, "unknown oracle provider "+oc.Provider)
	}

	limiter := service.NewRateLimiter(service.PerMinute(oc.RatePerMinute))
	return service.NewRateLimitedOracle(oracle, limiter), service.NewRateLimitedReasoner(reasoner, limiter), nil
}

// coordinator wires a Coordinator reporting progress to sink.
func (a *app) coordinator(sink core.ProgressSink) (*workflow.Coordinator, error) {
	renderer, err := service.NewPromptRenderer()
	if err != nil {
		return nil, fmt.Errorf("loading prompts: %w", err)
	}
	oracle, reasoner, err := a.backend(renderer)
	if err != nil {
		return nil, err
	}

	tc := a.cfg.Tools
	registry, builtin, err := tools.NewBuiltin(tools.Options{
		Workspace:    tc.Workspace,
		AllowWrite:   tc.AllowWrite,
		ShellTimeout: tc.ShellTimeout,
		FetchTimeout: tc.FetchTimeout,
	}, a.logger)
	if err != nil {
		return nil, fmt.Errorf("opening workspace: %w", err)
	}
	a.closers = append(a.closers, builtin.Close)

	return workflow.NewCoordinator(coordinatorConfig(a.cfg), workflow.Deps{
		Catalog:  a.catalog,
		Oracle:   oracle,
		Reasoner: reasoner,
		Tools:    registry,
		Sink:     sink,
		Logger:   a.logger,
	}), nil
}

func coordinatorConfig(cfg *config.Config) workflow.Config {
	maxRetries := cfg.Recovery.MaxRetries
	return workflow.Config{
		MaxParallel:    cfg.Coordinator.MaxParallel,
		PhaseTimeout:   cfg.Coordinator.PhaseTimeout,
		TaskTimeout:    cfg.Coordinator.TaskTimeout,
		MaxPhases:      cfg.Coordinator.MaxPhases,
		MaxRetries:     &maxRetries,
		BackoffBase:    cfg.Recovery.BackoffBase,
		BackoffMax:     cfg.Recovery.BackoffMax,
		Fallbacks:      cfg.Recovery.Fallbacks,
		FallbackWorker: cfg.Planner.FallbackWorker,
		PreviewChars:   cfg.Evaluator.PreviewChars,
	}
}
