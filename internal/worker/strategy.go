// Package worker runs a single worker assignment under one of the three
// execution modes.
package worker

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"time"

	"github.com/hugo-lorenzo-mato/taskforge/internal/core"
	"github.com/hugo-lorenzo-mato/taskforge/internal/events"
	"github.com/hugo-lorenzo-mato/taskforge/internal/logging"
)

// Strategy executes one assignment to completion. Implementations never
// return errors: timeouts, cancellations and failures come back as result
// states.
type Strategy interface {
	Mode() core.ExecutionMode
	Run(ctx context.Context, cfg *core.WorkerConfig, task core.WorkerTask, emit *events.Emitter) core.WorkerResult
}

// Runner dispatches assignments to the strategy of the worker's mode and
// enforces the per-worker timeout.
type Runner struct {
	strategies map[core.ExecutionMode]Strategy
	logger     *logging.Logger
}

// NewRunner builds a runner with the three standard strategies.
func NewRunner(reasoner core.Reasoner, tools core.ToolInvoker, logger *logging.Logger) *Runner {
	if logger == nil {
		logger = logging.NewNop()
	}
	auto := NewAutonomous(reasoner, tools, logger)
	r := &Runner{
		strategies: make(map[core.ExecutionMode]Strategy, 3),
		logger:     logger,
	}
	r.Register(auto)
	r.Register(NewSingleShot(reasoner, tools, logger))
	r.Register(NewLoop(auto, logger))
	return r
}

// Register installs or replaces the strategy for its mode.
func (r *Runner) Register(s Strategy) {
	r.strategies[s.Mode()] = s
}

// Strategy returns the strategy used for mode. Unknown modes use the
// autonomous strategy.
func (r *Runner) Strategy(mode core.ExecutionMode) Strategy {
	if s, ok := r.strategies[mode]; ok {
		return s
	}
	return r.strategies[core.ModeAutonomous]
}

// Run executes task with cfg. The result always carries the worker name and
// a duration, even when the strategy panics.
func (r *Runner) Run(ctx context.Context, cfg *core.WorkerConfig, task core.WorkerTask, emit *events.Emitter) (result core.WorkerResult) {
	start := time.Now()
	log := r.logger.WithWorker(cfg.Name)

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = core.DefaultWorkerTimeout
	}
	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	emit.Emit(ctx, events.TypeWorkerStarted, map[string]any{
		"worker":     cfg.Name,
		"mode":       string(cfg.Mode),
		"task":       task.Description,
		"assignment": task.ID,
	})

	defer func() {
		if p := recover(); p != nil {
			log.Error("worker panicked", "panic", p, "stack", string(debug.Stack()))
			result = core.FailedResult(cfg.Name, core.KindFailed, fmt.Sprintf("panic: %v", p), time.Since(start))
		}
		result.WorkerName = cfg.Name
		if result.DurationMS == 0 {
			result.DurationMS = time.Since(start).Milliseconds()
		}
		log.Debug("worker finished",
			"status", result.Status,
			"iterations", result.IterationsUsed,
			"duration_ms", result.DurationMS)
		emit.Emit(ctx, events.TypeWorkerCompleted, workerPayload(cfg.Name, result))
	}()

	return r.Strategy(cfg.Mode).Run(runCtx, cfg, task, emit)
}

func workerPayload(name string, r core.WorkerResult) map[string]any {
	payload := map[string]any{
		"worker":          name,
		"status":          string(r.Status),
		"iterations_used": r.IterationsUsed,
		"tokens_used":     r.TokensUsed,
		"duration_ms":     r.DurationMS,
	}
	if r.Error != nil {
		payload["error"] = r.Error.String()
	}
	return payload
}

// interruption maps an ended context to the result kind. ok is false while
// ctx is still live.
func interruption(ctx context.Context) (kind core.ErrorKind, ok bool) {
	err := ctx.Err()
	switch {
	case err == nil:
		return "", false
	case errors.Is(err, context.DeadlineExceeded):
		return core.KindTimeout, true
	default:
		return core.KindCancelled, true
	}
}

// interrupted builds the result of a strategy whose context ended, keeping
// whatever output and accounting was gathered so far.
func interrupted(name string, kind core.ErrorKind, output any, iterations, tokens int, start time.Time) core.WorkerResult {
	msg := "worker timed out"
	if kind == core.KindCancelled {
		msg = "worker cancelled"
	}
	r := core.FailedResult(name, kind, msg, time.Since(start))
	r.Output = output
	r.IterationsUsed = iterations
	r.TokensUsed = tokens
	return r
}
