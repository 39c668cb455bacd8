package worker

import (
	"context"
	"fmt"
	"time"

	"github.com/hugo-lorenzo-mato/taskforge/internal/core"
	"github.com/hugo-lorenzo-mato/taskforge/internal/events"
	"github.com/hugo-lorenzo-mato/taskforge/internal/logging"
)

// recentWindow is how many previous outputs each iteration sees.
const recentWindow = 3

// Loop repeatedly runs the autonomous strategy, feeding each iteration the
// previous outputs, until a completion marker or predicate fires or the
// iteration cap is reached. All iterations share one fixed deadline.
type Loop struct {
	inner  *Autonomous
	logger *logging.Logger
	checks checkCache
}

// NewLoop creates the strategy over an autonomous strategy.
func NewLoop(inner *Autonomous, logger *logging.Logger) *Loop {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Loop{inner: inner, logger: logger}
}

// Mode implements Strategy.
func (l *Loop) Mode() core.ExecutionMode { return core.ModeIterativeLoop }

// Run implements Strategy.
func (l *Loop) Run(ctx context.Context, cfg *core.WorkerConfig, task core.WorkerTask, emit *events.Emitter) (result core.WorkerResult) {
	start := time.Now()
	log := l.logger.WithWorker(cfg.Name)

	maxIter := cfg.MaxIterations
	if maxIter <= 0 {
		maxIter = core.DefaultMaxIterations
	}
	deadline, ok := ctx.Deadline()
	if !ok {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = core.DefaultWorkerTimeout
		}
		deadline = start.Add(timeout)
	}

	var check *CompletionCheck
	if cfg.CompletionCheck != "" {
		var err error
		if check, err = l.checks.get(cfg.CompletionCheck); err != nil {
			log.Warn("ignoring invalid completion check", "error", err)
		}
	}

	emit.Emit(ctx, events.TypeLoopStarted, map[string]any{
		"worker":         cfg.Name,
		"max_iterations": maxIter,
	})
	defer func() {
		emit.Emit(ctx, events.TypeLoopCompleted, map[string]any{
			"worker":           cfg.Name,
			"status":           string(result.Status),
			"total_iterations": result.IterationsUsed,
			"total_tokens":     result.TokensUsed,
		})
	}()

	var (
		outputs   []any
		tokens    int
		iteration int
	)
	last := func() any {
		if len(outputs) == 0 {
			return nil
		}
		return outputs[len(outputs)-1]
	}

	for iteration < maxIter {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return interrupted(cfg.Name, core.KindTimeout, last(), iteration, tokens, start)
		}
		if kind, ok := interruption(ctx); ok {
			return interrupted(cfg.Name, kind, last(), iteration, tokens, start)
		}
		iteration++

		emit.Emit(ctx, events.TypeIterationStarted, map[string]any{
			"worker":            cfg.Name,
			"iteration":         iteration,
			"max_iterations":    maxIter,
			"timeout_remaining": int(remaining.Seconds()),
		})

		iterCtx, cancel := context.WithDeadline(ctx, deadline)
		step := l.inner.run(iterCtx, cfg,
			iterationDescription(task.Description, iteration, maxIter),
			task.Input,
			iterationContext(task.Context, iteration, maxIter, outputs))
		cancel()

		tokens += step.TokensUsed
		emit.Emit(ctx, events.TypeIterationCompleted, map[string]any{
			"worker":    cfg.Name,
			"iteration": iteration,
			"status":    string(step.Status),
		})

		switch step.Status {
		case core.WorkerTimeout, core.WorkerCancelled:
			return interrupted(cfg.Name, step.Error.Kind, lastOr(outputs, step.Output), iteration, tokens, start)
		case core.WorkerFailed:
			return core.WorkerResult{
				WorkerName:     cfg.Name,
				Status:         core.WorkerPartial,
				Output:         last(),
				IterationsUsed: iteration,
				TokensUsed:     tokens,
				DurationMS:     time.Since(start).Milliseconds(),
				Error: &core.ErrorInfo{
					Kind:    core.KindFailed,
					Message: fmt.Sprintf("iteration %d failed: %s", iteration, step.ErrorText()),
				},
			}
		}

		outputs = append(outputs, step.Output)
		if l.complete(ctx, check, step, iteration) {
			return core.WorkerResult{
				WorkerName:     cfg.Name,
				Status:         core.WorkerSuccess,
				Output:         step.Output,
				IterationsUsed: iteration,
				TokensUsed:     tokens,
				DurationMS:     time.Since(start).Milliseconds(),
			}
		}
	}

	return core.WorkerResult{
		WorkerName:     cfg.Name,
		Status:         core.WorkerPartial,
		Output:         last(),
		IterationsUsed: iteration,
		TokensUsed:     tokens,
		DurationMS:     time.Since(start).Milliseconds(),
		Error: &core.ErrorInfo{
			Kind:    core.KindFailed,
			Message: fmt.Sprintf("reached max iterations (%d) without completion", maxIter),
		},
	}
}

func (l *Loop) complete(ctx context.Context, check *CompletionCheck, step core.WorkerResult, iteration int) bool {
	if HasCompletionMarker(step.Output) {
		return true
	}
	if check == nil {
		return false
	}
	done, err := check.Evaluate(ctx, step.Output, iteration, string(step.Status))
	if err != nil {
		l.logger.WithWorker(step.WorkerName).Warn("completion check error", "iteration", iteration, "check", check.Source(), "error", err)
		return false
	}
	return done
}

func iterationDescription(description string, iteration, maxIter int) string {
	if iteration == 1 {
		return description
	}
	return fmt.Sprintf("[Iteration %d/%d]\n\n%s\n\nThis is iteration %d. Review the previous results and continue the work. "+
		"If the task is complete, include \"DONE\" in your response.", iteration, maxIter, description, iteration)
}

func iterationContext(base map[string]any, iteration, maxIter int, outputs []any) map[string]any {
	extra := map[string]any{
		"iteration":          iteration,
		"max_iterations":     maxIter,
		"is_first_iteration": iteration == 1,
	}
	if n := len(outputs); n > 0 {
		from := max(0, n-recentWindow)
		extra["recent_outputs"] = append([]any(nil), outputs[from:]...)
		extra["previous_output"] = outputs[n-1]
		extra["total_previous_iterations"] = n
	}
	return copyContext(base, extra)
}

func lastOr(outputs []any, fallback any) any {
	if fallback != nil {
		return fallback
	}
	if len(outputs) == 0 {
		return nil
	}
	return outputs[len(outputs)-1]
}
