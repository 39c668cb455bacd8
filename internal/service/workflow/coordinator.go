package workflow

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/hugo-lorenzo-mato/taskforge/internal/catalog"
	"github.com/hugo-lorenzo-mato/taskforge/internal/core"
	"github.com/hugo-lorenzo-mato/taskforge/internal/events"
	"github.com/hugo-lorenzo-mato/taskforge/internal/logging"
	"github.com/hugo-lorenzo-mato/taskforge/internal/service"
	"github.com/hugo-lorenzo-mato/taskforge/internal/vars"
	"github.com/hugo-lorenzo-mato/taskforge/internal/worker"
)

// DefaultTaskTimeout bounds one task invocation.
const DefaultTaskTimeout = 1800 * time.Second

// Config holds the coordinator limits. Zero values select the defaults.
type Config struct {
	MaxParallel    int
	PhaseTimeout   time.Duration
	TaskTimeout    time.Duration
	MaxPhases      int
	MaxRetries     *int
	BackoffBase    time.Duration
	BackoffMax     time.Duration
	Fallbacks      map[string]string
	FallbackWorker string
	PreviewChars   int
}

// Deps are the collaborators of a Coordinator. Oracle and Reasoner are
// required; the rest may be nil.
type Deps struct {
	Catalog  catalog.Provider
	Oracle   core.Oracle
	Reasoner core.Reasoner
	Tools    core.ToolInvoker
	Sink     core.ProgressSink
	Logger   *logging.Logger
}

// Coordinator runs one objective end to end: plan, then for each phase
// schedule, evaluate and recover until the plan is done or aborted.
type Coordinator struct {
	catalog     catalog.Provider
	planner     *Planner
	scheduler   *Scheduler
	evaluator   *Evaluator
	recovery    *Recovery
	runner      *worker.Runner
	backoff     *service.RetryPolicy
	emitter     *events.Emitter
	logger      *logging.Logger
	taskTimeout time.Duration
	newID       func() string
}

// NewCoordinator wires a coordinator from cfg and deps.
func NewCoordinator(cfg Config, deps Deps) *Coordinator {
	logger := deps.Logger
	if logger == nil {
		logger = logging.NewNop()
	}
	provider := deps.Catalog
	if provider == nil {
		provider = catalog.Empty()
	}

	recoveryOpts := []RecoveryOption{WithFallbacks(cfg.Fallbacks)}
	if cfg.MaxRetries != nil {
		recoveryOpts = append(recoveryOpts, WithMaxRetries(*cfg.MaxRetries))
	}

	backoffOpts := []service.RetryPolicyOption{}
	if cfg.BackoffBase > 0 {
		backoffOpts = append(backoffOpts, service.WithBaseDelay(cfg.BackoffBase))
	}
	if cfg.BackoffMax > 0 {
		backoffOpts = append(backoffOpts, service.WithMaxDelay(cfg.BackoffMax))
	}

	taskTimeout := cfg.TaskTimeout
	if taskTimeout <= 0 {
		taskTimeout = DefaultTaskTimeout
	}

	return &Coordinator{
		catalog: provider,
		planner: NewPlanner(deps.Oracle, logger,
			WithMaxPhases(cfg.MaxPhases),
			WithFallbackWorker(cfg.FallbackWorker)),
		scheduler:   NewScheduler(cfg.MaxParallel, cfg.PhaseTimeout, logger),
		evaluator:   NewEvaluator(deps.Oracle, logger, WithPreviewChars(cfg.PreviewChars)),
		recovery:    NewRecovery(deps.Oracle, logger, recoveryOpts...),
		runner:      worker.NewRunner(deps.Reasoner, deps.Tools, logger),
		backoff:     service.NewRetryPolicy(backoffOpts...),
		emitter:     events.NewEmitter(deps.Sink, logger),
		logger:      logger,
		taskTimeout: taskTimeout,
		newID:       uuid.NewString,
	}
}

// Planner exposes the coordinator's planner.
func (c *Coordinator) Planner() *Planner {
	return c.planner
}

// Plan builds and validates a plan without running it.
func (c *Coordinator) Plan(ctx context.Context, objective string, input map[string]any) (*PlanOutcome, error) {
	return c.planner.CreatePlan(ctx, objective, input, c.catalog.Snapshot())
}

// Run executes objective. The result is always returned, with one phase
// record per plan phase, so partial progress can be inspected after an
// abort or a cancellation.
func (c *Coordinator) Run(ctx context.Context, objective string, input map[string]any) *core.TaskResult {
	start := time.Now()
	taskCtx, cancel := context.WithTimeout(ctx, c.taskTimeout)
	defer cancel()

	cctx := NewCoordinatorContext(c.newID(), objective, input, c.catalog.Snapshot(), c.emitter, c.logger)
	log := cctx.Logger
	result := &core.TaskResult{
		TaskID:    cctx.TaskID,
		Objective: objective,
		Status:    core.TaskRunning,
		Phases:    []core.PhaseRecord{},
		StartedAt: start,
	}

	log.Info("task started", "objective", objective, "workers", cctx.Catalog.Len())
	cctx.Emitter.Emit(taskCtx, events.TypeTaskStarted, map[string]any{
		"objective": objective,
		"workers":   cctx.Catalog.Names(),
	})

	cctx.Emitter.Emit(taskCtx, events.TypePlanningStarted, map[string]any{"objective": objective})
	outcome, err := c.planner.PlanOrFallback(taskCtx, objective, cctx.Input, cctx.Catalog)
	if err != nil {
		return c.finish(ctx, taskCtx, cctx, result, "planning interrupted: "+err.Error())
	}
	cctx.AddTokens(outcome.TokensUsed)
	cctx.Plan = outcome.Plan
	result.Plan = outcome.Plan

	planPayload := map[string]any{
		"phases":          len(outcome.Plan.Phases),
		"fallback":        outcome.Plan.Fallback,
		"unknown_workers": len(outcome.UnknownWorkers),
	}
	if outcome.FallbackCause != nil {
		planPayload["reason"] = outcome.FallbackCause.Error()
	}
	cctx.Emitter.Emit(taskCtx, events.TypePlanCreated, planPayload)

	statuses := make(map[string]core.PhaseStatus, len(outcome.Plan.Phases))
	var abortReason string
	for i := range outcome.Plan.Phases {
		phase := &outcome.Plan.Phases[i]

		if abortReason != "" {
			c.skip(taskCtx, cctx, result, phase, core.KindAborted, "task aborted: "+abortReason)
			continue
		}
		if err := taskCtx.Err(); err != nil {
			c.skip(taskCtx, cctx, result, phase, interruptKind(err), "task interrupted before phase start")
			continue
		}
		if unmet := unmetDependencies(phase, statuses); len(unmet) > 0 {
			c.skip(taskCtx, cctx, result, phase, core.KindDependency,
				fmt.Sprintf("dependencies not satisfied: %v", unmet))
			statuses[phase.Ref()] = core.PhaseSkipped
			continue
		}

		rec, abort := c.runPhase(taskCtx, cctx, phase)
		result.Phases = append(result.Phases, rec)
		statuses[phase.Ref()] = rec.Result.Status
		cctx.RecordPhase(rec.Result)
		if abort != nil {
			abortReason = abort.Reason
		}
	}

	return c.finish(ctx, taskCtx, cctx, result, abortReason)
}

// runPhase drives one phase through schedule, evaluate and recover. The
// returned action is non-nil when recovery decided to abort the task.
func (c *Coordinator) runPhase(ctx context.Context, cctx *CoordinatorContext, phase *core.Phase) (core.PhaseRecord, *core.RecoveryAction) {
	log := cctx.Logger.WithPhase(phase.Ref())
	current := phase
	var rec core.PhaseRecord

	for attempt := 1; ; attempt++ {
		cctx.Emitter.Emit(ctx, events.TypePhaseStarted, map[string]any{
			"phase":    phase.Index,
			"name":     phase.Name,
			"attempt":  attempt,
			"parallel": current.Parallel,
			"workers":  current.WorkerNames(),
		})

		res := c.scheduler.Schedule(ctx, current, attempt, c.executor(cctx, current))
		for _, wr := range res.WorkerResults {
			cctx.AddTokens(wr.TokensUsed)
		}
		cctx.Emitter.Emit(ctx, events.TypePhaseCompleted, map[string]any{
			"phase":       phase.Index,
			"name":        phase.Name,
			"attempt":     attempt,
			"status":      string(res.Status),
			"duration_ms": res.DurationMS,
		})

		eval := c.evaluator.Evaluate(ctx, current, res, cctx)
		rec.Result = res
		rec.Evaluation = &eval
		cctx.Emitter.Emit(ctx, events.TypePhaseEvaluated, map[string]any{
			"phase":         phase.Index,
			"completed":     eval.Completed,
			"can_proceed":   eval.CanProceed,
			"quality_score": eval.QualityScore,
			"reason":        eval.Reason,
			"from_oracle":   eval.FromOracle,
		})
		if eval.CanProceed || ctx.Err() != nil {
			return rec, nil
		}

		action := c.recovery.Recover(ctx, cctx, current, res, eval)
		rec.Recovery = append(rec.Recovery, action)
		log.Info("recovery decided", "action", action.String(), "reason", action.Reason, "attempt", attempt)
		cctx.Emitter.Emit(ctx, events.TypeRecoveryDecided, recoveryPayload(phase, attempt, action))

		switch action.Kind {
		case core.RecoveryRetry:
			if err := c.backoff.Wait(ctx, cctx.Retries(phase.Index)); err != nil {
				return rec, nil
			}
		case core.RecoveryFallback:
			current = current.WithWorkerReplaced(action.ReplacedWorker, action.FallbackWorker)
		case core.RecoveryAbort:
			return rec, &action
		default:
			// skip, and adjust until plans can be revised mid-task
			return rec, nil
		}

		cctx.Emitter.Emit(ctx, events.TypePhaseRetry, map[string]any{
			"phase":   phase.Index,
			"attempt": attempt + 1,
			"action":  string(action.Kind),
		})
	}
}

func (c *Coordinator) executor(cctx *CoordinatorContext, phase *core.Phase) AssignmentExecutor {
	variables := cctx.Variables()
	taskContext := cctx.TaskContext(phase)

	return func(ctx context.Context, a core.WorkerAssignment) core.WorkerResult {
		cfg, ok := cctx.Catalog.Get(a.WorkerName)
		if !ok {
			return core.FailedResult(a.WorkerName, core.KindFailed,
				core.ErrNotFound("worker", a.WorkerName).Error(), 0)
		}
		task := core.WorkerTask{
			ID:          fmt.Sprintf("%s/%s/%s", cctx.TaskID, phase.Ref(), a.WorkerName),
			WorkerName:  a.WorkerName,
			Description: vars.Stringify(vars.Resolve(a.TaskDescription, variables)),
			Input:       vars.ResolveMap(a.Input, variables),
			Context:     taskContext,
		}
		return c.runner.Run(ctx, cfg, task, cctx.Emitter)
	}
}

func (c *Coordinator) skip(ctx context.Context, cctx *CoordinatorContext, result *core.TaskResult, phase *core.Phase, kind core.ErrorKind, reason string) {
	res := core.SkippedPhase(phase, kind, reason)
	result.Phases = append(result.Phases, core.PhaseRecord{Result: res})
	cctx.RecordPhase(res)
	cctx.Logger.WithPhase(phase.Ref()).Info("phase skipped", "reason", reason)
	cctx.Emitter.Emit(ctx, events.TypePhaseSkipped, map[string]any{
		"phase":  phase.Index,
		"name":   phase.Name,
		"kind":   string(kind),
		"reason": reason,
	})
}

// finish settles the final status. parent is the caller's context and
// taskCtx carries the task deadline.
func (c *Coordinator) finish(parent, taskCtx context.Context, cctx *CoordinatorContext, result *core.TaskResult, abortReason string) *core.TaskResult {
	switch {
	case parent.Err() != nil:
		result.Status = core.TaskCancelled
		result.Error = "task cancelled"
	case errors.Is(taskCtx.Err(), context.DeadlineExceeded):
		result.Status = core.TaskFailed
		result.Error = core.ErrTimeout(core.CodeTaskTimeout, "task deadline elapsed").Error()
	case abortReason != "":
		result.Status = core.TaskFailed
		result.Error = abortReason
	case result.Plan == nil:
		result.Status = core.TaskFailed
		result.Error = "no plan"
	default:
		result.Status = core.TaskCompleted
		for _, rec := range result.Phases {
			if !rec.Result.Status.Satisfies() {
				result.Status = core.TaskFailed
				result.Error = fmt.Sprintf("phase %d ended %s", rec.Result.PhaseIndex, rec.Result.Status)
				break
			}
		}
	}

	result.FinishedAt = time.Now()
	result.TokensUsed = cctx.Tokens()

	cctx.Logger.Info("task finished",
		"status", result.Status,
		"phases", len(result.Phases),
		"tokens", result.TokensUsed,
		"duration", result.Duration(),
	)
	cctx.Emitter.Emit(parent, events.TypeTaskCompleted, map[string]any{
		"status":      string(result.Status),
		"phases":      len(result.Phases),
		"tokens_used": result.TokensUsed,
		"duration_ms": result.Duration().Milliseconds(),
		"error":       result.Error,
	})
	return result
}

func unmetDependencies(phase *core.Phase, statuses map[string]core.PhaseStatus) []string {
	var unmet []string
	for _, dep := range phase.DependsOn {
		if st, ok := statuses[dep]; !ok || !st.Satisfies() {
			unmet = append(unmet, dep)
		}
	}
	return unmet
}

func recoveryPayload(phase *core.Phase, attempt int, action core.RecoveryAction) map[string]any {
	payload := map[string]any{
		"phase":   phase.Index,
		"attempt": attempt,
		"action":  string(action.Kind),
		"reason":  action.Reason,
	}
	switch action.Kind {
	case core.RecoveryRetry:
		payload["max_retries"] = action.MaxRetries
	case core.RecoveryFallback:
		payload["fallback_worker"] = action.FallbackWorker
		payload["replaced_worker"] = action.ReplacedWorker
	case core.RecoveryAdjust:
		payload["patches"] = len(action.Patches)
	}
	return payload
}

func interruptKind(err error) core.ErrorKind {
	if errors.Is(err, context.DeadlineExceeded) {
		return core.KindTimeout
	}
	return core.KindCancelled
}
