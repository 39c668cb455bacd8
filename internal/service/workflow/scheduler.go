package workflow

import (
	"context"
	"errors"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/hugo-lorenzo-mato/taskforge/internal/core"
	"github.com/hugo-lorenzo-mato/taskforge/internal/logging"
)

// Scheduler defaults.
const (
	DefaultMaxParallel  = 5
	DefaultPhaseTimeout = 600 * time.Second
)

// AssignmentExecutor runs one assignment and reports its result. It must
// honor ctx and must not return until the work has stopped.
type AssignmentExecutor func(ctx context.Context, a core.WorkerAssignment) core.WorkerResult

// Scheduler runs the assignments of one phase under a phase deadline. Its
// limiter is shared by every phase it schedules, so the cap on concurrent
// workers holds across the whole task.
type Scheduler struct {
	limiter      *semaphore.Weighted
	limit        int
	phaseTimeout time.Duration
	logger       *logging.Logger
}

// NewScheduler creates a scheduler. Non-positive values select the defaults.
func NewScheduler(maxParallel int, phaseTimeout time.Duration, logger *logging.Logger) *Scheduler {
	if maxParallel <= 0 {
		maxParallel = DefaultMaxParallel
	}
	if phaseTimeout <= 0 {
		phaseTimeout = DefaultPhaseTimeout
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Scheduler{
		limiter:      semaphore.NewWeighted(int64(maxParallel)),
		limit:        maxParallel,
		phaseTimeout: phaseTimeout,
		logger:       logger,
	}
}

// Limit returns the concurrency cap.
func (s *Scheduler) Limit() int {
	return s.limit
}

// Schedule runs phase and aggregates its worker results. It never returns an
// error: worker failures, the phase deadline and cancellation are all
// recorded on the result.
func (s *Scheduler) Schedule(ctx context.Context, phase *core.Phase, attempt int, exec AssignmentExecutor) core.PhaseResult {
	start := time.Now()
	log := s.logger.WithPhase(phase.Ref())

	phaseCtx, cancel := context.WithTimeout(ctx, s.phaseTimeout)
	defer cancel()

	var results []core.WorkerResult
	if phase.Parallel {
		results = s.runParallel(phaseCtx, phase, exec)
	} else {
		results = s.runSequential(phaseCtx, phase, exec)
	}

	keys := core.ResultKeys(phase.Assignments)
	res := core.PhaseResult{
		PhaseIndex:    phase.Index,
		PhaseName:     phase.Name,
		WorkerResults: make(map[string]core.WorkerResult, len(results)),
		Order:         keys,
		Attempt:       attempt,
	}
	for i, key := range keys {
		res.WorkerResults[key] = results[i]
	}
	res.Status = core.DerivePhaseStatus(results)

	switch {
	case errors.Is(phaseCtx.Err(), context.DeadlineExceeded):
		res.Error = &core.ErrorInfo{Kind: core.KindTimeout, Message: core.ErrPhaseTimeout(phase.Ref()).Error()}
	case ctx.Err() != nil:
		res.Error = &core.ErrorInfo{Kind: core.KindCancelled, Message: "phase cancelled"}
	}
	res.DurationMS = time.Since(start).Milliseconds()

	log.Info("phase finished",
		"status", res.Status,
		"workers", len(results),
		"parallel", phase.Parallel,
		"attempt", attempt,
		"duration_ms", res.DurationMS,
	)
	return res
}

func (s *Scheduler) runParallel(ctx context.Context, phase *core.Phase, exec AssignmentExecutor) []core.WorkerResult {
	results := make([]core.WorkerResult, len(phase.Assignments))

	// Assignments report failures as results, so the group never sees an
	// error and one failure cannot cancel its siblings.
	var g errgroup.Group
	for i, a := range phase.Assignments {
		g.Go(func() error {
			results[i] = s.runOne(ctx, a, exec)
			return nil
		})
	}
	_ = g.Wait()
	return results
}

func (s *Scheduler) runSequential(ctx context.Context, phase *core.Phase, exec AssignmentExecutor) []core.WorkerResult {
	results := make([]core.WorkerResult, len(phase.Assignments))
	for i, a := range phase.Assignments {
		if ctx.Err() != nil {
			results[i] = notStarted(ctx, a.WorkerName)
			continue
		}
		results[i] = s.runOne(ctx, a, exec)
	}
	return results
}

func (s *Scheduler) runOne(ctx context.Context, a core.WorkerAssignment, exec AssignmentExecutor) (res core.WorkerResult) {
	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("assignment panicked", "worker", a.WorkerName, "panic", r)
			res = core.FailedResult(a.WorkerName, core.KindFailed, fmt.Sprintf("panic: %v", r), time.Since(start))
		}
	}()

	if err := s.limiter.Acquire(ctx, 1); err != nil {
		return notStarted(ctx, a.WorkerName)
	}
	defer s.limiter.Release(1)

	res = exec(ctx, a)
	if res.WorkerName == "" {
		res.WorkerName = a.WorkerName
	}
	return res
}

// notStarted is the result of an assignment the phase deadline or a
// cancellation prevented from starting.
func notStarted(ctx context.Context, worker string) core.WorkerResult {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return core.FailedResult(worker, core.KindTimeout, "phase deadline elapsed before the worker started", 0)
	}
	return core.FailedResult(worker, core.KindCancelled, "cancelled before the worker started", 0)
}
