// Package workflow plans a task, runs its phases and decides how to recover
// from phase failures.
package workflow

import (
	"maps"
	"sync"

	"github.com/hugo-lorenzo-mato/taskforge/internal/catalog"
	"github.com/hugo-lorenzo-mato/taskforge/internal/core"
	"github.com/hugo-lorenzo-mato/taskforge/internal/events"
	"github.com/hugo-lorenzo-mato/taskforge/internal/logging"
)

// CoordinatorContext is the state of one task invocation. It is created by
// the Coordinator at task start and passed to every component that needs
// per-task state; nothing in it outlives the task.
type CoordinatorContext struct {
	TaskID    string
	Objective string
	Input     map[string]any
	Catalog   *catalog.Catalog
	Emitter   *events.Emitter
	Logger    *logging.Logger
	// Plan is set once planning has finished.
	Plan *core.ExecutionPlan

	mu      sync.Mutex
	vars    map[string]any
	retries map[int]int
	tokens  int
}

// NewCoordinatorContext creates the context for one task. A nil catalog is
// treated as empty.
func NewCoordinatorContext(taskID, objective string, input map[string]any, cat *catalog.Catalog, emit *events.Emitter, logger *logging.Logger) *CoordinatorContext {
	if cat == nil {
		cat = catalog.Empty()
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	input = maps.Clone(input)
	if input == nil {
		input = map[string]any{}
	}
	return &CoordinatorContext{
		TaskID:    taskID,
		Objective: objective,
		Input:     input,
		Catalog:   cat,
		Emitter:   emit.ForTask(taskID),
		Logger:    logger.WithTask(taskID),
		vars: map[string]any{
			"objective": objective,
			"context":   input,
		},
		retries: make(map[int]int),
	}
}

// Variables returns a snapshot of the variable context used to resolve
// assignment inputs.
func (c *CoordinatorContext) Variables() map[string]any {
	c.mu.Lock()
	defer c.mu.Unlock()
	return maps.Clone(c.vars)
}

// RecordPhase publishes a phase result under "phase_N" and each of its
// worker results under the worker's result key.
func (c *CoordinatorContext) RecordPhase(res core.PhaseResult) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.vars[core.PhaseRef(res.PhaseIndex)] = res.ToMap()
	for key, wr := range res.WorkerResults {
		c.vars[key] = wr.ToMap()
	}
}

// IncrementRetry bumps the recovery counter of a phase and returns the new
// value. Counters never decrease during a task.
func (c *CoordinatorContext) IncrementRetry(phaseIndex int) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.retries[phaseIndex]++
	return c.retries[phaseIndex]
}

// Retries returns the recovery counter of a phase.
func (c *CoordinatorContext) Retries(phaseIndex int) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.retries[phaseIndex]
}

// AddTokens accounts tokens spent by workers or oracle calls.
func (c *CoordinatorContext) AddTokens(n int) {
	if n <= 0 {
		return
	}
	c.mu.Lock()
	c.tokens += n
	c.mu.Unlock()
}

// Tokens returns the tokens spent so far.
func (c *CoordinatorContext) Tokens() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.tokens
}

// TaskContext builds the context handed to one assignment of phase.
func (c *CoordinatorContext) TaskContext(phase *core.Phase) map[string]any {
	out := maps.Clone(c.Input)
	out["objective"] = c.Objective
	out["phase"] = phase.Index
	out["phase_name"] = phase.Name
	out["task_id"] = c.TaskID
	return out
}
