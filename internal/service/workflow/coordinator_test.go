package workflow

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hugo-lorenzo-mato/taskforge/internal/catalog"
	"github.com/hugo-lorenzo-mato/taskforge/internal/core"
	"github.com/hugo-lorenzo-mato/taskforge/internal/events"
	"github.com/hugo-lorenzo-mato/taskforge/internal/testutil"
)

const loginObjective = "generate and run 3 test cases for /login"

func newTestCoordinator(cat *catalog.Catalog, oracle core.Oracle, reasoner core.Reasoner, sink core.ProgressSink, mutate ...func(*Config)) *Coordinator {
	cfg := Config{
		MaxParallel:  5,
		PhaseTimeout: 5 * time.Second,
		TaskTimeout:  30 * time.Second,
		MaxRetries:   intPtr(3),
		BackoffBase:  time.Millisecond,
		BackoffMax:   2 * time.Millisecond,
	}
	for _, m := range mutate {
		m(&cfg)
	}
	return NewCoordinator(cfg, Deps{
		Catalog:  cat,
		Oracle:   oracle,
		Reasoner: reasoner,
		Sink:     sink,
	})
}

func messagesText(req core.ReasonRequest) string {
	var sb strings.Builder
	for _, m := range req.Messages {
		sb.WriteString(m.Content)
		sb.WriteString("\n")
	}
	return sb.String()
}

func TestCoordinator_Run_LoginSucceeds(t *testing.T) {
	oracle := testutil.NewMockOracle().WithResponse(core.RolePlan, loginPlan)
	reasoner := testutil.NewMockReasoner().
		WithText("planner", "cases: valid, wrong password, locked", true).
		WithText("executor", "3 of 3 passed", true).
		WithText("reporter", "report written", true)
	sink := testutil.NewRecordingSink()

	c := newTestCoordinator(testCatalog("planner", "executor", "reporter"), oracle, reasoner, sink)
	result := c.Run(context.Background(), loginObjective, nil)

	require.Equal(t, core.TaskCompleted, result.Status, result.Error)
	require.Len(t, result.Phases, 3)
	for _, rec := range result.Phases {
		assert.Equal(t, core.PhaseSuccess, rec.Result.Status)
		assert.Empty(t, rec.Recovery)
	}
	assert.NotEmpty(t, result.TaskID)
	assert.Positive(t, result.TokensUsed)
	assert.False(t, result.FinishedAt.Before(result.StartedAt))

	// outputs flow forward through variable references
	var executorCall, reporterCall core.ReasonRequest
	for _, call := range reasoner.Calls() {
		switch call.Worker {
		case "executor":
			executorCall = call
		case "reporter":
			reporterCall = call
		}
	}
	assert.Contains(t, messagesText(executorCall), "cases: valid, wrong password, locked")
	assert.Contains(t, messagesText(reporterCall), "3 of 3 passed")

	types := sink.Types()
	require.NotEmpty(t, types)
	assert.Equal(t, events.TypeTaskStarted, types[0])
	assert.Equal(t, events.TypeTaskCompleted, types[len(types)-1])
	assert.Equal(t, 3, sink.Count(events.TypePhaseStarted))
	assert.Equal(t, 3, sink.Count(events.TypeWorkerCompleted))
	assert.Equal(t, 1, sink.Count(events.TypePlanCreated))
	for _, ev := range sink.Events() {
		assert.Equal(t, result.TaskID, ev.Payload["task_id"], ev.Type)
	}
}

func TestCoordinator_Run_LoginExecutorKeepsFailing(t *testing.T) {
	oracle := testutil.NewMockOracle().WithResponse(core.RolePlan, loginPlan)
	reasoner := testutil.NewMockReasoner().
		WithText("planner", "cases ready", true).
		WithError("executor", errors.New("dial tcp 127.0.0.1:8080: connection refused"))
	sink := testutil.NewRecordingSink()

	c := newTestCoordinator(testCatalog("planner", "executor", "reporter"), oracle, reasoner, sink)
	result := c.Run(context.Background(), loginObjective, nil)

	assert.Equal(t, core.TaskFailed, result.Status)
	require.Len(t, result.Phases, 3)

	assert.Equal(t, core.PhaseSuccess, result.Phases[0].Result.Status)

	execute := result.Phases[1]
	assert.Equal(t, core.PhaseFailed, execute.Result.Status)
	assert.Equal(t, 4, execute.Result.Attempt)
	require.Len(t, execute.Recovery, 4)
	for _, a := range execute.Recovery[:3] {
		assert.Equal(t, core.RecoveryRetry, a.Kind)
		assert.Contains(t, a.Reason, "transient")
	}
	final := execute.Recovery[3]
	assert.Equal(t, core.RecoveryAbort, final.Kind)
	assert.Equal(t, core.CodeRetryBudgetExhausted, core.GetCode(final.Cause))

	report := result.Phases[2]
	assert.Equal(t, core.PhaseSkipped, report.Result.Status)
	require.NotNil(t, report.Result.Error)
	assert.Equal(t, core.KindAborted, report.Result.Error.Kind)

	assert.Equal(t, 4, reasoner.CallCount("executor"))
	assert.Zero(t, reasoner.CallCount("reporter"))
	assert.Equal(t, 3, sink.Count(events.TypePhaseRetry))
	assert.Equal(t, 4, sink.Count(events.TypeRecoveryDecided))
	assert.Equal(t, 1, sink.Count(events.TypePhaseSkipped))
	assert.Contains(t, result.Error, "exceeded max retries")
}

func TestCoordinator_Run_FallbackPlan(t *testing.T) {
	oracle := testutil.NewMockOracle().WithResponse(core.RolePlan, "Sorry, I can't plan this.")
	reasoner := testutil.NewMockReasoner().WithText("planner", "analysis done", true)
	sink := testutil.NewRecordingSink()

	c := newTestCoordinator(testCatalog("planner", "executor"), oracle, reasoner, sink)
	result := c.Run(context.Background(), "something vague", nil)

	assert.Equal(t, core.TaskCompleted, result.Status)
	require.NotNil(t, result.Plan)
	assert.True(t, result.Plan.Fallback)
	require.Len(t, result.Phases, 1)
	assert.Equal(t, "Default execution", result.Phases[0].Result.PhaseName)
	assert.Equal(t, 1, reasoner.CallCount("planner"))

	for _, ev := range sink.Events() {
		if ev.Type == events.TypePlanCreated {
			assert.Equal(t, true, ev.Payload["fallback"])
			assert.NotEmpty(t, ev.Payload["reason"])
		}
	}
}

func TestCoordinator_Run_DependencySkip(t *testing.T) {
	plan := `{"phases": [
		{"phase": 1, "name": "Build", "workers": [{"worker": "builder", "task": "build"}]},
		{"phase": 2, "name": "Deploy", "depends_on": ["phase_1"], "workers": [{"worker": "deployer", "task": "deploy"}]},
		{"phase": 3, "name": "Notes", "workers": [{"worker": "writer", "task": "write notes"}]}
	]}`
	oracle := testutil.NewMockOracle().
		WithResponse(core.RolePlan, plan).
		WithResponse(core.RoleRecover, `{"action": "skip", "reason": "build is optional"}`)
	reasoner := testutil.NewMockReasoner().WithError("builder", errors.New("compiler crashed"))

	c := newTestCoordinator(testCatalog("builder", "deployer", "writer"), oracle, reasoner, nil)
	result := c.Run(context.Background(), "ship it", nil)

	assert.Equal(t, core.TaskFailed, result.Status)
	require.Len(t, result.Phases, 3)

	build := result.Phases[0]
	assert.Equal(t, core.PhaseFailed, build.Result.Status)
	require.Len(t, build.Recovery, 1)
	assert.Equal(t, core.RecoverySkip, build.Recovery[0].Kind)

	deploy := result.Phases[1].Result
	assert.Equal(t, core.PhaseSkipped, deploy.Status)
	assert.Equal(t, core.KindDependency, deploy.Error.Kind)
	assert.Zero(t, reasoner.CallCount("deployer"))

	assert.Equal(t, core.PhaseSuccess, result.Phases[2].Result.Status)
}

func TestCoordinator_Run_FallbackWorker(t *testing.T) {
	plan := `{"phases": [{"phase": 1, "name": "Run", "workers": [{"worker": "executor", "task": "run"}]}]}`
	oracle := testutil.NewMockOracle().WithResponse(core.RolePlan, plan)
	reasoner := testutil.NewMockReasoner().
		WithError("executor", errors.New("tool chain missing")).
		WithText("backup", "ran with backup", true)

	c := newTestCoordinator(testCatalog("executor", "backup"), oracle, reasoner, nil, func(cfg *Config) {
		cfg.Fallbacks = map[string]string{"executor": "backup"}
	})
	result := c.Run(context.Background(), "run", nil)

	assert.Equal(t, core.TaskCompleted, result.Status)
	rec := result.Phases[0]
	assert.Equal(t, core.PhaseSuccess, rec.Result.Status)
	require.Len(t, rec.Recovery, 1)
	assert.Equal(t, core.RecoveryFallback, rec.Recovery[0].Kind)
	assert.Contains(t, rec.Result.WorkerResults, "backup")
	assert.Equal(t, 2, rec.Result.Attempt)
}

func TestCoordinator_Run_UnknownWorkerFailsFast(t *testing.T) {
	plan := `{"phases": [{"phase": 1, "workers": [{"worker": "ghost", "task": "haunt"}]}]}`
	oracle := testutil.NewMockOracle().
		WithResponse(core.RolePlan, plan).
		WithResponse(core.RoleRecover, `{"action": "abort", "reason": "no such worker"}`)

	c := newTestCoordinator(testCatalog("planner"), oracle, testutil.NewMockReasoner(), nil)
	result := c.Run(context.Background(), "x", nil)

	assert.Equal(t, core.TaskFailed, result.Status)
	wr := result.Phases[0].Result.WorkerResults["ghost"]
	assert.Equal(t, core.WorkerFailed, wr.Status)
	assert.Contains(t, wr.ErrorText(), "not found")
	assert.Equal(t, "no such worker", result.Error)
}

func TestCoordinator_Run_ConcurrencyCap(t *testing.T) {
	workers := make([]map[string]any, 20)
	for i := range workers {
		workers[i] = map[string]any{"worker": "w", "task": fmt.Sprintf("job %d", i)}
	}
	plan, err := json.Marshal(map[string]any{
		"phases": []any{map[string]any{"phase": 1, "parallel": true, "workers": workers}},
	})
	require.NoError(t, err)

	oracle := testutil.NewMockOracle().WithResponse(core.RolePlan, string(plan))
	reasoner := testutil.NewMockReasoner().WithDelay(20 * time.Millisecond)

	c := newTestCoordinator(testCatalog("w"), oracle, reasoner, nil)
	result := c.Run(context.Background(), "fan out", nil)

	assert.Equal(t, core.TaskCompleted, result.Status)
	assert.Len(t, result.Phases[0].Result.WorkerResults, 20)
	assert.LessOrEqual(t, reasoner.Peak(), 5)
	assert.Greater(t, reasoner.Peak(), 1)
}

func TestCoordinator_Run_Cancelled(t *testing.T) {
	oracle := testutil.NewMockOracle().WithResponse(core.RolePlan, loginPlan)
	reasoner := testutil.NewMockReasoner().WithDelay(time.Minute)

	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(50*time.Millisecond, cancel)

	c := newTestCoordinator(testCatalog("planner", "executor", "reporter"), oracle, reasoner, nil)
	start := time.Now()
	result := c.Run(ctx, loginObjective, nil)

	assert.Less(t, time.Since(start), 10*time.Second)
	assert.Equal(t, core.TaskCancelled, result.Status)
	require.Len(t, result.Phases, 3)
	assert.Equal(t, core.WorkerCancelled, result.Phases[0].Result.WorkerResults["planner"].Status)
	assert.Equal(t, core.PhaseSkipped, result.Phases[1].Result.Status)
	assert.Equal(t, core.PhaseSkipped, result.Phases[2].Result.Status)
}

func TestCoordinator_Run_TaskDeadline(t *testing.T) {
	oracle := testutil.NewMockOracle().WithResponse(core.RolePlan, loginPlan)
	reasoner := testutil.NewMockReasoner().WithDelay(time.Minute)

	c := newTestCoordinator(testCatalog("planner", "executor", "reporter"), oracle, reasoner, nil, func(cfg *Config) {
		cfg.TaskTimeout = 50 * time.Millisecond
	})
	result := c.Run(context.Background(), loginObjective, nil)

	assert.Equal(t, core.TaskFailed, result.Status)
	assert.Contains(t, result.Error, core.CodeTaskTimeout)
	require.Len(t, result.Phases, 3)
	assert.Equal(t, core.WorkerTimeout, result.Phases[0].Result.WorkerResults["planner"].Status)
}

func TestCoordinator_Run_FailingSinkDoesNotAbort(t *testing.T) {
	oracle := testutil.NewMockOracle().WithResponse(core.RolePlan, loginPlan)
	sink := testutil.NewRecordingSink().WithError(errors.New("disk full"))

	c := newTestCoordinator(testCatalog("planner", "executor", "reporter"), oracle, testutil.NewMockReasoner(), sink)
	result := c.Run(context.Background(), loginObjective, nil)

	assert.Equal(t, core.TaskCompleted, result.Status)
	assert.Positive(t, sink.Count(events.TypeTaskCompleted))
}

func TestCoordinator_Plan(t *testing.T) {
	oracle := testutil.NewMockOracle().WithResponse(core.RolePlan, loginPlan)
	c := newTestCoordinator(testCatalog("planner", "executor", "reporter"), oracle, nil, nil)

	outcome, err := c.Plan(context.Background(), loginObjective, nil)
	require.NoError(t, err)
	assert.Len(t, outcome.Plan.Phases, 3)
}
