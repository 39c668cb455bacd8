package workflow

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hugo-lorenzo-mato/taskforge/internal/core"
	"github.com/hugo-lorenzo-mato/taskforge/internal/testutil"
)

const loginPlan = `Here is the plan you asked for:

` + "```json" + `
{
  "phases": [
    {"phase": 1, "name": "Plan tests", "workers": [{"worker": "planner", "task": "Design 3 test cases for /login"}]},
    {"phase": 2, "name": "Execute", "depends_on": ["phase_1"],
     "workers": [{"worker": "executor", "task": "Run the cases", "input": {"cases": "$phase_1.output"}}]},
    {"phase": 3, "name": "Report", "depends_on": [2],
     "workers": [{"worker": "reporter", "task": "Summarize", "input": {"results": "$executor.output"}}]}
  ],
  "completion_criteria": "report written"
}
` + "```"

func createPlan(t *testing.T, text string, opts ...PlannerOption) (*PlanOutcome, error) {
	t.Helper()
	oracle := testutil.NewMockOracle().WithResponse(core.RolePlan, text)
	planner := NewPlanner(oracle, nil, opts...)
	return planner.CreatePlan(context.Background(), "generate and run 3 test cases for /login", nil,
		testCatalog("planner", "executor", "reporter"))
}

func TestPlanner_CreatePlan_Login(t *testing.T) {
	outcome, err := createPlan(t, loginPlan)
	require.NoError(t, err)

	plan := outcome.Plan
	require.Len(t, plan.Phases, 3)
	assert.Equal(t, "report written", plan.CompletionCriteria)
	assert.False(t, plan.Fallback)
	assert.Empty(t, outcome.UnknownWorkers)

	assert.Empty(t, plan.Phases[0].DependsOn)
	assert.Equal(t, []string{"phase_1"}, plan.Phases[1].DependsOn)
	assert.Equal(t, []string{"phase_2"}, plan.Phases[2].DependsOn)
	assert.Equal(t, "$phase_1.output", plan.Phases[1].Assignments[0].Input["cases"])
	assert.Equal(t, []string{"planner"}, plan.Phases[0].WorkerNames())
}

func TestPlanner_CreatePlan_Normalizes(t *testing.T) {
	text := `{"phases": [
		{"phase": "phase_3", "name": "third", "workers": [{"worker": "executor", "task": "c", "depends_on": ["1"]}]},
		{"name": "second", "workers": [{"worker": "planner", "task": "b"}]},
		{"phase": 1, "workers": [{"worker": "planner", "task": "a"}]}
	], "completionCriteria": "done"}`

	outcome, err := createPlan(t, text)
	require.NoError(t, err)

	plan := outcome.Plan
	require.Len(t, plan.Phases, 3)
	assert.Equal(t, 1, plan.Phases[0].Index)
	assert.Equal(t, "Phase 1", plan.Phases[0].Name)
	assert.Equal(t, 2, plan.Phases[1].Index)
	assert.Equal(t, "second", plan.Phases[1].Name)
	assert.Equal(t, 3, plan.Phases[2].Index)
	// assignment-level dependencies gate the whole phase
	assert.Equal(t, []string{"phase_1"}, plan.Phases[2].DependsOn)
	assert.Equal(t, "done", plan.CompletionCriteria)
}

func TestPlanner_CreatePlan_ValidationErrors(t *testing.T) {
	tests := []struct {
		name string
		text string
		code string
	}{
		{
			name: "forward dependency",
			text: `{"phases": [{"phase": 1, "depends_on": ["phase_2"], "workers": []}, {"phase": 2, "workers": []}]}`,
			code: core.CodeForwardDependency,
		},
		{
			name: "self dependency",
			text: `{"phases": [{"phase": 1, "depends_on": ["phase_1"], "workers": []}]}`,
			code: core.CodeDAGCycle,
		},
		{
			name: "cycle",
			text: `{"phases": [{"phase": 1, "depends_on": [2], "workers": []}, {"phase": 2, "depends_on": [1], "workers": []}]}`,
			code: core.CodeDAGCycle,
		},
		{
			name: "unknown phase",
			text: `{"phases": [{"phase": 1, "workers": []}, {"phase": 2, "depends_on": ["phase_7"], "workers": []}]}`,
			code: core.CodeUnknownPhaseRef,
		},
		{
			name: "duplicate index",
			text: `{"phases": [{"phase": 1, "workers": []}, {"phase": 1, "workers": []}]}`,
			code: core.CodeDuplicatePhase,
		},
		{
			name: "no json",
			text: "I could not come up with a plan.",
			code: core.CodeParseFailed,
		},
		{
			name: "wrong shape",
			text: `{"phases": "all of them"}`,
			code: core.CodeParseFailed,
		},
		{
			name: "missing phases",
			text: `{"steps": []}`,
			code: core.CodeParseFailed,
		},
		{
			name: "empty",
			text: `{"phases": []}`,
			code: core.CodeEmptyPlan,
		},
		{
			name: "bad reference",
			text: `{"phases": [{"phase": 1, "depends_on": [{"x": 1}], "workers": []}]}`,
			code: core.CodeUnknownPhaseRef,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := createPlan(t, tt.text)
			require.Error(t, err)
			assert.True(t, core.IsPlanValidation(err), "want plan validation error, got %v", err)
			assert.Equal(t, tt.code, core.GetCode(err))
		})
	}
}

func TestPlanner_CreatePlan_TooManyPhases(t *testing.T) {
	text := `{"phases": [{"phase": 1, "workers": []}, {"phase": 2, "workers": []}, {"phase": 3, "workers": []}]}`
	_, err := createPlan(t, text, WithMaxPhases(2))
	require.Error(t, err)
	assert.Equal(t, core.CodeTooManyPhases, core.GetCode(err))
}

func TestPlanner_CreatePlan_UnknownWorkerIsWarning(t *testing.T) {
	text := `{"phases": [{"phase": 1, "workers": [{"worker": "executer", "task": "run"}]}]}`
	outcome, err := createPlan(t, text)
	require.NoError(t, err)

	require.Len(t, outcome.UnknownWorkers, 1)
	u := outcome.UnknownWorkers[0]
	assert.Equal(t, "executer", u.Name)
	assert.Equal(t, 1, u.Phase)
	assert.Contains(t, u.Suggestions, "executor")
}

func TestPlanner_CreatePlan_SendsCatalogSummary(t *testing.T) {
	oracle := testutil.NewMockOracle().WithResponse(core.RolePlan, loginPlan)
	planner := NewPlanner(oracle, nil, WithMaxPhases(4))

	_, err := planner.CreatePlan(context.Background(), "objective", map[string]any{"env": "staging"},
		testCatalog("planner", "executor"))
	require.NoError(t, err)

	calls := oracle.Calls()
	require.Len(t, calls, 1)
	req := calls[0]
	assert.Equal(t, core.RolePlan, req.Role)
	assert.Equal(t, "objective", req.Context["objective"])
	assert.Equal(t, 4, req.Context["max_phases"])
	assert.Equal(t, map[string]any{"env": "staging"}, req.Context["context"])

	workers, ok := req.Context["workers"].([]any)
	require.True(t, ok)
	require.Len(t, workers, 2)
	assert.Equal(t, "executor", workers[0].(map[string]any)["name"])
}

func TestPlanner_PlanOrFallback(t *testing.T) {
	t.Run("unparseable response", func(t *testing.T) {
		oracle := testutil.NewMockOracle().WithResponse(core.RolePlan, "no idea")
		planner := NewPlanner(oracle, nil)

		outcome, err := planner.PlanOrFallback(context.Background(), "fix login", nil,
			testCatalog("executor", "planner"))
		require.NoError(t, err)
		require.NotNil(t, outcome.FallbackCause)
		assert.Equal(t, core.CodeParseFailed, core.GetCode(outcome.FallbackCause))

		plan := outcome.Plan
		assert.True(t, plan.Fallback)
		require.Len(t, plan.Phases, 1)
		phase := plan.Phases[0]
		assert.Equal(t, "Default execution", phase.Name)
		assert.Equal(t, []string{"planner"}, phase.WorkerNames())
		assert.True(t, strings.HasPrefix(phase.Assignments[0].TaskDescription, "Analyze the task and determine the best approach"))
		assert.Equal(t, "Task analysis completed", plan.CompletionCriteria)
	})

	t.Run("oracle error uses first worker", func(t *testing.T) {
		oracle := testutil.NewMockOracle().WithError(core.RolePlan, errors.New("model offline"))
		planner := NewPlanner(oracle, nil)

		outcome, err := planner.PlanOrFallback(context.Background(), "fix login", nil,
			testCatalog("reporter", "analyst"))
		require.NoError(t, err)
		assert.Equal(t, core.CodeOracleFailed, core.GetCode(outcome.FallbackCause))
		assert.Equal(t, []string{"analyst"}, outcome.Plan.Phases[0].WorkerNames())
	})

	t.Run("configured fallback worker", func(t *testing.T) {
		oracle := testutil.NewMockOracle().WithResponse(core.RolePlan, "{}")
		planner := NewPlanner(oracle, nil, WithFallbackWorker("reporter"))

		outcome, err := planner.PlanOrFallback(context.Background(), "x", nil,
			testCatalog("analyst", "reporter"))
		require.NoError(t, err)
		assert.Equal(t, []string{"reporter"}, outcome.Plan.Phases[0].WorkerNames())
	})

	t.Run("cancelled context", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		planner := NewPlanner(testutil.NewMockOracle(), nil)

		_, err := planner.PlanOrFallback(ctx, "x", nil, testCatalog("planner"))
		assert.ErrorIs(t, err, context.Canceled)
	})
}

func TestValidatePlan(t *testing.T) {
	plan := &core.ExecutionPlan{Phases: []core.Phase{
		{Index: 1},
		{Index: 2, DependsOn: []string{"phase_1"}},
		{Index: 3, DependsOn: []string{"phase_1", "phase_2"}},
	}}
	require.NoError(t, ValidatePlan(plan))

	plan.Phases[1].DependsOn = []string{"phase_3"}
	err := ValidatePlan(plan)
	require.Error(t, err)
	assert.True(t, core.IsPlanValidation(err))

	assert.Equal(t, core.CodeEmptyPlan, core.GetCode(ValidatePlan(&core.ExecutionPlan{})))
}
