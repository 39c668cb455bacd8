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

var evalPhase = &core.Phase{Index: 1, Name: "Execute"}

func mixedResult() core.PhaseResult {
	return phaseResult(1, map[string]core.WorkerStatus{
		"a": core.WorkerSuccess,
		"b": core.WorkerFailed,
	}, map[string]string{"b": "assertion failed"})
}

func TestEvaluator_FastPaths(t *testing.T) {
	oracle := testutil.NewMockOracle()
	e := NewEvaluator(oracle, nil)

	success := e.Evaluate(context.Background(), evalPhase,
		phaseResult(1, map[string]core.WorkerStatus{"a": core.WorkerSuccess}, nil), nil)
	assert.True(t, success.Completed)
	assert.True(t, success.CanProceed)
	assert.Equal(t, 1.0, success.QualityScore)

	failed := e.Evaluate(context.Background(), evalPhase,
		phaseResult(1, map[string]core.WorkerStatus{"a": core.WorkerFailed, "b": core.WorkerTimeout}, nil), nil)
	assert.False(t, failed.Completed)
	assert.False(t, failed.CanProceed)
	assert.Equal(t, []string{"a", "b"}, failed.RetryTargets)

	assert.Zero(t, oracle.CallCount(core.RoleEvaluate))
}

func TestEvaluator_PartialUsesOracle(t *testing.T) {
	oracle := testutil.NewMockOracle().WithResponse(core.RoleEvaluate,
		"Verdict:\n```json\n{\"completed\": false, \"can_proceed\": true, \"quality_score\": 0.7, \"retry_targets\": [\"b\", \"ghost\"], \"reason\": \"good enough\"}\n```")
	e := NewEvaluator(oracle, nil)
	cctx := testContext(testCatalog("a", "b"))
	cctx.Plan = &core.ExecutionPlan{CompletionCriteria: "all cases run"}

	eval := e.Evaluate(context.Background(), evalPhase, mixedResult(), cctx)

	assert.True(t, eval.FromOracle)
	assert.False(t, eval.Completed)
	assert.True(t, eval.CanProceed)
	assert.Equal(t, 0.7, eval.QualityScore)
	assert.Equal(t, []string{"b"}, eval.RetryTargets)
	assert.Equal(t, "good enough", eval.Reason)

	calls := oracle.Calls()
	require.Len(t, calls, 1)
	assert.Equal(t, "all cases run", calls[0].Context["completion_criteria"])
	assert.Equal(t, "test objective", calls[0].Context["objective"])
	assert.Positive(t, cctx.Tokens())
}

func TestEvaluator_FallsBackToHeuristic(t *testing.T) {
	tests := []struct {
		name   string
		oracle *testutil.MockOracle
	}{
		{"oracle error", testutil.NewMockOracle().WithError(core.RoleEvaluate, errors.New("503"))},
		{"no json", testutil.NewMockOracle().WithResponse(core.RoleEvaluate, "looks fine to me")},
		{"missing field", testutil.NewMockOracle().WithResponse(core.RoleEvaluate, `{"completed": true, "quality_score": 0.9}`)},
		{"score out of range", testutil.NewMockOracle().WithResponse(core.RoleEvaluate, `{"completed": true, "can_proceed": true, "quality_score": 7}`)},
		{"wrong types", testutil.NewMockOracle().WithResponse(core.RoleEvaluate, `{"completed": "yes", "can_proceed": true, "quality_score": 0.5}`)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			eval := NewEvaluator(tt.oracle, nil).Evaluate(context.Background(), evalPhase, mixedResult(), nil)
			assert.False(t, eval.FromOracle)
			assert.Equal(t, 0.5, eval.QualityScore)
			assert.True(t, eval.Completed)
			assert.Equal(t, []string{"b"}, eval.RetryTargets)
			assert.Equal(t, "1/2 workers succeeded", eval.Reason)
		})
	}
}

func TestHeuristic(t *testing.T) {
	res := phaseResult(1, map[string]core.WorkerStatus{
		"a": core.WorkerSuccess,
		"b": core.WorkerPartial,
		"c": core.WorkerFailed,
	}, nil)

	eval := Heuristic(res)
	assert.InDelta(t, 1.0/3.0, eval.QualityScore, 1e-9)
	assert.False(t, eval.Completed)
	assert.False(t, eval.CanProceed)
	assert.Equal(t, []string{"b", "c"}, eval.RetryTargets)
}

func TestEvaluator_TruncatesPreviews(t *testing.T) {
	oracle := testutil.NewMockOracle().WithResponse(core.RoleEvaluate, "nope")
	e := NewEvaluator(oracle, nil, WithPreviewChars(10))

	res := mixedResult()
	wr := res.WorkerResults["a"]
	wr.Output = strings.Repeat("x", 50)
	res.WorkerResults["a"] = wr

	e.Evaluate(context.Background(), evalPhase, res, nil)

	calls := oracle.Calls()
	require.Len(t, calls, 1)
	workers := calls[0].Context["workers"].([]any)
	preview := workers[0].(map[string]any)["preview"].(string)
	assert.Equal(t, strings.Repeat("x", 10)+"...", preview)
}
