package worker_test

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hugo-lorenzo-mato/taskforge/internal/core"
	"github.com/hugo-lorenzo-mato/taskforge/internal/events"
	"github.com/hugo-lorenzo-mato/taskforge/internal/testutil"
	"github.com/hugo-lorenzo-mato/taskforge/internal/worker"
)

func workerConfig(name string, mode core.ExecutionMode, tools ...string) *core.WorkerConfig {
	return &core.WorkerConfig{
		Name:             name,
		CapabilityPrompt: "You are " + name + ".",
		AllowedTools:     tools,
		Mode:             mode,
		MaxIterations:    5,
		Timeout:          5 * time.Second,
	}
}

func task(name, description string) core.WorkerTask {
	return core.WorkerTask{ID: "a1", WorkerName: name, Description: description}
}

func echoTools() *testutil.StaticTools {
	return testutil.NewStaticTools().
		With("echo", func(_ context.Context, args map[string]any) (any, error) {
			return args["text"], nil
		}).
		With("broken", func(_ context.Context, _ map[string]any) (any, error) {
			return nil, errors.New("disk on fire")
		})
}

func TestRunner_DispatchesByMode(t *testing.T) {
	reasoner := testutil.NewMockReasoner().
		WithText("single", `{"answer": 42}`, true).
		WithText("auto", "done thinking", true)
	runner := worker.NewRunner(reasoner, nil, nil)

	single := runner.Run(context.Background(), workerConfig("single", core.ModeSingleShot), task("single", "x"), nil)
	assert.Equal(t, core.WorkerSuccess, single.Status)
	assert.Equal(t, map[string]any{"answer": float64(42)}, single.Output)
	assert.Equal(t, 1, single.IterationsUsed)

	auto := runner.Run(context.Background(), workerConfig("auto", core.ModeAutonomous), task("auto", "x"), nil)
	assert.Equal(t, core.WorkerSuccess, auto.Status)
	assert.Equal(t, "done thinking", auto.Output)

	assert.Equal(t, core.ModeAutonomous, runner.Strategy("unknown").Mode())
}

func TestRunner_EmitsWorkerEvents(t *testing.T) {
	sink := testutil.NewRecordingSink()
	emit := events.NewEmitter(sink, nil).ForTask("t1")
	runner := worker.NewRunner(testutil.NewMockReasoner(), nil, nil)

	res := runner.Run(context.Background(), workerConfig("w", core.ModeAutonomous), task("w", "x"), emit)
	require.Equal(t, core.WorkerSuccess, res.Status)

	assert.Equal(t, []string{events.TypeWorkerStarted, events.TypeWorkerCompleted}, sink.Types())
	completed := sink.Events()[1].Payload
	assert.Equal(t, "success", completed["status"])
	assert.Equal(t, "t1", completed["task_id"])
}

type panicStrategy struct{}

func (panicStrategy) Mode() core.ExecutionMode { return core.ModeSingleShot }
func (panicStrategy) Run(context.Context, *core.WorkerConfig, core.WorkerTask, *events.Emitter) core.WorkerResult {
	panic("boom")
}

func TestRunner_RecoversPanics(t *testing.T) {
	runner := worker.NewRunner(testutil.NewMockReasoner(), nil, nil)
	runner.Register(panicStrategy{})

	res := runner.Run(context.Background(), workerConfig("p", core.ModeSingleShot), task("p", "x"), nil)
	assert.Equal(t, core.WorkerFailed, res.Status)
	assert.Equal(t, "p", res.WorkerName)
	require.NotNil(t, res.Error)
	assert.Contains(t, res.Error.Message, "boom")
}

func TestRunner_Timeout(t *testing.T) {
	reasoner := testutil.NewMockReasoner().WithDelay(time.Hour)
	runner := worker.NewRunner(reasoner, nil, nil)
	cfg := workerConfig("slow", core.ModeAutonomous)
	cfg.Timeout = 20 * time.Millisecond

	start := time.Now()
	res := runner.Run(context.Background(), cfg, task("slow", "x"), nil)

	assert.Equal(t, core.WorkerTimeout, res.Status)
	assert.Equal(t, core.KindTimeout, res.Error.Kind)
	assert.Less(t, time.Since(start), time.Second)
}

func TestRunner_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	runner := worker.NewRunner(testutil.NewMockReasoner(), nil, nil)

	for _, mode := range []core.ExecutionMode{core.ModeAutonomous, core.ModeSingleShot, core.ModeIterativeLoop} {
		res := runner.Run(ctx, workerConfig("c", mode), task("c", "x"), nil)
		assert.Equal(t, core.WorkerCancelled, res.Status, "mode %s", mode)
	}
}

func TestAutonomous_ToolLoop(t *testing.T) {
	reasoner := testutil.NewMockReasoner().
		WithToolCalls("auto", core.ToolCall{Name: "echo", Arguments: map[string]any{"text": "pong"}}).
		WithText("auto", "final answer", true)
	tools := echoTools()
	strategy := worker.NewAutonomous(reasoner, tools, nil)

	res := strategy.Run(context.Background(), workerConfig("auto", core.ModeAutonomous, "echo"), task("auto", "ping"), nil)

	assert.Equal(t, core.WorkerSuccess, res.Status)
	assert.Equal(t, "final answer", res.Output)
	assert.Equal(t, 2, res.IterationsUsed)
	assert.Equal(t, 20, res.TokensUsed)
	require.Len(t, tools.Calls(), 1)

	calls := reasoner.Calls()
	require.Len(t, calls, 2)
	last := calls[1].Messages[len(calls[1].Messages)-1]
	assert.Equal(t, "tool", last.Role)
	assert.Contains(t, last.Content, "pong")
	assert.Len(t, calls[0].Tools, 1)
}

func TestAutonomous_DisallowedToolIsReported(t *testing.T) {
	reasoner := testutil.NewMockReasoner().
		WithToolCalls("auto", core.ToolCall{Name: "echo"}).
		WithText("auto", "ok", true)
	tools := echoTools()
	strategy := worker.NewAutonomous(reasoner, tools, nil)

	res := strategy.Run(context.Background(), workerConfig("auto", core.ModeAutonomous), task("auto", "x"), nil)

	assert.Equal(t, core.WorkerSuccess, res.Status)
	assert.Empty(t, tools.Calls())
	msgs := reasoner.Calls()[1].Messages
	assert.Contains(t, msgs[len(msgs)-1].Content, "not allowed")
}

func TestAutonomous_IterationCapIsPartial(t *testing.T) {
	reasoner := testutil.NewMockReasoner().WithText("auto", "still going", false)
	strategy := worker.NewAutonomous(reasoner, nil, nil)
	cfg := workerConfig("auto", core.ModeAutonomous)
	cfg.MaxIterations = 3

	res := strategy.Run(context.Background(), cfg, task("auto", "x"), nil)

	assert.Equal(t, core.WorkerPartial, res.Status)
	assert.Equal(t, "still going", res.Output)
	assert.Equal(t, 3, res.IterationsUsed)
	assert.Equal(t, 3, reasoner.CallCount("auto"))
}

func TestAutonomous_ReasonerError(t *testing.T) {
	reasoner := testutil.NewMockReasoner().WithError("auto", errors.New("connection refused"))
	strategy := worker.NewAutonomous(reasoner, nil, nil)

	res := strategy.Run(context.Background(), workerConfig("auto", core.ModeAutonomous), task("auto", "x"), nil)

	assert.Equal(t, core.WorkerFailed, res.Status)
	assert.Equal(t, "connection refused", res.ErrorText())
}

func TestAutonomous_PromptCarriesInputAndContext(t *testing.T) {
	reasoner := testutil.NewMockReasoner()
	strategy := worker.NewAutonomous(reasoner, nil, nil)
	tk := task("auto", "run the cases")
	tk.Input = map[string]any{"cases": []any{"a", "b"}}
	tk.Context = map[string]any{"objective": "test /login", "huge": map[string]any{"blob": strings.Repeat("x", 2000)}}

	strategy.Run(context.Background(), workerConfig("auto", core.ModeAutonomous), tk, nil)

	prompt := reasoner.Calls()[0].Messages[0].Content
	assert.Contains(t, prompt, "## Task\nrun the cases")
	assert.Contains(t, prompt, `"cases"`)
	assert.Contains(t, prompt, "test /login")
	assert.NotContains(t, prompt, "xxxxxxxxxx")
	assert.Equal(t, "You are auto.", reasoner.Calls()[0].SystemPrompt)
}

func TestSingleShot_ToolBatch(t *testing.T) {
	reasoner := testutil.NewMockReasoner().WithToolCalls("ss",
		core.ToolCall{Name: "echo", Arguments: map[string]any{"text": "one"}},
		core.ToolCall{Name: "broken"},
		core.ToolCall{Name: "echo", Arguments: map[string]any{"text": "two"}},
	)
	strategy := worker.NewSingleShot(reasoner, echoTools(), nil)

	res := strategy.Run(context.Background(), workerConfig("ss", core.ModeSingleShot, "echo", "broken"), task("ss", "x"), nil)

	assert.Equal(t, core.WorkerSuccess, res.Status)
	assert.Equal(t, 1, res.IterationsUsed)
	out := res.Output.(map[string]any)
	assert.Equal(t, 2, out["successCount"])
	assert.Equal(t, 1, out["errorCount"])
	results := out["toolResults"].([]any)
	require.Len(t, results, 3)
	assert.Equal(t, "one", results[0].(map[string]any)["result"])
	assert.Contains(t, results[1].(map[string]any)["error"], "disk on fire")
	assert.Equal(t, 1, reasoner.CallCount("ss"))
}

func TestSingleShot_AllToolsFail(t *testing.T) {
	reasoner := testutil.NewMockReasoner().WithToolCalls("ss", core.ToolCall{Name: "broken"})
	strategy := worker.NewSingleShot(reasoner, echoTools(), nil)

	res := strategy.Run(context.Background(), workerConfig("ss", core.ModeSingleShot, "broken"), task("ss", "x"), nil)

	assert.Equal(t, core.WorkerFailed, res.Status)
	assert.Equal(t, core.KindToolError, res.Error.Kind)
	assert.Equal(t, 1, res.IterationsUsed)
}

func TestSingleShot_TextOutput(t *testing.T) {
	reasoner := testutil.NewMockReasoner().WithText("ss", "a plain report", true)
	strategy := worker.NewSingleShot(reasoner, nil, nil)

	res := strategy.Run(context.Background(), workerConfig("ss", core.ModeSingleShot), task("ss", "x"), nil)

	assert.Equal(t, core.WorkerSuccess, res.Status)
	assert.Equal(t, "a plain report", res.Output)
	assert.Equal(t, 1, res.IterationsUsed)
}
