package cli

import (
	"context"
	"runtime"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hugo-lorenzo-mato/taskforge/internal/core"
	"github.com/hugo-lorenzo-mato/taskforge/internal/service"
)

func shellAdapter(t *testing.T, script string, mutate ...func(*Config)) *Adapter {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("requires a POSIX shell")
	}
	renderer, err := service.NewPromptRenderer()
	require.NoError(t, err)

	cfg := Config{Name: "fake-llm", Path: "sh", Args: []string{"-c", script}}
	for _, m := range mutate {
		m(&cfg)
	}
	a, err := New(cfg, renderer, nil)
	require.NoError(t, err)
	return a
}

func TestNew_RequiresPath(t *testing.T) {
	renderer, err := service.NewPromptRenderer()
	require.NoError(t, err)

	_, err = New(Config{}, renderer, nil)
	require.Error(t, err)
	assert.Equal(t, CodeNoPath, core.GetCode(err))
}

func TestAdapter_AskSendsPromptOnStdin(t *testing.T) {
	a := shellAdapter(t, "cat")

	resp, err := a.Ask(context.Background(), core.OracleRequest{
		Role:    core.RolePlan,
		Context: map[string]any{"objective": "ship the login page", "max_phases": 10},
	})
	require.NoError(t, err)
	assert.Contains(t, resp.Text, "ship the login page")
	assert.Contains(t, resp.Text, "task planner")
	assert.Positive(t, resp.TokensUsed)
}

func TestAdapter_ReasonParsesProtocolReply(t *testing.T) {
	a := shellAdapter(t, `cat >/dev/null; printf '{"content": "checking", "tool_calls": [{"name": "read_file", "arguments": {"path": "a.go"}}]}'`)

	resp, err := a.Reason(context.Background(), core.ReasonRequest{
		Worker:       "executor",
		SystemPrompt: "You run tests.",
		Messages:     []core.Message{{Role: "user", Content: "run them"}},
	})
	require.NoError(t, err)
	assert.Equal(t, "checking", resp.Content)
	assert.False(t, resp.Done)
	require.Len(t, resp.ToolCalls, 1)
	assert.Equal(t, "read_file", resp.ToolCalls[0].Name)
}

func TestAdapter_ReasonPlainTextIsFinal(t *testing.T) {
	a := shellAdapter(t, `cat >/dev/null; echo "all tests pass"`)

	resp, err := a.Reason(context.Background(), core.ReasonRequest{Messages: []core.Message{{Role: "user", Content: "go"}}})
	require.NoError(t, err)
	assert.True(t, resp.Done)
	assert.Equal(t, "all tests pass", resp.Content)
}

func TestAdapter_ModelFlag(t *testing.T) {
	a := shellAdapter(t, `cat >/dev/null; echo "$@"`, func(c *Config) {
		c.Args = append(c.Args, "sh")
		c.ModelFlag = "--model"
		c.Model = "default-model"
	})

	resp, err := a.Reason(context.Background(), core.ReasonRequest{Model: "worker-model"})
	require.NoError(t, err)
	assert.Equal(t, "--model worker-model", resp.Content)

	oracle, err := a.Ask(context.Background(), core.OracleRequest{Role: core.RoleEvaluate})
	require.NoError(t, err)
	assert.Equal(t, "--model default-model", strings.TrimSpace(oracle.Text))
}

func TestAdapter_FailureKeepsToolMessage(t *testing.T) {
	a := shellAdapter(t, `cat >/dev/null; echo "rate limit exceeded" >&2; exit 3`)

	_, err := a.Reason(context.Background(), core.ReasonRequest{})
	require.Error(t, err)
	assert.Equal(t, CodeCommandFailed, core.GetCode(err))
	assert.Contains(t, err.Error(), "exited with code 3")
	assert.Contains(t, err.Error(), "rate limit exceeded")
}

func TestAdapter_Timeout(t *testing.T) {
	a := shellAdapter(t, "sleep 5", func(c *Config) {
		c.Timeout = 100 * time.Millisecond
		c.GracePeriod = 100 * time.Millisecond
	})

	start := time.Now()
	_, err := a.Ask(context.Background(), core.OracleRequest{Role: core.RolePlan})
	require.Error(t, err)
	assert.Equal(t, CodeCommandTimeout, core.GetCode(err))
	assert.True(t, core.IsCategory(err, core.ErrCatTimeout))
	assert.Less(t, time.Since(start), 3*time.Second)
}

func TestAdapter_Cancelled(t *testing.T) {
	a := shellAdapter(t, "sleep 5", func(c *Config) { c.GracePeriod = 100 * time.Millisecond })

	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(50*time.Millisecond, cancel)

	_, err := a.Reason(ctx, core.ReasonRequest{})
	require.Error(t, err)
	assert.True(t, core.IsCategory(err, core.ErrCatCancelled))
}

func TestErrorFromOutput(t *testing.T) {
	assert.Equal(t, "quota exceeded", errorFromOutput("starting\n{\"error\": {\"message\": \"quota exceeded\"}}\n"))
	assert.Equal(t, "bad", errorFromOutput(`{"error": "bad"}`))
	assert.Equal(t, "last line", errorFromOutput("first\nlast line\n"))
	assert.Empty(t, errorFromOutput(""))
}

func TestTranscript(t *testing.T) {
	out := transcript("sys", []core.Message{{Role: "user", Content: "u"}, {Role: "tool", Content: "t"}})
	assert.Equal(t, "## system\n\nsys\n\n## user\n\nu\n\n## tool\n\nt\n", out)
}
