package ollama

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync"
	"testing"

	ollama "github.com/ollama/ollama/api"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hugo-lorenzo-mato/taskforge/internal/core"
	"github.com/hugo-lorenzo-mato/taskforge/internal/service"
)

// fakeServer streams replies as NDJSON chunks and records each request.
type fakeServer struct {
	mu       sync.Mutex
	requests []ollama.ChatRequest
	chunks   []string
	status   int
}

func (f *fakeServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/api/chat" {
		http.NotFound(w, r)
		return
	}
	var req ollama.ChatRequest
	_ = json.NewDecoder(r.Body).Decode(&req)
	f.mu.Lock()
	f.requests = append(f.requests, req)
	f.mu.Unlock()

	if f.status != 0 {
		w.WriteHeader(f.status)
		_, _ = w.Write([]byte(`{"error": "model not found"}`))
		return
	}

	w.Header().Set("Content-Type", "application/x-ndjson")
	enc := json.NewEncoder(w)
	for i, chunk := range f.chunks {
		res := ollama.ChatResponse{
			Model:   req.Model,
			Message: ollama.Message{Role: "assistant", Content: chunk},
			Done:    i == len(f.chunks)-1,
		}
		if res.Done {
			res.PromptEvalCount = 11
			res.EvalCount = 7
		}
		_ = enc.Encode(res)
	}
}

func newTestClient(t *testing.T, srv *fakeServer) *Client {
	t.Helper()
	ts := httptest.NewServer(srv)
	t.Cleanup(ts.Close)

	base, err := url.Parse(ts.URL)
	require.NoError(t, err)
	renderer, err := service.NewPromptRenderer()
	require.NoError(t, err)

	c, err := New(ollama.NewClient(base, ts.Client()), Config{Model: "test-model", Temperature: 0.1}, renderer, nil)
	require.NoError(t, err)
	return c
}

func TestClient_Ask(t *testing.T) {
	srv := &fakeServer{chunks: []string{`{"phases": `, `[]}`}}
	c := newTestClient(t, srv)

	resp, err := c.Ask(context.Background(), core.OracleRequest{
		Role:    core.RolePlan,
		Context: map[string]any{"objective": "write docs"},
	})
	require.NoError(t, err)
	assert.Equal(t, `{"phases": []}`, resp.Text)
	assert.Equal(t, 18, resp.TokensUsed)

	require.Len(t, srv.requests, 1)
	req := srv.requests[0]
	assert.Equal(t, "test-model", req.Model)
	require.Len(t, req.Messages, 2)
	assert.Equal(t, "system", req.Messages[0].Role)
	assert.Contains(t, req.Messages[1].Content, "write docs")
	assert.InDelta(t, 0.1, req.Options["temperature"], 1e-9)
}

func TestClient_Reason(t *testing.T) {
	srv := &fakeServer{chunks: []string{`{"content": "done", "done": true}`}}
	c := newTestClient(t, srv)

	resp, err := c.Reason(context.Background(), core.ReasonRequest{
		Model:        "worker-model",
		SystemPrompt: "You review code.",
		Messages: []core.Message{
			{Role: "user", Content: "review a.go"},
			{Role: "assistant", Content: `{"tool_calls": [{"name": "read_file"}]}`},
			{Role: "tool", Content: "package a"},
		},
		Tools: []core.ToolSpec{{Name: "read_file", Description: "Read a file"}},
	})
	require.NoError(t, err)
	assert.True(t, resp.Done)
	assert.Equal(t, "done", resp.Content)
	assert.Equal(t, 18, resp.TokensUsed)

	req := srv.requests[0]
	assert.Equal(t, "worker-model", req.Model)
	require.Len(t, req.Messages, 4)
	assert.Contains(t, req.Messages[0].Content, "You review code.")
	assert.Contains(t, req.Messages[0].Content, "read_file")
	assert.Equal(t, "tool", req.Messages[3].Role)
}

func TestClient_ServerError(t *testing.T) {
	c := newTestClient(t, &fakeServer{status: http.StatusNotFound})

	_, err := c.Ask(context.Background(), core.OracleRequest{Role: core.RoleEvaluate})
	require.Error(t, err)
	assert.Equal(t, core.CodeOracleFailed, core.GetCode(err))
}

func TestClient_Cancelled(t *testing.T) {
	c := newTestClient(t, &fakeServer{chunks: []string{"x"}})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := c.Reason(ctx, core.ReasonRequest{})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestNew_Validation(t *testing.T) {
	_, err := New(nil, Config{}, nil, nil)
	assert.Error(t, err)

	renderer, err := service.NewPromptRenderer()
	require.NoError(t, err)
	c, err := New(ollama.NewClient(&url.URL{Scheme: "http", Host: "localhost:11434"}, http.DefaultClient), Config{}, renderer, nil)
	require.NoError(t, err)
	assert.Equal(t, DefaultModel, c.cfg.Model)
}
