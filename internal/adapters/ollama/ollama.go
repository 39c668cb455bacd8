// Package ollama implements the Oracle and Reasoner ports against a local
// Ollama server.
package ollama

import (
	"context"
	"fmt"
	"strings"

	ollama "github.com/ollama/ollama/api"

	"github.com/hugo-lorenzo-mato/taskforge/internal/core"
	"github.com/hugo-lorenzo-mato/taskforge/internal/logging"
	"github.com/hugo-lorenzo-mato/taskforge/internal/service"
)

// DefaultModel is used when neither the request nor the config names one.
const DefaultModel = "llama3.1"

const minContextWindow = 4096

// Config tunes the chat requests.
type Config struct {
	Model       string
	Temperature float64
}

// Client talks to Ollama's chat endpoint.
type Client struct {
	api      *ollama.Client
	cfg      Config
	renderer *service.PromptRenderer
	logger   *logging.Logger
}

// NewFromEnvironment creates a client using OLLAMA_HOST.
func NewFromEnvironment(cfg Config, renderer *service.PromptRenderer, logger *logging.Logger) (*Client, error) {
	api, err := ollama.ClientFromEnvironment()
	if err != nil {
		return nil, fmt.Errorf("could not create ollama client: %w", err)
	}
	return New(api, cfg, renderer, logger)
}

// New wraps an existing API client.
func New(api *ollama.Client, cfg Config, renderer *service.PromptRenderer, logger *logging.Logger) (*Client, error) {
	if api == nil || renderer == nil {
		return nil, core.ErrValidation(core.CodeInvalidConfig, "ollama client and prompt renderer are required")
	}
	if cfg.Model == "" {
		cfg.Model = DefaultModel
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Client{api: api, cfg: cfg, renderer: renderer, logger: logger.With("adapter", "ollama")}, nil
}

// Ask implements core.Oracle.
func (c *Client) Ask(ctx context.Context, req core.OracleRequest) (*core.OracleResponse, error) {
	prompt, err := c.renderer.RenderOracle(req)
	if err != nil {
		return nil, err
	}
	text, tokens, err := c.chat(ctx, c.cfg.Model, []ollama.Message{
		{Role: "system", Content: prompt.System},
		{Role: "user", Content: prompt.User},
	})
	if err != nil {
		return nil, err
	}
	return &core.OracleResponse{Text: text, TokensUsed: tokens}, nil
}

// Reason implements core.Reasoner.
func (c *Client) Reason(ctx context.Context, req core.ReasonRequest) (*core.ReasonResponse, error) {
	system, err := c.renderer.WorkerSystemPrompt(req.SystemPrompt, req.Tools)
	if err != nil {
		return nil, err
	}

	messages := make([]ollama.Message, 0, len(req.Messages)+1)
	messages = append(messages, ollama.Message{Role: "system", Content: system})
	for _, m := range req.Messages {
		messages = append(messages, ollama.Message{Role: m.Role, Content: m.Content})
	}

	model := req.Model
	if model == "" {
		model = c.cfg.Model
	}
	text, tokens, err := c.chat(ctx, model, messages)
	if err != nil {
		return nil, err
	}

	resp := service.ParseWorkerReply(text)
	resp.TokensUsed = tokens
	return &resp, nil
}

func (c *Client) chat(ctx context.Context, model string, messages []ollama.Message) (string, int, error) {
	estimate := 0
	for _, m := range messages {
		estimate += len(m.Content) / 4
	}
	numCtx := estimate + 1000
	if numCtx < minContextWindow {
		numCtx = minContextWindow
	}

	req := &ollama.ChatRequest{
		Model:    model,
		Messages: messages,
		Options: map[string]interface{}{
			"temperature": c.cfg.Temperature,
			"num_ctx":     numCtx,
		},
	}

	var out strings.Builder
	tokens := 0
	err := c.api.Chat(ctx, req, func(res ollama.ChatResponse) error {
		out.WriteString(res.Message.Content)
		if res.Done {
			tokens = res.PromptEvalCount + res.EvalCount
		}
		return nil
	})
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return "", 0, ctxErr
		}
		return "", 0, core.ErrExecution(core.CodeOracleFailed,
			fmt.Sprintf("ollama chat failed: %v", err)).WithCause(err)
	}

	c.logger.Debug("ollama: chat completed", "model", model, "tokens", tokens, "length", out.Len())
	return out.String(), tokens, nil
}
