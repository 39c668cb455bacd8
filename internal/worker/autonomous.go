package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/hugo-lorenzo-mato/taskforge/internal/core"
	"github.com/hugo-lorenzo-mato/taskforge/internal/events"
	"github.com/hugo-lorenzo-mato/taskforge/internal/logging"
	"github.com/hugo-lorenzo-mato/taskforge/internal/service"
	"github.com/hugo-lorenzo-mato/taskforge/internal/vars"
)

const continuePrompt = "Continue working on the task. When it is complete, give your final answer."

// Autonomous drives a reason/act loop: each turn the reasoner may request
// tool calls, whose results are fed back, until it signals completion or the
// iteration cap is reached.
type Autonomous struct {
	reasoner core.Reasoner
	tools    core.ToolInvoker
	logger   *logging.Logger
}

// NewAutonomous creates the strategy. tools may be nil.
func NewAutonomous(reasoner core.Reasoner, tools core.ToolInvoker, logger *logging.Logger) *Autonomous {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Autonomous{reasoner: reasoner, tools: tools, logger: logger}
}

// Mode implements Strategy.
func (a *Autonomous) Mode() core.ExecutionMode { return core.ModeAutonomous }

// Run implements Strategy.
func (a *Autonomous) Run(ctx context.Context, cfg *core.WorkerConfig, task core.WorkerTask, _ *events.Emitter) core.WorkerResult {
	return a.run(ctx, cfg, task.Description, task.Input, task.Context)
}

func (a *Autonomous) run(ctx context.Context, cfg *core.WorkerConfig, description string, input, taskCtx map[string]any) core.WorkerResult {
	start := time.Now()
	log := a.logger.WithWorker(cfg.Name)

	maxIter := cfg.MaxIterations
	if maxIter <= 0 {
		maxIter = core.DefaultMaxIterations
	}

	var specs []core.ToolSpec
	if a.tools != nil && len(cfg.AllowedTools) > 0 {
		specs = a.tools.Specs(cfg.AllowedTools)
	}

	messages := []core.Message{{Role: "user", Content: buildPrompt(description, input, taskCtx)}}
	var (
		lastOutput string
		tokens     int
		iterations int
	)

	for iterations < maxIter {
		if kind, ok := interruption(ctx); ok {
			return interrupted(cfg.Name, kind, outputValue(lastOutput), iterations, tokens, start)
		}
		iterations++

		resp, err := a.reasoner.Reason(ctx, core.ReasonRequest{
			Worker:       cfg.Name,
			Model:        cfg.Model,
			SystemPrompt: cfg.CapabilityPrompt,
			Messages:     messages,
			Tools:        specs,
		})
		if err != nil {
			if kind, ok := interruption(ctx); ok {
				return interrupted(cfg.Name, kind, outputValue(lastOutput), iterations, tokens, start)
			}
			log.Warn("reasoner call failed", "iteration", iterations, "error", err)
			r := core.FailedResult(cfg.Name, core.KindFailed, err.Error(), time.Since(start))
			r.Output = outputValue(lastOutput)
			r.IterationsUsed = iterations
			r.TokensUsed = tokens
			return r
		}

		tokens += resp.TokensUsed
		if resp.Content != "" {
			lastOutput = resp.Content
		}
		messages = append(messages, assistantMessage(resp))

		for _, call := range resp.ToolCalls {
			messages = append(messages, core.Message{
				Role:    "tool",
				Content: a.invoke(ctx, cfg, call),
			})
		}

		if resp.Done {
			return core.WorkerResult{
				WorkerName:     cfg.Name,
				Status:         core.WorkerSuccess,
				Output:         outputValue(lastOutput),
				IterationsUsed: iterations,
				TokensUsed:     tokens,
				DurationMS:     time.Since(start).Milliseconds(),
			}
		}
		if len(resp.ToolCalls) == 0 {
			messages = append(messages, core.Message{Role: "user", Content: continuePrompt})
		}
	}

	log.Debug("iteration cap reached", "max_iterations", maxIter)
	return core.WorkerResult{
		WorkerName:     cfg.Name,
		Status:         core.WorkerPartial,
		Output:         outputValue(lastOutput),
		IterationsUsed: iterations,
		TokensUsed:     tokens,
		DurationMS:     time.Since(start).Milliseconds(),
		Error: &core.ErrorInfo{
			Kind:    core.KindFailed,
			Message: fmt.Sprintf("iteration cap %d reached before completion", maxIter),
		},
	}
}

// invoke runs one tool call and renders its outcome as a tool message.
func (a *Autonomous) invoke(ctx context.Context, cfg *core.WorkerConfig, call core.ToolCall) string {
	result, err := invokeTool(ctx, a.tools, cfg, call)
	if err != nil {
		return fmt.Sprintf("tool %s error: %v", call.Name, err)
	}
	return fmt.Sprintf("tool %s result:\n%s", call.Name, vars.Stringify(result))
}

// invokeTool checks the worker's tool grant before calling the registry.
func invokeTool(ctx context.Context, tools core.ToolInvoker, cfg *core.WorkerConfig, call core.ToolCall) (any, error) {
	if !cfg.AllowsTool(call.Name) {
		return nil, core.ErrValidation(core.CodeToolNotAllowed,
			fmt.Sprintf("tool %q is not allowed for worker %s", call.Name, cfg.Name))
	}
	if tools == nil {
		return nil, core.ErrNotFound("tool", call.Name)
	}
	return tools.Invoke(ctx, call.Name, call.Arguments)
}

func assistantMessage(resp *core.ReasonResponse) core.Message {
	content := resp.Content
	if len(resp.ToolCalls) > 0 {
		calls, err := json.Marshal(map[string]any{"tool_calls": resp.ToolCalls})
		if err == nil {
			if content != "" {
				content += "\n"
			}
			content += string(calls)
		}
	}
	return core.Message{Role: "assistant", Content: content}
}

// outputValue decodes a whole-JSON reply and keeps prose as text. An empty
// reply has no output.
func outputValue(text string) any {
	if text == "" {
		return nil
	}
	return service.DecodeOutput(text)
}
