package worker

import (
	"context"
	"time"

	"github.com/hugo-lorenzo-mato/taskforge/internal/core"
	"github.com/hugo-lorenzo-mato/taskforge/internal/events"
	"github.com/hugo-lorenzo-mato/taskforge/internal/logging"
)

// SingleShot issues exactly one reasoner call. A batch of tool calls in the
// reply is executed in order and aggregated into the output.
type SingleShot struct {
	reasoner core.Reasoner
	tools    core.ToolInvoker
	logger   *logging.Logger
}

// NewSingleShot creates the strategy. tools may be nil.
func NewSingleShot(reasoner core.Reasoner, tools core.ToolInvoker, logger *logging.Logger) *SingleShot {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &SingleShot{reasoner: reasoner, tools: tools, logger: logger}
}

// Mode implements Strategy.
func (s *SingleShot) Mode() core.ExecutionMode { return core.ModeSingleShot }

type toolOutcome struct {
	Tool      string
	Arguments map[string]any
	Success   bool
	Result    any
	Error     string
}

// Run implements Strategy.
func (s *SingleShot) Run(ctx context.Context, cfg *core.WorkerConfig, task core.WorkerTask, _ *events.Emitter) core.WorkerResult {
	start := time.Now()

	var specs []core.ToolSpec
	if s.tools != nil && len(cfg.AllowedTools) > 0 {
		specs = s.tools.Specs(cfg.AllowedTools)
	}

	resp, err := s.reasoner.Reason(ctx, core.ReasonRequest{
		Worker:       cfg.Name,
		Model:        cfg.Model,
		SystemPrompt: cfg.CapabilityPrompt,
		Messages:     []core.Message{{Role: "user", Content: buildPrompt(task.Description, task.Input, task.Context)}},
		Tools:        specs,
	})
	if err != nil {
		if kind, ok := interruption(ctx); ok {
			return interrupted(cfg.Name, kind, nil, 1, 0, start)
		}
		r := core.FailedResult(cfg.Name, core.KindFailed, err.Error(), time.Since(start))
		r.IterationsUsed = 1
		return r
	}

	result := core.WorkerResult{
		WorkerName:     cfg.Name,
		Status:         core.WorkerSuccess,
		IterationsUsed: 1,
		TokensUsed:     resp.TokensUsed,
	}

	if len(resp.ToolCalls) == 0 {
		result.Output = outputValue(resp.Content)
		result.DurationMS = time.Since(start).Milliseconds()
		return result
	}

	outcomes := make([]toolOutcome, 0, len(resp.ToolCalls))
	successes := 0
	for _, call := range resp.ToolCalls {
		if kind, ok := interruption(ctx); ok {
			return interrupted(cfg.Name, kind, toolOutput(outcomes, successes), 1, resp.TokensUsed, start)
		}
		out := toolOutcome{Tool: call.Name, Arguments: call.Arguments}
		value, err := invokeTool(ctx, s.tools, cfg, call)
		if err != nil {
			out.Error = err.Error()
			s.logger.WithWorker(cfg.Name).Debug("tool call failed", "tool", call.Name, "error", err)
		} else {
			out.Success = true
			out.Result = value
			successes++
		}
		outcomes = append(outcomes, out)
	}

	result.Output = toolOutput(outcomes, successes)
	result.DurationMS = time.Since(start).Milliseconds()
	if successes == 0 {
		result.Status = core.WorkerFailed
		result.Error = &core.ErrorInfo{Kind: core.KindToolError, Message: outcomes[0].Error}
	}
	return result
}

func toolOutput(outcomes []toolOutcome, successes int) map[string]any {
	results := make([]any, len(outcomes))
	for i, o := range outcomes {
		entry := map[string]any{"tool": o.Tool, "success": o.Success}
		if o.Arguments != nil {
			entry["arguments"] = o.Arguments
		}
		if o.Success {
			entry["result"] = o.Result
		} else {
			entry["error"] = o.Error
		}
		results[i] = entry
	}
	return map[string]any{
		"toolResults":  results,
		"successCount": successes,
		"errorCount":   len(outcomes) - successes,
	}
}
