package core

import (
	"fmt"
	"slices"
	"strings"
	"time"
)

// ExecutionMode selects how a worker is driven to completion.
type ExecutionMode string

const (
	ModeAutonomous    ExecutionMode = "autonomous"
	ModeSingleShot    ExecutionMode = "single-shot"
	ModeIterativeLoop ExecutionMode = "iterative-loop"
)

// ParseExecutionMode maps a header value (including the short aliases
// react, single and loop) to an ExecutionMode.
func ParseExecutionMode(s string) (ExecutionMode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "autonomous", "react":
		return ModeAutonomous, nil
	case "single-shot", "single_shot", "single":
		return ModeSingleShot, nil
	case "iterative-loop", "iterative_loop", "loop":
		return ModeIterativeLoop, nil
	default:
		return ModeAutonomous, fmt.Errorf("unknown execution mode %q", s)
	}
}

// Worker defaults.
const (
	DefaultMaxIterations = 10
	DefaultWorkerTimeout = 300 * time.Second
)

// WorkerConfig is an immutable worker definition owned by the catalog.
type WorkerConfig struct {
	Name             string
	Description      string
	CapabilityPrompt string
	AllowedTools     []string
	Mode             ExecutionMode
	MaxIterations    int
	Timeout          time.Duration
	Model            string
	Tags             []string
	Fallback         string
	CompletionCheck  string
	SourcePath       string
}

// AllowsTool reports whether the worker may invoke the named tool.
func (c *WorkerConfig) AllowsTool(name string) bool {
	return slices.Contains(c.AllowedTools, name)
}

// Summary returns the catalog view of the worker.
func (c *WorkerConfig) Summary() WorkerSummary {
	return WorkerSummary{
		Name:        c.Name,
		Description: c.Description,
		Tools:       append([]string(nil), c.AllowedTools...),
		Mode:        c.Mode,
		Tags:        append([]string(nil), c.Tags...),
	}
}

// WorkerSummary is what the planner sees of a worker.
type WorkerSummary struct {
	Name        string        `json:"name"`
	Description string        `json:"description"`
	Tools       []string      `json:"tools,omitempty"`
	Mode        ExecutionMode `json:"mode"`
	Tags        []string      `json:"tags,omitempty"`
}

// Skill is a named domain capability advertised to the planner.
type Skill struct {
	Name        string   `json:"name"`
	Description string   `json:"description"`
	Tags        []string `json:"tags,omitempty"`
}

// WorkerStatus is the terminal state of one worker run.
type WorkerStatus string

const (
	WorkerPending   WorkerStatus = "pending"
	WorkerRunning   WorkerStatus = "running"
	WorkerSuccess   WorkerStatus = "success"
	WorkerPartial   WorkerStatus = "partial"
	WorkerFailed    WorkerStatus = "failed"
	WorkerTimeout   WorkerStatus = "timeout"
	WorkerCancelled WorkerStatus = "cancelled"
)

// ErrorKind classifies why a worker or phase did not succeed.
type ErrorKind string

const (
	KindTimeout    ErrorKind = "timeout"
	KindCancelled  ErrorKind = "cancelled"
	KindFailed     ErrorKind = "failed"
	KindToolError  ErrorKind = "tool_error"
	KindDependency ErrorKind = "dependency"
	KindAborted    ErrorKind = "aborted"
)

// ErrorInfo is an error captured as data on a result.
type ErrorInfo struct {
	Kind    ErrorKind `json:"kind"`
	Message string    `json:"message"`
}

func (e *ErrorInfo) String() string {
	if e == nil {
		return ""
	}
	return string(e.Kind) + ": " + e.Message
}

// WorkerTask is one assignment handed to an execution strategy.
type WorkerTask struct {
	ID          string
	WorkerName  string
	Description string
	Input       map[string]any
	Context     map[string]any
}

// WorkerResult is produced once by a strategy and never mutated afterwards.
type WorkerResult struct {
	WorkerName     string       `json:"worker_name"`
	Status         WorkerStatus `json:"status"`
	Output         any          `json:"output,omitempty"`
	IterationsUsed int          `json:"iterations_used"`
	TokensUsed     int          `json:"tokens_used"`
	DurationMS     int64        `json:"duration_ms"`
	Error          *ErrorInfo   `json:"error,omitempty"`
}

// Succeeded reports whether the worker finished with status success.
func (r WorkerResult) Succeeded() bool {
	return r.Status == WorkerSuccess
}

// ErrorText returns the captured error message, if any.
func (r WorkerResult) ErrorText() string {
	if r.Error == nil {
		return ""
	}
	return r.Error.Message
}

// ToMap renders the result for the variable context.
func (r WorkerResult) ToMap() map[string]any {
	m := map[string]any{
		"status":          string(r.Status),
		"output":          r.Output,
		"iterations_used": r.IterationsUsed,
		"tokens_used":     r.TokensUsed,
		"duration_ms":     r.DurationMS,
	}
	if r.Error != nil {
		m["error"] = map[string]any{"kind": string(r.Error.Kind), "message": r.Error.Message}
	} else {
		m["error"] = nil
	}
	return m
}

// FailedResult builds a failed WorkerResult.
func FailedResult(worker string, kind ErrorKind, message string, elapsed time.Duration) WorkerResult {
	status := WorkerFailed
	switch kind {
	case KindTimeout:
		status = WorkerTimeout
	case KindCancelled:
		status = WorkerCancelled
	}
	return WorkerResult{
		WorkerName: worker,
		Status:     status,
		DurationMS: elapsed.Milliseconds(),
		Error:      &ErrorInfo{Kind: kind, Message: message},
	}
}
