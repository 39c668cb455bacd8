package core

import (
	"context"
	"encoding/json"
)

// =============================================================================
// Oracle Port
// =============================================================================

// OracleRole selects which decision the oracle is asked to make.
type OracleRole string

const (
	RolePlan     OracleRole = "plan"
	RoleEvaluate OracleRole = "evaluate"
	RoleRecover  OracleRole = "recover"
)

// OracleRequest is a role plus a context tree.
type OracleRequest struct {
	Role    OracleRole
	Context map[string]any
}

// OracleResponse is free text expected to contain one JSON object.
type OracleResponse struct {
	Text       string
	TokensUsed int
}

// Oracle makes planning, evaluation and recovery judgments. Every caller has
// a deterministic fallback for errors and unparseable responses.
type Oracle interface {
	Ask(ctx context.Context, req OracleRequest) (*OracleResponse, error)
}

// =============================================================================
// Reasoner Port
// =============================================================================

// Message is one turn of a worker conversation.
type Message struct {
	Role    string `json:"role"` // "system", "user", "assistant", "tool"
	Content string `json:"content"`
}

// ToolCall is a tool invocation requested by the reasoner.
type ToolCall struct {
	Name      string         `json:"name"`
	Arguments map[string]any `json:"arguments"`
}

// ReasonRequest is one worker turn.
type ReasonRequest struct {
	Worker       string
	Model        string
	SystemPrompt string
	Messages     []Message
	Tools        []ToolSpec
}

// ReasonResponse is the reasoner's reply for one turn. Done means the
// reasoner considers the task complete.
type ReasonResponse struct {
	Content    string
	ToolCalls  []ToolCall
	Done       bool
	TokensUsed int
}

// Reasoner performs the internal reasoning of a running worker.
type Reasoner interface {
	Reason(ctx context.Context, req ReasonRequest) (*ReasonResponse, error)
}

// =============================================================================
// Tool Port
// =============================================================================

// ToolSpec describes a callable tool to the reasoner.
type ToolSpec struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Parameters  json.RawMessage `json:"parameters,omitempty"`
}

// ToolInvoker is the named callable registry supplied by the caller.
type ToolInvoker interface {
	Invoke(ctx context.Context, name string, args map[string]any) (any, error)
	Specs(names []string) []ToolSpec
}

// =============================================================================
// Progress Port
// =============================================================================

// ProgressSink receives an append-only stream of state transitions.
type ProgressSink interface {
	Emit(ctx context.Context, eventType string, payload map[string]any) error
}

// ProgressFunc adapts a function to ProgressSink.
type ProgressFunc func(ctx context.Context, eventType string, payload map[string]any) error

// Emit calls f.
func (f ProgressFunc) Emit(ctx context.Context, eventType string, payload map[string]any) error {
	return f(ctx, eventType, payload)
}
