// Package tools provides the builtin tool registry workers call through the
// ToolInvoker port. Every file and process operation is confined to one
// workspace directory.
package tools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/hugo-lorenzo-mato/taskforge/internal/core"
	"github.com/hugo-lorenzo-mato/taskforge/internal/logging"
)

// Func executes one tool call.
type Func func(ctx context.Context, args map[string]any) (any, error)

// Tool is a registered tool.
type Tool struct {
	Name        string
	Description string
	Parameters  json.RawMessage
	Run         Func
}

// Registry implements core.ToolInvoker.
type Registry struct {
	mu     sync.RWMutex
	tools  map[string]Tool
	logger *logging.Logger
}

// NewRegistry creates an empty registry.
func NewRegistry(logger *logging.Logger) *Registry {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Registry{tools: make(map[string]Tool), logger: logger}
}

// Register adds or replaces a tool.
func (r *Registry) Register(t Tool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tools[t.Name] = t
}

// Names returns the registered tool names, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.tools))
	for name := range r.tools {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Invoke implements core.ToolInvoker.
func (r *Registry) Invoke(ctx context.Context, name string, args map[string]any) (any, error) {
	r.mu.RLock()
	t, ok := r.tools[name]
	r.mu.RUnlock()
	if !ok {
		return nil, core.ErrNotFound("tool", name)
	}
	if args == nil {
		args = map[string]any{}
	}

	r.logger.Debug("tool: invoking", "tool", name)
	out, err := t.Run(ctx, args)
	if err == nil {
		return out, nil
	}

	r.logger.Debug("tool: failed", "tool", name, "error", err)
	var domainErr *core.DomainError
	if errors.As(err, &domainErr) || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return nil, err
	}
	return nil, core.ErrExecution(core.CodeToolFailed, fmt.Sprintf("%s: %v", name, err)).WithCause(err)
}

// Specs implements core.ToolInvoker. Unknown names are skipped.
func (r *Registry) Specs(names []string) []core.ToolSpec {
	r.mu.RLock()
	defer r.mu.RUnlock()

	specs := make([]core.ToolSpec, 0, len(names))
	for _, name := range names {
		if t, ok := r.tools[name]; ok {
			specs = append(specs, core.ToolSpec{Name: t.Name, Description: t.Description, Parameters: t.Parameters})
		}
	}
	sort.Slice(specs, func(i, j int) bool { return specs[i].Name < specs[j].Name })
	return specs
}
