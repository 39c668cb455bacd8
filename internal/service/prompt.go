package service

import (
	"bytes"
	"embed"
	"encoding/json"
	"fmt"
	"io/fs"
	"sort"
	"strings"
	"sync"
	"text/template"

	"github.com/hugo-lorenzo-mato/taskforge/internal/core"
	"github.com/hugo-lorenzo-mato/taskforge/internal/vars"
)

//go:embed prompts/*.md.tmpl
var promptsFS embed.FS

// PromptRenderer renders oracle and worker prompts from templates.
type PromptRenderer struct {
	templates map[string]*template.Template
	mu        sync.RWMutex
}

// NewPromptRenderer loads the embedded templates.
func NewPromptRenderer() (*PromptRenderer, error) {
	r := &PromptRenderer{
		templates: make(map[string]*template.Template),
	}
	if err := r.loadTemplates(); err != nil {
		return nil, fmt.Errorf("loading templates: %w", err)
	}
	return r, nil
}

func (r *PromptRenderer) loadTemplates() error {
	return fs.WalkDir(promptsFS, "prompts", func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || !strings.HasSuffix(path, ".md.tmpl") {
			return nil
		}

		content, err := promptsFS.ReadFile(path)
		if err != nil {
			return fmt.Errorf("reading %s: %w", path, err)
		}

		name := strings.TrimPrefix(path, "prompts/")
		name = strings.TrimSuffix(name, ".md.tmpl")

		tmpl, err := template.New(name).Funcs(templateFuncs()).Option("missingkey=zero").Parse(string(content))
		if err != nil {
			return fmt.Errorf("parsing template %s: %w", name, err)
		}
		r.templates[name] = tmpl
		return nil
	})
}

func templateFuncs() template.FuncMap {
	return template.FuncMap{
		"join":      joinList,
		"indent":    indent,
		"trimSpace": strings.TrimSpace,
		"toJSON":    toJSON,
		"str":       vars.Stringify,
		"add":       func(a, b int) int { return a + b },
	}
}

func indent(spaces int, s string) string {
	pad := strings.Repeat(" ", spaces)
	lines := strings.Split(s, "\n")
	for i, line := range lines {
		if line != "" {
			lines[i] = pad + line
		}
	}
	return strings.Join(lines, "\n")
}

// joinList joins a []string or []any of scalars.
func joinList(v any, sep string) string {
	switch list := v.(type) {
	case []string:
		return strings.Join(list, sep)
	case []any:
		parts := make([]string, len(list))
		for i, item := range list {
			parts[i] = vars.Stringify(item)
		}
		return strings.Join(parts, sep)
	case nil:
		return ""
	default:
		return vars.Stringify(v)
	}
}

func toJSON(v any) string {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return vars.Stringify(v)
	}
	return string(data)
}

// Render renders a template by name with the given data.
func (r *PromptRenderer) Render(name string, data any) (string, error) {
	r.mu.RLock()
	tmpl, ok := r.templates[name]
	r.mu.RUnlock()

	if !ok {
		return "", fmt.Errorf("template %q not found", name)
	}

	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("executing template %s: %w", name, err)
	}
	return strings.TrimSpace(buf.String()) + "\n", nil
}

// ListTemplates returns available template names.
func (r *PromptRenderer) ListTemplates() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.templates))
	for name := range r.templates {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// HasTemplate checks if a template exists.
func (r *PromptRenderer) HasTemplate(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.templates[name]
	return ok
}

// OraclePrompt is a rendered oracle request.
type OraclePrompt struct {
	System string
	User   string
}

// RenderOracle renders the system and user prompts for an oracle request.
// Roles without a dedicated template get the generic one.
func (r *PromptRenderer) RenderOracle(req core.OracleRequest) (OraclePrompt, error) {
	role := string(req.Role)
	systemName, userName := role+"-system", role
	if !r.HasTemplate(userName) {
		systemName, userName = "generic-system", "generic"
	}

	data := map[string]any{}
	for k, v := range req.Context {
		data[k] = v
	}
	data["role"] = role

	system, err := r.Render(systemName, data)
	if err != nil {
		return OraclePrompt{}, err
	}
	user, err := r.Render(userName, data)
	if err != nil {
		return OraclePrompt{}, err
	}
	return OraclePrompt{System: system, User: user}, nil
}

// WorkerSystemPrompt appends the tool protocol to a worker's capability
// prompt.
func (r *PromptRenderer) WorkerSystemPrompt(capability string, tools []core.ToolSpec) (string, error) {
	protocol, err := r.Render("worker-protocol", map[string]any{"Tools": tools})
	if err != nil {
		return "", err
	}
	if strings.TrimSpace(capability) == "" {
		return protocol, nil
	}
	return strings.TrimSpace(capability) + "\n\n" + protocol, nil
}

type workerReply struct {
	Content   *string         `json:"content"`
	ToolCalls []core.ToolCall `json:"tool_calls"`
	Done      *bool           `json:"done"`
}

// ParseWorkerReply interprets a reasoner reply written in the worker
// protocol. Text that is not a protocol object is a final answer.
func ParseWorkerReply(text string) core.ReasonResponse {
	final := core.ReasonResponse{Content: strings.TrimSpace(text), Done: true}

	extracted := ExtractJSON(text)
	if extracted == "" {
		return final
	}
	var reply workerReply
	if err := json.Unmarshal([]byte(extracted), &reply); err != nil {
		return final
	}
	if reply.Content == nil && reply.ToolCalls == nil && reply.Done == nil {
		return final
	}

	resp := core.ReasonResponse{ToolCalls: reply.ToolCalls}
	if reply.Content != nil {
		resp.Content = *reply.Content
	}
	switch {
	case reply.Done != nil:
		resp.Done = *reply.Done
	default:
		resp.Done = len(reply.ToolCalls) == 0
	}
	return resp
}
