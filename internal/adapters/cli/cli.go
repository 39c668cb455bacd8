// Package cli implements the Oracle and Reasoner ports on top of an external
// LLM command-line tool. The prompt is written to the tool's stdin and its
// stdout is taken as the model's reply.
package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"time"

	"github.com/hugo-lorenzo-mato/taskforge/internal/core"
	"github.com/hugo-lorenzo-mato/taskforge/internal/logging"
	"github.com/hugo-lorenzo-mato/taskforge/internal/service"
)

// Error codes returned by the adapter.
const (
	CodeCommandFailed  = "COMMAND_FAILED"
	CodeCommandTimeout = "COMMAND_TIMEOUT"
	CodeNoPath         = "NO_PATH"
)

const (
	defaultTimeout     = 10 * time.Minute
	defaultGracePeriod = 5 * time.Second
)

// Config describes the external command.
type Config struct {
	Name        string
	Path        string
	Args        []string
	Model       string
	ModelFlag   string // e.g. "--model"; empty means the model is not passed
	WorkDir     string
	Timeout     time.Duration
	GracePeriod time.Duration
	Env         map[string]string
}

// Adapter runs one command per oracle or reasoner call. It is safe for
// concurrent use.
type Adapter struct {
	cfg      Config
	renderer *service.PromptRenderer
	logger   *logging.Logger
}

// New creates an adapter.
func New(cfg Config, renderer *service.PromptRenderer, logger *logging.Logger) (*Adapter, error) {
	if strings.TrimSpace(cfg.Path) == "" {
		return nil, core.ErrValidation(CodeNoPath, "cli path not configured")
	}
	if renderer == nil {
		return nil, core.ErrValidation(core.CodeInvalidConfig, "prompt renderer is required")
	}
	if cfg.Name == "" {
		cfg.Name = cfg.Path
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	if cfg.GracePeriod <= 0 {
		cfg.GracePeriod = defaultGracePeriod
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Adapter{cfg: cfg, renderer: renderer, logger: logger.With("adapter", cfg.Name)}, nil
}

// Ask implements core.Oracle.
func (a *Adapter) Ask(ctx context.Context, req core.OracleRequest) (*core.OracleResponse, error) {
	prompt, err := a.renderer.RenderOracle(req)
	if err != nil {
		return nil, err
	}
	input := prompt.System + "\n\n" + prompt.User

	result, err := a.execute(ctx, input, a.cfg.Model)
	if err != nil {
		return nil, err
	}
	return &core.OracleResponse{
		Text:       result.Stdout,
		TokensUsed: tokenEstimate(input) + tokenEstimate(result.Stdout),
	}, nil
}

// Reason implements core.Reasoner.
func (a *Adapter) Reason(ctx context.Context, req core.ReasonRequest) (*core.ReasonResponse, error) {
	system, err := a.renderer.WorkerSystemPrompt(req.SystemPrompt, req.Tools)
	if err != nil {
		return nil, err
	}
	input := transcript(system, req.Messages)

	model := req.Model
	if model == "" {
		model = a.cfg.Model
	}
	result, err := a.execute(ctx, input, model)
	if err != nil {
		return nil, err
	}

	resp := service.ParseWorkerReply(result.Stdout)
	resp.TokensUsed = tokenEstimate(input) + tokenEstimate(result.Stdout)
	return &resp, nil
}

// transcript flattens a conversation for a tool that takes a single prompt.
func transcript(system string, messages []core.Message) string {
	var b strings.Builder
	b.WriteString("## system\n\n")
	b.WriteString(system)
	for _, m := range messages {
		b.WriteString("\n\n## ")
		b.WriteString(m.Role)
		b.WriteString("\n\n")
		b.WriteString(m.Content)
	}
	b.WriteString("\n")
	return b.String()
}

type commandResult struct {
	Stdout   string
	Stderr   string
	ExitCode int
	Duration time.Duration
}

func (a *Adapter) execute(ctx context.Context, stdin, model string) (*commandResult, error) {
	ctx, cancel := context.WithTimeout(ctx, a.cfg.Timeout)
	defer cancel()

	cmdPath := a.cfg.Path
	var args []string
	// Multi-word paths such as "gh copilot".
	if parts := strings.Fields(cmdPath); len(parts) > 1 {
		cmdPath = parts[0]
		args = append(args, parts[1:]...)
	}
	args = append(args, a.cfg.Args...)
	if a.cfg.ModelFlag != "" && model != "" {
		args = append(args, a.cfg.ModelFlag, model)
	}

	// #nosec G204 -- command path and args come from validated config
	cmd := exec.CommandContext(ctx, cmdPath, args...)
	cmd.Dir = a.cfg.WorkDir
	cmd.Stdin = strings.NewReader(stdin)
	PrepareCommand(cmd, a.cfg.GracePeriod)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	cmd.Env = append(os.Environ(), "TASKFORGE_MANAGED=true", "TASKFORGE_ADAPTER="+a.cfg.Name)
	for k, v := range a.cfg.Env {
		cmd.Env = append(cmd.Env, k+"="+v)
	}

	a.logger.Debug("cli: executing command",
		"path", cmdPath,
		"args", args,
		"stdin_length", len(stdin),
		"timeout", a.cfg.Timeout,
	)

	start := time.Now()
	err := cmd.Run()
	result := &commandResult{
		Stdout:   stdout.String(),
		Stderr:   stderr.String(),
		Duration: time.Since(start),
	}

	switch {
	case errors.Is(ctx.Err(), context.DeadlineExceeded):
		a.logger.Warn("cli: command timeout", "duration", result.Duration, "timeout", a.cfg.Timeout)
		return result, core.ErrTimeout(CodeCommandTimeout,
			fmt.Sprintf("%s timed out after %v", a.cfg.Name, a.cfg.Timeout))
	case errors.Is(ctx.Err(), context.Canceled):
		return result, core.ErrCancelled(a.cfg.Name + " cancelled")
	}

	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			result.ExitCode = exitErr.ExitCode()
			a.logger.Warn("cli: command failed",
				"exit_code", result.ExitCode,
				"duration", result.Duration,
				"stderr", service.Truncate(a.logger.Sanitize(result.Stderr), 2000),
			)
			return result, a.classifyError(result)
		}
		return result, fmt.Errorf("executing %s: %w", a.cfg.Name, err)
	}

	a.logger.Debug("cli: command completed",
		"duration", result.Duration,
		"stdout_length", len(result.Stdout),
	)
	return result, nil
}

// classifyError keeps the tool's own message so recovery can recognize rate
// limits and authentication failures in it.
func (a *Adapter) classifyError(result *commandResult) error {
	msg := strings.TrimSpace(result.Stderr)
	if msg == "" {
		msg = errorFromOutput(result.Stdout)
	}
	if msg == "" {
		msg = "(no error message captured)"
	}
	return core.ErrExecution(CodeCommandFailed,
		fmt.Sprintf("%s exited with code %d: %s", a.cfg.Name, result.ExitCode, service.Truncate(msg, 500)))
}

// errorFromOutput finds an error in stdout, preferring JSON error objects.
func errorFromOutput(stdout string) string {
	lines := strings.Split(stdout, "\n")
	for i := len(lines) - 1; i >= 0; i-- {
		line := strings.TrimSpace(lines[i])
		if !strings.HasPrefix(line, "{") {
			continue
		}
		var obj map[string]any
		if err := json.Unmarshal([]byte(line), &obj); err != nil {
			continue
		}
		if msg, ok := obj["error"].(string); ok && msg != "" {
			return msg
		}
		if nested, ok := obj["error"].(map[string]any); ok {
			if msg, ok := nested["message"].(string); ok && msg != "" {
				return msg
			}
		}
	}
	for i := len(lines) - 1; i >= 0; i-- {
		if line := strings.TrimSpace(lines[i]); line != "" {
			return line
		}
	}
	return ""
}

// PrepareCommand runs cmd in its own process group and makes context
// cancellation terminate the whole group: SIGTERM first, SIGKILL after grace.
func PrepareCommand(cmd *exec.Cmd, grace time.Duration) {
	if grace <= 0 {
		grace = defaultGracePeriod
	}
	configureProcAttr(cmd)
	cmd.Cancel = func() error {
		return terminateGroup(cmd, grace)
	}
	cmd.WaitDelay = grace + time.Second
}

// tokenEstimate approximates four characters per token.
func tokenEstimate(text string) int {
	return len(text) / 4
}
