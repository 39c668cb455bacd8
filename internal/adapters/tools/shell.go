package tools

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"runtime"
	"time"

	"github.com/hugo-lorenzo-mato/taskforge/internal/adapters/cli"
	"github.com/hugo-lorenzo-mato/taskforge/internal/core"
	"github.com/hugo-lorenzo-mato/taskforge/internal/service"
)

const (
	defaultShellTimeout = 120 * time.Second
	minShellTimeout     = 1
	maxShellTimeout     = 600
	maxShellOutput      = 64 * 1024
	shellGracePeriod    = 2 * time.Second
)

func (b *Builtin) shell(ctx context.Context, args map[string]any) (any, error) {
	command, err := requiredString(args, "command")
	if err != nil {
		return nil, err
	}
	if IsDangerousCommand(command) {
		return nil, sandboxViolation("command blocked by safety rules")
	}
	seconds, err := optionalInt(args, "timeout", int(b.opts.ShellTimeout/time.Second))
	if err != nil {
		return nil, err
	}
	timeout := time.Duration(clamp(seconds, minShellTimeout, maxShellTimeout)) * time.Second

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	name, flag := "sh", "-c"
	if runtime.GOOS == "windows" {
		name, flag = "cmd", "/C"
	}
	// #nosec G204 -- worker commands are screened by IsDangerousCommand
	cmd := exec.CommandContext(ctx, name, flag, command)
	cmd.Dir = b.ws.Dir()
	cli.PrepareCommand(cmd, shellGracePeriod)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	start := time.Now()
	runErr := cmd.Run()
	duration := time.Since(start)

	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return nil, core.ErrTimeout(core.CodeToolFailed, fmt.Sprintf("shell command timed out after %v", timeout))
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return nil, ctxErr
	}

	exitCode := 0
	if runErr != nil {
		var exitErr *exec.ExitError
		if !errors.As(runErr, &exitErr) {
			return nil, fmt.Errorf("running shell: %w", runErr)
		}
		exitCode = exitErr.ExitCode()
	}

	return map[string]any{
		"exit_code":   exitCode,
		"stdout":      service.Truncate(stdout.String(), maxShellOutput),
		"stderr":      service.Truncate(stderr.String(), maxShellOutput),
		"duration_ms": duration.Milliseconds(),
	}, nil
}
