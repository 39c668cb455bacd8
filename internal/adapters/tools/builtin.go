package tools

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"net/http"
	"regexp"
	"strings"
	"time"

	"github.com/bmatcuk/doublestar/v4"

	"github.com/hugo-lorenzo-mato/taskforge/internal/core"
	"github.com/hugo-lorenzo-mato/taskforge/internal/fsutil"
	"github.com/hugo-lorenzo-mato/taskforge/internal/logging"
)

// Builtin tool names.
const (
	ToolReadFile  = "read_file"
	ToolWriteFile = "write_file"
	ToolGlobFiles = "glob_files"
	ToolGrepFiles = "grep_files"
	ToolShell     = "shell"
	ToolWebFetch  = "web_fetch"
)

const (
	defaultReadLimit = 2000
	maxReadLimit     = 10000
	defaultGlobLimit = 100
	maxGlobLimit     = 500
	maxGrepMatches   = 200
	maxGrepFileSize  = 1 << 20
)

// Options configures the builtin tools.
type Options struct {
	Workspace    string
	AllowWrite   bool
	ShellTimeout time.Duration
	FetchTimeout time.Duration
	HTTPClient   *http.Client
}

// Builtin holds the state shared by the builtin tools.
type Builtin struct {
	ws   *fsutil.Workspace
	opts Options
}

// NewBuiltin opens the workspace and registers every builtin tool on a new
// registry. Close the returned Builtin when done.
func NewBuiltin(opts Options, logger *logging.Logger) (*Registry, *Builtin, error) {
	if opts.Workspace == "" {
		opts.Workspace = "."
	}
	if opts.ShellTimeout <= 0 {
		opts.ShellTimeout = defaultShellTimeout
	}
	if opts.FetchTimeout <= 0 {
		opts.FetchTimeout = defaultFetchTimeout
	}
	if opts.HTTPClient == nil {
		opts.HTTPClient = &http.Client{}
	}

	ws, err := fsutil.OpenWorkspace(opts.Workspace)
	if err != nil {
		return nil, nil, err
	}
	b := &Builtin{ws: ws, opts: opts}

	reg := NewRegistry(logger)
	reg.Register(Tool{
		Name:        ToolReadFile,
		Description: "Read lines of a workspace file. Optional offset (1-based line) and limit.",
		Parameters:  schema(`{"path": {"type": "string"}, "offset": {"type": "integer"}, "limit": {"type": "integer"}}`, "path"),
		Run:         b.readFile,
	})
	reg.Register(Tool{
		Name:        ToolWriteFile,
		Description: "Write content to a workspace file, creating parent directories.",
		Parameters:  schema(`{"path": {"type": "string"}, "content": {"type": "string"}}`, "path", "content"),
		Run:         b.writeFile,
	})
	reg.Register(Tool{
		Name:        ToolGlobFiles,
		Description: "List workspace files matching a glob pattern such as **/*.go.",
		Parameters:  schema(`{"pattern": {"type": "string"}, "limit": {"type": "integer"}}`, "pattern"),
		Run:         b.globFiles,
	})
	reg.Register(Tool{
		Name:        ToolGrepFiles,
		Description: "Search workspace files for a regular expression. Optional include glob.",
		Parameters:  schema(`{"pattern": {"type": "string"}, "include": {"type": "string"}, "ignore_case": {"type": "boolean"}}`, "pattern"),
		Run:         b.grepFiles,
	})
	reg.Register(Tool{
		Name:        ToolShell,
		Description: "Run a shell command in the workspace. Optional timeout in seconds.",
		Parameters:  schema(`{"command": {"type": "string"}, "timeout": {"type": "integer"}}`, "command"),
		Run:         b.shell,
	})
	reg.Register(Tool{
		Name:        ToolWebFetch,
		Description: "Fetch an http or https URL. Optional timeout in seconds.",
		Parameters:  schema(`{"url": {"type": "string"}, "timeout": {"type": "integer"}}`, "url"),
		Run:         b.webFetch,
	})
	return reg, b, nil
}

// Workspace returns the workspace directory.
func (b *Builtin) Workspace() string {
	return b.ws.Dir()
}

// Close releases the workspace.
func (b *Builtin) Close() error {
	return b.ws.Close()
}

func schema(properties string, required ...string) json.RawMessage {
	req, _ := json.Marshal(required)
	return json.RawMessage(fmt.Sprintf(`{"type": "object", "properties": %s, "required": %s}`, properties, req))
}

func (b *Builtin) workspaceError(path string, err error) error {
	if errors.Is(err, fsutil.ErrOutsideWorkspace) {
		return sandboxViolation(fmt.Sprintf("access denied to %s: outside workspace", path))
	}
	return err
}

func (b *Builtin) readFile(_ context.Context, args map[string]any) (any, error) {
	path, err := requiredString(args, "path")
	if err != nil {
		return nil, err
	}
	offset, err := optionalInt(args, "offset", 1)
	if err != nil {
		return nil, err
	}
	limit, err := optionalInt(args, "limit", defaultReadLimit)
	if err != nil {
		return nil, err
	}
	offset = max(offset, 1)
	limit = clamp(limit, 1, maxReadLimit)

	data, err := b.ws.ReadFile(path)
	if err != nil {
		return nil, b.workspaceError(path, err)
	}

	lines := strings.Split(string(data), "\n")
	if len(lines) > 0 && lines[len(lines)-1] == "" {
		lines = lines[:len(lines)-1]
	}
	total := len(lines)
	start := min(offset-1, total)
	end := min(start+limit, total)

	return map[string]any{
		"path":        path,
		"content":     strings.Join(lines[start:end], "\n"),
		"offset":      start + 1,
		"lines":       end - start,
		"total_lines": total,
		"truncated":   end < total,
	}, nil
}

func (b *Builtin) writeFile(_ context.Context, args map[string]any) (any, error) {
	if !b.opts.AllowWrite {
		return nil, core.ErrValidation(core.CodeToolNotAllowed, "write_file is disabled for this workspace")
	}
	path, err := requiredString(args, "path")
	if err != nil {
		return nil, err
	}
	content, ok := args["content"].(string)
	if !ok {
		return nil, invalidArg("content", "is required")
	}

	rel, err := b.ws.Rel(path)
	if err != nil {
		return nil, b.workspaceError(path, err)
	}
	if IsSensitivePath(rel) {
		return nil, sandboxViolation(fmt.Sprintf("refusing to write sensitive file %s", rel))
	}
	if err := b.ws.WriteFile(rel, []byte(content), 0o644); err != nil {
		return nil, b.workspaceError(path, err)
	}
	return map[string]any{"path": rel, "bytes": len(content)}, nil
}

func (b *Builtin) globFiles(_ context.Context, args map[string]any) (any, error) {
	pattern, err := requiredString(args, "pattern")
	if err != nil {
		return nil, err
	}
	if !doublestar.ValidatePattern(pattern) {
		return nil, invalidArg("pattern", "is not a valid glob")
	}
	limit, err := optionalInt(args, "limit", defaultGlobLimit)
	if err != nil {
		return nil, err
	}
	limit = clamp(limit, 1, maxGlobLimit)

	fsys := b.ws.FS()
	matches, err := doublestar.Glob(fsys, strings.TrimPrefix(pattern, "./"))
	if err != nil {
		return nil, err
	}

	files := make([]string, 0, min(len(matches), limit))
	truncated := false
	for _, m := range matches {
		info, err := fs.Stat(fsys, m)
		if err != nil || info.IsDir() {
			continue
		}
		if len(files) == limit {
			truncated = true
			break
		}
		files = append(files, m)
	}
	return map[string]any{"files": files, "count": len(files), "truncated": truncated}, nil
}

func (b *Builtin) grepFiles(ctx context.Context, args map[string]any) (any, error) {
	pattern, err := requiredString(args, "pattern")
	if err != nil {
		return nil, err
	}
	if optionalBool(args, "ignore_case") {
		pattern = "(?i)" + pattern
	}
	re, err := regexp.Compile(pattern)
	if err != nil {
		return nil, invalidArg("pattern", "is not a valid regular expression")
	}
	include := optionalString(args, "include")
	if include != "" && !doublestar.ValidatePattern(include) {
		return nil, invalidArg("include", "is not a valid glob")
	}

	fsys := b.ws.FS()
	var matches []string
	truncated := false
	err = fs.WalkDir(fsys, ".", func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		if d.IsDir() {
			if path != "." && (d.Name() == ".git" || d.Name() == "node_modules") {
				return fs.SkipDir
			}
			return nil
		}
		if include != "" {
			if ok, _ := doublestar.Match(include, path); !ok {
				return nil
			}
		}
		info, err := d.Info()
		if err != nil || info.Size() > maxGrepFileSize {
			return nil
		}
		data, err := fs.ReadFile(fsys, path)
		if err != nil || bytes.IndexByte(data, 0) >= 0 {
			return nil
		}

		scanner := bufio.NewScanner(bytes.NewReader(data))
		scanner.Buffer(make([]byte, 0, 64*1024), maxGrepFileSize)
		for line := 1; scanner.Scan(); line++ {
			if re.MatchString(scanner.Text()) {
				matches = append(matches, fmt.Sprintf("%s:%d: %s", path, line, strings.TrimSpace(scanner.Text())))
				if len(matches) == maxGrepMatches {
					truncated = true
					return fs.SkipAll
				}
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return map[string]any{"matches": matches, "count": len(matches), "truncated": truncated}, nil
}
