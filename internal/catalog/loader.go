package catalog

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/bmatcuk/doublestar/v4"
	"gopkg.in/yaml.v3"

	"github.com/hugo-lorenzo-mato/taskforge/internal/core"
	"github.com/hugo-lorenzo-mato/taskforge/internal/logging"
)

// DefaultInclude matches every markdown record below the catalog directory.
var DefaultInclude = []string{"**/*.md"}

// LoadIssue records a worker or skill file that was skipped.
type LoadIssue struct {
	Path string
	Err  error
}

func (i LoadIssue) String() string {
	return i.Path + ": " + i.Err.Error()
}

// Loader reads worker records from a directory tree.
type Loader struct {
	dir       string
	skillsDir string
	include   []string
	logger    *logging.Logger
}

// LoaderOption configures a Loader.
type LoaderOption func(*Loader)

// WithSkillsDir sets the directory scanned for */SKILL.md records.
func WithSkillsDir(dir string) LoaderOption {
	return func(l *Loader) { l.skillsDir = dir }
}

// WithInclude sets the doublestar patterns selecting worker files.
func WithInclude(patterns ...string) LoaderOption {
	return func(l *Loader) {
		if len(patterns) > 0 {
			l.include = patterns
		}
	}
}

// WithLogger sets the logger.
func WithLogger(logger *logging.Logger) LoaderOption {
	return func(l *Loader) {
		if logger != nil {
			l.logger = logger
		}
	}
}

// NewLoader creates a loader for dir.
func NewLoader(dir string, opts ...LoaderOption) *Loader {
	l := &Loader{
		dir:     dir,
		include: DefaultInclude,
		logger:  logging.NewNop(),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Dir returns the worker directory.
func (l *Loader) Dir() string {
	return l.dir
}

// SkillsDir returns the skills directory, if any.
func (l *Loader) SkillsDir() string {
	return l.skillsDir
}

// Matches reports whether a path relative to the worker directory is a
// worker record.
func (l *Loader) Matches(rel string) bool {
	rel = filepath.ToSlash(rel)
	for _, pattern := range l.include {
		if ok, _ := doublestar.Match(pattern, rel); ok {
			return true
		}
	}
	return false
}

// Load reads every record. Header failures are reported as issues and the
// record skipped; only an unreadable directory is an error. A missing
// directory yields an empty catalog.
func (l *Loader) Load() (*Catalog, []LoadIssue, error) {
	var issues []LoadIssue

	workers, workerIssues, err := l.loadWorkers()
	if err != nil {
		return nil, nil, err
	}
	issues = append(issues, workerIssues...)

	skills, skillIssues := l.loadSkills()
	issues = append(issues, skillIssues...)

	for _, issue := range issues {
		l.logger.Warn("catalog: skipped record", "path", issue.Path, "error", issue.Err)
	}

	cat := New(workers, skills)
	l.logger.Info("catalog: loaded",
		"dir", l.dir,
		"workers", cat.Len(),
		"skills", len(skills),
		"skipped", len(issues),
	)
	return cat, issues, nil
}

func (l *Loader) loadWorkers() ([]*core.WorkerConfig, []LoadIssue, error) {
	info, err := os.Stat(l.dir)
	if errors.Is(err, fs.ErrNotExist) {
		l.logger.Warn("catalog: worker directory does not exist", "dir", l.dir)
		return nil, nil, nil
	}
	if err != nil {
		return nil, nil, fmt.Errorf("reading worker directory: %w", err)
	}
	if !info.IsDir() {
		return nil, nil, fmt.Errorf("worker path %s is not a directory", l.dir)
	}

	paths, err := l.matchFiles()
	if err != nil {
		return nil, nil, err
	}

	var (
		workers []*core.WorkerConfig
		issues  []LoadIssue
		seen    = make(map[string]string)
	)
	for _, rel := range paths {
		full := filepath.Join(l.dir, filepath.FromSlash(rel))
		data, err := os.ReadFile(full)
		if err != nil {
			issues = append(issues, LoadIssue{Path: full, Err: err})
			continue
		}
		cfg, err := ParseWorker(full, string(data), l.logger)
		if err != nil {
			issues = append(issues, LoadIssue{Path: full, Err: err})
			continue
		}
		if first, dup := seen[cfg.Name]; dup {
			issues = append(issues, LoadIssue{
				Path: full,
				Err:  fmt.Errorf("duplicate worker name %q (first defined in %s)", cfg.Name, first),
			})
			continue
		}
		seen[cfg.Name] = full
		workers = append(workers, cfg)
	}
	return workers, issues, nil
}

func (l *Loader) matchFiles() ([]string, error) {
	fsys := os.DirFS(l.dir)
	set := make(map[string]bool)
	for _, pattern := range l.include {
		err := doublestar.GlobWalk(fsys, pattern, func(p string, d fs.DirEntry) error {
			if !d.IsDir() {
				set[p] = true
			}
			return nil
		})
		if err != nil {
			return nil, fmt.Errorf("matching %q: %w", pattern, err)
		}
	}
	paths := make([]string, 0, len(set))
	for p := range set {
		paths = append(paths, p)
	}
	sort.Strings(paths)
	return paths, nil
}

// ParseWorker parses one worker record. The body is used verbatim as the
// capability prompt.
func ParseWorker(filePath, content string, logger *logging.Logger) (*core.WorkerConfig, error) {
	if logger == nil {
		logger = logging.NewNop()
	}

	headerText, body, ok := splitFrontmatter(content)
	if !ok {
		return nil, fmt.Errorf("missing --- delimited header")
	}

	var h workerHeader
	if err := yaml.Unmarshal([]byte(headerText), &h); err != nil {
		return nil, fmt.Errorf("parsing header: %w", err)
	}

	name := strings.TrimSpace(h.Name)
	if name == "" {
		name = strings.TrimSuffix(path.Base(filepath.ToSlash(filePath)), path.Ext(filePath))
	}

	mode, err := core.ParseExecutionMode(h.Mode)
	if err != nil {
		logger.Warn("catalog: unknown execution mode, using autonomous",
			"worker", name, "mode", h.Mode)
	}

	maxIter := h.MaxIterations
	if maxIter == 0 {
		maxIter = h.MaxIterationsCamel
	}
	if maxIter < 0 {
		return nil, fmt.Errorf("max_iterations must be positive, got %d", maxIter)
	}
	if maxIter == 0 {
		maxIter = core.DefaultMaxIterations
	}

	timeout := time.Duration(h.Timeout)
	if timeout < 0 {
		return nil, fmt.Errorf("timeout must be positive, got %s", timeout)
	}
	if timeout == 0 {
		timeout = core.DefaultWorkerTimeout
	}

	tools := dedupe(h.Tools)
	if mode == core.ModeSingleShot && len(tools) > 0 {
		logger.Info("catalog: single-shot worker executes tools from one reply only",
			"worker", name, "tools", len(tools))
	}
	if h.CompletionCheck != "" && mode != core.ModeIterativeLoop {
		logger.Warn("catalog: completion_check only applies to iterative-loop workers", "worker", name)
	}

	return &core.WorkerConfig{
		Name:             name,
		Description:      strings.TrimSpace(h.Description),
		CapabilityPrompt: strings.TrimSpace(body),
		AllowedTools:     tools,
		Mode:             mode,
		MaxIterations:    maxIter,
		Timeout:          timeout,
		Model:            strings.TrimSpace(h.Model),
		Tags:             dedupe(h.Tags),
		Fallback:         strings.TrimSpace(h.Fallback),
		CompletionCheck:  strings.TrimSpace(h.CompletionCheck),
		SourcePath:       filePath,
	}, nil
}

func dedupe(items []string) []string {
	if len(items) == 0 {
		return nil
	}
	set := make(map[string]bool, len(items))
	out := make([]string, 0, len(items))
	for _, item := range items {
		if !set[item] {
			set[item] = true
			out = append(out, item)
		}
	}
	sort.Strings(out)
	return out
}
