// Package fsutil confines file access to a workspace directory.
package fsutil

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

// ErrOutsideWorkspace is returned for paths that leave the workspace.
var ErrOutsideWorkspace = errors.New("path is outside the workspace")

// Workspace scopes reads and writes to one directory tree. Access goes
// through os.Root, so symlinks cannot escape it either.
type Workspace struct {
	dir  string
	root *os.Root
}

// OpenWorkspace opens dir as a workspace.
func OpenWorkspace(dir string) (*Workspace, error) {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("resolving workspace: %w", err)
	}
	root, err := os.OpenRoot(abs)
	if err != nil {
		return nil, fmt.Errorf("opening workspace: %w", err)
	}
	return &Workspace{dir: abs, root: root}, nil
}

// Dir returns the absolute workspace directory.
func (w *Workspace) Dir() string {
	return w.dir
}

// Rel converts an absolute or workspace-relative path into a clean
// workspace-relative one.
func (w *Workspace) Rel(path string) (string, error) {
	if strings.TrimSpace(path) == "" {
		return "", fmt.Errorf("invalid file path: %q", path)
	}
	if !filepath.IsAbs(path) {
		path = filepath.Join(w.dir, path)
	}
	rel, err := filepath.Rel(w.dir, filepath.Clean(path))
	if err != nil {
		return "", ErrOutsideWorkspace
	}
	if rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", ErrOutsideWorkspace
	}
	return rel, nil
}

// ReadFile reads a file inside the workspace.
func (w *Workspace) ReadFile(path string) ([]byte, error) {
	rel, err := w.Rel(path)
	if err != nil {
		return nil, err
	}
	f, err := w.root.Open(rel)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return io.ReadAll(f)
}

// WriteFile writes a file inside the workspace, creating parent directories.
func (w *Workspace) WriteFile(path string, data []byte, perm os.FileMode) error {
	rel, err := w.Rel(path)
	if err != nil {
		return err
	}
	if rel == "." {
		return fmt.Errorf("invalid file path: %q", path)
	}
	if err := w.mkdirAll(filepath.Dir(rel)); err != nil {
		return err
	}
	f, err := w.root.OpenFile(rel, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, perm)
	if err != nil {
		return err
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

func (w *Workspace) mkdirAll(rel string) error {
	if rel == "." || rel == "" {
		return nil
	}
	current := ""
	for _, part := range strings.Split(rel, string(filepath.Separator)) {
		current = filepath.Join(current, part)
		if err := w.root.Mkdir(current, 0o755); err != nil && !errors.Is(err, fs.ErrExist) {
			return err
		}
	}
	return nil
}

// Stat describes a file inside the workspace.
func (w *Workspace) Stat(path string) (fs.FileInfo, error) {
	rel, err := w.Rel(path)
	if err != nil {
		return nil, err
	}
	return w.root.Stat(rel)
}

// FS exposes the workspace as a read-only fs.FS.
func (w *Workspace) FS() fs.FS {
	return w.root.FS()
}

// Close releases the workspace root.
func (w *Workspace) Close() error {
	return w.root.Close()
}
