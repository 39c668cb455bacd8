package catalog

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/hugo-lorenzo-mato/taskforge/internal/logging"
)

// Provider hands out the current catalog snapshot. Callers keep the snapshot
// they received for the lifetime of one task.
type Provider interface {
	Snapshot() *Catalog
}

// Snapshot makes a Catalog its own Provider.
func (c *Catalog) Snapshot() *Catalog {
	return c
}

const defaultDebounce = 200 * time.Millisecond

// Watcher reloads the catalog when worker or skill files change and swaps
// in a new immutable snapshot.
type Watcher struct {
	loader   *Loader
	logger   *logging.Logger
	current  atomic.Pointer[Catalog]
	debounce time.Duration
	onReload func(*Catalog, []LoadIssue)

	mu      sync.Mutex
	timer   *time.Timer
	watched map[string]bool
	fsw     *fsnotify.Watcher
}

// WatcherOption configures a Watcher.
type WatcherOption func(*Watcher)

// WithDebounce sets how long to wait for a burst of events to settle.
func WithDebounce(d time.Duration) WatcherOption {
	return func(w *Watcher) {
		if d > 0 {
			w.debounce = d
		}
	}
}

// OnReload registers a callback invoked after every successful reload.
func OnReload(fn func(*Catalog, []LoadIssue)) WatcherOption {
	return func(w *Watcher) { w.onReload = fn }
}

// NewWatcher creates a watcher serving initial until the first reload.
func NewWatcher(loader *Loader, initial *Catalog, logger *logging.Logger, opts ...WatcherOption) *Watcher {
	if logger == nil {
		logger = logging.NewNop()
	}
	if initial == nil {
		initial = Empty()
	}
	w := &Watcher{
		loader:   loader,
		logger:   logger,
		debounce: defaultDebounce,
		watched:  make(map[string]bool),
	}
	for _, opt := range opts {
		opt(w)
	}
	w.current.Store(initial)
	return w
}

// Snapshot returns the current catalog.
func (w *Watcher) Snapshot() *Catalog {
	return w.current.Load()
}

// Reload loads the catalog now. On failure the previous snapshot stays.
func (w *Watcher) Reload() error {
	cat, issues, err := w.loader.Load()
	if err != nil {
		w.logger.Warn("catalog: reload failed, keeping previous snapshot", "error", err)
		return err
	}
	w.current.Store(cat)
	w.logger.Debug("catalog: snapshot swapped", "workers", cat.Len(), "loaded_at", cat.LoadedAt())
	if w.onReload != nil {
		w.onReload(cat, issues)
	}
	return nil
}

// Run watches until ctx is done.
func (w *Watcher) Run(ctx context.Context) error {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("creating file watcher: %w", err)
	}
	w.mu.Lock()
	w.fsw = fsw
	w.mu.Unlock()
	defer func() {
		w.mu.Lock()
		if w.timer != nil {
			w.timer.Stop()
		}
		w.fsw = nil
		w.mu.Unlock()
		_ = fsw.Close()
	}()

	for _, root := range []string{w.loader.Dir(), w.loader.SkillsDir()} {
		if root != "" {
			w.addTree(root)
		}
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-fsw.Events:
			if !ok {
				return nil
			}
			if event.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Remove|fsnotify.Rename) == 0 {
				continue
			}
			if event.Op&fsnotify.Create != 0 {
				if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
					w.addTree(event.Name)
				}
			}
			if w.relevant(event) {
				w.scheduleReload()
			}
		case err, ok := <-fsw.Errors:
			if !ok {
				return nil
			}
			w.logger.Warn("catalog: watcher error", "error", err)
		}
	}
}

// relevant filters out editor swap files and other non-record churn.
// Removals and renames always count since a whole directory may be gone.
func (w *Watcher) relevant(event fsnotify.Event) bool {
	if event.Op&(fsnotify.Remove|fsnotify.Rename) != 0 {
		return true
	}
	if filepath.Base(event.Name) == skillFile {
		return true
	}
	rel, err := filepath.Rel(w.loader.Dir(), event.Name)
	if err != nil || strings.HasPrefix(rel, "..") {
		return false
	}
	return w.loader.Matches(rel)
}

func (w *Watcher) scheduleReload() {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.timer != nil {
		w.timer.Stop()
	}
	w.timer = time.AfterFunc(w.debounce, func() {
		_ = w.Reload()
	})
}

func (w *Watcher) addTree(root string) {
	_ = filepath.WalkDir(root, func(p string, d fs.DirEntry, err error) error {
		if err != nil || !d.IsDir() {
			return nil
		}
		w.addWatch(p)
		return nil
	})
}

func (w *Watcher) addWatch(dir string) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.fsw == nil || w.watched[dir] {
		return
	}
	if err := w.fsw.Add(dir); err == nil {
		w.watched[dir] = true
	}
}
