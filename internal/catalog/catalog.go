// Package catalog loads worker definitions and serves immutable snapshots of
// them to the coordinator.
package catalog

import (
	"sort"
	"time"

	"github.com/hugo-lorenzo-mato/taskforge/internal/core"
)

// Catalog is an immutable snapshot of worker definitions. The configs it
// returns are shared and must be treated as read-only.
type Catalog struct {
	workers  map[string]*core.WorkerConfig
	names    []string
	skills   []core.Skill
	loadedAt time.Time
}

// New builds a catalog. When two configs share a name the first one wins.
func New(workers []*core.WorkerConfig, skills []core.Skill) *Catalog {
	c := &Catalog{
		workers:  make(map[string]*core.WorkerConfig, len(workers)),
		skills:   append([]core.Skill(nil), skills...),
		loadedAt: time.Now(),
	}
	for _, w := range workers {
		if w == nil || w.Name == "" {
			continue
		}
		if _, dup := c.workers[w.Name]; dup {
			continue
		}
		c.workers[w.Name] = w
		c.names = append(c.names, w.Name)
	}
	sort.Strings(c.names)
	sort.Slice(c.skills, func(i, j int) bool { return c.skills[i].Name < c.skills[j].Name })
	return c
}

// Empty returns a catalog with no workers.
func Empty() *Catalog {
	return New(nil, nil)
}

// Get fetches a worker by name.
func (c *Catalog) Get(name string) (*core.WorkerConfig, bool) {
	w, ok := c.workers[name]
	return w, ok
}

// Has reports whether the named worker exists.
func (c *Catalog) Has(name string) bool {
	_, ok := c.workers[name]
	return ok
}

// List returns all workers sorted by name.
func (c *Catalog) List() []*core.WorkerConfig {
	out := make([]*core.WorkerConfig, len(c.names))
	for i, name := range c.names {
		out[i] = c.workers[name]
	}
	return out
}

// Names returns the sorted worker names.
func (c *Catalog) Names() []string {
	return append([]string(nil), c.names...)
}

// Len returns the number of workers.
func (c *Catalog) Len() int {
	return len(c.names)
}

// Summary returns the planner's view of every worker.
func (c *Catalog) Summary() []core.WorkerSummary {
	out := make([]core.WorkerSummary, len(c.names))
	for i, name := range c.names {
		out[i] = c.workers[name].Summary()
	}
	return out
}

// Skills returns the advertised skills sorted by name.
func (c *Catalog) Skills() []core.Skill {
	return append([]core.Skill(nil), c.skills...)
}

// LoadedAt returns when the snapshot was built.
func (c *Catalog) LoadedAt() time.Time {
	return c.loadedAt
}
