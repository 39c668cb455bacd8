package service

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/hugo-lorenzo-mato/taskforge/internal/core"
)

// PhaseGraph is the dependency graph of a plan's phases, keyed by phase
// reference ("phase_N").
type PhaseGraph struct {
	nodes   map[string]bool
	edges   map[string][]string // phase -> dependencies
	reverse map[string][]string // phase -> dependents
	mu      sync.RWMutex
}

// NewPhaseGraph creates an empty graph.
func NewPhaseGraph() *PhaseGraph {
	return &PhaseGraph{
		nodes:   make(map[string]bool),
		edges:   make(map[string][]string),
		reverse: make(map[string][]string),
	}
}

// PhaseGraphFromPlan builds the graph of a plan. Dependencies on phases the
// plan does not contain are reported as UNKNOWN_PHASE_REF.
func PhaseGraphFromPlan(plan *core.ExecutionPlan) (*PhaseGraph, error) {
	g := NewPhaseGraph()
	for i := range plan.Phases {
		if err := g.AddPhase(plan.Phases[i].Ref()); err != nil {
			return nil, err
		}
	}
	for i := range plan.Phases {
		p := &plan.Phases[i]
		for _, dep := range p.DependsOn {
			if err := g.AddDependency(p.Ref(), dep); err != nil {
				return nil, err
			}
		}
	}
	return g, nil
}

// AddPhase adds a node.
func (g *PhaseGraph) AddPhase(ref string) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.nodes[ref] {
		return core.ErrPlanValidation(core.CodeDuplicatePhase, fmt.Sprintf("phase %s defined twice", ref))
	}
	g.nodes[ref] = true
	return nil
}

// AddDependency records that from depends on to.
func (g *PhaseGraph) AddDependency(from, to string) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if !g.nodes[from] {
		return core.ErrPlanValidation(core.CodeUnknownPhaseRef, fmt.Sprintf("phase %s not found", from))
	}
	if !g.nodes[to] {
		return core.ErrPlanValidation(core.CodeUnknownPhaseRef,
			fmt.Sprintf("phase %s depends on unknown phase %s", from, to))
	}
	for _, dep := range g.edges[from] {
		if dep == to {
			return nil
		}
	}
	g.edges[from] = append(g.edges[from], to)
	g.reverse[to] = append(g.reverse[to], from)
	return nil
}

// PhaseOrder is a validated graph.
type PhaseOrder struct {
	Order  []string
	Levels [][]string
}

// Build rejects cycles and returns a topological order plus the levels of
// phases whose dependencies are all in earlier levels.
func (g *PhaseGraph) Build() (*PhaseOrder, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()

	if cycle := g.findCycle(); cycle != nil {
		return nil, core.ErrPlanValidation(core.CodeDAGCycle,
			"phase dependency graph contains a cycle: "+strings.Join(cycle, " -> ")).
			WithDetail("cycle", cycle)
	}
	return &PhaseOrder{
		Order:  g.topologicalSort(),
		Levels: g.levels(),
	}, nil
}

// Validate only checks for cycles.
func (g *PhaseGraph) Validate() error {
	_, err := g.Build()
	return err
}

func (g *PhaseGraph) sortedNodes() []string {
	refs := make([]string, 0, len(g.nodes))
	for ref := range g.nodes {
		refs = append(refs, ref)
	}
	sort.Slice(refs, func(i, j int) bool { return lessRef(refs[i], refs[j]) })
	return refs
}

// findCycle runs a DFS with a recursion stack. A back-edge into the active
// stack closes a cycle, returned as the path from its first node.
func (g *PhaseGraph) findCycle() []string {
	visited := make(map[string]bool)
	onStack := make(map[string]bool)
	var stack []string

	var dfs func(ref string) []string
	dfs = func(ref string) []string {
		visited[ref] = true
		onStack[ref] = true
		stack = append(stack, ref)

		for _, dep := range g.edges[ref] {
			if !visited[dep] {
				if cycle := dfs(dep); cycle != nil {
					return cycle
				}
			} else if onStack[dep] {
				for i, r := range stack {
					if r == dep {
						return append(append([]string(nil), stack[i:]...), dep)
					}
				}
			}
		}

		onStack[ref] = false
		stack = stack[:len(stack)-1]
		return nil
	}

	for _, ref := range g.sortedNodes() {
		if !visited[ref] {
			if cycle := dfs(ref); cycle != nil {
				return cycle
			}
		}
	}
	return nil
}

// topologicalSort orders phases with Kahn's algorithm, lowest index first
// among ready phases.
func (g *PhaseGraph) topologicalSort() []string {
	inDegree := make(map[string]int, len(g.nodes))
	var queue []string
	for _, ref := range g.sortedNodes() {
		inDegree[ref] = len(g.edges[ref])
		if inDegree[ref] == 0 {
			queue = append(queue, ref)
		}
	}

	result := make([]string, 0, len(g.nodes))
	for len(queue) > 0 {
		current := queue[0]
		queue = queue[1:]
		result = append(result, current)

		dependents := append([]string(nil), g.reverse[current]...)
		sort.Slice(dependents, func(i, j int) bool { return lessRef(dependents[i], dependents[j]) })
		for _, dependent := range dependents {
			inDegree[dependent]--
			if inDegree[dependent] == 0 {
				queue = append(queue, dependent)
			}
		}
	}
	return result
}

func (g *PhaseGraph) levels() [][]string {
	if len(g.nodes) == 0 {
		return nil
	}
	var levels [][]string
	assigned := make(map[string]bool, len(g.nodes))
	nodes := g.sortedNodes()

	for len(assigned) < len(nodes) {
		var level []string
		for _, ref := range nodes {
			if assigned[ref] {
				continue
			}
			ready := true
			for _, dep := range g.edges[ref] {
				if !assigned[dep] {
					ready = false
					break
				}
			}
			if ready {
				level = append(level, ref)
			}
		}
		for _, ref := range level {
			assigned[ref] = true
		}
		levels = append(levels, level)
	}
	return levels
}

// Dependencies returns the direct dependencies of ref.
func (g *PhaseGraph) Dependencies(ref string) []string {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return append([]string(nil), g.edges[ref]...)
}

// Dependents returns the phases that directly depend on ref.
func (g *PhaseGraph) Dependents(ref string) []string {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return append([]string(nil), g.reverse[ref]...)
}

// Len returns the number of phases.
func (g *PhaseGraph) Len() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return len(g.nodes)
}

// lessRef orders "phase_2" before "phase_10".
func lessRef(a, b string) bool {
	ai, errA := core.ParsePhaseRef(a)
	bi, errB := core.ParsePhaseRef(b)
	if errA != nil || errB != nil {
		return a < b
	}
	return ai < bi
}
