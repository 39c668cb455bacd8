package core

import (
	"fmt"
	"strconv"
	"strings"
)

const phaseRefPrefix = "phase_"

// PhaseRef returns the canonical reference key for a phase index.
func PhaseRef(index int) string {
	return phaseRefPrefix + strconv.Itoa(index)
}

// ParsePhaseRef accepts "phase_N" or "N" and returns N.
func ParsePhaseRef(ref string) (int, error) {
	s := strings.TrimSpace(ref)
	s = strings.TrimPrefix(strings.ToLower(s), phaseRefPrefix)
	n, err := strconv.Atoi(s)
	if err != nil || n < 1 {
		return 0, fmt.Errorf("invalid phase reference %q", ref)
	}
	return n, nil
}

// WorkerAssignment binds one worker to one task inside a phase.
type WorkerAssignment struct {
	WorkerName      string         `json:"worker"`
	TaskDescription string         `json:"task"`
	Input           map[string]any `json:"input,omitempty"`
	DependsOn       []string       `json:"depends_on,omitempty"`
}

// Phase is a unit of scheduling.
type Phase struct {
	Index       int                `json:"phase"`
	Name        string             `json:"name"`
	Assignments []WorkerAssignment `json:"workers"`
	Parallel    bool               `json:"parallel"`
	DependsOn   []string           `json:"depends_on,omitempty"`
}

// Ref returns the phase's canonical reference key.
func (p *Phase) Ref() string {
	return PhaseRef(p.Index)
}

// WorkerNames returns the assigned worker names in order.
func (p *Phase) WorkerNames() []string {
	names := make([]string, len(p.Assignments))
	for i, a := range p.Assignments {
		names[i] = a.WorkerName
	}
	return names
}

// WithWorkerReplaced returns a copy of the phase where every assignment for
// from is re-targeted to to.
func (p *Phase) WithWorkerReplaced(from, to string) *Phase {
	cp := *p
	cp.Assignments = make([]WorkerAssignment, len(p.Assignments))
	for i, a := range p.Assignments {
		if a.WorkerName == from {
			a.WorkerName = to
		}
		cp.Assignments[i] = a
	}
	return &cp
}

// ExecutionPlan is built once per task and read-only afterwards.
type ExecutionPlan struct {
	Objective          string  `json:"objective"`
	Phases             []Phase `json:"phases"`
	CompletionCriteria string  `json:"completion_criteria"`
	Fallback           bool    `json:"fallback,omitempty"`
}

// Phase returns the phase with the given index.
func (p *ExecutionPlan) Phase(index int) (*Phase, bool) {
	for i := range p.Phases {
		if p.Phases[i].Index == index {
			return &p.Phases[i], true
		}
	}
	return nil, false
}

// ResultKeys returns deterministic keys for a phase's worker results. A
// worker assigned more than once gets "name#2", "name#3", ... in order.
func ResultKeys(assignments []WorkerAssignment) []string {
	keys := make([]string, len(assignments))
	seen := make(map[string]int, len(assignments))
	for i, a := range assignments {
		seen[a.WorkerName]++
		if n := seen[a.WorkerName]; n > 1 {
			keys[i] = a.WorkerName + "#" + strconv.Itoa(n)
			continue
		}
		keys[i] = a.WorkerName
	}
	return keys
}
