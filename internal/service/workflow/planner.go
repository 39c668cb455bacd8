package workflow

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/sahilm/fuzzy"

	"github.com/hugo-lorenzo-mato/taskforge/internal/catalog"
	"github.com/hugo-lorenzo-mato/taskforge/internal/core"
	"github.com/hugo-lorenzo-mato/taskforge/internal/logging"
	"github.com/hugo-lorenzo-mato/taskforge/internal/service"
)

// Planner defaults.
const (
	DefaultMaxPhases      = 10
	DefaultFallbackWorker = "planner"

	fallbackPhaseName = "Default execution"
	fallbackTask      = "Analyze the task and determine the best approach"
	fallbackCriteria  = "Task analysis completed"
)

// Planner turns an objective into a validated ExecutionPlan with the help of
// the oracle.
type Planner struct {
	oracle         core.Oracle
	logger         *logging.Logger
	maxPhases      int
	fallbackWorker string
}

// PlannerOption configures a Planner.
type PlannerOption func(*Planner)

// WithMaxPhases caps the number of phases a plan may have.
func WithMaxPhases(n int) PlannerOption {
	return func(p *Planner) {
		if n > 0 {
			p.maxPhases = n
		}
	}
}

// WithFallbackWorker sets the worker preferred by the fallback plan.
func WithFallbackWorker(name string) PlannerOption {
	return func(p *Planner) {
		if name != "" {
			p.fallbackWorker = name
		}
	}
}

// NewPlanner creates a planner.
func NewPlanner(oracle core.Oracle, logger *logging.Logger, opts ...PlannerOption) *Planner {
	if logger == nil {
		logger = logging.NewNop()
	}
	p := &Planner{
		oracle:         oracle,
		logger:         logger,
		maxPhases:      DefaultMaxPhases,
		fallbackWorker: DefaultFallbackWorker,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// PlanOutcome is a plan plus what the planner noticed while building it.
type PlanOutcome struct {
	Plan           *core.ExecutionPlan
	UnknownWorkers []UnknownWorker
	TokensUsed     int
	// FallbackCause is set when Plan is the fallback plan.
	FallbackCause error
}

// UnknownWorker is an assignment naming a worker the catalog does not have.
type UnknownWorker struct {
	Phase       int      `json:"phase"`
	Name        string   `json:"name"`
	Suggestions []string `json:"suggestions,omitempty"`
}

// CreatePlan asks the oracle for a plan and validates it. Malformed or
// invalid plans are reported as PlanValidationErrors; unknown workers are
// only warnings.
func (p *Planner) CreatePlan(ctx context.Context, objective string, input map[string]any, cat *catalog.Catalog) (*PlanOutcome, error) {
	if cat == nil {
		cat = catalog.Empty()
	}
	if p.oracle == nil {
		return nil, core.ErrExecution(core.CodeOracleFailed, "no oracle configured")
	}

	resp, err := p.oracle.Ask(ctx, core.OracleRequest{
		Role:    core.RolePlan,
		Context: p.planContext(objective, input, cat),
	})
	if err != nil {
		return nil, core.ErrExecution(core.CodeOracleFailed, "planning oracle call failed").WithCause(err)
	}

	plan, err := p.decodePlan(resp.Text, objective)
	if err != nil {
		return &PlanOutcome{TokensUsed: resp.TokensUsed}, err
	}

	unknown := FindUnknownWorkers(plan, cat)
	for _, u := range unknown {
		p.logger.Warn("plan references unknown worker",
			"phase", u.Phase,
			"worker", u.Name,
			"suggestions", u.Suggestions,
		)
	}

	return &PlanOutcome{Plan: plan, UnknownWorkers: unknown, TokensUsed: resp.TokensUsed}, nil
}

// PlanOrFallback is CreatePlan that never fails: any oracle or validation
// error yields the fallback plan, with the error kept as FallbackCause.
// Only a cancelled context is returned as an error.
func (p *Planner) PlanOrFallback(ctx context.Context, objective string, input map[string]any, cat *catalog.Catalog) (*PlanOutcome, error) {
	outcome, err := p.CreatePlan(ctx, objective, input, cat)
	if err == nil {
		return outcome, nil
	}
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}

	p.logger.Warn("planning failed, using fallback plan", "error", err)
	tokens := 0
	if outcome != nil {
		tokens = outcome.TokensUsed
	}
	return &PlanOutcome{
		Plan:          p.FallbackPlan(objective, cat),
		TokensUsed:    tokens,
		FallbackCause: err,
	}, nil
}

// FallbackPlan builds the single-phase plan used when planning fails.
func (p *Planner) FallbackPlan(objective string, cat *catalog.Catalog) *core.ExecutionPlan {
	worker := p.fallbackWorker
	if cat != nil && !cat.Has(worker) {
		if names := cat.Names(); len(names) > 0 {
			worker = names[0]
		}
	}
	return &core.ExecutionPlan{
		Objective: objective,
		Phases: []core.Phase{{
			Index: 1,
			Name:  fallbackPhaseName,
			Assignments: []core.WorkerAssignment{{
				WorkerName:      worker,
				TaskDescription: fallbackTask + ": " + objective,
				Input:           map[string]any{"objective": objective},
			}},
		}},
		CompletionCriteria: fallbackCriteria,
		Fallback:           true,
	}
}

func (p *Planner) planContext(objective string, input map[string]any, cat *catalog.Catalog) map[string]any {
	summaries := cat.Summary()
	workers := make([]any, 0, len(summaries))
	for _, s := range summaries {
		workers = append(workers, map[string]any{
			"name":        s.Name,
			"description": s.Description,
			"tools":       s.Tools,
			"mode":        string(s.Mode),
		})
	}
	skills := make([]any, 0, len(cat.Skills()))
	for _, s := range cat.Skills() {
		skills = append(skills, map[string]any{
			"name":        s.Name,
			"description": s.Description,
			"tags":        s.Tags,
		})
	}

	out := map[string]any{
		"objective":  objective,
		"workers":    workers,
		"max_phases": p.maxPhases,
	}
	if len(input) > 0 {
		out["context"] = input
	}
	if len(skills) > 0 {
		out["skills"] = skills
	}
	return out
}

// =============================================================================
// Decoding
// =============================================================================

type rawPlan struct {
	Phases             []rawPhase `json:"phases"`
	CompletionCriteria string     `json:"completion_criteria"`
	CompletionAlt      string     `json:"completionCriteria"`
}

type rawPhase struct {
	Phase     json.RawMessage   `json:"phase"`
	Index     json.RawMessage   `json:"index"`
	Name      string            `json:"name"`
	Parallel  bool              `json:"parallel"`
	Workers   []rawAssignment   `json:"workers"`
	DependsOn []json.RawMessage `json:"depends_on"`
}

type rawAssignment struct {
	Worker    string            `json:"worker"`
	Task      string            `json:"task"`
	Input     map[string]any    `json:"input"`
	DependsOn []json.RawMessage `json:"depends_on"`
}

// decodePlan strictly decodes an oracle plan response and validates it.
func (p *Planner) decodePlan(text, objective string) (*core.ExecutionPlan, error) {
	extracted := service.ExtractJSON(text)
	if extracted == "" {
		return nil, core.ErrPlanValidation(core.CodeParseFailed, "plan response contains no JSON object")
	}

	var raw rawPlan
	if err := json.Unmarshal([]byte(extracted), &raw); err != nil {
		return nil, core.ErrPlanValidation(core.CodeParseFailed, "plan response does not match the plan shape").WithCause(err)
	}
	if raw.Phases == nil {
		return nil, core.ErrPlanValidation(core.CodeParseFailed, "plan response has no phases field")
	}
	if len(raw.Phases) == 0 {
		return nil, core.ErrPlanValidation(core.CodeEmptyPlan, "plan has no phases")
	}
	if len(raw.Phases) > p.maxPhases {
		return nil, core.ErrPlanValidation(core.CodeTooManyPhases,
			fmt.Sprintf("plan has %d phases, limit is %d", len(raw.Phases), p.maxPhases))
	}

	plan := &core.ExecutionPlan{
		Objective:          objective,
		CompletionCriteria: firstNonEmpty(raw.CompletionCriteria, raw.CompletionAlt),
		Phases:             make([]core.Phase, 0, len(raw.Phases)),
	}
	for i, rp := range raw.Phases {
		phase, err := normalizePhase(rp, i)
		if err != nil {
			return nil, err
		}
		plan.Phases = append(plan.Phases, phase)
	}
	sort.SliceStable(plan.Phases, func(i, j int) bool {
		return plan.Phases[i].Index < plan.Phases[j].Index
	})

	if err := ValidatePlan(plan); err != nil {
		return nil, err
	}
	return plan, nil
}

func normalizePhase(rp rawPhase, position int) (core.Phase, error) {
	index := position + 1
	rawIndex := rp.Phase
	if isAbsent(rawIndex) {
		rawIndex = rp.Index
	}
	if !isAbsent(rawIndex) {
		n, err := parseRef(rawIndex)
		if err != nil {
			return core.Phase{}, core.ErrPlanValidation(core.CodeParseFailed,
				fmt.Sprintf("phase at position %d has an invalid index", position+1)).WithCause(err)
		}
		index = n
	}

	phase := core.Phase{
		Index:       index,
		Name:        rp.Name,
		Parallel:    rp.Parallel,
		Assignments: make([]core.WorkerAssignment, 0, len(rp.Workers)),
	}
	if phase.Name == "" {
		phase.Name = fmt.Sprintf("Phase %d", index)
	}

	deps := make(map[string]bool)
	phaseDeps, err := parseRefs(rp.DependsOn, index)
	if err != nil {
		return core.Phase{}, err
	}
	for _, d := range phaseDeps {
		deps[d] = true
	}

	for _, ra := range rp.Workers {
		aDeps, err := parseRefs(ra.DependsOn, index)
		if err != nil {
			return core.Phase{}, err
		}
		for _, d := range aDeps {
			deps[d] = true
		}
		phase.Assignments = append(phase.Assignments, core.WorkerAssignment{
			WorkerName:      strings.TrimSpace(ra.Worker),
			TaskDescription: ra.Task,
			Input:           ra.Input,
			DependsOn:       aDeps,
		})
	}

	for d := range deps {
		phase.DependsOn = append(phase.DependsOn, d)
	}
	sort.Strings(phase.DependsOn)
	return phase, nil
}

func parseRefs(raws []json.RawMessage, phaseIndex int) ([]string, error) {
	var out []string
	for _, raw := range raws {
		n, err := parseRef(raw)
		if err != nil {
			return nil, core.ErrPlanValidation(core.CodeUnknownPhaseRef,
				fmt.Sprintf("phase %d has an invalid dependency %s", phaseIndex, string(raw))).WithCause(err)
		}
		out = append(out, core.PhaseRef(n))
	}
	return out, nil
}

// parseRef accepts 2, "2" and "phase_2".
func parseRef(raw json.RawMessage) (int, error) {
	var n int
	if err := json.Unmarshal(raw, &n); err == nil {
		if n < 1 {
			return 0, fmt.Errorf("phase index %d must be positive", n)
		}
		return n, nil
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return 0, fmt.Errorf("phase reference %s is neither a number nor a string", string(raw))
	}
	return core.ParsePhaseRef(s)
}

func isAbsent(raw json.RawMessage) bool {
	return len(raw) == 0 || string(raw) == "null"
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

// =============================================================================
// Validation
// =============================================================================

// ValidatePlan checks that phase indices are unique, that the dependency
// graph is acyclic and that every dependency names a strictly earlier phase.
func ValidatePlan(plan *core.ExecutionPlan) error {
	if plan == nil || len(plan.Phases) == 0 {
		return core.ErrPlanValidation(core.CodeEmptyPlan, "plan has no phases")
	}

	// Duplicates and unknown references are rejected while building the graph.
	graph, err := service.PhaseGraphFromPlan(plan)
	if err != nil {
		return err
	}
	if err := graph.Validate(); err != nil {
		return err
	}

	for i := range plan.Phases {
		phase := &plan.Phases[i]
		for _, ref := range phase.DependsOn {
			dep, err := core.ParsePhaseRef(ref)
			if err != nil {
				return core.ErrPlanValidation(core.CodeUnknownPhaseRef,
					fmt.Sprintf("phase %d has an invalid dependency %s", phase.Index, ref))
			}
			if dep >= phase.Index {
				return core.ErrPlanValidation(core.CodeForwardDependency,
					fmt.Sprintf("phase %d depends on %s, which does not come before it", phase.Index, ref)).
					WithDetail("phase", phase.Ref()).
					WithDetail("dependency", ref)
			}
		}
	}
	return nil
}

// FindUnknownWorkers lists assignments whose worker is missing from cat,
// with close catalog names as suggestions.
func FindUnknownWorkers(plan *core.ExecutionPlan, cat *catalog.Catalog) []UnknownWorker {
	names := cat.Names()
	var out []UnknownWorker
	for i := range plan.Phases {
		for _, a := range plan.Phases[i].Assignments {
			if cat.Has(a.WorkerName) {
				continue
			}
			out = append(out, UnknownWorker{
				Phase:       plan.Phases[i].Index,
				Name:        a.WorkerName,
				Suggestions: suggestWorkers(a.WorkerName, names),
			})
		}
	}
	return out
}

// suggestWorkers matches ever shorter prefixes of name against the catalog
// until something matches.
func suggestWorkers(name string, names []string) []string {
	pattern := []rune(name)
	for len(pattern) >= 3 {
		matches := fuzzy.Find(string(pattern), names)
		if len(matches) > 0 {
			out := make([]string, 0, 3)
			for _, m := range matches {
				if len(out) == 3 {
					break
				}
				out = append(out, m.Str)
			}
			return out
		}
		pattern = pattern[:len(pattern)-1]
	}
	return nil
}
