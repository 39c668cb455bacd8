package core

// PhaseStatus is the derived outcome of a phase.
type PhaseStatus string

const (
	PhasePending PhaseStatus = "pending"
	PhaseRunning PhaseStatus = "running"
	PhaseSuccess PhaseStatus = "success"
	PhasePartial PhaseStatus = "partial"
	PhaseFailed  PhaseStatus = "failed"
	PhaseSkipped PhaseStatus = "skipped"
)

// Satisfies reports whether a phase with this status unblocks dependents.
func (s PhaseStatus) Satisfies() bool {
	return s == PhaseSuccess || s == PhasePartial
}

// DerivePhaseStatus applies the aggregation rule: success iff all workers
// succeeded, failed iff none did, partial otherwise. No workers is success.
func DerivePhaseStatus(results []WorkerResult) PhaseStatus {
	if len(results) == 0 {
		return PhaseSuccess
	}
	succeeded := 0
	for _, r := range results {
		if r.Succeeded() {
			succeeded++
		}
	}
	switch succeeded {
	case len(results):
		return PhaseSuccess
	case 0:
		return PhaseFailed
	default:
		return PhasePartial
	}
}

// PhaseResult aggregates the worker results of one phase attempt.
type PhaseResult struct {
	PhaseIndex    int                     `json:"phase"`
	PhaseName     string                  `json:"phase_name"`
	Status        PhaseStatus             `json:"status"`
	WorkerResults map[string]WorkerResult `json:"worker_results"`
	Order         []string                `json:"order"`
	Attempt       int                     `json:"attempt"`
	DurationMS    int64                   `json:"duration_ms"`
	Error         *ErrorInfo              `json:"error,omitempty"`
}

// Ordered returns the worker results in assignment order.
func (r *PhaseResult) Ordered() []WorkerResult {
	out := make([]WorkerResult, 0, len(r.Order))
	for _, key := range r.Order {
		out = append(out, r.WorkerResults[key])
	}
	return out
}

// Output returns the single worker output, or a map of key to output.
func (r *PhaseResult) Output() any {
	if len(r.Order) == 1 {
		return r.WorkerResults[r.Order[0]].Output
	}
	out := make(map[string]any, len(r.Order))
	for _, key := range r.Order {
		out[key] = r.WorkerResults[key].Output
	}
	return out
}

// NonSucceeded returns the keys of workers that did not succeed.
func (r *PhaseResult) NonSucceeded() []string {
	var names []string
	for _, key := range r.Order {
		if !r.WorkerResults[key].Succeeded() {
			names = append(names, key)
		}
	}
	return names
}

// ToMap renders the result for the variable context.
func (r *PhaseResult) ToMap() map[string]any {
	workers := make(map[string]any, len(r.WorkerResults))
	for key, wr := range r.WorkerResults {
		workers[key] = wr.ToMap()
	}
	return map[string]any{
		"phase_name":     r.PhaseName,
		"status":         string(r.Status),
		"output":         r.Output(),
		"worker_results": workers,
	}
}

// SkippedPhase builds the result recorded for a phase that never ran.
func SkippedPhase(p *Phase, kind ErrorKind, reason string) PhaseResult {
	return PhaseResult{
		PhaseIndex:    p.Index,
		PhaseName:     p.Name,
		Status:        PhaseSkipped,
		WorkerResults: map[string]WorkerResult{},
		Error:         &ErrorInfo{Kind: kind, Message: reason},
	}
}

// PhaseEvaluation is the evaluator's verdict on a phase result.
type PhaseEvaluation struct {
	Completed    bool     `json:"completed"`
	CanProceed   bool     `json:"can_proceed"`
	QualityScore float64  `json:"quality_score"`
	RetryTargets []string `json:"retry_targets,omitempty"`
	Reason       string   `json:"reason"`
	FromOracle   bool     `json:"from_oracle,omitempty"`
}
