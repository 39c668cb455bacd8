package core

import "testing"

func TestDerivePhaseStatus(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name     string
		statuses []WorkerStatus
		want     PhaseStatus
	}{
		{"empty phase", nil, PhaseSuccess},
		{"all success", []WorkerStatus{WorkerSuccess, WorkerSuccess}, PhaseSuccess},
		{"mixed", []WorkerStatus{WorkerSuccess, WorkerFailed}, PhasePartial},
		{"partial worker counts as not succeeded", []WorkerStatus{WorkerSuccess, WorkerPartial}, PhasePartial},
		{"none succeeded", []WorkerStatus{WorkerFailed, WorkerTimeout}, PhaseFailed},
		{"cancelled equals failed", []WorkerStatus{WorkerCancelled}, PhaseFailed},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			results := make([]WorkerResult, len(tt.statuses))
			for i, s := range tt.statuses {
				results[i] = WorkerResult{Status: s}
			}
			if got := DerivePhaseStatus(results); got != tt.want {
				t.Errorf("DerivePhaseStatus() = %s, want %s", got, tt.want)
			}
		})
	}
}

func TestPhaseResult_OutputAndMap(t *testing.T) {
	single := PhaseResult{
		PhaseName:     "plan",
		Status:        PhaseSuccess,
		WorkerResults: map[string]WorkerResult{"planner": {Status: WorkerSuccess, Output: "cases"}},
		Order:         []string{"planner"},
	}
	if got := single.Output(); got != "cases" {
		t.Errorf("Output() = %v, want cases", got)
	}

	multi := PhaseResult{
		WorkerResults: map[string]WorkerResult{
			"a": {Status: WorkerSuccess, Output: 1},
			"b": {Status: WorkerFailed, Error: &ErrorInfo{Kind: KindFailed, Message: "boom"}},
		},
		Order: []string{"a", "b"},
	}
	out, ok := multi.Output().(map[string]any)
	if !ok || out["a"] != 1 {
		t.Fatalf("Output() = %#v, want map keyed by worker", multi.Output())
	}
	if got := multi.NonSucceeded(); len(got) != 1 || got[0] != "b" {
		t.Errorf("NonSucceeded() = %v, want [b]", got)
	}
	m := multi.ToMap()
	workers := m["worker_results"].(map[string]any)
	b := workers["b"].(map[string]any)
	if b["status"] != "failed" {
		t.Errorf("worker b status = %v, want failed", b["status"])
	}
}

func TestPhaseStatus_Satisfies(t *testing.T) {
	for _, s := range []PhaseStatus{PhaseSuccess, PhasePartial} {
		if !s.Satisfies() {
			t.Errorf("%s should satisfy dependents", s)
		}
	}
	for _, s := range []PhaseStatus{PhaseFailed, PhaseSkipped, PhasePending} {
		if s.Satisfies() {
			t.Errorf("%s should not satisfy dependents", s)
		}
	}
}
