package core

import "time"

// TaskStatus is the final state of one top-level task.
type TaskStatus string

const (
	TaskRunning   TaskStatus = "running"
	TaskCompleted TaskStatus = "completed"
	TaskFailed    TaskStatus = "failed"
	TaskCancelled TaskStatus = "cancelled"
)

// PhaseRecord couples a phase result with the decisions taken on it.
type PhaseRecord struct {
	Result     PhaseResult      `json:"result"`
	Evaluation *PhaseEvaluation `json:"evaluation,omitempty"`
	Recovery   []RecoveryAction `json:"recovery,omitempty"`
}

// TaskResult is always returned, even on abort, so partial progress stays
// inspectable.
type TaskResult struct {
	TaskID     string         `json:"task_id"`
	Objective  string         `json:"objective"`
	Status     TaskStatus     `json:"status"`
	Plan       *ExecutionPlan `json:"plan,omitempty"`
	Phases     []PhaseRecord  `json:"phases"`
	Error      string         `json:"error,omitempty"`
	StartedAt  time.Time      `json:"started_at"`
	FinishedAt time.Time      `json:"finished_at"`
	TokensUsed int            `json:"tokens_used"`
}

// PhaseResults returns the recorded phase results in plan order.
func (r *TaskResult) PhaseResults() []PhaseResult {
	out := make([]PhaseResult, len(r.Phases))
	for i := range r.Phases {
		out[i] = r.Phases[i].Result
	}
	return out
}

// Duration returns the wall-clock time of the task.
func (r *TaskResult) Duration() time.Duration {
	return r.FinishedAt.Sub(r.StartedAt)
}
