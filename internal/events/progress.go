package events

// Progress event types emitted at every orchestration state transition.
const (
	TypeTaskStarted        = "task_started"
	TypeTaskCompleted      = "task_completed"
	TypePlanningStarted    = "planning_started"
	TypePlanCreated        = "plan_created"
	TypePhaseStarted       = "phase_started"
	TypePhaseCompleted     = "phase_completed"
	TypePhaseSkipped       = "phase_skipped"
	TypePhaseEvaluated     = "phase_evaluated"
	TypePhaseRetry         = "phase_retry"
	TypeRecoveryDecided    = "recovery_decided"
	TypeWorkerStarted      = "worker_started"
	TypeWorkerCompleted    = "worker_completed"
	TypeLoopStarted        = "loop_started"
	TypeIterationStarted   = "iteration_started"
	TypeIterationCompleted = "iteration_completed"
	TypeLoopCompleted      = "loop_completed"
)

// IsTerminal reports whether the event type closes a task.
func IsTerminal(eventType string) bool {
	return eventType == TypeTaskCompleted
}

// ProgressEvent carries one progress transition and its payload.
type ProgressEvent struct {
	BaseEvent
	Payload map[string]any `json:"payload"`
}

// NewProgressEvent creates a progress event.
func NewProgressEvent(eventType, taskID string, payload map[string]any) ProgressEvent {
	return ProgressEvent{
		BaseEvent: NewBaseEvent(eventType, taskID),
		Payload:   payload,
	}
}
