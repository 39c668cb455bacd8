package core

import "fmt"

// RecoveryKind tags a RecoveryAction.
type RecoveryKind string

const (
	RecoveryRetry    RecoveryKind = "retry"
	RecoverySkip     RecoveryKind = "skip"
	RecoveryFallback RecoveryKind = "fallback"
	RecoveryAbort    RecoveryKind = "abort"
	RecoveryAdjust   RecoveryKind = "adjust"
)

// ParseRecoveryKind validates an action name.
func ParseRecoveryKind(s string) (RecoveryKind, error) {
	switch k := RecoveryKind(s); k {
	case RecoveryRetry, RecoverySkip, RecoveryFallback, RecoveryAbort, RecoveryAdjust:
		return k, nil
	default:
		return "", fmt.Errorf("unknown recovery action %q", s)
	}
}

// RecoveryAction is a tagged variant. Only the fields of its Kind are set:
// MaxRetries for retry, FallbackWorker/ReplacedWorker for fallback, Patches
// for adjust and Cause for a forced abort.
type RecoveryAction struct {
	Kind           RecoveryKind     `json:"action"`
	MaxRetries     int              `json:"max_retries,omitempty"`
	FallbackWorker string           `json:"fallback_worker,omitempty"`
	ReplacedWorker string           `json:"replaced_worker,omitempty"`
	Patches        []map[string]any `json:"patches,omitempty"`
	Reason         string           `json:"reason"`
	Cause          error            `json:"-"`
}

// Retry builds a retry action.
func Retry(maxRetries int, reason string) RecoveryAction {
	return RecoveryAction{Kind: RecoveryRetry, MaxRetries: maxRetries, Reason: reason}
}

// Skip builds a skip action.
func Skip(reason string) RecoveryAction {
	return RecoveryAction{Kind: RecoverySkip, Reason: reason}
}

// Fallback builds a fallback action replacing one worker with another.
func Fallback(fallbackWorker, replaced, reason string) RecoveryAction {
	return RecoveryAction{
		Kind:           RecoveryFallback,
		FallbackWorker: fallbackWorker,
		ReplacedWorker: replaced,
		Reason:         reason,
	}
}

// Abort builds an abort action.
func Abort(reason string, cause error) RecoveryAction {
	return RecoveryAction{Kind: RecoveryAbort, Reason: reason, Cause: cause}
}

// Adjust builds an adjust action.
func Adjust(patches []map[string]any, reason string) RecoveryAction {
	return RecoveryAction{Kind: RecoveryAdjust, Patches: patches, Reason: reason}
}

func (a RecoveryAction) String() string {
	switch a.Kind {
	case RecoveryRetry:
		return fmt.Sprintf("retry(%d)", a.MaxRetries)
	case RecoveryFallback:
		return fmt.Sprintf("fallback(%s)", a.FallbackWorker)
	case RecoveryAdjust:
		return fmt.Sprintf("adjust(%d patches)", len(a.Patches))
	default:
		return string(a.Kind)
	}
}
