package core

import (
	"errors"
	"fmt"
)

// ErrorCategory classifies errors for handling decisions.
type ErrorCategory string

const (
	ErrCatValidation ErrorCategory = "validation" // Invalid plan, config or input
	ErrCatExecution  ErrorCategory = "execution"  // Runtime failure
	ErrCatTimeout    ErrorCategory = "timeout"    // Deadline elapsed
	ErrCatCancelled  ErrorCategory = "cancelled"  // Caller cancelled
	ErrCatRecovery   ErrorCategory = "recovery"   // Recovery budget exhausted
	ErrCatNotFound   ErrorCategory = "not_found"  // Resource not found
	ErrCatInternal   ErrorCategory = "internal"   // Unexpected internal error
)

// DomainError represents a structured error from the domain layer.
type DomainError struct {
	Category  ErrorCategory
	Code      string
	Message   string
	Retryable bool
	Cause     error
	Details   map[string]interface{}
}

// Error implements the error interface.
func (e *DomainError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s] %s: %s (%v)", e.Category, e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s] %s: %s", e.Category, e.Code, e.Message)
}

// Unwrap returns the underlying cause.
func (e *DomainError) Unwrap() error {
	return e.Cause
}

// Is matches on category and code.
func (e *DomainError) Is(target error) bool {
	t, ok := target.(*DomainError)
	if !ok {
		return false
	}
	return e.Category == t.Category && e.Code == t.Code
}

// WithCause wraps an underlying error.
func (e *DomainError) WithCause(cause error) *DomainError {
	e.Cause = cause
	return e
}

// WithDetail adds contextual information.
func (e *DomainError) WithDetail(key string, value interface{}) *DomainError {
	if e.Details == nil {
		e.Details = make(map[string]interface{})
	}
	e.Details[key] = value
	return e
}

// ErrValidation creates a validation error.
func ErrValidation(code, message string) *DomainError {
	return &DomainError{
		Category: ErrCatValidation,
		Code:     code,
		Message:  message,
	}
}

// ErrExecution creates an execution error.
func ErrExecution(code, message string) *DomainError {
	return &DomainError{
		Category:  ErrCatExecution,
		Code:      code,
		Message:   message,
		Retryable: true,
	}
}

// ErrTimeout creates a timeout error.
func ErrTimeout(code, message string) *DomainError {
	return &DomainError{
		Category:  ErrCatTimeout,
		Code:      code,
		Message:   message,
		Retryable: true,
	}
}

// ErrCancelled creates a cancellation error.
func ErrCancelled(message string) *DomainError {
	return &DomainError{
		Category: ErrCatCancelled,
		Code:     CodeCancelled,
		Message:  message,
	}
}

// ErrNotFound creates a not found error.
func ErrNotFound(resource, id string) *DomainError {
	return &DomainError{
		Category: ErrCatNotFound,
		Code:     CodeNotFound,
		Message:  fmt.Sprintf("%s not found: %s", resource, id),
	}
}

// ErrPlanValidation creates a PlanValidationError.
func ErrPlanValidation(code, message string) *DomainError {
	return ErrValidation(code, message)
}

// ErrPhaseTimeout creates a PhaseTimeoutError for the given phase.
func ErrPhaseTimeout(phaseRef string) *DomainError {
	return ErrTimeout(CodePhaseTimeout, fmt.Sprintf("phase %s deadline elapsed", phaseRef)).
		WithDetail("phase", phaseRef)
}

// ErrRecoveryExhausted creates a RecoveryExhaustedError.
func ErrRecoveryExhausted(phaseRef string, attempts, maxRetries int) *DomainError {
	return &DomainError{
		Category: ErrCatRecovery,
		Code:     CodeRetryBudgetExhausted,
		Message:  fmt.Sprintf("phase %s exceeded max retries (%d)", phaseRef, maxRetries),
		Details: map[string]interface{}{
			"phase":       phaseRef,
			"attempts":    attempts,
			"max_retries": maxRetries,
		},
	}
}

// GetCategory extracts the error category.
func GetCategory(err error) ErrorCategory {
	var domErr *DomainError
	if errors.As(err, &domErr) {
		return domErr.Category
	}
	return ErrCatInternal
}

// IsCategory checks if an error belongs to a category.
func IsCategory(err error, cat ErrorCategory) bool {
	return GetCategory(err) == cat
}

// IsPlanValidation reports whether err is a PlanValidationError.
func IsPlanValidation(err error) bool {
	return IsCategory(err, ErrCatValidation)
}

// GetCode extracts the error code, or "" for non-domain errors.
func GetCode(err error) string {
	var domErr *DomainError
	if errors.As(err, &domErr) {
		return domErr.Code
	}
	return ""
}

// Predefined error codes
const (
	CodeNotFound  = "NOT_FOUND"
	CodeCancelled = "CANCELLED"

	// Plan validation codes
	CodeDAGCycle          = "DAG_CYCLE"
	CodeForwardDependency = "FORWARD_DEPENDENCY"
	CodeUnknownPhaseRef   = "UNKNOWN_PHASE_REF"
	CodeDuplicatePhase    = "DUPLICATE_PHASE"
	CodeTooManyPhases     = "TOO_MANY_PHASES"
	CodeEmptyPlan         = "EMPTY_PLAN"
	CodeParseFailed       = "PARSE_FAILED"
	CodeInvalidConfig     = "INVALID_CONFIG"

	// Execution codes
	CodeOracleFailed   = "ORACLE_FAILED"
	CodeUnknownWorker  = "UNKNOWN_WORKER"
	CodeToolNotAllowed = "TOOL_NOT_ALLOWED"
	CodeToolFailed     = "TOOL_FAILED"

	// Timeout codes
	CodePhaseTimeout = "PHASE_TIMEOUT"
	CodeTaskTimeout  = "TASK_TIMEOUT"

	// Recovery codes
	CodeRetryBudgetExhausted = "RETRY_BUDGET_EXHAUSTED"
)
