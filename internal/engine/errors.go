package engine

import (
	"errors"
	"fmt"
)

// ErrStopped is returned by Dispatch after Stop.
var ErrStopped = errors.New("engine stopped")

// RuntimeError represents an error detected while processing an event.
//
// Runtime errors include:
//   - Unknown event: no handler registered for the event id
//   - Interceptor failed: a before or after stage returned an error
//   - Quota exceeded: a flow dispatched more events than MaxSteps in one drain
//
// All of them are logged where they are detected; the event is dropped and
// processing continues with the next queued event.
type RuntimeError struct {
	// Code identifies the error category.
	Code RuntimeErrorCode

	// Message is a human-readable description.
	Message string

	// EventID is the id of the event being processed.
	EventID string

	// Interceptor is the id of the failing interceptor, if any.
	Interceptor string

	// FlowToken identifies the affected flow.
	FlowToken string

	// Err is the underlying cause.
	Err error
}

// RuntimeErrorCode categorizes runtime errors.
type RuntimeErrorCode string

const (
	// ErrCodeUnknownEvent indicates no handler is registered for the event.
	ErrCodeUnknownEvent RuntimeErrorCode = "UNKNOWN_EVENT"

	// ErrCodeInterceptorFailed indicates an interceptor stage failed.
	ErrCodeInterceptorFailed RuntimeErrorCode = "INTERCEPTOR_FAILED"

	// ErrCodeQuotaExceeded indicates the flow exceeded max steps.
	ErrCodeQuotaExceeded RuntimeErrorCode = "QUOTA_EXCEEDED"
)

// Error implements the error interface.
func (e *RuntimeError) Error() string {
	msg := fmt.Sprintf("%s: %s", e.Code, e.Message)
	if e.EventID != "" {
		msg += fmt.Sprintf(" (event=%s", e.EventID)
		if e.Interceptor != "" {
			msg += fmt.Sprintf(", interceptor=%s", e.Interceptor)
		}
		msg += ")"
	}
	return msg
}

// Unwrap returns the underlying cause.
func (e *RuntimeError) Unwrap() error {
	return e.Err
}

func hasCode(err error, code RuntimeErrorCode) bool {
	var re *RuntimeError
	if errors.As(err, &re) {
		return re.Code == code
	}
	return false
}

// IsUnknownEvent returns true if err reports an event with no handler.
func IsUnknownEvent(err error) bool {
	return hasCode(err, ErrCodeUnknownEvent)
}

// IsInterceptorError returns true if err reports a failed interceptor stage.
func IsInterceptorError(err error) bool {
	return hasCode(err, ErrCodeInterceptorFailed)
}

// IsQuotaError returns true if err reports an event dropped by the quota.
// Matches both RuntimeError with ErrCodeQuotaExceeded and QuotaExceededError.
func IsQuotaError(err error) bool {
	if hasCode(err, ErrCodeQuotaExceeded) {
		return true
	}
	var qe *QuotaExceededError
	return errors.As(err, &qe)
}

// NewQuotaError wraps a quota rejection as a RuntimeError.
func NewQuotaError(cause *QuotaExceededError) *RuntimeError {
	return &RuntimeError{
		Code:      ErrCodeQuotaExceeded,
		Message:   fmt.Sprintf("flow exceeded max steps (%d > %d)", cause.Used, cause.Limit),
		EventID:   cause.EventID,
		FlowToken: cause.FlowToken,
		Err:       cause,
	}
}
