package schema

import (
	"errors"
	"fmt"
)

// Error codes for structured error reporting.
const (
	// Expression and template errors.
	ErrCodeInvalidFormat     = "INVALID_FORMAT"
	ErrCodeExpressionTooLong = "EXPRESSION_TOO_LONG"
	ErrCodeForbiddenProperty = "FORBIDDEN_PROPERTY"
	ErrCodeEvaluationFailed  = "EVALUATION_FAILED"
	ErrCodeEvaluationError   = "EVALUATION_ERROR"

	ErrCodeValidation           = "VALIDATION_ERROR"
	ErrCodeToolNotFound         = "TOOL_NOT_FOUND"
	ErrCodeTransitionNotAllowed = "TRANSITION_NOT_ALLOWED"
	ErrCodeIsolationViolation   = "ISOLATION_VIOLATION"
	ErrCodeExecution            = "EXECUTION_ERROR"
	ErrCodeNotFound             = "NOT_FOUND"
	ErrCodeConflict             = "CONFLICT"
	ErrCodeStore                = "STORE_ERROR"
	ErrCodeLock                 = "LOCK_ERROR"
)

// WaypointError is the structured error type for all engine operations.
type WaypointError struct {
	Code       string         `json:"code"`
	Message    string         `json:"message"`
	Details    map[string]any `json:"details,omitempty"`
	Transition string         `json:"transition,omitempty"`
	Cause      error          `json:"-"`
}

func (e *WaypointError) Error() string {
	if e.Transition != "" {
		return fmt.Sprintf("[%s] transition %s: %s", e.Code, e.Transition, e.Message)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

func (e *WaypointError) Unwrap() error {
	return e.Cause
}

// NewError creates a new WaypointError.
func NewError(code, message string) *WaypointError {
	return &WaypointError{Code: code, Message: message}
}

// NewErrorf creates a new WaypointError with a formatted message.
func NewErrorf(code, format string, args ...any) *WaypointError {
	return &WaypointError{Code: code, Message: fmt.Sprintf(format, args...)}
}

// WithTransition attaches a transition ID to the error.
func (e *WaypointError) WithTransition(id string) *WaypointError {
	e.Transition = id
	return e
}

// WithCause attaches an underlying cause.
func (e *WaypointError) WithCause(err error) *WaypointError {
	e.Cause = err
	return e
}

// WithDetails attaches key-value details.
func (e *WaypointError) WithDetails(details map[string]any) *WaypointError {
	e.Details = details
	return e
}

// CodeOf returns the code of the first WaypointError in err's chain, or "".
func CodeOf(err error) string {
	var wErr *WaypointError
	if errors.As(err, &wErr) {
		return wErr.Code
	}
	return ""
}

// IsCode reports whether err carries the given code anywhere in its chain.
func IsCode(err error, code string) bool {
	for err != nil {
		var wErr *WaypointError
		if !errors.As(err, &wErr) {
			return false
		}
		if wErr.Code == code {
			return true
		}
		err = wErr.Cause
	}
	return false
}

// TransitionOf returns the first transition id attached to a WaypointError
// in err's chain, or "".
func TransitionOf(err error) string {
	for err != nil {
		var wErr *WaypointError
		if !errors.As(err, &wErr) {
			return ""
		}
		if wErr.Transition != "" {
			return wErr.Transition
		}
		err = wErr.Cause
	}
	return ""
}
