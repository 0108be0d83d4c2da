package pipeline

import (
	"errors"
	"fmt"
)

// ErrorClass classifies a pipeline error for retry and surfacing decisions.
type ErrorClass string

const (
	// ErrorClassValidation indicates bad input: unknown scenario, missing
	// manifest, unknown connector. Never retried.
	ErrorClassValidation ErrorClass = "validation"

	// ErrorClassTransient indicates a temporary adapter failure (network
	// timeout, rate limit, "still indexing"). Eligible for retry from the
	// failed step.
	ErrorClassTransient ErrorClass = "transient"

	// ErrorClassPermanent indicates a non-recoverable adapter failure
	// (malformed data, conflicting resource state, selection invariant
	// violation). Requires operator intervention.
	ErrorClassPermanent ErrorClass = "permanent"

	// ErrorClassRunInProgress indicates a provisioning request was rejected
	// because a run for the same scenario is already active.
	ErrorClassRunInProgress ErrorClass = "run_in_progress"

	// ErrorClassCancelled indicates the run was cancelled at a step
	// boundary. Shares the resume path with ordinary failures.
	ErrorClassCancelled ErrorClass = "cancelled"
)

// Error is a classified pipeline error with step context.
type Error struct {
	// Class drives retry eligibility and surfacing.
	Class ErrorClass `json:"class"`

	// Message is the human-readable error message.
	Message string `json:"message"`

	// Step is the step identifier the error occurred at, if any.
	Step StepID `json:"step,omitempty"`

	// Scenario is the scenario identifier, if known.
	Scenario string `json:"scenario,omitempty"`

	// Err is the underlying cause.
	Err error `json:"-"`
}

// Error implements the error interface.
func (e *Error) Error() string {
	msg := e.Message
	if e.Err != nil {
		msg = fmt.Sprintf("%s: %s", e.Message, e.Err.Error())
	}
	if e.Step != "" {
		return fmt.Sprintf("[%s] step %s: %s", e.Class, e.Step, msg)
	}
	return fmt.Sprintf("[%s] %s", e.Class, msg)
}

// Unwrap returns the underlying cause for error chain inspection.
func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches on class so sentinel-style comparisons work with errors.Is.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Class == t.Class
}

// WithStep attaches step context.
func (e *Error) WithStep(id StepID) *Error {
	e.Step = id
	return e
}

// WithScenario attaches scenario context.
func (e *Error) WithScenario(scenarioID string) *Error {
	e.Scenario = scenarioID
	return e
}

// NewValidationError creates a validation error.
func NewValidationError(message string, err error) *Error {
	return &Error{Class: ErrorClassValidation, Message: message, Err: err}
}

// NewTransientError creates a transient adapter error.
func NewTransientError(message string, err error) *Error {
	return &Error{Class: ErrorClassTransient, Message: message, Err: err}
}

// NewPermanentError creates a permanent adapter error.
func NewPermanentError(message string, err error) *Error {
	return &Error{Class: ErrorClassPermanent, Message: message, Err: err}
}

// NewRunInProgressError creates the fail-fast rejection for a scenario that
// already has an active run.
func NewRunInProgressError(scenarioID string) *Error {
	return &Error{
		Class:    ErrorClassRunInProgress,
		Message:  "provisioning run already in progress",
		Scenario: scenarioID,
	}
}

// NewCancelledError creates the cancellation failure recorded at a step
// boundary.
func NewCancelledError(err error) *Error {
	return &Error{Class: ErrorClassCancelled, Message: "run cancelled", Err: err}
}

// ClassOf extracts the class of an error, defaulting to permanent for
// anything unclassified that reaches the pipeline boundary.
func ClassOf(err error) ErrorClass {
	var e *Error
	if errors.As(err, &e) {
		return e.Class
	}
	return ErrorClassPermanent
}

// IsTransient reports whether the error is classified transient.
func IsTransient(err error) bool {
	return ClassOf(err) == ErrorClassTransient
}

// IsValidation reports whether the error is classified as validation.
func IsValidation(err error) bool {
	return ClassOf(err) == ErrorClassValidation
}

// IsRunInProgress reports whether the error is the mutual-exclusion
// rejection.
func IsRunInProgress(err error) bool {
	return ClassOf(err) == ErrorClassRunInProgress
}

// IsCancelled reports whether the error records a cancellation.
func IsCancelled(err error) bool {
	return ClassOf(err) == ErrorClassCancelled
}

// IsRetryable reports whether a retry from the failed step may succeed.
// Cancelled runs are retryable: cancellation shares the resume path.
func IsRetryable(err error) bool {
	c := ClassOf(err)
	return c == ErrorClassTransient || c == ErrorClassCancelled
}
