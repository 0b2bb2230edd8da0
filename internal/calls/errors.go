package calls

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound = errors.New("calls: not found")

	// ErrInvalidState is returned when a client-requested action (cancel)
	// is illegal for the call's current status.
	ErrInvalidState = errors.New("calls: invalid state for requested action")

	// ErrStaleStatus is returned by ConditionalUpdate when the call's current
	// status is not in the expected set. Webhook reconciliation treats it as
	// a benign drop, not a failure.
	ErrStaleStatus = errors.New("calls: status not in expected set")

	// ErrProviderIDConflict is returned when an update would overwrite an
	// already-set provider call id with a different value.
	ErrProviderIDConflict = errors.New("calls: provider call id already set")

	// ErrDuplicateRecording is returned when a second Recording is created
	// for the same call.
	ErrDuplicateRecording = errors.New("calls: recording already exists for call")
)

// ValidationError reports a malformed or missing request field.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("calls: invalid %s: %s", e.Field, e.Reason)
}

func NewValidationError(field, reason string) *ValidationError {
	return &ValidationError{Field: field, Reason: reason}
}
