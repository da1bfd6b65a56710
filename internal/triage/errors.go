package triage

import (
	"errors"
	"fmt"
)

// Error kinds surfaced by Handler.Handle. Match them with errors.Is.
var (
	// ErrValidation means the alert lacked required fields. Not retryable.
	ErrValidation = errors.New("validation error")

	// ErrInference means classification failed or returned unusable output.
	// Nothing was persisted or published.
	ErrInference = errors.New("inference error")

	// ErrPersistence means the store write failed. Escalations were still
	// published.
	ErrPersistence = errors.New("persistence error")

	// ErrNotification means the publish failed after the result was stored.
	ErrNotification = errors.New("notification error")
)

// Error ties an error kind to the alert it happened on.
type Error struct {
	Kind    error
	AlertID string
	Err     error
}

func newError(kind error, alertID string, err error) *Error {
	return &Error{Kind: kind, AlertID: alertID, Err: err}
}

func (e *Error) Error() string {
	if e.AlertID == "" {
		return fmt.Sprintf("%v: %v", e.Kind, e.Err)
	}
	return fmt.Sprintf("%v: alert %s: %v", e.Kind, e.AlertID, e.Err)
}

// Unwrap exposes both the kind and the cause to errors.Is and errors.As.
func (e *Error) Unwrap() []error {
	return []error{e.Kind, e.Err}
}
