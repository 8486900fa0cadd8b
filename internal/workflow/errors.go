package workflow

import (
	"errors"
	"fmt"
)

// Error taxonomy for engine operations. Every error is terminal for the single
// operation: no partial state is ever left, and nothing is retried here.
var (
	// ErrNotFound means the task id does not exist.
	ErrNotFound = errors.New("task not found")
	// ErrForbidden means the actor's role or identity does not satisfy the
	// operation's guard. Never retried.
	ErrForbidden = errors.New("forbidden")
	// ErrConflict means a conditional update lost a race with another actor.
	// The caller re-reads the task and decides whether to retry.
	ErrConflict = errors.New("conflict: task changed, re-read and retry")
	// ErrValidation means a required input is missing or malformed.
	ErrValidation = errors.New("invalid input")
)

// InvalidTransitionError means the requested event is not defined for the
// task's current stage. Stage is included so the caller can resynchronize.
type InvalidTransitionError struct {
	Stage string
	Event string
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("invalid transition: no %q event at stage %q", e.Event, e.Stage)
}

func invalidTransition(stage, event string) error {
	return &InvalidTransitionError{Stage: stage, Event: event}
}
