package dispatcher

import (
	"errors"
	"fmt"
)

var (
	// ErrNotAttached indicates an id that was never attached or has already been detached.
	ErrNotAttached = errors.New("dispatcher: object not attached")

	// ErrAlreadyAttached indicates Attach was called twice for the same id.
	ErrAlreadyAttached = errors.New("dispatcher: object already attached")

	// ErrDetachPending indicates Detach was called twice for the same id.
	ErrDetachPending = errors.New("dispatcher: detach already pending")

	// ErrNilTask indicates a nil task was handed to Enqueue.
	ErrNilTask = errors.New("dispatcher: nil task")
)

// MisuseError is the panic value for lifecycle violations.
type MisuseError struct {
	// Op is the dispatcher method that was misused.
	Op string
	// ID is the object the call referred to.
	ID ObjectID
	// Err is the underlying sentinel.
	Err error
}

// Error returns a formatted error message.
func (e *MisuseError) Error() string {
	return fmt.Sprintf("dispatcher %s %s: %v", e.Op, e.ID, e.Err)
}

// Unwrap returns the underlying error for error chain inspection.
func (e *MisuseError) Unwrap() error {
	return e.Err
}
