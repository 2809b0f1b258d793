package settlement

import (
	"errors"
	"fmt"
)

var (
	// ErrTimeout is returned by a single submit-and-wait attempt that did
	// not confirm within the confirmation timeout. Coordinator retries it.
	ErrTimeout = errors.New("claim confirmation timed out")

	// ErrClosed is returned by Dispatch after Close.
	ErrClosed = errors.New("dispatcher closed")
)

// Error reports a failed batch settlement.
type Error struct {
	BatchID string
	Err     error
}

// Error implements the error interface.
func (e *Error) Error() string {
	return fmt.Sprintf("settle batch %s: %v", e.BatchID, e.Err)
}

// Unwrap returns the underlying cause error.
func (e *Error) Unwrap() error {
	return e.Err
}
