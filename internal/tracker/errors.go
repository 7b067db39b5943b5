package tracker

import (
	"errors"
	"fmt"
)

var (
	// ErrAlreadyFinalized indicates the current generation is already sealed
	// at the tail of history. Only reported by strict trackers.
	ErrAlreadyFinalized = errors.New("generation already finalized")
	// ErrUnknownStatus indicates an unrecognized status name.
	ErrUnknownStatus = errors.New("unknown component status")
)

// StateError records a lifecycle precondition violation on a tracker.
type StateError struct {
	Component string
	GenID     int
	Err       error
}

// Error returns the component and generation context of the violation.
func (e *StateError) Error() string {
	return fmt.Sprintf("tracker %s: generation %d: %v", e.Component, e.GenID, e.Err)
}

// Unwrap returns the underlying sentinel for use with errors.Is.
func (e *StateError) Unwrap() error {
	return e.Err
}
