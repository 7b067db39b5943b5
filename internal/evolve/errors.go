package evolve

import "errors"

var (
	// ErrNilTracker is returned by New when no tracker is supplied.
	ErrNilTracker = errors.New("evolve: nil tracker")

	// ErrNoBlueprint is returned by blueprint-backed strategies when the
	// cycle has no store or blueprint name.
	ErrNoBlueprint = errors.New("evolve: no blueprint configured")
)

// PhaseError wraps a strategy or tracker failure with the phase it
// happened in.
type PhaseError struct {
	Phase Phase
	Err   error
}

func (e *PhaseError) Error() string {
	return e.Phase.String() + " phase: " + e.Err.Error()
}

func (e *PhaseError) Unwrap() error {
	return e.Err
}
