package blueprint

import "errors"

var (
	// ErrNotFound indicates a blueprint version does not exist. Load reports
	// absence through its found result instead; ErrNotFound is returned by
	// operations that need an existing version, such as Restore.
	ErrNotFound = errors.New("blueprint version not found")
	// ErrInvalidName indicates an empty name or tag, or one that would escape
	// the store directory.
	ErrInvalidName = errors.New("invalid blueprint name or tag")
)

// NotFoundMessage is the single diff line returned when either side of a
// diff is missing.
const NotFoundMessage = "Error: One or both versions not found."
