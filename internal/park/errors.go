package park

import "errors"

var (
	// ErrNotFound is returned when no park has the given name.
	ErrNotFound = errors.New("park: not found")

	// ErrInvalidName is returned for empty or oversized park names.
	ErrInvalidName = errors.New("park: invalid name")

	// ErrInvalidGroup is returned for empty or oversized group names.
	ErrInvalidGroup = errors.New("park: invalid group")

	// ErrInvalidState is returned for states outside 0..3.
	ErrInvalidState = errors.New("park: invalid state")
)
