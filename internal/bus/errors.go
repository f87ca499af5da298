package bus

import "errors"

// Domain-specific errors for bus operations.
// Use errors.Is() to check for these errors in calling code.
var (
	// ErrDuplicateName is returned when a device or driver name is already registered.
	ErrDuplicateName = errors.New("bus: duplicate name")

	// ErrNotFound is returned when a named entity is not registered.
	ErrNotFound = errors.New("bus: not found")

	// ErrInvalidName is returned for an empty entity name.
	ErrInvalidName = errors.New("bus: invalid name")

	// ErrInvalidState is returned when an entity cannot make the requested
	// lifecycle transition (e.g. registering a released device).
	ErrInvalidState = errors.New("bus: invalid state")

	// ErrClosed is returned by registrations on a closed bus.
	ErrClosed = errors.New("bus: closed")

	// ErrInvalidValue is returned by bus attribute writers for malformed input.
	ErrInvalidValue = errors.New("bus: invalid value")
)
