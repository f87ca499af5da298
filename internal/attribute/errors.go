package attribute

import "errors"

// Domain-specific errors for attribute operations.
// Use errors.Is() to check for these errors in calling code.
var (
	// ErrDuplicateAttribute is returned when publishing a name that already exists.
	ErrDuplicateAttribute = errors.New("attribute: duplicate attribute")

	// ErrNotFound is returned when the named attribute does not exist.
	ErrNotFound = errors.New("attribute: not found")

	// ErrPermissionDenied is returned when the mode or accessor set forbids the operation.
	ErrPermissionDenied = errors.New("attribute: permission denied")

	// ErrInvalidAttribute is returned when an attribute definition is malformed.
	ErrInvalidAttribute = errors.New("attribute: invalid attribute")

	// ErrOwnerUnavailable is returned when the attribute's owner refuses
	// to be pinned, e.g. a module that is no longer loaded.
	ErrOwnerUnavailable = errors.New("attribute: owner unavailable")
)
