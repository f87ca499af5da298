package uevent

import "errors"

// Domain-specific errors for notification delivery.
var (
	// ErrPayloadTooLarge is returned when the formatted event does not fit
	// the channel's fixed buffer. The event is not delivered.
	ErrPayloadTooLarge = errors.New("uevent: payload too large")

	// ErrUnknownFormat is returned when encoding with an unsupported format.
	ErrUnknownFormat = errors.New("uevent: unknown payload format")
)
