package hotplug

import "errors"

var (
	// ErrInvalidRequest is returned for malformed payloads or unknown actions.
	ErrInvalidRequest = errors.New("hotplug: invalid request")

	// ErrWrongBus is returned when a topic names a different bus.
	ErrWrongBus = errors.New("hotplug: wrong bus")

	// ErrNotOwned is returned when removing a device the bridge did not add.
	ErrNotOwned = errors.New("hotplug: device not owned by bridge")
)
