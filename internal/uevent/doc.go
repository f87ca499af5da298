// Package uevent delivers structured notifications about bus membership
// changes to external subscribers.
//
// It models the hotplug/uevent mechanism of a kernel bus: every event is
// rendered into a fixed-capacity environment buffer of KEY=VALUE entries
// before anyone sees it. If the rendered payload does not fit, the whole
// event fails with ErrPayloadTooLarge and no subscriber receives any part
// of it. The buffer is never grown.
//
// # Delivery
//
// Subscribers are invoked synchronously, in subscription order, from the
// goroutine that raised the event. They must not block and must not call
// back into the bus. Subscribers that need I/O (MQTT, databases) should be
// wrapped in a Queue, which buffers events and hands them to a Sink on its
// own goroutine, dropping rather than blocking when full.
//
// There is no retry. Callers treat a failed notification as non-fatal and
// log it.
package uevent
