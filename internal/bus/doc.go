// Package bus implements a virtual bus on which independently built
// devices and drivers find each other by name.
//
// A Bus owns two sets: registered Devices and registered Drivers, each
// keyed by a unique name. Registering a device scans the drivers in
// registration order and binds the device to the first one the bus's
// Matcher accepts. The default Matcher is a byte-wise prefix match: driver
// "sculld" services devices "sculld0", "sculld1" and so on.
//
// # Lifecycle
//
// Devices and drivers move through Unregistered, Registered, Unregistering
// and Released. Unregistering makes an entity undiscoverable at once, but
// its release callback only runs when the last reference obtained through
// Get or a Lookup call is returned with Put.
//
// A Bus is an explicit value created with New and torn down with Close.
// There is no package-level bus.
//
// # Concurrency
//
// One mutex per Bus serialises membership changes and matching passes.
// Each entity's attribute store has its own lock; the bus lock is never
// taken while an attribute lock is held. Probe and Remove callbacks and
// notifications run after the bus lock is released.
//
// A driver registered concurrently with an in-flight device registration
// may or may not be seen by that registration. Drivers registered later
// never pick up existing devices on their own; call Rescan for that.
package bus
