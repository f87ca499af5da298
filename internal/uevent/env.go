package uevent

import (
	"fmt"
	"strings"
)

// DefaultBufferSize is the default payload capacity in bytes. It matches
// the kernel's UEVENT_BUFFER_SIZE.
const DefaultBufferSize = 2048

// Environment variable keys carried by every event.
const (
	KeyAction    = "ACTION"
	KeySubsystem = "SUBSYSTEM"
	KeyDevName   = "DEVNAME"
	KeyDriver    = "DRIVER"
)

// VersionKey returns the bus-specific key that carries the device name,
// e.g. "LDDBUS_VERSION" for bus "ldd".
func VersionKey(bus string) string {
	return strings.ToUpper(bus) + "BUS_VERSION"
}

// Env is a fixed-capacity buffer of NUL-terminated KEY=VALUE entries.
//
// Each entry costs len(key)+1+len(value)+1 bytes. An Add that would take
// the total past the capacity fails and leaves the buffer unchanged.
type Env struct {
	buf  []byte
	vars []string
}

// NewEnv creates an empty environment of the given capacity in bytes.
func NewEnv(capacity int) *Env {
	if capacity < 0 {
		capacity = 0
	}
	return &Env{buf: make([]byte, 0, capacity)}
}

// Add appends KEY=VALUE to the buffer.
func (e *Env) Add(key, value string) error {
	entry := key + "=" + value
	need := len(entry) + 1
	if len(e.buf)+need > cap(e.buf) {
		return fmt.Errorf("%w: %s needs %d bytes, %d of %d free",
			ErrPayloadTooLarge, key, need, cap(e.buf)-len(e.buf), cap(e.buf))
	}
	e.buf = append(e.buf, entry...)
	e.buf = append(e.buf, 0)
	e.vars = append(e.vars, entry)
	return nil
}

// Len returns the number of bytes used.
func (e *Env) Len() int { return len(e.buf) }

// Cap returns the fixed capacity in bytes.
func (e *Env) Cap() int { return cap(e.buf) }

// Vars returns a copy of the KEY=VALUE entries in insertion order.
func (e *Env) Vars() []string {
	vars := make([]string, len(e.vars))
	copy(vars, e.vars)
	return vars
}

// Bytes returns a copy of the raw NUL-separated payload.
func (e *Env) Bytes() []byte {
	b := make([]byte, len(e.buf))
	copy(b, e.buf)
	return b
}

// Lookup returns the value of key, if present.
func (e *Env) Lookup(key string) (string, bool) {
	prefix := key + "="
	for _, v := range e.vars {
		if strings.HasPrefix(v, prefix) {
			return v[len(prefix):], true
		}
	}
	return "", false
}

// envVars lists the entries rendered for one event, in order.
func envVars(action Action, bus, device, driver string) [][2]string {
	vars := [][2]string{
		{KeyAction, string(action)},
		{KeySubsystem, bus},
		{KeyDevName, device},
		{VersionKey(bus), device},
	}
	if driver != "" {
		vars = append(vars, [2]string{KeyDriver, driver})
	}
	return vars
}

// PayloadSize returns the number of bytes an event with these fields
// occupies in the environment buffer.
func PayloadSize(action Action, bus, device, driver string) int {
	n := 0
	for _, kv := range envVars(action, bus, device, driver) {
		n += len(kv[0]) + 1 + len(kv[1]) + 1
	}
	return n
}

// render builds the environment for an event, failing atomically.
func render(capacity int, action Action, bus, device, driver string) (*Env, error) {
	env := NewEnv(capacity)
	for _, kv := range envVars(action, bus, device, driver) {
		if err := env.Add(kv[0], kv[1]); err != nil {
			return nil, err
		}
	}
	return env, nil
}
