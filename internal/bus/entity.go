package bus

import (
	"sync"
	"sync/atomic"
)

// State is the lifecycle stage of a device or driver.
type State int32

// Lifecycle states. No transition skips a state.
const (
	StateUnregistered State = iota
	StateRegistered
	StateUnregistering
	StateReleased
)

// String returns the lowercase state name.
func (s State) String() string {
	switch s {
	case StateUnregistered:
		return "unregistered"
	case StateRegistered:
		return "registered"
	case StateUnregistering:
		return "unregistering"
	case StateReleased:
		return "released"
	default:
		return "unknown"
	}
}

// MarshalText implements encoding.TextMarshaler.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// lifecycle is the reference count and state shared by devices and drivers.
//
// The registry holds one reference for as long as the entity is
// registered. When the count drops to zero in StateUnregistering the
// entity moves to StateReleased and onRelease runs, exactly once.
type lifecycle struct {
	refs  atomic.Int32
	state atomic.Int32
	once  sync.Once
}

func (l *lifecycle) State() State { return State(l.state.Load()) }

// register moves Unregistered -> Registered and takes the registry reference.
func (l *lifecycle) register() bool {
	if !l.state.CompareAndSwap(int32(StateUnregistered), int32(StateRegistered)) {
		return false
	}
	l.refs.Store(1)
	return true
}

// abort undoes register when the insertion fails after the state change.
func (l *lifecycle) abort() {
	l.refs.Store(0)
	l.state.Store(int32(StateUnregistered))
}

// beginUnregister moves Registered -> Unregistering.
func (l *lifecycle) beginUnregister() bool {
	return l.state.CompareAndSwap(int32(StateRegistered), int32(StateUnregistering))
}

func (l *lifecycle) get() {
	l.refs.Add(1)
}

// put drops one reference and runs onRelease when the last one goes away
// after unregistration began.
func (l *lifecycle) put(what string, onRelease func()) {
	n := l.refs.Add(-1)
	if n < 0 {
		panic("bus: " + what + " reference count underflow")
	}
	if n > 0 {
		return
	}
	if l.state.CompareAndSwap(int32(StateUnregistering), int32(StateReleased)) {
		l.once.Do(onRelease)
	}
}
