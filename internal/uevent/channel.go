package uevent

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// Action identifies what happened to a device.
type Action string

// Supported actions.
const (
	ActionAdd    Action = "add"
	ActionRemove Action = "remove"
	ActionBind   Action = "bind"
	ActionUnbind Action = "unbind"
)

// Event is one delivered notification.
type Event struct {
	ID        uuid.UUID `json:"id" cbor:"id"`
	Seq       uint64    `json:"seq" cbor:"seq"`
	Action    Action    `json:"action" cbor:"action"`
	Bus       string    `json:"bus" cbor:"bus"`
	Device    string    `json:"device" cbor:"device"`
	Driver    string    `json:"driver,omitempty" cbor:"driver,omitempty"`
	Env       []string  `json:"env" cbor:"env"`
	Timestamp time.Time `json:"timestamp" cbor:"timestamp"`
}

// Subscriber receives events synchronously. It must not block.
type Subscriber func(Event)

// Logger defines the logging interface used by the Channel.
type Logger interface {
	Debug(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

type subscriberEntry struct {
	id uint64
	fn Subscriber
}

// Channel fans events out to subscribers after rendering them into a
// fixed-capacity buffer.
//
// Thread Safety:
//   - All methods are safe for concurrent use from multiple goroutines.
type Channel struct {
	capacity int
	seq      atomic.Uint64

	mu     sync.RWMutex
	subs   []subscriberEntry
	nextID uint64

	logger atomic.Value // Logger
}

// NewChannel creates a channel whose payload buffer holds capacity bytes.
// A non-positive capacity selects DefaultBufferSize.
func NewChannel(capacity int) *Channel {
	if capacity <= 0 {
		capacity = DefaultBufferSize
	}
	c := &Channel{capacity: capacity}
	c.logger.Store(Logger(noopLogger{}))
	return c
}

// SetLogger sets the logger used to report subscriber panics.
func (c *Channel) SetLogger(logger Logger) {
	if logger == nil {
		logger = noopLogger{}
	}
	c.logger.Store(logger)
}

func (c *Channel) log() Logger {
	return c.logger.Load().(Logger) //nolint:forcetypeassert // always a Logger
}

// Capacity returns the payload buffer size in bytes.
func (c *Channel) Capacity() int { return c.capacity }

// Subscribe registers fn and returns a function that removes it.
// Calling the returned function more than once is harmless.
func (c *Channel) Subscribe(fn Subscriber) (unsubscribe func()) {
	c.mu.Lock()
	c.nextID++
	id := c.nextID
	c.subs = append(c.subs, subscriberEntry{id: id, fn: fn})
	c.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			c.mu.Lock()
			defer c.mu.Unlock()
			for i, s := range c.subs {
				if s.id == id {
					c.subs = append(c.subs[:i], c.subs[i+1:]...)
					return
				}
			}
		})
	}
}

// SubscriberCount returns the number of registered subscribers.
func (c *Channel) SubscriberCount() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.subs)
}

// NotifyDeviceRegistered raises an add event for device on bus.
func (c *Channel) NotifyDeviceRegistered(bus, device string) error {
	_, err := c.Notify(ActionAdd, bus, device, "")
	return err
}

// Notify renders and delivers an event. If rendering fails the event is
// dropped entirely and ErrPayloadTooLarge is returned.
func (c *Channel) Notify(action Action, bus, device, driver string) (Event, error) {
	env, err := render(c.capacity, action, bus, device, driver)
	if err != nil {
		return Event{}, err
	}

	ev := Event{
		ID:        uuid.New(),
		Seq:       c.seq.Add(1),
		Action:    action,
		Bus:       bus,
		Device:    device,
		Driver:    driver,
		Env:       env.Vars(),
		Timestamp: time.Now().UTC(),
	}

	c.mu.RLock()
	subs := make([]subscriberEntry, len(c.subs))
	copy(subs, c.subs)
	c.mu.RUnlock()

	for _, s := range subs {
		c.deliver(s.fn, ev)
	}
	return ev, nil
}

// deliver invokes one subscriber with panic recovery.
func (c *Channel) deliver(fn Subscriber, ev Event) {
	defer func() {
		if r := recover(); r != nil {
			c.log().Error("uevent subscriber panic recovered",
				"action", ev.Action,
				"device", ev.Device,
				"panic", r,
			)
		}
	}()
	fn(ev)
}
