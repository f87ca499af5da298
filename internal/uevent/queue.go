package uevent

import (
	"context"
	"sync/atomic"
)

// DefaultQueueSize is the default number of buffered events per Queue.
const DefaultQueueSize = 256

// Sink consumes events and may block (network, disk).
type Sink interface {
	Deliver(ctx context.Context, ev Event) error
}

// SinkFunc adapts a function to the Sink interface.
type SinkFunc func(ctx context.Context, ev Event) error

// Deliver implements Sink.
func (f SinkFunc) Deliver(ctx context.Context, ev Event) error { return f(ctx, ev) }

// Queue turns a blocking Sink into a non-blocking Subscriber.
//
// Handle enqueues without blocking; Run drains the queue into the sink
// until its context is cancelled. When the buffer is full the event is
// dropped and counted.
type Queue struct {
	name    string
	sink    Sink
	events  chan Event
	dropped atomic.Uint64
	failed  atomic.Uint64
	logger  Logger
}

// NewQueue creates a queue named name in front of sink.
// A non-positive size selects DefaultQueueSize.
func NewQueue(name string, sink Sink, size int) *Queue {
	if size <= 0 {
		size = DefaultQueueSize
	}
	return &Queue{
		name:   name,
		sink:   sink,
		events: make(chan Event, size),
		logger: noopLogger{},
	}
}

// SetLogger sets the logger for delivery failures. Call before Run.
func (q *Queue) SetLogger(logger Logger) {
	if logger != nil {
		q.logger = logger
	}
}

// Name returns the queue name.
func (q *Queue) Name() string { return q.name }

// Handle enqueues ev. It never blocks.
func (q *Queue) Handle(ev Event) {
	select {
	case q.events <- ev:
	default:
		q.dropped.Add(1)
		q.logger.Warn("uevent queue full, event dropped",
			"queue", q.name,
			"seq", ev.Seq,
			"device", ev.Device,
		)
	}
}

// Run delivers queued events to the sink until ctx is cancelled.
// Delivery errors are logged and counted; there is no retry.
func (q *Queue) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-q.events:
			if err := q.sink.Deliver(ctx, ev); err != nil {
				q.failed.Add(1)
				q.logger.Warn("uevent delivery failed",
					"queue", q.name,
					"seq", ev.Seq,
					"device", ev.Device,
					"error", err,
				)
			}
		}
	}
}

// Drain delivers whatever is still buffered, stopping early when ctx is
// done. Call it after Run has returned.
func (q *Queue) Drain(ctx context.Context) int {
	n := 0
	for {
		select {
		case <-ctx.Done():
			return n
		case ev := <-q.events:
			if err := q.sink.Deliver(ctx, ev); err != nil {
				q.failed.Add(1)
				q.logger.Warn("uevent delivery failed during drain",
					"queue", q.name,
					"seq", ev.Seq,
					"error", err,
				)
			}
			n++
		default:
			return n
		}
	}
}

// Dropped returns how many events were discarded because the queue was full.
func (q *Queue) Dropped() uint64 { return q.dropped.Load() }

// Failed returns how many deliveries returned an error.
func (q *Queue) Failed() uint64 { return q.failed.Load() }

// Pending returns the number of buffered events.
func (q *Queue) Pending() int { return len(q.events) }
