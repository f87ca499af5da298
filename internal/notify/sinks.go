package notify

import (
	"context"
	"fmt"
	"time"

	"github.com/nerrad567/vbus/internal/infrastructure/influxdb"
	"github.com/nerrad567/vbus/internal/infrastructure/mqtt"
	"github.com/nerrad567/vbus/internal/uevent"
)

// Publisher is the subset of the MQTT client used by MQTTSink.
type Publisher interface {
	Publish(topic string, payload []byte, qos byte, retained bool) error
}

// MQTTSink publishes each event to vbus/<bus>/event/<action>/<device>.
type MQTTSink struct {
	pub    Publisher
	format uevent.Format
	qos    byte
}

// NewMQTTSink creates a sink encoding events with format.
func NewMQTTSink(pub Publisher, format uevent.Format, qos byte) *MQTTSink {
	return &MQTTSink{pub: pub, format: format, qos: qos}
}

// Deliver implements uevent.Sink.
func (s *MQTTSink) Deliver(_ context.Context, ev uevent.Event) error {
	payload, err := uevent.Marshal(ev, s.format)
	if err != nil {
		return fmt.Errorf("encoding event %d: %w", ev.Seq, err)
	}

	topic := mqtt.Topics{}.BusEvent(ev.Bus, string(ev.Action), ev.Device)
	if err := s.pub.Publish(topic, payload, s.qos, false); err != nil {
		return fmt.Errorf("publishing to %s: %w", topic, err)
	}
	return nil
}

// PointWriter is the subset of the InfluxDB client used by MetricsSink.
type PointWriter interface {
	WriteBusEvent(ev influxdb.BusEvent)
}

// MetricsSink writes one bus_events point per event.
type MetricsSink struct {
	w PointWriter
}

// NewMetricsSink creates a metrics sink.
func NewMetricsSink(w PointWriter) *MetricsSink {
	return &MetricsSink{w: w}
}

// Deliver implements uevent.Sink. Writes are asynchronous so it never fails.
func (s *MetricsSink) Deliver(_ context.Context, ev uevent.Event) error {
	s.w.WriteBusEvent(influxdb.BusEvent{
		Bus:       ev.Bus,
		Action:    string(ev.Action),
		Device:    ev.Device,
		Driver:    ev.Driver,
		Seq:       ev.Seq,
		EnvBytes:  envBytes(ev.Env),
		Timestamp: ev.Timestamp,
	})
	return nil
}

// envBytes is the payload size of vars including NUL terminators.
func envBytes(vars []string) int {
	n := 0
	for _, v := range vars {
		n += len(v) + 1
	}
	return n
}

// Recorder is the subset of the journal used by JournalSink.
type Recorder interface {
	Record(ctx context.Context, ev uevent.Event) error
}

// JournalSink stores events in the journal.
type JournalSink struct {
	rec     Recorder
	timeout time.Duration
}

// DefaultJournalTimeout bounds a single journal insert.
const DefaultJournalTimeout = 5 * time.Second

// NewJournalSink creates a journal sink. A non-positive timeout selects
// DefaultJournalTimeout.
func NewJournalSink(rec Recorder, timeout time.Duration) *JournalSink {
	if timeout <= 0 {
		timeout = DefaultJournalTimeout
	}
	return &JournalSink{rec: rec, timeout: timeout}
}

// Deliver implements uevent.Sink.
func (s *JournalSink) Deliver(ctx context.Context, ev uevent.Event) error {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	if err := s.rec.Record(ctx, ev); err != nil {
		return fmt.Errorf("journalling event %d: %w", ev.Seq, err)
	}
	return nil
}

var (
	_ uevent.Sink = (*MQTTSink)(nil)
	_ uevent.Sink = (*MetricsSink)(nil)
	_ uevent.Sink = (*JournalSink)(nil)
)
