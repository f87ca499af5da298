package influxdb

import (
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"
)

// Measurements written by the daemon.
const (
	MeasurementBusEvents = "bus_events"
	MeasurementBusStats  = "bus_stats"
)

// BusEvent is the subset of a uevent recorded as a point.
type BusEvent struct {
	Bus       string
	Action    string
	Device    string
	Driver    string
	Seq       uint64
	EnvBytes  int
	Timestamp time.Time
}

// WriteBusEvent records one uevent. The write is non-blocking; points are
// batched and sent asynchronously.
//
// Example:
//
//	client.WriteBusEvent(influxdb.BusEvent{Bus: "ldd", Action: "add", Device: "sculld0"})
func (c *Client) WriteBusEvent(ev BusEvent) {
	if !c.IsConnected() {
		return
	}
	c.writeAPI.WritePoint(busEventPoint(ev))
}

// WriteBusStats records a membership snapshot of a bus.
func (c *Client) WriteBusStats(bus string, devices, drivers, bound int) {
	if !c.IsConnected() {
		return
	}
	c.writeAPI.WritePoint(busStatsPoint(bus, devices, drivers, bound, time.Now()))
}

// busEventPoint builds the bus_events point. Bus, action and driver are
// tags (low cardinality); the device name is a field.
func busEventPoint(ev BusEvent) *write.Point {
	ts := ev.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}

	tags := map[string]string{
		"bus":    ev.Bus,
		"action": ev.Action,
	}
	if ev.Driver != "" {
		tags["driver"] = ev.Driver
	}

	return write.NewPoint(
		MeasurementBusEvents,
		tags,
		map[string]interface{}{
			"device":    ev.Device,
			"seq":       ev.Seq,
			"env_bytes": ev.EnvBytes,
			"count":     1,
		},
		ts,
	)
}

func busStatsPoint(bus string, devices, drivers, bound int, ts time.Time) *write.Point {
	return write.NewPoint(
		MeasurementBusStats,
		map[string]string{"bus": bus},
		map[string]interface{}{
			"devices": devices,
			"drivers": drivers,
			"bound":   bound,
		},
		ts,
	)
}
