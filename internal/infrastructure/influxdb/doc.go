// Package influxdb records bus activity in InfluxDB.
//
// It wraps the official influxdb-client-go v2 library. Two measurements
// are written:
//   - bus_events: one point per uevent (tags bus, action, driver)
//   - bus_stats: periodic device/driver/bound counts per bus
//
// # Usage
//
//	client, err := influxdb.Connect(cfg.InfluxDB)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer client.Close()
//
//	client.WriteBusEvent(influxdb.BusEvent{Bus: "ldd", Action: "add", Device: "sculld0"})
//
// # Error Handling
//
// Writes are non-blocking and batched according to batch_size and
// flush_interval. Asynchronous write failures are reported through
// SetOnError. Connection and health check errors are returned directly.
package influxdb
