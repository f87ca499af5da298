// Package mqtt provides MQTT client connectivity for the vbus daemon.
//
// This package manages:
//   - Connection to the broker with auto-reconnect
//   - Message publishing with QoS guarantees
//   - Topic subscriptions with wildcard support
//   - Last Will and Testament (LWT) for offline detection
//
// # Architecture
//
// MQTT carries bus events out of the daemon and hotplug requests into it:
//
//	bus registry → uevent queue → MQTT sink → broker → monitors
//	host tooling → broker → hotplug bridge → bus registry
//
// # Security Considerations
//
//   - TLS should be enabled for anything beyond local development
//   - Anyone who can publish to vbus/{bus}/hotplug/+ can add devices;
//     restrict that topic in the broker ACL
//
// # Usage
//
//	client, err := mqtt.Connect(cfg.MQTT)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer client.Close()
//
//	topic := mqtt.Topics{}.BusEvent("ldd", "add", "sculld0")
//	client.Publish(topic, payload, client.QoS(), false)
package mqtt
