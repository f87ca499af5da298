// Package hotplug plugs and unplugs bus devices on external request.
//
// Requests arrive on MQTT topic vbus/<bus>/hotplug/<device> with payload
// {"action":"add"} or {"action":"remove"}, or through the HTTP API. Only
// devices the bridge itself created can be removed through it.
package hotplug
