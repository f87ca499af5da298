package mqtt

import (
	"fmt"
	"strings"
)

// TopicPrefix is the root of every vbus topic.
//
// Per-bus topics use the scheme vbus/{bus}/{category}/...:
//
//	vbus/ldd/event/add/sculld0     uevents published by the daemon
//	vbus/ldd/hotplug/sculld0       hotplug requests consumed by the daemon
const TopicPrefix = "vbus"

// Topics provides builders for vbus MQTT topics.
// Using these helpers ensures consistent topic naming across the codebase.
type Topics struct{}

// SystemStatus returns the daemon status topic (retained, carries the LWT).
//
// Example: vbus/system/status
func (Topics) SystemStatus() string {
	return TopicPrefix + "/system/status"
}

// BusEvent returns the topic a uevent is published on.
//
// Example: vbus/ldd/event/bind/sculld0
func (Topics) BusEvent(bus, action, device string) string {
	return fmt.Sprintf("%s/%s/event/%s/%s", TopicPrefix, bus, action, device)
}

// AllBusEvents returns a pattern matching every uevent of a bus.
//
// Pattern: vbus/ldd/event/#
func (Topics) AllBusEvents(bus string) string {
	return fmt.Sprintf("%s/%s/event/#", TopicPrefix, bus)
}

// Hotplug returns the topic used to plug or unplug one device.
//
// Example: vbus/ldd/hotplug/sculld0
func (Topics) Hotplug(bus, device string) string {
	return fmt.Sprintf("%s/%s/hotplug/%s", TopicPrefix, bus, device)
}

// AllHotplug returns a pattern matching hotplug requests for any device
// of a bus.
//
// Pattern: vbus/ldd/hotplug/+
func (Topics) AllHotplug(bus string) string {
	return fmt.Sprintf("%s/%s/hotplug/+", TopicPrefix, bus)
}

// AllTopics returns a pattern matching all vbus topics.
//
// Pattern: vbus/#
func (Topics) AllTopics() string {
	return TopicPrefix + "/#"
}

// ParseHotplug extracts the bus and device names from a hotplug topic.
func ParseHotplug(topic string) (bus, device string, err error) {
	parts := strings.Split(topic, "/")
	if len(parts) != 4 || parts[0] != TopicPrefix || parts[2] != "hotplug" {
		return "", "", fmt.Errorf("%w: %q is not a hotplug topic", ErrInvalidTopic, topic)
	}
	if !ValidSegment(parts[1]) || !ValidSegment(parts[3]) {
		return "", "", fmt.Errorf("%w: %q has an empty or wildcard segment", ErrInvalidTopic, topic)
	}
	return parts[1], parts[3], nil
}

// ValidSegment reports whether s can be used as one topic level: it must
// be non-empty and contain no separator or wildcard.
func ValidSegment(s string) bool {
	return s != "" && !strings.ContainsAny(s, "/+#\x00")
}
