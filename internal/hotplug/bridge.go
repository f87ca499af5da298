package hotplug

import (
	"encoding/json"
	"fmt"
	"sync"

	"github.com/nerrad567/vbus/internal/bus"
	"github.com/nerrad567/vbus/internal/infrastructure/mqtt"
)

// Action is a hotplug request kind.
type Action string

// Supported actions.
const (
	ActionAdd    Action = "add"
	ActionRemove Action = "remove"
)

// Request is the hotplug message payload.
type Request struct {
	Action Action `json:"action"`
}

// Registry is the subset of *bus.Bus the bridge drives.
type Registry interface {
	Name() string
	RegisterDevice(dev *bus.Device) (bus.Registration, error)
	UnregisterDevice(dev *bus.Device)
}

// Subscriber is the subset of the MQTT client the bridge listens on.
type Subscriber interface {
	Subscribe(topic string, qos byte, handler mqtt.MessageHandler) error
	Unsubscribe(topic string) error
}

// Logger defines the logging interface used by the Bridge.
type Logger interface {
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Info(string, ...any) {}
func (noopLogger) Warn(string, ...any) {}

// Bridge registers and unregisters devices it owns on one bus.
type Bridge struct {
	reg    Registry
	logger Logger

	mu      sync.Mutex
	devices map[string]*bus.Device
}

// NewBridge creates a bridge for reg.
func NewBridge(reg Registry) *Bridge {
	return &Bridge{
		reg:     reg,
		logger:  noopLogger{},
		devices: make(map[string]*bus.Device),
	}
}

// SetLogger sets the bridge logger.
func (b *Bridge) SetLogger(logger Logger) {
	if logger == nil {
		logger = noopLogger{}
	}
	b.logger = logger
}

// Topic returns the wildcard topic the bridge listens on.
func (b *Bridge) Topic() string {
	return mqtt.Topics{}.AllHotplug(b.reg.Name())
}

// Listen subscribes the bridge to its hotplug topic.
func (b *Bridge) Listen(sub Subscriber, qos byte) error {
	if err := sub.Subscribe(b.Topic(), qos, b.HandleMessage); err != nil {
		return fmt.Errorf("subscribing to hotplug topic: %w", err)
	}
	return nil
}

// Stop unsubscribes from the hotplug topic.
func (b *Bridge) Stop(sub Subscriber) error {
	return sub.Unsubscribe(b.Topic())
}

// HandleMessage is the MQTT handler for hotplug topics.
func (b *Bridge) HandleMessage(topic string, payload []byte) error {
	busName, device, err := mqtt.ParseHotplug(topic)
	if err != nil {
		return err
	}
	if busName != b.reg.Name() {
		return fmt.Errorf("%w: %q", ErrWrongBus, busName)
	}

	var req Request
	if err := json.Unmarshal(payload, &req); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidRequest, err) //nolint:errorlint // single %w
	}

	_, err = b.Apply(req.Action, device)
	return err
}

// Apply performs action on the named device and reports the registration
// outcome for adds.
func (b *Bridge) Apply(action Action, device string) (bus.Registration, error) {
	switch action {
	case ActionAdd:
		return b.add(device)
	case ActionRemove:
		return bus.Registration{}, b.remove(device)
	default:
		return bus.Registration{}, fmt.Errorf("%w: action %q", ErrInvalidRequest, action)
	}
}

func (b *Bridge) add(name string) (bus.Registration, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	dev := bus.NewDevice(name, bus.WithDeviceRelease(func(d *bus.Device) {
		b.logger.Info("hotplug device released", "device", d.Name())
	}))

	reg, err := b.reg.RegisterDevice(dev)
	if err != nil {
		return reg, fmt.Errorf("hotplug add %q: %w", name, err)
	}
	b.devices[name] = dev

	b.logger.Info("hotplug device added",
		"bus", b.reg.Name(),
		"device", name,
		"driver", driverName(reg.Driver),
	)
	if reg.ProbeErr != nil {
		b.logger.Warn("hotplug device probe failed", "device", name, "error", reg.ProbeErr)
	}
	return reg, nil
}

func (b *Bridge) remove(name string) error {
	b.mu.Lock()
	dev, ok := b.devices[name]
	if ok {
		delete(b.devices, name)
	}
	b.mu.Unlock()

	if !ok {
		return fmt.Errorf("%w: %q", ErrNotOwned, name)
	}

	b.reg.UnregisterDevice(dev)
	b.logger.Info("hotplug device removed", "bus", b.reg.Name(), "device", name)
	return nil
}

// Devices returns the names of devices currently owned by the bridge.
func (b *Bridge) Devices() []string {
	b.mu.Lock()
	defer b.mu.Unlock()

	names := make([]string, 0, len(b.devices))
	for name := range b.devices {
		names = append(names, name)
	}
	return names
}

// Close unplugs every device the bridge owns.
func (b *Bridge) Close() {
	for _, name := range b.Devices() {
		_ = b.remove(name) //nolint:errcheck // owned names cannot fail
	}
}

func driverName(drv *bus.Driver) string {
	if drv == nil {
		return ""
	}
	return drv.Name()
}
