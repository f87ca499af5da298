package bus

import (
	"fmt"
	"strings"

	"github.com/nerrad567/vbus/internal/attribute"
)

// Kind selects which entity an attribute operation addresses.
type Kind string

// Entity kinds.
const (
	KindBus    Kind = "bus"
	KindDevice Kind = "device"
	KindDriver Kind = "driver"
)

// ParseKind converts a string to a Kind.
func ParseKind(s string) (Kind, error) {
	switch k := Kind(strings.ToLower(s)); k {
	case KindBus, KindDevice, KindDriver:
		return k, nil
	default:
		return "", fmt.Errorf("%w: unknown entity kind %q", ErrInvalidName, s)
	}
}

// DeviceInfo is a point-in-time view of a registered device.
type DeviceInfo struct {
	Name       string   `json:"name"`
	Parent     string   `json:"parent"`
	Driver     string   `json:"driver,omitempty"`
	State      State    `json:"state"`
	Refs       int      `json:"refs"`
	Attributes []string `json:"attributes"`
}

// DriverInfo is a point-in-time view of a registered driver.
type DriverInfo struct {
	Name       string   `json:"name"`
	Version    string   `json:"version"`
	State      State    `json:"state"`
	Refs       int      `json:"refs"`
	Devices    []string `json:"devices"`
	Attributes []string `json:"attributes"`
}

// Stats summarises bus membership.
type Stats struct {
	Devices int `json:"devices"`
	Drivers int `json:"drivers"`
	Bound   int `json:"bound"`
}

// LookupDevice returns the registered device called name with an extra
// reference taken. The caller must Put it.
func (b *Bus) LookupDevice(name string) (*Device, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	dev, ok := b.devices[name]
	if !ok {
		return nil, fmt.Errorf("%w: device %q", ErrNotFound, name)
	}
	return dev.Get(), nil
}

// LookupDriver returns the registered driver called name with an extra
// reference taken. The caller must Put it.
func (b *Bus) LookupDriver(name string) (*Driver, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	drv, ok := b.drivers[name]
	if !ok {
		return nil, fmt.Errorf("%w: driver %q", ErrNotFound, name)
	}
	return drv.Get(), nil
}

// Devices lists registered devices in registration order.
func (b *Bus) Devices() []DeviceInfo {
	b.mu.Lock()
	devices := append([]*Device(nil), b.deviceOrder...)
	for _, dev := range devices {
		dev.Get()
	}
	b.mu.Unlock()

	infos := make([]DeviceInfo, 0, len(devices))
	for _, dev := range devices {
		infos = append(infos, deviceInfo(dev))
		dev.Put()
	}
	return infos
}

// Drivers lists registered drivers in registration order.
func (b *Bus) Drivers() []DriverInfo {
	b.mu.Lock()
	drivers := make([]*Driver, 0, len(b.driverOrder))
	bound := make([][]string, 0, len(b.driverOrder))
	for _, drv := range b.driverOrder {
		drivers = append(drivers, drv.Get())
		names := make([]string, 0, len(drv.bound))
		for _, dev := range drv.bound {
			names = append(names, dev.name)
		}
		bound = append(bound, names)
	}
	b.mu.Unlock()

	infos := make([]DriverInfo, 0, len(drivers))
	for i, drv := range drivers {
		info := driverInfo(drv)
		info.Devices = bound[i]
		infos = append(infos, info)
		drv.Put()
	}
	return infos
}

// DeviceInfo returns a view of the named device.
func (b *Bus) DeviceInfo(name string) (DeviceInfo, error) {
	dev, err := b.LookupDevice(name)
	if err != nil {
		return DeviceInfo{}, err
	}
	defer dev.Put()
	return deviceInfo(dev), nil
}

// DriverInfo returns a view of the named driver.
func (b *Bus) DriverInfo(name string) (DriverInfo, error) {
	b.mu.Lock()
	drv, ok := b.drivers[name]
	if !ok {
		b.mu.Unlock()
		return DriverInfo{}, fmt.Errorf("%w: driver %q", ErrNotFound, name)
	}
	drv.Get()
	names := make([]string, 0, len(drv.bound))
	for _, dev := range drv.bound {
		names = append(names, dev.name)
	}
	b.mu.Unlock()
	defer drv.Put()

	info := driverInfo(drv)
	info.Devices = names
	return info, nil
}

// Stats returns membership counts.
func (b *Bus) Stats() Stats {
	b.mu.Lock()
	defer b.mu.Unlock()

	s := Stats{Devices: len(b.devices), Drivers: len(b.drivers)}
	for _, dev := range b.deviceOrder {
		if dev.driver.Load() != nil {
			s.Bound++
		}
	}
	return s
}

// Attributes lists the attribute names of an entity. For KindBus the name
// is ignored.
func (b *Bus) Attributes(kind Kind, name string) ([]string, error) {
	store, done, err := b.acquireStore(kind, name)
	if err != nil {
		return nil, err
	}
	defer done()
	return store.Names(), nil
}

// ReadAttribute reads one attribute of an entity.
func (b *Bus) ReadAttribute(kind Kind, name, attr string) (string, error) {
	store, done, err := b.acquireStore(kind, name)
	if err != nil {
		return "", err
	}
	defer done()
	return store.Read(attr)
}

// WriteAttribute writes one attribute of an entity.
func (b *Bus) WriteAttribute(kind Kind, name, attr, value string) error {
	store, done, err := b.acquireStore(kind, name)
	if err != nil {
		return err
	}
	defer done()
	return store.Write(attr, value)
}

// acquireStore resolves an entity's attribute store under the bus lock and
// pins the entity with a reference. The store is used after the bus lock
// is released; done drops the reference.
func (b *Bus) acquireStore(kind Kind, name string) (*attribute.Store, func(), error) {
	switch kind {
	case KindBus:
		return b.attrs, func() {}, nil
	case KindDevice:
		dev, err := b.LookupDevice(name)
		if err != nil {
			return nil, nil, err
		}
		return dev.attrs, dev.Put, nil
	case KindDriver:
		drv, err := b.LookupDriver(name)
		if err != nil {
			return nil, nil, err
		}
		return drv.attrs, drv.Put, nil
	default:
		return nil, nil, fmt.Errorf("%w: unknown entity kind %q", ErrInvalidName, kind)
	}
}

// deviceInfo and driverInfo are called with the entity pinned by one extra
// reference, which Refs excludes.
func deviceInfo(dev *Device) DeviceInfo {
	info := DeviceInfo{
		Name:       dev.name,
		State:      dev.State(),
		Refs:       dev.Refs() - 1,
		Attributes: dev.attrs.Names(),
	}
	if p := dev.Parent(); p != nil {
		info.Parent = p.name
	}
	if drv := dev.Driver(); drv != nil {
		info.Driver = drv.name
	}
	return info
}

func driverInfo(drv *Driver) DriverInfo {
	return DriverInfo{
		Name:       drv.name,
		Version:    drv.version,
		State:      drv.State(),
		Refs:       drv.Refs() - 1,
		Attributes: drv.attrs.Names(),
	}
}
