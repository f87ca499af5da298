package bus

import (
	"errors"
	"sync/atomic"

	"github.com/nerrad567/vbus/internal/attribute"
)

// Device is one pluggable component instance on a bus.
//
// Its name is fixed at construction and identifies it for matching and
// lookups. Bus, Parent and Driver are set by the owning bus.
type Device struct {
	name    string
	attrs   *attribute.Store
	release func(*Device)
	life    lifecycle

	bus    atomic.Pointer[Bus]
	parent atomic.Pointer[Device]
	driver atomic.Pointer[Driver]

	// optErr collects option failures for BuildDevice.
	optErr error

	// pending is the driver claiming the device while its probe runs.
	// Guarded by the owning bus lock.
	pending *Driver
}

// DeviceOption configures a Device at construction.
type DeviceOption func(*Device)

// WithDeviceRelease sets the callback run once the device is unregistered
// and its last reference has been dropped. The default does nothing.
func WithDeviceRelease(fn func(*Device)) DeviceOption {
	return func(d *Device) {
		if fn != nil {
			d.release = fn
		}
	}
}

// WithDeviceAttributes pre-populates the device's attribute store.
// An attribute that fails to publish is left out; BuildDevice reports it.
func WithDeviceAttributes(attrs ...attribute.Attribute) DeviceOption {
	return func(d *Device) {
		for _, a := range attrs {
			if err := d.attrs.Publish(a); err != nil {
				d.optErr = errors.Join(d.optErr, err)
			}
		}
	}
}

// NewDevice creates an unregistered device. Attributes from
// WithDeviceAttributes that are invalid or duplicated are silently
// dropped; use BuildDevice to have them reported.
func NewDevice(name string, opts ...DeviceOption) *Device {
	d, _ := BuildDevice(name, opts...) //nolint:errcheck // documented drop
	return d
}

// BuildDevice is NewDevice that also returns every attribute publish
// failure from the options. The device is always returned, holding the
// attributes that did publish.
func BuildDevice(name string, opts ...DeviceOption) (*Device, error) {
	d := &Device{
		name:    name,
		attrs:   attribute.NewStore(),
		release: func(*Device) {},
	}
	for _, opt := range opts {
		opt(d)
	}
	err := d.optErr
	d.optErr = nil
	return d, err
}

// Name returns the device name.
func (d *Device) Name() string { return d.name }

// Attrs returns the device's attribute store.
func (d *Device) Attrs() *attribute.Store { return d.attrs }

// Bus returns the bus the device was registered on, or nil.
func (d *Device) Bus() *Bus { return d.bus.Load() }

// Parent returns the bus root device, or nil before registration.
func (d *Device) Parent() *Device { return d.parent.Load() }

// Driver returns the bound driver, or nil.
func (d *Device) Driver() *Driver { return d.driver.Load() }

// State returns the current lifecycle state.
func (d *Device) State() State { return d.life.State() }

// Refs returns the current reference count.
func (d *Device) Refs() int { return int(d.life.refs.Load()) }

// Get takes an additional reference. The caller must already hold one.
func (d *Device) Get() *Device {
	d.life.get()
	return d
}

// Put drops a reference. Dropping the last reference of an unregistered
// device runs its release callback.
func (d *Device) Put() {
	d.life.put("device "+d.name, func() { d.release(d) })
}
