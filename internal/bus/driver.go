package bus

import (
	"sync/atomic"

	"github.com/nerrad567/vbus/internal/attribute"
)

// Driver services devices whose names its bus's Matcher accepts.
type Driver struct {
	name    string
	version string
	owner   any
	probe   func(*Device) error
	remove  func(*Device)
	release func(*Driver)
	attrs   *attribute.Store
	life    lifecycle

	bus atomic.Pointer[Bus]

	// bound is guarded by the owning bus lock.
	bound []*Device
}

// DriverOption configures a Driver at construction.
type DriverOption func(*Driver)

// WithOwner records the module that provides the driver. The handle is
// opaque to the bus. It becomes the Owner of the driver's attributes, so
// an owner implementing attribute.Pinner is pinned while they are read or
// written.
func WithOwner(owner any) DriverOption {
	return func(d *Driver) { d.owner = owner }
}

// WithProbe sets the callback run after a device is bound to the driver.
// A non-nil error undoes the binding.
func WithProbe(fn func(*Device) error) DriverOption {
	return func(d *Driver) { d.probe = fn }
}

// WithRemove sets the callback run after a device is unbound.
func WithRemove(fn func(*Device)) DriverOption {
	return func(d *Driver) { d.remove = fn }
}

// WithDriverRelease sets the callback run once the driver is unregistered
// and its last reference has been dropped.
func WithDriverRelease(fn func(*Driver)) DriverOption {
	return func(d *Driver) {
		if fn != nil {
			d.release = fn
		}
	}
}

// NewDriver creates an unregistered driver. name is the match pattern.
func NewDriver(name, version string, opts ...DriverOption) *Driver {
	d := &Driver{
		name:    name,
		version: version,
		attrs:   attribute.NewStore(),
		release: func(*Driver) {},
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Name returns the driver name.
func (d *Driver) Name() string { return d.name }

// Version returns the driver version string.
func (d *Driver) Version() string { return d.version }

// Owner returns the opaque owning-module handle.
func (d *Driver) Owner() any { return d.owner }

// Attrs returns the driver's attribute store.
func (d *Driver) Attrs() *attribute.Store { return d.attrs }

// Bus returns the bus the driver was registered on, or nil.
func (d *Driver) Bus() *Bus { return d.bus.Load() }

// State returns the current lifecycle state.
func (d *Driver) State() State { return d.life.State() }

// Refs returns the current reference count.
func (d *Driver) Refs() int { return int(d.life.refs.Load()) }

// Get takes an additional reference. The caller must already hold one.
func (d *Driver) Get() *Driver {
	d.life.get()
	return d
}

// Put drops a reference.
func (d *Driver) Put() {
	d.life.put("driver "+d.name, func() { d.release(d) })
}

// versionAttribute is the read-only "version" attribute published on
// registration.
func (d *Driver) versionAttribute() attribute.Attribute {
	return attribute.Attribute{
		Name:  "version",
		Mode:  attribute.ModeReadOnly,
		Show:  func() (string, error) { return d.version, nil },
		Owner: d.owner,
	}
}
