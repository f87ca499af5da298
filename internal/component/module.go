package component

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/nerrad567/vbus/internal/bus"
	"github.com/nerrad567/vbus/internal/infrastructure/config"
)

// Registry is the subset of *bus.Bus a module registers with.
type Registry interface {
	Name() string
	RegisterDriver(drv *bus.Driver) error
	UnregisterDriver(drv *bus.Driver)
	RegisterDevice(dev *bus.Device) (bus.Registration, error)
	UnregisterDevice(dev *bus.Device)
}

// Logger defines the logging interface used by modules.
type Logger interface {
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Info(string, ...any) {}
func (noopLogger) Warn(string, ...any) {}

// DriverSpec names a module's driver.
type DriverSpec struct {
	Name    string
	Version string
}

// Module is a driver and its devices, loaded and unloaded as a unit.
type Module struct {
	Name    string
	Driver  DriverSpec
	Devices []string

	logger Logger

	mu      sync.Mutex
	reg     Registry
	driver  *bus.Driver
	devices []*bus.Device

	uses atomic.Int32
}

// FromConfig builds a module from its configuration entry.
func FromConfig(cfg config.ComponentConfig) *Module {
	return &Module{
		Name:    cfg.Name,
		Driver:  DriverSpec{Name: cfg.Driver.Name, Version: cfg.Driver.Version},
		Devices: append([]string(nil), cfg.Devices...),
	}
}

// SetLogger sets the module logger.
func (m *Module) SetLogger(logger Logger) {
	m.logger = logger
}

func (m *Module) log() Logger {
	if m.logger == nil {
		return noopLogger{}
	}
	return m.logger
}

// Load registers the driver and then every device on reg. On failure all
// registrations made so far are undone and the error is returned.
func (m *Module) Load(reg Registry) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.reg != nil {
		return fmt.Errorf("%w: %s", ErrAlreadyLoaded, m.Name)
	}

	drv := bus.NewDriver(m.Driver.Name, m.Driver.Version, bus.WithOwner(m))
	if err := reg.RegisterDriver(drv); err != nil {
		return fmt.Errorf("loading %s: driver %q: %w", m.Name, m.Driver.Name, err)
	}

	devices := make([]*bus.Device, 0, len(m.Devices))
	for _, name := range m.Devices {
		dev := bus.NewDevice(name)
		res, err := reg.RegisterDevice(dev)
		if err != nil {
			unwind(reg, drv, devices)
			return fmt.Errorf("loading %s: device %q: %w", m.Name, name, err)
		}
		if res.ProbeErr != nil {
			m.log().Warn("component device probe failed",
				"module", m.Name,
				"device", name,
				"error", res.ProbeErr,
			)
		}
		devices = append(devices, dev)
	}

	m.reg = reg
	m.driver = drv
	m.devices = devices

	m.log().Info("component loaded",
		"module", m.Name,
		"bus", reg.Name(),
		"driver", drv.Name(),
		"devices", len(devices),
	)
	return nil
}

// Unload removes the module's devices and driver in reverse order.
func (m *Module) Unload() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.reg == nil {
		return fmt.Errorf("%w: %s", ErrNotLoaded, m.Name)
	}
	if n := m.uses.Load(); n > 0 {
		return fmt.Errorf("%w: %s has %d users", ErrModuleBusy, m.Name, n)
	}

	unwind(m.reg, m.driver, m.devices)
	m.log().Info("component unloaded", "module", m.Name, "bus", m.reg.Name())

	m.reg = nil
	m.driver = nil
	m.devices = nil
	return nil
}

// unwind unregisters devices newest first, then the driver.
func unwind(reg Registry, drv *bus.Driver, devices []*bus.Device) {
	for i := len(devices) - 1; i >= 0; i-- {
		reg.UnregisterDevice(devices[i])
	}
	reg.UnregisterDriver(drv)
}

// Loaded reports whether the module is on a bus.
func (m *Module) Loaded() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.reg != nil
}

// Acquire takes a use count on a loaded module.
func (m *Module) Acquire() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.reg == nil {
		return fmt.Errorf("%w: %s", ErrNotLoaded, m.Name)
	}
	m.uses.Add(1)
	return nil
}

// Release drops a use count taken with Acquire.
func (m *Module) Release() {
	if m.uses.Add(-1) < 0 {
		panic("component: " + m.Name + " use count underflow")
	}
}

// Uses returns the current use count.
func (m *Module) Uses() int {
	return int(m.uses.Load())
}

// OwnerOf returns the module owning drv, if drv was registered by one.
func OwnerOf(drv *bus.Driver) (*Module, bool) {
	if drv == nil {
		return nil, false
	}
	m, ok := drv.Owner().(*Module)
	return m, ok
}

// LoadAll loads every module in order. If one fails the modules already
// loaded are unloaded again and the error is returned.
func LoadAll(reg Registry, modules []*Module) error {
	for i, m := range modules {
		if err := m.Load(reg); err != nil {
			var errs []error
			errs = append(errs, err)
			for j := i - 1; j >= 0; j-- {
				if uerr := modules[j].Unload(); uerr != nil {
					errs = append(errs, uerr)
				}
			}
			return errors.Join(errs...)
		}
	}
	return nil
}

// UnloadAll unloads modules in reverse order and joins the errors.
func UnloadAll(modules []*Module) error {
	var errs []error
	for i := len(modules) - 1; i >= 0; i-- {
		if !modules[i].Loaded() {
			continue
		}
		if err := modules[i].Unload(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
