package bus

import (
	"errors"
	"fmt"
	"strconv"
	"sync"
	"sync/atomic"

	"github.com/nerrad567/vbus/internal/attribute"
	"github.com/nerrad567/vbus/internal/uevent"
)

// DefaultVersion is the registry implementation version exposed through
// the bus-level "version" attribute.
const DefaultVersion = "1.9"

// Logger defines the logging interface used by the Bus.
// This allows different logging implementations to be used.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// noopLogger is a logger that does nothing.
type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Config describes a bus instance.
type Config struct {
	// Name identifies the bus (e.g. "ldd"). Required.
	Name string

	// RootName names the bus root device. Defaults to Name + "0".
	RootName string

	// Version is served by the bus "version" attribute. Defaults to DefaultVersion.
	Version string

	// Matcher binds devices to drivers. Defaults to PrefixMatch.
	Matcher Matcher

	// Channel receives device notifications. Nil disables notifications.
	Channel *uevent.Channel
}

// Registration reports the outcome of a successful RegisterDevice call.
type Registration struct {
	// Driver is the driver the device ended up bound to, or nil.
	Driver *Driver

	// ProbeErr is set when a driver matched but its probe callback failed.
	// The binding was undone.
	ProbeErr error

	// NotifyErr is set when the registration notification could not be
	// delivered. The registration itself still succeeded.
	NotifyErr error
}

// Bound reports whether the device was bound to a driver.
func (r Registration) Bound() bool { return r.Driver != nil }

// Bus is the registry for one named bus instance.
//
// Thread Safety:
//   - All methods are safe for concurrent use from multiple goroutines.
//   - SetLogger must be called before the bus is shared.
type Bus struct {
	name    string
	version string
	matcher Matcher
	channel *uevent.Channel
	root    *Device
	attrs   *attribute.Store
	logger  Logger

	mu          sync.Mutex
	devices     map[string]*Device
	deviceOrder []*Device
	drivers     map[string]*Driver
	driverOrder []*Driver
	closed      bool

	autoprobe atomic.Bool
}

// New creates a bus, its root device and its bus-level attributes.
// The bus must be torn down with Close.
func New(cfg Config) (*Bus, error) {
	if cfg.Name == "" {
		return nil, fmt.Errorf("%w: bus name is required", ErrInvalidName)
	}
	if cfg.RootName == "" {
		cfg.RootName = cfg.Name + "0"
	}
	if cfg.Version == "" {
		cfg.Version = DefaultVersion
	}
	if cfg.Matcher == nil {
		cfg.Matcher = PrefixMatch
	}

	b := &Bus{
		name:    cfg.Name,
		version: cfg.Version,
		matcher: cfg.Matcher,
		channel: cfg.Channel,
		attrs:   attribute.NewStore(),
		logger:  noopLogger{},
		devices: make(map[string]*Device),
		drivers: make(map[string]*Driver),
	}
	b.autoprobe.Store(true)

	b.root = NewDevice(cfg.RootName, WithDeviceRelease(func(d *Device) {
		b.logger.Debug("bus root released", "bus", b.name, "root", d.Name())
	}))
	b.root.life.register()
	b.root.bus.Store(b)

	if err := b.attrs.Publish(attribute.Static("version", cfg.Version)); err != nil {
		return nil, fmt.Errorf("publishing bus version attribute: %w", err)
	}
	if err := b.attrs.Publish(b.autoprobeAttribute()); err != nil {
		return nil, fmt.Errorf("publishing bus autoprobe attribute: %w", err)
	}

	return b, nil
}

// SetLogger sets the logger for the bus.
func (b *Bus) SetLogger(logger Logger) {
	if logger == nil {
		logger = noopLogger{}
	}
	b.logger = logger
}

// Name returns the bus name.
func (b *Bus) Name() string { return b.name }

// Version returns the registry version string.
func (b *Bus) Version() string { return b.version }

// Root returns the bus root device, the parent of every registered device.
func (b *Bus) Root() *Device { return b.root }

// Attrs returns the bus-level attribute store.
func (b *Bus) Attrs() *attribute.Store { return b.attrs }

// Match applies the bus matcher to dev and drv.
func (b *Bus) Match(dev *Device, drv *Driver) bool {
	return b.matcher(dev, drv)
}

// Close unregisters every device and driver, removes the bus attributes
// and releases the root device. Calling Close twice is a no-op.
func (b *Bus) Close() {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.closed = true
	devices := append([]*Device(nil), b.deviceOrder...)
	drivers := append([]*Driver(nil), b.driverOrder...)
	b.mu.Unlock()

	for i := len(devices) - 1; i >= 0; i-- {
		b.UnregisterDevice(devices[i])
	}
	for i := len(drivers) - 1; i >= 0; i-- {
		b.UnregisterDriver(drivers[i])
	}

	b.attrs.UnpublishAll()
	if b.root.life.beginUnregister() {
		b.root.Put()
	}
	b.logger.Info("bus closed", "bus", b.name)
}

// =============================================================================
// Devices
// =============================================================================

// RegisterDevice adds dev to the bus and binds it to the first matching
// driver, in driver registration order.
//
// A device-add notification is raised whether or not a driver matched.
// Notification and probe failures do not fail the registration; they are
// logged and reported in the returned Registration.
//
// Returns ErrDuplicateName if a device of the same name is registered,
// ErrInvalidState if dev is not in StateUnregistered.
func (b *Bus) RegisterDevice(dev *Device) (Registration, error) {
	if dev == nil || dev.name == "" {
		return Registration{}, fmt.Errorf("%w: device name is required", ErrInvalidName)
	}

	drv, err := b.addDevice(dev)
	if err != nil {
		return Registration{}, err
	}

	var reg Registration
	if b.channel != nil {
		if notifyErr := b.channel.NotifyDeviceRegistered(b.name, dev.name); notifyErr != nil {
			reg.NotifyErr = b.notifyFailed(uevent.ActionAdd, dev.name, notifyErr)
		}
	}

	if drv != nil {
		reg.Driver, reg.ProbeErr = b.probe(dev, drv)
		if reg.Driver != nil {
			reg.NotifyErr = errors.Join(reg.NotifyErr, b.notify(uevent.ActionBind, dev.name, drv.name))
		}
	}

	b.logger.Info("device registered",
		"bus", b.name,
		"device", dev.name,
		"driver", driverName(reg.Driver),
	)
	return reg, nil
}

// addDevice inserts dev and claims a matching driver under the bus lock.
// When a driver matched, both entities carry an extra reference that
// probe drops.
func (b *Bus) addDevice(dev *Device) (*Driver, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil, ErrClosed
	}
	if _, exists := b.devices[dev.name]; exists {
		return nil, fmt.Errorf("%w: device %q", ErrDuplicateName, dev.name)
	}
	if !dev.life.register() {
		return nil, fmt.Errorf("%w: device %q is %s", ErrInvalidState, dev.name, dev.State())
	}

	dev.bus.Store(b)
	dev.parent.Store(b.root)
	b.devices[dev.name] = dev
	b.deviceOrder = append(b.deviceOrder, dev)

	if !b.autoprobe.Load() {
		return nil, nil
	}
	drv := b.matchLocked(dev)
	if drv == nil {
		return nil, nil
	}
	b.claimLocked(dev, drv)
	return drv, nil
}

// UnregisterDevice removes dev from the bus. It is a no-op if dev is not
// registered here. The device becomes undiscoverable immediately; its
// release callback runs when the last reference is dropped.
func (b *Bus) UnregisterDevice(dev *Device) {
	if dev == nil {
		return
	}

	drv, ok := b.removeDevice(dev)
	if !ok {
		return
	}

	if drv != nil {
		b.detach(dev, drv)
		drv.Put()
	}
	dev.attrs.UnpublishAll()
	_ = b.notify(uevent.ActionRemove, dev.name, "") //nolint:errcheck // logged by notify

	b.logger.Info("device unregistered", "bus", b.name, "device", dev.name)
	dev.Put()
}

// removeDevice deletes dev from the device set under the bus lock.
// The returned driver (if any) carries an extra reference.
func (b *Bus) removeDevice(dev *Device) (*Driver, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if cur, ok := b.devices[dev.name]; !ok || cur != dev {
		return nil, false
	}
	if !dev.life.beginUnregister() {
		return nil, false
	}

	drv := dev.driver.Load()
	if drv != nil {
		b.unbindLocked(dev, drv)
		drv.Get()
	}

	delete(b.devices, dev.name)
	for i, d := range b.deviceOrder {
		if d == dev {
			b.deviceOrder = append(b.deviceOrder[:i], b.deviceOrder[i+1:]...)
			break
		}
	}
	return drv, true
}

// =============================================================================
// Drivers
// =============================================================================

// RegisterDriver adds drv to the bus and publishes its read-only "version"
// attribute. Devices already on the bus are not re-matched; see Rescan.
//
// Returns ErrDuplicateName if a driver of the same name is registered.
func (b *Bus) RegisterDriver(drv *Driver) error {
	if drv == nil || drv.name == "" {
		return fmt.Errorf("%w: driver name is required", ErrInvalidName)
	}

	if err := b.addDriver(drv); err != nil {
		return err
	}

	b.logger.Info("driver registered",
		"bus", b.name,
		"driver", drv.name,
		"version", drv.version,
	)
	return nil
}

func (b *Bus) addDriver(drv *Driver) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return ErrClosed
	}
	if _, exists := b.drivers[drv.name]; exists {
		return fmt.Errorf("%w: driver %q", ErrDuplicateName, drv.name)
	}
	if !drv.life.register() {
		return fmt.Errorf("%w: driver %q is %s", ErrInvalidState, drv.name, drv.State())
	}
	if err := drv.attrs.Publish(drv.versionAttribute()); err != nil {
		drv.life.abort()
		return fmt.Errorf("publishing version attribute of driver %q: %w", drv.name, err)
	}

	drv.bus.Store(b)
	b.drivers[drv.name] = drv
	b.driverOrder = append(b.driverOrder, drv)
	return nil
}

// UnregisterDriver removes drv from the bus, detaches every device bound
// to it and removes its attributes. It is a no-op if drv is not registered
// here.
func (b *Bus) UnregisterDriver(drv *Driver) {
	if drv == nil {
		return
	}

	bound, ok := b.removeDriver(drv)
	if !ok {
		return
	}

	for _, dev := range bound {
		b.detach(dev, drv)
		dev.Put()
	}
	drv.attrs.UnpublishAll()

	b.logger.Info("driver unregistered",
		"bus", b.name,
		"driver", drv.name,
		"detached", len(bound),
	)
	drv.Put()
}

// removeDriver deletes drv from the driver set under the bus lock and
// unbinds its devices. Each returned device carries an extra reference.
func (b *Bus) removeDriver(drv *Driver) ([]*Device, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if cur, ok := b.drivers[drv.name]; !ok || cur != drv {
		return nil, false
	}
	if !drv.life.beginUnregister() {
		return nil, false
	}

	bound := append([]*Device(nil), drv.bound...)
	for _, dev := range bound {
		b.unbindLocked(dev, drv)
		dev.Get()
	}

	delete(b.drivers, drv.name)
	for i, d := range b.driverOrder {
		if d == drv {
			b.driverOrder = append(b.driverOrder[:i], b.driverOrder[i+1:]...)
			break
		}
	}
	return bound, true
}

// =============================================================================
// Matching
// =============================================================================

// Rescan binds every unbound device to the first matching driver and
// returns how many new bindings survived probing. Registration never
// re-matches on its own; Rescan is the explicit way to pick up drivers
// that arrived after their devices.
func (b *Bus) Rescan() int {
	type pair struct {
		dev *Device
		drv *Driver
	}

	var pairs []pair
	b.mu.Lock()
	for _, dev := range b.deviceOrder {
		if dev.driver.Load() != nil || dev.pending != nil {
			continue
		}
		drv := b.matchLocked(dev)
		if drv == nil {
			continue
		}
		b.claimLocked(dev, drv)
		pairs = append(pairs, pair{dev: dev, drv: drv})
	}
	b.mu.Unlock()

	bound := 0
	for _, p := range pairs {
		if drv, _ := b.probe(p.dev, p.drv); drv != nil {
			bound++
			_ = b.notify(uevent.ActionBind, p.dev.name, drv.name) //nolint:errcheck // logged by notify
		}
	}

	b.logger.Info("bus rescanned", "bus", b.name, "bound", bound)
	return bound
}

// matchLocked returns the first driver, in registration order, that the
// matcher accepts for dev. Caller holds b.mu.
func (b *Bus) matchLocked(dev *Device) *Driver {
	for _, drv := range b.driverOrder {
		if b.matcher(dev, drv) {
			return drv
		}
	}
	return nil
}

// claimLocked reserves dev for drv until probe settles the binding and
// pins both. Caller holds b.mu.
func (b *Bus) claimLocked(dev *Device, drv *Driver) {
	dev.pending = drv
	dev.Get()
	drv.Get()
}

// liveLocked reports whether dev and drv are both still registered here.
// Caller holds b.mu.
func (b *Bus) liveLocked(dev *Device, drv *Driver) bool {
	return b.devices[dev.name] == dev && dev.State() == StateRegistered &&
		b.drivers[drv.name] == drv && drv.State() == StateRegistered
}

// bindLocked records the dev -> drv binding. Caller holds b.mu.
func (b *Bus) bindLocked(dev *Device, drv *Driver) {
	dev.driver.Store(drv)
	drv.bound = append(drv.bound, dev)
}

// unbindLocked removes the dev -> drv binding if present. Caller holds b.mu.
func (b *Bus) unbindLocked(dev *Device, drv *Driver) bool {
	if !dev.driver.CompareAndSwap(drv, nil) {
		return false
	}
	for i, d := range drv.bound {
		if d == dev {
			drv.bound = append(drv.bound[:i], drv.bound[i+1:]...)
			break
		}
	}
	return true
}

// probe settles a claim made by claimLocked and drops its references.
// The probe callback is skipped if either entity was unregistered after
// the claim. The binding is recorded only if both are still registered
// once the callback returns; otherwise the remove callback undoes the
// probe. A nil driver with a nil error means the binding was lost.
func (b *Bus) probe(dev *Device, drv *Driver) (*Driver, error) {
	defer dev.Put()
	defer drv.Put()

	b.mu.Lock()
	live := b.liveLocked(dev, drv)
	if !live {
		dev.pending = nil
	}
	b.mu.Unlock()
	if !live {
		b.logger.Debug("binding abandoned before probe", "bus", b.name, "device", dev.name, "driver", drv.name)
		return nil, nil
	}

	var err error
	if drv.probe != nil {
		err = callProbe(drv, dev)
	}

	b.mu.Lock()
	dev.pending = nil
	bound := err == nil && b.liveLocked(dev, drv)
	if bound {
		b.bindLocked(dev, drv)
	}
	b.mu.Unlock()

	switch {
	case err != nil:
		b.logger.Warn("driver probe failed",
			"bus", b.name,
			"device", dev.name,
			"driver", drv.name,
			"error", err,
		)
		return nil, fmt.Errorf("probing device %q with driver %q: %w", dev.name, drv.name, err)
	case !bound:
		if drv.probe != nil {
			b.callRemove(dev, drv)
		}
		b.logger.Debug("binding abandoned after probe", "bus", b.name, "device", dev.name, "driver", drv.name)
		return nil, nil
	}
	return drv, nil
}

// detach runs the driver's remove callback and raises an unbind event.
// The binding has already been removed under the bus lock.
func (b *Bus) detach(dev *Device, drv *Driver) {
	b.callRemove(dev, drv)
	_ = b.notify(uevent.ActionUnbind, dev.name, drv.name) //nolint:errcheck // logged by notify
}

// callRemove invokes drv.remove, logging a panic.
func (b *Bus) callRemove(dev *Device, drv *Driver) {
	if drv.remove == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error("driver remove panic recovered",
				"bus", b.name,
				"device", dev.name,
				"driver", drv.name,
				"panic", r,
			)
		}
	}()
	drv.remove(dev)
}

// callProbe invokes drv.probe, converting a panic into an error.
func callProbe(drv *Driver, dev *Device) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("probe panic: %v", r)
		}
	}()
	return drv.probe(dev)
}

// =============================================================================
// Notifications
// =============================================================================

// notify raises an event on the bus channel. Failures are logged and
// returned; they never fail the calling operation.
func (b *Bus) notify(action uevent.Action, device, driver string) error {
	if b.channel == nil {
		return nil
	}
	if _, err := b.channel.Notify(action, b.name, device, driver); err != nil {
		return b.notifyFailed(action, device, err)
	}
	return nil
}

func (b *Bus) notifyFailed(action uevent.Action, device string, err error) error {
	b.logger.Warn("bus notification failed",
		"bus", b.name,
		"action", action,
		"device", device,
		"error", err,
	)
	return fmt.Errorf("notifying %s of device %q: %w", action, device, err)
}

// =============================================================================
// Bus attributes
// =============================================================================

// autoprobeAttribute exposes whether device registration matches drivers.
// Writing "0" leaves new devices unbound until Rescan.
func (b *Bus) autoprobeAttribute() attribute.Attribute {
	return attribute.Attribute{
		Name: "drivers_autoprobe",
		Mode: attribute.ModeReadWrite,
		Show: func() (string, error) {
			if b.Autoprobe() {
				return "1", nil
			}
			return "0", nil
		},
		Store: func(value string) error {
			on, err := strconv.ParseBool(value)
			if err != nil {
				return fmt.Errorf("%w: %q", ErrInvalidValue, value)
			}
			b.SetAutoprobe(on)
			return nil
		},
	}
}

// Autoprobe reports whether device registration attempts matching.
func (b *Bus) Autoprobe() bool {
	return b.autoprobe.Load()
}

// SetAutoprobe enables or disables matching at device registration.
func (b *Bus) SetAutoprobe(on bool) {
	b.autoprobe.Store(on)
}

func driverName(drv *Driver) string {
	if drv == nil {
		return ""
	}
	return drv.name
}
