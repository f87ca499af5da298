package component

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nerrad567/vbus/internal/attribute"
	"github.com/nerrad567/vbus/internal/bus"
	"github.com/nerrad567/vbus/internal/infrastructure/config"
)

// recordingRegistry wraps a real bus and logs every call.
type recordingRegistry struct {
	*bus.Bus
	calls []string
}

func (r *recordingRegistry) RegisterDriver(drv *bus.Driver) error {
	r.calls = append(r.calls, "+drv "+drv.Name())
	return r.Bus.RegisterDriver(drv)
}

func (r *recordingRegistry) UnregisterDriver(drv *bus.Driver) {
	r.calls = append(r.calls, "-drv "+drv.Name())
	r.Bus.UnregisterDriver(drv)
}

func (r *recordingRegistry) RegisterDevice(dev *bus.Device) (bus.Registration, error) {
	r.calls = append(r.calls, "+dev "+dev.Name())
	return r.Bus.RegisterDevice(dev)
}

func (r *recordingRegistry) UnregisterDevice(dev *bus.Device) {
	r.calls = append(r.calls, "-dev "+dev.Name())
	r.Bus.UnregisterDevice(dev)
}

func newRegistry(t *testing.T) *recordingRegistry {
	t.Helper()
	b, err := bus.New(bus.Config{Name: "ldd"})
	require.NoError(t, err)
	t.Cleanup(b.Close)
	return &recordingRegistry{Bus: b}
}

func sculld() *Module {
	return FromConfig(config.ComponentConfig{
		Name:    "sculld",
		Driver:  config.DriverConfig{Name: "sculld", Version: "1.0"},
		Devices: []string{"sculld0", "sculld1"},
	})
}

func TestLoadUnload(t *testing.T) {
	reg := newRegistry(t)
	m := sculld()

	require.NoError(t, m.Load(reg))
	assert.True(t, m.Loaded())
	assert.Equal(t, bus.Stats{Devices: 2, Drivers: 1, Bound: 2}, reg.Stats())

	drv, err := reg.LookupDriver("sculld")
	require.NoError(t, err)
	owner, ok := OwnerOf(drv)
	drv.Put()
	require.True(t, ok)
	assert.Same(t, m, owner)

	assert.ErrorIs(t, m.Load(reg), ErrAlreadyLoaded)

	require.NoError(t, m.Unload())
	assert.False(t, m.Loaded())
	assert.Equal(t, bus.Stats{}, reg.Stats())
	assert.Equal(t, []string{
		"+drv sculld", "+dev sculld0", "+dev sculld1",
		"-dev sculld1", "-dev sculld0", "-drv sculld",
	}, reg.calls)

	assert.ErrorIs(t, m.Unload(), ErrNotLoaded)

	// A module can be loaded again after unloading.
	require.NoError(t, m.Load(reg))
	require.NoError(t, m.Unload())
}

func TestLoad_UnwindsOnDeviceCollision(t *testing.T) {
	reg := newRegistry(t)
	_, err := reg.Bus.RegisterDevice(bus.NewDevice("sculld1"))
	require.NoError(t, err)

	m := sculld()
	err = m.Load(reg)
	require.ErrorIs(t, err, bus.ErrDuplicateName)
	assert.False(t, m.Loaded())

	assert.Equal(t, []string{
		"+drv sculld", "+dev sculld0", "+dev sculld1",
		"-dev sculld0", "-drv sculld",
	}, reg.calls)

	_, err = reg.DriverInfo("sculld")
	assert.ErrorIs(t, err, bus.ErrNotFound)
	assert.Equal(t, 1, reg.Stats().Devices, "only the pre-existing device remains")
}

func TestLoad_DriverCollision(t *testing.T) {
	reg := newRegistry(t)
	require.NoError(t, reg.Bus.RegisterDriver(bus.NewDriver("sculld", "0.1")))

	m := sculld()
	require.ErrorIs(t, m.Load(reg), bus.ErrDuplicateName)
	assert.Equal(t, []string{"+drv sculld"}, reg.calls)
	assert.Equal(t, 0, reg.Stats().Devices)
}

func TestUnload_Busy(t *testing.T) {
	reg := newRegistry(t)
	m := sculld()

	assert.ErrorIs(t, m.Acquire(), ErrNotLoaded)

	require.NoError(t, m.Load(reg))
	require.NoError(t, m.Acquire())
	assert.Equal(t, 1, m.Uses())

	assert.ErrorIs(t, m.Unload(), ErrModuleBusy)
	assert.True(t, m.Loaded())

	m.Release()
	require.NoError(t, m.Unload())
	assert.Panics(t, m.Release)
}

func TestLoadAll(t *testing.T) {
	reg := newRegistry(t)

	scull := FromConfig(config.ComponentConfig{
		Name:    "scull",
		Driver:  config.DriverConfig{Name: "scull", Version: "2.0"},
		Devices: []string{"scull0"},
	})
	clash := FromConfig(config.ComponentConfig{
		Name:    "clash",
		Driver:  config.DriverConfig{Name: "other", Version: "1"},
		Devices: []string{"scull0"},
	})

	err := LoadAll(reg, []*Module{sculld(), scull, clash})
	require.ErrorIs(t, err, bus.ErrDuplicateName)
	assert.Equal(t, bus.Stats{}, reg.Stats())
	assert.False(t, scull.Loaded())

	mods := []*Module{sculld(), scull}
	require.NoError(t, LoadAll(reg, mods))
	assert.Equal(t, 3, reg.Stats().Devices)

	require.NoError(t, UnloadAll(mods))
	assert.Equal(t, bus.Stats{}, reg.Stats())
}

func TestOwnerOf_ForeignDriver(t *testing.T) {
	_, ok := OwnerOf(bus.NewDriver("x", "1"))
	assert.False(t, ok)

	_, ok = OwnerOf(nil)
	assert.False(t, ok)
}

func TestUnload_BusyWhileAttributeRead(t *testing.T) {
	reg := newRegistry(t)
	m := sculld()
	require.NoError(t, m.Load(reg))

	entered := make(chan struct{})
	release := make(chan struct{})
	require.NoError(t, m.driver.Attrs().Publish(attribute.Attribute{
		Name:  "stats",
		Mode:  attribute.ModeReadOnly,
		Owner: m,
		Show: func() (string, error) {
			close(entered)
			<-release
			return "ok", nil
		},
	}))

	type result struct {
		value string
		err   error
	}
	done := make(chan result, 1)
	go func() {
		v, err := reg.ReadAttribute(bus.KindDriver, "sculld", "stats")
		done <- result{v, err}
	}()

	select {
	case <-entered:
	case <-time.After(2 * time.Second):
		t.Fatal("read never reached Show")
	}
	assert.Equal(t, 1, m.Uses())
	require.ErrorIs(t, m.Unload(), ErrModuleBusy)
	assert.True(t, m.Loaded())

	close(release)
	select {
	case r := <-done:
		require.NoError(t, r.err)
		assert.Equal(t, "ok", r.value)
	case <-time.After(2 * time.Second):
		t.Fatal("read did not return")
	}
	assert.Equal(t, 0, m.Uses())
	require.NoError(t, m.Unload())
}
