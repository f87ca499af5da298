package bus

import "strings"

// Matcher decides whether drv can service dev.
//
// It runs with the bus lock held and must not call back into the bus.
type Matcher func(dev *Device, drv *Driver) bool

// PrefixMatch reports whether the driver name is a non-empty prefix of the
// device name. The comparison is byte-wise and case-sensitive.
func PrefixMatch(dev *Device, drv *Driver) bool {
	return MatchName(dev.Name(), drv.Name())
}

// MatchName is PrefixMatch on bare names.
func MatchName(device, driver string) bool {
	return driver != "" && strings.HasPrefix(device, driver)
}

// ExactMatch binds only when the names are identical.
func ExactMatch(dev *Device, drv *Driver) bool {
	return drv.Name() != "" && dev.Name() == drv.Name()
}
