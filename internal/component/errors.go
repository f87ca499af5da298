package component

import "errors"

var (
	// ErrModuleBusy is returned by Unload while the module is in use.
	ErrModuleBusy = errors.New("component: module busy")

	// ErrNotLoaded is returned when acquiring or unloading a module that
	// is not loaded.
	ErrNotLoaded = errors.New("component: module not loaded")

	// ErrAlreadyLoaded is returned by Load on a loaded module.
	ErrAlreadyLoaded = errors.New("component: module already loaded")
)
