// Package component loads declarative component modules onto a bus.
//
// A module is a driver plus the devices that come with it, as declared in
// the components section of the configuration:
//
//	components:
//	  - name: sculld
//	    driver: {name: sculld, version: "1.0"}
//	    devices: [sculld0, sculld1]
//
// Load registers the driver first and then each device. If any step fails
// every registration already made is undone in reverse order, so a module
// is either fully loaded or not at all. The module is the driver's owner
// handle; while external holders keep a use count on it Unload refuses
// with ErrModuleBusy.
package component
