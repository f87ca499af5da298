// Package api serves the HTTP inspection surface of a bus.
//
// Read endpoints expose bus, device and driver state and their attributes.
// Attribute values are returned as text/plain with a trailing newline, the
// way sysfs files read. Mutating endpoints (attribute writes, rescan and
// hotplug) require a bearer token signed with the configured JWT secret.
// Each successful mutation is appended to the audit log with the token
// subject. GET /api/v1/events/ws streams uevents over a WebSocket.
//
// The server follows the same lifecycle as the other infrastructure
// components:
//
//	server, err := api.New(deps)
//	server.Start(ctx)
//	defer server.Close()
package api
