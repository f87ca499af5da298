// Package audit records who changed the bus through the inspection API:
// attribute writes, rescans and hotplug requests.
//
// Entries are written asynchronously by the API server after a mutating
// request succeeds, so a slow database never delays the response. The
// bus itself never reads the audit log.
package audit
