// Package logging provides structured logging for the vbus daemon.
//
// This package wraps Go's standard log/slog package so that the bus
// registry, the notification sinks and the HTTP surface all log with the
// same fields.
//
// # Features
//
//   - JSON output for production (machine-parsable)
//   - Text output for development (human-readable)
//   - Default fields (service, version) on all log entries
//   - Level-based filtering (debug, info, warn, error)
//
// # Configuration
//
//	logging:
//	  level: "info"      # debug, info, warn, error
//	  format: "json"     # json, text
//	  output: "stdout"   # stdout, stderr
//
// # Usage
//
//	logger := logging.New(cfg.Logging, "1.0.0")
//	b.SetLogger(logger.Component("bus"))
//
// Never log secrets, tokens or passwords.
package logging
