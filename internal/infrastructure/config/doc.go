// Package config handles loading and validating vbus daemon configuration.
//
// This package manages:
//   - Loading configuration from YAML files
//   - Overriding with VBUS_* environment variables
//   - Validation of required fields
//   - Default value handling
//
// Only the daemon's surroundings are configured here: which bus to host,
// which component modules to load at start-up, and where events are sent.
// The registry itself keeps no persistent state.
//
// Security Considerations:
//   - Sensitive values (passwords, tokens) should be set via environment variables
//   - The JWT secret guards attribute writes and rescans over HTTP
//
// Usage:
//
//	cfg, err := config.Load("configs/vbus.yaml")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	fmt.Println(cfg.Bus.Name)
package config
