// Package config handles loading and validating doorgate configuration.
//
// This package manages:
//   - Loading configuration from YAML files
//   - Overriding with DOORGATE_* environment variables
//   - Validation of required fields
//
// Sensitive values (MQTT password, InfluxDB token) should be set via
// environment variables and the config file kept at 0600.
//
// Usage:
//
//	cfg, err := config.Load("configs/config.yaml")
//	if err != nil {
//	    log.Fatal(err)
//	}
package config
