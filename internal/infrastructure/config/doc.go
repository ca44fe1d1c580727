// Package config handles loading and validating Gray Tap Core configuration.
//
// This package manages:
//   - Loading configuration from YAML files
//   - Overriding with environment variables
//   - Validation of required fields
//   - Default value handling
//
// The engine section defaults reproduce the reference control-loop timings
// (1s click cooldown, 10s verbose interval, 5-30px tap offset). Tests and
// slow devices override them per deployment.
//
// Security Considerations:
//   - Sensitive values (MQTT password, InfluxDB token, JWT secret) should be
//     set via environment variables
//   - The config file should have restricted permissions (0600)
//
// Usage:
//
//	cfg, err := config.Load("configs/config.yaml")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	fmt.Println(cfg.Templates.Dir)
package config
