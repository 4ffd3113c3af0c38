// Package config handles loading and validating ParkFlow Core configuration.
//
// This package manages:
//   - Loading configuration from YAML files
//   - Loading an optional .env file next to the config file
//   - Overriding with PARKFLOW_* environment variables
//   - Validation of required fields and fieldbus device definitions
//
// Secrets (MQTT password, InfluxDB token) should be supplied through the
// environment or the .env file rather than the YAML file.
//
// Usage:
//
//	cfg, err := config.Load("configs/config.yaml")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	fmt.Println(cfg.Dispatch.BaseURL)
package config
