// Package config loads and validates the bridge configuration.
//
// Configuration comes from a YAML file, then environment variables
// (HEATERCOOLER_SECTION_KEY) override selected values. Secrets such as the
// HomeKit PIN, MQTT credentials and the InfluxDB token are best supplied
// through the environment.
//
// Validation is split in two:
//   - Config.Validate covers the infrastructure sections. A failure stops startup.
//   - PlatformConfig.Check covers the platform section. A failure leaves the
//     process running with an inert platform that serves no appliances.
//
// Usage:
//
//	cfg, err := config.Load("configs/config.yaml")
//	if err != nil {
//	    return err
//	}
//	timeout, err := cfg.Platform.RequestTimeoutDuration()
package config
