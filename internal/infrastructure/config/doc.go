// Package config handles loading and validating X10 bridge configuration.
//
// This package manages:
//   - Loading configuration from YAML files
//   - Overriding with environment variables
//   - Validation of required fields
//   - Default value handling
//
// The environment variable names of the legacy x10mqtt container
// (MQTT_HOST, MQTT_PORT, CMD_TOPIC, USE_CM17, ...) are accepted alongside
// the X10BRIDGE_* names so existing deployments keep working.
//
// Security Considerations:
//   - Broker credentials should be set via environment variables
//   - The config file should have restricted permissions (0600)
//
// Usage:
//
//	cfg, err := config.Load("configs/config.yaml", true)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	fmt.Println(cfg.X10.CommandTopic)
package config
