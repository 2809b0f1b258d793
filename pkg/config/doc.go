// Package config provides configuration management for turnpike.
//
// This package handles loading, validating, and managing configuration from
// YAML files with environment variable overrides.
//
// # Configuration Loading
//
// Configuration can be loaded in two ways:
//
//  1. From a YAML file only:
//     cfg, err := config.LoadConfig("turnpike.yaml")
//
//  2. From a YAML file with environment variable overrides:
//     cfg, err := config.LoadConfigWithEnvOverrides("turnpike.yaml")
//
// # Environment Variable Overrides
//
// Environment variables follow the naming convention TURNPIKE_SECTION_FIELD.
// For example:
//
//   - TURNPIKE_GATEWAY_LISTEN_ADDRESS overrides gateway.listen_address
//   - TURNPIKE_CHAIN_PRIVATE_KEY overrides chain.private_key
//   - TURNPIKE_TELEMETRY_LOGGING_LEVEL overrides telemetry.logging.level
//
// # Configuration Precedence
//
// Configuration values are applied in the following order (later overrides earlier):
//
//  1. Default values (defined in defaults.go)
//  2. Values from YAML file
//  3. Environment variable overrides
//  4. Validation (fails fast if invalid)
//
// The settlement key is only required by the gateway; `turnpike run` calls
// ValidateGateway after loading.
//
// # Hot Reload
//
// Watcher observes the configuration file and reloads it after a debounce
// interval. The gateway uses it to change the log level without a restart.
package config
