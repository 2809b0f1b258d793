package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "TURNPIKE_"

// LoadConfig loads configuration from a YAML file at the specified path.
// It applies default values, validates the configuration, and returns any errors.
// Environment variables are not consulted; use LoadConfigWithEnvOverrides
// for that.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read configuration file %q: %w", path, err)
	}

	cfg, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("failed to parse configuration file %q: %w", path, err)
	}

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

// Parse decodes YAML and applies defaults without validating.
func Parse(data []byte) (*Config, error) {
	// Booleans that default to true are seeded before decoding so an
	// omitted key keeps the default.
	cfg := &Config{}
	cfg.Telemetry.Metrics.Enabled = DefaultMetricsEnabled
	cfg.Telemetry.Logging.RedactSecrets = true

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, err
	}

	ApplyDefaults(cfg)
	return cfg, nil
}

// LoadConfigWithEnvOverrides loads configuration from a YAML file and applies
// environment variable overrides. Environment variables follow the naming
// convention TURNPIKE_SECTION_FIELD (e.g., TURNPIKE_GATEWAY_LISTEN_ADDRESS).
// Environment variables always take precedence over file-based configuration.
//
// An empty path starts from defaults, so a gateway can be configured through
// the environment alone.
func LoadConfigWithEnvOverrides(path string) (*Config, error) {
	var cfg *Config
	if path == "" {
		cfg = NewDefaultConfig()
		cfg.Telemetry.Logging.RedactSecrets = true
	} else {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read configuration file %q: %w", path, err)
		}
		cfg, err = Parse(data)
		if err != nil {
			return nil, fmt.Errorf("failed to parse configuration file %q: %w", path, err)
		}
	}

	if err := applyEnvOverrides(cfg); err != nil {
		return nil, err
	}

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

// applyEnvOverrides applies TURNPIKE_* variables. Malformed values are
// reported as validation errors rather than silently ignored.
func applyEnvOverrides(cfg *Config) error {
	var errs []FieldError
	env := envReader{errs: &errs}

	// Gateway overrides
	env.str("GATEWAY_LISTEN_ADDRESS", &cfg.Gateway.ListenAddress)
	env.duration("GATEWAY_READ_TIMEOUT", &cfg.Gateway.ReadTimeout)
	env.duration("GATEWAY_WRITE_TIMEOUT", &cfg.Gateway.WriteTimeout)
	env.duration("GATEWAY_IDLE_TIMEOUT", &cfg.Gateway.IdleTimeout)
	env.duration("GATEWAY_SHUTDOWN_TIMEOUT", &cfg.Gateway.ShutdownTimeout)
	env.integer("GATEWAY_MAX_HEADER_BYTES", &cfg.Gateway.MaxHeaderBytes)
	env.duration("GATEWAY_DIAL_TIMEOUT", &cfg.Gateway.DialTimeout)
	env.integer("GATEWAY_READ_BUFFER_SIZE", &cfg.Gateway.ReadBufferSize)
	env.float("GATEWAY_UPGRADE_RATE", &cfg.Gateway.UpgradeRate)
	env.integer("GATEWAY_UPGRADE_BURST", &cfg.Gateway.UpgradeBurst)

	// Chain overrides
	env.str("CHAIN_RPC_URL", &cfg.Chain.RPCURL)
	env.uint("CHAIN_CHAIN_ID", &cfg.Chain.ChainID)
	env.str("CHAIN_CONTRACT_ADDRESS", &cfg.Chain.ContractAddress)
	env.str("CHAIN_PRIVATE_KEY", &cfg.Chain.PrivateKey)

	// Ledger overrides
	env.uint("LEDGER_MINIMUM_THRESHOLD", &cfg.Ledger.MinimumThreshold)
	env.integer("LEDGER_BATCH_TRIGGER", &cfg.Ledger.BatchTrigger)

	// Settlement overrides
	env.duration("SETTLEMENT_CONFIRMATION_TIMEOUT", &cfg.Settlement.ConfirmationTimeout)
	env.str("SETTLEMENT_STORAGE_BACKEND", &cfg.Settlement.Storage.Backend)
	env.str("SETTLEMENT_STORAGE_SQLITE_PATH", &cfg.Settlement.Storage.SQLitePath)
	env.integer("SETTLEMENT_RETENTION_DAYS", &cfg.Settlement.Retention.Days)
	env.str("SETTLEMENT_RETENTION_SCHEDULE", &cfg.Settlement.Retention.Schedule)

	// Client overrides
	env.str("CLIENT_URL", &cfg.Client.URL)
	env.uint("CLIENT_MAX_MINIMUM", &cfg.Client.MaxMinimum)

	// Telemetry overrides
	env.str("TELEMETRY_LOGGING_LEVEL", &cfg.Telemetry.Logging.Level)
	env.str("TELEMETRY_LOGGING_FORMAT", &cfg.Telemetry.Logging.Format)
	env.boolean("TELEMETRY_METRICS_ENABLED", &cfg.Telemetry.Metrics.Enabled)
	env.str("TELEMETRY_METRICS_PATH", &cfg.Telemetry.Metrics.Path)
	env.boolean("TELEMETRY_TRACING_ENABLED", &cfg.Telemetry.Tracing.Enabled)
	env.str("TELEMETRY_TRACING_SAMPLER", &cfg.Telemetry.Tracing.Sampler)
	env.float("TELEMETRY_TRACING_SAMPLE_RATIO", &cfg.Telemetry.Tracing.SampleRatio)
	env.str("TELEMETRY_TRACING_ENDPOINT", &cfg.Telemetry.Tracing.Endpoint)

	// Security overrides
	env.boolean("SECURITY_TLS_ENABLED", &cfg.Security.TLS.Enabled)
	env.str("SECURITY_TLS_CERT_FILE", &cfg.Security.TLS.CertFile)
	env.str("SECURITY_TLS_KEY_FILE", &cfg.Security.TLS.KeyFile)

	if len(errs) > 0 {
		return ValidationError{Errors: errs}
	}
	return nil
}

type envReader struct {
	errs *[]FieldError
}

func (e envReader) lookup(name string) (string, bool) {
	val, ok := os.LookupEnv(EnvPrefix + name)
	return val, ok && val != ""
}

func (e envReader) fail(name string, err error) {
	*e.errs = append(*e.errs, FieldError{
		Field:   EnvPrefix + name,
		Message: err.Error(),
	})
}

func (e envReader) str(name string, dst *string) {
	if val, ok := e.lookup(name); ok {
		*dst = val
	}
}

func (e envReader) duration(name string, dst *time.Duration) {
	if val, ok := e.lookup(name); ok {
		d, err := time.ParseDuration(val)
		if err != nil {
			e.fail(name, err)
			return
		}
		*dst = d
	}
}

func (e envReader) integer(name string, dst *int) {
	if val, ok := e.lookup(name); ok {
		i, err := strconv.Atoi(val)
		if err != nil {
			e.fail(name, err)
			return
		}
		*dst = i
	}
}

func (e envReader) uint(name string, dst *uint64) {
	if val, ok := e.lookup(name); ok {
		u, err := strconv.ParseUint(val, 0, 64)
		if err != nil {
			e.fail(name, err)
			return
		}
		*dst = u
	}
}

func (e envReader) float(name string, dst *float64) {
	if val, ok := e.lookup(name); ok {
		f, err := strconv.ParseFloat(val, 64)
		if err != nil {
			e.fail(name, err)
			return
		}
		*dst = f
	}
}

func (e envReader) boolean(name string, dst *bool) {
	if val, ok := e.lookup(name); ok {
		b, err := strconv.ParseBool(val)
		if err != nil {
			e.fail(name, err)
			return
		}
		*dst = b
	}
}
