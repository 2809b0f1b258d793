package config

import (
	"fmt"
	"net"
	"net/url"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/robfig/cron/v3"
)

// FieldError represents a validation error for a specific configuration field.
type FieldError struct {
	// Field is the dotted path to the configuration field (e.g., "gateway.listen_address").
	Field string

	// Message is a human-readable error message.
	Message string
}

// Error returns the error message for this field error.
func (e FieldError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// ValidationError represents one or more validation errors in a configuration.
// It implements the error interface and provides access to all field errors.
type ValidationError struct {
	// Errors contains all validation errors found in the configuration.
	Errors []FieldError
}

// Error returns a formatted string containing all validation errors.
func (e ValidationError) Error() string {
	if len(e.Errors) == 0 {
		return "configuration validation failed"
	}
	if len(e.Errors) == 1 {
		return fmt.Sprintf("configuration validation failed: %s", e.Errors[0].Error())
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("configuration validation failed with %d errors:\n", len(e.Errors)))
	for _, err := range e.Errors {
		sb.WriteString(fmt.Sprintf("  - %s\n", err.Error()))
	}
	return sb.String()
}

// Validate validates the entire configuration and returns a ValidationError
// if any validation rules fail. All validation errors are collected and
// returned together.
//
// Chain credentials are optional here; the gateway additionally calls
// ValidateGateway.
func Validate(cfg *Config) error {
	var errs []FieldError

	errs = append(errs, validateGateway(&cfg.Gateway)...)
	errs = append(errs, validateChain(&cfg.Chain)...)
	errs = append(errs, validateLedger(&cfg.Ledger)...)
	errs = append(errs, validateSettlement(&cfg.Settlement)...)
	errs = append(errs, validateClient(&cfg.Client)...)
	errs = append(errs, validateTelemetry(&cfg.Telemetry)...)
	errs = append(errs, validateSecurity(&cfg.Security)...)

	if len(errs) > 0 {
		return ValidationError{Errors: errs}
	}
	return nil
}

// ValidateGateway checks the settings only `turnpike run` needs.
func ValidateGateway(cfg *Config) error {
	var errs []FieldError

	if cfg.Chain.RPCURL == "" {
		errs = append(errs, FieldError{
			Field:   "chain.rpc_url",
			Message: "rpc url is required to run the gateway",
		})
	}
	if cfg.Chain.PrivateKey == "" {
		errs = append(errs, FieldError{
			Field:   "chain.private_key",
			Message: "private key is required to run the gateway (set TURNPIKE_CHAIN_PRIVATE_KEY)",
		})
	}

	if len(errs) > 0 {
		return ValidationError{Errors: errs}
	}
	return nil
}

func validateGateway(cfg *GatewayConfig) []FieldError {
	var errs []FieldError

	if cfg.ListenAddress == "" {
		errs = append(errs, FieldError{
			Field:   "gateway.listen_address",
			Message: "listen address is required",
		})
	} else if _, _, err := net.SplitHostPort(cfg.ListenAddress); err != nil {
		errs = append(errs, FieldError{
			Field:   "gateway.listen_address",
			Message: fmt.Sprintf("invalid listen address: %v", err),
		})
	}

	for field, d := range map[string]int64{
		"gateway.read_timeout":     int64(cfg.ReadTimeout),
		"gateway.write_timeout":    int64(cfg.WriteTimeout),
		"gateway.idle_timeout":     int64(cfg.IdleTimeout),
		"gateway.shutdown_timeout": int64(cfg.ShutdownTimeout),
		"gateway.dial_timeout":     int64(cfg.DialTimeout),
	} {
		if d < 0 {
			errs = append(errs, FieldError{Field: field, Message: "timeout must be positive"})
		}
	}

	if cfg.MaxHeaderBytes < 0 || cfg.MaxHeaderBytes > 10*1024*1024 {
		errs = append(errs, FieldError{
			Field:   "gateway.max_header_bytes",
			Message: "max header bytes must be between 0 and 10MB",
		})
	}
	if cfg.ReadBufferSize < 1024 {
		errs = append(errs, FieldError{
			Field:   "gateway.read_buffer_size",
			Message: "read buffer size must be at least 1024",
		})
	}
	if cfg.MaxMessageSize < int64(cfg.ReadBufferSize) {
		errs = append(errs, FieldError{
			Field:   "gateway.max_message_size",
			Message: "max message size must be at least the read buffer size",
		})
	}
	if cfg.UpgradeRate < 0 {
		errs = append(errs, FieldError{
			Field:   "gateway.upgrade_rate",
			Message: "upgrade rate must be non-negative",
		})
	}
	if cfg.UpgradeRate > 0 && cfg.UpgradeBurst < 1 {
		errs = append(errs, FieldError{
			Field:   "gateway.upgrade_burst",
			Message: "upgrade burst must be at least 1 when a rate is set",
		})
	}

	return errs
}

func validateChain(cfg *ChainConfig) []FieldError {
	var errs []FieldError

	if cfg.RPCURL != "" {
		u, err := url.Parse(cfg.RPCURL)
		if err != nil || u.Scheme == "" {
			errs = append(errs, FieldError{
				Field:   "chain.rpc_url",
				Message: "rpc url must be an absolute URL",
			})
		}
	}
	if cfg.ChainID == 0 {
		errs = append(errs, FieldError{
			Field:   "chain.chain_id",
			Message: "chain id must be positive",
		})
	}
	if !common.IsHexAddress(cfg.ContractAddress) {
		errs = append(errs, FieldError{
			Field:   "chain.contract_address",
			Message: fmt.Sprintf("invalid address %q", cfg.ContractAddress),
		})
	}
	if cfg.PrivateKey != "" {
		if _, err := crypto.HexToECDSA(strings.TrimPrefix(cfg.PrivateKey, "0x")); err != nil {
			// Never echo the key itself.
			errs = append(errs, FieldError{
				Field:   "chain.private_key",
				Message: "invalid secp256k1 private key",
			})
		}
	}

	return errs
}

func validateLedger(cfg *LedgerConfig) []FieldError {
	var errs []FieldError

	if cfg.MinimumThreshold == 0 {
		errs = append(errs, FieldError{
			Field:   "ledger.minimum_threshold",
			Message: "minimum threshold must be positive",
		})
	}
	if cfg.BatchTrigger < 1 {
		errs = append(errs, FieldError{
			Field:   "ledger.batch_trigger",
			Message: "batch trigger must be at least 1",
		})
	}
	if cfg.MaxSecretsPerTip < 1 || cfg.MaxSecretsPerTip > 1000 {
		errs = append(errs, FieldError{
			Field:   "ledger.max_secrets_per_tip",
			Message: "max secrets per tip must be between 1 and 1000",
		})
	}

	return errs
}

func validateSettlement(cfg *SettlementConfig) []FieldError {
	var errs []FieldError

	if cfg.ConfirmationTimeout <= 0 {
		errs = append(errs, FieldError{
			Field:   "settlement.confirmation_timeout",
			Message: "confirmation timeout must be positive",
		})
	}

	switch cfg.Storage.Backend {
	case "memory":
	case "sqlite":
		if cfg.Storage.SQLitePath == "" {
			errs = append(errs, FieldError{
				Field:   "settlement.storage.sqlite_path",
				Message: "sqlite path is required for the sqlite backend",
			})
		}
	default:
		errs = append(errs, FieldError{
			Field:   "settlement.storage.backend",
			Message: fmt.Sprintf("unknown backend %q (expected memory or sqlite)", cfg.Storage.Backend),
		})
	}

	if cfg.Retention.Days < 0 {
		errs = append(errs, FieldError{
			Field:   "settlement.retention.days",
			Message: "retention days must be non-negative",
		})
	}
	if cfg.Retention.Schedule != "" {
		if _, err := cron.ParseStandard(cfg.Retention.Schedule); err != nil {
			errs = append(errs, FieldError{
				Field:   "settlement.retention.schedule",
				Message: fmt.Sprintf("invalid cron expression: %v", err),
			})
		}
	}

	return errs
}

func validateClient(cfg *ClientConfig) []FieldError {
	var errs []FieldError

	u, err := url.Parse(cfg.URL)
	if err != nil || (u.Scheme != "ws" && u.Scheme != "wss") {
		errs = append(errs, FieldError{
			Field:   "client.url",
			Message: "client url must use ws or wss",
		})
	}
	if cfg.MaxMinimum == 0 {
		errs = append(errs, FieldError{
			Field:   "client.max_minimum",
			Message: "max minimum must be positive",
		})
	}
	if cfg.ReconnectBackoff < 0 {
		errs = append(errs, FieldError{
			Field:   "client.reconnect_backoff",
			Message: "reconnect backoff must be non-negative",
		})
	}

	return errs
}

func validateTelemetry(cfg *TelemetryConfig) []FieldError {
	var errs []FieldError

	switch strings.ToLower(cfg.Logging.Level) {
	case "debug", "info", "warn", "warning", "error":
	default:
		errs = append(errs, FieldError{
			Field:   "telemetry.logging.level",
			Message: fmt.Sprintf("unknown level %q", cfg.Logging.Level),
		})
	}

	switch strings.ToLower(cfg.Logging.Format) {
	case "json", "text", "console":
	default:
		errs = append(errs, FieldError{
			Field:   "telemetry.logging.format",
			Message: fmt.Sprintf("unknown format %q", cfg.Logging.Format),
		})
	}

	if cfg.Metrics.Enabled && !strings.HasPrefix(cfg.Metrics.Path, "/") {
		errs = append(errs, FieldError{
			Field:   "telemetry.metrics.path",
			Message: "metrics path must start with /",
		})
	}
	for i := 1; i < len(cfg.Metrics.SettlementDurationBuckets); i++ {
		if cfg.Metrics.SettlementDurationBuckets[i] <= cfg.Metrics.SettlementDurationBuckets[i-1] {
			errs = append(errs, FieldError{
				Field:   "telemetry.metrics.settlement_duration_buckets",
				Message: "buckets must be strictly increasing",
			})
			break
		}
	}

	if cfg.Tracing.Enabled {
		switch cfg.Tracing.Sampler {
		case "always", "never", "ratio":
		default:
			errs = append(errs, FieldError{
				Field:   "telemetry.tracing.sampler",
				Message: fmt.Sprintf("unknown sampler %q (expected always, never or ratio)", cfg.Tracing.Sampler),
			})
		}
		if cfg.Tracing.SampleRatio < 0 || cfg.Tracing.SampleRatio > 1 {
			errs = append(errs, FieldError{
				Field:   "telemetry.tracing.sample_ratio",
				Message: "sample ratio must be between 0.0 and 1.0",
			})
		}
		if cfg.Tracing.Endpoint == "" {
			errs = append(errs, FieldError{
				Field:   "telemetry.tracing.endpoint",
				Message: "endpoint is required when tracing is enabled",
			})
		}
	}

	return errs
}

func validateSecurity(cfg *SecurityConfig) []FieldError {
	var errs []FieldError

	if cfg.TLS.Enabled {
		if cfg.TLS.CertFile == "" {
			errs = append(errs, FieldError{
				Field:   "security.tls.cert_file",
				Message: "cert file is required when TLS is enabled",
			})
		}
		if cfg.TLS.KeyFile == "" {
			errs = append(errs, FieldError{
				Field:   "security.tls.key_file",
				Message: "key file is required when TLS is enabled",
			})
		}
	}

	return errs
}
