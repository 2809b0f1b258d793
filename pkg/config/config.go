package config

import "time"

// Config is the root configuration structure for turnpike.
// It contains all configuration sections for the gateway, the settlement
// chain, the voucher ledger and the metered client.
type Config struct {
	// Gateway contains HTTP server and tunnel settings.
	Gateway GatewayConfig `yaml:"gateway"`

	// Chain contains the settlement chain connection and account.
	Chain ChainConfig `yaml:"chain"`

	// Ledger contains voucher acceptance settings.
	Ledger LedgerConfig `yaml:"ledger"`

	// Settlement contains claim submission and batch record settings.
	Settlement SettlementConfig `yaml:"settlement"`

	// Client contains settings for the metered client (`turnpike connect`).
	Client ClientConfig `yaml:"client"`

	// Telemetry contains logging and metrics configuration.
	Telemetry TelemetryConfig `yaml:"telemetry"`

	// Security contains TLS configuration.
	Security SecurityConfig `yaml:"security"`
}

// GatewayConfig contains configuration for the tunnel gateway.
type GatewayConfig struct {
	// ListenAddress is the address and port to listen on (e.g., "0.0.0.0:8080").
	ListenAddress string `yaml:"listen_address"`

	// ReadTimeout is the maximum duration for reading the upgrade request.
	ReadTimeout time.Duration `yaml:"read_timeout"`

	// WriteTimeout is the maximum duration for writing plain HTTP responses.
	// Hijacked tunnel connections are not subject to it.
	WriteTimeout time.Duration `yaml:"write_timeout"`

	// IdleTimeout is the maximum time to wait for the next request on a keep-alive connection.
	IdleTimeout time.Duration `yaml:"idle_timeout"`

	// ShutdownTimeout is how long graceful shutdown waits for in-flight work.
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`

	// MaxHeaderBytes is the maximum size of request headers.
	MaxHeaderBytes int `yaml:"max_header_bytes"`

	// DialTimeout bounds the outbound TCP connect made before upgrading.
	DialTimeout time.Duration `yaml:"dial_timeout"`

	// ReadBufferSize is the chunk size for TCP to WebSocket forwarding.
	ReadBufferSize int `yaml:"read_buffer_size"`

	// MaxMessageSize is the largest WebSocket message accepted from a client.
	MaxMessageSize int64 `yaml:"max_message_size"`

	// UpgradeRate is the allowed upgrades per second per remote IP.
	// 0 disables the limit.
	UpgradeRate float64 `yaml:"upgrade_rate"`

	// UpgradeBurst is the burst size for UpgradeRate.
	UpgradeBurst int `yaml:"upgrade_burst"`
}

// ChainConfig identifies the settlement chain and account.
type ChainConfig struct {
	// RPCURL is the Ethereum JSON-RPC endpoint. Required to run the gateway.
	RPCURL string `yaml:"rpc_url"`

	// ChainID is the EIP-155 chain id.
	ChainID uint64 `yaml:"chain_id"`

	// ContractAddress is the claim contract.
	ContractAddress string `yaml:"contract_address"`

	// PrivateKey is the hex settlement key. Its address is the voucher
	// receiver. Prefer TURNPIKE_CHAIN_PRIVATE_KEY over putting it in a file.
	PrivateKey string `yaml:"private_key"`
}

// LedgerConfig contains voucher acceptance settings.
type LedgerConfig struct {
	// MinimumThreshold is the baseline minimum voucher value.
	MinimumThreshold uint64 `yaml:"minimum_threshold"`

	// BatchTrigger hands the pending batch off once it holds more secrets.
	BatchTrigger int `yaml:"batch_trigger"`

	// MaxSecretsPerTip bounds the batch form of net_tip.
	MaxSecretsPerTip int `yaml:"max_secrets_per_tip"`
}

// SettlementConfig contains claim submission settings.
type SettlementConfig struct {
	// ConfirmationTimeout bounds each submit-and-wait attempt before the
	// same transaction is re-broadcast.
	ConfirmationTimeout time.Duration `yaml:"confirmation_timeout"`

	// Storage selects where batch records are kept.
	Storage StorageConfig `yaml:"storage"`

	// Retention controls pruning of settled batch records.
	Retention RetentionConfig `yaml:"retention"`
}

// StorageConfig selects the batch record backend.
type StorageConfig struct {
	// Backend is "memory" or "sqlite".
	Backend string `yaml:"backend"`

	// SQLitePath is the database file for the sqlite backend.
	SQLitePath string `yaml:"sqlite_path"`
}

// RetentionConfig controls pruning of settled batch records.
type RetentionConfig struct {
	// Days is how long settled records are kept. 0 keeps them forever.
	Days int `yaml:"days"`

	// Schedule is a standard cron expression.
	Schedule string `yaml:"schedule"`
}

// ClientConfig contains metered client settings.
type ClientConfig struct {
	// URL is the gateway WebSocket URL.
	URL string `yaml:"url"`

	// MaxMinimum is the highest server minimum the client will pay.
	MaxMinimum uint64 `yaml:"max_minimum"`

	// LowWatermark triggers a background refill after downloads.
	LowWatermark uint64 `yaml:"low_watermark"`

	// SignalPrice is the cost of one net_signal call.
	SignalPrice uint64 `yaml:"signal_price"`

	// ReconnectBackoff is the wait after a failed signaler connect.
	ReconnectBackoff time.Duration `yaml:"reconnect_backoff"`
}

// TelemetryConfig contains logging and metrics configuration.
type TelemetryConfig struct {
	// Logging contains structured logging configuration.
	Logging LoggingConfig `yaml:"logging"`

	// Metrics contains Prometheus metrics configuration.
	Metrics MetricsConfig `yaml:"metrics"`

	// Tracing contains OpenTelemetry tracing configuration.
	Tracing TracingConfig `yaml:"tracing"`
}

// LoggingConfig contains structured logging configuration.
type LoggingConfig struct {
	// Level is the minimum log level ("debug", "info", "warn", "error").
	Level string `yaml:"level"`

	// Format is the log output format ("json", "text", "console").
	Format string `yaml:"format"`

	// AddSource includes source file and line number in log entries.
	AddSource bool `yaml:"add_source"`

	// RedactSecrets masks private keys and voucher secrets.
	RedactSecrets bool `yaml:"redact_secrets"`
}

// MetricsConfig contains Prometheus metrics configuration.
type MetricsConfig struct {
	// Enabled controls whether metrics are collected and exposed.
	Enabled bool `yaml:"enabled"`

	// Path is the HTTP path for the metrics endpoint.
	Path string `yaml:"path"`

	// Namespace prefixes every metric name.
	Namespace string `yaml:"namespace"`

	// SettlementDurationBuckets are histogram buckets in seconds.
	SettlementDurationBuckets []float64 `yaml:"settlement_duration_buckets"`
}

// TracingConfig contains distributed tracing configuration.
type TracingConfig struct {
	// Enabled controls whether spans are exported.
	// Default: false
	Enabled bool `yaml:"enabled"`

	// Sampler determines the sampling strategy.
	// Options: "always", "never", "ratio"
	// Default: "ratio"
	Sampler string `yaml:"sampler"`

	// SampleRatio is the fraction of traces to sample (0.0 to 1.0).
	// Only used when Sampler is "ratio".
	SampleRatio float64 `yaml:"sample_ratio"`

	// Endpoint is the OTLP gRPC collector address.
	Endpoint string `yaml:"endpoint"`

	// ServiceName is the service name in traces.
	ServiceName string `yaml:"service_name"`

	// Insecure disables TLS towards the collector.
	Insecure bool `yaml:"insecure"`

	// Timeout bounds each export.
	Timeout time.Duration `yaml:"timeout"`
}

// SecurityConfig contains security-related configuration.
type SecurityConfig struct {
	// TLS contains TLS configuration for the gateway listener.
	TLS TLSConfig `yaml:"tls"`
}

// TLSConfig contains TLS configuration.
type TLSConfig struct {
	// Enabled controls whether TLS is enabled.
	Enabled bool `yaml:"enabled"`

	// CertFile is the path to the TLS certificate file.
	CertFile string `yaml:"cert_file"`

	// KeyFile is the path to the TLS private key file.
	KeyFile string `yaml:"key_file"`
}
