package config

import "time"

// Default values for configuration fields.
const (
	// Gateway defaults
	DefaultListenAddress   = "0.0.0.0:8080"
	DefaultReadTimeout     = 30 * time.Second
	DefaultWriteTimeout    = 30 * time.Second
	DefaultIdleTimeout     = 120 * time.Second
	DefaultShutdownTimeout = 30 * time.Second
	DefaultMaxHeaderBytes  = 1048576 // 1MB
	DefaultDialTimeout     = 10 * time.Second
	DefaultReadBufferSize  = 32 * 1024
	DefaultMaxMessageSize  = int64(32 << 20)
	DefaultUpgradeBurst    = 10

	// Chain defaults
	DefaultChainID         = 100
	DefaultContractAddress = "0x0a4d5EFEa910Ea5E39be428A3d57B80BFAbA52f4"

	// Ledger defaults
	DefaultMinimumThreshold = 1 << 16
	DefaultBatchTrigger     = 640
	DefaultMaxSecretsPerTip = 10

	// Settlement defaults
	DefaultConfirmationTimeout = 15 * time.Second
	DefaultStorageBackend      = "memory"
	DefaultSQLitePath          = "data/batches.db"
	DefaultRetentionDays       = 30
	DefaultRetentionSchedule   = "0 4 * * *"

	// Client defaults
	DefaultClientURL        = "ws://127.0.0.1:8080/"
	DefaultMaxMinimum       = 1 << 24
	DefaultLowWatermark     = 1 << 16
	DefaultSignalPrice      = 1 << 20
	DefaultReconnectBackoff = 15 * time.Second

	// Telemetry defaults
	DefaultLoggingLevel     = "info"
	DefaultLoggingFormat    = "json"
	DefaultMetricsEnabled   = true
	DefaultPrometheusPath   = "/metrics"
	DefaultMetricsNamespace = "turnpike"
	DefaultTracingSampler   = "ratio"
	DefaultSampleRatio      = 0.1
	DefaultTracingEndpoint  = "localhost:4317"
	DefaultServiceName      = "turnpike"
	DefaultTracingTimeout   = 10 * time.Second
)

// DefaultSettlementDurationBuckets covers a fast local chain up to several
// timeout retries.
var DefaultSettlementDurationBuckets = []float64{1, 2.5, 5, 10, 15, 30, 60, 120}

// NewDefaultConfig returns a configuration with every default applied.
func NewDefaultConfig() *Config {
	cfg := &Config{}
	cfg.Telemetry.Metrics.Enabled = DefaultMetricsEnabled
	ApplyDefaults(cfg)
	return cfg
}

// ApplyDefaults fills zero-valued fields with defaults.
// Boolean fields are left alone since false is a meaningful value.
func ApplyDefaults(cfg *Config) {
	// Gateway defaults
	if cfg.Gateway.ListenAddress == "" {
		cfg.Gateway.ListenAddress = DefaultListenAddress
	}
	if cfg.Gateway.ReadTimeout == 0 {
		cfg.Gateway.ReadTimeout = DefaultReadTimeout
	}
	if cfg.Gateway.WriteTimeout == 0 {
		cfg.Gateway.WriteTimeout = DefaultWriteTimeout
	}
	if cfg.Gateway.IdleTimeout == 0 {
		cfg.Gateway.IdleTimeout = DefaultIdleTimeout
	}
	if cfg.Gateway.ShutdownTimeout == 0 {
		cfg.Gateway.ShutdownTimeout = DefaultShutdownTimeout
	}
	if cfg.Gateway.MaxHeaderBytes == 0 {
		cfg.Gateway.MaxHeaderBytes = DefaultMaxHeaderBytes
	}
	if cfg.Gateway.DialTimeout == 0 {
		cfg.Gateway.DialTimeout = DefaultDialTimeout
	}
	if cfg.Gateway.ReadBufferSize == 0 {
		cfg.Gateway.ReadBufferSize = DefaultReadBufferSize
	}
	if cfg.Gateway.MaxMessageSize == 0 {
		cfg.Gateway.MaxMessageSize = DefaultMaxMessageSize
	}
	if cfg.Gateway.UpgradeBurst == 0 {
		cfg.Gateway.UpgradeBurst = DefaultUpgradeBurst
	}

	// Chain defaults
	if cfg.Chain.ChainID == 0 {
		cfg.Chain.ChainID = DefaultChainID
	}
	if cfg.Chain.ContractAddress == "" {
		cfg.Chain.ContractAddress = DefaultContractAddress
	}

	// Ledger defaults
	if cfg.Ledger.MinimumThreshold == 0 {
		cfg.Ledger.MinimumThreshold = DefaultMinimumThreshold
	}
	if cfg.Ledger.BatchTrigger == 0 {
		cfg.Ledger.BatchTrigger = DefaultBatchTrigger
	}
	if cfg.Ledger.MaxSecretsPerTip == 0 {
		cfg.Ledger.MaxSecretsPerTip = DefaultMaxSecretsPerTip
	}

	// Settlement defaults
	if cfg.Settlement.ConfirmationTimeout == 0 {
		cfg.Settlement.ConfirmationTimeout = DefaultConfirmationTimeout
	}
	if cfg.Settlement.Storage.Backend == "" {
		cfg.Settlement.Storage.Backend = DefaultStorageBackend
	}
	if cfg.Settlement.Storage.SQLitePath == "" {
		cfg.Settlement.Storage.SQLitePath = DefaultSQLitePath
	}
	if cfg.Settlement.Retention.Days == 0 {
		cfg.Settlement.Retention.Days = DefaultRetentionDays
	}
	if cfg.Settlement.Retention.Schedule == "" {
		cfg.Settlement.Retention.Schedule = DefaultRetentionSchedule
	}

	// Client defaults
	if cfg.Client.URL == "" {
		cfg.Client.URL = DefaultClientURL
	}
	if cfg.Client.MaxMinimum == 0 {
		cfg.Client.MaxMinimum = DefaultMaxMinimum
	}
	if cfg.Client.LowWatermark == 0 {
		cfg.Client.LowWatermark = DefaultLowWatermark
	}
	if cfg.Client.SignalPrice == 0 {
		cfg.Client.SignalPrice = DefaultSignalPrice
	}
	if cfg.Client.ReconnectBackoff == 0 {
		cfg.Client.ReconnectBackoff = DefaultReconnectBackoff
	}

	// Telemetry defaults
	if cfg.Telemetry.Logging.Level == "" {
		cfg.Telemetry.Logging.Level = DefaultLoggingLevel
	}
	if cfg.Telemetry.Logging.Format == "" {
		cfg.Telemetry.Logging.Format = DefaultLoggingFormat
	}
	if cfg.Telemetry.Metrics.Path == "" {
		cfg.Telemetry.Metrics.Path = DefaultPrometheusPath
	}
	if cfg.Telemetry.Metrics.Namespace == "" {
		cfg.Telemetry.Metrics.Namespace = DefaultMetricsNamespace
	}
	if len(cfg.Telemetry.Metrics.SettlementDurationBuckets) == 0 {
		cfg.Telemetry.Metrics.SettlementDurationBuckets = append([]float64(nil), DefaultSettlementDurationBuckets...)
	}
	// A zero ratio is meaningful once a sampler has been chosen.
	if cfg.Telemetry.Tracing.Sampler == "" {
		cfg.Telemetry.Tracing.Sampler = DefaultTracingSampler
		if cfg.Telemetry.Tracing.SampleRatio == 0 {
			cfg.Telemetry.Tracing.SampleRatio = DefaultSampleRatio
		}
	}
	if cfg.Telemetry.Tracing.Endpoint == "" {
		cfg.Telemetry.Tracing.Endpoint = DefaultTracingEndpoint
	}
	if cfg.Telemetry.Tracing.ServiceName == "" {
		cfg.Telemetry.Tracing.ServiceName = DefaultServiceName
	}
	if cfg.Telemetry.Tracing.Timeout == 0 {
		cfg.Telemetry.Tracing.Timeout = DefaultTracingTimeout
	}
}
