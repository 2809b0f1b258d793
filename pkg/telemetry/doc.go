// Package telemetry groups the observability packages used by the gateway
// and the client.
//
// # Components
//
//   - logging: structured slog logging with secret redaction
//   - metrics: Prometheus collectors for sessions, vouchers and settlement
//   - tracing: OpenTelemetry spans for sessions, control calls and claims
//   - health: liveness, readiness and version endpoints
//
// # Usage
//
//	logger, _ := logging.New(logging.Config{Level: "info", Format: "json"})
//	collector := metrics.NewCollector(&cfg.Telemetry.Metrics, prometheus.NewRegistry())
//	tracer, _ := tracing.New(&cfg.Telemetry.Tracing, version)
//	defer tracer.Shutdown(context.Background())
//
// Voucher secrets and the settlement key are never logged in clear text
// while redaction is enabled.
package telemetry
