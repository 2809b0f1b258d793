// Package metrics provides Prometheus metrics collection for turnpike.
//
// # Metrics Categories
//
//   - Tunnel Metrics: open sessions, close reasons, billed bytes, refused upgrades
//   - Ledger Metrics: voucher outcomes, credit granted, pending secrets, threshold
//   - Settlement Metrics: batch outcomes, confirmation latency, attempts, backpressure
//   - RPC Metrics: JSON-RPC calls by method and outcome
//
// # Usage
//
//	collector := metrics.NewCollector(&cfg.Telemetry.Metrics, nil)
//	collector.SessionOpened()
//	collector.RecordBytes("downstream", 4096)
//	http.Handle(cfg.Telemetry.Metrics.Path, collector.Handler())
//
// A nil *Collector is valid and records nothing.
//
// # Prometheus Endpoint
//
//	# HELP turnpike_tunnel_bytes_total Total billed bytes by direction
//	# TYPE turnpike_tunnel_bytes_total counter
//	turnpike_tunnel_bytes_total{direction="downstream"} 1.048576e+06
package metrics
