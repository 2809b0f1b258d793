package metrics

import (
	"mercator-hq/turnpike/pkg/config"

	"github.com/prometheus/client_golang/prometheus"
)

// RPCMetrics tracks JSON-RPC calls handled by the gateway.
//
// Metrics:
//   - turnpike_rpc_requests_total: Calls by method and outcome ("ok" or a JSON-RPC error code)
type RPCMetrics struct {
	requestsTotal *prometheus.CounterVec
}

// NewRPCMetrics creates and registers RPC metrics with the provided registry.
func NewRPCMetrics(cfg *config.MetricsConfig, registry *prometheus.Registry) *RPCMetrics {
	rm := &RPCMetrics{
		requestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: cfg.Namespace,
				Subsystem: "rpc",
				Name:      "requests_total",
				Help:      "Total number of JSON-RPC calls by method and outcome",
			},
			[]string{"method", "outcome"},
		),
	}

	registry.MustRegister(rm.requestsTotal)

	return rm
}

// RecordCall counts one JSON-RPC call.
func (rm *RPCMetrics) RecordCall(method, outcome string) {
	rm.requestsTotal.WithLabelValues(method, outcome).Inc()
}
