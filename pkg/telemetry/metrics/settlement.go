package metrics

import (
	"time"

	"mercator-hq/turnpike/pkg/config"

	"github.com/prometheus/client_golang/prometheus"
)

// SettlementMetrics tracks on-chain claim submission.
//
// Metrics:
//   - turnpike_settlement_batches_total: Batch outcomes (settled, failed, cancelled)
//   - turnpike_settlement_duration_seconds: Time from hand-off to confirmation
//   - turnpike_settlement_attempts_total: Submit-and-wait attempts
//   - turnpike_settlement_in_flight: Batches handed off and not yet finished
//   - turnpike_settlement_backpressure_total: Hand-offs that found the submitter busy
type SettlementMetrics struct {
	batchesTotal *prometheus.CounterVec
	duration     prometheus.Histogram
	attempts     prometheus.Counter
	inFlight     prometheus.Gauge
	backpressure prometheus.Counter
}

// NewSettlementMetrics creates and registers settlement metrics with the provided registry.
func NewSettlementMetrics(cfg *config.MetricsConfig, registry *prometheus.Registry) *SettlementMetrics {
	sm := &SettlementMetrics{
		batchesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: cfg.Namespace,
				Subsystem: "settlement",
				Name:      "batches_total",
				Help:      "Total number of finished batches by outcome",
			},
			[]string{"outcome"},
		),

		duration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: cfg.Namespace,
			Subsystem: "settlement",
			Name:      "duration_seconds",
			Help:      "Time from batch hand-off to confirmed claim in seconds",
			Buckets:   cfg.SettlementDurationBuckets,
		}),

		attempts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: cfg.Namespace,
			Subsystem: "settlement",
			Name:      "attempts_total",
			Help:      "Total number of submit-and-wait attempts",
		}),

		inFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: cfg.Namespace,
			Subsystem: "settlement",
			Name:      "in_flight",
			Help:      "Batches handed off and not yet finished",
		}),

		backpressure: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: cfg.Namespace,
			Subsystem: "settlement",
			Name:      "backpressure_total",
			Help:      "Hand-offs that found a claim already in progress",
		}),
	}

	registry.MustRegister(
		sm.batchesTotal,
		sm.duration,
		sm.attempts,
		sm.inFlight,
		sm.backpressure,
	)

	return sm
}

// Started marks a batch as in flight.
func (sm *SettlementMetrics) Started() {
	sm.inFlight.Inc()
}

// Finished records a batch outcome.
func (sm *SettlementMetrics) Finished(outcome string, elapsed time.Duration) {
	sm.inFlight.Dec()
	sm.batchesTotal.WithLabelValues(outcome).Inc()
	if outcome == "settled" {
		sm.duration.Observe(elapsed.Seconds())
	}
}

// RecordAttempt counts one submit-and-wait attempt.
func (sm *SettlementMetrics) RecordAttempt() {
	sm.attempts.Inc()
}

// RecordBackpressure counts a hand-off that raised the threshold.
func (sm *SettlementMetrics) RecordBackpressure() {
	sm.backpressure.Inc()
}
