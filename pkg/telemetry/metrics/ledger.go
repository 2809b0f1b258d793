package metrics

import (
	"mercator-hq/turnpike/pkg/config"

	"github.com/prometheus/client_golang/prometheus"
)

// LedgerMetrics tracks voucher acceptance.
//
// Metrics:
//   - turnpike_ledger_vouchers_total: Voucher outcomes (accepted, duplicate, invalid, below_minimum)
//   - turnpike_ledger_credited_total: Total credit granted
//   - turnpike_ledger_pending_secrets: Secrets awaiting hand-off
//   - turnpike_ledger_minimum_threshold: Current minimum voucher value
//   - turnpike_ledger_epoch: Number of nonce rotations
type LedgerMetrics struct {
	vouchersTotal *prometheus.CounterVec
	credited      prometheus.Counter
	pending       prometheus.Gauge
	threshold     prometheus.Gauge
	epoch         prometheus.Gauge
}

// NewLedgerMetrics creates and registers ledger metrics with the provided registry.
func NewLedgerMetrics(cfg *config.MetricsConfig, registry *prometheus.Registry) *LedgerMetrics {
	lm := &LedgerMetrics{
		vouchersTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: cfg.Namespace,
				Subsystem: "ledger",
				Name:      "vouchers_total",
				Help:      "Total number of vouchers presented by outcome",
			},
			[]string{"outcome"},
		),

		credited: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: cfg.Namespace,
			Subsystem: "ledger",
			Name:      "credited_total",
			Help:      "Total credit granted for accepted vouchers",
		}),

		pending: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: cfg.Namespace,
			Subsystem: "ledger",
			Name:      "pending_secrets",
			Help:      "Accepted secrets not yet handed to settlement",
		}),

		threshold: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: cfg.Namespace,
			Subsystem: "ledger",
			Name:      "minimum_threshold",
			Help:      "Current minimum voucher value",
		}),

		epoch: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: cfg.Namespace,
			Subsystem: "ledger",
			Name:      "epoch",
			Help:      "Number of completed nonce rotations",
		}),
	}

	registry.MustRegister(
		lm.vouchersTotal,
		lm.credited,
		lm.pending,
		lm.threshold,
		lm.epoch,
	)

	return lm
}

// RecordVoucher counts a voucher outcome and, when accepted, its value.
func (lm *LedgerMetrics) RecordVoucher(outcome string, value float64) {
	lm.vouchersTotal.WithLabelValues(outcome).Inc()
	if value > 0 {
		lm.credited.Add(value)
	}
}

// Update sets the ledger gauges.
func (lm *LedgerMetrics) Update(pending int, threshold float64, epoch uint64) {
	lm.pending.Set(float64(pending))
	lm.threshold.Set(threshold)
	lm.epoch.Set(float64(epoch))
}
