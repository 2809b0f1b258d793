package metrics

import (
	"time"

	"mercator-hq/turnpike/pkg/config"

	"github.com/prometheus/client_golang/prometheus"
)

// TunnelMetrics tracks gateway sessions and forwarded traffic.
//
// Metrics:
//   - turnpike_tunnel_sessions_active: Open sessions
//   - turnpike_tunnel_sessions_total: Sessions closed, by reason
//   - turnpike_tunnel_session_duration_seconds: Session lifetime
//   - turnpike_tunnel_bytes_total: Billed bytes by direction
//   - turnpike_tunnel_upgrades_rejected_total: Refused upgrades by reason
type TunnelMetrics struct {
	active          prometheus.Gauge
	sessionsTotal   *prometheus.CounterVec
	sessionDuration prometheus.Histogram
	bytesTotal      *prometheus.CounterVec
	rejectedTotal   *prometheus.CounterVec
}

// NewTunnelMetrics creates and registers tunnel metrics with the provided registry.
func NewTunnelMetrics(cfg *config.MetricsConfig, registry *prometheus.Registry) *TunnelMetrics {
	tm := &TunnelMetrics{
		active: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: cfg.Namespace,
			Subsystem: "tunnel",
			Name:      "sessions_active",
			Help:      "Number of open tunnel sessions",
		}),

		sessionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: cfg.Namespace,
				Subsystem: "tunnel",
				Name:      "sessions_total",
				Help:      "Total number of closed tunnel sessions by close reason",
			},
			[]string{"reason"},
		),

		sessionDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: cfg.Namespace,
			Subsystem: "tunnel",
			Name:      "session_duration_seconds",
			Help:      "Lifetime of tunnel sessions in seconds",
			Buckets:   prometheus.ExponentialBuckets(1, 4, 8), // 1s to ~4.5h
		}),

		bytesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: cfg.Namespace,
				Subsystem: "tunnel",
				Name:      "bytes_total",
				Help:      "Total billed bytes by direction",
			},
			[]string{"direction"},
		),

		rejectedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: cfg.Namespace,
				Subsystem: "tunnel",
				Name:      "upgrades_rejected_total",
				Help:      "Total number of refused upgrade requests by reason",
			},
			[]string{"reason"},
		),
	}

	registry.MustRegister(
		tm.active,
		tm.sessionsTotal,
		tm.sessionDuration,
		tm.bytesTotal,
		tm.rejectedTotal,
	)

	return tm
}

// SessionOpened increments the active session gauge.
func (tm *TunnelMetrics) SessionOpened() {
	tm.active.Inc()
}

// SessionClosed records a finished session.
func (tm *TunnelMetrics) SessionClosed(reason string, lifetime time.Duration) {
	tm.active.Dec()
	tm.sessionsTotal.WithLabelValues(reason).Inc()
	tm.sessionDuration.Observe(lifetime.Seconds())
}

// RecordBytes adds n billed bytes in the given direction ("upstream" or "downstream").
func (tm *TunnelMetrics) RecordBytes(direction string, n int) {
	if n > 0 {
		tm.bytesTotal.WithLabelValues(direction).Add(float64(n))
	}
}

// RecordRejected counts a refused upgrade.
func (tm *TunnelMetrics) RecordRejected(reason string) {
	tm.rejectedTotal.WithLabelValues(reason).Inc()
}
