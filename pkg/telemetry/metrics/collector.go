package metrics

import (
	"sync"
	"time"

	"mercator-hq/turnpike/pkg/config"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

// Collector is the main orchestrator for all Prometheus metrics in turnpike.
// It manages metric registration and provides a unified interface for
// recording metrics across the gateway.
//
// All methods are safe to call on a nil *Collector, so components can take
// an optional collector without guarding every call site.
type Collector struct {
	config   *config.MetricsConfig
	registry *prometheus.Registry

	tunnelMetrics     *TunnelMetrics
	ledgerMetrics     *LedgerMetrics
	settlementMetrics *SettlementMetrics
	rpcMetrics        *RPCMetrics

	// Clients choose the method name, so it is bounded.
	cardinalityLimiter *CardinalityLimiter
}

// NewCollector creates a new metrics collector with the specified configuration
// and Prometheus registry. If registry is nil, a fresh registry with the Go
// runtime and process collectors is used.
func NewCollector(cfg *config.MetricsConfig, registry *prometheus.Registry) *Collector {
	if registry == nil {
		registry = prometheus.NewRegistry()
		registry.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
	}

	if cfg.Namespace == "" {
		cfg.Namespace = config.DefaultMetricsNamespace
	}
	if len(cfg.SettlementDurationBuckets) == 0 {
		cfg.SettlementDurationBuckets = append([]float64(nil), config.DefaultSettlementDurationBuckets...)
	}

	c := &Collector{
		config:             cfg,
		registry:           registry,
		cardinalityLimiter: NewCardinalityLimiter(64),
	}

	c.tunnelMetrics = NewTunnelMetrics(cfg, registry)
	c.ledgerMetrics = NewLedgerMetrics(cfg, registry)
	c.settlementMetrics = NewSettlementMetrics(cfg, registry)
	c.rpcMetrics = NewRPCMetrics(cfg, registry)

	return c
}

func (c *Collector) enabled() bool {
	return c != nil && c.config.Enabled
}

// SessionOpened records a newly established tunnel session.
func (c *Collector) SessionOpened() {
	if !c.enabled() {
		return
	}
	c.tunnelMetrics.SessionOpened()
}

// SessionClosed records a finished tunnel session.
//
// Parameters:
//   - reason: why the session ended (e.g., "client", "upstream", "insufficient_balance")
//   - lifetime: time since the session was opened
func (c *Collector) SessionClosed(reason string, lifetime time.Duration) {
	if !c.enabled() {
		return
	}
	c.tunnelMetrics.SessionClosed(reason, lifetime)
}

// RecordBytes records billed traffic. Direction is "upstream" for client to
// target and "downstream" for target to client.
func (c *Collector) RecordBytes(direction string, n int) {
	if !c.enabled() {
		return
	}
	c.tunnelMetrics.RecordBytes(direction, n)
}

// RecordUpgradeRejected records an upgrade refused before a session opened.
func (c *Collector) RecordUpgradeRejected(reason string) {
	if !c.enabled() {
		return
	}
	c.tunnelMetrics.RecordRejected(reason)
}

// RecordRPC records a JSON-RPC call. Method names beyond the cardinality
// limit are aggregated into "other".
func (c *Collector) RecordRPC(method, outcome string) {
	if !c.enabled() {
		return
	}
	if !c.cardinalityLimiter.Allow(method) {
		method = "other"
	}
	c.rpcMetrics.RecordCall(method, outcome)
}

// RecordVoucher records a voucher outcome with the credit it granted.
func (c *Collector) RecordVoucher(outcome string, value float64) {
	if !c.enabled() {
		return
	}
	c.ledgerMetrics.RecordVoucher(outcome, value)
}

// UpdateLedger sets the ledger gauges.
func (c *Collector) UpdateLedger(pending int, threshold float64, epoch uint64) {
	if !c.enabled() {
		return
	}
	c.ledgerMetrics.Update(pending, threshold, epoch)
}

// SettlementStarted marks a batch as handed off.
func (c *Collector) SettlementStarted() {
	if !c.enabled() {
		return
	}
	c.settlementMetrics.Started()
}

// SettlementFinished records a batch outcome ("settled", "failed" or "cancelled").
func (c *Collector) SettlementFinished(outcome string, elapsed time.Duration) {
	if !c.enabled() {
		return
	}
	c.settlementMetrics.Finished(outcome, elapsed)
}

// RecordSettlementAttempt records one submit-and-wait attempt.
func (c *Collector) RecordSettlementAttempt() {
	if !c.enabled() {
		return
	}
	c.settlementMetrics.RecordAttempt()
}

// RecordBackpressure records a hand-off that found a claim in progress.
func (c *Collector) RecordBackpressure() {
	if !c.enabled() {
		return
	}
	c.settlementMetrics.RecordBackpressure()
}

// Registry returns the Prometheus registry used by this collector.
func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}

// CardinalityLimiter prevents metric cardinality explosion by limiting
// the number of unique label values per metric.
type CardinalityLimiter struct {
	maxCardinality int
	current        map[string]struct{}
	mu             sync.RWMutex
}

// NewCardinalityLimiter creates a new cardinality limiter with the specified
// maximum cardinality.
func NewCardinalityLimiter(maxCardinality int) *CardinalityLimiter {
	return &CardinalityLimiter{
		maxCardinality: maxCardinality,
		current:        make(map[string]struct{}),
	}
}

// Allow checks if a label value is allowed. Returns true if the value
// already exists or if the limit has not been reached yet.
func (cl *CardinalityLimiter) Allow(labelSet string) bool {
	cl.mu.RLock()
	if _, exists := cl.current[labelSet]; exists {
		cl.mu.RUnlock()
		return true
	}
	cl.mu.RUnlock()

	cl.mu.Lock()
	defer cl.mu.Unlock()

	// Double-check after acquiring write lock
	if _, exists := cl.current[labelSet]; exists {
		return true
	}

	if len(cl.current) >= cl.maxCardinality {
		return false
	}

	cl.current[labelSet] = struct{}{}
	return true
}

// Count returns the current cardinality.
func (cl *CardinalityLimiter) Count() int {
	cl.mu.RLock()
	defer cl.mu.RUnlock()
	return len(cl.current)
}
