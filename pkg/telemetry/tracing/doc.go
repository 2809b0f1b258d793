// Package tracing provides OpenTelemetry tracing for the gateway.
//
// # Spans
//
// The gateway records one span per tunnel session, a child span per
// control call made on it, and one span per claim submission:
//
//	tunnel.session        turnpike.session, turnpike.target, turnpike.close_reason
//	  rpc net_tip         rpc.method, rpc.jsonrpc.error_code
//	settlement.submit     turnpike.batch.*, turnpike.tx.hash, broadcast events
//
// # Propagation
//
// W3C Trace Context headers on the upgrade request become the parent of
// the session span. The metered client injects its own context when
// dialling, so a client and gateway configured against the same collector
// share one trace per tunnel.
//
// # Sampling
//
// Three strategies are supported, always wrapped in ParentBased so a
// sampled client keeps the gateway's spans:
//
//	telemetry:
//	  tracing:
//	    enabled: true
//	    sampler: ratio      # always | never | ratio
//	    sample_ratio: 0.1
//	    endpoint: localhost:4317
//
// When tracing is disabled the global provider stays a noop and Start
// returns non-recording spans.
package tracing
