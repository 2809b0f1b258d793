package tracing

import (
	"math/big"

	"go.opentelemetry.io/otel/attribute"
)

// Attribute keys. Custom keys use the "turnpike." namespace.
const (
	AttrSession     = "turnpike.session"
	AttrTarget      = "turnpike.target"
	AttrCloseReason = "turnpike.close_reason"

	AttrRPCMethod    = "rpc.method"
	AttrRPCErrorCode = "rpc.jsonrpc.error_code"

	AttrBatchSecrets = "turnpike.batch.secrets"
	AttrBatchTotal   = "turnpike.batch.total"
	AttrBatchNonce   = "turnpike.batch.nonce"
	AttrTxHash       = "turnpike.tx.hash"
	AttrAttempt      = "turnpike.attempt"
	AttrSequence     = "turnpike.sequence"
)

// SessionAttributes describes a tunnel session.
func SessionAttributes(session, target string) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.String(AttrSession, session),
		attribute.String(AttrTarget, target),
	}
}

// BatchAttributes describes a batch being claimed. Totals are recorded as
// decimal strings since they do not fit an int64.
func BatchAttributes(secrets int, total *big.Int, nonce string) []attribute.KeyValue {
	t := "0"
	if total != nil {
		t = total.String()
	}
	return []attribute.KeyValue{
		attribute.Int(AttrBatchSecrets, secrets),
		attribute.String(AttrBatchTotal, t),
		attribute.String(AttrBatchNonce, nonce),
	}
}

// AttemptAttributes describes one claim broadcast.
func AttemptAttributes(attempt int, sequence uint64, tx string) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.Int(AttrAttempt, attempt),
		attribute.Int64(AttrSequence, int64(sequence)),
		attribute.String(AttrTxHash, tx),
	}
}
