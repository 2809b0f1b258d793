// Package tunnel implements the metered WebSocket to TCP relay.
//
// A client opens a WebSocket to the Gateway with the query parameters
// session, hostname and port. The gateway connects to hostname:port first and
// only then completes the upgrade. The resulting Session forwards binary
// frames to the TCP peer and TCP reads back as binary frames, debiting the
// session's balance by every forwarded byte in either direction. The first
// chunk that would leave the balance negative closes both transports.
//
// Text frames carry JSON-RPC calls:
//
//	net_get                  current voucher context and minimum value
//	net_tip(secret)          credit one voucher
//	net_tip([secret, ...])   credit up to ten vouchers at once
//
// Balances live in a BalanceBook keyed by the client-chosen session id, so a
// client reconnecting with the same id keeps its remaining credit.
package tunnel
