// Turnpike is a pay-per-byte WebSocket to TCP tunnel.
//
// A gateway relays bytes between a WebSocket client and a TCP target while
// debiting the session's credit. Credit is bought with vouchers that are
// batched and claimed on chain.
//
// Usage:
//
//	# Start a gateway (needs TURNPIKE_CHAIN_RPC_URL and TURNPIKE_CHAIN_PRIVATE_KEY)
//	turnpike run --config turnpike.yaml
//
//	# Forward a local port through a metered tunnel
//	turnpike connect --hostname example.com --port 443 --listen 127.0.0.1:8443
//
//	# Keep a named signal alive on a gateway across reconnects
//	turnpike signal feed '{"topic":"blocks"}' --hostname example.com --port 443
//
//	# Inspect settlement records
//	turnpike batches list --status failed
//
//	# Check a configuration file
//	turnpike config validate --config turnpike.yaml
package main

import "os"

func main() {
	os.Exit(Execute())
}
