// Package server runs the gateway's HTTP listener.
//
// One listener serves every surface of a turnpike gateway:
//
//	/          WebSocket tunnel upgrades (tunnel.Gateway)
//	/health    liveness
//	/ready     readiness (chain reachable, settlement running)
//	/version   build information
//	/metrics   Prometheus exposition, when enabled
//
// Middleware is applied Recovery -> Logging -> RequestID, outermost first.
// There is no request timeout or CORS layer: a tunnel request lasts as long
// as its session and browsers are not the intended clients.
//
// # Shutdown
//
// Shutdown stops the listener, then closes live tunnel sessions with a
// "going away" close frame, then runs the registered shutdown hooks in
// order (flushing the pending voucher batch, draining settlement, closing
// storage), all under the configured shutdown timeout.
package server
