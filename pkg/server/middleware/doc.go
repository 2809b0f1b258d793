// Package middleware provides the HTTP middleware chain of the gateway
// listener.
//
// Applied outermost first:
//
//	Recovery -> Logging -> RequestID -> routes
//
// Every wrapper preserves http.Hijacker so WebSocket upgrades pass through.
// The chain deliberately carries no request timeout: tunnel sessions live as
// long as their balance lasts.
package middleware
