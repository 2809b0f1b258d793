package logging

import (
	"context"
	"log/slog"
)

// Context keys for common log fields.
type contextKey string

const (
	// RequestIDKey is the context key for request IDs.
	RequestIDKey contextKey = "request_id"

	// SessionKey is the context key for tunnel session identifiers.
	SessionKey contextKey = "session"

	// RemoteAddrKey is the context key for the peer address.
	RemoteAddrKey contextKey = "remote_addr"
)

// WithRequestID adds a request ID to the context.
func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, RequestIDKey, requestID)
}

// GetRequestID retrieves the request ID from the context.
func GetRequestID(ctx context.Context) string {
	if requestID, ok := ctx.Value(RequestIDKey).(string); ok {
		return requestID
	}
	return ""
}

// WithSession adds a session identifier to the context.
func WithSession(ctx context.Context, session string) context.Context {
	return context.WithValue(ctx, SessionKey, session)
}

// GetSession retrieves the session identifier from the context.
func GetSession(ctx context.Context) string {
	if session, ok := ctx.Value(SessionKey).(string); ok {
		return session
	}
	return ""
}

// WithRemoteAddr adds the peer address to the context.
func WithRemoteAddr(ctx context.Context, addr string) context.Context {
	return context.WithValue(ctx, RemoteAddrKey, addr)
}

// GetRemoteAddr retrieves the peer address from the context.
func GetRemoteAddr(ctx context.Context) string {
	if addr, ok := ctx.Value(RemoteAddrKey).(string); ok {
		return addr
	}
	return ""
}

// FromContext returns logger annotated with the fields stored in ctx.
// A nil logger means slog.Default().
func FromContext(ctx context.Context, logger *slog.Logger) *slog.Logger {
	if logger == nil {
		logger = slog.Default()
	}
	fields := extractContextFields(ctx)
	if len(fields) == 0 {
		return logger
	}
	return logger.With(fields...)
}

// extractContextFields returns key-value pairs suitable for logger.With().
func extractContextFields(ctx context.Context) []any {
	var fields []any

	if requestID := GetRequestID(ctx); requestID != "" {
		fields = append(fields, "request_id", requestID)
	}
	if session := GetSession(ctx); session != "" {
		fields = append(fields, "session", session)
	}
	if addr := GetRemoteAddr(ctx); addr != "" {
		fields = append(fields, "remote_addr", addr)
	}

	return fields
}
