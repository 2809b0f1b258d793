// Package logging provides the gateway's structured logging setup.
//
// # Overview
//
// The logging package wraps Go's standard log/slog package to provide:
//   - JSON, text, and console output
//   - A runtime-adjustable level (for config reloads)
//   - Masking of private keys and voucher secrets
//   - Context fields for request and session identifiers
//   - Cause, which extracts the innermost message from wrapped errors
//
// # Usage
//
//	logger, err := logging.New(logging.Config{
//	    Level:         "info",
//	    Format:        "json",
//	    RedactSecrets: true,
//	})
//	slog.SetDefault(logger.Logger)
//
//	ctx = logging.WithSession(ctx, "s1")
//	logging.FromContext(ctx, nil).Info("session opened")
//
//	// On reload
//	_ = logger.SetLevel("debug")
//
// # Error Causes
//
// Errors from the chain client arrive wrapped several layers deep. Cause
// walks the chain and returns the most specific message:
//
//	logger.Error("claim failed", "error", logging.Cause(err))
package logging
