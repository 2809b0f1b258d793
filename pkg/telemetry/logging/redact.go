package logging

import (
	"log/slog"
	"strings"
)

// sensitiveKeys are attribute keys whose string values are masked.
var sensitiveKeys = map[string]struct{}{
	"private_key": {},
	"secret":      {},
	"secrets":     {},
}

// visiblePrefix is how many leading characters of a masked value survive.
const visiblePrefix = 6

// RedactAttr is a slog ReplaceAttr hook that masks private keys and voucher
// secrets. Only the first few characters are kept so operators can still
// correlate log lines.
func RedactAttr(groups []string, a slog.Attr) slog.Attr {
	if _, ok := sensitiveKeys[strings.ToLower(a.Key)]; !ok {
		return a
	}

	switch a.Value.Kind() {
	case slog.KindString:
		return slog.String(a.Key, Mask(a.Value.String()))
	case slog.KindAny:
		if ss, ok := a.Value.Any().([]string); ok {
			masked := make([]string, len(ss))
			for i, s := range ss {
				masked[i] = Mask(s)
			}
			return slog.Any(a.Key, masked)
		}
		return slog.String(a.Key, "***")
	default:
		return a
	}
}

// Mask keeps a short prefix of s and replaces the rest.
func Mask(s string) string {
	if len(s) <= visiblePrefix {
		return "***"
	}
	return s[:visiblePrefix] + "***"
}
