package tunnel

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// maxIPLimiters bounds the limiter map so spoofed sources cannot exhaust memory.
const maxIPLimiters = 10000

// IPRateLimiter hands out one token bucket per remote IP.
type IPRateLimiter struct {
	limiters map[string]*limiterEntry
	mu       sync.Mutex
	rate     rate.Limit
	burst    int
}

type limiterEntry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// NewIPRateLimiter creates a per-IP limiter allowing r events per second
// with burst b.
func NewIPRateLimiter(r rate.Limit, b int) *IPRateLimiter {
	return &IPRateLimiter{
		limiters: make(map[string]*limiterEntry),
		rate:     r,
		burst:    b,
	}
}

// Allow reports whether an event from ip may happen now.
func (l *IPRateLimiter) Allow(ip string) bool {
	return l.get(ip).Allow()
}

func (l *IPRateLimiter) get(ip string) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := time.Now()
	if entry, ok := l.limiters[ip]; ok {
		entry.lastSeen = now
		return entry.limiter
	}

	if len(l.limiters) >= maxIPLimiters {
		var oldestIP string
		var oldest time.Time
		for k, e := range l.limiters {
			if oldestIP == "" || e.lastSeen.Before(oldest) {
				oldestIP, oldest = k, e.lastSeen
			}
		}
		delete(l.limiters, oldestIP)
	}

	limiter := rate.NewLimiter(l.rate, l.burst)
	l.limiters[ip] = &limiterEntry{limiter: limiter, lastSeen: now}
	return limiter
}

// Cleanup removes limiters idle for longer than maxAge and returns how many
// were removed.
func (l *IPRateLimiter) Cleanup(maxAge time.Duration) int {
	l.mu.Lock()
	defer l.mu.Unlock()

	cutoff := time.Now().Add(-maxAge)
	removed := 0
	for ip, e := range l.limiters {
		if e.lastSeen.Before(cutoff) {
			delete(l.limiters, ip)
			removed++
		}
	}
	return removed
}

// Len returns the number of tracked IPs.
func (l *IPRateLimiter) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.limiters)
}
