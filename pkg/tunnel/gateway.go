package tunnel

import (
	"context"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/time/rate"

	"mercator-hq/turnpike/pkg/config"
	"mercator-hq/turnpike/pkg/telemetry/logging"
	"mercator-hq/turnpike/pkg/telemetry/metrics"
	"mercator-hq/turnpike/pkg/telemetry/tracing"
)

// limiterMaxAge is how long an idle per-IP limiter is kept.
const limiterMaxAge = 10 * time.Minute

// Config holds the gateway settings.
type Config struct {
	// DialTimeout bounds the TCP connect made before upgrading.
	DialTimeout time.Duration

	// ReadBufferSize is the TCP read chunk size.
	ReadBufferSize int

	// MaxMessageSize is the WebSocket read limit.
	MaxMessageSize int64

	// UpgradeRate limits upgrades per second per remote IP. 0 disables it.
	UpgradeRate float64

	// UpgradeBurst is the burst for UpgradeRate.
	UpgradeBurst int

	Logger  *slog.Logger
	Metrics *metrics.Collector
}

// ConfigFrom maps the gateway section of the configuration.
func ConfigFrom(cfg *config.GatewayConfig) Config {
	return Config{
		DialTimeout:    cfg.DialTimeout,
		ReadBufferSize: cfg.ReadBufferSize,
		MaxMessageSize: cfg.MaxMessageSize,
		UpgradeRate:    cfg.UpgradeRate,
		UpgradeBurst:   cfg.UpgradeBurst,
	}
}

// Gateway upgrades HTTP requests into metered sessions.
type Gateway struct {
	cfg      Config
	rpc      *RPC
	book     *BalanceBook
	metrics  *metrics.Collector
	logger   *slog.Logger
	upgrader websocket.Upgrader
	dialer   net.Dialer
	limiter  *IPRateLimiter

	ctx    context.Context
	cancel context.CancelFunc

	mu       sync.Mutex
	closing  bool
	sessions map[*Session]struct{}
	wg       sync.WaitGroup
}

// NewGateway creates a gateway dispatching control calls to rpc and billing
// against rpc's balance book. When an upgrade rate is configured it starts a
// limiter pruning goroutine that runs until Close.
func NewGateway(cfg Config, rpc *RPC) *Gateway {
	if cfg.ReadBufferSize <= 0 {
		cfg.ReadBufferSize = config.DefaultReadBufferSize
	}
	if cfg.MaxMessageSize <= 0 {
		cfg.MaxMessageSize = config.DefaultMaxMessageSize
	}
	if cfg.DialTimeout <= 0 {
		cfg.DialTimeout = config.DefaultDialTimeout
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	ctx, cancel := context.WithCancel(context.Background())
	g := &Gateway{
		cfg:     cfg,
		rpc:     rpc,
		book:    rpc.book,
		metrics: cfg.Metrics,
		logger:  logger.With("component", "gateway"),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  cfg.ReadBufferSize,
			WriteBufferSize: cfg.ReadBufferSize,
			// Sessions are authorized by balance, not by origin.
			CheckOrigin: func(*http.Request) bool { return true },
		},
		dialer:   net.Dialer{Timeout: cfg.DialTimeout},
		ctx:      ctx,
		cancel:   cancel,
		sessions: make(map[*Session]struct{}),
	}

	if cfg.UpgradeRate > 0 {
		g.limiter = NewIPRateLimiter(rate.Limit(cfg.UpgradeRate), cfg.UpgradeBurst)
		go g.cleanupLimiter()
	}

	return g
}

// Book returns the balance book shared by all sessions.
func (g *Gateway) Book() *BalanceBook { return g.book }

// ActiveSessions returns the number of live sessions.
func (g *Gateway) ActiveSessions() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.sessions)
}

// ServeHTTP validates the bootstrap parameters, connects to the target and
// then completes the WebSocket handshake.
func (g *Gateway) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if !websocket.IsWebSocketUpgrade(r) {
		g.reject(w, http.StatusBadRequest, "not_upgrade", "expected a websocket upgrade")
		return
	}

	q := r.URL.Query()
	id, hostname, port := q.Get("session"), q.Get("hostname"), q.Get("port")
	if id == "" || hostname == "" || port == "" {
		g.reject(w, http.StatusBadRequest, "missing_params", "session, hostname and port are required")
		return
	}
	if p, err := strconv.ParseUint(port, 10, 16); err != nil || p == 0 {
		g.reject(w, http.StatusBadRequest, "bad_port", "invalid port")
		return
	}

	if g.limiter != nil && !g.limiter.Allow(remoteIP(r)) {
		g.reject(w, http.StatusTooManyRequests, "rate_limited", "too many upgrades")
		return
	}

	if g.isClosing() {
		g.reject(w, http.StatusServiceUnavailable, "shutdown", "gateway is shutting down")
		return
	}

	target := net.JoinHostPort(hostname, port)

	// Sessions outlive the request context, so only its trace is kept.
	ctx := tracing.WithParent(g.ctx, r.Context())
	ctx, span := tracing.Start(ctx, "tunnel.session",
		trace.WithSpanKind(trace.SpanKindServer),
		trace.WithAttributes(tracing.SessionAttributes(id, target)...))
	defer span.End()

	ctx = logging.WithSession(ctx, id)
	ctx = logging.WithRequestID(ctx, logging.GetRequestID(r.Context()))
	ctx = logging.WithRemoteAddr(ctx, r.RemoteAddr)
	logger := logging.FromContext(ctx, g.logger)

	dialCtx, cancel := context.WithTimeout(r.Context(), g.cfg.DialTimeout)
	tcp, err := g.dialer.DialContext(dialCtx, "tcp", target)
	cancel()
	if err != nil {
		logger.Warn("failed to connect to target", "target", target, "error", err)
		tracing.SetStatus(span, err)
		g.reject(w, http.StatusBadGateway, "dial_failed", "failed to connect to target")
		return
	}

	ws, err := g.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// The upgrader has already written the HTTP error.
		_ = tcp.Close()
		tracing.SetStatus(span, err)
		g.metrics.RecordUpgradeRejected("handshake")
		logger.Debug("websocket handshake failed", "error", err)
		return
	}
	ws.SetReadLimit(g.cfg.MaxMessageSize)
	// Sessions outlive the listener's read timeout.
	_ = ws.UnderlyingConn().SetReadDeadline(time.Time{})

	s := newSession(id, ws, tcp, g, logger)
	if !g.track(s) {
		s.close(ReasonShutdown)
		return
	}
	defer g.untrack(s)

	opened := time.Now()
	g.metrics.SessionOpened()
	logger.Info("session opened", "target", target, "balance", g.book.Balance(id).String())

	err = s.Run(ctx)

	span.SetAttributes(attribute.String(tracing.AttrCloseReason, s.Reason()))
	tracing.SetStatus(span, err)
	g.metrics.SessionClosed(s.Reason(), time.Since(opened))
	logger.Info("session closed",
		"reason", s.Reason(),
		"balance", g.book.Balance(id).String(),
		"duration", time.Since(opened).String(),
		"error", err)
}

// Close stops accepting sessions, closes the live ones and waits for their
// relays to finish or ctx to expire.
func (g *Gateway) Close(ctx context.Context) error {
	g.mu.Lock()
	g.closing = true
	g.mu.Unlock()

	g.cancel()

	done := make(chan struct{})
	go func() {
		g.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (g *Gateway) isClosing() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.closing
}

func (g *Gateway) track(s *Session) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.closing {
		return false
	}
	g.sessions[s] = struct{}{}
	g.wg.Add(1)
	return true
}

func (g *Gateway) untrack(s *Session) {
	g.mu.Lock()
	delete(g.sessions, s)
	g.mu.Unlock()
	g.wg.Done()
}

func (g *Gateway) reject(w http.ResponseWriter, status int, reason, msg string) {
	g.metrics.RecordUpgradeRejected(reason)
	http.Error(w, msg, status)
}

func (g *Gateway) cleanupLimiter() {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-g.ctx.Done():
			return
		case <-ticker.C:
			if n := g.limiter.Cleanup(limiterMaxAge); n > 0 {
				g.logger.Debug("pruned idle rate limiters", "count", n)
			}
		}
	}
}

func remoteIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
