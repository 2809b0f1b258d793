package server

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"mercator-hq/turnpike/pkg/config"
	"mercator-hq/turnpike/pkg/server/middleware"
	"mercator-hq/turnpike/pkg/telemetry/health"
	"mercator-hq/turnpike/pkg/telemetry/tracing"
)

// Gateway is the tunnel endpoint mounted at "/".
type Gateway interface {
	http.Handler
	Close(ctx context.Context) error
}

// ShutdownHook runs after the listener and the tunnel sessions have stopped.
type ShutdownHook func(ctx context.Context) error

// Options wires the handlers the server mounts.
type Options struct {
	Gateway Gateway

	// Checker serves /health and /ready. Optional.
	Checker *health.Checker

	// Metrics is mounted at MetricsPath when non-nil.
	Metrics     http.Handler
	MetricsPath string

	Version health.VersionInfo
	Logger  *slog.Logger
}

// Server is the gateway's HTTP listener.
type Server struct {
	config         *config.GatewayConfig
	securityConfig *config.SecurityConfig
	opts           Options
	logger         *slog.Logger
	httpServer     *http.Server
	hooks          []ShutdownHook
	ready          chan struct{}
	addr           net.Addr
	shutdownChan   chan struct{}
	stopOnce       sync.Once
	shutdownOnce   sync.Once
	shutdownErr    error
	mu             sync.RWMutex
	isRunning      bool
}

// NewServer creates a server. Start must be called to listen.
func NewServer(cfg *config.GatewayConfig, securityCfg *config.SecurityConfig, opts Options) *Server {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if opts.MetricsPath == "" {
		opts.MetricsPath = config.DefaultPrometheusPath
	}
	return &Server{
		config:         cfg,
		securityConfig: securityCfg,
		opts:           opts,
		logger:         logger.With("component", "server"),
		ready:          make(chan struct{}),
		shutdownChan:   make(chan struct{}),
	}
}

// OnShutdown appends a hook run during Shutdown. Hooks run in registration
// order and share the shutdown deadline.
func (s *Server) OnShutdown(hook ShutdownHook) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.hooks = append(s.hooks, hook)
}

// Start listens and blocks until ctx is cancelled, SIGINT/SIGTERM arrives,
// Stop is called or the listener fails. It then shuts down gracefully.
func (s *Server) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.isRunning {
		s.mu.Unlock()
		return fmt.Errorf("server is already running")
	}
	s.isRunning = true
	s.mu.Unlock()

	s.httpServer = &http.Server{
		Addr:           s.config.ListenAddress,
		Handler:        s.setupRoutes(),
		ReadTimeout:    s.config.ReadTimeout,
		WriteTimeout:   s.config.WriteTimeout,
		IdleTimeout:    s.config.IdleTimeout,
		MaxHeaderBytes: s.config.MaxHeaderBytes,
		ErrorLog:       slog.NewLogLogger(s.logger.Handler(), slog.LevelWarn),
	}

	if s.securityConfig.TLS.Enabled {
		tlsConfig, err := s.configureTLS()
		if err != nil {
			s.markStopped()
			return fmt.Errorf("failed to configure TLS: %w", err)
		}
		s.httpServer.TLSConfig = tlsConfig
	}

	ln, err := net.Listen("tcp", s.config.ListenAddress)
	if err != nil {
		s.markStopped()
		return fmt.Errorf("failed to listen on %s: %w", s.config.ListenAddress, err)
	}
	s.mu.Lock()
	s.addr = ln.Addr()
	s.mu.Unlock()
	close(s.ready)

	errChan := make(chan error, 1)
	go func() {
		s.logger.Info("starting gateway server",
			"address", ln.Addr().String(),
			"tls_enabled", s.securityConfig.TLS.Enabled,
			"metrics", s.opts.Metrics != nil,
		)

		var err error
		if s.securityConfig.TLS.Enabled {
			err = s.httpServer.ServeTLS(ln, s.securityConfig.TLS.CertFile, s.securityConfig.TLS.KeyFile)
		} else {
			err = s.httpServer.Serve(ln)
		}

		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- fmt.Errorf("server error: %w", err)
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	select {
	case <-ctx.Done():
		s.logger.Info("context cancelled, initiating shutdown")
	case sig := <-sigChan:
		s.logger.Info("received shutdown signal", "signal", sig.String())
	case err := <-errChan:
		_ = s.Shutdown(context.Background())
		return err
	case <-s.shutdownChan:
		s.logger.Info("shutdown requested")
	}
	return s.Shutdown(context.Background())
}

// Stop asks a running Start to shut down.
func (s *Server) Stop() {
	s.stopOnce.Do(func() { close(s.shutdownChan) })
}

// Ready is closed once the listener is bound.
func (s *Server) Ready() <-chan struct{} {
	return s.ready
}

// Addr is the bound listener address, or nil before Start binds.
func (s *Server) Addr() net.Addr {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.addr
}

// Shutdown gracefully shuts down the server. It is safe to call more than
// once; later calls return the first result.
func (s *Server) Shutdown(ctx context.Context) error {
	s.shutdownOnce.Do(func() {
		s.mu.RLock()
		running := s.isRunning
		hooks := append([]ShutdownHook(nil), s.hooks...)
		s.mu.RUnlock()
		if !running {
			return
		}

		s.logger.Info("initiating graceful shutdown", "timeout", s.config.ShutdownTimeout.String())

		shutdownCtx, cancel := context.WithTimeout(ctx, s.config.ShutdownTimeout)
		defer cancel()

		var errs []error

		// http.Server.Shutdown does not wait for hijacked connections, so
		// the tunnel sessions are closed explicitly afterwards.
		if s.httpServer != nil {
			if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
				s.logger.Error("error during server shutdown", "error", err)
				errs = append(errs, fmt.Errorf("server shutdown error: %w", err))
			}
		}
		if s.opts.Gateway != nil {
			if err := s.opts.Gateway.Close(shutdownCtx); err != nil {
				s.logger.Error("error closing tunnel sessions", "error", err)
				errs = append(errs, fmt.Errorf("gateway close error: %w", err))
			}
		}
		for _, hook := range hooks {
			if err := hook(shutdownCtx); err != nil {
				s.logger.Error("shutdown hook failed", "error", err)
				errs = append(errs, err)
			}
		}

		s.markStopped()
		s.shutdownErr = errors.Join(errs...)
		s.logger.Info("gateway server stopped")
	})

	return s.shutdownErr
}

func (s *Server) markStopped() {
	s.mu.Lock()
	s.isRunning = false
	s.mu.Unlock()
}

// setupRoutes configures HTTP routes and the middleware chain.
func (s *Server) setupRoutes() http.Handler {
	mux := http.NewServeMux()

	if s.opts.Checker != nil {
		s.opts.Checker.Register(mux, s.opts.Version)
	} else {
		mux.HandleFunc("/version", health.VersionHandler(s.opts.Version))
	}
	if s.opts.Metrics != nil {
		mux.Handle(s.opts.MetricsPath, s.opts.Metrics)
	}
	if s.opts.Gateway != nil {
		mux.Handle("/", s.opts.Gateway)
	}

	var handler http.Handler = mux

	// Trace context extraction
	handler = tracing.Middleware(handler)

	// Request ID middleware
	handler = middleware.RequestID(handler)

	// Logging middleware
	handler = middleware.Logging(s.opts.Logger)(handler)

	// Recovery middleware (outermost)
	handler = middleware.Recovery(s.opts.Logger)(handler)

	return handler
}

// configureTLS configures TLS settings.
func (s *Server) configureTLS() (*tls.Config, error) {
	if s.securityConfig.TLS.CertFile == "" {
		return nil, fmt.Errorf("TLS cert file not specified")
	}
	if s.securityConfig.TLS.KeyFile == "" {
		return nil, fmt.Errorf("TLS key file not specified")
	}

	if _, err := os.Stat(s.securityConfig.TLS.CertFile); os.IsNotExist(err) {
		return nil, fmt.Errorf("TLS cert file not found: %s", s.securityConfig.TLS.CertFile)
	}
	if _, err := os.Stat(s.securityConfig.TLS.KeyFile); os.IsNotExist(err) {
		return nil, fmt.Errorf("TLS key file not found: %s", s.securityConfig.TLS.KeyFile)
	}

	return &tls.Config{
		MinVersion: tls.VersionTLS13,
	}, nil
}

// IsRunning returns true if the server is running.
func (s *Server) IsRunning() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.isRunning
}

// Handler returns the configured HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.setupRoutes()
}
