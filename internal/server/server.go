// Package server is the optional operator HTTP API.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/alanyoungcy/solbot/internal/crypto"
	"github.com/alanyoungcy/solbot/internal/server/handler"
	"github.com/alanyoungcy/solbot/internal/server/middleware"
	"github.com/alanyoungcy/solbot/internal/server/ws"
)

// Config holds the HTTP server configuration.
type Config struct {
	Port          int
	CORSOrigins   []string
	APIKey        string // if empty, authentication is disabled
	SigningSecret string // if empty, request signatures are not required
	// RateLimit is the per-client request budget per minute. Zero disables
	// limiting.
	RateLimit       int
	ShutdownTimeout time.Duration
}

// Handlers aggregates the HTTP handlers the server registers. Intents and
// Audit may be nil.
type Handlers struct {
	Health    *handler.HealthHandler
	Positions *handler.PositionHandler
	Intents   *handler.IntentHandler
	Audit     *handler.AuditHandler
}

// Server is the headless HTTP + WebSocket API server.
type Server struct {
	cfg        Config
	httpServer *http.Server
	logger     *slog.Logger
}

// NewServer creates a Server with all routes registered. hub and limiter
// may be nil.
func NewServer(cfg Config, handlers Handlers, hub *ws.Hub, limiter middleware.Limiter, logger *slog.Logger) *Server {
	logger = logger.With(slog.String("component", "server"))
	mux := http.NewServeMux()

	// Health check (no auth required).
	mux.HandleFunc("GET /api/health", handlers.Health.HealthCheck)

	api := http.NewServeMux()
	api.HandleFunc("GET /api/positions", handlers.Positions.ListPositions)
	api.HandleFunc("GET /api/positions/history", handlers.Positions.ListHistory)
	api.HandleFunc("POST /api/positions/{mint}/close", handlers.Positions.ClosePosition)
	if handlers.Intents != nil {
		api.HandleFunc("GET /api/intents", handlers.Intents.ListRecent)
	}
	if handlers.Audit != nil {
		api.HandleFunc("GET /api/audit", handlers.Audit.ListAudit)
	}
	if hub != nil {
		api.HandleFunc("GET /ws", hub.HandleWS)
	}

	var protected http.Handler = api
	protected = middleware.Signed(crypto.RequestAuth{Secret: cfg.SigningSecret})(protected)
	protected = middleware.Auth(cfg.APIKey)(protected)
	mux.Handle("/", protected)

	var h http.Handler = mux
	if limiter != nil && cfg.RateLimit > 0 {
		h = middleware.RateLimit(limiter, cfg.RateLimit, time.Minute, logger)(h)
	}
	h = middleware.Logging(logger)(h)
	h = middleware.CORS(cfg.CORSOrigins)(h)

	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = 10 * time.Second
	}
	return &Server{
		cfg: cfg,
		httpServer: &http.Server{
			Addr:         fmt.Sprintf(":%d", cfg.Port),
			Handler:      h,
			ReadTimeout:  15 * time.Second,
			WriteTimeout: 30 * time.Second,
			IdleTimeout:  60 * time.Second,
		},
		logger: logger,
	}
}

// Handler returns the fully wrapped HTTP handler.
func (s *Server) Handler() http.Handler { return s.httpServer.Handler }

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() { errCh <- s.Start() }()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}
	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.cfg.ShutdownTimeout)
	defer cancel()
	return s.Shutdown(shutdownCtx)
}

// Start begins listening for HTTP requests. It blocks until the server
// encounters an error or is shut down.
func (s *Server) Start() error {
	s.logger.Info("server: starting", slog.String("addr", s.httpServer.Addr))
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("server: listen: %w", err)
	}
	return nil
}

// Shutdown gracefully shuts down the server, waiting for in-flight requests
// to complete within the given context deadline.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("server: shutting down")
	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("server: shutdown: %w", err)
	}
	return nil
}
