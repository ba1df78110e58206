// Package server exposes the gated-data endpoints over HTTP.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/alanyoungcy/mandatebot/internal/domain"
	"github.com/alanyoungcy/mandatebot/internal/server/handler"
	"github.com/alanyoungcy/mandatebot/internal/server/middleware"
)

// Config holds the HTTP server configuration.
type Config struct {
	Port               int
	CORSOrigins        []string
	AdminAPIKey        string // empty disables admin authentication
	RateLimitPerMinute int    // 0 disables rate limiting
	TrustProxyHeaders  bool
}

// Handlers aggregates the HTTP handlers the server registers.
type Handlers struct {
	Health  *handler.HealthHandler
	Premium *handler.PremiumHandler
	Admin   *handler.AdminHandler
}

// Server is the HTTP front of the gateway.
type Server struct {
	httpServer *http.Server
	logger     *slog.Logger
}

// NewServer registers every route on a ServeMux. limiter may be nil, in
// which case premium routes are not rate limited. metrics may be nil to omit
// the /metrics endpoint.
func NewServer(cfg Config, handlers Handlers, limiter domain.RateLimiter, metrics prometheus.Gatherer, logger *slog.Logger) *Server {
	logger = logger.With(slog.String("component", "http_server"))
	return &Server{
		httpServer: &http.Server{
			Addr:         fmt.Sprintf(":%d", cfg.Port),
			Handler:      Routes(cfg, handlers, limiter, metrics, logger),
			ReadTimeout:  15 * time.Second,
			WriteTimeout: 30 * time.Second,
			IdleTimeout:  60 * time.Second,
		},
		logger: logger,
	}
}

// Routes builds the full handler tree, middleware included.
func Routes(cfg Config, handlers Handlers, limiter domain.RateLimiter, metrics prometheus.Gatherer, logger *slog.Logger) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /api/health", handlers.Health.HealthCheck)
	if metrics != nil {
		mux.Handle("GET /metrics", promhttp.HandlerFor(metrics, promhttp.HandlerOpts{}))
	}

	var premium http.Handler = http.HandlerFunc(handlers.Premium.GetProbability)
	premium = handlers.Premium.Paywall(premium)
	if limiter != nil && cfg.RateLimitPerMinute > 0 {
		premium = middleware.RateLimit(limiter, middleware.RateLimitConfig{
			Scope:             "premium",
			Limit:             cfg.RateLimitPerMinute,
			Window:            time.Minute,
			TrustProxyHeaders: cfg.TrustProxyHeaders,
		}, logger)(premium)
	}
	mux.Handle("GET /api/premium/markets/{id}/probability", premium)

	admin := middleware.AdminAuth(cfg.AdminAPIKey, logger)
	mux.Handle("GET /admin/logs", admin(http.HandlerFunc(handlers.Admin.ListLogs)))

	var h http.Handler = mux
	h = middleware.Logging(logger)(h)
	h = middleware.CORS(cfg.CORSOrigins)(h)
	return h
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
