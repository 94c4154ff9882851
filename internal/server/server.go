// Package server wires the router, middleware and handlers into the relay's
// HTTP server.
package server

import (
	"context"
	"fmt"
	"net/http"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/duddu/homebridge-smartthings-webhook-server/internal/config"
	"github.com/duddu/homebridge-smartthings-webhook-server/internal/handler"
	"github.com/duddu/homebridge-smartthings-webhook-server/internal/health"
	"github.com/duddu/homebridge-smartthings-webhook-server/internal/httperr"
	"github.com/duddu/homebridge-smartthings-webhook-server/internal/middleware"
	"github.com/duddu/homebridge-smartthings-webhook-server/internal/service"
	"github.com/duddu/homebridge-smartthings-webhook-server/internal/smartapp"
)

// Server represents the HTTP server.
type Server struct {
	router      *mux.Router
	httpServer  *http.Server
	handlers    *handler.Handlers
	lifecycle   *smartapp.Handler
	healthCheck *health.HealthChecker
	tenants     *service.TenantService
	errh        *httperr.Handler
	logger      *zap.Logger
	cfg         *config.Config
}

// NewServer creates a new HTTP server.
func NewServer(
	cfg *config.Config,
	handlers *handler.Handlers,
	lifecycle *smartapp.Handler,
	healthCheck *health.HealthChecker,
	tenants *service.TenantService,
	errh *httperr.Handler,
	logger *zap.Logger,
) *Server {
	router := mux.NewRouter()

	httpServer := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	return &Server{
		router:      router,
		httpServer:  httpServer,
		handlers:    handlers,
		lifecycle:   lifecycle,
		healthCheck: healthCheck,
		tenants:     tenants,
		errh:        errh,
		logger:      logger,
		cfg:         cfg,
	}
}

// SetupRoutes configures all HTTP routes.
func (s *Server) SetupRoutes() {
	chain := middleware.Chain(
		middleware.Recovery(s.logger),
		middleware.RequestID,
		middleware.Logging(s.logger),
	)
	s.router.Use(func(next http.Handler) http.Handler {
		return chain(next)
	})

	// Probes and diagnostics
	s.router.HandleFunc("/healthz", s.healthCheck.LivenessHandler).Methods(http.MethodGet)
	s.router.HandleFunc("/readyz", s.healthCheck.ReadinessHandler).Methods(http.MethodGet)
	s.router.HandleFunc("/version", s.handlers.Version).Methods(http.MethodGet)
	s.router.HandleFunc("/store-stats", s.handlers.StoreStats).Methods(http.MethodGet)

	// SmartThings lifecycle webhook
	s.router.HandleFunc("/api", s.lifecycle.HandleLifecycle).Methods(http.MethodPost)

	// Homebridge client poll: bearer auth, then optional per-token rate limit
	pollChain := []func(http.Handler) http.Handler{
		middleware.BearerAuth(s.tenants, s.errh, s.logger),
	}
	if s.cfg.RateLimiter.Enabled {
		rateLimiter := middleware.NewTokenRateLimiter(
			s.cfg.RateLimiter.RequestsPerSecond,
			s.cfg.RateLimiter.BurstSize,
			s.errh,
			s.logger,
		)
		pollChain = append(pollChain, rateLimiter.Limit)
	}
	s.router.Handle("/api/clientrequest",
		middleware.Chain(pollChain...)(http.HandlerFunc(s.handlers.ClientRequest)),
	).Methods(http.MethodPost)

	s.router.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.errh.WriteErrorResponse(w, http.StatusNotFound, httperr.ErrorCodeInvalidRequest,
			"endpoint not found", r.Header.Get("X-Request-ID"))
	})
	s.router.MethodNotAllowedHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.errh.WriteErrorResponse(w, http.StatusMethodNotAllowed, httperr.ErrorCodeInvalidRequest,
			"method not allowed", r.Header.Get("X-Request-ID"))
	})
}

// Start starts the HTTP server.
func (s *Server) Start() error {
	s.logger.Info("starting HTTP server", zap.Int("port", s.cfg.Server.Port))

	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("failed to start HTTP server: %w", err)
	}
	return nil
}

// Shutdown gracefully shuts down the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down HTTP server")
	return s.httpServer.Shutdown(ctx)
}

// Handler returns the root http.Handler, for tests.
func (s *Server) Handler() http.Handler {
	return s.router
}
