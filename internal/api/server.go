package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/offer"
	"github.com/opensource-finance/kestrel/internal/policy"
)

// Server is the HTTP API server.
type Server struct {
	config  domain.ServerConfig
	router  *chi.Mux
	server  *http.Server
	handler *Handler
}

// NewServer creates and configures an HTTP server with all routes.
func NewServer(cfg domain.ServerConfig, repo domain.Repository, cache domain.Cache, bus domain.EventBus, engine *offer.Engine, policyEngine *policy.Engine, version string) *Server {
	handler := NewHandler(repo, cache, bus, engine, policyEngine, version)
	router := chi.NewRouter()

	// Global middleware (order matters)
	router.Use(CORSMiddleware)         // CORS for browser clients
	router.Use(RecoverMiddleware)      // Recover from panics
	router.Use(TracingMiddleware)      // OpenTelemetry tracing
	router.Use(LoggingMiddleware)      // Request logging
	router.Use(middleware.RealIP)      // Extract real IP
	router.Use(middleware.Compress(5)) // Gzip compression

	// Health routes (no tenant required)
	router.Get("/health", handler.Health)
	router.Get("/ready", handler.Ready)

	// API routes (tenant required)
	router.Route("/", func(r chi.Router) {
		r.Use(TenantMiddleware)

		// Synchronous decision with collections supplied inline
		r.Post("/evaluate", handler.Evaluate)

		// Decision from stored records
		r.Get("/users/{id}/offer", handler.UserOffer)
		r.Post("/users/{id}/offer/request", handler.RequestOffer)

		// Record ingestion
		r.Post("/users/{id}/transactions", handler.IngestTransactions)
		r.Post("/users/{id}/bills", handler.IngestBills)
		r.Post("/users/{id}/deposits", handler.IngestDeposits)
		r.Post("/users/{id}/loans", handler.IngestLoans)

		// Decision lookup
		r.Get("/decisions/{id}", handler.GetDecision)
		r.Get("/users/{id}/decisions", handler.ListUserDecisions)

		// Policy rule management
		r.Get("/policies", handler.ListPolicies)
		r.Get("/policies/{id}", handler.GetPolicy)
		r.Post("/policies", handler.CreatePolicy)
		r.Post("/policies/reload", handler.ReloadPolicies)
	})

	return &Server{
		config:  cfg,
		router:  router,
		handler: handler,
	}
}

// Start begins listening for HTTP requests.
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)
	s.server = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  time.Duration(s.config.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(s.config.WriteTimeout) * time.Second,
	}

	return s.server.ListenAndServe()
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}

// Router returns the Chi router for testing.
func (s *Server) Router() *chi.Mux {
	return s.router
}

// Handler returns the underlying handler.
func (s *Server) Handler() *Handler {
	return s.handler
}
