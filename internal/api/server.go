package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/opensource-finance/tierprice/internal/domain"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Server represents the HTTP API server.
type Server struct {
	router  *chi.Mux
	handler *Handler
	server  *http.Server
	config  domain.ServerConfig
}

// NewServer creates a new API server.
func NewServer(cfg domain.ServerConfig, deps Dependencies, gatherer prometheus.Gatherer) *Server {
	handler := NewHandler(deps)
	router := chi.NewRouter()

	// Global middleware stack
	router.Use(CORSMiddleware)                      // CORS for browser clients
	router.Use(TracingMiddleware)                   // OpenTelemetry tracing
	router.Use(LoggingMiddleware(deps.HTTPMetrics)) // Request logging and metrics
	router.Use(RecoverMiddleware)                   // Recover from panics
	router.Use(middleware.RealIP)                   // Extract real IP
	router.Use(middleware.Compress(5))              // Gzip compression
	if cfg.RequestTimeout > 0 {
		router.Use(middleware.Timeout(cfg.RequestTimeout))
	}

	// Health endpoints
	router.Get("/health", handler.Health)
	router.Get("/ready", handler.Ready)
	if gatherer != nil {
		router.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	}

	// Pricing
	router.Post("/prices", handler.CalculatePrice)
	router.Post("/prices/cart", handler.CalculateCart)

	// Customer views
	router.Route("/customers/{customerID}", func(r chi.Router) {
		r.Get("/assignments", handler.ListCustomerAssignments)
		r.Get("/rules/{ruleID}/assignment", handler.GetCustomerAssignment)
		r.Get("/products/{productID}/rules", handler.ListApplicableRules)
		r.Get("/products/{productID}/savings", handler.SavingsSummary)
	})

	// Rule views
	router.Get("/rules/{ruleID}/tiers", handler.ListRuleTiers)
	router.Get("/rules/{ruleID}/customers", handler.ListRuleCustomers)

	// Operations
	router.Post("/cache/invalidate", handler.InvalidateCache)
	router.Get("/audit-logs", handler.ListAuditLogs)

	return &Server{
		router:  router,
		handler: handler,
		config:  cfg,
	}
}

// Start starts the HTTP server.
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)

	s.server = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  time.Duration(s.config.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(s.config.WriteTimeout) * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	return s.server.ListenAndServe()
}

// Shutdown gracefully shuts down the server.
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

// Handler returns the handler for testing.
func (s *Server) Handler() *Handler {
	return s.handler
}
