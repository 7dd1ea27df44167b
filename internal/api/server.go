// Package api provides the HTTP API server implementation.
package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/portfolio-ledger/internal/logging"
	"github.com/portfolio-ledger/internal/models"
	"github.com/portfolio-ledger/internal/service"
	"github.com/shopspring/decimal"
)

// Service interfaces for dependency injection and testing

// LedgerServiceInterface defines the interface for trade operations
type LedgerServiceInterface interface {
	Buy(ctx context.Context, userID, symbol string, quantity, price decimal.Decimal) (*service.TradeResult, error)
	Sell(ctx context.Context, userID, symbol string, quantity, price decimal.Decimal) (*service.TradeResult, error)
}

// AccountServiceInterface defines the interface for portfolio reads
type AccountServiceInterface interface {
	GetPortfolio(ctx context.Context, userID string) (*service.PortfolioView, error)
	GetHoldings(ctx context.Context, userID string) (*service.HoldingsView, error)
	ListTransactions(ctx context.Context, userID string, filter models.TransactionFilter) ([]*models.Transaction, error)
}

// SnapshotServiceInterface defines the interface for snapshot operations
type SnapshotServiceInterface interface {
	CreateTodaySnapshot(ctx context.Context, userID string) (*models.Snapshot, bool, error)
	GetValueHistory(ctx context.Context, userID string, days int) (*service.ValueHistory, error)
}

// PerformanceServiceInterface defines the interface for analytics
type PerformanceServiceInterface interface {
	GetPerformance(ctx context.Context, userID string, days int) (*service.PerformanceReport, error)
}

// QuoteServiceInterface prices trades submitted without a price
type QuoteServiceInterface interface {
	Get(ctx context.Context, symbol string, allowStale bool) (*models.Quote, error)
}

// HealthChecker reports whether a backing store is reachable
type HealthChecker interface {
	Ping(ctx context.Context) error
}

// Services bundles the services the API serves
type Services struct {
	Ledger      LedgerServiceInterface
	Accounts    AccountServiceInterface
	Snapshots   SnapshotServiceInterface
	Performance PerformanceServiceInterface
	Quotes      QuoteServiceInterface
	// Health maps a dependency name to its checker
	Health map[string]HealthChecker
}

// Server represents the HTTP API server.
type Server struct {
	router     *mux.Router
	handler    http.Handler
	httpServer *http.Server
	services   Services
	config     *ServerConfig
	logger     *logging.Logger
}

// ServerConfig holds server configuration.
type ServerConfig struct {
	Host              string
	Port              string
	ReadTimeout       time.Duration
	WriteTimeout      time.Duration
	IdleTimeout       time.Duration
	ShutdownTimeout   time.Duration
	RequestsPerMinute int // per-user request budget
	Burst             int
}

// NewServer creates a new API server instance.
func NewServer(config *ServerConfig, services Services, logger *logging.Logger) *Server {
	if logger == nil {
		logger = logging.GetGlobalLogger()
	}
	s := &Server{
		router:   mux.NewRouter(),
		services: services,
		config:   config,
		logger:   logger,
	}

	s.setupRouter()

	return s
}

// setupRouter configures the router with middleware and routes
func (s *Server) setupRouter() {
	rateLimiter := NewRateLimiter(s.config.RequestsPerMinute, s.config.Burst)

	// order matters: request id and logger first, rate limiting last
	s.router.Use(RequestContextMiddleware(s.logger))
	s.router.Use(LoggingMiddleware)
	s.router.Use(RecoveryMiddleware)
	s.router.Use(RateLimitMiddleware(rateLimiter))

	s.setupRoutes()

	// CORS wraps the router so preflight requests are answered before route matching
	s.handler = CORSMiddleware(s.router)

	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf("%s:%s", s.config.Host, s.config.Port),
		Handler:      s.handler,
		ReadTimeout:  s.config.ReadTimeout,
		WriteTimeout: s.config.WriteTimeout,
		IdleTimeout:  s.config.IdleTimeout,
	}
}

// setupRoutes configures all API routes.
func (s *Server) setupRoutes() {
	s.router.HandleFunc("/health", s.handleHealth).Methods("GET")

	api := s.router.PathPrefix("/api").Subrouter()

	api.HandleFunc("/portfolio", s.handleGetPortfolio).Methods("GET")
	api.HandleFunc("/portfolio/buy", s.handleBuy).Methods("POST")
	api.HandleFunc("/portfolio/sell", s.handleSell).Methods("POST")
	api.HandleFunc("/portfolio/holdings", s.handleGetHoldings).Methods("GET")
	api.HandleFunc("/portfolio/transactions", s.handleGetTransactions).Methods("GET")

	api.HandleFunc("/portfolio/value", s.handleGetValueHistory).Methods("GET")
	api.HandleFunc("/portfolio/performance", s.handleGetPerformance).Methods("GET")
	api.HandleFunc("/portfolio/snapshots", s.handleCreateSnapshot).Methods("POST")
}

// handleHealth handles health check requests.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	status := http.StatusOK
	checks := make(map[string]string, len(s.services.Health))
	for name, checker := range s.services.Health {
		if err := checker.Ping(ctx); err != nil {
			checks[name] = "unhealthy"
			status = http.StatusServiceUnavailable
			continue
		}
		checks[name] = "healthy"
	}

	overall := "healthy"
	if status != http.StatusOK {
		overall = "degraded"
	}
	respondJSON(w, status, map[string]interface{}{
		"status":  overall,
		"service": "portfolio-ledger",
		"checks":  checks,
	})
}

// Handler returns the server's routed handler
func (s *Server) Handler() http.Handler {
	return s.handler
}

// Start starts the HTTP server.
func (s *Server) Start() error {
	s.logger.WithField("addr", s.httpServer.Addr).Info("Starting API server")
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("Shutting down API server")
	return s.httpServer.Shutdown(ctx)
}
