package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/vmtien/bidhub/internal/domain"
	"github.com/vmtien/bidhub/internal/server/handler"
	"github.com/vmtien/bidhub/internal/server/middleware"
	"github.com/vmtien/bidhub/internal/server/ws"
)

// Config holds the HTTP server configuration.
type Config struct {
	Port        int
	CORSOrigins []string
	APIKey      string // if empty, admin authentication is disabled

	// BidRateLimit caps bids per user per BidRateWindow. Zero disables the
	// limiter.
	BidRateLimit  int
	BidRateWindow time.Duration
}

// Handlers aggregates all HTTP handlers that the server needs to register.
type Handlers struct {
	Health   *handler.HealthHandler
	Auctions *handler.AuctionHandler
	Admin    *handler.AdminHandler
}

// Server is the HTTP + WebSocket API for the auction engine. Bidder routes
// trust the X-User-ID header set by the marketplace edge; admin routes sit
// behind API-key auth.
type Server struct {
	httpServer *http.Server
	mux        *http.ServeMux
	logger     *slog.Logger
}

// NewServer creates a new Server with all routes registered on the ServeMux.
// It wires up middleware (logging, CORS, rate limiting, admin auth) and
// attaches the gateway hub.
func NewServer(cfg Config, handlers Handlers, wsHub *ws.Hub, limiter domain.RateLimiter, logger *slog.Logger) *Server {
	mux := http.NewServeMux()
	adminAuth := middleware.Auth(cfg.APIKey)

	// Health check (no auth required).
	mux.HandleFunc("GET /api/health", handlers.Health.HealthCheck)

	// Bidder-facing auction endpoints.
	var placeBid http.Handler = http.HandlerFunc(handlers.Auctions.PlaceBid)
	if limiter != nil && cfg.BidRateLimit > 0 {
		placeBid = middleware.RateLimit(limiter, "bids", cfg.BidRateLimit, cfg.BidRateWindow)(placeBid)
	}
	mux.Handle("POST /api/auctions/{id}/bids", placeBid)
	mux.HandleFunc("GET /api/auctions/{id}", handlers.Auctions.GetAuction)

	// Admin endpoints.
	mux.Handle("POST /api/auctions", adminAuth(http.HandlerFunc(handlers.Admin.CreateAuction)))
	mux.Handle("POST /api/auctions/{id}/members", adminAuth(http.HandlerFunc(handlers.Admin.AddMember)))
	mux.Handle("POST /api/auctions/{id}/start", adminAuth(http.HandlerFunc(handlers.Auctions.StartAuction)))
	mux.Handle("POST /api/auctions/{id}/close", adminAuth(http.HandlerFunc(handlers.Auctions.CloseAuction)))
	mux.Handle("GET /api/auctions/{id}/ledger", adminAuth(http.HandlerFunc(handlers.Auctions.ListLedger)))
	mux.Handle("GET /api/users/{id}/wallet", adminAuth(http.HandlerFunc(handlers.Admin.GetWallet)))

	// WebSocket room join.
	if wsHub != nil {
		mux.HandleFunc("GET /ws/auctions/{id}", wsHub.HandleWS)
	}

	// Build the middleware chain.
	var h http.Handler = mux
	h = middleware.Logging(logger)(h)
	h = middleware.CORS(cfg.CORSOrigins)(h)

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      h,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return &Server{
		httpServer: srv,
		mux:        mux,
		logger:     logger,
	}
}

// Start begins listening for HTTP requests. It blocks until the server
// encounters an error or is shut down.
func (s *Server) Start() error {
	s.logger.Info("server: starting",
		slog.String("addr", s.httpServer.Addr),
	)
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
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
