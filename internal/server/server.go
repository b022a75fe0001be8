package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/tgcapital/signalvault/internal/server/handler"
	"github.com/tgcapital/signalvault/internal/server/middleware"
	"github.com/tgcapital/signalvault/internal/server/ws"
)

// Config holds the HTTP server configuration.
type Config struct {
	Port        int
	CORSOrigins []string
	APIKey      string // if empty, authentication is disabled
}

// Handlers aggregates all HTTP handlers that the server needs to register.
type Handlers struct {
	Health  *handler.HealthHandler
	Signals *handler.SignalHandler
	Vault   *handler.VaultHandler
	Execute *handler.ExecuteHandler
	Admin   *handler.AdminHandler
}

// Server is the headless HTTP + WebSocket API server for the vault daemon.
type Server struct {
	httpServer *http.Server
	mux        *http.ServeMux
	logger     *slog.Logger
}

// NewServer creates a new Server with all routes registered on the ServeMux.
// It wires up middleware (logging, CORS, auth) and attaches the WebSocket hub.
func NewServer(cfg Config, handlers Handlers, wsHub *ws.Hub, logger *slog.Logger) *Server {
	mux := http.NewServeMux()

	// --- Register routes ---

	// Health check (no auth required).
	mux.HandleFunc("GET /api/health", handlers.Health.HealthCheck)

	// Signal endpoints.
	mux.HandleFunc("POST /api/signals", handlers.Signals.PostSignal)
	mux.HandleFunc("GET /api/signals/{id}", handlers.Signals.GetSignal)

	// Vault endpoints.
	mux.HandleFunc("GET /api/vault/status", handlers.Vault.GetStatus)
	mux.HandleFunc("GET /api/vault/shares/{owner}", handlers.Vault.GetShares)
	mux.HandleFunc("POST /api/vault/deposit", handlers.Vault.Deposit)
	mux.HandleFunc("POST /api/vault/redeem", handlers.Vault.Redeem)

	// Execution endpoints.
	mux.HandleFunc("POST /api/execute", handlers.Execute.Execute)
	mux.HandleFunc("GET /api/executions", handlers.Execute.ListRecent)

	// Admin endpoints.
	mux.HandleFunc("POST /api/admin/capabilities", handlers.Admin.GrantCapability)
	mux.HandleFunc("DELETE /api/admin/capabilities", handlers.Admin.RevokeCapability)
	mux.HandleFunc("GET /api/admin/capabilities/{identity}", handlers.Admin.ListCapabilities)
	mux.HandleFunc("POST /api/admin/signers", handlers.Admin.AddSigner)
	mux.HandleFunc("DELETE /api/admin/signers", handlers.Admin.RemoveSigner)
	mux.HandleFunc("POST /api/admin/pause", handlers.Admin.SetPaused)
	mux.HandleFunc("POST /api/admin/sync", handlers.Admin.SyncHoldings)
	mux.HandleFunc("PUT /api/admin/oracle", handlers.Admin.UpdateOracleConfig)

	// WebSocket endpoint.
	if wsHub != nil {
		mux.HandleFunc("GET /ws", wsHub.HandleWS)
	}

	// Build the middleware chain.
	var h http.Handler = mux

	// Apply auth middleware (skips if APIKey is empty).
	h = middleware.Auth(cfg.APIKey)(h)

	// Apply request logging middleware.
	h = middleware.Logging(logger)(h)

	// Apply CORS middleware.
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
