// ABOUTME: HTTP server orchestrator: websocket endpoint, REST API, health, and metrics.
// ABOUTME: Manages listener lifecycle and graceful shutdown.

package server

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/shenzhiyongzhe/online-chat/internal/config"
	"github.com/shenzhiyongzhe/online-chat/internal/conversation"
	"github.com/shenzhiyongzhe/online-chat/internal/delivery"
	"github.com/shenzhiyongzhe/online-chat/internal/presence"
	"github.com/shenzhiyongzhe/online-chat/internal/store"
)

// Server hosts the chat socket, the REST API, and operational endpoints.
type Server struct {
	config     *config.Config
	store      store.Store
	engine     *delivery.Engine
	registry   *presence.Registry
	directory  *conversation.Directory
	auth       *Authenticator
	httpServer *http.Server
	logger     *slog.Logger
}

// New wires the server components and builds the router.
func New(cfg *config.Config, logger *slog.Logger) (*Server, error) {
	st, err := store.NewSQLiteStore(cfg.Database.Path)
	if err != nil {
		return nil, fmt.Errorf("initializing store: %w", err)
	}

	registry := presence.NewRegistry(logger)
	directory := conversation.NewDirectory(st, logger)

	var metrics *delivery.Metrics
	if cfg.Metrics.Enabled {
		metrics = delivery.NewMetrics(prometheus.DefaultRegisterer)
	}

	engine := delivery.NewEngine(st, directory, registry, metrics, delivery.Config{
		DeliveredDelay: cfg.Delivery.DeliveredDelay,
		HistoryLimit:   cfg.Delivery.HistoryLimit,
		RateRPS:        cfg.Delivery.RateRPS,
		RateBurst:      cfg.Delivery.RateBurst,
	}, logger)

	srv := &Server{
		config:    cfg,
		store:     st,
		engine:    engine,
		registry:  registry,
		directory: directory,
		auth:      NewAuthenticator(st, cfg.Auth.JWTSecret, cfg.Auth.TokenTTL, logger),
		logger:    logger.With("component", "server"),
	}

	srv.httpServer = &http.Server{
		Addr:              cfg.Server.HTTPAddr,
		Handler:           srv.router(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return srv, nil
}

func (s *Server) router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	origins := s.config.CORS.AllowedOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   origins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	r.Get("/health", s.handleHealth)
	r.Get("/health/ready", s.handleReady)
	if s.config.Metrics.Enabled {
		r.Handle(s.config.Metrics.Path, promhttp.Handler())
	}

	r.Get("/ws", s.handleWebSocket)

	r.Route("/api", func(r chi.Router) {
		r.Post("/auth/login", s.handleAuthLogin)
		r.Get("/agents", s.handleListAgents)

		// Agent-scoped routes require a token from /auth/login.
		r.Group(func(r chi.Router) {
			r.Use(s.requireAgent)
			r.Get("/conversations", s.handleListConversations)
			r.Post("/conversations/{conversationID}/display-name", s.handleSetDisplayName)
		})
	})

	return r
}

// Run starts the server and blocks until the context is canceled.
// Returns nil on graceful shutdown, or an error if the server fails.
func (s *Server) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.config.Server.HTTPAddr)
	if err != nil {
		return fmt.Errorf("listening on HTTP address: %w", err)
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("HTTP server listening", "addr", ln.Addr().String())
		if err := s.httpServer.Serve(ln); err != nil && err != http.ErrServerClosed {
			errCh <- fmt.Errorf("HTTP server: %w", err)
		}
	}()

	var serverErr error
	select {
	case <-ctx.Done():
		s.logger.Info("context canceled, initiating shutdown")
	case serverErr = <-errCh:
		s.logger.Error("server error", "error", serverErr)
	}

	shutdownErr := s.gracefulShutdown()
	if serverErr != nil {
		return serverErr
	}
	return shutdownErr
}

// gracefulShutdown performs shutdown with a fresh context and timeout.
// Uses context.Background() intentionally since the original context is already canceled.
func (s *Server) gracefulShutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.Shutdown(ctx)
}

// Shutdown stops the HTTP server, the delivery engine, and the store.
func (s *Server) Shutdown(ctx context.Context) error {
	var errs []error
	if err := s.httpServer.Shutdown(ctx); err != nil {
		errs = append(errs, fmt.Errorf("HTTP shutdown: %w", err))
	}
	s.engine.Close()
	if err := s.store.Close(); err != nil {
		errs = append(errs, fmt.Errorf("store close: %w", err))
	}
	if len(errs) > 0 {
		return fmt.Errorf("shutdown errors: %v", errs)
	}
	s.logger.Info("server stopped")
	return nil
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	// Readiness means the store answers queries
	if _, err := s.store.ListOnlineAgents(r.Context()); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"status": "unavailable",
			"error":  err.Error(),
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status":      "ready",
		"connections": s.registry.ConnectionCount(),
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
