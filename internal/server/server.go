// Package server sets up the HTTP server, router, and all route definitions.
//
// This package is the "wiring" layer: it connects the store, the resolver,
// the handlers and the middleware, and it owns graceful shutdown.
//
// DEPENDENCY INJECTION FLOW:
// main.go creates:
//
//	config.Config → store.Open → repository.ContactStore → server.New
//
// server.New creates:
//
//	service.Resolver → IdentifyHandler / ContactHandler
//	ContactStore     → HealthHandler
//	auth.TokenService (only with ADMIN_JWT_SECRET)
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/sakif/contact-identity/internal/auth"
	"github.com/sakif/contact-identity/internal/config"
	"github.com/sakif/contact-identity/internal/handler"
	"github.com/sakif/contact-identity/internal/middleware"
	"github.com/sakif/contact-identity/internal/repository"
	"github.com/sakif/contact-identity/internal/service"
)

// Server represents the HTTP server and all its dependencies.
//
// RESOURCE MANAGEMENT:
// The Server owns the store. Start closes it once the HTTP server has
// drained, so no request can hit a closed connection pool.
type Server struct {
	router *chi.Mux
	config *config.Config
	logger *slog.Logger
	store  repository.ContactStore
}

// New creates a Server around an open store and registers every route.
func New(cfg *config.Config, store repository.ContactStore, logger *slog.Logger) (*Server, error) {
	s := &Server{
		router: chi.NewRouter(),
		config: cfg,
		logger: logger,
		store:  store,
	}

	if err := s.setupRoutes(); err != nil {
		return nil, fmt.Errorf("setting up routes: %w", err)
	}
	return s, nil
}

// setupRoutes configures all middleware and route handlers.
//
// ROUTE STRUCTURE:
// GET  /health          → store ping
// POST /identify        → resolve a contact
// GET  /contacts/{id}   → consolidated view (bearer token, only with ADMIN_JWT_SECRET)
//
// MIDDLEWARE ORDER MATTERS:
//  1. RequestID: assigns an id to each request, read by the logger
//  2. RealIP: client IP from proxy headers
//  3. Logger: one line per request, with timing
//  4. Recoverer: a panic becomes a 500 instead of killing the process
func (s *Server) setupRoutes() error {
	s.router.Use(chimiddleware.RequestID)
	s.router.Use(chimiddleware.RealIP)
	s.router.Use(middleware.Logger(s.logger))
	s.router.Use(chimiddleware.Recoverer)

	resolver := service.NewResolver(s.store, s.logger)
	identifyHandler := handler.NewIdentifyHandler(resolver, s.logger)
	contactHandler := handler.NewContactHandler(resolver, s.logger)
	healthHandler := handler.NewHealthHandler(s.store, s.logger)

	s.router.Get("/health", healthHandler.HandleHealth)

	s.router.Group(func(r chi.Router) {
		// The context deadline reaches the store, so a stuck lock or query
		// ends the request instead of holding the connection forever.
		if s.config.RequestTimeout > 0 {
			r.Use(chimiddleware.Timeout(s.config.RequestTimeout))
		}

		r.Post("/identify", identifyHandler.HandleIdentify)

		if s.config.AdminJWTSecret == "" {
			s.logger.Warn("ADMIN_JWT_SECRET not set, GET /contacts/{id} is disabled")
			return
		}
		tokens, err := auth.NewTokenService(s.config.AdminJWTSecret)
		if err != nil {
			s.logger.Error("invalid ADMIN_JWT_SECRET, GET /contacts/{id} is disabled",
				slog.String("error", err.Error()))
			return
		}
		r.With(auth.RequireBearer(tokens)).Get("/contacts/{id}", contactHandler.HandleGet)
	})

	return nil
}

// Handler returns the root handler: the router wrapped in OpenTelemetry
// HTTP instrumentation, which continues incoming traces and starts a server
// span per request.
func (s *Server) Handler() http.Handler {
	return otelhttp.NewHandler(s.router, "contact-identity")
}

// Start serves HTTP until ctx is cancelled, then shuts down gracefully.
//
// GRACEFUL SHUTDOWN:
//  1. Stop accepting new connections
//  2. Wait up to SHUTDOWN_TIMEOUT for in-flight requests
//  3. Close the store (flushes the SQLite WAL, returns Postgres connections)
//
// main.go passes a context cancelled by SIGINT/SIGTERM.
func (s *Server) Start(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.config.Addr())
	if err != nil {
		s.closeStore()
		return fmt.Errorf("listening on %s: %w", s.config.Addr(), err)
	}
	return s.Serve(ctx, ln)
}

// Serve is Start on an existing listener. Tests use it with port 0.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	defer s.closeStore()

	srv := &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
		ErrorLog:          slog.NewLogLogger(s.logger.Handler(), slog.LevelWarn),
	}

	serverErrors := make(chan error, 1)
	go func() {
		s.logger.Info("server starting",
			slog.String("addr", ln.Addr().String()),
			slog.String("driver", s.config.Database.ResolvedDriver()),
		)
		serverErrors <- srv.Serve(ln)
	}()

	select {
	case err := <-serverErrors:
		if !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}
		return nil

	case <-ctx.Done():
		s.logger.Info("shutdown signal received")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.config.ShutdownTimeout)
		defer cancel()

		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("graceful shutdown failed: %w", err)
		}
		s.logger.Info("server stopped gracefully")
		return nil
	}
}

func (s *Server) closeStore() {
	if err := s.store.Close(); err != nil {
		s.logger.Error("closing store", slog.String("error", err.Error()))
	}
}
