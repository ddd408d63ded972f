// Package main is the entry point for the contact identity server.
//
// main stays minimal. Its job is to:
//  1. Read configuration (environment variables, see internal/config)
//  2. Create dependencies (logger, tracing, store)
//  3. Start the server and wait for SIGINT/SIGTERM
//
// All actual logic lives in the internal packages.
package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sakif/contact-identity/internal/config"
	"github.com/sakif/contact-identity/internal/server"
	"github.com/sakif/contact-identity/internal/store"
	"github.com/sakif/contact-identity/internal/telemetry"
)

func main() {
	if err := run(); err != nil {
		slog.Error("server exited", slog.String("error", err.Error()))
		os.Exit(1)
	}
}

func run() error {
	// === 1. CONFIGURATION AND LOGGING ===
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	logger := cfg.NewLogger(os.Stdout)
	slog.SetDefault(logger)

	// The context is cancelled on Ctrl+C or SIGTERM; server.Start then
	// drains in-flight requests and closes the store.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// === 2. TRACING (no-op without OTEL_EXPORTER_OTLP_ENDPOINT) ===
	shutdownTracing, err := telemetry.Setup(ctx, cfg.OTLPEndpoint)
	if err != nil {
		return err
	}
	defer func() {
		flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTracing(flushCtx); err != nil {
			logger.Warn("flushing traces", slog.String("error", err.Error()))
		}
	}()

	// === 3. STORE ===
	st, err := store.Open(ctx, cfg.Database, logger)
	if err != nil {
		return err
	}

	// === 4. SERVER ===
	srv, err := server.New(cfg, st, logger)
	if err != nil {
		st.Close()
		return err
	}
	return srv.Start(ctx)
}
