// Package store opens the contact store the configuration asks for.
package store

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/sakif/contact-identity/internal/config"
	"github.com/sakif/contact-identity/internal/repository"
	"github.com/sakif/contact-identity/internal/repository/postgres"
	"github.com/sakif/contact-identity/internal/repository/sqlite"
)

// Open connects to the configured store and runs its migrations.
//
// For SQLite the parent directory of DB_PATH is created when missing
// (like `mkdir -p`), so a fresh checkout starts without setup.
func Open(ctx context.Context, cfg config.Database, logger *slog.Logger) (repository.ContactStore, error) {
	switch driver := cfg.ResolvedDriver(); driver {
	case config.DriverSQLite:
		if cfg.Path != ":memory:" {
			dir := filepath.Dir(cfg.Path)
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, fmt.Errorf("store: creating database directory %s: %w", dir, err)
			}
		}
		db, err := sqlite.New(cfg.Path)
		if err != nil {
			return nil, err
		}
		logger.Info("contact store opened",
			slog.String("driver", driver),
			slog.String("path", cfg.Path),
		)
		return db, nil

	case config.DriverPostgres:
		db, err := postgres.New(ctx, cfg.PostgresDSN())
		if err != nil {
			return nil, err
		}
		// Never log the DSN: it carries the password.
		logger.Info("contact store opened",
			slog.String("driver", driver),
			slog.String("host", cfg.Host),
			slog.String("database", cfg.Name),
		)
		return db, nil

	default:
		return nil, fmt.Errorf("store: unknown driver %q", driver)
	}
}
