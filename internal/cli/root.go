// Package cli implements identityctl, the operator command line for the
// contact identity store.
//
// Every command reads the same environment as the server (DB_*, DATABASE_URL,
// ADMIN_JWT_SECRET, LOG_*), so running it next to a deployment needs no extra
// setup. --db points it at a different SQLite file.
package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/sakif/contact-identity/internal/config"
	"github.com/sakif/contact-identity/internal/repository"
	"github.com/sakif/contact-identity/internal/store"
)

// Options controls where the CLI reads its configuration from.
type Options struct {
	// Environ replaces the process environment when non-nil.
	Environ map[string]string
}

// app carries the state shared by all subcommands.
type app struct {
	opts   Options
	dbPath string
}

// NewRootCommand builds the identityctl command tree.
func NewRootCommand(opts Options) *cobra.Command {
	a := &app{opts: opts}

	root := &cobra.Command{
		Use:           "identityctl",
		Short:         "Inspect and feed the contact identity store",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&a.dbPath, "db", "", "SQLite database file (overrides DB_PATH and selects the sqlite driver)")

	root.AddCommand(
		a.resolveCommand(),
		a.importCommand(),
		a.lookupCommand(),
		a.tokenCommand(),
		a.migrateCommand(),
	)
	return root
}

// loadConfig reads the configuration and applies command line overrides.
func (a *app) loadConfig() (*config.Config, error) {
	var (
		cfg *config.Config
		err error
	)
	if a.opts.Environ != nil {
		cfg, err = config.LoadFrom(a.opts.Environ)
	} else {
		cfg, err = config.Load()
	}
	if err != nil {
		return nil, err
	}
	if a.dbPath != "" {
		cfg.Database.Driver = config.DriverSQLite
		cfg.Database.Path = a.dbPath
	}
	return cfg, nil
}

// withStore opens the configured store, runs fn and closes the store.
// Logs go to stderr so stdout stays machine-readable.
func (a *app) withStore(cmd *cobra.Command, fn func(ctx context.Context, st repository.ContactStore, logger *slog.Logger) error) error {
	cfg, err := a.loadConfig()
	if err != nil {
		return err
	}
	logger := cfg.NewLogger(cmd.ErrOrStderr())

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	st, err := store.Open(ctx, cfg.Database, logger)
	if err != nil {
		return err
	}
	defer st.Close()

	return fn(ctx, st, logger)
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return fmt.Errorf("encoding output: %w", err)
	}
	return nil
}
