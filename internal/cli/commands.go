package cli

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/sakif/contact-identity/internal/auth"
	"github.com/sakif/contact-identity/internal/model"
	"github.com/sakif/contact-identity/internal/repository"
	"github.com/sakif/contact-identity/internal/service"
)

func (a *app) resolveCommand() *cobra.Command {
	var email, phone string

	cmd := &cobra.Command{
		Use:   "resolve",
		Short: "Resolve an email and/or phone number, exactly like POST /identify",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withStore(cmd, func(ctx context.Context, st repository.ContactStore, logger *slog.Logger) error {
				view, err := service.NewResolver(st, logger).
					Resolve(ctx, model.StringPtr(email), model.StringPtr(phone))
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), model.IdentifyResponse{Contact: *view})
			})
		},
	}
	cmd.Flags().StringVar(&email, "email", "", "email address")
	cmd.Flags().StringVar(&phone, "phone", "", "phone number")
	return cmd
}

func (a *app) lookupCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "lookup ID",
		Short: "Print the consolidated view of the cluster containing contact ID",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := strconv.ParseInt(args[0], 10, 64)
			if err != nil || id <= 0 {
				return fmt.Errorf("contact id must be a positive integer, got %q", args[0])
			}
			return a.withStore(cmd, func(ctx context.Context, st repository.ContactStore, logger *slog.Logger) error {
				view, err := service.NewResolver(st, logger).Lookup(ctx, id)
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), model.IdentifyResponse{Contact: *view})
			})
		},
	}
}

func (a *app) tokenCommand() *cobra.Command {
	var (
		subject string
		ttl     time.Duration
	)

	cmd := &cobra.Command{
		Use:   "token",
		Short: "Mint a bearer token for GET /contacts/{id}",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := a.loadConfig()
			if err != nil {
				return err
			}
			if cfg.AdminJWTSecret == "" {
				return fmt.Errorf("ADMIN_JWT_SECRET is not set")
			}
			tokens, err := auth.NewTokenService(cfg.AdminJWTSecret)
			if err != nil {
				return err
			}
			token, err := tokens.Issue(subject, ttl)
			if err != nil {
				return err
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), token)
			return err
		},
	}
	cmd.Flags().StringVar(&subject, "subject", "operator", "token subject")
	cmd.Flags().DurationVar(&ttl, "ttl", auth.DefaultTTL, "token lifetime")
	return cmd
}

func (a *app) migrateCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create or upgrade the contacts schema and exit",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			// Opening a store runs its migrations.
			return a.withStore(cmd, func(ctx context.Context, st repository.ContactStore, logger *slog.Logger) error {
				if err := st.Ping(ctx); err != nil {
					return err
				}
				_, err := fmt.Fprintln(cmd.OutOrStdout(), "schema up to date")
				return err
			})
		},
	}
}
