// Package main provides the guildcourt binary: the dispute engine's HTTP API,
// resolution sweeper and event relay, plus a few operator commands.
package main

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/spf13/cobra"

	"guildcourt/auth"
	"guildcourt/config"
	"guildcourt/db"
)

const appName = "guildcourt"

func main() {
	if err := rootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:           appName,
		Short:         "Guild-arbitrated dispute engine",
		SilenceUsage:  true,
		SilenceErrors: true,
		Long: `guildcourt arbitrates disputes over escrowed bounty rewards and
milestone payments. Guild members vote with role weights; once the voting
window closes a dispute is resolved and its funds are paid out or refunded.

Configuration is read from GUILDCOURT_* environment variables.`,
	}
	cmd.AddCommand(runCmd(), migrateCmd(), seedCmd(), resolveCmd(), tokenCmd())
	return cmd
}

func runCmd() *cobra.Command {
	var seedPath string
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Serve the API and run the sweeper and event relay",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, logger, err := setup(cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			a, err := newApp(ctx, cfg, logger)
			if err != nil {
				return err
			}
			defer a.close()

			if a.pool != nil {
				if err := db.Migrate(ctx, a.pool, cfg.MigrationsDir); err != nil {
					return err
				}
			}
			if seedPath != "" {
				s, err := loadSeedFile(seedPath)
				if err != nil {
					return err
				}
				if _, err := a.seed(ctx, s); err != nil {
					return err
				}
			}
			logger.Info("guildcourt ready", "store", cfg.Store, "nats", cfg.NATSURL != "")
			return a.serve(ctx)
		},
	}
	cmd.Flags().StringVar(&seedPath, "seed", "", "YAML file of guilds, bounties and projects to create before serving")
	return cmd
}

func migrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply SQL migrations to the Postgres store",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, logger, err := setup(cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			if cfg.Store != config.StorePostgres {
				return fmt.Errorf("migrate requires GUILDCOURT_STORE=%s", config.StorePostgres)
			}
			pool, err := db.NewPool(cmd.Context(), cfg.DatabaseURL, db.PoolOptions{MaxConns: 1})
			if err != nil {
				return fmt.Errorf("bootstrap database pool: %w", err)
			}
			defer pool.Close()
			if err := db.Migrate(cmd.Context(), pool, cfg.MigrationsDir); err != nil {
				return err
			}
			logger.Info("migrations applied", "dir", cfg.MigrationsDir)
			return nil
		},
	}
}

func seedCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "seed <file>",
		Short: "Create guilds, balances, bounties and projects from a YAML file",
		Long: `seed writes the records disputes are opened against. It needs the
Postgres store; with the memory store use "run --seed <file>" instead.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := loadSeedFile(args[0])
			if err != nil {
				return err
			}
			cfg, logger, err := setup(cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			if cfg.Store != config.StorePostgres {
				return fmt.Errorf("seed requires GUILDCOURT_STORE=%s, use run --seed for the memory store", config.StorePostgres)
			}
			a, err := newApp(cmd.Context(), cfg, logger)
			if err != nil {
				return err
			}
			defer a.close()

			report, err := a.seed(cmd.Context(), s)
			if err != nil {
				return err
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(report)
		},
	}
}

func resolveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "resolve <dispute-id>",
		Short: "Resolve one dispute whose voting window has closed",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := strconv.ParseUint(args[0], 10, 64)
			if err != nil {
				return fmt.Errorf("invalid dispute id %q: %w", args[0], err)
			}
			cfg, logger, err := setup(cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			a, err := newApp(cmd.Context(), cfg, logger)
			if err != nil {
				return err
			}
			defer a.close()

			res, err := a.disputes.Resolve(cmd.Context(), id)
			if err != nil {
				return err
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(res)
		},
	}
}

func tokenCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "token <address>",
		Short: "Issue an API bearer token for an address",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, _, err := setup(cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			tokens, err := auth.NewService(cfg.JWTSecret)
			if err != nil {
				return err
			}
			token, err := tokens.WithTTL(cfg.TokenTTL).IssueToken(args[0])
			if err != nil {
				return err
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), token)
			return err
		},
	}
}

func setup(logOut io.Writer) (config.Config, *slog.Logger, error) {
	cfg, err := config.Load()
	if err != nil {
		return config.Config{}, nil, err
	}
	level, err := config.ParseLevel(cfg.LogLevel)
	if err != nil {
		return config.Config{}, nil, err
	}
	logger := slog.New(slog.NewJSONHandler(logOut, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)
	return cfg, logger, nil
}
