// Package app assembles the invis command line: serve, migrate and seed.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/invis/backend/internal/config"
	"github.com/invis/backend/internal/db"
	"github.com/invis/backend/internal/handlers"
	"github.com/invis/backend/internal/httpserver"
	"github.com/invis/backend/internal/logging"
	"github.com/invis/backend/internal/migration"
)

// Run executes the invis command line with args.
func Run(ctx context.Context, args []string) error {
	cmd := NewRootCommand()
	cmd.SetArgs(args)
	return cmd.ExecuteContext(ctx)
}

// loader lets tests replace environment parsing.
type loader func() (config.Config, error)

// NewRootCommand creates the root command with every subcommand attached.
func NewRootCommand() *cobra.Command {
	return newRootCommand(config.Load)
}

func newRootCommand(load loader) *cobra.Command {
	cmd := &cobra.Command{
		Use:           "invis",
		Short:         "invis social backend",
		Long:          "Session-authenticated friend graph with real-time presence over WebSocket.",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.AddCommand(newServeCommand(load))
	cmd.AddCommand(newMigrateCommand(load))
	cmd.AddCommand(newSeedCommand(load))

	return cmd
}

func newServeCommand(load loader) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP and WebSocket server",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := load()
			if err != nil {
				return err
			}
			return serve(cmd.Context(), cfg)
		},
	}
}

func serve(ctx context.Context, cfg config.Config) error {
	logger := logging.New(cfg.LogLevel)
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pool, err := db.Connect(ctx, cfg.DatabaseURL, cfg.DBMaxConns)
	if err != nil {
		return err
	}
	defer pool.Close()

	deps, cleanup, err := buildDependencies(ctx, pool, cfg, logger)
	if err != nil {
		return err
	}

	srv := httpserver.New(cfg.AppPort, handlers.NewRouter(deps, logger), logger)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(srv.Start)
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down")

		shutdownCtx, cancel := httpserver.ShutdownContext(ctx)
		defer cancel()

		return errors.Join(srv.Shutdown(shutdownCtx), cleanup(shutdownCtx))
	})

	return g.Wait()
}

func newMigrateCommand(load loader) *cobra.Command {
	return &cobra.Command{
		Use:       "migrate [up|down|status]",
		Short:     "Apply or inspect database migrations",
		Args:      cobra.MatchAll(cobra.MaximumNArgs(1), cobra.OnlyValidArgs),
		ValidArgs: []string{"up", "down", "status"},
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := load()
			if err != nil {
				return err
			}
			command := "up"
			if len(args) > 0 {
				command = args[0]
			}
			return runMigrations(cmd, cfg, command)
		},
	}
}

func runMigrations(cmd *cobra.Command, cfg config.Config, command string) error {
	logger := logging.New(cfg.LogLevel)

	dir, err := absoluteDir(cfg.MigrationDir)
	if err != nil {
		return err
	}

	switch command {
	case "up":
		return migration.Up(cfg.DatabaseURL, dir, logger)
	case "down":
		return migration.Down(cfg.DatabaseURL, dir, logger)
	case "status":
		status, err := migration.CurrentStatus(cfg.DatabaseURL, dir, logger)
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		switch {
		case status.Empty:
			fmt.Fprintln(out, "no migrations applied")
		case status.Dirty:
			fmt.Fprintf(out, "version %d (dirty)\n", status.Version)
		default:
			fmt.Fprintf(out, "version %d\n", status.Version)
		}
		return nil
	default:
		return fmt.Errorf("unknown migrate command %q", command)
	}
}

func newSeedCommand(load loader) *cobra.Command {
	return &cobra.Command{
		Use:   "seed <name>",
		Short: "Load a SQL seed file such as dev",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := load()
			if err != nil {
				return err
			}
			return runSeed(cmd, cfg, args[0])
		},
	}
}

func runSeed(cmd *cobra.Command, cfg config.Config, name string) error {
	ctx := cmd.Context()

	seedDir, err := absoluteDir(cfg.SeedDir)
	if err != nil {
		return err
	}

	seedPath := filepath.Join(seedDir, seedFileName(name))
	contents, err := os.ReadFile(seedPath)
	if err != nil {
		return fmt.Errorf("read seed %s: %w", name, err)
	}

	pool, err := db.Connect(ctx, cfg.DatabaseURL, 1)
	if err != nil {
		return err
	}
	defer pool.Close()

	conn, err := pool.Acquire(ctx)
	if err != nil {
		return fmt.Errorf("acquire connection: %w", err)
	}
	defer conn.Release()

	if _, err := conn.Exec(ctx, string(contents)); err != nil {
		return fmt.Errorf("apply seed %s: %w", name, err)
	}

	fmt.Fprintf(cmd.OutOrStdout(), "applied seed %s\n", filepath.Base(seedPath))
	return nil
}

func seedFileName(name string) string {
	if strings.HasSuffix(name, ".sql") {
		return name
	}
	return fmt.Sprintf("%s_seed.sql", name)
}

func absoluteDir(dir string) (string, error) {
	if filepath.IsAbs(dir) {
		return dir, nil
	}
	wd, err := os.Getwd()
	if err != nil {
		return "", fmt.Errorf("determine working directory: %w", err)
	}
	return filepath.Join(wd, dir), nil
}
