// Package main provides a CLI tool for database migrations.
//
// Usage:
//
//	migrate [-path dir] up
//	migrate [-path dir] down
//	migrate [-path dir] steps N
//	migrate [-path dir] version
//	migrate [-path dir] force V
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/rs/zerolog"

	"github.com/helixir/scene-enrichment-service/internal/config"
	"github.com/helixir/scene-enrichment-service/internal/database"
	"github.com/helixir/scene-enrichment-service/internal/observability"
)

func main() {
	if err := run(os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

// command is a parsed migrate invocation.
type command struct {
	action string
	arg    int
	path   string
}

func parseArgs(args []string) (command, error) {
	fs := flag.NewFlagSet("migrate", flag.ContinueOnError)
	path := fs.String("path", "", "Override the migrations directory path")
	if err := fs.Parse(args); err != nil {
		return command{}, err
	}

	rest := fs.Args()
	if len(rest) == 0 {
		return command{}, fmt.Errorf("no action specified: use one of up, down, steps N, version, force V")
	}

	cmd := command{action: rest[0], path: *path}
	switch cmd.action {
	case "up", "down", "version":
		if len(rest) != 1 {
			return command{}, fmt.Errorf("%s takes no arguments", cmd.action)
		}
	case "steps", "force":
		if len(rest) != 2 {
			return command{}, fmt.Errorf("%s requires exactly one integer argument", cmd.action)
		}
		n, err := strconv.Atoi(rest[1])
		if err != nil {
			return command{}, fmt.Errorf("%s argument must be an integer: %q", cmd.action, rest[1])
		}
		if cmd.action == "steps" && n == 0 {
			return command{}, fmt.Errorf("steps must be non-zero")
		}
		if cmd.action == "force" && n < 0 {
			return command{}, fmt.Errorf("force version must not be negative")
		}
		cmd.arg = n
	default:
		return command{}, fmt.Errorf("unknown action %q", cmd.action)
	}
	return cmd, nil
}

func run(args []string) error {
	cmd, err := parseArgs(args)
	if err != nil {
		return err
	}

	cfg, err := config.LoadDatabase()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	// Console output for the CLI tool.
	logger := observability.NewLogger(observability.LoggingConfig{
		Level:      "info",
		Format:     "console",
		Output:     "stdout",
		TimeFormat: time.RFC3339,
	})
	logger = logger.With().Str("component", "migrate").Logger()

	migrationDir := cfg.Database.MigrationPath
	if cmd.path != "" {
		migrationDir = cmd.path
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	db, err := database.New(ctx, &cfg.Database, logger)
	if err != nil {
		return fmt.Errorf("connect to database: %w", err)
	}
	defer db.Close()

	migrator, err := database.NewMigrator(db, migrationDir, logger)
	if err != nil {
		return fmt.Errorf("create migrator: %w", err)
	}
	defer func() {
		if closeErr := migrator.Close(); closeErr != nil {
			logger.Error().Err(closeErr).Msg("failed to close migrator")
		}
	}()

	switch cmd.action {
	case "up":
		logger.Info().Str("path", migrationDir).Msg("running all pending migrations")
		err = migrator.Up()
	case "down":
		logger.Warn().Msg("rolling back all migrations")
		err = migrator.Down()
	case "steps":
		logger.Info().Int("steps", cmd.arg).Msg("running migration steps")
		err = migrator.Steps(cmd.arg)
	case "force":
		logger.Warn().Int("version", cmd.arg).Msg("forcing migration version")
		err = migrator.Force(cmd.arg)
	}
	if err != nil {
		return fmt.Errorf("migrate %s: %w", cmd.action, err)
	}

	printVersion(migrator, logger)
	return nil
}

// printVersion logs the current migration version.
func printVersion(migrator *database.Migrator, logger zerolog.Logger) {
	v, dirty, err := migrator.Version()
	if err != nil {
		logger.Warn().Err(err).Msg("could not determine migration version")
		return
	}
	logger.Info().
		Uint("version", v).
		Bool("dirty", dirty).
		Msg("current migration version")
}
