package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"

	_ "github.com/kirinyoku/tixbook/docs"
	"github.com/kirinyoku/tixbook/internal/app"
	"github.com/kirinyoku/tixbook/internal/config"
	"github.com/spf13/pflag"
)

// @title Tixbook API
// @version 1.0
// @description Ticket booking service: event inventory, bookings and ticket delivery.
// @host localhost:8080
// @BasePath /
// @securityDefinitions.apikey BearerAuth
// @in header
// @name Authorization
func main() {
	if err := run(); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return
		}
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	var (
		envFile     string
		migrateOnly bool
	)

	flagSet := pflag.NewFlagSet("tixbook", pflag.ContinueOnError)
	flagSet.StringVar(&envFile, "env-file", "", "load environment from this file instead of ./.env")
	flagSet.BoolVar(&migrateOnly, "migrate-only", false, "apply database migrations and exit")
	if err := flagSet.Parse(os.Args[1:]); err != nil {
		return err
	}

	cfg, err := config.New(envFile)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	logger := newLogger(cfg.Log)
	slog.SetDefault(logger)

	ctx := context.Background()

	if migrateOnly {
		return app.Migrate(ctx, cfg, logger)
	}

	application, err := app.New(ctx, cfg, logger)
	if err != nil {
		logger.Error("failed to create application", "error", err)
		return err
	}

	if err := application.Run(ctx); err != nil {
		logger.Error("application finished with error", "error", err)
		return err
	}

	return nil
}

func newLogger(cfg config.LogConfig) *slog.Logger {
	var level slog.Level
	if err := level.UnmarshalText([]byte(cfg.Level)); err != nil {
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: level}

	if strings.EqualFold(cfg.Format, "json") {
		return slog.New(slog.NewJSONHandler(os.Stdout, opts))
	}
	return slog.New(slog.NewTextHandler(os.Stdout, opts))
}
