// Package main provides the dialsense API server.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/dialsense/dialsense/internal/config"
	"github.com/dialsense/dialsense/internal/database"
	"github.com/dialsense/dialsense/internal/logging"
	"github.com/dialsense/dialsense/internal/server"
	"go.uber.org/zap"
)

var version = "dev"

func main() {
	var (
		configPath  = flag.String("config", getEnv("DIALSENSE_CONFIG", ""), "Path to YAML config file")
		port        = flag.String("port", "", "Server port (overrides config and PORT)")
		migrateOnly = flag.Bool("migrate", false, "Run migrations and exit")
	)
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}
	if *port != "" {
		cfg.Server.Port = *port
	}

	logger, err := logging.New(string(cfg.Server.LogLevel), cfg.Server.LogFormat)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to create logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()

	if *migrateOnly {
		if err := migrate(cfg.Database); err != nil {
			logger.Fatal("migration failed", zap.Error(err))
		}
		logger.Info("migrations complete")
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	srv, err := server.New(ctx, cfg, logger, version)
	if err != nil {
		logger.Fatal("failed to start", zap.Error(err))
	}
	if err := srv.Run(ctx); err != nil {
		logger.Fatal("server error", zap.Error(err))
	}
}

func migrate(cfg config.DatabaseConfig) error {
	switch cfg.ResolvedDriver() {
	case config.DriverPostgres:
		return database.Migrate(cfg.URL)
	case config.DriverSQLite:
		return database.MigrateSQLite(cfg.SQLitePath())
	}
	return nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
