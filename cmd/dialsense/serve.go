package dialsense

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/dialsense/dialsense/internal/logging"
	"github.com/dialsense/dialsense/internal/server"
	"github.com/spf13/cobra"
)

var (
	servePort      string
	serveLogFormat string
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API server",
	Long: `Run the HTTP API server.

Without a database URL calls are kept in memory. Without Twilio credentials
only demo calls can be placed.

Examples:
  dialsense serve
  dialsense serve --config dialsense.yaml --port 9090
  DATABASE_URL=postgres://localhost/dialsense dialsense serve`,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().StringVarP(&servePort, "port", "p", "", "Port to listen on (overrides config)")
	serveCmd.Flags().StringVar(&serveLogFormat, "log-format", "", "Log format: json or console (overrides config)")
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if servePort != "" {
		cfg.Server.Port = servePort
	}
	if serveLogFormat != "" {
		cfg.Server.LogFormat = serveLogFormat
	}

	logger, err := logging.New(string(cfg.Server.LogLevel), cfg.Server.LogFormat)
	if err != nil {
		return fmt.Errorf("create logger: %w", err)
	}
	defer func() { _ = logger.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	srv, err := server.New(ctx, cfg, logger, version)
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.ErrOrStderr(), "API: %s (port %s)\n", cfg.Server.PublicBaseURL, cfg.Server.Port)
	return srv.Run(ctx)
}
