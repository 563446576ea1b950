package dialsense

import (
	"fmt"
	"os"

	"github.com/dialsense/dialsense/internal/config"
	"github.com/spf13/cobra"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:   "dialsense",
	Short: "Outbound dialer with answering machine detection",
	Long: `dialsense places outbound calls through Twilio and decides whether a
human or an answering machine picked up.

It runs the HTTP API, applies database migrations, compares detection
strategies and drives demo calls against a running server.`,
	SilenceUsage: true,
}

// Execute runs the root command
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", os.Getenv("DIALSENSE_CONFIG"), "Path to YAML config file")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(migrateCmd)
	rootCmd.AddCommand(compareCmd)
	rootCmd.AddCommand(dialCmd)
	rootCmd.AddCommand(versionCmd)
}

func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	return cfg, nil
}
