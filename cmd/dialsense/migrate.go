package dialsense

import (
	"fmt"

	"github.com/dialsense/dialsense/internal/config"
	"github.com/dialsense/dialsense/internal/database"
	"github.com/spf13/cobra"
)

var migrateDown bool

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply database migrations",
	Long: `Apply the call store migrations for the configured database.

PostgreSQL URLs (postgres://...) use the PostgreSQL migrations; any other
URL is treated as a SQLite file path.`,
	RunE: runMigrate,
}

func init() {
	migrateCmd.Flags().BoolVar(&migrateDown, "down", false, "Roll back all PostgreSQL migrations")
}

func runMigrate(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()

	switch driver := cfg.Database.ResolvedDriver(); driver {
	case config.DriverPostgres:
		if migrateDown {
			if err := database.MigrateDown(cfg.Database.URL); err != nil {
				return err
			}
			fmt.Fprintln(out, "PostgreSQL migrations rolled back")
			return nil
		}
		if err := database.Migrate(cfg.Database.URL); err != nil {
			return err
		}
		fmt.Fprintln(out, "PostgreSQL migrations applied")
	case config.DriverSQLite:
		if migrateDown {
			return fmt.Errorf("--down is only supported for PostgreSQL")
		}
		if err := database.MigrateSQLite(cfg.Database.SQLitePath()); err != nil {
			return err
		}
		fmt.Fprintf(out, "SQLite migrations applied to %s\n", cfg.Database.SQLitePath())
	default:
		fmt.Fprintln(out, "No database configured; the in-memory store needs no migrations")
	}
	return nil
}
