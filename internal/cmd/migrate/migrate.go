package migrate

import (
	"context"

	"github.com/charmbracelet/log"
	"github.com/chirino/sms-service/internal/config"
	registrymigrate "github.com/chirino/sms-service/internal/registry/migrate"
	"github.com/urfave/cli/v3"

	// Import store plugins to trigger init() registration of their migrators.
	_ "github.com/chirino/sms-service/internal/plugin/store/postgres"
	_ "github.com/chirino/sms-service/internal/plugin/store/sqlite"
)

// Command returns the migrate sub-command.
func Command() *cli.Command {
	return &cli.Command{
		Name:  "migrate",
		Usage: "Run database migrations",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "db-kind",
				Sources: cli.EnvVars("SMS_SERVICE_DB_KIND"),
				Usage:   "Backend store (sqlite|postgres)",
				Value:   "sqlite",
			},
			&cli.StringFlag{
				Name:    "db-url",
				Sources: cli.EnvVars("SMS_SERVICE_DB_URL"),
				Usage:   "Database file path (sqlite) or connection URL (postgres)",
				Value:   "sms.db",
			},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			cfg := config.DefaultConfig()
			cfg.DBKind = cmd.String("db-kind")
			cfg.DBURL = cmd.String("db-url")
			cfg.DatastoreMigrateAtStart = true
			ctx = config.WithContext(ctx, &cfg)

			log.Info("Running migrations...")
			if err := registrymigrate.RunAll(ctx); err != nil {
				return err
			}
			log.Info("All migrations completed successfully")
			return nil
		},
	}
}
