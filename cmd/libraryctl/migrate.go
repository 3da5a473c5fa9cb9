package main

import (
	"database/sql"
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"library-backend/internal/app"
	"library-backend/internal/storage/ch"
	"library-backend/internal/storage/pg"
)

func newMigrateCmd(e *env) *cobra.Command {
	var clickhouse bool

	cmd := &cobra.Command{
		Use:       "migrate [up|down|status|version|reset]",
		Short:     "Apply or inspect schema migrations",
		Args:      cobra.MatchAll(cobra.MaximumNArgs(1), cobra.OnlyValidArgs),
		ValidArgs: []string{"up", "down", "status", "version", "reset"},
		RunE: func(cmd *cobra.Command, args []string) error {
			command := "up"
			if len(args) == 1 {
				command = args[0]
			}
			ctx := cmd.Context()

			if clickhouse {
				if !e.cfg.JournalEnabled {
					return fmt.Errorf("JOURNAL_ENABLED must be true to migrate ClickHouse")
				}
				e.logger.Info("Running ClickHouse migrations", zap.String("command", command))
				return ch.Migrate(ctx, app.ClickHouseOptions(e.cfg), command)
			}

			if e.cfg.UseMockDB {
				return fmt.Errorf("USE_MOCK_DB is set, nothing to migrate")
			}
			db, err := sql.Open(e.cfg.DBDriver, e.cfg.DatabaseURL)
			if err != nil {
				return fmt.Errorf("failed to connect to database: %w", err)
			}
			defer db.Close()

			e.logger.Info("Running PostgreSQL migrations", zap.String("command", command))
			if err := pg.Migrate(ctx, db, command); err != nil {
				return err
			}
			e.logger.Info("Migrations completed successfully")
			return nil
		},
	}
	cmd.Flags().BoolVar(&clickhouse, "clickhouse", false, "migrate the ClickHouse circulation journal instead of PostgreSQL")
	return cmd
}
