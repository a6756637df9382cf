package main

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"

	_ "github.com/lib/pq"
	"github.com/spf13/cobra"
	_ "modernc.org/sqlite"

	"Huddle/internal/config"
	"Huddle/internal/db/migrations"
)

func newMigrateCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate [up|down|version]",
		Short: "Manage the document schema of the SQL backends",
		Long: "migrate applies, rolls back or reports the schema version of the postgres or " +
			"sqlite document store selected by DOCSTORE.",
		Args:      cobra.MaximumNArgs(1),
		ValidArgs: []string{"up", "down", "version"},
		RunE: func(cmd *cobra.Command, args []string) error {
			action := "up"
			if len(args) == 1 {
				action = args[0]
			}
			return runMigrate(cmd.Context(), action)
		},
	}
	return cmd
}

func runMigrate(ctx context.Context, action string) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	setupLogging(cfg.LogLevel)

	var driver, dsn string
	var dialect migrations.Dialect
	switch cfg.DocStore {
	case config.DocStorePostgres:
		driver, dsn, dialect = "postgres", cfg.DatabaseURL, migrations.Postgres
	case config.DocStoreSQLite:
		driver, dsn, dialect = "sqlite", cfg.SQLitePath, migrations.SQLite
	default:
		return fmt.Errorf("DOCSTORE=%s has no SQL schema to migrate", cfg.DocStore)
	}
	if dsn == "" {
		return fmt.Errorf("%w for %s", config.ErrMissingDSN, cfg.DocStore)
	}

	db, err := sql.Open(driver, dsn)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer db.Close()

	switch action {
	case "up":
		return migrations.Up(ctx, db, dialect)
	case "down":
		if err := migrations.Down(ctx, db, dialect); err != nil {
			return err
		}
		slog.Info("[MIGRATE] rolled back one migration", "docstore", cfg.DocStore)
		return nil
	case "version":
		v, err := migrations.Version(ctx, db, dialect)
		if err != nil {
			return err
		}
		fmt.Printf("schema version: %d\n", v)
		return nil
	default:
		return fmt.Errorf("unknown migrate action %q (want up, down or version)", action)
	}
}
