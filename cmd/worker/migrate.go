package main

import (
	"context"
	"log/slog"

	"github.com/coophabitat/finance-engine/config"
	"github.com/coophabitat/finance-engine/internal/storage/postgres"
)

func runMigrate(ctx context.Context, cfg *config.Config) error {
	db, err := postgres.NewConnection(ctx, &cfg.Database)
	if err != nil {
		return err
	}
	defer db.Close()

	if err := postgres.Migrate(ctx, db); err != nil {
		return err
	}
	slog.Info("schema applied")
	return nil
}
