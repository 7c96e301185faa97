package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/coophabitat/finance-engine/config"
	"github.com/coophabitat/finance-engine/internal/apperr"
	"github.com/coophabitat/finance-engine/internal/finance/repository"
	"github.com/coophabitat/finance-engine/internal/platform/logger"
)

// runImport stores a YAML project file as the current project snapshot,
// replacing any stored version.
func runImport(ctx context.Context, cfg *config.Config, args []string) error {
	if len(args) < 1 {
		return fmt.Errorf("usage: import <project.yaml>")
	}
	p, err := repository.LoadProjectFile(args[0])
	if err != nil {
		return err
	}

	pool, err := openPool(ctx, cfg)
	if err != nil {
		return err
	}
	defer pool.Close()

	repo := repository.NewProjectRepository(pool)
	current, err := repo.Get(ctx, p.ID)
	switch {
	case err == nil:
		p.Version = current.Version
	case !errors.Is(err, apperr.ErrNotFound):
		return err
	}

	if err := repo.Save(ctx, p); err != nil {
		return err
	}
	logger.New(logger.WithCorrelationID(ctx, p.ID)).
		LogInfof("import", "stored project %s at version %d", p.ID, p.Version)
	return nil
}
