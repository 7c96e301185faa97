package main

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/coophabitat/finance-engine/config"
	"github.com/coophabitat/finance-engine/internal/finance/domain"
	finservice "github.com/coophabitat/finance-engine/internal/finance/service"
	govrepo "github.com/coophabitat/finance-engine/internal/governance/repository"
	govservice "github.com/coophabitat/finance-engine/internal/governance/service"
	"github.com/coophabitat/finance-engine/internal/storage/postgres"
)

// infra holds the connections opened for one command run.
type infra struct {
	db    *sql.DB
	redis *redis.Client
}

func openInfra(ctx context.Context, cfg *config.Config) (*infra, error) {
	db, err := postgres.NewConnection(ctx, &cfg.Database)
	if err != nil {
		return nil, err
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		db.Close()
		client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	return &infra{db: db, redis: client}, nil
}

func (i *infra) Close() {
	i.redis.Close()
	i.db.Close()
}

func (i *infra) agreementService(cfg *config.Config) *govservice.AgreementService {
	return govservice.NewAgreementService(
		govrepo.NewAgreementRepository(i.db),
		govrepo.NewMailbox(i.redis, cfg.Redis.LockTTL),
		govrepo.NewPublisher(i.redis),
		govservice.Options{},
	)
}

func openPool(ctx context.Context, cfg *config.Config) (*pgxpool.Pool, error) {
	return postgres.OpenPool(ctx, postgres.PoolOptions{DSN: postgres.DSN(&cfg.Database)})
}

func pricingDefaults(cfg *config.Config) finservice.Defaults {
	return finservice.Defaults{
		Formula: domain.FormulaParams{
			IndexationRate:          cfg.Formula.IndexationRate,
			CarryingCostRecoveryPct: cfg.Formula.CarryingCostRecoveryPct,
			AverageInterestRate:     cfg.Formula.AverageInterestRate,
			ReservesSharePct:        cfg.Formula.ReservesSharePct,
		},
		MaxPortageLots: cfg.Formula.MaxPortageLots,
		CacheTTL:       cfg.Formula.CacheTTL,
	}
}
