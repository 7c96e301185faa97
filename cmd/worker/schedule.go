package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/coophabitat/finance-engine/config"
	httpapi "github.com/coophabitat/finance-engine/internal/api/http"
	"github.com/coophabitat/finance-engine/internal/api/http/routes"
	cronjob "github.com/coophabitat/finance-engine/internal/governance/cron"
)

const serviceName = "finance-engine-worker"

// runSchedule ticks agreements on TICK_SCHEDULE and serves the health probe
// on HEALTH_PORT until ctx is cancelled.
func runSchedule(ctx context.Context, cfg *config.Config) error {
	inf, err := openInfra(ctx, cfg)
	if err != nil {
		return err
	}
	defer inf.Close()

	scheduler := cronjob.NewScheduler(inf.agreementService(cfg), cfg.Scheduler.TickSchedule)
	if err := scheduler.Start(); err != nil {
		return err
	}
	defer scheduler.Stop()

	if cfg.App.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	}
	health := httpapi.NewHealthHandler(serviceName, cfg.App.Version).
		WithCheck("postgres", inf.db.PingContext).
		WithCheck("redis", func(ctx context.Context) error { return inf.redis.Ping(ctx).Err() })

	srv := &http.Server{
		Addr:              ":" + cfg.Scheduler.HealthPort,
		Handler:           routes.NewProbeRouter(health),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("health probe listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		if err != nil {
			return err
		}
	}

	slog.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
