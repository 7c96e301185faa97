package main

import (
	"context"
	"log/slog"

	"github.com/coophabitat/finance-engine/config"
)

// runTick runs a single pass over open rent-to-own agreements.
func runTick(ctx context.Context, cfg *config.Config) error {
	inf, err := openInfra(ctx, cfg)
	if err != nil {
		return err
	}
	defer inf.Close()

	report, err := inf.agreementService(cfg).TickAll(ctx)
	if err != nil {
		return err
	}
	slog.Info("tick complete",
		"checked", report.Checked,
		"changed", report.Changed,
		"skipped", report.Skipped,
		"failed", report.Failed)
	return nil
}
