package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/coophabitat/finance-engine/config"
	"github.com/coophabitat/finance-engine/internal/finance/repository"
	finservice "github.com/coophabitat/finance-engine/internal/finance/service"
	"github.com/coophabitat/finance-engine/internal/platform/logger"
)

// runQuote prices one participant of a YAML project file and prints the
// breakdown as JSON.
func runQuote(cfg *config.Config, args []string, w io.Writer) error {
	if len(args) < 2 {
		return fmt.Errorf("usage: quote <project.yaml> <participant-id> [as-of YYYY-MM-DD]")
	}

	var asOf time.Time
	if len(args) > 2 {
		t, err := time.Parse(time.DateOnly, args[2])
		if err != nil {
			return fmt.Errorf("invalid as-of date %q: %w", args[2], err)
		}
		asOf = t
	}

	p, err := repository.LoadProjectFile(args[0])
	if err != nil {
		return err
	}

	svc := finservice.NewPricingService(nil, pricingDefaults(cfg))
	q, err := svc.QuoteProject(p, args[1], asOf)
	if err != nil {
		return err
	}

	log := logger.New(logger.WithCorrelationID(context.Background(), p.ID))
	log.LogInfof("quote", "priced participant %s (%s)", q.ParticipantID, q.Origin)

	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(q)
}
