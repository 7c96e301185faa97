package pricing

import (
	"math"
	"time"

	"github.com/coophabitat/finance-engine/internal/apperr"
	"github.com/coophabitat/finance-engine/internal/finance/domain"
)

// NewcomerInput describes a newcomer buying a share from the collective.
type NewcomerInput struct {
	Surface float64
	// ExistingRoster is every current participant; those who enter after
	// EntryDate are ignored.
	ExistingRoster   []domain.Participant
	TotalProjectCost float64
	DeedDate         time.Time
	EntryDate        time.Time
	Formula          domain.FormulaParams
	// TotalCarryingCosts is the project's accrued holding cost to recover.
	TotalCarryingCosts float64
	// RenovationStartDate is the cutoff for RenovationCost. When nil the
	// renovation cost is always included.
	RenovationStartDate *time.Time
	RenovationCost      float64
}

// PriceBreakdown is the newcomer price with every component kept for display.
type PriceBreakdown struct {
	Quotite              float64 `json:"quotite"`
	EffectiveProjectCost float64 `json:"effective_project_cost"`
	YearsHeld            float64 `json:"years_held"`
	BasePrice            float64 `json:"base_price"`
	Indexation           float64 `json:"indexation"`
	CarryingCostRecovery float64 `json:"carrying_cost_recovery"`
	TotalPrice           float64 `json:"total_price"`
}

// NewcomerPurchasePrice prices a collective share for a newcomer entering on
// EntryDate. The newcomer's own surface is part of the quotité denominator.
func NewcomerPurchasePrice(in NewcomerInput) (PriceBreakdown, error) {
	if err := in.validate(); err != nil {
		return PriceBreakdown{}, err
	}

	roster := EligibleRoster(in.ExistingRoster, in.EntryDate)
	denominator := TotalSurface(roster) + in.Surface
	quotite := in.Surface / denominator

	effective := in.TotalProjectCost
	if includesRenovation(in.EntryDate, in.RenovationStartDate) {
		effective += in.RenovationCost
	}

	years := domain.YearsBetween(in.DeedDate, in.EntryDate)
	base := quotite * effective
	indexation := Indexation(base, in.Formula.IndexationRate, years)
	recovery := in.TotalCarryingCosts * (in.Formula.CarryingCostRecoveryPct / 100)

	return PriceBreakdown{
		Quotite:              quotite,
		EffectiveProjectCost: effective,
		YearsHeld:            years,
		BasePrice:            base,
		Indexation:           indexation,
		CarryingCostRecovery: recovery,
		TotalPrice:           base + indexation + recovery,
	}, nil
}

// Indexation returns base × ((1 + rate/100)^years − 1).
func Indexation(base, ratePct, years float64) float64 {
	return base * (math.Pow(1+ratePct/100, years) - 1)
}

// renovation cost is a lump sum: all of it once work has started, none before.
func includesRenovation(entry time.Time, start *time.Time) bool {
	if start == nil {
		return true
	}
	return !domain.Before(entry, *start)
}

func (in NewcomerInput) validate() error {
	if in.Surface <= 0 {
		return apperr.InvalidInput("surface must be positive, got %v", in.Surface)
	}
	if in.TotalProjectCost <= 0 {
		return apperr.InvalidInput("total project cost must be positive, got %v", in.TotalProjectCost)
	}
	if in.TotalCarryingCosts < 0 {
		return apperr.InvalidInput("carrying costs must not be negative, got %v", in.TotalCarryingCosts)
	}
	if in.RenovationCost < 0 {
		return apperr.InvalidInput("renovation cost must not be negative, got %v", in.RenovationCost)
	}
	if domain.Before(in.EntryDate, in.DeedDate) {
		return apperr.InvalidInput("entry date %s precedes deed date %s",
			in.EntryDate.Format(time.DateOnly), in.DeedDate.Format(time.DateOnly))
	}
	return in.Formula.Validate()
}
