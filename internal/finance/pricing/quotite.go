// Package pricing computes quotité shares and the three purchase-price
// formulas of a shared-purchase project. Every function is pure.
package pricing

import (
	"time"

	"github.com/coophabitat/finance-engine/internal/apperr"
	"github.com/coophabitat/finance-engine/internal/finance/domain"
)

// EligibleRoster keeps the participants whose entry date is on or before asOf.
func EligibleRoster(participants []domain.Participant, asOf time.Time) []domain.Participant {
	out := make([]domain.Participant, 0, len(participants))
	for _, p := range participants {
		if domain.OnOrBefore(p.EntryDate, asOf) {
			out = append(out, p)
		}
	}
	return out
}

// TotalSurface sums the surface of every participant in the roster.
func TotalSurface(roster []domain.Participant) float64 {
	var total float64
	for _, p := range roster {
		total += p.Surface
	}
	return total
}

// Quotite returns surface / Σ roster surface. The roster must already be
// filtered to participants present at the evaluation date.
func Quotite(surface float64, roster []domain.Participant) (float64, error) {
	if surface <= 0 {
		return 0, apperr.InvalidInput("surface must be positive, got %v", surface)
	}
	total := TotalSurface(roster)
	if len(roster) == 0 || total <= 0 {
		return 0, apperr.New(apperr.CodeDivisionByZero, "quotité denominator is empty")
	}
	return surface / total, nil
}

// QuotiteAt returns every eligible participant's quotité at asOf, keyed by id.
func QuotiteAt(participants []domain.Participant, asOf time.Time) (map[string]float64, error) {
	roster := EligibleRoster(participants, asOf)
	out := make(map[string]float64, len(roster))
	for _, p := range roster {
		q, err := Quotite(p.Surface, roster)
		if err != nil {
			return nil, err
		}
		out[p.ID] = q
	}
	return out, nil
}
