package domain

import (
	"math"
	"time"

	"github.com/coophabitat/finance-engine/internal/apperr"
)

// DaysPerYear is the year length used for fractional holding periods.
const DaysPerYear = 365.0

// FormulaParams governs every pricing calculation of a project. All rates
// are percentages (2 means 2%).
type FormulaParams struct {
	IndexationRate          float64 `json:"indexation_rate" yaml:"indexation_rate"`
	CarryingCostRecoveryPct float64 `json:"carrying_cost_recovery_pct" yaml:"carrying_cost_recovery_pct"`
	AverageInterestRate     float64 `json:"average_interest_rate" yaml:"average_interest_rate"`
	ReservesSharePct        float64 `json:"reserves_share_pct" yaml:"reserves_share_pct"`
}

// Validate rejects negative rates and a reserves share outside [0, 100].
func (f FormulaParams) Validate() error {
	if f.IndexationRate < 0 {
		return apperr.InvalidInput("indexation rate must not be negative, got %v", f.IndexationRate)
	}
	if f.CarryingCostRecoveryPct < 0 {
		return apperr.InvalidInput("carrying cost recovery must not be negative, got %v", f.CarryingCostRecoveryPct)
	}
	if f.AverageInterestRate < 0 {
		return apperr.InvalidInput("average interest rate must not be negative, got %v", f.AverageInterestRate)
	}
	if f.ReservesSharePct < 0 || f.ReservesSharePct > 100 {
		return apperr.InvalidInput("reserves share must be within [0, 100], got %v", f.ReservesSharePct)
	}
	return nil
}

// YearsBetween returns the fractional number of 365-day years from start to end.
func YearsBetween(start, end time.Time) float64 {
	return DaysBetween(start, end) / DaysPerYear
}

// DaysBetween returns the number of calendar days from start to end,
// ignoring the time of day.
func DaysBetween(start, end time.Time) float64 {
	return math.Round(TruncateDay(end).Sub(TruncateDay(start)).Hours() / 24)
}

// TruncateDay drops the time of day, keeping the date in UTC.
func TruncateDay(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// MonthsStarted counts calendar months from start to end, counting a started
// month as a full one. It returns 0 when end is not after start.
func MonthsStarted(start, end time.Time) int {
	s, e := TruncateDay(start), TruncateDay(end)
	if !e.After(s) {
		return 0
	}
	months := (e.Year()-s.Year())*12 + int(e.Month()-s.Month())
	if e.Day() > s.Day() {
		months++
	}
	if months < 1 {
		months = 1
	}
	return months
}

// OnOrBefore reports whether a is the same day as b or earlier.
func OnOrBefore(a, b time.Time) bool {
	return !TruncateDay(a).After(TruncateDay(b))
}

// Before reports whether a is a strictly earlier day than b.
func Before(a, b time.Time) bool {
	return TruncateDay(a).Before(TruncateDay(b))
}
