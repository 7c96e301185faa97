// Package sharedspace drives the usage agreement for a shared room or
// workshop. The governance model decides approval and billing; the states
// are the same for every model.
package sharedspace

import (
	"math"
	"strings"
	"time"

	"github.com/coophabitat/finance-engine/internal/apperr"
	"github.com/coophabitat/finance-engine/internal/finance/domain"
	"github.com/coophabitat/finance-engine/internal/voting"
)

// Model is the governance model of an agreement.
type Model string

const (
	ModelSolidaire  Model = "solidaire"
	ModelCommercial Model = "commercial"
	ModelQuota      Model = "quota"
)

// UsageType classifies a usage record.
type UsageType string

const (
	UsagePersonal     UsageType = "personal"
	UsageProfessional UsageType = "professional"
)

// SolidaireMode selects how a solidaire agreement is billed.
type SolidaireMode string

const (
	SolidaireFree       SolidaireMode = "free"
	SolidaireCostPrice  SolidaireMode = "cost_price"
	SolidaireSubsidized SolidaireMode = "subsidized"
)

// QuotaTerms are the annual allowances of a quota agreement.
type QuotaTerms struct {
	PersonalDaysPerYear     int     `json:"personal_days_per_year" yaml:"personal_days_per_year"`
	ProfessionalDaysPerYear int     `json:"professional_days_per_year" yaml:"professional_days_per_year"`
	PersonalDailyRate       float64 `json:"personal_daily_rate" yaml:"personal_daily_rate"`
	ProfessionalDailyRate   float64 `json:"professional_daily_rate" yaml:"professional_daily_rate"`
	BeyondQuotaDailyRate    float64 `json:"beyond_quota_daily_rate" yaml:"beyond_quota_daily_rate"`
}

// CommercialTerms bill usage against a monthly rent.
type CommercialTerms struct {
	MonthlyRent float64 `json:"monthly_rent" yaml:"monthly_rent"`
}

// SolidaireTerms bill at zero, cost price, or a subsidized cost price.
type SolidaireTerms struct {
	Mode                 SolidaireMode `json:"mode" yaml:"mode"`
	AnnualOperatingCosts float64       `json:"annual_operating_costs" yaml:"annual_operating_costs"`
	SubsidyPct           float64       `json:"subsidy_pct" yaml:"subsidy_pct"`
}

// Terms are the agreement's configuration.
type Terms struct {
	Model      Model            `json:"model" yaml:"model"`
	UsageType  UsageType        `json:"usage_type" yaml:"usage_type"`
	Approved   bool             `json:"approved" yaml:"approved"`
	Quota      *QuotaTerms      `json:"quota,omitempty" yaml:"quota,omitempty"`
	Commercial *CommercialTerms `json:"commercial,omitempty" yaml:"commercial,omitempty"`
	Solidaire  *SolidaireTerms  `json:"solidaire,omitempty" yaml:"solidaire,omitempty"`
}

// RequiresVote reports whether the community must approve the agreement.
func (t Terms) RequiresVote() bool {
	switch t.Model {
	case ModelSolidaire, ModelCommercial:
		return true
	case ModelQuota:
		return t.UsageType == UsageProfessional && !t.Approved
	}
	return true
}

// Validate checks that the model's configuration is present.
func (t Terms) Validate() error {
	switch t.Model {
	case ModelQuota:
		q := t.Quota
		if q == nil {
			return apperr.New(apperr.CodeMissingConfiguration, "quota model requires quota terms")
		}
		if q.PersonalDaysPerYear < 0 || q.ProfessionalDaysPerYear < 0 {
			return apperr.InvalidInput("quota allowances must not be negative")
		}
		if q.PersonalDailyRate < 0 || q.ProfessionalDailyRate < 0 || q.BeyondQuotaDailyRate < 0 {
			return apperr.InvalidInput("quota rates must not be negative")
		}
	case ModelCommercial:
		if t.Commercial == nil {
			return apperr.New(apperr.CodeMissingConfiguration, "commercial model requires a monthly rent")
		}
		if t.Commercial.MonthlyRent <= 0 {
			return apperr.InvalidInput("monthly rent must be positive, got %v", t.Commercial.MonthlyRent)
		}
	case ModelSolidaire:
		s := t.Solidaire
		if s == nil {
			return apperr.New(apperr.CodeMissingConfiguration, "solidaire model requires a billing mode")
		}
		switch s.Mode {
		case SolidaireFree:
		case SolidaireCostPrice, SolidaireSubsidized:
			if s.AnnualOperatingCosts < 0 {
				return apperr.InvalidInput("operating costs must not be negative, got %v", s.AnnualOperatingCosts)
			}
			if s.SubsidyPct < 0 || s.SubsidyPct > 100 {
				return apperr.InvalidInput("subsidy must be within [0, 100], got %v", s.SubsidyPct)
			}
		default:
			return apperr.InvalidInput("unknown solidaire mode %q", s.Mode)
		}
	default:
		return apperr.InvalidInput("unknown governance model %q", t.Model)
	}
	if !t.UsageType.valid() {
		return apperr.InvalidInput("unknown usage type %q", t.UsageType)
	}
	return nil
}

func (u UsageType) valid() bool {
	return u == UsagePersonal || u == UsageProfessional
}

// UsageRecord is one billed period of use.
type UsageRecord struct {
	StartDate  time.Time `json:"start_date"`
	EndDate    time.Time `json:"end_date"`
	UsageType  UsageType `json:"usage_type"`
	Days       int       `json:"days"`
	QuotaDays  int       `json:"quota_days"`
	BeyondDays int       `json:"beyond_days"`
	Fee        float64   `json:"fee"`
	RecordedAt time.Time `json:"recorded_at"`
}

// Payment is a settlement against accumulated fees.
type Payment struct {
	Amount float64   `json:"amount"`
	At     time.Time `json:"at"`
}

// Alert is a notice attached to the agreement.
type Alert struct {
	Kind    string    `json:"kind"`
	Message string    `json:"message"`
	At      time.Time `json:"at"`
}

// Agreement is the machine's context.
type Agreement struct {
	ID            string    `json:"id"`
	ProjectID     string    `json:"project_id"`
	SpaceID       string    `json:"space_id"`
	ParticipantID string    `json:"participant_id"`
	Terms         Terms     `json:"terms"`
	StartDate     time.Time `json:"start_date"`
	EndDate       time.Time `json:"end_date"`

	Votes      map[string]voting.Ballot `json:"votes,omitempty"`
	VoteResult *voting.Result           `json:"vote_result,omitempty"`

	Usage                []UsageRecord `json:"usage,omitempty"`
	PersonalDaysUsed     int           `json:"personal_days_used"`
	ProfessionalDaysUsed int           `json:"professional_days_used"`
	QuotaExceeded        bool          `json:"quota_exceeded"`

	TotalFees float64   `json:"total_fees"`
	TotalPaid float64   `json:"total_paid"`
	Payments  []Payment `json:"payments,omitempty"`
	Alerts    []Alert   `json:"alerts,omitempty"`

	RenewalCount    int    `json:"renewal_count"`
	SuspendedReason string `json:"suspended_reason,omitempty"`
	RejectionReason string `json:"rejection_reason,omitempty"`
}

// OutstandingBalance is the fees not yet paid.
func (a Agreement) OutstandingBalance() float64 {
	return a.TotalFees - a.TotalPaid
}

// Validate checks the agreement before the machine starts.
func (a Agreement) Validate() error {
	if strings.TrimSpace(a.SpaceID) == "" || strings.TrimSpace(a.ParticipantID) == "" {
		return apperr.InvalidInput("space and participant are required")
	}
	if !a.EndDate.IsZero() && a.EndDate.Before(a.StartDate) {
		return apperr.InvalidInput("end date precedes start date")
	}
	return a.Terms.Validate()
}

// UsageDays counts the calendar days from start to end, both included.
func UsageDays(start, end time.Time) (int, error) {
	if start.IsZero() || end.IsZero() {
		return 0, apperr.InvalidInput("usage start and end dates are required")
	}
	if domain.Before(end, start) {
		return 0, apperr.InvalidInput("usage ends %s before it starts %s", end.Format(time.DateOnly), start.Format(time.DateOnly))
	}
	return int(domain.DaysBetween(start, end)) + 1, nil
}

// Fee is a computed usage charge.
type Fee struct {
	Days       int
	QuotaDays  int
	BeyondDays int
	Amount     float64
}

// ComputeFee prices days of usage of the given type against the terms and
// the allowance already consumed this year.
func ComputeFee(t Terms, usage UsageType, days, usedThisYear int) (Fee, error) {
	if days <= 0 {
		return Fee{}, apperr.InvalidInput("usage must last at least one day, got %d", days)
	}
	if !usage.valid() {
		return Fee{}, apperr.InvalidInput("unknown usage type %q", usage)
	}
	if err := t.Validate(); err != nil {
		return Fee{}, err
	}

	switch t.Model {
	case ModelQuota:
		allowance, rate := t.Quota.PersonalDaysPerYear, t.Quota.PersonalDailyRate
		if usage == UsageProfessional {
			allowance, rate = t.Quota.ProfessionalDaysPerYear, t.Quota.ProfessionalDailyRate
		}
		remaining := max(allowance-usedThisYear, 0)
		within := min(days, remaining)
		beyond := days - within
		return Fee{
			Days:       days,
			QuotaDays:  within,
			BeyondDays: beyond,
			Amount:     float64(within)*rate + float64(beyond)*t.Quota.BeyondQuotaDailyRate,
		}, nil
	case ModelCommercial:
		return Fee{Days: days, Amount: t.Commercial.MonthlyRent / 30 * float64(days)}, nil
	default:
		s := t.Solidaire
		var amount float64
		switch s.Mode {
		case SolidaireCostPrice:
			amount = s.AnnualOperatingCosts / domain.DaysPerYear * float64(days)
		case SolidaireSubsidized:
			amount = s.AnnualOperatingCosts / domain.DaysPerYear * float64(days) * (1 - s.SubsidyPct/100)
		}
		return Fee{Days: days, Amount: math.Max(amount, 0)}, nil
	}
}
