// Package loan splits a participant's financing need into one or two loan
// tranches. The second tranche covers two thirds of the construction cost
// and is drawn later, which saves interest in the meantime.
package loan

import (
	"math"

	"github.com/coophabitat/finance-engine/internal/apperr"
	"github.com/coophabitat/finance-engine/internal/finance/domain"
)

// Costs is a participant's cost record.
type Costs struct {
	PurchaseShare    float64 `json:"purchase_share" yaml:"purchase_share"`
	RegistrationFees float64 `json:"registration_fees" yaml:"registration_fees"`
	SharedWorksCost  float64 `json:"shared_works_cost" yaml:"shared_works_cost"`
	ConstructionCost float64 `json:"construction_cost" yaml:"construction_cost"`
}

// Validate rejects negative cost components.
func (c Costs) Validate() error {
	if c.PurchaseShare < 0 || c.RegistrationFees < 0 || c.SharedWorksCost < 0 || c.ConstructionCost < 0 {
		return apperr.InvalidInput("cost components must not be negative: %+v", c)
	}
	return nil
}

// TotalFinancingNeeded is the sum of every cost component.
func TotalFinancingNeeded(c Costs) float64 {
	return c.PurchaseShare + c.RegistrationFees + c.SharedWorksCost + c.ConstructionCost
}

// FirstLoanAmount covers everything except the deferred two thirds of
// construction.
func FirstLoanAmount(c Costs) float64 {
	return c.PurchaseShare + c.RegistrationFees + c.SharedWorksCost + c.ConstructionCost/3
}

// SecondLoanAmount is the deferred two thirds of construction. It is
// derived from the first tranche so the two always sum to the total.
func SecondLoanAmount(c Costs) float64 {
	return TotalFinancingNeeded(c) - FirstLoanAmount(c)
}

// SplitLoanInterestSavings is the interest avoided by drawing the second
// tranche monthsDelayed months late at annualRatePct percent.
func SplitLoanInterestSavings(c Costs, annualRatePct float64, monthsDelayed int) (float64, error) {
	if err := c.Validate(); err != nil {
		return 0, err
	}
	if annualRatePct < 0 {
		return 0, apperr.InvalidInput("interest rate must not be negative, got %v", annualRatePct)
	}
	if monthsDelayed < 0 {
		return 0, apperr.InvalidInput("months delayed must not be negative, got %d", monthsDelayed)
	}
	return SecondLoanAmount(c) * (annualRatePct / 100 / 12) * float64(monthsDelayed), nil
}

// MonthlyPayment is the constant annuity repaying principal over the given
// years at annualRatePct percent.
func MonthlyPayment(principal, annualRatePct float64, years int) (float64, error) {
	if principal < 0 {
		return 0, apperr.InvalidInput("principal must not be negative, got %v", principal)
	}
	if years <= 0 {
		return 0, apperr.InvalidInput("loan duration must be positive, got %d", years)
	}
	if annualRatePct < 0 {
		return 0, apperr.InvalidInput("interest rate must not be negative, got %v", annualRatePct)
	}
	n := float64(years * 12)
	r := annualRatePct / 100 / 12
	if r == 0 {
		return principal / n, nil
	}
	return principal * r / (1 - math.Pow(1+r, -n)), nil
}

// Tranche is one loan of a financing plan.
type Tranche struct {
	Amount           float64 `json:"amount"`
	AnnualRatePct    float64 `json:"annual_rate_pct"`
	DurationYears    int     `json:"duration_years"`
	StartDelayMonths int     `json:"start_delay_months"`
	MonthlyPayment   float64 `json:"monthly_payment"`
}

// Plan is a participant's allocated financing.
type Plan struct {
	TotalNeed       float64   `json:"total_need"`
	CapitalApplied  float64   `json:"capital_applied"`
	Borrowed        float64   `json:"borrowed"`
	Tranches        []Tranche `json:"tranches"`
	InterestSavings float64   `json:"interest_savings"`
}

// Allocate builds a participant's loan plan. Contributed capital reduces the
// first tranche; the second tranche exists only when the terms ask for two
// loans and there is construction to defer.
func Allocate(c Costs, terms domain.Financing) (Plan, error) {
	if err := c.Validate(); err != nil {
		return Plan{}, err
	}
	if terms.CapitalContributed < 0 {
		return Plan{}, apperr.InvalidInput("capital must not be negative, got %v", terms.CapitalContributed)
	}
	if terms.DurationYears <= 0 {
		return Plan{}, apperr.InvalidInput("loan duration must be positive, got %d", terms.DurationYears)
	}

	total := TotalFinancingNeeded(c)
	capital := math.Min(terms.CapitalContributed, total)
	plan := Plan{TotalNeed: total, CapitalApplied: capital, Borrowed: total - capital}

	first, second := plan.Borrowed, 0.0
	if terms.UseTwoLoans && SecondLoanAmount(c) > 0 {
		second = SecondLoanAmount(c)
		first = math.Max(FirstLoanAmount(c)-capital, 0)
		// capital exceeding the first tranche eats into the second
		second = plan.Borrowed - first
	}

	if first > 0 {
		payment, err := MonthlyPayment(first, terms.InterestRate, terms.DurationYears)
		if err != nil {
			return Plan{}, err
		}
		plan.Tranches = append(plan.Tranches, Tranche{
			Amount:         first,
			AnnualRatePct:  terms.InterestRate,
			DurationYears:  terms.DurationYears,
			MonthlyPayment: payment,
		})
	}

	if second > 0 {
		rate := terms.SecondLoanRate
		if rate == 0 {
			rate = terms.InterestRate
		}
		payment, err := MonthlyPayment(second, rate, terms.DurationYears)
		if err != nil {
			return Plan{}, err
		}
		plan.Tranches = append(plan.Tranches, Tranche{
			Amount:           second,
			AnnualRatePct:    rate,
			DurationYears:    terms.DurationYears,
			StartDelayMonths: terms.SecondLoanDelayMonths,
			MonthlyPayment:   payment,
		})
		plan.InterestSavings = second * (rate / 100 / 12) * float64(terms.SecondLoanDelayMonths)
	}

	return plan, nil
}
