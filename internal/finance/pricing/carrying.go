package pricing

import (
	"time"

	"github.com/coophabitat/finance-engine/internal/apperr"
	"github.com/coophabitat/finance-engine/internal/finance/domain"
)

// CarryingCostSafetyMargin inflates carrying costs added to a private resale.
const CarryingCostSafetyMargin = 0.10

// CarryingCostParams are the recurring costs of holding a reserved lot.
type CarryingCostParams struct {
	// LoanPrincipal is the amount financed for the lot. Zero means the lot's
	// full original cost.
	LoanPrincipal           float64 `json:"loan_principal" yaml:"loan_principal"`
	PropertyTaxAnnual       float64 `json:"property_tax_annual" yaml:"property_tax_annual"`
	BuildingInsuranceAnnual float64 `json:"building_insurance_annual" yaml:"building_insurance_annual"`
	SyndicFeesMonthly       float64 `json:"syndic_fees_monthly" yaml:"syndic_fees_monthly"`
	CommonChargesMonthly    float64 `json:"common_charges_monthly" yaml:"common_charges_monthly"`
}

// CarryingCostInput is a holding period plus the parameters accruing over it.
type CarryingCostInput struct {
	Start, End time.Time
	Params     CarryingCostParams
	// AnnualInterestRate is a percentage.
	AnnualInterestRate float64
	// Quotite apportions the building insurance to the lot.
	Quotite float64
}

// MonthlyCarryingCost is one month of the holding period.
type MonthlyCarryingCost struct {
	Month        int     `json:"month"`
	LoanInterest float64 `json:"loan_interest"`
	PropertyTax  float64 `json:"property_tax"`
	Insurance    float64 `json:"insurance"`
	Fees         float64 `json:"fees"`
}

// Total sums the month's components.
func (m MonthlyCarryingCost) Total() float64 {
	return m.LoanInterest + m.PropertyTax + m.Insurance + m.Fees
}

// CarryingCostBreakdown sums the holding cost over every started month.
type CarryingCostBreakdown struct {
	Months       int                   `json:"months"`
	LoanInterest float64               `json:"loan_interest"`
	PropertyTax  float64               `json:"property_tax"`
	Insurance    float64               `json:"insurance"`
	Fees         float64               `json:"fees"`
	Total        float64               `json:"total"`
	Monthly      []MonthlyCarryingCost `json:"monthly,omitempty"`
}

// CarryingCosts accrues holding costs month by month from Start to End.
func CarryingCosts(in CarryingCostInput) (CarryingCostBreakdown, error) {
	p := in.Params
	if p.LoanPrincipal < 0 || p.PropertyTaxAnnual < 0 || p.BuildingInsuranceAnnual < 0 ||
		p.SyndicFeesMonthly < 0 || p.CommonChargesMonthly < 0 {
		return CarryingCostBreakdown{}, apperr.InvalidInput("carrying cost parameters must not be negative")
	}
	if in.AnnualInterestRate < 0 {
		return CarryingCostBreakdown{}, apperr.InvalidInput("interest rate must not be negative, got %v", in.AnnualInterestRate)
	}
	if in.Quotite < 0 || in.Quotite > 1 {
		return CarryingCostBreakdown{}, apperr.InvalidInput("quotité must be within [0, 1], got %v", in.Quotite)
	}

	months := domain.MonthsStarted(in.Start, in.End)
	out := CarryingCostBreakdown{Months: months, Monthly: make([]MonthlyCarryingCost, 0, months)}

	for i := 1; i <= months; i++ {
		m := MonthlyCarryingCost{
			Month:        i,
			LoanInterest: p.LoanPrincipal * in.AnnualInterestRate / 100 / 12,
			PropertyTax:  p.PropertyTaxAnnual / 12,
			Insurance:    p.BuildingInsuranceAnnual * in.Quotite / 12,
			Fees:         p.SyndicFeesMonthly + p.CommonChargesMonthly,
		}
		out.LoanInterest += m.LoanInterest
		out.PropertyTax += m.PropertyTax
		out.Insurance += m.Insurance
		out.Fees += m.Fees
		out.Total += m.Total()
		out.Monthly = append(out.Monthly, m)
	}

	return out, nil
}
