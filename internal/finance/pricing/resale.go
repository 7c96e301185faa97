package pricing

import (
	"time"

	"github.com/coophabitat/finance-engine/internal/apperr"
	"github.com/coophabitat/finance-engine/internal/finance/domain"
)

// PrivateResaleInput describes a newcomer buying a founder's portage lot.
type PrivateResaleInput struct {
	Buyer    domain.Participant
	Seller   domain.Participant
	DeedDate time.Time
	Formula  domain.FormulaParams
	// Roster apportions building insurance by the lot's quotité. It may be
	// empty when no insurance is charged.
	Roster   []domain.Participant
	Carrying CarryingCostParams
}

// ResaleBreakdown is a private resale price with its components.
type ResaleBreakdown struct {
	LotID                   string                `json:"lot_id"`
	AcquisitionDate         time.Time             `json:"acquisition_date"`
	YearsHeld               float64               `json:"years_held"`
	BasePrice               float64               `json:"base_price"`
	Indexation              float64               `json:"indexation"`
	CarryingCosts           CarryingCostBreakdown `json:"carrying_costs"`
	CarryingCostsWithMargin float64               `json:"carrying_costs_with_margin"`
	TotalPrice              float64               `json:"total_price"`
}

// PrivateResalePrice prices a portage lot sold by Seller to Buyer. It
// returns nil with no error when the buyer did not buy from this seller
// (a collective purchase has no private resale price).
func PrivateResalePrice(in PrivateResaleInput) (*ResaleBreakdown, error) {
	var purchase domain.PrivatePurchase
	switch o := in.Buyer.Origin().(type) {
	case domain.PrivatePurchase:
		purchase = o
	case domain.CollectivePurchase, domain.FounderOrigin:
		return nil, nil
	}
	if purchase.SellerID == "" || purchase.SellerID != in.Seller.ID {
		return nil, nil
	}

	if err := in.Formula.Validate(); err != nil {
		return nil, err
	}

	lot, err := resoldLot(in.Seller, purchase)
	if err != nil {
		return nil, err
	}

	acquired := lot.AcquisitionDate
	if acquired.IsZero() {
		acquired = in.Seller.EntryDate
	}
	if acquired.IsZero() {
		acquired = in.DeedDate
	}
	if domain.Before(in.Buyer.EntryDate, acquired) {
		return nil, apperr.InvalidInput("buyer entry date %s precedes lot acquisition %s",
			in.Buyer.EntryDate.Format(time.DateOnly), acquired.Format(time.DateOnly))
	}

	base := lot.OriginalCost.Total()
	if base <= 0 {
		return nil, apperr.InvalidInput("lot %s has no positive original cost", lot.ID)
	}

	quotite := 0.0
	if in.Carrying.BuildingInsuranceAnnual > 0 {
		roster := EligibleRoster(in.Roster, in.Buyer.EntryDate)
		quotite, err = Quotite(lot.Surface, roster)
		if err != nil {
			return nil, err
		}
		if quotite > 1 {
			quotite = 1
		}
	}

	params := in.Carrying
	if params.LoanPrincipal == 0 {
		params.LoanPrincipal = base
	}
	carrying, err := CarryingCosts(CarryingCostInput{
		Start:              acquired,
		End:                in.Buyer.EntryDate,
		Params:             params,
		AnnualInterestRate: in.Formula.AverageInterestRate,
		Quotite:            quotite,
	})
	if err != nil {
		return nil, err
	}

	years := domain.YearsBetween(acquired, in.Buyer.EntryDate)
	indexation := Indexation(base, in.Formula.IndexationRate, years)
	withMargin := carrying.Total * (1 + CarryingCostSafetyMargin)

	return &ResaleBreakdown{
		LotID:                   lot.ID,
		AcquisitionDate:         acquired,
		YearsHeld:               years,
		BasePrice:               base,
		Indexation:              indexation,
		CarryingCosts:           carrying,
		CarryingCostsWithMargin: withMargin,
		TotalPrice:              base + indexation + withMargin,
	}, nil
}

// resoldLot returns the lot recorded on the purchase, otherwise the named
// lot or the first priced portage lot the seller still holds.
func resoldLot(seller domain.Participant, purchase domain.PrivatePurchase) (domain.Lot, error) {
	if purchase.Lot != nil {
		if purchase.Lot.OriginalCost == nil {
			return domain.Lot{}, apperr.InvalidInput("lot %s has no recorded original cost", purchase.Lot.ID)
		}
		return *purchase.Lot, nil
	}
	lotID := purchase.LotID
	if lotID != "" {
		lot, ok := seller.FindLot(lotID)
		if !ok {
			return domain.Lot{}, apperr.Newf(apperr.CodeNotFound, "seller %s holds no lot %s", seller.ID, lotID)
		}
		if lot.OriginalCost == nil {
			return domain.Lot{}, apperr.InvalidInput("lot %s has no recorded original cost", lotID)
		}
		return lot, nil
	}
	for _, lot := range seller.PortageLots() {
		if lot.OriginalCost != nil {
			return lot, nil
		}
	}
	return domain.Lot{}, apperr.Newf(apperr.CodeNotFound, "seller %s holds no priced portage lot", seller.ID)
}
