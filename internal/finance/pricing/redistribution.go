package pricing

import (
	"time"

	"github.com/coophabitat/finance-engine/internal/apperr"
	"github.com/coophabitat/finance-engine/internal/finance/domain"
)

// RedistributionInput describes the collective selling a share to Buyer.
type RedistributionInput struct {
	SaleProceeds     float64
	ReservesSharePct float64
	Buyer            domain.Participant
	Participants     []domain.Participant
	SaleDate         time.Time
}

// PayeeShare is one participant's cut of a collective sale.
type PayeeShare struct {
	ParticipantID string  `json:"participant_id"`
	Surface       float64 `json:"surface"`
	Fraction      float64 `json:"fraction"`
	Amount        float64 `json:"amount"`
}

// Redistribution splits collective sale proceeds between reserves and payees.
// Undistributed holds the slices of the buyer and of same-day entrants, which
// count in the denominator but are paid to nobody.
type Redistribution struct {
	SaleProceeds   float64      `json:"sale_proceeds"`
	ToReserves     float64      `json:"to_reserves"`
	ToParticipants float64      `json:"to_participants"`
	Denominator    float64      `json:"denominator"`
	Distributed    float64      `json:"distributed"`
	Undistributed  float64      `json:"undistributed"`
	Shares         []PayeeShare `json:"shares"`
}

// CollectiveResaleRedistribution computes every payee's share of a sale.
func CollectiveResaleRedistribution(in RedistributionInput) (Redistribution, error) {
	denominator, err := in.denominator()
	if err != nil {
		return Redistribution{}, err
	}

	toParticipants := in.SaleProceeds * (1 - in.ReservesSharePct/100)
	out := Redistribution{
		SaleProceeds:   in.SaleProceeds,
		ToReserves:     in.SaleProceeds - toParticipants,
		ToParticipants: toParticipants,
		Denominator:    denominator,
		Shares:         []PayeeShare{},
	}

	for _, p := range in.Participants {
		if !in.receivesShare(p) {
			continue
		}
		fraction := p.Surface / denominator
		share := PayeeShare{
			ParticipantID: p.ID,
			Surface:       p.Surface,
			Fraction:      fraction,
			Amount:        toParticipants * fraction,
		}
		out.Distributed += share.Amount
		out.Shares = append(out.Shares, share)
	}
	out.Undistributed = toParticipants - out.Distributed

	return out, nil
}

// ShareFor returns payee's amount from the sale, zero when the payee is not
// entitled to one.
func (in RedistributionInput) ShareFor(payee domain.Participant) (float64, error) {
	denominator, err := in.denominator()
	if err != nil {
		return 0, err
	}
	if !in.receivesShare(payee) {
		return 0, nil
	}
	toParticipants := in.SaleProceeds * (1 - in.ReservesSharePct/100)
	return toParticipants * payee.Surface / denominator, nil
}

// denominator is the surface of everyone present at the sale date,
// including the buyer, who is never paid.
func (in RedistributionInput) denominator() (float64, error) {
	if in.SaleProceeds <= 0 {
		return 0, apperr.InvalidInput("sale proceeds must be positive, got %v", in.SaleProceeds)
	}
	if in.ReservesSharePct < 0 || in.ReservesSharePct > 100 {
		return 0, apperr.InvalidInput("reserves share must be within [0, 100], got %v", in.ReservesSharePct)
	}
	if in.Buyer.Surface <= 0 {
		return 0, apperr.InvalidInput("buyer surface must be positive, got %v", in.Buyer.Surface)
	}

	var total float64
	buyerListed := false
	for _, p := range EligibleRoster(in.Participants, in.SaleDate) {
		if p.ID == in.Buyer.ID {
			buyerListed = true
		}
		total += p.Surface
	}
	if !buyerListed {
		total += in.Buyer.Surface
	}
	if total <= 0 {
		return 0, apperr.New(apperr.CodeDivisionByZero, "redistribution denominator is empty")
	}
	return total, nil
}

// receivesShare excludes the buyer and anyone who entered on or after the
// buyer's entry date. Founders, entering at the deed date, are paid by every
// later buyer.
func (in RedistributionInput) receivesShare(p domain.Participant) bool {
	if p.ID == in.Buyer.ID || p.Surface <= 0 {
		return false
	}
	if !domain.OnOrBefore(p.EntryDate, in.SaleDate) {
		return false
	}
	buyerEntry := in.Buyer.EntryDate
	if buyerEntry.IsZero() {
		buyerEntry = in.SaleDate
	}
	return domain.Before(p.EntryDate, buyerEntry)
}
