package domain

import (
	"encoding/json"
	"fmt"
	"time"
)

// Participant represents a person or couple holding a stake in the project
type Participant struct {
	ID        string    `json:"id" yaml:"id"`
	Name      string    `json:"name" yaml:"name"`
	IsFounder bool      `json:"is_founder" yaml:"is_founder"`
	EntryDate time.Time `json:"entry_date" yaml:"entry_date"`
	// Surface is the owned m² used as the quotité numerator.
	Surface   float64        `json:"surface" yaml:"surface"`
	Financing Financing      `json:"financing" yaml:"financing"`
	Purchase  PurchaseOrigin `json:"-" yaml:"-"`
	Lots      []Lot          `json:"lots,omitempty" yaml:"lots,omitempty"`
}

// Financing holds a participant's loan terms
type Financing struct {
	CapitalContributed   float64 `json:"capital_contributed" yaml:"capital_contributed"`
	RegistrationFeesRate float64 `json:"registration_fees_rate" yaml:"registration_fees_rate"`
	InterestRate         float64 `json:"interest_rate" yaml:"interest_rate"`
	DurationYears        int     `json:"duration_years" yaml:"duration_years"`
	// UseTwoLoans enables the deferred second tranche.
	UseTwoLoans bool `json:"use_two_loans" yaml:"use_two_loans"`
	// SecondLoanDelayMonths is how long the second tranche is deferred.
	SecondLoanDelayMonths int     `json:"second_loan_delay_months,omitempty" yaml:"second_loan_delay_months,omitempty"`
	SecondLoanRate        float64 `json:"second_loan_rate,omitempty" yaml:"second_loan_rate,omitempty"`
}

// Lot is a physical unit, or a portage reservation held for resale
type Lot struct {
	ID              string        `json:"id" yaml:"id"`
	UnitID          string        `json:"unit_id" yaml:"unit_id"`
	Surface         float64       `json:"surface" yaml:"surface"`
	IsPortage       bool          `json:"is_portage" yaml:"is_portage"`
	AcquisitionDate time.Time     `json:"acquisition_date" yaml:"acquisition_date"`
	OriginalCost    *OriginalCost `json:"original_cost,omitempty" yaml:"original_cost,omitempty"`
}

// OriginalCost is the cost breakdown captured when a lot was reserved.
type OriginalCost struct {
	PurchaseShare    float64 `json:"purchase_share" yaml:"purchase_share"`
	RegistrationFees float64 `json:"registration_fees" yaml:"registration_fees"`
	ConstructionCost float64 `json:"construction_cost" yaml:"construction_cost"`
}

// Total returns the lot's resale price base.
func (c OriginalCost) Total() float64 {
	return c.PurchaseShare + c.RegistrationFees + c.ConstructionCost
}

// FindLot returns the participant's lot with the given id.
func (p Participant) FindLot(lotID string) (Lot, bool) {
	for _, l := range p.Lots {
		if l.ID == lotID {
			return l, true
		}
	}
	return Lot{}, false
}

// PortageLots returns the lots the participant holds for later resale.
func (p Participant) PortageLots() []Lot {
	var out []Lot
	for _, l := range p.Lots {
		if l.IsPortage {
			out = append(out, l)
		}
	}
	return out
}

// Clone returns a deep copy safe to mutate.
func (p Participant) Clone() Participant {
	out := p
	if p.Lots != nil {
		out.Lots = make([]Lot, len(p.Lots))
		for i, l := range p.Lots {
			out.Lots[i] = l
			if l.OriginalCost != nil {
				c := *l.OriginalCost
				out.Lots[i].OriginalCost = &c
			}
		}
	}
	return out
}

// Origin returns the purchase origin, treating a nil origin as founder.
func (p Participant) Origin() PurchaseOrigin {
	if p.Purchase == nil {
		return FounderOrigin{}
	}
	return p.Purchase
}

type participantJSON struct {
	participantAlias
	Purchase *purchaseEnvelope `json:"purchase,omitempty"`
}

type participantAlias Participant

type purchaseEnvelope struct {
	Kind        OriginKind `json:"kind" yaml:"kind"`
	SellerID    string     `json:"seller_id,omitempty" yaml:"seller_id,omitempty"`
	LotID       string     `json:"lot_id,omitempty" yaml:"lot_id,omitempty"`
	AgreedPrice float64    `json:"agreed_price,omitempty" yaml:"agreed_price,omitempty"`
	Lot         *Lot       `json:"lot,omitempty" yaml:"lot,omitempty"`
}

func envelopeOf(o PurchaseOrigin) *purchaseEnvelope {
	switch v := o.(type) {
	case CollectivePurchase:
		return &purchaseEnvelope{Kind: OriginCollective, AgreedPrice: v.AgreedPrice}
	case PrivatePurchase:
		return &purchaseEnvelope{Kind: OriginPrivate, SellerID: v.SellerID, LotID: v.LotID, AgreedPrice: v.AgreedPrice, Lot: v.Lot}
	default:
		return &purchaseEnvelope{Kind: OriginFounder}
	}
}

func (e *purchaseEnvelope) origin() (PurchaseOrigin, error) {
	if e == nil {
		return FounderOrigin{}, nil
	}
	switch e.Kind {
	case OriginFounder, "":
		return FounderOrigin{}, nil
	case OriginCollective:
		return CollectivePurchase{AgreedPrice: e.AgreedPrice}, nil
	case OriginPrivate:
		return PrivatePurchase{SellerID: e.SellerID, LotID: e.LotID, AgreedPrice: e.AgreedPrice, Lot: e.Lot}, nil
	default:
		return nil, fmt.Errorf("unknown purchase origin %q", e.Kind)
	}
}

// MarshalJSON encodes the purchase origin as a tagged envelope.
func (p Participant) MarshalJSON() ([]byte, error) {
	return json.Marshal(participantJSON{
		participantAlias: participantAlias(p),
		Purchase:         envelopeOf(p.Origin()),
	})
}

// UnmarshalJSON decodes the tagged purchase envelope back into its variant.
func (p *Participant) UnmarshalJSON(data []byte) error {
	var raw participantJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	origin, err := raw.Purchase.origin()
	if err != nil {
		return err
	}
	*p = Participant(raw.participantAlias)
	p.Purchase = origin
	return nil
}

// UnmarshalYAML decodes the fixture form used by the worker CLI.
func (p *Participant) UnmarshalYAML(unmarshal func(any) error) error {
	var raw struct {
		participantAlias `yaml:",inline"`
		Purchase         *purchaseEnvelope `yaml:"purchase,omitempty"`
	}
	if err := unmarshal(&raw); err != nil {
		return err
	}
	origin, err := raw.Purchase.origin()
	if err != nil {
		return err
	}
	*p = Participant(raw.participantAlias)
	p.Purchase = origin
	return nil
}
