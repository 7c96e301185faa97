// Package roster holds the participant and lot operations applied to a
// project before pricing is recomputed. Every operation returns a new
// Roster and leaves its input untouched.
package roster

import (
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/coophabitat/finance-engine/internal/apperr"
	"github.com/coophabitat/finance-engine/internal/finance/domain"
)

// DefaultMaxPortageLots caps the reservations a single founder may carry.
const DefaultMaxPortageLots = 3

// Roster is a project's participants as of the latest operation.
type Roster struct {
	ProjectID      string               `json:"project_id" yaml:"project_id"`
	DeedDate       time.Time            `json:"deed_date" yaml:"deed_date"`
	MaxPortageLots int                  `json:"max_portage_lots" yaml:"max_portage_lots"`
	Participants   []domain.Participant `json:"participants" yaml:"participants"`
}

// Options carries the injectable id generator.
type Options struct {
	NewID func() string
}

func (o Options) newID() string {
	if o.NewID == nil {
		return uuid.NewString()
	}
	return o.NewID()
}

// NewParticipantInput describes a participant joining the roster.
type NewParticipantInput struct {
	ID        string
	Name      string
	IsFounder bool
	// EntryDate defaults to the deed date. Founders always enter on it.
	EntryDate time.Time
	Surface   float64
	Financing domain.Financing
	Purchase  domain.PurchaseOrigin
}

// Find returns the participant with the given id.
func (r Roster) Find(id string) (domain.Participant, bool) {
	i := r.index(id)
	if i < 0 {
		return domain.Participant{}, false
	}
	return r.Participants[i], true
}

// Founders returns the participants bound from the deed date.
func (r Roster) Founders() []domain.Participant {
	var out []domain.Participant
	for _, p := range r.Participants {
		if p.IsFounder {
			out = append(out, p)
		}
	}
	return out
}

// Clone returns a deep copy of the roster.
func (r Roster) Clone() Roster {
	out := r
	out.Participants = make([]domain.Participant, len(r.Participants))
	for i, p := range r.Participants {
		out.Participants[i] = p.Clone()
	}
	return out
}

func (r Roster) index(id string) int {
	for i, p := range r.Participants {
		if p.ID == id {
			return i
		}
	}
	return -1
}

func (r Roster) maxPortage() int {
	if r.MaxPortageLots <= 0 {
		return DefaultMaxPortageLots
	}
	return r.MaxPortageLots
}

func (r Roster) lotOwner(lotID string) (string, bool) {
	for _, p := range r.Participants {
		if _, ok := p.FindLot(lotID); ok {
			return p.ID, true
		}
	}
	return "", false
}

// AddParticipant appends a participant, generating an id when none is given.
func AddParticipant(r Roster, in NewParticipantInput, opts Options) (Roster, domain.Participant, error) {
	in.Name = strings.TrimSpace(in.Name)
	if in.Name == "" {
		return r, domain.Participant{}, apperr.InvalidInput("participant name is required")
	}
	if in.Surface <= 0 {
		return r, domain.Participant{}, apperr.InvalidInput("surface must be positive, got %v", in.Surface)
	}
	if in.ID == "" {
		in.ID = opts.newID()
	}
	if r.index(in.ID) >= 0 {
		return r, domain.Participant{}, apperr.InvalidInput("participant %s already exists", in.ID)
	}

	entry := in.EntryDate
	if in.IsFounder || entry.IsZero() {
		entry = r.DeedDate
	}
	if !r.DeedDate.IsZero() && domain.Before(entry, r.DeedDate) {
		return r, domain.Participant{}, apperr.InvalidInput("entry date %s precedes deed date %s",
			entry.Format(time.DateOnly), r.DeedDate.Format(time.DateOnly))
	}

	origin := in.Purchase
	if in.IsFounder {
		origin = domain.FounderOrigin{}
	} else if origin == nil || origin.Kind() == domain.OriginFounder {
		return r, domain.Participant{}, apperr.InvalidInput("newcomer %s needs a collective or private purchase origin", in.ID)
	}
	if pp, ok := origin.(domain.PrivatePurchase); ok {
		if _, found := r.Find(pp.SellerID); !found {
			return r, domain.Participant{}, apperr.Newf(apperr.CodeNotFound, "seller %s is not on the roster", pp.SellerID)
		}
	}

	p := domain.Participant{
		ID:        in.ID,
		Name:      in.Name,
		IsFounder: in.IsFounder,
		EntryDate: entry,
		Surface:   in.Surface,
		Financing: in.Financing,
		Purchase:  origin,
	}
	out := r.Clone()
	out.Participants = append(out.Participants, p)
	return out, p, nil
}

// RemoveParticipant drops a participant and the lots they hold.
func RemoveParticipant(r Roster, id string) (Roster, error) {
	i := r.index(id)
	if i < 0 {
		return r, apperr.Newf(apperr.CodeNotFound, "participant %s not found", id)
	}
	out := r.Clone()
	out.Participants = append(out.Participants[:i], out.Participants[i+1:]...)
	return out, nil
}

// AttachPortageLot reserves a lot under a founder. The lot's surface is added
// to the founder's quotité basis.
func AttachPortageLot(r Roster, founderID string, lot domain.Lot, opts Options) (Roster, domain.Lot, error) {
	i := r.index(founderID)
	if i < 0 {
		return r, domain.Lot{}, apperr.Newf(apperr.CodeNotFound, "participant %s not found", founderID)
	}
	founder := r.Participants[i]
	if !founder.IsFounder {
		return r, domain.Lot{}, apperr.Newf(apperr.CodePolicyViolation, "only founders may carry portage lots, %s is a newcomer", founderID)
	}
	if n := len(founder.PortageLots()); n >= r.maxPortage() {
		return r, domain.Lot{}, apperr.Newf(apperr.CodePolicyViolation, "founder %s already carries %d portage lots (max %d)", founderID, n, r.maxPortage())
	}
	if lot.Surface <= 0 {
		return r, domain.Lot{}, apperr.InvalidInput("lot surface must be positive, got %v", lot.Surface)
	}
	if lot.OriginalCost != nil {
		c := lot.OriginalCost
		if c.PurchaseShare < 0 || c.RegistrationFees < 0 || c.ConstructionCost < 0 {
			return r, domain.Lot{}, apperr.InvalidInput("lot original cost must not be negative: %+v", *c)
		}
	}
	if lot.ID == "" {
		lot.ID = opts.newID()
	}
	if owner, taken := r.lotOwner(lot.ID); taken {
		return r, domain.Lot{}, apperr.InvalidInput("lot %s is already held by %s", lot.ID, owner)
	}
	if lot.AcquisitionDate.IsZero() {
		lot.AcquisitionDate = r.DeedDate
	}
	lot.IsPortage = true

	out := r.Clone()
	p := &out.Participants[i]
	p.Lots = append(p.Lots, lot)
	p.Surface += lot.Surface
	return out, lot, nil
}

// DetachLot removes a lot from its holder and subtracts its surface.
func DetachLot(r Roster, participantID, lotID string) (Roster, domain.Lot, error) {
	i := r.index(participantID)
	if i < 0 {
		return r, domain.Lot{}, apperr.Newf(apperr.CodeNotFound, "participant %s not found", participantID)
	}
	out := r.Clone()
	p := &out.Participants[i]
	for j, l := range p.Lots {
		if l.ID != lotID {
			continue
		}
		if p.Surface-l.Surface <= 0 {
			return r, domain.Lot{}, apperr.InvalidInput("detaching lot %s would leave %s without surface", lotID, participantID)
		}
		p.Lots = append(p.Lots[:j], p.Lots[j+1:]...)
		p.Surface -= l.Surface
		return out, l, nil
	}
	return r, domain.Lot{}, apperr.Newf(apperr.CodeNotFound, "participant %s holds no lot %s", participantID, lotID)
}

// ResizeLot changes a lot's surface and moves the holder's surface by the
// same delta.
func ResizeLot(r Roster, participantID, lotID string, surface float64) (Roster, error) {
	if surface <= 0 {
		return r, apperr.InvalidInput("lot surface must be positive, got %v", surface)
	}
	i := r.index(participantID)
	if i < 0 {
		return r, apperr.Newf(apperr.CodeNotFound, "participant %s not found", participantID)
	}
	out := r.Clone()
	p := &out.Participants[i]
	for j := range p.Lots {
		if p.Lots[j].ID != lotID {
			continue
		}
		delta := surface - p.Lots[j].Surface
		if p.Surface+delta <= 0 {
			return r, apperr.InvalidInput("resizing lot %s would leave %s without surface", lotID, participantID)
		}
		p.Lots[j].Surface = surface
		p.Surface += delta
		return out, nil
	}
	return r, apperr.Newf(apperr.CodeNotFound, "participant %s holds no lot %s", participantID, lotID)
}

// SaleInput describes a portage lot sold by a founder to a newcomer.
type SaleInput struct {
	SellerID    string
	LotID       string
	BuyerID     string
	BuyerName   string
	SaleDate    time.Time
	AgreedPrice float64
	Financing   domain.Financing
}

// SellPortageLot moves a portage lot from its founder to a new participant
// whose purchase origin names the seller. Lots are never split: the buyer
// takes the whole lot.
func SellPortageLot(r Roster, in SaleInput, opts Options) (Roster, domain.Participant, error) {
	if in.AgreedPrice < 0 {
		return r, domain.Participant{}, apperr.InvalidInput("agreed price must not be negative, got %v", in.AgreedPrice)
	}
	if in.SaleDate.IsZero() {
		return r, domain.Participant{}, apperr.InvalidInput("sale date is required")
	}
	seller, ok := r.Find(in.SellerID)
	if !ok {
		return r, domain.Participant{}, apperr.Newf(apperr.CodeNotFound, "seller %s not found", in.SellerID)
	}
	lot, ok := seller.FindLot(in.LotID)
	if !ok || !lot.IsPortage {
		return r, domain.Participant{}, apperr.Newf(apperr.CodeNotFound, "seller %s holds no portage lot %s", in.SellerID, in.LotID)
	}
	if domain.Before(in.SaleDate, lot.AcquisitionDate) {
		return r, domain.Participant{}, apperr.InvalidInput("sale date %s precedes acquisition %s",
			in.SaleDate.Format(time.DateOnly), lot.AcquisitionDate.Format(time.DateOnly))
	}

	out, _, err := DetachLot(r, in.SellerID, in.LotID)
	if err != nil {
		return r, domain.Participant{}, err
	}
	sold := lot
	if lot.OriginalCost != nil {
		cost := *lot.OriginalCost
		sold.OriginalCost = &cost
	}

	out, buyer, err := AddParticipant(out, NewParticipantInput{
		ID:        in.BuyerID,
		Name:      in.BuyerName,
		EntryDate: in.SaleDate,
		Surface:   lot.Surface,
		Financing: in.Financing,
		Purchase:  domain.PrivatePurchase{SellerID: in.SellerID, LotID: in.LotID, AgreedPrice: in.AgreedPrice, Lot: &sold},
	}, opts)
	if err != nil {
		return r, domain.Participant{}, err
	}

	owned := lot
	owned.IsPortage = false
	owned.AcquisitionDate = in.SaleDate
	owned.OriginalCost = nil
	i := out.index(buyer.ID)
	out.Participants[i].Lots = []domain.Lot{owned}
	return out, out.Participants[i], nil
}
