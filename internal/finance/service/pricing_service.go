// Package service prices project participants from stored project
// snapshots and applies roster changes.
package service

import (
	"context"
	"time"

	"github.com/patrickmn/go-cache"

	"github.com/coophabitat/finance-engine/internal/apperr"
	"github.com/coophabitat/finance-engine/internal/finance/domain"
	"github.com/coophabitat/finance-engine/internal/finance/loan"
	"github.com/coophabitat/finance-engine/internal/finance/pricing"
	"github.com/coophabitat/finance-engine/internal/finance/repository"
	"github.com/coophabitat/finance-engine/internal/finance/roster"
	"github.com/coophabitat/finance-engine/internal/platform/logger"
)

const DefaultCacheExpiration = 10 * time.Minute

// ProjectStore loads and saves project snapshots.
type ProjectStore interface {
	Get(ctx context.Context, id string) (*repository.Project, error)
	Save(ctx context.Context, p *repository.Project) error
}

// Defaults apply to projects that carry no settings of their own.
type Defaults struct {
	Formula        domain.FormulaParams
	MaxPortageLots int
	CacheTTL       time.Duration
	// NewID generates participant and lot ids. Nil uses random UUIDs.
	NewID func() string
	Now   func() time.Time
}

type PricingService struct {
	store    ProjectStore
	cache    *cache.Cache
	defaults Defaults
}

func NewPricingService(store ProjectStore, defaults Defaults) *PricingService {
	if defaults.CacheTTL <= 0 {
		defaults.CacheTTL = DefaultCacheExpiration
	}
	if defaults.MaxPortageLots <= 0 {
		defaults.MaxPortageLots = roster.DefaultMaxPortageLots
	}
	if defaults.Now == nil {
		defaults.Now = time.Now
	}
	return &PricingService{
		store:    store,
		cache:    cache.New(defaults.CacheTTL, 2*defaults.CacheTTL),
		defaults: defaults,
	}
}

// Quote is a participant's full price breakdown. Components that do not
// apply to the participant's purchase origin are nil.
type Quote struct {
	ProjectID      string                   `json:"project_id"`
	ParticipantID  string                   `json:"participant_id"`
	Origin         domain.OriginKind        `json:"origin"`
	AsOf           time.Time                `json:"as_of"`
	Quotite        float64                  `json:"quotite"`
	Newcomer       *pricing.PriceBreakdown  `json:"newcomer,omitempty"`
	Redistribution *pricing.Redistribution  `json:"redistribution,omitempty"`
	Resale         *pricing.ResaleBreakdown `json:"resale,omitempty"`
	Loan           *loan.Plan               `json:"loan,omitempty"`
}

// Project returns a project snapshot, served from cache when fresh. The
// returned value must not be modified.
func (s *PricingService) Project(ctx context.Context, id string) (*repository.Project, error) {
	if cached, found := s.cache.Get(id); found {
		return cached.(*repository.Project), nil
	}

	p, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	s.cache.Set(id, p, cache.DefaultExpiration)
	return p, nil
}

// Invalidate drops a project from the cache.
func (s *PricingService) Invalidate(id string) {
	s.cache.Delete(id)
}

// Quote prices one participant of a stored project.
func (s *PricingService) Quote(ctx context.Context, projectID, participantID string, asOf time.Time) (*Quote, error) {
	log := logger.New(logger.WithCorrelationID(ctx, projectID))

	p, err := s.Project(ctx, projectID)
	if err != nil {
		log.LogErrorf("quote", "load project: %v", err)
		return nil, err
	}
	q, err := s.QuoteProject(p, participantID, asOf)
	if err != nil {
		log.LogWarnf("quote", "participant %s: %v", participantID, err)
		return nil, err
	}
	log.LogInfof("quote", "participant %s priced as %s", participantID, q.Origin)
	return q, nil
}

// QuoteProject prices one participant of an in-memory project. A zero asOf
// means now.
func (s *PricingService) QuoteProject(p *repository.Project, participantID string, asOf time.Time) (*Quote, error) {
	if asOf.IsZero() {
		asOf = s.defaults.Now()
	}
	formula := s.formula(p)
	if err := formula.Validate(); err != nil {
		return nil, err
	}

	r := p.Roster()
	part, ok := r.Find(participantID)
	if !ok {
		return nil, apperr.Newf(apperr.CodeNotFound, "participant %s not found in project %s", participantID, p.ID)
	}

	quotites, err := pricing.QuotiteAt(r.Participants, asOf)
	if err != nil {
		return nil, err
	}

	q := &Quote{
		ProjectID:     p.ID,
		ParticipantID: part.ID,
		Origin:        part.Origin().Kind(),
		AsOf:          asOf,
		Quotite:       quotites[part.ID],
	}

	switch origin := part.Origin().(type) {
	case domain.CollectivePurchase:
		nb, err := pricing.NewcomerPurchasePrice(s.newcomerInput(p, formula, others(r.Participants, part.ID), part.Surface, part.EntryDate))
		if err != nil {
			return nil, err
		}
		q.Newcomer = &nb

		proceeds := origin.AgreedPrice
		if proceeds <= 0 {
			proceeds = nb.TotalPrice
		}
		red, err := pricing.CollectiveResaleRedistribution(pricing.RedistributionInput{
			SaleProceeds:     proceeds,
			ReservesSharePct: formula.ReservesSharePct,
			Buyer:            part,
			Participants:     r.Participants,
			SaleDate:         part.EntryDate,
		})
		if err != nil {
			return nil, err
		}
		q.Redistribution = &red
	case domain.PrivatePurchase:
		seller, ok := r.Find(origin.SellerID)
		if !ok && origin.Lot == nil {
			return nil, apperr.Newf(apperr.CodeNotFound, "seller %s not found in project %s", origin.SellerID, p.ID)
		}
		if !ok {
			// the seller has left; the recorded lot is the price base
			seller = domain.Participant{ID: origin.SellerID}
		}
		resale, err := pricing.PrivateResalePrice(pricing.PrivateResaleInput{
			Buyer:    part,
			Seller:   seller,
			DeedDate: p.DeedDate,
			Formula:  formula,
			Roster:   r.Participants,
			Carrying: p.Carrying,
		})
		if err != nil {
			return nil, err
		}
		q.Resale = resale
	}

	if costs, ok := p.Costs[part.ID]; ok {
		plan, err := loan.Allocate(costs, part.Financing)
		if err != nil {
			return nil, err
		}
		q.Loan = &plan
	}
	return q, nil
}

// Quotites returns every participant's quotité at asOf.
func (s *PricingService) Quotites(ctx context.Context, projectID string, asOf time.Time) (map[string]float64, error) {
	p, err := s.Project(ctx, projectID)
	if err != nil {
		return nil, err
	}
	if asOf.IsZero() {
		asOf = s.defaults.Now()
	}
	return pricing.QuotiteAt(p.Participants, asOf)
}

// QuoteNewcomer prices a prospective newcomer who is not yet on the roster.
func (s *PricingService) QuoteNewcomer(ctx context.Context, projectID string, surface float64, entryDate time.Time) (pricing.PriceBreakdown, error) {
	p, err := s.Project(ctx, projectID)
	if err != nil {
		return pricing.PriceBreakdown{}, err
	}
	return pricing.NewcomerPurchasePrice(s.newcomerInput(p, s.formula(p), p.Participants, surface, entryDate))
}

// UpdateRoster applies fn to the project's current roster and stores the
// result. The snapshot is read from the store, not the cache.
func (s *PricingService) UpdateRoster(ctx context.Context, projectID string, fn func(roster.Roster) (roster.Roster, error)) (*repository.Project, error) {
	return s.updateProject(ctx, projectID, func(_ *repository.Project, r roster.Roster) (roster.Roster, error) {
		return fn(r)
	})
}

func (s *PricingService) updateProject(ctx context.Context, projectID string, fn func(*repository.Project, roster.Roster) (roster.Roster, error)) (*repository.Project, error) {
	log := logger.New(logger.WithCorrelationID(ctx, projectID))

	p, err := s.store.Get(ctx, projectID)
	if err != nil {
		return nil, err
	}
	r := p.Roster()
	if r.MaxPortageLots <= 0 {
		r.MaxPortageLots = s.defaults.MaxPortageLots
	}

	next, err := fn(p, r)
	if err != nil {
		log.LogWarnf("update_roster", "rejected: %v", err)
		return nil, err
	}

	updated := p.WithRoster(next)
	if err := s.store.Save(ctx, &updated); err != nil {
		s.Invalidate(projectID)
		log.LogErrorf("update_roster", "save: %v", err)
		return nil, err
	}
	s.cache.Set(projectID, &updated, cache.DefaultExpiration)
	log.LogInfof("update_roster", "project %s now at version %d with %d participants", projectID, updated.Version, len(updated.Participants))
	return &updated, nil
}

// AddParticipant adds a founder or newcomer to a stored project.
func (s *PricingService) AddParticipant(ctx context.Context, projectID string, in roster.NewParticipantInput) (domain.Participant, error) {
	var added domain.Participant
	_, err := s.UpdateRoster(ctx, projectID, func(r roster.Roster) (roster.Roster, error) {
		next, part, err := roster.AddParticipant(r, in, s.rosterOptions())
		added = part
		return next, err
	})
	return added, err
}

// AttachPortageLot reserves a lot for a founder of a stored project.
func (s *PricingService) AttachPortageLot(ctx context.Context, projectID, founderID string, lot domain.Lot) (domain.Lot, error) {
	var attached domain.Lot
	_, err := s.UpdateRoster(ctx, projectID, func(r roster.Roster) (roster.Roster, error) {
		next, l, err := roster.AttachPortageLot(r, founderID, lot, s.rosterOptions())
		attached = l
		return next, err
	})
	return attached, err
}

// SellPortageLot prices a founder's portage lot for a new buyer, then moves
// the lot to the buyer. A zero agreed price is replaced by the computed one.
func (s *PricingService) SellPortageLot(ctx context.Context, projectID string, in roster.SaleInput) (*pricing.ResaleBreakdown, domain.Participant, error) {
	var (
		resale *pricing.ResaleBreakdown
		buyer  domain.Participant
	)
	_, err := s.updateProject(ctx, projectID, func(p *repository.Project, r roster.Roster) (roster.Roster, error) {
		seller, ok := r.Find(in.SellerID)
		if !ok {
			return r, apperr.Newf(apperr.CodeNotFound, "seller %s not found", in.SellerID)
		}
		lot, ok := seller.FindLot(in.LotID)
		if !ok {
			return r, apperr.Newf(apperr.CodeNotFound, "seller %s holds no lot %s", in.SellerID, in.LotID)
		}

		prospect := domain.Participant{
			ID:        "prospective-buyer",
			EntryDate: in.SaleDate,
			Surface:   lot.Surface,
			Purchase:  domain.PrivatePurchase{SellerID: seller.ID, LotID: lot.ID, Lot: &lot},
		}
		var err error
		resale, err = pricing.PrivateResalePrice(pricing.PrivateResaleInput{
			Buyer:    prospect,
			Seller:   seller,
			DeedDate: r.DeedDate,
			Formula:  s.formula(p),
			Roster:   r.Participants,
			Carrying: p.Carrying,
		})
		if err != nil {
			return r, err
		}
		if in.AgreedPrice <= 0 {
			in.AgreedPrice = resale.TotalPrice
		}

		next, b, err := roster.SellPortageLot(r, in, s.rosterOptions())
		buyer = b
		return next, err
	})
	if err != nil {
		return nil, domain.Participant{}, err
	}
	return resale, buyer, nil
}

func (s *PricingService) formula(p *repository.Project) domain.FormulaParams {
	if p.Formula != nil {
		return *p.Formula
	}
	return s.defaults.Formula
}

func (s *PricingService) rosterOptions() roster.Options {
	return roster.Options{NewID: s.defaults.NewID}
}

func (s *PricingService) newcomerInput(p *repository.Project, formula domain.FormulaParams, existing []domain.Participant, surface float64, entry time.Time) pricing.NewcomerInput {
	return pricing.NewcomerInput{
		Surface:             surface,
		ExistingRoster:      existing,
		TotalProjectCost:    p.TotalProjectCost,
		DeedDate:            p.DeedDate,
		EntryDate:           entry,
		Formula:             formula,
		TotalCarryingCosts:  p.TotalCarryingCosts,
		RenovationStartDate: p.RenovationStartDate,
		RenovationCost:      p.RenovationCost,
	}
}

func others(participants []domain.Participant, id string) []domain.Participant {
	out := make([]domain.Participant, 0, len(participants))
	for _, p := range participants {
		if p.ID != id {
			out = append(out, p)
		}
	}
	return out
}
