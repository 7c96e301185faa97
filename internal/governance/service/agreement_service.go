// Package service runs governance agreements: it serializes events per
// agreement, reduces them against the stored snapshot, and persists and
// publishes the result.
package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/coophabitat/finance-engine/internal/apperr"
	"github.com/coophabitat/finance-engine/internal/governance/fsm"
	govrepo "github.com/coophabitat/finance-engine/internal/governance/repository"
	"github.com/coophabitat/finance-engine/internal/governance/renttoown"
	"github.com/coophabitat/finance-engine/internal/governance/sharedspace"
	"github.com/coophabitat/finance-engine/internal/platform/logger"
)

// AgreementStore persists agreement snapshots and their effects.
type AgreementStore interface {
	SaveTransition(ctx context.Context, rec *govrepo.AgreementRecord, from, to fsm.State, effects []fsm.Effect) error
	Get(ctx context.Context, id string) (*govrepo.AgreementRecord, error)
	ListOpen(ctx context.Context, kind govrepo.Kind) ([]govrepo.AgreementRecord, error)
}

// Locker serializes work on one agreement.
type Locker interface {
	WithLock(ctx context.Context, agreementID string, fn func(context.Context) error) error
}

// TransitionPublisher announces persisted transitions.
type TransitionPublisher interface {
	Publish(ctx context.Context, tr govrepo.Transition) error
}

// Options configures an AgreementService. Zero values use the wall clock
// and random UUIDs.
type Options struct {
	Now   func() time.Time
	NewID func() string
}

// AgreementService drives rent-to-own and shared-space agreements.
type AgreementService struct {
	store     AgreementStore
	locker    Locker
	publisher TransitionPublisher
	now       func() time.Time
	newID     func() string
}

// NewAgreementService creates a new AgreementService
func NewAgreementService(store AgreementStore, locker Locker, publisher TransitionPublisher, opts Options) *AgreementService {
	s := &AgreementService{
		store:     store,
		locker:    locker,
		publisher: publisher,
		now:       opts.Now,
		newID:     opts.NewID,
	}
	if s.now == nil {
		s.now = func() time.Time { return time.Now().UTC() }
	}
	if s.newID == nil {
		s.newID = uuid.NewString
	}
	return s
}

// Result describes an agreement after an operation.
type Result struct {
	AgreementID string
	Kind        govrepo.Kind
	Previous    fsm.State
	State       fsm.State
	Final       bool
	Handled     bool
	// Rejection is set when a guard vetoed the event.
	Rejection error
	Effects   []fsm.Effect
	Version   int64
}

// Changed reports whether the state moved.
func (r Result) Changed() bool {
	return r.Previous != r.State
}

// CreateRentToOwn starts a rent-to-own trial and stores it.
func (s *AgreementService) CreateRentToOwn(ctx context.Context, a renttoown.Agreement) (*Result, error) {
	if a.ID == "" {
		a.ID = s.newID()
	}
	log := logger.New(logger.WithCorrelationID(ctx, a.ID))

	_, out, err := renttoown.New(a, s.now)
	if err != nil {
		log.LogWarnf("create_rent_to_own", "invalid agreement: %v", err)
		return nil, err
	}
	res, err := create(ctx, s, govrepo.KindRentToOwn, a.ID, a.ProjectID, renttoown.Definition, out, rentToOwnTotals)
	if err != nil {
		log.LogError("create_rent_to_own", err)
		return nil, err
	}
	log.LogInfof("create_rent_to_own", "trial %s started in %s", a.ID, res.State)
	return res, nil
}

// CreateSharedSpace starts a shared-space usage agreement and stores it.
func (s *AgreementService) CreateSharedSpace(ctx context.Context, a sharedspace.Agreement) (*Result, error) {
	if a.ID == "" {
		a.ID = s.newID()
	}
	log := logger.New(logger.WithCorrelationID(ctx, a.ID))

	_, out, err := sharedspace.New(a, s.now)
	if err != nil {
		log.LogWarnf("create_shared_space", "invalid agreement: %v", err)
		return nil, err
	}
	res, err := create(ctx, s, govrepo.KindSharedSpace, a.ID, a.ProjectID, sharedspace.Definition, out, sharedSpaceTotals)
	if err != nil {
		log.LogError("create_shared_space", err)
		return nil, err
	}
	log.LogInfof("create_shared_space", "agreement %s started in %s", a.ID, res.State)
	return res, nil
}

// Dispatch delivers one event to a stored agreement. The payload is the
// event's JSON body.
func (s *AgreementService) Dispatch(ctx context.Context, agreementID string, eventType fsm.EventType, payload []byte) (*Result, error) {
	start := time.Now()
	ctx = logger.WithCorrelationID(ctx, agreementID)
	log := logger.New(ctx)

	var res *Result
	err := s.locker.WithLock(ctx, agreementID, func(ctx context.Context) error {
		rec, err := s.store.Get(ctx, agreementID)
		if err != nil {
			return err
		}
		switch rec.Kind {
		case govrepo.KindRentToOwn:
			res, err = dispatch(ctx, s, rec, renttoown.Definition, renttoown.DecodeEvent, eventType, payload, rentToOwnTotals)
		case govrepo.KindSharedSpace:
			res, err = dispatch(ctx, s, rec, sharedspace.Definition, sharedspace.DecodeEvent, eventType, payload, sharedSpaceTotals)
		default:
			err = apperr.InvalidInput("agreement %s has unknown kind %q", agreementID, rec.Kind)
		}
		return err
	})
	recordDispatch(time.Since(start), err)

	if err != nil {
		log.LogErrorf("dispatch", "%s failed: %v", eventType, err)
		return nil, err
	}
	switch {
	case res.Rejection != nil:
		recordRejected()
		log.LogWarnf("dispatch", "%s rejected in %s: %v", eventType, res.State, res.Rejection)
	case !res.Handled:
		recordIgnored()
		log.LogInfof("dispatch", "%s ignored in %s", eventType, res.State)
	default:
		log.LogInfof("dispatch", "%s handled: %s -> %s", eventType, res.Previous, res.State)
	}
	return res, nil
}

// Get loads an agreement's current state without changing it.
func (s *AgreementService) Get(ctx context.Context, agreementID string) (*govrepo.AgreementRecord, error) {
	return s.store.Get(ctx, agreementID)
}

// TickReport summarizes a tick pass.
type TickReport struct {
	Checked int
	Changed int
	Skipped int
	Failed  int
}

// TickAll re-evaluates time triggers on every open rent-to-own trial.
// Agreements whose mailbox is busy are skipped until the next pass.
func (s *AgreementService) TickAll(ctx context.Context) (TickReport, error) {
	log := logger.New(ctx)
	var report TickReport

	recs, err := s.store.ListOpen(ctx, govrepo.KindRentToOwn)
	if err != nil {
		log.LogError("tick_all", err)
		return report, err
	}

	for _, open := range recs {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		report.Checked++
		recordTick()

		var res *Result
		err := s.locker.WithLock(ctx, open.ID, func(ctx context.Context) error {
			rec, err := s.store.Get(ctx, open.ID)
			if err != nil {
				return err
			}
			res, err = tick(ctx, s, rec, renttoown.Definition, rentToOwnTotals)
			return err
		})
		switch {
		case errors.Is(err, govrepo.ErrMailboxBusy):
			report.Skipped++
			recordBusySkip()
		case err != nil:
			report.Failed++
			log.LogErrorf("tick_all", "agreement %s: %v", open.ID, err)
		case res.Changed():
			report.Changed++
			log.LogInfof("tick_all", "agreement %s: %s -> %s", open.ID, res.Previous, res.State)
		}
	}

	log.LogInfof("tick_all", "checked=%d changed=%d skipped=%d failed=%d",
		report.Checked, report.Changed, report.Skipped, report.Failed)
	return report, nil
}

type totals struct {
	paid, due, equity float64
}

func rentToOwnTotals(a renttoown.Agreement) totals {
	return totals{paid: a.TotalPaid, due: a.SalePrice, equity: a.EquityAccumulated}
}

func sharedSpaceTotals(a sharedspace.Agreement) totals {
	return totals{paid: a.TotalPaid, due: a.TotalFees}
}

func create[C any](ctx context.Context, s *AgreementService, kind govrepo.Kind, id, projectID string, def *fsm.Definition[C], out fsm.Outcome[C], sum func(C) totals) (*Result, error) {
	rec := &govrepo.AgreementRecord{ID: id, Kind: kind, ProjectID: projectID}
	return persist(ctx, s, rec, def, out, sum, "")
}

func dispatch[C any](ctx context.Context, s *AgreementService, rec *govrepo.AgreementRecord, def *fsm.Definition[C],
	decode func(fsm.EventType, []byte) (fsm.Event, error), eventType fsm.EventType, payload []byte, sum func(C) totals) (*Result, error) {
	snap, err := decodeSnapshot[C](rec)
	if err != nil {
		return nil, err
	}
	ev, err := decode(eventType, payload)
	if err != nil {
		return nil, err
	}
	out, err := fsm.Reduce(def, snap, ev, s.now())
	if err != nil {
		return nil, err
	}
	if !out.Handled && !out.Changed() {
		return resultOf(rec, def, out), nil
	}
	return persist(ctx, s, rec, def, out, sum, string(eventType))
}

func tick[C any](ctx context.Context, s *AgreementService, rec *govrepo.AgreementRecord, def *fsm.Definition[C], sum func(C) totals) (*Result, error) {
	snap, err := decodeSnapshot[C](rec)
	if err != nil {
		return nil, err
	}
	out, err := fsm.Tick(def, snap, s.now())
	if err != nil {
		return nil, err
	}
	if !out.Changed() && len(out.Effects) == 0 {
		return resultOf(rec, def, out), nil
	}
	return persist(ctx, s, rec, def, out, sum, "")
}

func decodeSnapshot[C any](rec *govrepo.AgreementRecord) (fsm.Snapshot[C], error) {
	var snap fsm.Snapshot[C]
	if err := json.Unmarshal(rec.Snapshot, &snap); err != nil {
		return snap, fmt.Errorf("failed to unmarshal snapshot of %s: %w", rec.ID, err)
	}
	return snap, nil
}

func resultOf[C any](rec *govrepo.AgreementRecord, def *fsm.Definition[C], out fsm.Outcome[C]) *Result {
	return &Result{
		AgreementID: rec.ID,
		Kind:        rec.Kind,
		Previous:    out.Previous,
		State:       out.Snapshot.State,
		Final:       def.IsFinal(out.Snapshot),
		Handled:     out.Handled,
		Rejection:   out.Rejection,
		Effects:     out.Effects,
		Version:     rec.Version,
	}
}

// persist saves the outcome, then records and publishes its effects. A
// publish failure is logged but does not fail the operation.
func persist[C any](ctx context.Context, s *AgreementService, rec *govrepo.AgreementRecord, def *fsm.Definition[C], out fsm.Outcome[C], sum func(C) totals, event string) (*Result, error) {
	data, err := json.Marshal(out.Snapshot)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal snapshot: %w", err)
	}

	t := sum(out.Snapshot.Context)
	now := s.now()
	rec.State = out.Snapshot.State
	rec.Final = def.IsFinal(out.Snapshot)
	rec.Snapshot = data
	rec.TotalPaid = govrepo.Money(t.paid)
	rec.TotalDue = govrepo.Money(t.due)
	rec.Equity = govrepo.Money(t.equity)
	rec.LastEventAt = &now

	if err := s.store.SaveTransition(ctx, rec, out.Previous, out.Snapshot.State, out.Effects); err != nil {
		return nil, err
	}
	if out.Changed() {
		recordTransition()
	}

	res := resultOf(rec, def, out)
	if s.publisher != nil {
		tr := govrepo.Transition{
			AgreementID: rec.ID,
			Kind:        rec.Kind,
			From:        out.Previous,
			To:          out.Snapshot.State,
			Event:       event,
			Effects:     out.Effects,
			At:          now,
		}
		if err := s.publisher.Publish(ctx, tr); err != nil {
			logger.New(ctx).LogWarnf("publish", "agreement %s: %v", rec.ID, err)
		}
	}
	return res, nil
}
