package renttoown

import (
	"encoding/json"
	"fmt"
	"math"
	"slices"
	"time"

	"github.com/coophabitat/finance-engine/internal/apperr"
	"github.com/coophabitat/finance-engine/internal/governance/fsm"
)

// States of the trial.
const (
	StateTrialActive   fsm.State = "trial_active"
	StateTrialEnding   fsm.State = "trial_ending"
	StateExtensionVote fsm.State = "extension_vote"
	// StateCommunityVote waits for the conversion vote, resolved outside
	// this machine.
	StateCommunityVote fsm.State = "community_vote"
	StateBuyerDeclined fsm.State = "buyer_declined"
)

// Effect kinds.
const (
	EffectTrialEndingNotice  = "trial_ending_notice"
	EffectPaymentRecorded    = "payment_recorded"
	EffectExtensionRequested = "extension_requested"
	EffectExtensionDecided   = "extension_decided"
	EffectPurchaseRequested  = "purchase_requested"
	EffectBuyerDeclined      = "buyer_declined"
)

// Definition is the rent-to-own transition table.
var Definition = newDefinition()

func newDefinition() *fsm.Definition[Agreement] {
	payment := fsm.Transition[Agreement]{Guard: guardPayment, Actions: []fsm.Action[Agreement]{recordPayment}}

	return &fsm.Definition[Agreement]{
		Name:    "rent_to_own",
		Initial: StateTrialActive,
		States: map[fsm.State]fsm.StateNode[Agreement]{
			StateTrialActive: {
				Always: []fsm.Always[Agreement]{{
					Target:  StateTrialEnding,
					Cond:    trialEndingSoon,
					Actions: []fsm.Action[Agreement]{noticeTrialEnding},
				}},
				On: map[fsm.EventType]fsm.Transition[Agreement]{
					EventRecordPayment: payment,
				},
			},
			StateTrialEnding: {
				On: map[fsm.EventType]fsm.Transition[Agreement]{
					EventRecordPayment:        payment,
					EventBuyerRequestPurchase: {Target: StateCommunityVote, Actions: []fsm.Action[Agreement]{requestPurchase}},
					EventBuyerDeclinePurchase: {Target: StateBuyerDeclined, Actions: []fsm.Action[Agreement]{declinePurchase}},
					EventRequestExtension:     {Target: StateExtensionVote, Guard: guardExtension, Actions: []fsm.Action[Agreement]{requestExtension}},
				},
			},
			StateExtensionVote: {
				On: map[fsm.EventType]fsm.Transition[Agreement]{
					EventRecordPayment:     payment,
					EventExtensionApproved: {Target: StateTrialActive, Actions: []fsm.Action[Agreement]{approveExtension}},
					EventExtensionRejected: {Target: StateTrialEnding, Actions: []fsm.Action[Agreement]{rejectExtension}},
				},
			},
			StateCommunityVote: {
				On: map[fsm.EventType]fsm.Transition[Agreement]{
					EventRecordPayment: payment,
				},
			},
			StateBuyerDeclined: {Final: true},
		},
	}
}

// New validates the agreement and starts its machine. The ending-notice
// trigger is evaluated immediately.
func New(a Agreement, now func() time.Time) (*fsm.Machine[Agreement], fsm.Outcome[Agreement], error) {
	if err := a.Validate(); err != nil {
		return nil, fsm.Outcome[Agreement]{}, err
	}
	return fsm.New(Definition, a, now)
}

// Restore resumes a persisted trial.
func Restore(snap fsm.Snapshot[Agreement], now func() time.Time) (*fsm.Machine[Agreement], error) {
	return fsm.Restore(Definition, snap, now)
}

// DecodeEvent builds a typed event from its wire name and JSON payload.
func DecodeEvent(t fsm.EventType, payload []byte) (fsm.Event, error) {
	var ev fsm.Event
	switch t {
	case EventRecordPayment:
		ev = &RecordPayment{}
	case EventBuyerRequestPurchase:
		return BuyerRequestPurchase{}, nil
	case EventBuyerDeclinePurchase:
		ev = &BuyerDeclinePurchase{}
	case EventRequestExtension:
		ev = &RequestExtension{}
	case EventExtensionApproved:
		ev = &ExtensionApproved{}
	case EventExtensionRejected:
		return ExtensionRejected{}, nil
	default:
		return nil, apperr.InvalidInput("unknown rent-to-own event %q", t)
	}
	if len(payload) > 0 {
		if err := json.Unmarshal(payload, ev); err != nil {
			return nil, apperr.Wrap(apperr.CodeInvalidInput, fmt.Sprintf("decode %s", t), err)
		}
	}
	return ev, nil
}

func trialEndingSoon(a Agreement, now time.Time) bool {
	return a.TrialEndDate.Sub(now) <= EndingNoticeWindow
}

func noticeTrialEnding(a Agreement, _ fsm.Event, now time.Time) (Agreement, []fsm.Effect) {
	at := now
	a.EndingNoticeAt = &at
	days := int(math.Ceil(a.TrialEndDate.Sub(now).Hours() / 24))
	return a, []fsm.Effect{{
		Kind: EffectTrialEndingNotice,
		At:   now,
		Data: map[string]any{"buyer_id": a.BuyerID, "trial_end_date": a.TrialEndDate, "days_remaining": days},
	}}
}

func guardPayment(_ Agreement, ev fsm.Event, _ time.Time) error {
	p, ok := fsm.As[RecordPayment](ev)
	if !ok {
		return apperr.InvalidInput("unexpected payload %T", ev)
	}
	if p.Amount <= 0 || math.IsNaN(p.Amount) || math.IsInf(p.Amount, 0) {
		return apperr.InvalidInput("payment amount must be positive, got %v", p.Amount)
	}
	return nil
}

func recordPayment(a Agreement, ev fsm.Event, now time.Time) (Agreement, []fsm.Effect) {
	p, _ := fsm.As[RecordPayment](ev)
	amount := p.Amount
	equity := amount * a.Formula.EquityPercentage
	rent := amount * (1 - a.Formula.EquityPercentage)

	a.TotalPaid += amount
	a.EquityAccumulated += equity
	a.RentPaid += rent
	a.Payments = append(slices.Clone(a.Payments), Payment{Amount: amount, Equity: equity, Rent: rent, At: now})

	return a, []fsm.Effect{{
		Kind: EffectPaymentRecorded,
		At:   now,
		Data: map[string]any{"amount": amount, "equity": equity, "rent": rent, "equity_accumulated": a.EquityAccumulated},
	}}
}

func guardExtension(a Agreement, _ fsm.Event, _ time.Time) error {
	if !a.Formula.AllowExtensions {
		return apperr.New(apperr.CodeMissingConfiguration, "this rent-to-own formula does not permit extensions")
	}
	if a.ExtensionCount >= a.Formula.MaxExtensions {
		return apperr.Newf(apperr.CodeMissingConfiguration, "extension limit reached (%d of %d)", a.ExtensionCount, a.Formula.MaxExtensions)
	}
	return nil
}

func requestExtension(a Agreement, ev fsm.Event, now time.Time) (Agreement, []fsm.Effect) {
	req, _ := fsm.As[RequestExtension](ev)
	a.Extensions = append(slices.Clone(a.Extensions), Extension{
		RequestedAt: now,
		Months:      req.Months,
		Reason:      req.Reason,
		Decision:    DecisionPending,
	})
	return a, []fsm.Effect{{
		Kind: EffectExtensionRequested,
		At:   now,
		Data: map[string]any{"months": req.Months, "reason": req.Reason},
	}}
}

func approveExtension(a Agreement, ev fsm.Event, now time.Time) (Agreement, []fsm.Effect) {
	approval, _ := fsm.As[ExtensionApproved](ev)
	months := approval.Months
	a.Extensions = slices.Clone(a.Extensions)
	if n := len(a.Extensions); n > 0 {
		last := &a.Extensions[n-1]
		if months <= 0 {
			months = last.Months
		}
		at := now
		last.Decision, last.DecidedAt = DecisionApproved, &at
	}
	if months <= 0 {
		months = DefaultExtensionMonths
	}
	a.TrialEndDate = a.TrialEndDate.AddDate(0, months, 0)
	a.ExtensionCount++
	a.EndingNoticeAt = nil
	return a, []fsm.Effect{{
		Kind: EffectExtensionDecided,
		At:   now,
		Data: map[string]any{"decision": DecisionApproved, "months": months, "trial_end_date": a.TrialEndDate},
	}}
}

func rejectExtension(a Agreement, _ fsm.Event, now time.Time) (Agreement, []fsm.Effect) {
	a.Extensions = slices.Clone(a.Extensions)
	if n := len(a.Extensions); n > 0 {
		at := now
		a.Extensions[n-1].Decision, a.Extensions[n-1].DecidedAt = DecisionRejected, &at
	}
	return a, []fsm.Effect{{Kind: EffectExtensionDecided, At: now, Data: map[string]any{"decision": DecisionRejected}}}
}

func requestPurchase(a Agreement, _ fsm.Event, now time.Time) (Agreement, []fsm.Effect) {
	at := now
	a.PurchaseRequestedAt = &at
	a.RemainingBalance = math.Max(a.SalePrice-a.EquityAccumulated, 0)
	return a, []fsm.Effect{{
		Kind: EffectPurchaseRequested,
		At:   now,
		Data: map[string]any{"sale_price": a.SalePrice, "equity_accumulated": a.EquityAccumulated, "remaining_balance": a.RemainingBalance},
	}}
}

func declinePurchase(a Agreement, ev fsm.Event, now time.Time) (Agreement, []fsm.Effect) {
	at := now
	a.DeclinedAt = &at
	decline, _ := fsm.As[BuyerDeclinePurchase](ev)
	a.DeclineReason = decline.Reason
	return a, []fsm.Effect{{
		Kind: EffectBuyerDeclined,
		At:   now,
		Data: map[string]any{"reason": a.DeclineReason, "equity_accumulated": a.EquityAccumulated},
	}}
}
