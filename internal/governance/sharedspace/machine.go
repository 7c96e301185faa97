package sharedspace

import (
	"maps"
	"slices"
	"strings"
	"time"

	"github.com/coophabitat/finance-engine/internal/apperr"
	"github.com/coophabitat/finance-engine/internal/governance/fsm"
	"github.com/coophabitat/finance-engine/internal/voting"
)

// States of a usage agreement. tracking_usage and quota_exceeded are
// children of active.
const (
	StateDeterminingApprovalPath fsm.State = "determining_approval_path"
	StateAwaitingVote            fsm.State = "awaiting_vote"
	StateVoteDecision            fsm.State = "vote_decision"
	StateActive                  fsm.State = "active"
	StateTrackingUsage           fsm.State = "tracking_usage"
	StateQuotaExceeded           fsm.State = "quota_exceeded"
	StateSuspended               fsm.State = "suspended"
	StateRejected                fsm.State = "rejected"
	StateEnded                   fsm.State = "ended"
)

// Effect kinds.
const (
	EffectVoteRequested      = "vote_requested"
	EffectVoteRecorded       = "vote_recorded"
	EffectApproved           = "agreement_approved"
	EffectRejected           = "agreement_rejected"
	EffectUsageRecorded      = "usage_recorded"
	EffectQuotaExceeded      = "quota_exceeded"
	EffectQuotaReset         = "quota_reset"
	EffectPaymentRecorded    = "payment_recorded"
	EffectAlertRaised        = "alert_raised"
	EffectRenewed            = "agreement_renewed"
	EffectSuspended          = "agreement_suspended"
	EffectResumed            = "agreement_resumed"
	EffectEnded              = "agreement_ended"
	EffectCommercialProposed = "commercial_transition_proposed"
)

const (
	alertKindQuotaExceeded    = "quota_exceeded"
	alertKindManual           = "manual"
	rejectionReasonVoteFailed = "community vote did not pass"
)

// MinVoters is the quorum of a usage vote.
const MinVoters = 2

// Definition is the shared-space transition table.
var Definition = newDefinition()

func newDefinition() *fsm.Definition[Agreement] {
	payment := fsm.Transition[Agreement]{Guard: guardPayment, Actions: []fsm.Action[Agreement]{recordPayment}}
	end := fsm.Transition[Agreement]{Target: StateEnded, Actions: []fsm.Action[Agreement]{endAgreement}}

	return &fsm.Definition[Agreement]{
		Name:    "shared_space",
		Initial: StateDeterminingApprovalPath,
		States: map[fsm.State]fsm.StateNode[Agreement]{
			StateDeterminingApprovalPath: {
				Always: []fsm.Always[Agreement]{
					{
						Target:  StateAwaitingVote,
						Cond:    func(a Agreement, _ time.Time) bool { return a.Terms.RequiresVote() },
						Actions: []fsm.Action[Agreement]{requestVote},
					},
					{Target: StateActive, Actions: []fsm.Action[Agreement]{approve}},
				},
			},
			StateAwaitingVote: {
				On: map[fsm.EventType]fsm.Transition[Agreement]{
					EventVoteOnUsage:    {Guard: guardVote, Actions: []fsm.Action[Agreement]{recordVote}},
					EventVotingComplete: {Target: StateVoteDecision, Actions: []fsm.Action[Agreement]{tallyVotes}},
					EventRejectProposal: {Target: StateRejected, Actions: []fsm.Action[Agreement]{rejectProposal}},
				},
			},
			StateVoteDecision: {
				Always: []fsm.Always[Agreement]{
					{
						Target:  StateActive,
						Cond:    func(a Agreement, _ time.Time) bool { return a.VoteResult != nil && a.VoteResult.Passed() },
						Actions: []fsm.Action[Agreement]{approve},
					},
					{Target: StateRejected, Actions: []fsm.Action[Agreement]{rejectByVote}},
				},
			},
			StateActive: {
				Initial: StateTrackingUsage,
				On: map[fsm.EventType]fsm.Transition[Agreement]{
					EventRecordUsage:      {Guard: guardUsage, Actions: []fsm.Action[Agreement]{recordUsage}},
					EventRecordPayment:    payment,
					EventRaiseAlert:       {Guard: guardAlert, Actions: []fsm.Action[Agreement]{raiseAlert}},
					EventRenewAgreement:   {Guard: guardRenewal, Actions: []fsm.Action[Agreement]{renew}},
					EventSuspendAgreement: {Target: StateSuspended, Actions: []fsm.Action[Agreement]{suspend}},
					EventEndAgreement:     end,
				},
			},
			StateTrackingUsage: {
				Parent: StateActive,
				Always: []fsm.Always[Agreement]{{
					Target: StateQuotaExceeded,
					Cond:   func(a Agreement, _ time.Time) bool { return a.QuotaExceeded },
				}},
			},
			StateQuotaExceeded: {
				Parent: StateActive,
				On: map[fsm.EventType]fsm.Transition[Agreement]{
					EventResetAnnualQuota:       {Target: StateTrackingUsage, Actions: []fsm.Action[Agreement]{resetQuota}},
					EventTransitionToCommercial: {Target: StateAwaitingVote, Guard: guardCommercial, Actions: []fsm.Action[Agreement]{proposeCommercial}},
				},
			},
			StateSuspended: {
				On: map[fsm.EventType]fsm.Transition[Agreement]{
					EventResumeAgreement: {Target: StateActive, Actions: []fsm.Action[Agreement]{resume}},
					EventRecordPayment:   payment,
					EventEndAgreement:    end,
				},
			},
			StateRejected: {Final: true},
			StateEnded:    {Final: true},
		},
	}
}

// New validates the agreement and starts its machine, which settles the
// approval path immediately.
func New(a Agreement, now func() time.Time) (*fsm.Machine[Agreement], fsm.Outcome[Agreement], error) {
	if err := a.Validate(); err != nil {
		return nil, fsm.Outcome[Agreement]{}, err
	}
	return fsm.New(Definition, a, now)
}

// Restore resumes a persisted agreement.
func Restore(snap fsm.Snapshot[Agreement], now func() time.Time) (*fsm.Machine[Agreement], error) {
	return fsm.Restore(Definition, snap, now)
}

func effect(kind string, now time.Time, data map[string]any) []fsm.Effect {
	return []fsm.Effect{{Kind: kind, At: now, Data: data}}
}

func requestVote(a Agreement, _ fsm.Event, now time.Time) (Agreement, []fsm.Effect) {
	return a, effect(EffectVoteRequested, now, map[string]any{"model": a.Terms.Model, "usage_type": a.Terms.UsageType})
}

func approve(a Agreement, _ fsm.Event, now time.Time) (Agreement, []fsm.Effect) {
	a.Terms.Approved = true
	return a, effect(EffectApproved, now, map[string]any{"model": a.Terms.Model})
}

func guardVote(a Agreement, ev fsm.Event, _ time.Time) error {
	v, ok := fsm.As[VoteOnUsage](ev)
	if !ok {
		return apperr.InvalidInput("unexpected payload %T", ev)
	}
	if strings.TrimSpace(v.ParticipantID) == "" {
		return apperr.InvalidInput("voter is required")
	}
	if !v.Vote.Valid() {
		return apperr.InvalidInput("unknown vote %q", v.Vote)
	}
	if v.Quotite < 0 {
		return apperr.InvalidInput("quotité must not be negative, got %v", v.Quotite)
	}
	if _, voted := a.Votes[v.ParticipantID]; voted {
		return apperr.Newf(apperr.CodePolicyViolation, "participant %s already voted", v.ParticipantID)
	}
	return nil
}

func recordVote(a Agreement, ev fsm.Event, now time.Time) (Agreement, []fsm.Effect) {
	v, _ := fsm.As[VoteOnUsage](ev)
	votes := maps.Clone(a.Votes)
	if votes == nil {
		votes = map[string]voting.Ballot{}
	}
	votes[v.ParticipantID] = voting.Ballot{Vote: v.Vote, Quotite: v.Quotite}
	a.Votes = votes
	return a, effect(EffectVoteRecorded, now, map[string]any{"participant_id": v.ParticipantID, "vote": v.Vote})
}

// usageVoteRules: quorum is MinVoters ballots, majority is more votes for
// than against. Abstentions count towards quorum only.
var usageVoteRules = voting.Rules{
	Method:        voting.MethodOnePersonOneVote,
	QuorumPct:     100,
	TotalEligible: MinVoters,
	MajorityPct:   50,
}

func tallyVotes(a Agreement, _ fsm.Event, _ time.Time) (Agreement, []fsm.Effect) {
	r, err := voting.Tally(a.Votes, usageVoteRules)
	if err != nil {
		r = voting.Result{Method: usageVoteRules.Method}
	}
	decisive, err := voting.Tally(withoutAbstentions(a.Votes), usageVoteRules)
	r.MajorityReached = err == nil && decisive.MajorityReached
	a.VoteResult = &r
	return a, nil
}

func withoutAbstentions(ballots map[string]voting.Ballot) map[string]voting.Ballot {
	out := make(map[string]voting.Ballot, len(ballots))
	for voter, b := range ballots {
		if b.Vote != voting.VoteAbstain {
			out[voter] = b
		}
	}
	return out
}

func rejectProposal(a Agreement, ev fsm.Event, now time.Time) (Agreement, []fsm.Effect) {
	rp, _ := fsm.As[RejectProposal](ev)
	a.RejectionReason = rp.Reason
	return a, effect(EffectRejected, now, map[string]any{"reason": rp.Reason})
}

func rejectByVote(a Agreement, _ fsm.Event, now time.Time) (Agreement, []fsm.Effect) {
	a.RejectionReason = rejectionReasonVoteFailed
	data := map[string]any{"reason": a.RejectionReason}
	if a.VoteResult != nil {
		data["votes_for"] = a.VoteResult.VotesFor
		data["votes_against"] = a.VoteResult.VotesAgainst
	}
	return a, effect(EffectRejected, now, data)
}

func guardUsage(a Agreement, ev fsm.Event, _ time.Time) error {
	u, ok := fsm.As[RecordUsage](ev)
	if !ok {
		return apperr.InvalidInput("unexpected payload %T", ev)
	}
	days, err := UsageDays(u.StartDate, u.EndDate)
	if err != nil {
		return err
	}
	_, err = ComputeFee(a.Terms, u.UsageType, days, 0)
	return err
}

func (a Agreement) daysUsed(u UsageType) int {
	if u == UsageProfessional {
		return a.ProfessionalDaysUsed
	}
	return a.PersonalDaysUsed
}

func recordUsage(a Agreement, ev fsm.Event, now time.Time) (Agreement, []fsm.Effect) {
	u, _ := fsm.As[RecordUsage](ev)
	days, _ := UsageDays(u.StartDate, u.EndDate)
	fee, _ := ComputeFee(a.Terms, u.UsageType, days, a.daysUsed(u.UsageType))

	rec := UsageRecord{
		StartDate:  u.StartDate,
		EndDate:    u.EndDate,
		UsageType:  u.UsageType,
		Days:       fee.Days,
		QuotaDays:  fee.QuotaDays,
		BeyondDays: fee.BeyondDays,
		Fee:        fee.Amount,
		RecordedAt: now,
	}
	a.Usage = append(slices.Clone(a.Usage), rec)
	if u.UsageType == UsageProfessional {
		a.ProfessionalDaysUsed += days
	} else {
		a.PersonalDaysUsed += days
	}
	a.TotalFees += fee.Amount

	effects := effect(EffectUsageRecorded, now, map[string]any{"days": days, "fee": fee.Amount, "usage_type": u.UsageType})
	if a.Terms.Model == ModelQuota && fee.BeyondDays > 0 {
		a.QuotaExceeded = true
		msg := "annual " + string(u.UsageType) + " quota exceeded"
		a.Alerts = append(slices.Clone(a.Alerts), Alert{Kind: alertKindQuotaExceeded, Message: msg, At: now})
		effects = append(effects, effect(EffectQuotaExceeded, now, map[string]any{
			"usage_type": u.UsageType, "beyond_days": fee.BeyondDays, "days_used": a.daysUsed(u.UsageType),
		})...)
	}
	return a, effects
}

func guardPayment(_ Agreement, ev fsm.Event, _ time.Time) error {
	p, ok := fsm.As[RecordPayment](ev)
	if !ok {
		return apperr.InvalidInput("unexpected payload %T", ev)
	}
	if p.Amount <= 0 {
		return apperr.InvalidInput("payment amount must be positive, got %v", p.Amount)
	}
	return nil
}

func recordPayment(a Agreement, ev fsm.Event, now time.Time) (Agreement, []fsm.Effect) {
	p, _ := fsm.As[RecordPayment](ev)
	a.TotalPaid += p.Amount
	a.Payments = append(slices.Clone(a.Payments), Payment{Amount: p.Amount, At: now})
	return a, effect(EffectPaymentRecorded, now, map[string]any{"amount": p.Amount, "outstanding": a.OutstandingBalance()})
}

func guardAlert(_ Agreement, ev fsm.Event, _ time.Time) error {
	al, ok := fsm.As[RaiseAlert](ev)
	if !ok || strings.TrimSpace(al.Message) == "" {
		return apperr.InvalidInput("alert message is required")
	}
	return nil
}

func raiseAlert(a Agreement, ev fsm.Event, now time.Time) (Agreement, []fsm.Effect) {
	al, _ := fsm.As[RaiseAlert](ev)
	a.Alerts = append(slices.Clone(a.Alerts), Alert{Kind: alertKindManual, Message: al.Message, At: now})
	return a, effect(EffectAlertRaised, now, map[string]any{"message": al.Message})
}

func guardRenewal(a Agreement, ev fsm.Event, _ time.Time) error {
	r, ok := fsm.As[RenewAgreement](ev)
	if !ok || r.EndDate.IsZero() {
		return apperr.InvalidInput("renewal end date is required")
	}
	if !r.EndDate.After(a.StartDate) || (!a.EndDate.IsZero() && !r.EndDate.After(a.EndDate)) {
		return apperr.InvalidInput("renewal must extend the agreement beyond %s", a.EndDate.Format(time.DateOnly))
	}
	return nil
}

func renew(a Agreement, ev fsm.Event, now time.Time) (Agreement, []fsm.Effect) {
	r, _ := fsm.As[RenewAgreement](ev)
	a.EndDate = r.EndDate
	a.RenewalCount++
	return a, effect(EffectRenewed, now, map[string]any{"end_date": r.EndDate, "renewal_count": a.RenewalCount})
}

func suspend(a Agreement, ev fsm.Event, now time.Time) (Agreement, []fsm.Effect) {
	s, _ := fsm.As[SuspendAgreement](ev)
	a.SuspendedReason = s.Reason
	return a, effect(EffectSuspended, now, map[string]any{"reason": s.Reason})
}

func resume(a Agreement, _ fsm.Event, now time.Time) (Agreement, []fsm.Effect) {
	a.SuspendedReason = ""
	return a, effect(EffectResumed, now, nil)
}

func endAgreement(a Agreement, _ fsm.Event, now time.Time) (Agreement, []fsm.Effect) {
	return a, effect(EffectEnded, now, map[string]any{"total_fees": a.TotalFees, "outstanding": a.OutstandingBalance()})
}

func resetQuota(a Agreement, _ fsm.Event, now time.Time) (Agreement, []fsm.Effect) {
	a.PersonalDaysUsed, a.ProfessionalDaysUsed = 0, 0
	a.QuotaExceeded = false
	return a, effect(EffectQuotaReset, now, nil)
}

func guardCommercial(_ Agreement, ev fsm.Event, _ time.Time) error {
	c, ok := fsm.As[TransitionToCommercial](ev)
	if !ok || c.MonthlyRent <= 0 {
		return apperr.New(apperr.CodeMissingConfiguration, "commercial transition requires a positive monthly rent")
	}
	return nil
}

func proposeCommercial(a Agreement, ev fsm.Event, now time.Time) (Agreement, []fsm.Effect) {
	c, _ := fsm.As[TransitionToCommercial](ev)
	a.Terms.Model = ModelCommercial
	a.Terms.Commercial = &CommercialTerms{MonthlyRent: c.MonthlyRent}
	a.Terms.Approved = false
	a.Votes = nil
	a.VoteResult = nil
	a.QuotaExceeded = false
	return a, effect(EffectCommercialProposed, now, map[string]any{"monthly_rent": c.MonthlyRent})
}
