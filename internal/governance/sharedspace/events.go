package sharedspace

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/coophabitat/finance-engine/internal/apperr"
	"github.com/coophabitat/finance-engine/internal/governance/fsm"
	"github.com/coophabitat/finance-engine/internal/voting"
)

// Event types accepted by the machine.
const (
	EventVoteOnUsage            fsm.EventType = "VOTE_ON_USAGE"
	EventVotingComplete         fsm.EventType = "VOTING_COMPLETE"
	EventRejectProposal         fsm.EventType = "REJECT_PROPOSAL"
	EventRecordUsage            fsm.EventType = "RECORD_USAGE"
	EventRecordPayment          fsm.EventType = "RECORD_PAYMENT"
	EventRaiseAlert             fsm.EventType = "RAISE_ALERT"
	EventRenewAgreement         fsm.EventType = "RENEW_AGREEMENT"
	EventSuspendAgreement       fsm.EventType = "SUSPEND_AGREEMENT"
	EventResumeAgreement        fsm.EventType = "RESUME_AGREEMENT"
	EventEndAgreement           fsm.EventType = "END_AGREEMENT"
	EventResetAnnualQuota       fsm.EventType = "RESET_ANNUAL_QUOTA"
	EventTransitionToCommercial fsm.EventType = "TRANSITION_TO_COMMERCIAL"
)

// VoteOnUsage records one participant's vote. Each participant votes once;
// a second vote is a policy violation.
type VoteOnUsage struct {
	ParticipantID string      `json:"participant_id"`
	Vote          voting.Vote `json:"vote"`
	Quotite       float64     `json:"quotite"`
}

// VotingComplete closes the ballot and tallies it.
type VotingComplete struct{}

// RejectProposal refuses the agreement without a vote.
type RejectProposal struct {
	Reason string `json:"reason,omitempty"`
}

// RecordUsage bills a period of use.
type RecordUsage struct {
	StartDate time.Time `json:"start_date"`
	EndDate   time.Time `json:"end_date"`
	UsageType UsageType `json:"usage_type"`
}

// RecordPayment settles part of the outstanding fees.
type RecordPayment struct {
	Amount float64 `json:"amount"`
}

// RaiseAlert attaches a free-form alert.
type RaiseAlert struct {
	Message string `json:"message"`
}

// RenewAgreement moves the end date.
type RenewAgreement struct {
	EndDate time.Time `json:"end_date"`
}

// SuspendAgreement pauses usage.
type SuspendAgreement struct {
	Reason string `json:"reason,omitempty"`
}

// ResumeAgreement lifts a suspension.
type ResumeAgreement struct{}

// EndAgreement terminates the agreement.
type EndAgreement struct{}

// ResetAnnualQuota starts a new allowance year.
type ResetAnnualQuota struct{}

// TransitionToCommercial proposes moving an over-quota agreement to a
// commercial rent.
type TransitionToCommercial struct {
	MonthlyRent float64 `json:"monthly_rent"`
}

func (VoteOnUsage) Type() fsm.EventType            { return EventVoteOnUsage }
func (VotingComplete) Type() fsm.EventType         { return EventVotingComplete }
func (RejectProposal) Type() fsm.EventType         { return EventRejectProposal }
func (RecordUsage) Type() fsm.EventType            { return EventRecordUsage }
func (RecordPayment) Type() fsm.EventType          { return EventRecordPayment }
func (RaiseAlert) Type() fsm.EventType             { return EventRaiseAlert }
func (RenewAgreement) Type() fsm.EventType         { return EventRenewAgreement }
func (SuspendAgreement) Type() fsm.EventType       { return EventSuspendAgreement }
func (ResumeAgreement) Type() fsm.EventType        { return EventResumeAgreement }
func (EndAgreement) Type() fsm.EventType           { return EventEndAgreement }
func (ResetAnnualQuota) Type() fsm.EventType       { return EventResetAnnualQuota }
func (TransitionToCommercial) Type() fsm.EventType { return EventTransitionToCommercial }

// DecodeEvent builds a typed event from its wire name and JSON payload.
func DecodeEvent(t fsm.EventType, payload []byte) (fsm.Event, error) {
	var ev fsm.Event
	switch t {
	case EventVoteOnUsage:
		ev = &VoteOnUsage{}
	case EventVotingComplete:
		ev = &VotingComplete{}
	case EventRejectProposal:
		ev = &RejectProposal{}
	case EventRecordUsage:
		ev = &RecordUsage{}
	case EventRecordPayment:
		ev = &RecordPayment{}
	case EventRaiseAlert:
		ev = &RaiseAlert{}
	case EventRenewAgreement:
		ev = &RenewAgreement{}
	case EventSuspendAgreement:
		ev = &SuspendAgreement{}
	case EventResumeAgreement:
		ev = &ResumeAgreement{}
	case EventEndAgreement:
		ev = &EndAgreement{}
	case EventResetAnnualQuota:
		ev = &ResetAnnualQuota{}
	case EventTransitionToCommercial:
		ev = &TransitionToCommercial{}
	default:
		return nil, apperr.InvalidInput("unknown shared-space event %q", t)
	}
	if len(payload) > 0 {
		if err := json.Unmarshal(payload, ev); err != nil {
			return nil, apperr.Wrap(apperr.CodeInvalidInput, fmt.Sprintf("decode %s", t), err)
		}
	}
	return ev, nil
}
