package sharedspace

import (
	"errors"
	"testing"
	"time"

	"github.com/coophabitat/finance-engine/internal/apperr"
	"github.com/coophabitat/finance-engine/internal/governance/fsm"
	"github.com/coophabitat/finance-engine/internal/voting"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var now = time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)

func fixedNow() time.Time { return now }

func day(m time.Month, d int) time.Time {
	return time.Date(2025, m, d, 0, 0, 0, 0, time.UTC)
}

func quotaTerms(usage UsageType) Terms {
	return Terms{
		Model:     ModelQuota,
		UsageType: usage,
		Quota: &QuotaTerms{
			PersonalDaysPerYear:     10,
			ProfessionalDaysPerYear: 5,
			PersonalDailyRate:       5,
			ProfessionalDailyRate:   15,
			BeyondQuotaDailyRate:    40,
		},
	}
}

func agreementWith(terms Terms) Agreement {
	return Agreement{ID: "ss-1", SpaceID: "workshop", ParticipantID: "p1", Terms: terms, StartDate: day(3, 1), EndDate: day(12, 31)}
}

func mustSend(t *testing.T, m *fsm.Machine[Agreement], ev fsm.Event) fsm.Outcome[Agreement] {
	t.Helper()
	out, err := m.Send(ev)
	require.NoError(t, err)
	return out
}

func TestDefinition_IsValid(t *testing.T) {
	require.NoError(t, Definition.Validate())
}

func TestApprovalPath(t *testing.T) {
	cases := []struct {
		name  string
		terms Terms
		want  fsm.State
	}{
		{"quota personal goes straight to active", quotaTerms(UsagePersonal), StateTrackingUsage},
		{"quota professional needs a vote", quotaTerms(UsageProfessional), StateAwaitingVote},
		{"quota professional already approved", func() Terms { t := quotaTerms(UsageProfessional); t.Approved = true; return t }(), StateTrackingUsage},
		{"commercial always votes", Terms{Model: ModelCommercial, UsageType: UsagePersonal, Commercial: &CommercialTerms{MonthlyRent: 600}}, StateAwaitingVote},
		{"solidaire always votes", Terms{Model: ModelSolidaire, UsageType: UsagePersonal, Solidaire: &SolidaireTerms{Mode: SolidaireFree}, Approved: true}, StateAwaitingVote},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			m, _, err := New(agreementWith(tc.terms), fixedNow)
			require.NoError(t, err)
			assert.Equal(t, tc.want, m.Snapshot().State)
		})
	}
}

func TestVoting(t *testing.T) {
	commercial := Terms{Model: ModelCommercial, UsageType: UsageProfessional, Commercial: &CommercialTerms{MonthlyRent: 600}}

	t.Run("approved", func(t *testing.T) {
		m, _, err := New(agreementWith(commercial), fixedNow)
		require.NoError(t, err)

		mustSend(t, m, VoteOnUsage{ParticipantID: "a", Vote: voting.VoteFor, Quotite: 0.3})
		mustSend(t, m, VoteOnUsage{ParticipantID: "b", Vote: voting.VoteFor, Quotite: 0.2})
		mustSend(t, m, VoteOnUsage{ParticipantID: "c", Vote: voting.VoteAgainst, Quotite: 0.5})

		dup := mustSend(t, m, VoteOnUsage{ParticipantID: "a", Vote: voting.VoteAgainst})
		assert.True(t, errors.Is(dup.Rejection, apperr.ErrPolicyViolation))

		out := mustSend(t, m, VotingComplete{})
		assert.Equal(t, StateTrackingUsage, out.Snapshot.State)
		assert.True(t, m.Matches(StateActive))
		require.NotNil(t, out.Snapshot.Context.VoteResult)
		assert.Equal(t, 2, out.Snapshot.Context.VoteResult.VotesFor)
		assert.True(t, out.Snapshot.Context.Terms.Approved)
	})

	t.Run("tie is rejected", func(t *testing.T) {
		m, _, err := New(agreementWith(commercial), fixedNow)
		require.NoError(t, err)
		mustSend(t, m, VoteOnUsage{ParticipantID: "a", Vote: voting.VoteFor})
		mustSend(t, m, VoteOnUsage{ParticipantID: "b", Vote: voting.VoteAgainst})
		out := mustSend(t, m, VotingComplete{})
		assert.Equal(t, StateRejected, out.Snapshot.State)
		assert.True(t, m.Done())
	})

	t.Run("single voter misses quorum", func(t *testing.T) {
		m, _, err := New(agreementWith(commercial), fixedNow)
		require.NoError(t, err)
		mustSend(t, m, VoteOnUsage{ParticipantID: "a", Vote: voting.VoteFor})
		out := mustSend(t, m, VotingComplete{})
		assert.Equal(t, StateRejected, out.Snapshot.State)
		assert.False(t, out.Snapshot.Context.VoteResult.QuorumReached)
	})

	t.Run("abstention counts towards quorum only", func(t *testing.T) {
		m, _, err := New(agreementWith(commercial), fixedNow)
		require.NoError(t, err)
		mustSend(t, m, VoteOnUsage{ParticipantID: "a", Vote: voting.VoteFor})
		mustSend(t, m, VoteOnUsage{ParticipantID: "b", Vote: voting.VoteAbstain})
		out := mustSend(t, m, VotingComplete{})
		assert.Equal(t, StateTrackingUsage, out.Snapshot.State)
		res := out.Snapshot.Context.VoteResult
		assert.Equal(t, voting.MethodOnePersonOneVote, res.Method)
		assert.Equal(t, 2, res.VotersCast)
		assert.True(t, res.QuorumReached)
		assert.True(t, res.MajorityReached)
	})

	t.Run("abstention does not break a tie", func(t *testing.T) {
		m, _, err := New(agreementWith(commercial), fixedNow)
		require.NoError(t, err)
		mustSend(t, m, VoteOnUsage{ParticipantID: "a", Vote: voting.VoteFor})
		mustSend(t, m, VoteOnUsage{ParticipantID: "b", Vote: voting.VoteAgainst})
		mustSend(t, m, VoteOnUsage{ParticipantID: "c", Vote: voting.VoteAbstain})
		out := mustSend(t, m, VotingComplete{})
		assert.Equal(t, StateRejected, out.Snapshot.State)
		assert.True(t, out.Snapshot.Context.VoteResult.QuorumReached)
		assert.False(t, out.Snapshot.Context.VoteResult.MajorityReached)
	})

	t.Run("proposal rejected outright", func(t *testing.T) {
		m, _, err := New(agreementWith(commercial), fixedNow)
		require.NoError(t, err)
		out := mustSend(t, m, RejectProposal{Reason: "noise"})
		assert.Equal(t, StateRejected, out.Snapshot.State)
		assert.Equal(t, "noise", out.Snapshot.Context.RejectionReason)

		_, err = m.Send(VoteOnUsage{ParticipantID: "a", Vote: voting.VoteFor})
		assert.True(t, errors.Is(err, apperr.ErrIllegalTransition))
	})

	t.Run("usage ignored while awaiting vote", func(t *testing.T) {
		m, _, err := New(agreementWith(commercial), fixedNow)
		require.NoError(t, err)
		out := mustSend(t, m, RecordUsage{StartDate: day(3, 2), EndDate: day(3, 3), UsageType: UsagePersonal})
		assert.False(t, out.Handled)
		assert.Empty(t, m.Snapshot().Context.Usage)
	})
}

func TestQuotaBilling(t *testing.T) {
	m, _, err := New(agreementWith(quotaTerms(UsagePersonal)), fixedNow)
	require.NoError(t, err)

	out := mustSend(t, m, RecordUsage{StartDate: day(3, 3), EndDate: day(3, 10), UsageType: UsagePersonal})
	ctx := out.Snapshot.Context
	assert.Equal(t, StateTrackingUsage, out.Snapshot.State)
	assert.Equal(t, 8, ctx.Usage[0].Days)
	assert.Equal(t, 40.0, ctx.TotalFees)
	assert.Equal(t, 8, ctx.PersonalDaysUsed)

	// 2 allowance days left, 3 billed beyond quota
	out = mustSend(t, m, RecordUsage{StartDate: day(4, 1), EndDate: day(4, 5), UsageType: UsagePersonal})
	ctx = out.Snapshot.Context
	assert.Equal(t, StateQuotaExceeded, out.Snapshot.State)
	assert.Equal(t, 2, ctx.Usage[1].QuotaDays)
	assert.Equal(t, 3, ctx.Usage[1].BeyondDays)
	assert.Equal(t, 40.0+2*5+3*40, ctx.TotalFees)
	assert.True(t, ctx.QuotaExceeded)
	require.Len(t, ctx.Alerts, 1)

	kinds := []string{}
	for _, e := range out.Effects {
		kinds = append(kinds, e.Kind)
	}
	assert.Equal(t, []string{EffectUsageRecorded, EffectQuotaExceeded}, kinds)

	// professional allowance is tracked separately
	out = mustSend(t, m, RecordUsage{StartDate: day(4, 10), EndDate: day(4, 10), UsageType: UsageProfessional})
	assert.Equal(t, 15.0, out.Snapshot.Context.Usage[2].Fee)

	t.Run("payments and alerts keep the sub-state", func(t *testing.T) {
		out := mustSend(t, m, RecordPayment{Amount: 100})
		assert.Equal(t, StateQuotaExceeded, out.Snapshot.State)
		assert.InDelta(t, 185-100, out.Snapshot.Context.OutstandingBalance(), 1e-9)

		out = mustSend(t, m, RaiseAlert{Message: "door left open"})
		assert.Equal(t, StateQuotaExceeded, out.Snapshot.State)
		assert.Len(t, out.Snapshot.Context.Alerts, 2)

		out = mustSend(t, m, RenewAgreement{EndDate: day(12, 31).AddDate(1, 0, 0)})
		assert.Equal(t, StateQuotaExceeded, out.Snapshot.State)
		assert.Equal(t, 1, out.Snapshot.Context.RenewalCount)
	})

	t.Run("suspend and resume restores quota_exceeded", func(t *testing.T) {
		out := mustSend(t, m, SuspendAgreement{Reason: "works"})
		assert.Equal(t, StateSuspended, out.Snapshot.State)

		ignored := mustSend(t, m, RecordUsage{StartDate: day(5, 1), EndDate: day(5, 1), UsageType: UsagePersonal})
		assert.False(t, ignored.Handled)

		out = mustSend(t, m, ResumeAgreement{})
		assert.Equal(t, StateQuotaExceeded, out.Snapshot.State)
		assert.Empty(t, out.Snapshot.Context.SuspendedReason)
	})

	t.Run("annual reset", func(t *testing.T) {
		out := mustSend(t, m, ResetAnnualQuota{})
		assert.Equal(t, StateTrackingUsage, out.Snapshot.State)
		assert.Zero(t, out.Snapshot.Context.PersonalDaysUsed)
		assert.False(t, out.Snapshot.Context.QuotaExceeded)
	})
}

func TestTransitionToCommercial(t *testing.T) {
	m, _, err := New(agreementWith(quotaTerms(UsagePersonal)), fixedNow)
	require.NoError(t, err)
	mustSend(t, m, RecordUsage{StartDate: day(3, 1), EndDate: day(3, 20), UsageType: UsagePersonal})
	require.Equal(t, StateQuotaExceeded, m.Snapshot().State)

	rejected := mustSend(t, m, TransitionToCommercial{})
	assert.True(t, errors.Is(rejected.Rejection, apperr.ErrMissingConfiguration))

	out := mustSend(t, m, TransitionToCommercial{MonthlyRent: 900})
	assert.Equal(t, StateAwaitingVote, out.Snapshot.State)
	assert.Equal(t, ModelCommercial, out.Snapshot.Context.Terms.Model)
	assert.False(t, out.Snapshot.Context.QuotaExceeded)

	mustSend(t, m, VoteOnUsage{ParticipantID: "a", Vote: voting.VoteFor})
	mustSend(t, m, VoteOnUsage{ParticipantID: "b", Vote: voting.VoteFor})
	out = mustSend(t, m, VotingComplete{})
	assert.Equal(t, StateTrackingUsage, out.Snapshot.State)

	out = mustSend(t, m, RecordUsage{StartDate: day(6, 1), EndDate: day(6, 3), UsageType: UsageProfessional})
	assert.InDelta(t, 900.0/30*3, out.Snapshot.Context.Usage[1].Fee, 1e-9)
}

func TestEndAgreement(t *testing.T) {
	m, _, err := New(agreementWith(quotaTerms(UsagePersonal)), fixedNow)
	require.NoError(t, err)

	out := mustSend(t, m, EndAgreement{})
	assert.Equal(t, StateEnded, out.Snapshot.State)

	before := m.Snapshot()
	_, err = m.Send(RecordPayment{Amount: 10})
	assert.True(t, errors.Is(err, apperr.ErrIllegalTransition))
	assert.Equal(t, before, m.Snapshot())
}

func TestComputeFee(t *testing.T) {
	t.Run("commercial", func(t *testing.T) {
		fee, err := ComputeFee(Terms{Model: ModelCommercial, UsageType: UsagePersonal, Commercial: &CommercialTerms{MonthlyRent: 600}}, UsagePersonal, 10, 0)
		require.NoError(t, err)
		assert.InDelta(t, 200, fee.Amount, 1e-9)
	})

	t.Run("solidaire modes", func(t *testing.T) {
		base := Terms{Model: ModelSolidaire, UsageType: UsagePersonal}

		base.Solidaire = &SolidaireTerms{Mode: SolidaireFree, AnnualOperatingCosts: 3650}
		fee, err := ComputeFee(base, UsagePersonal, 5, 0)
		require.NoError(t, err)
		assert.Zero(t, fee.Amount)

		base.Solidaire = &SolidaireTerms{Mode: SolidaireCostPrice, AnnualOperatingCosts: 3650}
		fee, err = ComputeFee(base, UsagePersonal, 5, 0)
		require.NoError(t, err)
		assert.InDelta(t, 50, fee.Amount, 1e-9)

		base.Solidaire = &SolidaireTerms{Mode: SolidaireSubsidized, AnnualOperatingCosts: 3650, SubsidyPct: 40}
		fee, err = ComputeFee(base, UsagePersonal, 5, 0)
		require.NoError(t, err)
		assert.InDelta(t, 30, fee.Amount, 1e-9)
	})

	t.Run("quota already spent", func(t *testing.T) {
		fee, err := ComputeFee(quotaTerms(UsagePersonal), UsageProfessional, 2, 9)
		require.NoError(t, err)
		assert.Equal(t, 0, fee.QuotaDays)
		assert.Equal(t, 2, fee.BeyondDays)
		assert.Equal(t, 80.0, fee.Amount)
	})

	t.Run("errors", func(t *testing.T) {
		_, err := ComputeFee(Terms{Model: ModelQuota, UsageType: UsagePersonal}, UsagePersonal, 1, 0)
		assert.True(t, errors.Is(err, apperr.ErrMissingConfiguration))

		_, err = ComputeFee(quotaTerms(UsagePersonal), "leisure", 1, 0)
		assert.True(t, errors.Is(err, apperr.ErrInvalidInput))

		_, err = ComputeFee(quotaTerms(UsagePersonal), UsagePersonal, 0, 0)
		assert.True(t, errors.Is(err, apperr.ErrInvalidInput))
	})
}

func TestUsageDays(t *testing.T) {
	n, err := UsageDays(day(3, 1), day(3, 1))
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	n, err = UsageDays(day(2, 27), day(3, 2).Add(18*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 4, n)

	_, err = UsageDays(day(3, 2), day(3, 1))
	assert.True(t, errors.Is(err, apperr.ErrInvalidInput))
}

func TestRecordUsage_Rejections(t *testing.T) {
	m, _, err := New(agreementWith(quotaTerms(UsagePersonal)), fixedNow)
	require.NoError(t, err)

	out := mustSend(t, m, RecordUsage{StartDate: day(3, 5), EndDate: day(3, 4), UsageType: UsagePersonal})
	assert.True(t, errors.Is(out.Rejection, apperr.ErrInvalidInput))

	out = mustSend(t, m, RecordPayment{Amount: -5})
	assert.True(t, errors.Is(out.Rejection, apperr.ErrInvalidInput))

	out = mustSend(t, m, RenewAgreement{EndDate: day(6, 1)})
	assert.True(t, errors.Is(out.Rejection, apperr.ErrInvalidInput))
}

func TestNew_Validation(t *testing.T) {
	_, _, err := New(agreementWith(Terms{Model: ModelCommercial, UsageType: UsagePersonal}), fixedNow)
	assert.True(t, errors.Is(err, apperr.ErrMissingConfiguration))

	_, _, err = New(agreementWith(Terms{Model: "cooperative", UsageType: UsagePersonal}), fixedNow)
	assert.True(t, errors.Is(err, apperr.ErrInvalidInput))

	a := agreementWith(quotaTerms(UsagePersonal))
	a.SpaceID = ""
	_, _, err = New(a, fixedNow)
	assert.True(t, errors.Is(err, apperr.ErrInvalidInput))
}

func TestDecodeEvent(t *testing.T) {
	ev, err := DecodeEvent(EventRecordUsage, []byte(`{"start_date":"2025-03-01T00:00:00Z","end_date":"2025-03-02T00:00:00Z","usage_type":"personal"}`))
	require.NoError(t, err)
	u, ok := fsm.As[RecordUsage](ev)
	require.True(t, ok)
	assert.Equal(t, UsagePersonal, u.UsageType)

	_, err = DecodeEvent("DANCE", nil)
	assert.True(t, errors.Is(err, apperr.ErrInvalidInput))
}
