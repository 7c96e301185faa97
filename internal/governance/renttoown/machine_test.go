package renttoown

import (
	"errors"
	"testing"
	"time"

	"github.com/coophabitat/finance-engine/internal/apperr"
	"github.com/coophabitat/finance-engine/internal/governance/fsm"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var start = time.Date(2025, 1, 1, 9, 0, 0, 0, time.UTC)

type clock struct{ t time.Time }

func (c *clock) now() time.Time { return c.t }

func agreement(end time.Time) Agreement {
	return Agreement{
		ID:             "rto-1",
		BuyerID:        "buyer",
		SellerID:       "seller",
		SalePrice:      200000,
		MonthlyPayment: 1500,
		TrialStartDate: start,
		TrialEndDate:   end,
		Formula:        Formula{EquityPercentage: 0.5, AllowExtensions: true, MaxExtensions: 1},
	}
}

func TestDefinition_IsValid(t *testing.T) {
	require.NoError(t, Definition.Validate())
}

func TestNew_TrialEndingImmediately(t *testing.T) {
	c := &clock{t: start}
	m, out, err := New(agreement(start.AddDate(0, 0, 29)), c.now)
	require.NoError(t, err)

	assert.Equal(t, StateTrialEnding, m.Snapshot().State)
	require.Len(t, out.Effects, 1)
	assert.Equal(t, EffectTrialEndingNotice, out.Effects[0].Kind)
	assert.Equal(t, 29, out.Effects[0].Data["days_remaining"])
	assert.NotNil(t, m.Snapshot().Context.EndingNoticeAt)
}

func TestNew_TrialActiveUntilWindow(t *testing.T) {
	c := &clock{t: start}
	m, _, err := New(agreement(start.AddDate(0, 3, 0)), c.now)
	require.NoError(t, err)
	assert.Equal(t, StateTrialActive, m.Snapshot().State)

	tick, err := m.Tick()
	require.NoError(t, err)
	assert.Empty(t, tick.Effects)

	c.t = start.AddDate(0, 3, 0).Add(-EndingNoticeWindow)
	tick, err = m.Tick()
	require.NoError(t, err)
	assert.Equal(t, StateTrialEnding, tick.Snapshot.State, "exactly thirty days out triggers the notice")
	assert.True(t, tick.Changed())
}

func TestRecordPayment_SplitsEquityAndRent(t *testing.T) {
	c := &clock{t: start}
	m, _, err := New(agreement(start.AddDate(1, 0, 0)), c.now)
	require.NoError(t, err)

	out, err := m.Send(RecordPayment{Amount: 1500})
	require.NoError(t, err)
	require.True(t, out.Handled)

	ctx := m.Snapshot().Context
	assert.Equal(t, 1500.0, ctx.TotalPaid)
	assert.Equal(t, 750.0, ctx.EquityAccumulated)
	assert.Equal(t, 750.0, ctx.RentPaid)
	require.Len(t, ctx.Payments, 1)
	assert.Equal(t, EffectPaymentRecorded, out.Effects[0].Kind)

	t.Run("rejects non-positive amounts", func(t *testing.T) {
		out, err := m.Send(RecordPayment{Amount: 0})
		require.NoError(t, err)
		assert.False(t, out.Handled)
		assert.True(t, errors.Is(out.Rejection, apperr.ErrInvalidInput))
		assert.Equal(t, 1500.0, m.Snapshot().Context.TotalPaid)
	})

	t.Run("accepted by pointer", func(t *testing.T) {
		_, err := m.Send(&RecordPayment{Amount: 500})
		require.NoError(t, err)
		assert.Equal(t, 2000.0, m.Snapshot().Context.TotalPaid)
	})
}

func TestPurchaseRequest(t *testing.T) {
	c := &clock{t: start}
	m, _, err := New(agreement(start.AddDate(0, 0, 20)), c.now)
	require.NoError(t, err)

	_, err = m.Send(RecordPayment{Amount: 10000})
	require.NoError(t, err)

	out, err := m.Send(BuyerRequestPurchase{})
	require.NoError(t, err)
	assert.Equal(t, StateCommunityVote, out.Snapshot.State)
	assert.Equal(t, 195000.0, out.Snapshot.Context.RemainingBalance)
	assert.Equal(t, EffectPurchaseRequested, out.Effects[0].Kind)

	// payments keep accruing while the community votes
	_, err = m.Send(RecordPayment{Amount: 1000})
	require.NoError(t, err)
	assert.Equal(t, 5500.0, m.Snapshot().Context.EquityAccumulated)

	out, err = m.Send(BuyerDeclinePurchase{})
	require.NoError(t, err)
	assert.False(t, out.Handled, "decline is not accepted once the vote is pending")
}

func TestPurchaseRequestIgnoredDuringActiveTrial(t *testing.T) {
	c := &clock{t: start}
	m, _, err := New(agreement(start.AddDate(1, 0, 0)), c.now)
	require.NoError(t, err)

	out, err := m.Send(BuyerRequestPurchase{})
	require.NoError(t, err)
	assert.False(t, out.Handled)
	assert.Equal(t, StateTrialActive, m.Snapshot().State)
}

func TestDecline_IsFinal(t *testing.T) {
	c := &clock{t: start}
	m, _, err := New(agreement(start.AddDate(0, 0, 10)), c.now)
	require.NoError(t, err)

	out, err := m.Send(BuyerDeclinePurchase{Reason: "moving abroad"})
	require.NoError(t, err)
	assert.Equal(t, StateBuyerDeclined, out.Snapshot.State)
	assert.Equal(t, "moving abroad", out.Snapshot.Context.DeclineReason)
	assert.True(t, m.Done())

	before := m.Snapshot()
	_, err = m.Send(RecordPayment{Amount: 100})
	assert.True(t, errors.Is(err, apperr.ErrIllegalTransition))
	assert.Equal(t, before, m.Snapshot())
}

func TestExtension(t *testing.T) {
	end := start.AddDate(0, 0, 15)

	t.Run("approved extension reopens the trial", func(t *testing.T) {
		c := &clock{t: start}
		m, _, err := New(agreement(end), c.now)
		require.NoError(t, err)

		out, err := m.Send(RequestExtension{Months: 2, Reason: "financing delay"})
		require.NoError(t, err)
		assert.Equal(t, StateExtensionVote, out.Snapshot.State)
		require.Len(t, out.Snapshot.Context.Extensions, 1)
		assert.Equal(t, DecisionPending, out.Snapshot.Context.Extensions[0].Decision)

		out, err = m.Send(ExtensionApproved{})
		require.NoError(t, err)
		assert.Equal(t, StateTrialActive, out.Snapshot.State)
		ctx := out.Snapshot.Context
		assert.Equal(t, end.AddDate(0, 2, 0), ctx.TrialEndDate)
		assert.Equal(t, 1, ctx.ExtensionCount)
		assert.Equal(t, DecisionApproved, ctx.Extensions[0].Decision)

		// the extended trial reaches its window again
		c.t = ctx.TrialEndDate.AddDate(0, 0, -5)
		tick, err := m.Tick()
		require.NoError(t, err)
		assert.Equal(t, StateTrialEnding, tick.Snapshot.State)

		// limit of one extension reached
		out, err = m.Send(RequestExtension{Months: 1})
		require.NoError(t, err)
		assert.False(t, out.Handled)
		assert.True(t, errors.Is(out.Rejection, apperr.ErrMissingConfiguration))
		assert.Equal(t, StateTrialEnding, m.Snapshot().State)
	})

	t.Run("rejected extension returns to trial ending", func(t *testing.T) {
		c := &clock{t: start}
		m, _, err := New(agreement(end), c.now)
		require.NoError(t, err)

		_, err = m.Send(RequestExtension{})
		require.NoError(t, err)
		out, err := m.Send(ExtensionRejected{})
		require.NoError(t, err)
		assert.Equal(t, StateTrialEnding, out.Snapshot.State)
		assert.Equal(t, DecisionRejected, out.Snapshot.Context.Extensions[0].Decision)
		assert.Equal(t, end, out.Snapshot.Context.TrialEndDate)
	})

	t.Run("formula without extensions", func(t *testing.T) {
		a := agreement(end)
		a.Formula.AllowExtensions = false
		c := &clock{t: start}
		m, _, err := New(a, c.now)
		require.NoError(t, err)

		out, err := m.Send(RequestExtension{Months: 1})
		require.NoError(t, err)
		assert.True(t, errors.Is(out.Rejection, apperr.ErrMissingConfiguration))
	})

	t.Run("default length", func(t *testing.T) {
		snap := fsm.Snapshot[Agreement]{State: StateExtensionVote, Context: agreement(end)}
		out, err := fsm.Reduce(Definition, snap, ExtensionApproved{}, start)
		require.NoError(t, err)
		assert.Equal(t, end.AddDate(0, DefaultExtensionMonths, 0), out.Snapshot.Context.TrialEndDate)
	})
}

func TestNew_Validation(t *testing.T) {
	cases := map[string]func(*Agreement){
		"no buyer":         func(a *Agreement) { a.BuyerID = "" },
		"zero price":       func(a *Agreement) { a.SalePrice = 0 },
		"end before start": func(a *Agreement) { a.TrialEndDate = start.AddDate(0, 0, -1) },
		"equity over one":  func(a *Agreement) { a.Formula.EquityPercentage = 50 },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			a := agreement(start.AddDate(1, 0, 0))
			mutate(&a)
			_, _, err := New(a, nil)
			assert.True(t, errors.Is(err, apperr.ErrInvalidInput))
		})
	}
}

func TestDecodeEvent(t *testing.T) {
	ev, err := DecodeEvent(EventRecordPayment, []byte(`{"amount":1500}`))
	require.NoError(t, err)
	p, ok := fsm.As[RecordPayment](ev)
	require.True(t, ok)
	assert.Equal(t, 1500.0, p.Amount)

	ev, err = DecodeEvent(EventBuyerRequestPurchase, nil)
	require.NoError(t, err)
	assert.Equal(t, EventBuyerRequestPurchase, ev.Type())

	_, err = DecodeEvent("FLY", nil)
	assert.True(t, errors.Is(err, apperr.ErrInvalidInput))

	_, err = DecodeEvent(EventRecordPayment, []byte(`{"amount":"lots"}`))
	assert.True(t, errors.Is(err, apperr.ErrInvalidInput))
}
