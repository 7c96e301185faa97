package loan

import (
	"errors"
	"testing"

	"github.com/coophabitat/finance-engine/internal/apperr"
	"github.com/coophabitat/finance-engine/internal/finance/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoanSplit_Completeness(t *testing.T) {
	cases := []Costs{
		{PurchaseShare: 143000, RegistrationFees: 17875, SharedWorksCost: 12000, ConstructionCost: 90000},
		{PurchaseShare: 100000.01, RegistrationFees: 0.07, SharedWorksCost: 0.13, ConstructionCost: 100.01},
		{PurchaseShare: 250000, RegistrationFees: 31250},
		{},
	}
	for _, c := range cases {
		assert.InDelta(t, TotalFinancingNeeded(c), FirstLoanAmount(c)+SecondLoanAmount(c), 1e-9, "%+v", c)
	}
}

func TestLoanSplit_Amounts(t *testing.T) {
	c := Costs{PurchaseShare: 100000, RegistrationFees: 12500, SharedWorksCost: 7500, ConstructionCost: 90000}

	assert.InDelta(t, 150000, FirstLoanAmount(c), 1e-9)
	assert.InDelta(t, 60000, SecondLoanAmount(c), 1e-9)

	zero := Costs{PurchaseShare: 100000}
	assert.Equal(t, 0.0, SecondLoanAmount(zero))
	assert.Equal(t, 100000.0, FirstLoanAmount(zero))
}

func TestSplitLoanInterestSavings(t *testing.T) {
	c := Costs{ConstructionCost: 90000}

	savings, err := SplitLoanInterestSavings(c, 4, 12)
	require.NoError(t, err)
	assert.InDelta(t, 2400, savings, 1e-9)

	// 60000 at 4 percent for one month
	oneMonth, err := SplitLoanInterestSavings(c, 4, 1)
	require.NoError(t, err)
	assert.InDelta(t, 200, oneMonth, 1e-9)

	_, err = SplitLoanInterestSavings(c, -1, 12)
	assert.True(t, errors.Is(err, apperr.ErrInvalidInput))

	_, err = SplitLoanInterestSavings(Costs{ConstructionCost: -1}, 4, 12)
	assert.True(t, errors.Is(err, apperr.ErrInvalidInput))
}

func TestMonthlyPayment(t *testing.T) {
	p, err := MonthlyPayment(120000, 0, 10)
	require.NoError(t, err)
	assert.InDelta(t, 1000, p, 1e-9)

	// 200k over 25 years at 3.6%
	p, err = MonthlyPayment(200000, 3.6, 25)
	require.NoError(t, err)
	assert.InDelta(t, 1012.005, p, 0.001)

	_, err = MonthlyPayment(1000, 3, 0)
	assert.True(t, errors.Is(err, apperr.ErrInvalidInput))
}

func TestAllocate(t *testing.T) {
	c := Costs{PurchaseShare: 100000, RegistrationFees: 12500, SharedWorksCost: 7500, ConstructionCost: 90000}

	t.Run("single loan", func(t *testing.T) {
		plan, err := Allocate(c, domain.Financing{CapitalContributed: 40000, InterestRate: 3.5, DurationYears: 20})
		require.NoError(t, err)
		require.Len(t, plan.Tranches, 1)
		assert.InDelta(t, 170000, plan.Borrowed, 1e-9)
		assert.InDelta(t, 170000, plan.Tranches[0].Amount, 1e-9)
		assert.Zero(t, plan.InterestSavings)
	})

	t.Run("two loans", func(t *testing.T) {
		plan, err := Allocate(c, domain.Financing{
			CapitalContributed: 40000, InterestRate: 3.5, DurationYears: 20,
			UseTwoLoans: true, SecondLoanDelayMonths: 18,
		})
		require.NoError(t, err)
		require.Len(t, plan.Tranches, 2)
		assert.InDelta(t, 110000, plan.Tranches[0].Amount, 1e-9)
		assert.InDelta(t, 60000, plan.Tranches[1].Amount, 1e-9)
		assert.Equal(t, 18, plan.Tranches[1].StartDelayMonths)
		assert.InDelta(t, plan.Borrowed, plan.Tranches[0].Amount+plan.Tranches[1].Amount, 1e-9)
		assert.InDelta(t, 60000*0.035/12*18, plan.InterestSavings, 1e-9)
	})

	t.Run("capital beyond first tranche", func(t *testing.T) {
		plan, err := Allocate(c, domain.Financing{CapitalContributed: 170000, InterestRate: 3, DurationYears: 15, UseTwoLoans: true})
		require.NoError(t, err)
		require.Len(t, plan.Tranches, 1)
		assert.InDelta(t, 40000, plan.Tranches[0].Amount, 1e-9)
		assert.Equal(t, 0, plan.Tranches[0].StartDelayMonths)
	})

	t.Run("fully self-funded", func(t *testing.T) {
		plan, err := Allocate(c, domain.Financing{CapitalContributed: 500000, DurationYears: 10})
		require.NoError(t, err)
		assert.Empty(t, plan.Tranches)
		assert.InDelta(t, 210000, plan.CapitalApplied, 1e-9)
	})

	t.Run("rejects bad terms", func(t *testing.T) {
		_, err := Allocate(c, domain.Financing{DurationYears: 0})
		assert.True(t, errors.Is(err, apperr.ErrInvalidInput))
	})
}
