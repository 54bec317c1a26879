package amortization

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func intPtr(v int) *int { return &v }

func TestCompute_StandardMortgage(t *testing.T) {
	start := time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC)
	res, err := Compute(Input{
		Principal:    300000,
		AnnualRate:   7.0,
		TermMonths:   360,
		StartDate:    start,
		PaymentsMade: intPtr(60),
	})
	require.NoError(t, err)

	// 300k at 7% over 30 years is $1995.91/month
	assert.InDelta(t, 1995.91, res.MonthlyPayment, 1.0)
	assert.Equal(t, "2050-01-01", res.PayoffDate)
	assert.Equal(t, 300, res.MonthsRemaining)

	// After 5 years of payments the balance is down but most of the
	// principal remains
	assert.Less(t, res.CurrentBalance, 300000.0)
	assert.Greater(t, res.CurrentBalance, 280000.0)
	assert.InDelta(t, res.MonthlyPayment*60, res.TotalPaid, 60.0)
	assert.Greater(t, res.TotalInterestPaid, 0.0)
	assert.Less(t, res.TotalInterestPaid, res.TotalPaid)
}

func TestCompute_ZeroRate(t *testing.T) {
	res, err := Compute(Input{
		Principal:    12000,
		AnnualRate:   0,
		TermMonths:   12,
		StartDate:    time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
		PaymentsMade: intPtr(3),
	})
	require.NoError(t, err)

	assert.InDelta(t, 1000.0, res.MonthlyPayment, 0.001)
	assert.InDelta(t, 9000.0, res.CurrentBalance, 0.001)
	assert.InDelta(t, 0.0, res.TotalInterestPaid, 0.001)
	assert.Equal(t, 9, res.MonthsRemaining)
}

func TestCompute_FullyPaid(t *testing.T) {
	res, err := Compute(Input{
		Principal:    50000,
		AnnualRate:   5.0,
		TermMonths:   120,
		StartDate:    time.Date(2010, 1, 1, 0, 0, 0, 0, time.UTC),
		PaymentsMade: intPtr(120),
	})
	require.NoError(t, err)

	assert.InDelta(t, 0.0, res.CurrentBalance, 0.01)
	assert.Equal(t, 0, res.MonthsRemaining)
}

func TestCompute_PaymentsClampedToTerm(t *testing.T) {
	res, err := Compute(Input{
		Principal:    10000,
		AnnualRate:   4.0,
		TermMonths:   24,
		StartDate:    time.Date(2010, 1, 1, 0, 0, 0, 0, time.UTC),
		PaymentsMade: intPtr(500),
	})
	require.NoError(t, err)
	assert.Equal(t, 0, res.MonthsRemaining)
	assert.InDelta(t, 0.0, res.CurrentBalance, 0.01)
}

func TestCompute_Schedule(t *testing.T) {
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	res, err := Compute(Input{
		Principal:       10000,
		AnnualRate:      6.0,
		TermMonths:      12,
		StartDate:       start,
		PaymentsMade:    intPtr(0),
		IncludeSchedule: true,
	})
	require.NoError(t, err)
	require.Len(t, res.Schedule, 12)

	first := res.Schedule[0]
	assert.Equal(t, 1, first.Month)
	assert.Equal(t, "2026-02-01", first.Date)
	// First month interest is balance * monthly rate
	assert.InDelta(t, 10000*0.005, first.Interest, 0.01)

	// Balances decrease monotonically and the final balance is zero
	last := res.Schedule[len(res.Schedule)-1]
	assert.InDelta(t, 0.0, last.Balance, 0.01)
	for i := 1; i < len(res.Schedule); i++ {
		assert.Less(t, res.Schedule[i].Balance, res.Schedule[i-1].Balance)
	}
}

func TestCompute_InvalidInput(t *testing.T) {
	_, err := Compute(Input{Principal: 0, TermMonths: 12})
	assert.Error(t, err)

	_, err = Compute(Input{Principal: 1000, TermMonths: 0})
	assert.Error(t, err)

	_, err = Compute(Input{Principal: 1000, TermMonths: 12, AnnualRate: -1})
	assert.Error(t, err)
}

func TestSplitPayment(t *testing.T) {
	// 100k at 6%: one month of interest is $500
	principal, interest := SplitPayment(100000, 6.0, 1500)
	assert.InDelta(t, 500.0, interest, 0.001)
	assert.InDelta(t, 1000.0, principal, 0.001)

	// Interest capped at the payment amount
	principal, interest = SplitPayment(100000, 6.0, 300)
	assert.InDelta(t, 300.0, interest, 0.001)
	assert.InDelta(t, 0.0, principal, 0.001)
}

func TestMonthsBetween(t *testing.T) {
	start := time.Date(2020, 3, 15, 0, 0, 0, 0, time.UTC)

	assert.Equal(t, 0, monthsBetween(start, time.Date(2020, 3, 20, 0, 0, 0, 0, time.UTC)))
	assert.Equal(t, 1, monthsBetween(start, time.Date(2020, 4, 15, 0, 0, 0, 0, time.UTC)))
	assert.Equal(t, 0, monthsBetween(start, time.Date(2020, 4, 14, 0, 0, 0, 0, time.UTC)))
	assert.Equal(t, 12, monthsBetween(start, time.Date(2021, 3, 15, 0, 0, 0, 0, time.UTC)))
	assert.Equal(t, 0, monthsBetween(start, time.Date(2019, 1, 1, 0, 0, 0, 0, time.UTC)))
}
