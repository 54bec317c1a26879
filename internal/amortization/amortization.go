// Package amortization implements mortgage/note payment schedules and
// current-balance derivation.
package amortization

import (
	"fmt"
	"math"
	"time"
)

// Input describes a note to amortize. PaymentsMade is optional: when nil it
// is derived from the months elapsed since StartDate, clamped to
// [0, TermMonths].
type Input struct {
	Principal       float64
	AnnualRate      float64 // percent, e.g. 7.0
	TermMonths      int
	StartDate       time.Time
	PaymentsMade    *int
	IncludeSchedule bool
}

// ScheduleEntry is one row of the payment schedule
type ScheduleEntry struct {
	Month     int     `json:"month"`
	Payment   float64 `json:"payment"`
	Principal float64 `json:"principal"`
	Interest  float64 `json:"interest"`
	Balance   float64 `json:"balance"`
	Date      string  `json:"date"` // YYYY-MM-DD
}

// Result is the computed amortization state
type Result struct {
	MonthlyPayment    float64         `json:"monthly_payment"`
	CurrentBalance    float64         `json:"current_balance"`
	TotalPaid         float64         `json:"total_paid"`
	TotalInterestPaid float64         `json:"total_interest_paid"`
	PayoffDate        string          `json:"payoff_date"` // YYYY-MM-DD
	MonthsRemaining   int             `json:"months_remaining"`
	Schedule          []ScheduleEntry `json:"schedule,omitempty"`
}

// Compute derives the full amortization state for a note.
//
// The monthly payment uses the standard formula P*r(1+r)^n / ((1+r)^n - 1)
// with r = annualRate/1200; a zero rate degenerates to principal/term. The
// current balance is found by iterating the payment recurrence paymentsMade
// times: after termMonths iterations the balance is within a cent of zero.
func Compute(in Input) (*Result, error) {
	if in.Principal <= 0 {
		return nil, fmt.Errorf("principal must be positive, got %v", in.Principal)
	}
	if in.TermMonths <= 0 {
		return nil, fmt.Errorf("term_months must be positive, got %d", in.TermMonths)
	}
	if in.AnnualRate < 0 {
		return nil, fmt.Errorf("annual_rate must not be negative, got %v", in.AnnualRate)
	}

	r := in.AnnualRate / 1200.0

	var monthlyPayment float64
	if r == 0 {
		monthlyPayment = in.Principal / float64(in.TermMonths)
	} else {
		pow := math.Pow(1+r, float64(in.TermMonths))
		monthlyPayment = in.Principal * r * pow / (pow - 1)
	}

	paymentsMade := monthsBetween(in.StartDate, time.Now())
	if in.PaymentsMade != nil {
		paymentsMade = *in.PaymentsMade
	}
	if paymentsMade < 0 {
		paymentsMade = 0
	}
	if paymentsMade > in.TermMonths {
		paymentsMade = in.TermMonths
	}

	balance := in.Principal
	totalPaid := 0.0
	totalInterest := 0.0
	for i := 0; i < paymentsMade && balance > 0; i++ {
		interest := balance * r
		principalPortion := math.Min(monthlyPayment-interest, balance)
		balance = math.Max(0, balance-principalPortion)
		totalPaid += principalPortion + interest
		totalInterest += interest
	}

	res := &Result{
		MonthlyPayment:    round2(monthlyPayment),
		CurrentBalance:    round2(balance),
		TotalPaid:         round2(totalPaid),
		TotalInterestPaid: round2(totalInterest),
		PayoffDate:        in.StartDate.AddDate(0, in.TermMonths, 0).Format("2006-01-02"),
		MonthsRemaining:   in.TermMonths - paymentsMade,
	}

	if in.IncludeSchedule {
		res.Schedule = buildSchedule(in.Principal, r, monthlyPayment, in.TermMonths, in.StartDate)
	}

	return res, nil
}

// buildSchedule emits the full payment schedule, terminating early when the
// balance reaches zero so no null-payment rows are produced.
func buildSchedule(principal, r, monthlyPayment float64, termMonths int, start time.Time) []ScheduleEntry {
	schedule := make([]ScheduleEntry, 0, termMonths)
	balance := principal
	for month := 1; month <= termMonths; month++ {
		if balance <= 0 {
			break
		}
		interest := balance * r
		principalPortion := math.Min(monthlyPayment-interest, balance)
		balance = math.Max(0, balance-principalPortion)

		schedule = append(schedule, ScheduleEntry{
			Month:     month,
			Payment:   round2(principalPortion + interest),
			Principal: round2(principalPortion),
			Interest:  round2(interest),
			Balance:   round2(balance),
			Date:      start.AddDate(0, month, 0).Format("2006-01-02"),
		})
	}
	return schedule
}

// SplitPayment splits a single payment amount into principal and interest
// portions given the outstanding balance and annual rate. Used when recording
// note payments.
func SplitPayment(balance, annualRate, amount float64) (principal, interest float64) {
	r := annualRate / 1200.0
	interest = round2(balance * r)
	if interest > amount {
		interest = amount
	}
	principal = round2(amount - interest)
	return principal, interest
}

// monthsBetween counts whole months from start to end
func monthsBetween(start, end time.Time) int {
	if end.Before(start) {
		return 0
	}
	months := (end.Year()-start.Year())*12 + int(end.Month()) - int(start.Month())
	if end.Day() < start.Day() {
		months--
	}
	if months < 0 {
		return 0
	}
	return months
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
