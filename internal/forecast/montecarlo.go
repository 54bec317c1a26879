package forecast

import (
	"math"
	"math/rand"
	"sort"
)

const (
	monteCarloTrials = 1000
	retirementYears  = 30

	// conservative: assume no real return drift during retirement
	retirementDrift = 0.0
)

// sampler draws normal variates via Box-Muller. Using math/rand is fine here,
// nothing cryptographic depends on the stream.
type sampler struct {
	rng *rand.Rand
}

func newSampler(seed int64) *sampler {
	return &sampler{rng: rand.New(rand.NewSource(seed))}
}

// normal returns one N(mean, stddev) draw. Box-Muller needs log(u1), so a
// zero first uniform is redrawn.
func (s *sampler) normal(mean, stddev float64) float64 {
	u1 := s.rng.Float64()
	for u1 == 0 {
		u1 = s.rng.Float64()
	}
	u2 := s.rng.Float64()
	z := math.Sqrt(-2*math.Log(u1)) * math.Cos(2*math.Pi*u2)
	return mean + stddev*z
}

// Percentiles holds the Monte Carlo percentile trajectories, one value per
// projected month.
type Percentiles struct {
	P10 []float64 `json:"p10"`
	P25 []float64 `json:"p25"`
	P50 []float64 `json:"p50"`
	P75 []float64 `json:"p75"`
	P90 []float64 `json:"p90"`
}

// mcResult is the raw output of one Monte Carlo run
type mcResult struct {
	percentiles     Percentiles
	crossingMonths  []float64 // first month each crossing trial reached the target
	portfoliosAtHit []float64 // balance at the crossing month, per crossing trial
	trials          int
}

// runMonteCarlo simulates independent trials of monthly balance evolution
// starting from liquid net worth. Each month steps by N(drift, stddev).
// fireTarget <= 0 disables crossing detection.
func (s *sampler) runMonteCarlo(start, drift, stddev, fireTarget float64, horizonMonths int) mcResult {
	res := mcResult{trials: monteCarloTrials}
	monthValues := make([][]float64, horizonMonths)
	for m := range monthValues {
		monthValues[m] = make([]float64, 0, monteCarloTrials)
	}

	for t := 0; t < monteCarloTrials; t++ {
		balance := start
		crossed := false
		for m := 0; m < horizonMonths; m++ {
			balance += s.normal(drift, stddev)
			monthValues[m] = append(monthValues[m], balance)
			if !crossed && fireTarget > 0 && balance >= fireTarget {
				crossed = true
				res.crossingMonths = append(res.crossingMonths, float64(m+1))
				res.portfoliosAtHit = append(res.portfoliosAtHit, balance)
			}
		}
	}

	res.percentiles = Percentiles{
		P10: make([]float64, horizonMonths),
		P25: make([]float64, horizonMonths),
		P50: make([]float64, horizonMonths),
		P75: make([]float64, horizonMonths),
		P90: make([]float64, horizonMonths),
	}
	for m, values := range monthValues {
		sort.Float64s(values)
		res.percentiles.P10[m] = round2(percentileSorted(values, 10))
		res.percentiles.P25[m] = round2(percentileSorted(values, 25))
		res.percentiles.P50[m] = round2(percentileSorted(values, 50))
		res.percentiles.P75[m] = round2(percentileSorted(values, 75))
		res.percentiles.P90[m] = round2(percentileSorted(values, 90))
	}
	return res
}

// sustainabilityRate simulates a 30-year retirement for each portfolio that
// reached the FIRE target: monthly noise around zero drift, an inflation-
// growing withdrawal, survival means the balance never hit zero. Returns the
// integer percent of survivors, or nil when no trial reached the target.
func (s *sampler) sustainabilityRate(portfolios []float64, monthlyWithdrawal, stddev, inflationRate float64) *int {
	if len(portfolios) == 0 {
		return nil
	}
	months := retirementYears * 12
	survivors := 0
	for _, start := range portfolios {
		balance := start
		withdrawal := monthlyWithdrawal
		alive := true
		for m := 0; m < months; m++ {
			balance += s.normal(retirementDrift, stddev)
			balance -= withdrawal
			withdrawal *= 1 + inflationRate/12
			if balance <= 0 {
				alive = false
				break
			}
		}
		if alive {
			survivors++
		}
	}
	rate := int(math.Round(float64(survivors) / float64(len(portfolios)) * 100))
	return &rate
}

// percentile returns the p-th percentile of values with linear interpolation
// at fractional indices. The input is not modified.
func percentile(values []float64, p float64) float64 {
	sorted := make([]float64, len(values))
	copy(sorted, values)
	sort.Float64s(sorted)
	return percentileSorted(sorted, p)
}

func percentileSorted(sorted []float64, p float64) float64 {
	if len(sorted) == 0 {
		return 0
	}
	if len(sorted) == 1 {
		return sorted[0]
	}
	idx := p / 100 * float64(len(sorted)-1)
	lo := int(math.Floor(idx))
	hi := int(math.Ceil(idx))
	if lo == hi {
		return sorted[lo]
	}
	frac := idx - float64(lo)
	return sorted[lo] + (sorted[hi]-sorted[lo])*frac
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
