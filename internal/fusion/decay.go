// Package fusion computes the weighted Bayesian combination of concurrent
// signals: temporal decay, source-tier weighting, and weighted log-odds
// fusion into a single confidence value.
package fusion

import (
	"math"
	"time"
)

// DecayedWeight applies exponential half-life decay to a base weight.
//
// decayed = base * 2^(-ageDays / halfLifeDays)
//
// A non-positive half-life or a negative age is treated as "no decay":
// the base weight is returned unchanged.
func DecayedWeight(base, ageDays, halfLifeDays float64) float64 {
	if halfLifeDays <= 0 || ageDays < 0 {
		return base
	}
	return base * math.Pow(2, -ageDays/halfLifeDays)
}

// AgeDaysFromNow returns the fractional number of days between createdAt
// and now, clamped to zero for timestamps in the future.
func AgeDaysFromNow(createdAt time.Time) float64 {
	age := time.Since(createdAt).Hours() / 24
	if age < 0 {
		return 0
	}
	return age
}
