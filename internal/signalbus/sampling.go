package signalbus

import (
	"math"
	"math/rand/v2"
)

// SampleReliability draws a Thompson sample from the Beta(alpha, beta)
// posterior for a (source, entity_kind, signal_type) triple. Callers that
// want exploration (trying a lower-ranked source occasionally so its
// posterior keeps learning) use this instead of the deterministic
// GetLearnedReliability mean.
func (s *Store) SampleReliability(source Source, kind EntityKind, signalType string) (float64, error) {
	alpha, beta, err := s.getPosterior(source, kind, signalType)
	if err != nil {
		return 0, err
	}
	return sampleBeta(alpha, beta), nil
}

// sampleBeta draws from Beta(a, b) via two gamma variates:
// X ~ Gamma(a), Y ~ Gamma(b), X/(X+Y) ~ Beta(a, b).
func sampleBeta(a, b float64) float64 {
	x := sampleGamma(a)
	y := sampleGamma(b)
	if x+y == 0 {
		return 0.5
	}
	return x / (x + y)
}

// sampleGamma draws from Gamma(shape, 1) using Marsaglia-Tsang squeeze
// for shape >= 1 and the boosting transform for shape < 1.
func sampleGamma(shape float64) float64 {
	if shape < 1 {
		// Gamma(a) = Gamma(a+1) * U^(1/a)
		u := rand.Float64()
		return sampleGamma(shape+1) * math.Pow(u, 1/shape)
	}
	d := shape - 1.0/3.0
	c := 1 / math.Sqrt(9*d)
	for {
		x := rand.NormFloat64()
		v := 1 + c*x
		if v <= 0 {
			continue
		}
		v = v * v * v
		u := rand.Float64()
		if u < 1-0.0331*x*x*x*x {
			return d * v
		}
		if math.Log(u) < 0.5*x*x+d*(1-v+math.Log(v)) {
			return d * v
		}
	}
}
