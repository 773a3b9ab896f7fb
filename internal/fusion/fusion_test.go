package fusion

import "testing"

func TestFuseEmptyReturnsPrior(t *testing.T) {
	got := Fuse(nil)
	if got != 0.5 {
		t.Fatalf("want 0.5, got %v", got)
	}
}

func TestFuseSinglePassthrough(t *testing.T) {
	got := Fuse([]WeightedSignal{{Confidence: 0.75, Weight: 1.0}})
	if diff := got - 0.75; diff > 0.001 || diff < -0.001 {
		t.Fatalf("want ~0.75, got %v", got)
	}
}

func TestFuseHighConfidenceWeightedCompounds(t *testing.T) {
	got := Fuse([]WeightedSignal{
		{Confidence: 0.8, Weight: 1.0},
		{Confidence: 0.9, Weight: 0.9},
	})
	if got <= 0.95 {
		t.Fatalf("expected compounding above 0.95, got %v", got)
	}
}

func TestFuseStrongDominatesWeakContradiction(t *testing.T) {
	got := Fuse([]WeightedSignal{
		{Confidence: 0.9, Weight: 1.0},
		{Confidence: 0.1, Weight: 0.4},
	})
	if got <= 0.70 || got >= 0.95 {
		t.Fatalf("expected strong signal to dominate, got %v", got)
	}
}

func TestFuseEqualWeightsCompound(t *testing.T) {
	got := Fuse([]WeightedSignal{
		{Confidence: 0.7, Weight: 1.0},
		{Confidence: 0.7, Weight: 1.0},
		{Confidence: 0.7, Weight: 1.0},
	})
	if got <= 0.90 {
		t.Fatalf("expected three 0.7s to compound above 0.90, got %v", got)
	}
}

func TestFuseLowWeightReducesInfluence(t *testing.T) {
	full := Fuse([]WeightedSignal{{Confidence: 0.5, Weight: 1.0}, {Confidence: 0.9, Weight: 1.0}})
	low := Fuse([]WeightedSignal{{Confidence: 0.5, Weight: 1.0}, {Confidence: 0.9, Weight: 0.1}})
	if full <= low {
		t.Fatalf("low weight should reduce influence: full=%v low=%v", full, low)
	}
}

func TestFuseNeverExceedsCap(t *testing.T) {
	got := Fuse([]WeightedSignal{
		{Confidence: 0.99, Weight: 5.0},
		{Confidence: 0.99, Weight: 5.0},
	})
	if got > 0.999 {
		t.Fatalf("fused confidence must be capped at 0.999, got %v", got)
	}
}

func TestDecayedWeightInvariants(t *testing.T) {
	if got := DecayedWeight(1.0, 0, 30); got != 1.0 {
		t.Fatalf("zero age should return base weight, got %v", got)
	}
	if got := DecayedWeight(1.0, 30, 30); diff(got, 0.5) > 0.001 {
		t.Fatalf("one half-life should halve weight, got %v", got)
	}
	if got := DecayedWeight(1.0, 60, 30); diff(got, 0.25) > 0.001 {
		t.Fatalf("two half-lives should quarter weight, got %v", got)
	}
	if got := DecayedWeight(0.9, -5, 30); got != 0.9 {
		t.Fatalf("negative age should return base weight, got %v", got)
	}
	if got := DecayedWeight(0.9, 10, 0); got != 0.9 {
		t.Fatalf("zero half-life should return base weight, got %v", got)
	}
}

func TestDecayedWeightMonotonicallyNonIncreasing(t *testing.T) {
	prev := DecayedWeight(1.0, 0, 30)
	for age := 1.0; age <= 365; age++ {
		cur := DecayedWeight(1.0, age, 30)
		if cur > prev {
			t.Fatalf("decayed weight increased at age %v: prev=%v cur=%v", age, prev, cur)
		}
		prev = cur
	}
}

func diff(a, b float64) float64 {
	d := a - b
	if d < 0 {
		return -d
	}
	return d
}
