// Package scoring computes the normalized relevance score of feed
// candidates from three sub-scores: interest affinity, connection affinity,
// and recency. Scoring is a pure function of the candidate, the user
// context, and the clock, which is what makes cached feeds valid.
package scoring

import (
	"fmt"
	"math"
)

// WeightSumTolerance is the maximum allowed deviation of the scoring weight
// sum from 1.0. These weights control intra-item scoring and are validated
// independently of the pool mixture weights.
const WeightSumTolerance = 1e-6

// Default scoring weights. Calibrated toward interest match with connection
// affinity close behind; recency breaks the remaining ground.
const (
	DefaultInterestWeight   = 0.40
	DefaultConnectionWeight = 0.35
	DefaultTimeWeight       = 0.25
)

// Weights holds the three sub-score coefficients. They must each be in
// [0, 1] and sum to 1.0 within WeightSumTolerance.
type Weights struct {
	// Interest scales the interest-affinity sub-score.
	Interest float64 `json:"interest"`

	// Connection scales the connection-affinity sub-score.
	Connection float64 `json:"connection"`

	// Time scales the recency sub-score.
	Time float64 `json:"time"`
}

// DefaultWeights returns the default scoring weights.
func DefaultWeights() Weights {
	return Weights{
		Interest:   DefaultInterestWeight,
		Connection: DefaultConnectionWeight,
		Time:       DefaultTimeWeight,
	}
}

// Validate checks the scoring weight invariants.
func (w Weights) Validate() error {
	for _, part := range []struct {
		name  string
		value float64
	}{
		{"interest", w.Interest},
		{"connection", w.Connection},
		{"time", w.Time},
	} {
		if part.value < 0 || part.value > 1 || math.IsNaN(part.value) {
			return fmt.Errorf("scoring weight %s is %v, must be in [0, 1]", part.name, part.value)
		}
	}

	sum := w.Interest + w.Connection + w.Time
	if math.Abs(sum-1.0) > WeightSumTolerance {
		return fmt.Errorf("scoring weights sum to %.6f, must sum to 1.0 within %.0e", sum, WeightSumTolerance)
	}
	return nil
}
