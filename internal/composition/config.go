// Package composition manages per-user pool weight configurations: the
// validated mixture that decides how much of each content pool ends up in a
// generated feed.
package composition

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"math"
	"sort"
	"strconv"
	"time"

	"github.com/onnwee/feedmixer/internal/pool"
)

// WeightSumTolerance is the maximum allowed deviation of the weight sum
// from 1.0. Configurations outside this band are rejected, never
// renormalized; renormalization is a caller decision.
const WeightSumTolerance = 1e-6

// Baseline weight distribution applied when a user has no stored
// configuration. Product knobs, not engine invariants.
const (
	DefaultPersonalConnectionsWeight = 0.40
	DefaultInterestBasedWeight       = 0.25
	DefaultTrendingWeight            = 0.15
	DefaultDiscoveryWeight           = 0.10
	DefaultCommunityWeight           = 0.05
	DefaultProductWeight             = 0.05
)

// ConfigErrorKind classifies configuration validation failures.
type ConfigErrorKind string

const (
	// OutOfRange means a single weight fell outside [0, 1].
	OutOfRange ConfigErrorKind = "out_of_range"

	// SumMismatch means the weights do not sum to 1.0 within tolerance.
	SumMismatch ConfigErrorKind = "sum_mismatch"
)

// ConfigError describes why a weight configuration was rejected. The
// offending weights are carried so callers can surface them.
type ConfigError struct {
	Kind    ConfigErrorKind
	Detail  string
	Weights map[pool.Kind]float64
}

// Error implements the error interface.
func (e *ConfigError) Error() string {
	return fmt.Sprintf("invalid composition: %s: %s", e.Kind, e.Detail)
}

// Config is a validated per-user mixture of content pool weights.
type Config struct {
	// UserID identifies the user this mixture belongs to.
	UserID string `json:"user_id"`

	// Weights maps each pool kind to its share of the feed, in [0, 1].
	// The values sum to 1.0 within WeightSumTolerance.
	Weights map[pool.Kind]float64 `json:"weights"`

	// UpdatedAt records the last successful mutation.
	UpdatedAt time.Time `json:"updated_at"`
}

// DefaultWeights returns the baseline weight distribution.
func DefaultWeights() map[pool.Kind]float64 {
	return map[pool.Kind]float64{
		pool.PersonalConnections: DefaultPersonalConnectionsWeight,
		pool.InterestBased:       DefaultInterestBasedWeight,
		pool.Trending:            DefaultTrendingWeight,
		pool.Discovery:           DefaultDiscoveryWeight,
		pool.Community:           DefaultCommunityWeight,
		pool.Product:             DefaultProductWeight,
	}
}

// Default returns a Config carrying the baseline distribution for a user.
func Default(userID string) Config {
	return Config{
		UserID:  userID,
		Weights: DefaultWeights(),
	}
}

// ValidateWeights checks the weight invariants over whatever pool kinds are
// present: every weight in [0, 1], every kind recognized, and the sum within
// WeightSumTolerance of 1.0. The first violated invariant is reported.
func ValidateWeights(weights map[pool.Kind]float64) error {
	if len(weights) == 0 {
		return &ConfigError{
			Kind:    SumMismatch,
			Detail:  "no weights provided",
			Weights: weights,
		}
	}

	var sum float64
	// Iterate in canonical order so the reported violation is deterministic.
	for _, k := range sortedKinds(weights) {
		w := weights[k]
		if !k.Valid() {
			return &ConfigError{
				Kind:    OutOfRange,
				Detail:  fmt.Sprintf("unknown pool %q", k),
				Weights: weights,
			}
		}
		if w < 0 || w > 1 || math.IsNaN(w) {
			return &ConfigError{
				Kind:    OutOfRange,
				Detail:  fmt.Sprintf("weight for %s is %v, must be in [0, 1]", k, w),
				Weights: weights,
			}
		}
		sum += w
	}

	if math.Abs(sum-1.0) > WeightSumTolerance {
		return &ConfigError{
			Kind:    SumMismatch,
			Detail:  fmt.Sprintf("weights sum to %.6f, must sum to 1.0 within %.0e", sum, WeightSumTolerance),
			Weights: weights,
		}
	}
	return nil
}

// New validates the weights and wraps them into a Config for the user. On
// failure the returned error is a *ConfigError and the zero Config must be
// discarded.
func New(userID string, weights map[pool.Kind]float64) (Config, error) {
	if err := ValidateWeights(weights); err != nil {
		return Config{}, err
	}
	copied := make(map[pool.Kind]float64, len(weights))
	for k, w := range weights {
		copied[k] = w
	}
	return Config{
		UserID:  userID,
		Weights: copied,
	}, nil
}

// Clone returns a deep copy of the config.
func (c Config) Clone() Config {
	out := c
	out.Weights = make(map[pool.Kind]float64, len(c.Weights))
	for k, w := range c.Weights {
		out.Weights[k] = w
	}
	return out
}

// Weight returns the weight for a pool kind, zero when absent.
func (c Config) Weight(k pool.Kind) float64 {
	return c.Weights[k]
}

// Fingerprint returns a stable hash of the weight mixture. Two configs with
// the same weights share a fingerprint regardless of map iteration order, so
// a configuration change naturally produces a cache miss without a sweep.
func (c Config) Fingerprint() string {
	h := sha256.New()
	for _, k := range sortedKinds(c.Weights) {
		h.Write([]byte(k))
		h.Write([]byte(":"))
		h.Write([]byte(strconv.FormatFloat(c.Weights[k], 'g', -1, 64)))
		h.Write([]byte(";"))
	}
	return hex.EncodeToString(h.Sum(nil))[:16]
}

// sortedKinds returns the map's kinds ordered canonically, with any unknown
// kinds last in lexical order so validation still reports them.
func sortedKinds(weights map[pool.Kind]float64) []pool.Kind {
	kinds := make([]pool.Kind, 0, len(weights))
	for k := range weights {
		kinds = append(kinds, k)
	}
	sort.Slice(kinds, func(i, j int) bool {
		ii, ji := kinds[i].Index(), kinds[j].Index()
		if ii == -1 && ji == -1 {
			return kinds[i] < kinds[j]
		}
		if ii == -1 {
			return false
		}
		if ji == -1 {
			return true
		}
		return ii < ji
	})
	return kinds
}
