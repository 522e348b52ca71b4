// Package experiment assigns users to composition experiment groups.
// Assignment is a deterministic hash of the user ID against a static
// variant table, so the same user always lands in the same group no matter
// which process or request evaluates it.
package experiment

import (
	"crypto/sha256"
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/onnwee/feedmixer/internal/composition"
	"github.com/onnwee/feedmixer/internal/pool"
)

// ControlGroup is the implicit group for users outside every variant.
// Control carries no override: those users keep their stored composition.
const ControlGroup = "control"

var (
	ErrMissingName       = errors.New("experiment name is required")
	ErrReservedName      = errors.New("variant name is reserved")
	ErrDuplicateVariant  = errors.New("duplicate variant name")
	ErrPercentOutOfRange = errors.New("variant percents must each be in [0, 100] and sum to at most 100")
)

// Variant is one experiment arm: a share of traffic and the composition
// weights applied to users bucketed into it.
type Variant struct {
	Name    string                `json:"name"`
	Percent float64               `json:"percent"`
	Weights map[pool.Kind]float64 `json:"weights"`
}

// Assignment is the resolved group for a user. Override is nil for control.
type Assignment struct {
	Experiment string                `json:"experiment"`
	Group      string                `json:"group"`
	Override   map[pool.Kind]float64 `json:"override,omitempty"`
}

// Assigner buckets users into experiment groups. It is immutable after
// construction and safe for concurrent use.
type Assigner struct {
	name     string
	variants []Variant
}

// NewAssigner validates the variant table and returns an assigner. Every
// variant's composition override must itself be a valid weight set; there
// is no point bucketing users into a configuration the engine would reject
// per request.
func NewAssigner(name string, variants []Variant) (*Assigner, error) {
	if name == "" {
		return nil, ErrMissingName
	}

	seen := make(map[string]struct{}, len(variants))
	total := 0.0
	owned := make([]Variant, 0, len(variants))
	for _, v := range variants {
		if v.Name == "" {
			return nil, fmt.Errorf("experiment %q: variant name is required", name)
		}
		if v.Name == ControlGroup {
			return nil, fmt.Errorf("experiment %q variant %q: %w", name, v.Name, ErrReservedName)
		}
		if _, dup := seen[v.Name]; dup {
			return nil, fmt.Errorf("experiment %q variant %q: %w", name, v.Name, ErrDuplicateVariant)
		}
		seen[v.Name] = struct{}{}

		if v.Percent < 0 || v.Percent > 100 {
			return nil, fmt.Errorf("experiment %q variant %q percent %.2f: %w", name, v.Name, v.Percent, ErrPercentOutOfRange)
		}
		total += v.Percent

		if err := composition.ValidateWeights(v.Weights); err != nil {
			return nil, fmt.Errorf("experiment %q variant %q: %w", name, v.Name, err)
		}

		weights := make(map[pool.Kind]float64, len(v.Weights))
		for k, w := range v.Weights {
			weights[k] = w
		}
		owned = append(owned, Variant{Name: v.Name, Percent: v.Percent, Weights: weights})
	}
	if total > 100 {
		return nil, fmt.Errorf("experiment %q percents sum to %.2f: %w", name, total, ErrPercentOutOfRange)
	}

	return &Assigner{name: name, variants: owned}, nil
}

// Name returns the experiment name.
func (a *Assigner) Name() string {
	return a.name
}

// Groups lists the group names, control first then variants in table order.
func (a *Assigner) Groups() []string {
	groups := make([]string, 0, len(a.variants)+1)
	groups = append(groups, ControlGroup)
	for _, v := range a.variants {
		groups = append(groups, v.Name)
	}
	return groups
}

// Assign buckets a user. The bucket is derived only from the experiment
// name and the user ID, never from request state, so repeated calls and
// separate processes agree.
func (a *Assigner) Assign(userID string) Assignment {
	assignment := Assignment{Experiment: a.name, Group: ControlGroup}
	if len(a.variants) == 0 {
		return assignment
	}

	percentile := a.percentile(userID)
	cumulative := 0.0
	for _, v := range a.variants {
		cumulative += v.Percent
		if percentile < cumulative {
			override := make(map[pool.Kind]float64, len(v.Weights))
			for k, w := range v.Weights {
				override[k] = w
			}
			assignment.Group = v.Name
			assignment.Override = override
			return assignment
		}
	}
	return assignment
}

// percentile hashes the user into [0, 100). The experiment name salts the
// hash so separate experiments bucket independently.
func (a *Assigner) percentile(userID string) float64 {
	hash := sha256.Sum256([]byte(a.name + ":" + userID))
	hashValue := binary.BigEndian.Uint64(hash[:8])
	return float64(hashValue%10000) / 100.0
}
