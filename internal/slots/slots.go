// Package slots converts a pool weight distribution and a requested feed
// size into integer slot counts per pool. Allocation conserves the requested
// size exactly; rebalancing reassigns slots away from pools that cannot
// fill them.
package slots

import (
	"errors"
	"fmt"
	"math"
	"sort"

	"github.com/onnwee/feedmixer/internal/composition"
	"github.com/onnwee/feedmixer/internal/pool"
)

// ErrNegativeSize reports a negative requested feed size. Unlike a pool
// shortfall this is a caller bug, so it fails the whole allocation.
var ErrNegativeSize = errors.New("requested feed size is negative")

// Allocate splits size feed positions across the weighted pools using the
// largest-remainder method: each pool gets the floor of its exact share,
// and the remaining positions go to the pools with the largest fractional
// remainders. Ties prefer the heavier pool, then canonical pool order.
//
// The returned counts always sum to size exactly. Pools absent from
// weights receive no entry.
func Allocate(weights map[pool.Kind]float64, size int) (map[pool.Kind]int, error) {
	if size < 0 {
		return nil, fmt.Errorf("allocate %d slots: %w", size, ErrNegativeSize)
	}
	if err := composition.ValidateWeights(weights); err != nil {
		return nil, fmt.Errorf("allocate: %w", err)
	}

	kinds := orderedKinds(weights)
	counts := make(map[pool.Kind]int, len(kinds))
	if size == 0 {
		for _, k := range kinds {
			counts[k] = 0
		}
		return counts, nil
	}

	type share struct {
		kind      pool.Kind
		weight    float64
		remainder float64
	}
	shares := make([]share, 0, len(kinds))

	assigned := 0
	for _, k := range kinds {
		exact := weights[k] * float64(size)
		base := int(math.Floor(exact))
		counts[k] = base
		assigned += base
		shares = append(shares, share{kind: k, weight: weights[k], remainder: exact - float64(base)})
	}

	sort.SliceStable(shares, func(i, j int) bool {
		if shares[i].remainder != shares[j].remainder {
			return shares[i].remainder > shares[j].remainder
		}
		if shares[i].weight != shares[j].weight {
			return shares[i].weight > shares[j].weight
		}
		return shares[i].kind.Index() < shares[j].kind.Index()
	})

	for i := 0; assigned < size; i++ {
		counts[shares[i%len(shares)].kind]++
		assigned++
	}
	return counts, nil
}

// Rebalance clamps an allocation to what each pool can actually supply and
// redistributes the resulting deficit across the pools with spare
// candidates, proportionally to their weights. Redistribution happens in a
// single pass: capacity that runs out mid-pass is not redistributed again,
// so the rebalanced total may come up short of the original allocation when
// candidates are scarce overall.
func Rebalance(alloc map[pool.Kind]int, weights map[pool.Kind]float64, available map[pool.Kind]int) map[pool.Kind]int {
	final := make(map[pool.Kind]int, len(alloc))
	deficit := 0
	for _, k := range orderedKinds(alloc) {
		take := alloc[k]
		if avail := available[k]; avail < take {
			take = avail
		}
		if take < 0 {
			take = 0
		}
		final[k] = take
		deficit += alloc[k] - take
	}
	if deficit == 0 {
		return final
	}

	type absorber struct {
		kind      pool.Kind
		weight    float64
		headroom  int
		remainder float64
	}
	var absorbers []absorber
	var totalWeight float64
	for _, k := range orderedKinds(alloc) {
		headroom := available[k] - final[k]
		if headroom <= 0 {
			continue
		}
		absorbers = append(absorbers, absorber{kind: k, weight: weights[k], headroom: headroom})
		totalWeight += weights[k]
	}
	if len(absorbers) == 0 || totalWeight <= 0 {
		return final
	}

	// Proportional shares of the deficit, integerized the same way as
	// Allocate: floors first, then leftovers by largest remainder.
	granted := 0
	for i := range absorbers {
		exact := float64(deficit) * absorbers[i].weight / totalWeight
		base := int(math.Floor(exact))
		absorbers[i].remainder = exact - float64(base)
		if base > absorbers[i].headroom {
			base = absorbers[i].headroom
		}
		final[absorbers[i].kind] += base
		absorbers[i].headroom -= base
		granted += base
	}

	sort.SliceStable(absorbers, func(i, j int) bool {
		if absorbers[i].remainder != absorbers[j].remainder {
			return absorbers[i].remainder > absorbers[j].remainder
		}
		if absorbers[i].weight != absorbers[j].weight {
			return absorbers[i].weight > absorbers[j].weight
		}
		return absorbers[i].kind.Index() < absorbers[j].kind.Index()
	})

	for i := 0; granted < deficit && i < len(absorbers); i++ {
		if absorbers[i].headroom <= 0 {
			continue
		}
		final[absorbers[i].kind]++
		absorbers[i].headroom--
		granted++
	}
	return final
}

// Total sums the slot counts of an allocation.
func Total(counts map[pool.Kind]int) int {
	total := 0
	for _, n := range counts {
		total += n
	}
	return total
}

// orderedKinds returns the map's keys in canonical pool order.
func orderedKinds[V any](m map[pool.Kind]V) []pool.Kind {
	kinds := make([]pool.Kind, 0, len(m))
	for _, k := range pool.Kinds() {
		if _, ok := m[k]; ok {
			kinds = append(kinds, k)
		}
	}
	return kinds
}
