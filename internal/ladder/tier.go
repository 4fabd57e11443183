package ladder

import (
	"fmt"
	"sort"
)

// DefaultPyramidLevels is the number of tiers used when none are configured.
const DefaultPyramidLevels = 10

// Tiers buckets contiguous rank ranges. Tier 1 holds the top ranks.
type Tiers struct {
	// bounds[i] is the last rank of tier i+1.
	bounds []int
}

// NewTiers builds tiers from explicit bucket sizes, top tier first.
func NewTiers(sizes []int) (Tiers, error) {
	if len(sizes) == 0 {
		return Tiers{}, fmt.Errorf("at least one tier is required")
	}
	bounds := make([]int, len(sizes))
	last := 0
	for i, size := range sizes {
		if size <= 0 {
			return Tiers{}, fmt.Errorf("tier %d has non-positive size %d", i+1, size)
		}
		last += size
		bounds[i] = last
	}
	return Tiers{bounds: bounds}, nil
}

// PyramidTiers returns tiers where tier n holds n ranks: 1 | 2-3 | 4-6 | ...
func PyramidTiers(levels int) Tiers {
	if levels <= 0 {
		levels = DefaultPyramidLevels
	}
	sizes := make([]int, levels)
	for i := range sizes {
		sizes[i] = i + 1
	}
	t, _ := NewTiers(sizes)
	return t
}

// Of returns the tier of a rank, or false when the rank is outside every tier.
func (t Tiers) Of(rank int) (int, bool) {
	if rank < 1 || len(t.bounds) == 0 {
		return 0, false
	}
	i := sort.SearchInts(t.bounds, rank)
	if i == len(t.bounds) {
		return 0, false
	}
	return i + 1, true
}

// Count returns the number of tiers.
func (t Tiers) Count() int {
	return len(t.bounds)
}

// Capacity returns the number of ranks covered by all tiers.
func (t Tiers) Capacity() int {
	if len(t.bounds) == 0 {
		return 0
	}
	return t.bounds[len(t.bounds)-1]
}
