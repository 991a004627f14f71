package index

import (
	"sort"
)

// MergePolicy decides which segments are merged after a flush.
type MergePolicy interface {
	// FindMerge receives the live document count of every segment (in segment
	// order) and returns the positions of the segments to merge next. Returning
	// fewer than two positions means no merge is necessary.
	FindMerge(sizes []int) []int
}

// TieredMergePolicy keeps the number of segments bounded by repeatedly merging
// the smallest segments once there are too many of them.
type TieredMergePolicy struct {
	// MaxMergeAtOnce is the maximum number of segments to be merged at a time during normal merging.
	// Default is 10.
	MaxMergeAtOnce int

	// MaxSegmentsPerTier is the allowed number of segments before a merge is triggered.
	// This should be >= MaxMergeAtOnce otherwise you'll force too much merging to occur.
	// Default is 10.
	MaxSegmentsPerTier int
}

func NewTieredMergePolicy() *TieredMergePolicy {
	return &TieredMergePolicy{
		MaxMergeAtOnce:     10,
		MaxSegmentsPerTier: 10,
	}
}

func (mp *TieredMergePolicy) FindMerge(sizes []int) []int {
	if len(sizes) <= mp.MaxSegmentsPerTier {
		return nil
	}
	return smallest(sizes, mp.MaxMergeAtOnce)
}

// NoMergePolicy never merges segments on its own. ForceMerge still works.
type NoMergePolicy struct{}

func (NoMergePolicy) FindMerge([]int) []int {
	return nil
}

// smallest returns the positions of the n smallest sizes in ascending position
// order. Ties are broken by position, so older segments are merged first.
func smallest(sizes []int, n int) []int {
	if n > len(sizes) {
		n = len(sizes)
	}
	if n < 2 {
		return nil
	}

	pos := make([]int, len(sizes))
	for i := range pos {
		pos[i] = i
	}
	sort.SliceStable(pos, func(i, j int) bool { return sizes[pos[i]] < sizes[pos[j]] })

	pos = pos[:n]
	sort.Ints(pos)
	return pos
}
