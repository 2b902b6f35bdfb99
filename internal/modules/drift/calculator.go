package drift

import (
	"math"
	"sort"

	"github.com/aristath/driftwatch/internal/modules/allocation"
	"gonum.org/v1/gonum/stat"
)

// Aggregate summarizes one bucket's normalized items.
type Aggregate struct {
	TotalAbsoluteDrift float64
	SortedByMagnitude  []allocation.DriftItem
}

// magnitude returns the drift value an item is ranked by under the
// given mode.
func magnitude(item allocation.DriftItem, mode Mode) float64 {
	if mode == ModeRelative {
		return math.Abs(item.RelativeDrift)
	}
	return math.Abs(item.AbsoluteDrift)
}

// CalculateAggregate sums absolute drift magnitudes and orders items
// for presentation. The synthetic whole-bucket rollup row is excluded
// from the total (it double-counts the rest of the bucket) but kept in
// the sorted output. Sorting is stable: descending |drift| under the
// selected mode, ties keeping insertion order.
func CalculateAggregate(items []allocation.DriftItem, mode Mode) Aggregate {
	var total float64
	for _, item := range items {
		if IsSyntheticRollup(item.Name) {
			continue
		}
		total += math.Abs(item.AbsoluteDrift)
	}

	sorted := make([]allocation.DriftItem, len(items))
	copy(sorted, items)
	sort.SliceStable(sorted, func(i, j int) bool {
		return magnitude(sorted[i], mode) > magnitude(sorted[j], mode)
	})

	return Aggregate{
		TotalAbsoluteDrift: allocation.Round(total, 4),
		SortedByMagnitude:  sorted,
	}
}

// WeightedRelativeDrift collapses a bucket into one scalar relative
// drift: the target-weighted mean of |relativeDrift|. Items with zero
// target contribute no weight, and a bucket with no target weight at
// all yields 0.
func WeightedRelativeDrift(items []allocation.DriftItem) float64 {
	values := make([]float64, 0, len(items))
	weights := make([]float64, 0, len(items))

	var totalWeight float64
	for _, item := range items {
		if IsSyntheticRollup(item.Name) {
			continue
		}
		values = append(values, math.Abs(item.RelativeDrift))
		weights = append(weights, item.TargetAllocation)
		totalWeight += item.TargetAllocation
	}

	if totalWeight == 0 {
		return 0
	}

	return allocation.Round(stat.Mean(values, weights), 4)
}
