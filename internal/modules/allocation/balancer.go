package allocation

import (
	"fmt"
	"math"
	"sort"
)

// SumTolerance is the accepted deviation from 100 when validating a
// target allocation map for submission.
const SumTolerance = 0.01

// ValidationError reports a target map whose total is not 100 within
// tolerance. It blocks submission before any network call is made.
type ValidationError struct {
	Total float64
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("target allocations must total 100%%, got %.2f%%", e.Total)
}

// ValidateTargets checks that the map sums to 100 ± SumTolerance.
// Auto-balancing is an explicit user action - validation never
// normalizes silently.
func ValidateTargets(allocs map[string]float64) error {
	var total float64
	for _, v := range allocs {
		total += v
	}
	if math.Abs(total-100) > SumTolerance {
		return &ValidationError{Total: Round(total, 2)}
	}
	return nil
}

// DistributeRemaining redistributes the shortfall or excess so the map
// totals exactly 100. The delta is split evenly across entries with a
// positive value; when nothing has been allocated yet it falls back to
// splitting across all entries. No entry is pushed below zero, values
// are rounded to 2 decimals, and calling it on an already-balanced map
// is a near-identity.
func DistributeRemaining(allocs map[string]float64) map[string]float64 {
	result := make(map[string]float64, len(allocs))
	for k, v := range allocs {
		result[k] = v
	}
	if len(result) == 0 {
		return result
	}

	var total float64
	for _, v := range result {
		total += v
	}
	remaining := 100 - total
	if math.Abs(remaining) <= SumTolerance {
		return result
	}

	eligible := make([]string, 0, len(result))
	for k, v := range result {
		if v > 0 {
			eligible = append(eligible, k)
		}
	}
	if len(eligible) == 0 {
		// First-run case: nothing allocated yet, spread across everything
		for k := range result {
			eligible = append(eligible, k)
		}
	}
	// Deterministic application order so rounding residue always lands
	// on the same entry
	sort.Strings(eligible)

	delta := remaining / float64(len(eligible))
	for _, k := range eligible {
		result[k] = Round(math.Max(0, result[k]+delta), 2)
	}

	// Rounding and the zero clamp can leave a residue; settle it onto
	// the largest entries until the total lands inside tolerance. A
	// negative residue larger than the biggest entry needs more than
	// one pass, hence the loop.
	for i := 0; i < len(result)+1; i++ {
		var balanced float64
		for _, v := range result {
			balanced += v
		}
		residue := Round(100-balanced, 2)
		if math.Abs(residue) <= SumTolerance {
			break
		}

		largest := ""
		for _, k := range eligible {
			if largest == "" || result[k] > result[largest] {
				largest = k
			}
		}
		result[largest] = Round(math.Max(0, result[largest]+residue), 2)
	}

	return result
}
