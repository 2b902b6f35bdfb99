package allocation

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sumValues(m map[string]float64) float64 {
	var total float64
	for _, v := range m {
		total += v
	}
	return total
}

func TestValidateTargets(t *testing.T) {
	tests := []struct {
		name    string
		allocs  map[string]float64
		wantErr bool
	}{
		{"exactly 100", map[string]float64{"a": 60, "b": 40}, false},
		{"within tolerance", map[string]float64{"a": 60, "b": 40.009}, false},
		{"under tolerance", map[string]float64{"a": 60, "b": 39.98}, true},
		{"way over", map[string]float64{"a": 80, "b": 40}, true},
		{"empty map sums to zero", map[string]float64{}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateTargets(tt.allocs)
			if tt.wantErr {
				require.Error(t, err)
				var vErr *ValidationError
				require.ErrorAs(t, err, &vErr)
				assert.InDelta(t, sumValues(tt.allocs), vErr.Total, 0.01)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestDistributeRemaining_SumInvariant(t *testing.T) {
	tests := []struct {
		name   string
		allocs map[string]float64
	}{
		{"shortfall split evenly", map[string]float64{"equities": 50, "bonds": 30}},
		{"excess pulled back", map[string]float64{"equities": 70, "bonds": 50}},
		{"nothing allocated yet", map[string]float64{"a": 0, "b": 0, "c": 0}},
		{"uneven thirds", map[string]float64{"a": 10, "b": 20, "c": 30}},
		{"single entry", map[string]float64{"only": 12.5}},
		{"negative delta clamps at zero", map[string]float64{"a": 2, "b": 140}},
		{"rounding residue case", map[string]float64{"a": 33.33, "b": 33.33, "c": 33.33}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := DistributeRemaining(tt.allocs)

			assert.InDelta(t, 100, sumValues(result), SumTolerance)
			for k, v := range result {
				assert.GreaterOrEqual(t, v, 0.0, "entry %s went negative", k)
				rounded := math.Round(v*100) / 100
				assert.Equal(t, rounded, v, "entry %s not rounded to 2 decimals", k)
			}
		})
	}
}

func TestDistributeRemaining_SplitsAcrossPositiveEntries(t *testing.T) {
	result := DistributeRemaining(map[string]float64{
		"equities": 50,
		"bonds":    30,
		"cash":     0,
	})

	// The 20 point shortfall splits across the two funded entries only.
	assert.InDelta(t, 60, result["equities"], 1e-9)
	assert.InDelta(t, 40, result["bonds"], 1e-9)
	assert.InDelta(t, 0, result["cash"], 1e-9)
}

func TestDistributeRemaining_FirstRunFallsBackToAllEntries(t *testing.T) {
	result := DistributeRemaining(map[string]float64{"a": 0, "b": 0, "c": 0, "d": 0})

	for k, v := range result {
		assert.InDelta(t, 25, v, 1e-9, "entry %s", k)
	}
}

func TestDistributeRemaining_BalancedMapUnchanged(t *testing.T) {
	in := map[string]float64{"equities": 60, "bonds": 25, "cash": 15}
	result := DistributeRemaining(in)

	assert.Equal(t, in, result)
}

func TestDistributeRemaining_Idempotent(t *testing.T) {
	first := DistributeRemaining(map[string]float64{"a": 42.17, "b": 13.9, "c": 7})
	second := DistributeRemaining(first)

	assert.Equal(t, first, second)
}

func TestDistributeRemaining_DoesNotMutateInput(t *testing.T) {
	in := map[string]float64{"a": 10, "b": 20}
	_ = DistributeRemaining(in)

	assert.Equal(t, map[string]float64{"a": 10, "b": 20}, in)
}

func TestDistributeRemaining_EmptyMap(t *testing.T) {
	result := DistributeRemaining(map[string]float64{})
	assert.Empty(t, result)
}
