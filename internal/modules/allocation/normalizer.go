// Package allocation provides canonicalization of raw allocation payloads
// and target-allocation editing helpers (validation, auto-balancing).
package allocation

import "math"

// RawItem is one allocation row as it arrives from the backend.
// The backend emits both snake_case and camelCase key conventions
// depending on which code path produced the payload, so every field
// exists in both spellings. Pointers distinguish "absent" from zero.
type RawItem struct {
	Name      string `json:"name"`
	NameSnake string `json:"category_name,omitempty"`

	CurrentAllocation      *float64 `json:"currentAllocation,omitempty"`
	CurrentAllocationSnake *float64 `json:"current_allocation,omitempty"`
	TargetAllocation       *float64 `json:"targetAllocation,omitempty"`
	TargetAllocationSnake  *float64 `json:"target_allocation,omitempty"`
	AbsoluteDrift          *float64 `json:"absoluteDrift,omitempty"`
	AbsoluteDriftSnake     *float64 `json:"absolute_drift,omitempty"`
	RelativeDrift          *float64 `json:"relativeDrift,omitempty"`
	RelativeDriftSnake     *float64 `json:"relative_drift,omitempty"`
}

// DriftItem is one canonicalized allocation row. All percentage fields
// are expressed in percentage points; drift fields are derived from
// current/target unless the raw payload supplied them.
type DriftItem struct {
	Name              string  `json:"name"`
	CurrentAllocation float64 `json:"current_allocation"`
	TargetAllocation  float64 `json:"target_allocation"`
	AbsoluteDrift     float64 `json:"absolute_drift"`
	RelativeDrift     float64 `json:"relative_drift"`
}

// Normalize canonicalizes a raw allocation row into a DriftItem.
//
// Unit heuristic: a value ≤ 1 is treated as a fraction and scaled to
// percentage points; values > 1 are assumed to already be percentages.
// The heuristic is applied independently per field because current and
// target can arrive in different units from different backend paths.
// A legitimate value between 0 and 1 percent is indistinguishable from
// its fractional form - known limitation, deliberately not corrected.
func Normalize(raw RawItem) DriftItem {
	item := DriftItem{
		Name:              pickName(raw),
		CurrentAllocation: toPercent(pick(raw.CurrentAllocation, raw.CurrentAllocationSnake)),
		TargetAllocation:  toPercent(pick(raw.TargetAllocation, raw.TargetAllocationSnake)),
	}

	// Trust supplied drift values (unit-normalized), otherwise derive.
	if abs := pickPtr(raw.AbsoluteDrift, raw.AbsoluteDriftSnake); abs != nil {
		item.AbsoluteDrift = toPercent(*abs)
	} else {
		item.AbsoluteDrift = item.CurrentAllocation - item.TargetAllocation
	}

	if rel := pickPtr(raw.RelativeDrift, raw.RelativeDriftSnake); rel != nil {
		item.RelativeDrift = toPercent(*rel)
	} else {
		item.RelativeDrift = DeriveRelativeDrift(item.CurrentAllocation, item.TargetAllocation, item.AbsoluteDrift)
	}

	return item
}

// DeriveRelativeDrift computes absolute drift as a percentage of target.
// Zero target is a special case: no drift when current is also zero,
// otherwise fully drifted (100).
func DeriveRelativeDrift(current, target, absolute float64) float64 {
	if target == 0 {
		if current == 0 {
			return 0
		}
		return 100
	}
	return (absolute / target) * 100
}

// toPercent applies the ≤1 fraction heuristic. Negative inputs keep
// their sign (drift values are signed).
func toPercent(v float64) float64 {
	if math.Abs(v) <= 1 {
		return v * 100
	}
	return v
}

// pick returns the camelCase value when present, else the snake_case
// value, else 0. camelCase wins when both are set.
func pick(camel, snake *float64) float64 {
	if camel != nil {
		return *camel
	}
	if snake != nil {
		return *snake
	}
	return 0
}

// pickPtr is pick without the zero default, for optional fields.
func pickPtr(camel, snake *float64) *float64 {
	if camel != nil {
		return camel
	}
	return snake
}

func pickName(raw RawItem) string {
	if raw.Name != "" {
		return raw.Name
	}
	return raw.NameSnake
}

// Round rounds a float64 to n decimal places
func Round(val float64, decimals int) float64 {
	multiplier := math.Pow(10, float64(decimals))
	return math.Round(val*multiplier) / multiplier
}
