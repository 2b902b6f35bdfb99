package drift

import "math"

// Severity classifies how close a drift value sits to its threshold.
type Severity string

const (
	SeveritySafe     Severity = "safe"
	SeverityWarning  Severity = "warning"
	SeverityElevated Severity = "elevated"
	SeverityCritical Severity = "critical"
)

// Classify maps a drift value to a severity tier, expressed as
// fractions of the threshold: below half is safe, below three quarters
// a warning, below the threshold elevated, and at or beyond it
// critical. A non-positive threshold never classifies anything as
// drifted.
func Classify(driftValue, thresholdPct float64) Severity {
	if thresholdPct <= 0 {
		return SeveritySafe
	}

	ratio := math.Abs(driftValue) / thresholdPct
	switch {
	case ratio < 0.5:
		return SeveritySafe
	case ratio < 0.75:
		return SeverityWarning
	case ratio < 1.0:
		return SeverityElevated
	default:
		return SeverityCritical
	}
}

// Exceeds is the boolean gate deciding whether an alert fires and
// whether a row is flagged in the UI. Landing exactly on the threshold
// counts as exceeding, consistent with the critical tier starting at
// 1.0x.
func Exceeds(driftValue, thresholdPct float64) bool {
	if thresholdPct <= 0 {
		return false
	}
	return math.Abs(driftValue) >= thresholdPct
}

// ModeValue returns the drift measure the given mode evaluates.
func ModeValue(absolute, relative float64, mode Mode) float64 {
	if mode == ModeRelative {
		return relative
	}
	return absolute
}
