// Package drift computes portfolio allocation drift, classifies it
// against user thresholds, and coordinates the drift-alert lifecycle.
package drift

import (
	"time"

	"github.com/aristath/driftwatch/internal/modules/allocation"
)

// Bucket identifies which allocation dimension a drift computation
// applies to.
type Bucket string

const (
	BucketOverall    Bucket = "overall"
	BucketAssetClass Bucket = "asset_class"
	BucketSector     Bucket = "sector"
)

// AllBuckets lists the tracked allocation dimensions in display order.
var AllBuckets = []Bucket{BucketOverall, BucketAssetClass, BucketSector}

// Mode selects which drift measure a threshold applies to. It is
// always explicit - evaluating the same item under both modes can
// legitimately yield different severities.
type Mode string

const (
	ModeAbsolute Mode = "absolute"
	ModeRelative Mode = "relative"
)

// overallRollupName is the synthetic row some backend paths append to
// a bucket. It double-counts the rest of the bucket and is excluded
// from totals.
const overallRollupName = "Overall Allocation"

// Data is one bucket's full drift result.
type Data struct {
	PortfolioID        string          `json:"portfolio_id"`
	PortfolioName      string          `json:"portfolio_name"`
	LastUpdated        time.Time       `json:"last_updated"`
	TotalAbsoluteDrift float64         `json:"total_absolute_drift"`
	Items              []EvaluatedItem `json:"items"`
}

// EvaluatedItem is a normalized allocation row annotated with its
// severity under the active threshold and mode.
type EvaluatedItem struct {
	allocation.DriftItem
	Severity Severity `json:"severity"`
	Exceeds  bool     `json:"exceeds_threshold"`
}

// IsSyntheticRollup reports whether an item is the synthetic
// whole-bucket rollup row.
func IsSyntheticRollup(name string) bool {
	return name == overallRollupName
}
