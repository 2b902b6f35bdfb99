package drift

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/aristath/driftwatch/internal/clients/brokerage"
	"github.com/aristath/driftwatch/internal/events"
	"github.com/aristath/driftwatch/internal/modules/alerts"
	"github.com/aristath/driftwatch/internal/modules/allocation"
	"github.com/rs/zerolog"
)

// State is the coordinator lifecycle state. setupRequired and error
// are recovered only by an explicit refresh.
type State string

const (
	StateInitializing  State = "initializing"
	StateSetupRequired State = "setup_required"
	StateError         State = "error"
	StateReady         State = "ready"
)

// SetupRequiredError signals that no target allocations exist yet. The
// recovery path is the allocation editor, not a retry.
type SetupRequiredError struct {
	Message string
}

func (e *SetupRequiredError) Error() string {
	if e.Message != "" {
		return e.Message
	}
	return "no target allocations defined"
}

// DriftSource fetches the raw drift payload from the backend.
type DriftSource interface {
	FetchDrift(ctx context.Context) (*brokerage.DriftPayload, error)
}

// RuleSource supplies the alert rules whose thresholds annotate drift
// items.
type RuleSource interface {
	GetRules(ctx context.Context, force bool) ([]alerts.Rule, error)
}

// SnapshotRecorder persists per-bucket drift totals after a successful
// refresh. Optional.
type SnapshotRecorder interface {
	Record(bucket string, portfolioID string, totalAbsolute, weightedRelative float64, at time.Time) error
}

// DefaultThresholdPercent applies when no alert rule configures a
// bucket.
const DefaultThresholdPercent = 5.0

// bucketThreshold is the threshold/mode pair active for one bucket.
type bucketThreshold struct {
	threshold float64
	mode      Mode
}

// Status is the coordinator's externally visible state: which
// lifecycle state it is in, a human-readable message for the two
// terminal states, and whatever bucket data is available. In the
// setup-required case CurrentAllocations still shows "where you are"
// before any target exists.
type Status struct {
	State              State              `json:"state"`
	Message            string             `json:"message,omitempty"`
	CurrentAllocations map[string]float64 `json:"current_allocations,omitempty"`
	Buckets            map[Bucket]*Data   `json:"buckets,omitempty"`
	LastRefreshed      time.Time          `json:"last_refreshed,omitempty"`
}

// Coordinator orchestrates normalization, drift calculation, and
// threshold evaluation to answer what drift state the portfolio is in.
type Coordinator struct {
	source   DriftSource
	rules    RuleSource
	recorder SnapshotRecorder
	bus      *events.Manager
	log      zerolog.Logger

	mu     sync.RWMutex
	status Status
}

// NewCoordinator creates a new drift alert coordinator. recorder and
// bus may be nil.
func NewCoordinator(source DriftSource, rules RuleSource, recorder SnapshotRecorder, bus *events.Manager, log zerolog.Logger) *Coordinator {
	return &Coordinator{
		source:   source,
		rules:    rules,
		recorder: recorder,
		bus:      bus,
		log:      log.With().Str("service", "drift_coordinator").Logger(),
		status:   Status{State: StateInitializing},
	}
}

// Status returns a copy of the current coordinator status.
func (c *Coordinator) Status() Status {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.status
}

// Refresh drives one full cycle: fetch, normalize, aggregate,
// classify. It is the single recovery edge out of the setup-required
// and error states.
func (c *Coordinator) Refresh(ctx context.Context) error {
	c.setState(Status{State: StateInitializing})

	payload, err := c.source.FetchDrift(ctx)
	if err != nil {
		c.setState(Status{
			State:   StateError,
			Message: fmt.Sprintf("failed to load drift data: %v", err),
		})
		if c.bus != nil {
			c.bus.Emit(events.DriftFetchFailed, "drift", map[string]interface{}{
				"error": err.Error(),
			})
		}
		return err
	}

	if payload.SetupRequired {
		// Surface current allocations even before targets exist.
		c.setState(Status{
			State:              StateSetupRequired,
			Message:            payload.Message,
			CurrentAllocations: payload.CurrentAllocations,
		})
		if c.bus != nil {
			c.bus.Emit(events.DriftSetupNeeded, "drift", map[string]interface{}{
				"message": payload.Message,
			})
		}
		return &SetupRequiredError{Message: payload.Message}
	}

	thresholds := c.loadThresholds(ctx)

	buckets := make(map[Bucket]*Data)
	nonEmpty := 0
	for bucket, raw := range rawBuckets(payload) {
		if raw == nil {
			continue
		}
		bt, matched := thresholds[bucket]
		data := c.buildBucket(bucket, raw, bt, matched)
		buckets[bucket] = data
		if len(data.Items) > 0 {
			nonEmpty++
		}
	}

	if nonEmpty == 0 {
		c.setState(Status{
			State:   StateError,
			Message: "drift data is empty for every allocation dimension",
		})
		return fmt.Errorf("backend returned no drift items")
	}

	now := time.Now().UTC()
	c.setState(Status{
		State:         StateReady,
		Buckets:       buckets,
		LastRefreshed: now,
	})

	c.record(buckets, now)

	if c.bus != nil {
		c.bus.Emit(events.DriftComputed, "drift", map[string]interface{}{
			"buckets": len(buckets),
		})
	}

	return nil
}

// buildBucket normalizes one raw bucket and annotates items against
// the bucket's active threshold. The default pair applies only when no
// rule matched the bucket; a matched rule without a configured
// threshold keeps its mode and borrows the default threshold.
func (c *Coordinator) buildBucket(bucket Bucket, raw *brokerage.RawBucket, bt bucketThreshold, matched bool) *Data {
	if !matched {
		bt = bucketThreshold{threshold: DefaultThresholdPercent, mode: ModeAbsolute}
	} else if bt.threshold == 0 {
		bt.threshold = DefaultThresholdPercent
	}

	normalized := make([]allocation.DriftItem, 0, len(raw.Items))
	for _, rawItem := range raw.Items {
		normalized = append(normalized, allocation.Normalize(rawItem))
	}

	agg := CalculateAggregate(normalized, bt.mode)

	items := make([]EvaluatedItem, 0, len(agg.SortedByMagnitude))
	for _, item := range agg.SortedByMagnitude {
		value := ModeValue(item.AbsoluteDrift, item.RelativeDrift, bt.mode)
		items = append(items, EvaluatedItem{
			DriftItem: item,
			Severity:  Classify(value, bt.threshold),
			Exceeds:   Exceeds(value, bt.threshold),
		})
	}

	lastUpdated := raw.LastUpdated
	if lastUpdated.IsZero() {
		lastUpdated = time.Now().UTC()
	}

	return &Data{
		PortfolioID:        raw.PortfolioID,
		PortfolioName:      raw.PortfolioName,
		LastUpdated:        lastUpdated,
		TotalAbsoluteDrift: agg.TotalAbsoluteDrift,
		Items:              items,
	}
}

// loadThresholds derives the active threshold/mode per bucket from the
// alert rules. Rule load failures fall back to defaults - drift
// display must not depend on the alert cache being healthy.
func (c *Coordinator) loadThresholds(ctx context.Context) map[Bucket]bucketThreshold {
	result := make(map[Bucket]bucketThreshold)
	if c.rules == nil {
		return result
	}

	rules, err := c.rules.GetRules(ctx, false)
	if err != nil && len(rules) == 0 {
		c.log.Warn().Err(err).Msg("Rules unavailable, using default thresholds")
		return result
	}

	for _, rule := range rules {
		if !rule.IsActive {
			continue
		}

		var bucket Bucket
		switch rule.ConditionType {
		case alerts.ConditionDrift:
			bucket = BucketOverall
		case alerts.ConditionSectorDrift:
			bucket = BucketSector
		case alerts.ConditionAssetDrift:
			bucket = BucketAssetClass
		default:
			continue
		}

		// First active rule per bucket wins
		if _, exists := result[bucket]; exists {
			continue
		}

		mode := ModeAbsolute
		if rule.ConditionConfig.DriftType() == string(ModeRelative) {
			mode = ModeRelative
		}
		result[bucket] = bucketThreshold{
			threshold: rule.ConditionConfig.ThresholdPercent(),
			mode:      mode,
		}
	}

	return result
}

// record persists snapshot rows for trend history. Failures are logged
// and swallowed - history is derived data.
func (c *Coordinator) record(buckets map[Bucket]*Data, at time.Time) {
	if c.recorder == nil {
		return
	}

	for bucket, data := range buckets {
		plain := make([]allocation.DriftItem, 0, len(data.Items))
		for _, item := range data.Items {
			plain = append(plain, item.DriftItem)
		}
		weighted := WeightedRelativeDrift(plain)

		if err := c.recorder.Record(string(bucket), data.PortfolioID, data.TotalAbsoluteDrift, weighted, at); err != nil {
			c.log.Warn().Err(err).Str("bucket", string(bucket)).Msg("Failed to record drift snapshot")
		}
	}

	if c.bus != nil {
		c.bus.Emit(events.SnapshotRecorded, "drift", map[string]interface{}{
			"buckets": len(buckets),
			"at":      at,
		})
	}
}

func (c *Coordinator) setState(status Status) {
	c.mu.Lock()
	defer c.mu.Unlock()
	// Keep the last refresh timestamp visible across error transitions
	if status.LastRefreshed.IsZero() {
		status.LastRefreshed = c.status.LastRefreshed
	}
	c.status = status
}

// rawBuckets maps payload fields to bucket tags.
func rawBuckets(payload *brokerage.DriftPayload) map[Bucket]*brokerage.RawBucket {
	return map[Bucket]*brokerage.RawBucket{
		BucketOverall:    payload.Overall,
		BucketAssetClass: payload.AssetClass,
		BucketSector:     payload.Sector,
	}
}
