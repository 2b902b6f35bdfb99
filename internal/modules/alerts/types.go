// Package alerts owns the alert rule model and the cached rule store.
package alerts

import (
	"encoding/json"
	"fmt"
	"time"
)

// RuleStatus is the lifecycle state of an alert rule.
type RuleStatus string

const (
	StatusActive  RuleStatus = "active"
	StatusPaused  RuleStatus = "paused"
	StatusDeleted RuleStatus = "deleted"
)

// Frequency is how often the backend evaluates a rule.
type Frequency string

const (
	FrequencyImmediate Frequency = "immediate"
	FrequencyDaily     Frequency = "daily"
	FrequencyWeekly    Frequency = "weekly"
	FrequencyMonthly   Frequency = "monthly"
)

// ConditionType discriminates the condition config union.
type ConditionType string

const (
	ConditionDrift         ConditionType = "drift"
	ConditionSectorDrift   ConditionType = "sector_drift"
	ConditionAssetDrift    ConditionType = "asset_class_drift"
	ConditionPriceMovement ConditionType = "price_movement"
)

// DriftCondition configures an overall portfolio drift rule.
type DriftCondition struct {
	ThresholdPercent float64 `json:"threshold_percent"`
	DriftType        string  `json:"drift_type"` // absolute | relative
}

// SectorDriftCondition configures a per-sector drift rule.
type SectorDriftCondition struct {
	ThresholdPercent float64  `json:"threshold_percent"`
	DriftType        string   `json:"drift_type"`
	SectorID         string   `json:"sector_id,omitempty"`
	ExcludedSectors  []string `json:"excluded_sectors,omitempty"`
}

// AssetClassDriftCondition configures a per-asset-class drift rule.
type AssetClassDriftCondition struct {
	ThresholdPercent     float64  `json:"threshold_percent"`
	DriftType            string   `json:"drift_type"`
	AssetClassID         string   `json:"asset_class_id,omitempty"`
	ExcludedAssetClasses []string `json:"excluded_asset_classes,omitempty"`
}

// PriceMovementCondition configures a price movement rule. Evaluation
// happens on the backend; the client only round-trips the config.
type PriceMovementCondition struct {
	ThresholdPercent float64 `json:"threshold_percent"`
	Direction        string  `json:"direction,omitempty"` // up | down | any
	SymbolID         string  `json:"symbol_id,omitempty"`
}

// ConditionConfig is a tagged union over the per-type condition
// variants, discriminated by the rule's ConditionType. Unknown types
// round-trip through Raw so an older client never corrupts a newer
// rule.
type ConditionConfig struct {
	Drift         *DriftCondition           `json:"-"`
	SectorDrift   *SectorDriftCondition     `json:"-"`
	AssetDrift    *AssetClassDriftCondition `json:"-"`
	PriceMovement *PriceMovementCondition   `json:"-"`
	Raw           json.RawMessage           `json:"-"`
}

// ThresholdPercent returns the configured threshold for drift-family
// conditions, 0 for anything else.
func (c ConditionConfig) ThresholdPercent() float64 {
	switch {
	case c.Drift != nil:
		return c.Drift.ThresholdPercent
	case c.SectorDrift != nil:
		return c.SectorDrift.ThresholdPercent
	case c.AssetDrift != nil:
		return c.AssetDrift.ThresholdPercent
	case c.PriceMovement != nil:
		return c.PriceMovement.ThresholdPercent
	}
	return 0
}

// DriftType returns the configured drift mode ("absolute"/"relative")
// for drift-family conditions, empty otherwise.
func (c ConditionConfig) DriftType() string {
	switch {
	case c.Drift != nil:
		return c.Drift.DriftType
	case c.SectorDrift != nil:
		return c.SectorDrift.DriftType
	case c.AssetDrift != nil:
		return c.AssetDrift.DriftType
	}
	return ""
}

// Rule is one alert rule as the store and handlers see it. Wire format
// is snake_case, matching the backend contract.
type Rule struct {
	ID              string          `json:"id"`
	Name            string          `json:"name"`
	IsActive        bool            `json:"is_active"`
	Status          RuleStatus      `json:"status"`
	Frequency       Frequency       `json:"frequency"`
	ConditionType   ConditionType   `json:"condition_type"`
	ConditionConfig ConditionConfig `json:"condition_config"`
	ActionType      string          `json:"action_type"`
	PortfolioID     string          `json:"portfolio_id,omitempty"`
	CreatedAt       time.Time       `json:"created_at"`
	LastTriggered   *time.Time      `json:"last_triggered,omitempty"`
	LastChecked     *time.Time      `json:"last_checked,omitempty"`
}

// ruleWire mirrors Rule with the condition config left raw, so the
// union can be decoded against the discriminator.
type ruleWire struct {
	ID              string          `json:"id"`
	Name            string          `json:"name"`
	IsActive        bool            `json:"is_active"`
	Status          RuleStatus      `json:"status"`
	Frequency       Frequency       `json:"frequency"`
	ConditionType   ConditionType   `json:"condition_type"`
	ConditionConfig json.RawMessage `json:"condition_config,omitempty"`
	ActionType      string          `json:"action_type"`
	PortfolioID     string          `json:"portfolio_id,omitempty"`
	CreatedAt       time.Time       `json:"created_at"`
	LastTriggered   *time.Time      `json:"last_triggered,omitempty"`
	LastChecked     *time.Time      `json:"last_checked,omitempty"`
}

// UnmarshalJSON decodes the condition config variant selected by
// condition_type.
func (r *Rule) UnmarshalJSON(data []byte) error {
	var w ruleWire
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}

	*r = Rule{
		ID:            w.ID,
		Name:          w.Name,
		IsActive:      w.IsActive,
		Status:        w.Status,
		Frequency:     w.Frequency,
		ConditionType: w.ConditionType,
		ActionType:    w.ActionType,
		PortfolioID:   w.PortfolioID,
		CreatedAt:     w.CreatedAt,
		LastTriggered: w.LastTriggered,
		LastChecked:   w.LastChecked,
	}

	if len(w.ConditionConfig) == 0 {
		return nil
	}

	switch w.ConditionType {
	case ConditionDrift:
		var c DriftCondition
		if err := json.Unmarshal(w.ConditionConfig, &c); err != nil {
			return fmt.Errorf("invalid drift condition config: %w", err)
		}
		r.ConditionConfig.Drift = &c
	case ConditionSectorDrift:
		var c SectorDriftCondition
		if err := json.Unmarshal(w.ConditionConfig, &c); err != nil {
			return fmt.Errorf("invalid sector drift condition config: %w", err)
		}
		r.ConditionConfig.SectorDrift = &c
	case ConditionAssetDrift:
		var c AssetClassDriftCondition
		if err := json.Unmarshal(w.ConditionConfig, &c); err != nil {
			return fmt.Errorf("invalid asset class drift condition config: %w", err)
		}
		r.ConditionConfig.AssetDrift = &c
	case ConditionPriceMovement:
		var c PriceMovementCondition
		if err := json.Unmarshal(w.ConditionConfig, &c); err != nil {
			return fmt.Errorf("invalid price movement condition config: %w", err)
		}
		r.ConditionConfig.PriceMovement = &c
	default:
		r.ConditionConfig.Raw = append(json.RawMessage(nil), w.ConditionConfig...)
	}

	return nil
}

// MarshalJSON encodes the active condition variant back to the wire
// shape.
func (r Rule) MarshalJSON() ([]byte, error) {
	w := ruleWire{
		ID:            r.ID,
		Name:          r.Name,
		IsActive:      r.IsActive,
		Status:        r.Status,
		Frequency:     r.Frequency,
		ConditionType: r.ConditionType,
		ActionType:    r.ActionType,
		PortfolioID:   r.PortfolioID,
		CreatedAt:     r.CreatedAt,
		LastTriggered: r.LastTriggered,
		LastChecked:   r.LastChecked,
	}

	var variant interface{}
	switch {
	case r.ConditionConfig.Drift != nil:
		variant = r.ConditionConfig.Drift
	case r.ConditionConfig.SectorDrift != nil:
		variant = r.ConditionConfig.SectorDrift
	case r.ConditionConfig.AssetDrift != nil:
		variant = r.ConditionConfig.AssetDrift
	case r.ConditionConfig.PriceMovement != nil:
		variant = r.ConditionConfig.PriceMovement
	case len(r.ConditionConfig.Raw) > 0:
		w.ConditionConfig = r.ConditionConfig.Raw
	}

	if variant != nil {
		encoded, err := json.Marshal(variant)
		if err != nil {
			return nil, err
		}
		w.ConditionConfig = encoded
	}

	return json.Marshal(w)
}

// HistoryEntry is one backend evaluation of a rule.
type HistoryEntry struct {
	TriggeredAt   time.Time       `json:"triggered_at"`
	ResolvedAt    *time.Time      `json:"resolved_at,omitempty"`
	WasTriggered  bool            `json:"was_triggered"`
	ContextData   json.RawMessage `json:"context_data,omitempty"`
	ActionResults json.RawMessage `json:"action_results,omitempty"`
}
