// Package brokerage provides the HTTP client for the remote portfolio
// backend: drift payloads, allocation categories, target persistence,
// and alert rule CRUD.
package brokerage

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/aristath/driftwatch/internal/modules/alerts"
	"github.com/aristath/driftwatch/internal/modules/allocation"
	"github.com/rs/zerolog"
)

// StatusError reports a non-2xx backend response.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("backend returned %d: %s", e.Code, e.Body)
}

// RawBucket is one drift bucket as the backend sends it. Field keys
// inside Items can be either snake_case or camelCase; normalization
// happens in the allocation package.
type RawBucket struct {
	PortfolioID   string               `json:"portfolio_id"`
	PortfolioName string               `json:"portfolio_name"`
	LastUpdated   time.Time            `json:"last_updated"`
	Items         []allocation.RawItem `json:"items"`
}

// DriftPayload is the response of GET /portfolio/drift/. Either the
// bucket fields are present, or setup_required is set with the current
// (non-target) allocations that exist so far.
type DriftPayload struct {
	Overall    *RawBucket `json:"overall,omitempty"`
	AssetClass *RawBucket `json:"asset_class,omitempty"`
	Sector     *RawBucket `json:"sector,omitempty"`

	SetupRequired      bool               `json:"setup_required,omitempty"`
	Message            string             `json:"message,omitempty"`
	CurrentAllocations map[string]float64 `json:"current_allocations,omitempty"`
}

// Category is one asset class or sector as returned by the backend.
type Category struct {
	ID                string   `json:"id"`
	Name              string   `json:"name"`
	Description       string   `json:"description,omitempty"`
	TargetAllocation  *float64 `json:"target_allocation,omitempty"`
	CurrentAllocation *float64 `json:"current_allocation,omitempty"`
}

// TargetAllocation is one row of a target submission.
type TargetAllocation struct {
	AssetID          string  `json:"asset_id"`
	TargetPercentage float64 `json:"target_percentage"`
}

// CategoryKind selects which target-allocation endpoint a submission
// goes to.
type CategoryKind string

const (
	KindAssetClass CategoryKind = "asset-class"
	KindSector     CategoryKind = "sector"
)

// Client talks to the portfolio backend
type Client struct {
	baseURL string
	token   string
	client  *http.Client
	log     zerolog.Logger
}

// NewClient creates a new brokerage backend client
func NewClient(baseURL, token string, log zerolog.Logger) *Client {
	return &Client{
		baseURL: baseURL,
		token:   token,
		client:  &http.Client{Timeout: 15 * time.Second},
		log:     log.With().Str("client", "brokerage").Logger(),
	}
}

// FetchDrift retrieves the per-bucket drift payload, or the
// setup-required shape when no target allocations exist yet.
func (c *Client) FetchDrift(ctx context.Context) (*DriftPayload, error) {
	var payload DriftPayload
	if err := c.get(ctx, "/portfolio/drift/", nil, &payload); err != nil {
		return nil, err
	}
	return &payload, nil
}

// FetchAssetClasses lists asset class categories with any configured
// targets.
func (c *Client) FetchAssetClasses(ctx context.Context) ([]Category, error) {
	var cats []Category
	if err := c.get(ctx, "/portfolio/asset-classes/", nil, &cats); err != nil {
		return nil, err
	}
	return cats, nil
}

// FetchSectors lists sector categories with any configured targets.
func (c *Client) FetchSectors(ctx context.Context) ([]Category, error) {
	var cats []Category
	if err := c.get(ctx, "/portfolio/sectors/", nil, &cats); err != nil {
		return nil, err
	}
	return cats, nil
}

// SaveTargetAllocations persists a validated target set and returns
// the updated category list.
func (c *Client) SaveTargetAllocations(ctx context.Context, kind CategoryKind, targets []TargetAllocation) ([]Category, error) {
	path := "/portfolio/target-allocations/"
	if kind == KindSector {
		path = "/portfolio/sector-target-allocations/"
	}

	var cats []Category
	if err := c.do(ctx, http.MethodPost, path, targets, &cats); err != nil {
		return nil, err
	}
	return cats, nil
}

// ListAlertRules fetches all alert rules.
func (c *Client) ListAlertRules(ctx context.Context) ([]alerts.Rule, error) {
	var rules []alerts.Rule
	if err := c.get(ctx, "/alerts/rules/", nil, &rules); err != nil {
		return nil, err
	}
	return rules, nil
}

// CreateAlertRule persists a new rule and returns the authoritative
// server copy (with its assigned id).
func (c *Client) CreateAlertRule(ctx context.Context, rule alerts.Rule) (alerts.Rule, error) {
	var created alerts.Rule
	if err := c.do(ctx, http.MethodPost, "/alerts/rules/", rule, &created); err != nil {
		return alerts.Rule{}, err
	}
	return created, nil
}

// UpdateAlertRule patches an existing rule.
func (c *Client) UpdateAlertRule(ctx context.Context, id string, rule alerts.Rule) (alerts.Rule, error) {
	var updated alerts.Rule
	path := fmt.Sprintf("/alerts/rules/%s/", url.PathEscape(id))
	if err := c.do(ctx, http.MethodPatch, path, rule, &updated); err != nil {
		return alerts.Rule{}, err
	}
	return updated, nil
}

// DeleteAlertRule removes a rule.
func (c *Client) DeleteAlertRule(ctx context.Context, id string) error {
	path := fmt.Sprintf("/alerts/rules/%s/", url.PathEscape(id))
	return c.do(ctx, http.MethodDelete, path, nil, nil)
}

// FetchAlertHistory lists evaluation history for one rule.
func (c *Client) FetchAlertHistory(ctx context.Context, ruleID string) ([]alerts.HistoryEntry, error) {
	var entries []alerts.HistoryEntry
	query := url.Values{"alert_rule": {ruleID}}
	if err := c.get(ctx, "/alerts/history/", query, &entries); err != nil {
		return nil, err
	}
	return entries, nil
}

// get issues a GET request and decodes the JSON response into out.
func (c *Client) get(ctx context.Context, path string, query url.Values, out interface{}) error {
	target := c.baseURL + path
	if len(query) > 0 {
		target += "?" + query.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}

	return c.send(req, out)
}

// do issues a request with an optional JSON body and decodes the
// response into out (out may be nil for empty responses).
func (c *Client) do(ctx context.Context, method, path string, body, out interface{}) error {
	var reader io.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to marshal request body: %w", err)
		}
		reader = bytes.NewReader(encoded)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	return c.send(req, out)
}

func (c *Client) send(req *http.Request, out interface{}) error {
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	req.Header.Set("Accept", "application/json")

	c.log.Debug().
		Str("method", req.Method).
		Str("url", req.URL.String()).
		Msg("Backend request")

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("backend request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		// Cap the echoed body - error pages can be large
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return &StatusError{Code: resp.StatusCode, Body: string(body)}
	}

	if out == nil {
		return nil
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode backend response: %w", err)
	}

	return nil
}
