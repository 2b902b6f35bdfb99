package brokerage

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/aristath/driftwatch/internal/modules/alerts"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testClient(serverURL string) *Client {
	log := zerolog.New(nil).Level(zerolog.Disabled)
	return NewClient(serverURL, "test-token", log)
}

func TestFetchDrift_DecodesBuckets(t *testing.T) {
	var capturedPath, capturedAuth string

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		capturedPath = r.URL.Path
		capturedAuth = r.Header.Get("Authorization")

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{
			"sector": {
				"portfolio_id": "p1",
				"portfolio_name": "Main",
				"items": [
					{"name": "Technology", "current_allocation": 0.325, "target_allocation": 0.25}
				]
			}
		}`))
	}))
	defer server.Close()

	payload, err := testClient(server.URL).FetchDrift(context.Background())
	require.NoError(t, err)

	assert.Equal(t, "/portfolio/drift/", capturedPath)
	assert.Equal(t, "Bearer test-token", capturedAuth)

	require.NotNil(t, payload.Sector)
	assert.Nil(t, payload.Overall)
	assert.False(t, payload.SetupRequired)
	assert.Equal(t, "p1", payload.Sector.PortfolioID)
	require.Len(t, payload.Sector.Items, 1)
}

func TestFetchDrift_SetupRequired(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{
			"setup_required": true,
			"message": "No target allocations defined",
			"current_allocations": {"Equities": 70, "Bonds": 30}
		}`))
	}))
	defer server.Close()

	payload, err := testClient(server.URL).FetchDrift(context.Background())
	require.NoError(t, err)

	assert.True(t, payload.SetupRequired)
	assert.Equal(t, "No target allocations defined", payload.Message)
	assert.Equal(t, map[string]float64{"Equities": 70, "Bonds": 30}, payload.CurrentAllocations)
}

func TestSaveTargetAllocations_RoutesByKind(t *testing.T) {
	tests := []struct {
		name         string
		kind         CategoryKind
		expectedPath string
	}{
		{"asset classes", KindAssetClass, "/portfolio/target-allocations/"},
		{"sectors", KindSector, "/portfolio/sector-target-allocations/"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var capturedPath, capturedMethod string
			var capturedBody []TargetAllocation

			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				capturedPath = r.URL.Path
				capturedMethod = r.Method
				require.NoError(t, json.NewDecoder(r.Body).Decode(&capturedBody))

				w.Header().Set("Content-Type", "application/json")
				_, _ = w.Write([]byte(`[{"id": "equities", "name": "Equities", "target_allocation": 60}]`))
			}))
			defer server.Close()

			targets := []TargetAllocation{
				{AssetID: "equities", TargetPercentage: 60},
				{AssetID: "bonds", TargetPercentage: 40},
			}

			cats, err := testClient(server.URL).SaveTargetAllocations(context.Background(), tt.kind, targets)
			require.NoError(t, err)

			assert.Equal(t, http.MethodPost, capturedMethod)
			assert.Equal(t, tt.expectedPath, capturedPath)
			assert.Equal(t, targets, capturedBody)
			require.Len(t, cats, 1)
			assert.Equal(t, "Equities", cats[0].Name)
		})
	}
}

func TestListAlertRules_DecodesConditionUnion(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`[
			{
				"id": "r1",
				"name": "Sector watch",
				"is_active": true,
				"condition_type": "sector_drift",
				"condition_config": {"threshold_percent": 7.5, "drift_type": "relative"}
			}
		]`))
	}))
	defer server.Close()

	rules, err := testClient(server.URL).ListAlertRules(context.Background())
	require.NoError(t, err)

	require.Len(t, rules, 1)
	require.NotNil(t, rules[0].ConditionConfig.SectorDrift)
	assert.Equal(t, 7.5, rules[0].ConditionConfig.ThresholdPercent())
}

func TestUpdateAlertRule_PatchesByID(t *testing.T) {
	var capturedPath, capturedMethod string

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		capturedPath = r.URL.Path
		capturedMethod = r.Method

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id": "r1", "name": "Renamed"}`))
	}))
	defer server.Close()

	updated, err := testClient(server.URL).UpdateAlertRule(context.Background(), "r1", alerts.Rule{Name: "Renamed"})
	require.NoError(t, err)

	assert.Equal(t, http.MethodPatch, capturedMethod)
	assert.Equal(t, "/alerts/rules/r1/", capturedPath)
	assert.Equal(t, "Renamed", updated.Name)
}

func TestDeleteAlertRule_EmptyResponseBody(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodDelete, r.Method)
		w.WriteHeader(http.StatusNoContent)
	}))
	defer server.Close()

	err := testClient(server.URL).DeleteAlertRule(context.Background(), "r1")
	assert.NoError(t, err)
}

func TestFetchAlertHistory_FiltersByRule(t *testing.T) {
	var capturedQuery string

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		capturedQuery = r.URL.RawQuery

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`[{"triggered_at": "2025-06-01T12:00:00Z", "was_triggered": true}]`))
	}))
	defer server.Close()

	entries, err := testClient(server.URL).FetchAlertHistory(context.Background(), "r1")
	require.NoError(t, err)

	assert.Equal(t, "alert_rule=r1", capturedQuery)
	require.Len(t, entries, 1)
	assert.True(t, entries[0].WasTriggered)
}

func TestStatusError_SurfacesCodeAndBody(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
		_, _ = w.Write([]byte("upstream unavailable"))
	}))
	defer server.Close()

	_, err := testClient(server.URL).FetchDrift(context.Background())
	require.Error(t, err)

	var statusErr *StatusError
	require.ErrorAs(t, err, &statusErr)
	assert.Equal(t, http.StatusBadGateway, statusErr.Code)
	assert.Contains(t, statusErr.Body, "upstream unavailable")
}

func TestClient_NoAuthHeaderWithoutToken(t *testing.T) {
	var capturedAuth string

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		capturedAuth = r.Header.Get("Authorization")
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{}`))
	}))
	defer server.Close()

	log := zerolog.New(nil).Level(zerolog.Disabled)
	client := NewClient(server.URL, "", log)

	_, err := client.FetchDrift(context.Background())
	require.NoError(t, err)
	assert.Empty(t, capturedAuth)
}
