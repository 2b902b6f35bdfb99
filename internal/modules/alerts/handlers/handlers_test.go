package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/aristath/driftwatch/internal/modules/alerts"
	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeBackend implements both the rule API and the history API.
type fakeBackend struct {
	mu sync.Mutex

	rules     []alerts.Rule
	history   []alerts.HistoryEntry
	listErr   error
	createErr error
	deleteErr error
}

func (f *fakeBackend) ListAlertRules(_ context.Context) ([]alerts.Rule, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.listErr != nil {
		return nil, f.listErr
	}
	out := make([]alerts.Rule, len(f.rules))
	copy(out, f.rules)
	return out, nil
}

func (f *fakeBackend) CreateAlertRule(_ context.Context, rule alerts.Rule) (alerts.Rule, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.createErr != nil {
		return alerts.Rule{}, f.createErr
	}
	rule.ID = "srv-1"
	f.rules = append(f.rules, rule)
	return rule, nil
}

func (f *fakeBackend) UpdateAlertRule(_ context.Context, id string, rule alerts.Rule) (alerts.Rule, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := range f.rules {
		if f.rules[i].ID == id {
			rule.ID = id
			f.rules[i] = rule
			return rule, nil
		}
	}
	return alerts.Rule{}, errors.New("not found")
}

func (f *fakeBackend) DeleteAlertRule(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.deleteErr != nil {
		return f.deleteErr
	}
	kept := f.rules[:0]
	for _, r := range f.rules {
		if r.ID != id {
			kept = append(kept, r)
		}
	}
	f.rules = kept
	return nil
}

func (f *fakeBackend) FetchAlertHistory(_ context.Context, _ string) ([]alerts.HistoryEntry, error) {
	return f.history, nil
}

func setupRouter(backend *fakeBackend) chi.Router {
	log := zerolog.New(nil).Level(zerolog.Disabled)
	store := alerts.NewStore(backend, time.Minute, nil, log)
	h := NewHandler(store, backend, log)
	r := chi.NewRouter()
	h.RegisterRoutes(r)
	return r
}

func activeRule(id, name string) alerts.Rule {
	return alerts.Rule{
		ID:            id,
		Name:          name,
		IsActive:      true,
		ConditionType: alerts.ConditionDrift,
		ConditionConfig: alerts.ConditionConfig{
			Drift: &alerts.DriftCondition{ThresholdPercent: 5, DriftType: "absolute"},
		},
	}
}

type rulesEnvelope struct {
	Rules []alerts.Rule `json:"rules"`
	Stale bool          `json:"stale"`
	Error string        `json:"error"`
}

func TestHandleListRules(t *testing.T) {
	backend := &fakeBackend{rules: []alerts.Rule{activeRule("r1", "Drift watch")}}
	router := setupRouter(backend)

	req := httptest.NewRequest(http.MethodGet, "/alerts/rules", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)

	var envelope rulesEnvelope
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &envelope))
	require.Len(t, envelope.Rules, 1)
	assert.Equal(t, "r1", envelope.Rules[0].ID)
	assert.False(t, envelope.Stale)
	assert.Empty(t, envelope.Error)
}

func TestHandleListRules_StaleDataSurvivesBackendOutage(t *testing.T) {
	backend := &fakeBackend{rules: []alerts.Rule{activeRule("r1", "Drift watch")}}
	router := setupRouter(backend)

	// Warm the cache first
	req := httptest.NewRequest(http.MethodGet, "/alerts/rules", nil)
	router.ServeHTTP(httptest.NewRecorder(), req)

	backend.mu.Lock()
	backend.listErr = errors.New("backend down")
	backend.mu.Unlock()

	req = httptest.NewRequest(http.MethodGet, "/alerts/rules?refresh=true", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	// Cached rules stay visible alongside the error
	assert.Equal(t, http.StatusOK, rec.Code)

	var envelope rulesEnvelope
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &envelope))
	require.Len(t, envelope.Rules, 1)
	assert.True(t, envelope.Stale)
	assert.Contains(t, envelope.Error, "backend down")
}

func TestHandleListRules_EmptyCacheOutageIs502(t *testing.T) {
	backend := &fakeBackend{listErr: errors.New("backend down")}
	router := setupRouter(backend)

	req := httptest.NewRequest(http.MethodGet, "/alerts/rules", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadGateway, rec.Code)
}

func TestHandleCreateRule(t *testing.T) {
	backend := &fakeBackend{}
	router := setupRouter(backend)

	body := `{
		"name": "New rule",
		"condition_type": "drift",
		"condition_config": {"threshold_percent": 5, "drift_type": "absolute"}
	}`
	req := httptest.NewRequest(http.MethodPost, "/alerts/rules", strings.NewReader(body))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusCreated, rec.Code)

	var created alerts.Rule
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &created))
	assert.Equal(t, "srv-1", created.ID)
	assert.Equal(t, "New rule", created.Name)
}

func TestHandleCreateRule_FailureReportsRollback(t *testing.T) {
	backend := &fakeBackend{createErr: errors.New("validation failed")}
	router := setupRouter(backend)

	body := `{"name": "Doomed", "condition_type": "drift"}`
	req := httptest.NewRequest(http.MethodPost, "/alerts/rules", strings.NewReader(body))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadGateway, rec.Code)

	var resp map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, true, resp["rolled_back"])
}

func TestHandleCreateRule_InvalidBody(t *testing.T) {
	router := setupRouter(&fakeBackend{})

	req := httptest.NewRequest(http.MethodPost, "/alerts/rules", strings.NewReader(`not json`))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandleUpdateRule(t *testing.T) {
	backend := &fakeBackend{rules: []alerts.Rule{activeRule("r1", "Before")}}
	router := setupRouter(backend)

	body := `{
		"name": "After",
		"condition_type": "drift",
		"condition_config": {"threshold_percent": 7, "drift_type": "absolute"}
	}`
	req := httptest.NewRequest(http.MethodPatch, "/alerts/rules/r1", strings.NewReader(body))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)

	var updated alerts.Rule
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &updated))
	assert.Equal(t, "r1", updated.ID)
	assert.Equal(t, "After", updated.Name)
}

func TestHandleDeleteRule(t *testing.T) {
	backend := &fakeBackend{rules: []alerts.Rule{activeRule("r1", "Remove me")}}
	router := setupRouter(backend)

	req := httptest.NewRequest(http.MethodDelete, "/alerts/rules/r1", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, backend.rules)
}

func TestHandleGetHistory(t *testing.T) {
	triggered := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	backend := &fakeBackend{history: []alerts.HistoryEntry{
		{TriggeredAt: triggered, WasTriggered: true},
	}}
	router := setupRouter(backend)

	req := httptest.NewRequest(http.MethodGet, "/alerts/rules/r1/history", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)

	var entries []alerts.HistoryEntry
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &entries))
	require.Len(t, entries, 1)
	assert.True(t, entries[0].WasTriggered)
}

func TestHandleListCommands(t *testing.T) {
	backend := &fakeBackend{}
	router := setupRouter(backend)

	body := `{"name": "New rule", "condition_type": "drift", "condition_config": {"threshold_percent": 5, "drift_type": "absolute"}}`
	req := httptest.NewRequest(http.MethodPost, "/alerts/rules", strings.NewReader(body))
	router.ServeHTTP(httptest.NewRecorder(), req)

	req = httptest.NewRequest(http.MethodGet, "/alerts/commands", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)

	var commands []alerts.Command
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &commands))
	require.Len(t, commands, 1)
	assert.Equal(t, alerts.CommandCreate, commands[0].Kind)
	assert.NotNil(t, commands[0].ConfirmedAt)
}
