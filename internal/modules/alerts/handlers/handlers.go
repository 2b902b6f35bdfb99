// Package handlers provides HTTP handlers for alert rule CRUD on top
// of the cached store.
package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/aristath/driftwatch/internal/modules/alerts"
	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
)

// HistoryAPI fetches rule evaluation history from the backend.
type HistoryAPI interface {
	FetchAlertHistory(ctx context.Context, ruleID string) ([]alerts.HistoryEntry, error)
}

// Handler handles alert rule HTTP requests
type Handler struct {
	store   *alerts.Store
	history HistoryAPI
	log     zerolog.Logger
}

// NewHandler creates a new alerts handler
func NewHandler(store *alerts.Store, history HistoryAPI, log zerolog.Logger) *Handler {
	return &Handler{
		store:   store,
		history: history,
		log:     log.With().Str("handler", "alerts").Logger(),
	}
}

// RegisterRoutes registers all alert routes
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Route("/alerts", func(r chi.Router) {
		r.Get("/rules", h.HandleListRules)
		r.Post("/rules", h.HandleCreateRule)
		r.Patch("/rules/{id}", h.HandleUpdateRule)
		r.Delete("/rules/{id}", h.HandleDeleteRule)
		r.Get("/rules/{id}/history", h.HandleGetHistory)
		r.Get("/commands", h.HandleListCommands)
	})
}

// HandleListRules returns the cached rule list. ?refresh=true forces a
// backend fetch. When the backend is down, stale-but-present data is
// returned with the error alongside so the UI can keep rendering.
func (h *Handler) HandleListRules(w http.ResponseWriter, r *http.Request) {
	force, _ := strconv.ParseBool(r.URL.Query().Get("refresh"))

	rules, err := h.store.GetRules(r.Context(), force)
	if err != nil {
		if len(rules) == 0 {
			h.writeError(w, http.StatusBadGateway, err.Error())
			return
		}
		h.writeJSON(w, http.StatusOK, map[string]interface{}{
			"rules": rules,
			"stale": true,
			"error": err.Error(),
		})
		return
	}

	h.writeJSON(w, http.StatusOK, map[string]interface{}{
		"rules": rules,
		"stale": h.store.IsStale(),
	})
}

// HandleCreateRule creates a rule through the optimistic store.
func (h *Handler) HandleCreateRule(w http.ResponseWriter, r *http.Request) {
	var rule alerts.Rule
	if err := json.NewDecoder(r.Body).Decode(&rule); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	rule.ID = ""

	created, err := h.store.CreateOrUpdate(r.Context(), rule)
	if err != nil {
		h.writeMutationError(w, err)
		return
	}

	h.writeJSON(w, http.StatusCreated, created)
}

// HandleUpdateRule updates a rule through the optimistic store.
func (h *Handler) HandleUpdateRule(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	var rule alerts.Rule
	if err := json.NewDecoder(r.Body).Decode(&rule); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	rule.ID = id

	updated, err := h.store.CreateOrUpdate(r.Context(), rule)
	if err != nil {
		h.writeMutationError(w, err)
		return
	}

	h.writeJSON(w, http.StatusOK, updated)
}

// HandleDeleteRule deletes a rule through the optimistic store.
func (h *Handler) HandleDeleteRule(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	if err := h.store.Delete(r.Context(), id); err != nil {
		h.writeMutationError(w, err)
		return
	}

	h.writeJSON(w, http.StatusOK, map[string]string{"deleted": id})
}

// HandleGetHistory returns backend evaluation history for one rule.
func (h *Handler) HandleGetHistory(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	entries, err := h.history.FetchAlertHistory(r.Context(), id)
	if err != nil {
		h.writeError(w, http.StatusBadGateway, err.Error())
		return
	}

	h.writeJSON(w, http.StatusOK, entries)
}

// HandleListCommands exposes the mutation command log for debugging
// optimistic-update behavior.
func (h *Handler) HandleListCommands(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, h.store.Commands())
}

// writeMutationError distinguishes a rolled-back optimistic mutation
// from plain bad input: the former is a backend-side failure.
func (h *Handler) writeMutationError(w http.ResponseWriter, err error) {
	var mutErr *alerts.MutationError
	if errors.As(err, &mutErr) {
		h.writeJSON(w, http.StatusBadGateway, map[string]interface{}{
			"error":       mutErr.Error(),
			"rolled_back": true,
		})
		return
	}
	h.writeError(w, http.StatusInternalServerError, err.Error())
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.log.Error().Err(err).Msg("Failed to encode JSON response")
	}
}

func (h *Handler) writeError(w http.ResponseWriter, status int, message string) {
	h.writeJSON(w, status, map[string]string{"error": message})
}
