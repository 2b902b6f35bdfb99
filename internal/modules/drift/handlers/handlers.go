// Package handlers provides HTTP handlers for drift status and refresh.
package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/aristath/driftwatch/internal/modules/drift"
	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
)

// Handler handles drift HTTP requests
type Handler struct {
	coordinator *drift.Coordinator
	log         zerolog.Logger
}

// NewHandler creates a new drift handler
func NewHandler(coordinator *drift.Coordinator, log zerolog.Logger) *Handler {
	return &Handler{
		coordinator: coordinator,
		log:         log.With().Str("handler", "drift").Logger(),
	}
}

// RegisterRoutes registers all drift routes
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Route("/drift", func(r chi.Router) {
		r.Get("/", h.HandleGetStatus)
		r.Post("/refresh", h.HandleRefresh)
	})
}

// HandleGetStatus returns the coordinator state and whatever bucket
// data is available. An initializing coordinator triggers a first
// refresh so a freshly mounted dashboard does not sit empty.
func (h *Handler) HandleGetStatus(w http.ResponseWriter, r *http.Request) {
	status := h.coordinator.Status()

	if status.State == drift.StateInitializing {
		_ = h.refresh(r)
		status = h.coordinator.Status()
	}

	h.writeJSON(w, http.StatusOK, status)
}

// HandleRefresh is the explicit recovery edge out of the error and
// setup-required states.
func (h *Handler) HandleRefresh(w http.ResponseWriter, r *http.Request) {
	err := h.refresh(r)

	status := h.coordinator.Status()

	var setupErr *drift.SetupRequiredError
	switch {
	case err == nil:
		h.writeJSON(w, http.StatusOK, status)
	case errors.As(err, &setupErr):
		// Not a failure: the caller routes the user to the allocation
		// editor and still gets the current allocations.
		h.writeJSON(w, http.StatusOK, status)
	default:
		h.writeJSON(w, http.StatusBadGateway, status)
	}
}

func (h *Handler) refresh(r *http.Request) error {
	err := h.coordinator.Refresh(r.Context())
	if err != nil {
		var setupErr *drift.SetupRequiredError
		if !errors.As(err, &setupErr) {
			h.log.Warn().Err(err).Msg("Drift refresh failed")
		}
	}
	return err
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.log.Error().Err(err).Msg("Failed to encode JSON response")
	}
}
