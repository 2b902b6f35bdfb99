// Package handlers provides HTTP handlers for allocation categories
// and target editing.
package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/aristath/driftwatch/internal/clients/brokerage"
	"github.com/aristath/driftwatch/internal/events"
	"github.com/aristath/driftwatch/internal/modules/allocation"
	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
)

// CategoryAPI is the backend surface the allocation handlers consume.
type CategoryAPI interface {
	FetchAssetClasses(ctx context.Context) ([]brokerage.Category, error)
	FetchSectors(ctx context.Context) ([]brokerage.Category, error)
	SaveTargetAllocations(ctx context.Context, kind brokerage.CategoryKind, targets []brokerage.TargetAllocation) ([]brokerage.Category, error)
}

// Handler handles allocation HTTP requests
type Handler struct {
	api CategoryAPI
	bus *events.Manager
	log zerolog.Logger
}

// NewHandler creates a new allocation handler
func NewHandler(api CategoryAPI, bus *events.Manager, log zerolog.Logger) *Handler {
	return &Handler{
		api: api,
		bus: bus,
		log: log.With().Str("handler", "allocation").Logger(),
	}
}

// RegisterRoutes registers all allocation routes
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Route("/allocation", func(r chi.Router) {
		r.Get("/asset-classes", h.HandleGetAssetClasses)
		r.Get("/sectors", h.HandleGetSectors)
		r.Post("/targets/{kind}", h.HandleSaveTargets)
		r.Post("/auto-balance", h.HandleAutoBalance)
	})
}

// HandleGetAssetClasses returns asset class categories with targets
func (h *Handler) HandleGetAssetClasses(w http.ResponseWriter, r *http.Request) {
	cats, err := h.api.FetchAssetClasses(r.Context())
	if err != nil {
		h.writeError(w, http.StatusBadGateway, err.Error())
		return
	}
	h.writeJSON(w, http.StatusOK, cats)
}

// HandleGetSectors returns sector categories with targets
func (h *Handler) HandleGetSectors(w http.ResponseWriter, r *http.Request) {
	cats, err := h.api.FetchSectors(r.Context())
	if err != nil {
		h.writeError(w, http.StatusBadGateway, err.Error())
		return
	}
	h.writeJSON(w, http.StatusOK, cats)
}

// HandleSaveTargets validates that targets total 100 and forwards them
// to the backend. Validation failures never reach the network.
func (h *Handler) HandleSaveTargets(w http.ResponseWriter, r *http.Request) {
	kind := chi.URLParam(r, "kind")
	var categoryKind brokerage.CategoryKind
	switch kind {
	case "asset-class":
		categoryKind = brokerage.KindAssetClass
	case "sector":
		categoryKind = brokerage.KindSector
	default:
		h.writeError(w, http.StatusNotFound, "unknown allocation kind: "+kind)
		return
	}

	var targets map[string]float64
	if err := json.NewDecoder(r.Body).Decode(&targets); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	if err := allocation.ValidateTargets(targets); err != nil {
		var validationErr *allocation.ValidationError
		if errors.As(err, &validationErr) {
			h.writeJSON(w, http.StatusUnprocessableEntity, map[string]interface{}{
				"error": validationErr.Error(),
				"total": validationErr.Total,
			})
			return
		}
		h.writeError(w, http.StatusUnprocessableEntity, err.Error())
		return
	}

	submission := make([]brokerage.TargetAllocation, 0, len(targets))
	for id, pct := range targets {
		submission = append(submission, brokerage.TargetAllocation{
			AssetID:          id,
			TargetPercentage: pct,
		})
	}

	cats, err := h.api.SaveTargetAllocations(r.Context(), categoryKind, submission)
	if err != nil {
		h.writeError(w, http.StatusBadGateway, err.Error())
		return
	}

	if h.bus != nil {
		h.bus.Emit(events.TargetsSaved, "allocation", map[string]interface{}{
			"kind":  kind,
			"count": len(submission),
		})
	}

	h.writeJSON(w, http.StatusOK, cats)
}

// HandleAutoBalance runs the balancer over the submitted working map
// and returns the balanced result. Nothing is persisted - the user
// reviews and saves explicitly.
func (h *Handler) HandleAutoBalance(w http.ResponseWriter, r *http.Request) {
	var allocs map[string]float64
	if err := json.NewDecoder(r.Body).Decode(&allocs); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	balanced := allocation.DistributeRemaining(allocs)

	var total float64
	for _, v := range balanced {
		total += v
	}

	h.writeJSON(w, http.StatusOK, map[string]interface{}{
		"allocations": balanced,
		"total":       allocation.Round(total, 2),
	})
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
