// Package handlers provides HTTP handlers for the drift snapshot
// history.
package handlers

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/aristath/driftwatch/internal/modules/snapshots"
	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
)

// Handler handles snapshot HTTP requests
type Handler struct {
	repo *snapshots.Repository
	log  zerolog.Logger
}

// NewHandler creates a new snapshots handler
func NewHandler(repo *snapshots.Repository, log zerolog.Logger) *Handler {
	return &Handler{
		repo: repo,
		log:  log.With().Str("handler", "snapshots").Logger(),
	}
}

// RegisterRoutes registers all snapshot routes
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Route("/drift/history", func(r chi.Router) {
		r.Get("/", h.HandleLatest)
		r.Get("/{bucket}", h.HandleGetSeries)
	})
}

// HandleLatest returns the most recent snapshot per bucket.
func (h *Handler) HandleLatest(w http.ResponseWriter, r *http.Request) {
	latest, err := h.repo.Latest()
	if err != nil {
		h.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	h.writeJSON(w, http.StatusOK, latest)
}

// HandleGetSeries returns the snapshot time series for one bucket.
// Query params: days (default 30), limit (default unlimited).
func (h *Handler) HandleGetSeries(w http.ResponseWriter, r *http.Request) {
	bucket := chi.URLParam(r, "bucket")

	days := 30
	if v := r.URL.Query().Get("days"); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil && parsed > 0 {
			days = parsed
		}
	}

	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil && parsed > 0 {
			limit = parsed
		}
	}

	since := time.Now().AddDate(0, 0, -days)
	series, err := h.repo.GetSeries(bucket, since, limit)
	if err != nil {
		h.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	h.writeJSON(w, http.StatusOK, map[string]interface{}{
		"bucket":    bucket,
		"days":      days,
		"snapshots": series,
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
