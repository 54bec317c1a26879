// Package handlers serves the sync status and control REST surface.
package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/aristath/moneta/internal/aggregator"
	"github.com/aristath/moneta/internal/auth"
	"github.com/aristath/moneta/internal/domain"
	"github.com/aristath/moneta/internal/networth"
	"github.com/aristath/moneta/internal/ofxsync"
	"github.com/aristath/moneta/internal/synclog"
)

// Handler handles sync HTTP requests
type Handler struct {
	logs      *synclog.Repository
	links     *aggregator.Repository
	ofx       *ofxsync.Driver // nil = no OFX institutions configured
	aggSync   *aggregator.SyncService
	snapshots *networth.Service
	log       zerolog.Logger
}

// NewHandler creates a new sync handler
func NewHandler(
	logs *synclog.Repository,
	links *aggregator.Repository,
	ofx *ofxsync.Driver,
	aggSync *aggregator.SyncService,
	snapshots *networth.Service,
	log zerolog.Logger,
) *Handler {
	return &Handler{
		logs:      logs,
		links:     links,
		ofx:       ofx,
		aggSync:   aggSync,
		snapshots: snapshots,
		log:       log.With().Str("handler", "sync").Logger(),
	}
}

// RegisterRoutes mounts the sync routes
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/status", h.HandleStatus)
	r.Get("/log", h.HandleLog)
	r.Post("/force", h.HandleForce)
	r.Post("/snapshot", h.HandleSnapshot)
}

type institutionStatus struct {
	Name         string `json:"name"`
	Method       string `json:"method"`
	Status       string `json:"status"`
	ErrorCode    string `json:"error_code,omitempty"`
	ErrorMessage string `json:"error_message,omitempty"`
	FailureCount int    `json:"failure_count,omitempty"`
	LastSyncedAt string `json:"last_synced_at,omitempty"`
}

// HandleStatus reports per-institution health across every ingestion method
func (h *Handler) HandleStatus(w http.ResponseWriter, r *http.Request) {
	statuses := []institutionStatus{}

	links, err := h.links.ListLinks(auth.UserID(r.Context()))
	if err != nil {
		h.writeError(w, http.StatusInternalServerError, "Failed to load link statuses")
		return
	}
	for _, link := range links {
		s := institutionStatus{
			Name:         link.InstitutionName,
			Method:       link.SourceKind,
			Status:       string(link.Status),
			ErrorCode:    link.ErrorCode,
			ErrorMessage: link.ErrorMessage,
		}
		if link.LastSyncedAt != nil {
			s.LastSyncedAt = link.LastSyncedAt.Format(time.RFC3339)
		}
		statuses = append(statuses, s)
	}

	if h.ofx != nil {
		for _, inst := range h.ofx.Institutions() {
			failures := h.ofx.FailureCount(inst.Name)
			status := "good"
			if failures > 0 {
				status = "error"
			}
			statuses = append(statuses, institutionStatus{
				Name:         inst.Name,
				Method:       "ofx",
				Status:       status,
				FailureCount: failures,
			})
		}
	}

	h.writeJSON(w, http.StatusOK, map[string]interface{}{"data": statuses})
}

// HandleLog returns recent sync attempts, newest first
func (h *Handler) HandleLog(w http.ResponseWriter, r *http.Request) {
	limit := 50
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if parsed, err := strconv.Atoi(raw); err == nil && parsed > 0 {
			limit = parsed
		}
	}
	logs, err := h.logs.Recent(limit)
	if err != nil {
		h.writeError(w, http.StatusInternalServerError, "Failed to load sync log")
		return
	}
	if logs == nil {
		logs = []domain.SyncLog{}
	}
	h.writeJSON(w, http.StatusOK, map[string]interface{}{"data": logs})
}

// HandleForce runs every sync path in the background and returns immediately
func (h *Handler) HandleForce(w http.ResponseWriter, r *http.Request) {
	userID := auth.UserID(r.Context())
	h.background(func(ctx context.Context) {
		if h.ofx != nil {
			h.ofx.SyncAll(ctx, userID)
		}
		h.aggSync.SyncAll(ctx)
		if _, err := h.snapshots.Snapshot(ctx, userID); err != nil {
			h.log.Error().Err(err).Msg("Post-sync snapshot failed")
		}
	})
	h.writeJSON(w, http.StatusOK, map[string]interface{}{"success": true, "message": "Sync started in background"})
}

// HandleSnapshot computes a net-worth snapshot in the background
func (h *Handler) HandleSnapshot(w http.ResponseWriter, r *http.Request) {
	userID := auth.UserID(r.Context())
	h.background(func(ctx context.Context) {
		if _, err := h.snapshots.Snapshot(ctx, userID); err != nil {
			h.log.Error().Err(err).Msg("Snapshot failed")
		}
	})
	h.writeJSON(w, http.StatusOK, map[string]interface{}{"success": true, "message": "Snapshot started in background"})
}

func (h *Handler) background(fn func(ctx context.Context)) {
	go func() {
		defer func() {
			if rec := recover(); rec != nil {
				h.log.Error().Interface("panic", rec).Msg("Background task panicked")
			}
		}()
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
		defer cancel()
		fn(ctx)
	}()
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
