package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/auditpulse/pulse-monitor/internal/models"
	"github.com/auditpulse/pulse-monitor/internal/monitor"
	"github.com/auditpulse/pulse-monitor/internal/repository"
	"github.com/auditpulse/pulse-monitor/internal/scheduler"
)

// AlertService is the consumer API the REST handlers expose.
type AlertService interface {
	ListAlerts(entityRef string) []models.Alert
	UnreadCount(entityRef string) int
	MarkRead(ctx context.Context, entityRef, alertID string) bool
	MarkAllRead(ctx context.Context, entityRef string) int
	Dismiss(ctx context.Context, entityRef, alertID string) bool
	Acknowledge(ctx context.Context, entityRef, alertID string) (models.RecommendedAction, error)
	TriggerEvaluation(entityRef string) (queued bool, err error)
	SetMonitoring(ctx context.Context, entityRef string, enabled bool) error
}

// Pinger reports backing store health for /ready.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Handler manages HTTP request handlers
type Handler struct {
	svc        AlertService
	db         Pinger
	retryAfter time.Duration
	logger     *zap.Logger
}

// NewHandler creates a new HTTP handler. retryAfter is advertised on 429s.
func NewHandler(svc AlertService, db Pinger, retryAfter time.Duration, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{svc: svc, db: db, retryAfter: retryAfter, logger: logger}
}

// SetupRoutes configures API routes under router.
func SetupRoutes(router *mux.Router, h *Handler) {
	api := router.PathPrefix("/api/v1").Subrouter()
	api.HandleFunc("/entities/{entity}/alerts", h.ListAlerts).Methods(http.MethodGet)
	api.HandleFunc("/entities/{entity}/alerts/unread-count", h.UnreadCount).Methods(http.MethodGet)
	api.HandleFunc("/entities/{entity}/alerts/read-all", h.MarkAllRead).Methods(http.MethodPost)
	api.HandleFunc("/entities/{entity}/alerts/{id}/read", h.MarkRead).Methods(http.MethodPost)
	api.HandleFunc("/entities/{entity}/alerts/{id}/act", h.Acknowledge).Methods(http.MethodPost)
	api.HandleFunc("/entities/{entity}/alerts/{id}", h.Dismiss).Methods(http.MethodDelete)
	api.HandleFunc("/entities/{entity}/evaluate", h.TriggerEvaluation).Methods(http.MethodPost)
	api.HandleFunc("/entities/{entity}/monitoring", h.SetMonitoring).Methods(http.MethodPost)

	router.HandleFunc("/health", h.Live).Methods(http.MethodGet)
	router.HandleFunc("/ready", h.Ready).Methods(http.MethodGet)
}

type alertListResponse struct {
	EntityRef   string         `json:"entity_ref"`
	Alerts      []models.Alert `json:"alerts"`
	UnreadCount int            `json:"unread_count"`
}

// ListAlerts handles GET /entities/{entity}/alerts
func (h *Handler) ListAlerts(w http.ResponseWriter, r *http.Request) {
	entity := mux.Vars(r)["entity"]
	respondJSON(w, http.StatusOK, alertListResponse{
		EntityRef:   entity,
		Alerts:      h.svc.ListAlerts(entity),
		UnreadCount: h.svc.UnreadCount(entity),
	})
}

// UnreadCount handles GET /entities/{entity}/alerts/unread-count
func (h *Handler) UnreadCount(w http.ResponseWriter, r *http.Request) {
	entity := mux.Vars(r)["entity"]
	respondJSON(w, http.StatusOK, map[string]any{
		"entity_ref":   entity,
		"unread_count": h.svc.UnreadCount(entity),
	})
}

// MarkRead handles POST /entities/{entity}/alerts/{id}/read. Unknown ids are a no-op.
func (h *Handler) MarkRead(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	updated := h.svc.MarkRead(r.Context(), vars["entity"], vars["id"])
	respondJSON(w, http.StatusOK, map[string]any{"alert_id": vars["id"], "updated": updated})
}

// MarkAllRead handles POST /entities/{entity}/alerts/read-all
func (h *Handler) MarkAllRead(w http.ResponseWriter, r *http.Request) {
	n := h.svc.MarkAllRead(r.Context(), mux.Vars(r)["entity"])
	respondJSON(w, http.StatusOK, map[string]int{"updated": n})
}

// Dismiss handles DELETE /entities/{entity}/alerts/{id}. Unknown ids are a no-op.
func (h *Handler) Dismiss(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	h.svc.Dismiss(r.Context(), vars["entity"], vars["id"])
	w.WriteHeader(http.StatusNoContent)
}

// Acknowledge handles POST /entities/{entity}/alerts/{id}/act
func (h *Handler) Acknowledge(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	action, err := h.svc.Acknowledge(r.Context(), vars["entity"], vars["id"])
	if errors.Is(err, monitor.ErrAlertNotFound) {
		respondError(w, r, http.StatusNotFound, ErrCodeNotFound, "alert not found")
		return
	}
	if err != nil {
		h.logger.Error("acknowledge failed", zap.Error(err))
		respondError(w, r, http.StatusInternalServerError, ErrCodeInternalError, "failed to route action")
		return
	}
	respondJSON(w, http.StatusAccepted, action)
}

// TriggerEvaluation handles POST /entities/{entity}/evaluate
func (h *Handler) TriggerEvaluation(w http.ResponseWriter, r *http.Request) {
	queued, err := h.svc.TriggerEvaluation(mux.Vars(r)["entity"])
	switch {
	case errors.Is(err, monitor.ErrRateLimited):
		if h.retryAfter > 0 {
			w.Header().Set("Retry-After", strconv.Itoa(int(h.retryAfter.Round(time.Second).Seconds())))
		}
		respondError(w, r, http.StatusTooManyRequests, ErrCodeRateLimitExceeded, err.Error())
	case errors.Is(err, monitor.ErrNotMonitored):
		respondError(w, r, http.StatusConflict, ErrCodeConflict, err.Error())
	case err != nil:
		respondError(w, r, http.StatusInternalServerError, ErrCodeInternalError, "failed to queue evaluation")
	default:
		respondJSON(w, http.StatusAccepted, map[string]bool{"queued": queued})
	}
}

// SetMonitoring handles POST /entities/{entity}/monitoring with {"enabled": bool}
func (h *Handler) SetMonitoring(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Enabled *bool `json:"enabled"`
	}
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<10)).Decode(&req); err != nil || req.Enabled == nil {
		respondError(w, r, http.StatusBadRequest, ErrCodeInvalidRequest, `body must be {"enabled": true|false}`)
		return
	}

	entity := mux.Vars(r)["entity"]
	err := h.svc.SetMonitoring(r.Context(), entity, *req.Enabled)
	switch {
	case errors.Is(err, repository.ErrEntityNotFound):
		respondError(w, r, http.StatusNotFound, ErrCodeNotFound, "entity not found")
	case errors.Is(err, scheduler.ErrNotEligible):
		respondError(w, r, http.StatusForbidden, ErrCodeForbidden, "entity tier does not include monitoring")
	case err != nil:
		h.logger.Error("set monitoring failed", zap.String("entity", entity), zap.Error(err))
		respondError(w, r, http.StatusInternalServerError, ErrCodeInternalError, "failed to update monitoring")
	default:
		respondJSON(w, http.StatusOK, map[string]any{"entity_ref": entity, "enabled": *req.Enabled})
	}
}

// Live handles GET /health
func (h *Handler) Live(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// Ready handles GET /ready, failing while the database is unreachable.
func (h *Handler) Ready(w http.ResponseWriter, r *http.Request) {
	if h.db != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := h.db.Ping(ctx); err != nil {
			respondJSON(w, http.StatusServiceUnavailable, map[string]string{
				"status": "unhealthy",
				"reason": "database_unavailable",
			})
			return
		}
	}
	respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
