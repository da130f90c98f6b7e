// Package handlers exposes the HTTP API: health, manual detection triggers,
// signal lifecycle actions and alert statistics.
package handlers

import (
	"errors"
	"log"
	"net/http"
	"strconv"
	"time"

	"gorm.io/gorm"

	"github.com/orgpulse/orgpulse/internal/api"
	"github.com/orgpulse/orgpulse/internal/database"
	"github.com/orgpulse/orgpulse/internal/jobs"
	"github.com/orgpulse/orgpulse/internal/services"
)

// APIHandler handles API endpoints for operators and dashboards
type APIHandler struct {
	db            *gorm.DB
	signalService *services.SignalService
	statsService  *services.StatsService
	detectionJob  *jobs.DetectionJob
	alertJob      *jobs.AlertJob
}

// NewAPIHandler creates a new API handler
func NewAPIHandler(db *gorm.DB, signalService *services.SignalService, statsService *services.StatsService, detectionJob *jobs.DetectionJob, alertJob *jobs.AlertJob) *APIHandler {
	return &APIHandler{
		db:            db,
		signalService: signalService,
		statsService:  statsService,
		detectionJob:  detectionJob,
		alertJob:      alertJob,
	}
}

// SetupRoutes sets up all API routes
func (h *APIHandler) SetupRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /health", h.handleHealth)

	// Detection
	mux.HandleFunc("POST /api/tenants/{id}/detect", h.handleDetect)
	mux.HandleFunc("GET /api/tenants/{id}/signals", h.handleListSignals)

	// Signal lifecycle
	mux.HandleFunc("GET /api/signals/{uuid}", h.handleGetSignal)
	mux.HandleFunc("POST /api/signals/{uuid}/investigate", h.handleSignalAction(h.signalService.StartInvestigation))
	mux.HandleFunc("POST /api/signals/{uuid}/validate", h.handleSignalAction(h.signalService.Validate))
	mux.HandleFunc("POST /api/signals/{uuid}/dismiss", h.handleSignalAction(h.signalService.Dismiss))
	mux.HandleFunc("POST /api/signals/{uuid}/escalate", h.handleSignalAction(h.signalService.Escalate))

	// Alerting
	mux.HandleFunc("GET /api/tenants/{id}/alert-stats", h.handleAlertStats)
}

func (h *APIHandler) handleHealth(w http.ResponseWriter, r *http.Request) {
	api.RespondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// detectRequest is the body of a manual detection trigger
type detectRequest struct {
	HoursBack int `json:"hours_back"`
}

// detectResponse reports what the synchronous run produced
type detectResponse struct {
	RunUUID            string `json:"run_uuid"`
	Status             string `json:"status"`
	SignalsDetected    int    `json:"signals_detected"`
	IncidentsProcessed int    `json:"incidents_processed"`
	DaysAnalyzed       int    `json:"days_analyzed"`
	AlertsTriggered    int    `json:"alerts_triggered"`
	DurationMs         int64  `json:"duration_ms"`
	ErrorMessage       string `json:"error_message,omitempty"`
	DeduplicatedFrom   string `json:"deduplicated_from,omitempty"`
}

// handleDetect runs detection synchronously for one tenant and feeds the
// produced signals straight through alert processing.
func (h *APIHandler) handleDetect(w http.ResponseWriter, r *http.Request) {
	tenant, ok := h.tenantFromPath(w, r)
	if !ok {
		return
	}

	var req detectRequest
	if r.ContentLength > 0 {
		if err := api.DecodeJSON(r, &req); err != nil {
			api.RespondError(w, http.StatusBadRequest, err.Error())
			return
		}
	}

	// The analyzers work at day granularity, so hours_back is rounded up to
	// whole days (a 6-hour request analyzes one full day).
	daysBack := 0
	if req.HoursBack > 0 {
		daysBack = (req.HoursBack + 23) / 24
	}

	start := time.Now()
	run, err := h.detectionJob.RunTenant(tenant.ID, daysBack, true)
	if err != nil {
		log.Printf("Manual detection failed for tenant %d: %v", tenant.ID, err)
		api.RespondError(w, http.StatusInternalServerError, "Detection run failed")
		return
	}
	if run == nil {
		api.RespondError(w, http.StatusConflict, "A detection run is already in progress for this tenant")
		return
	}

	triggered, incidents, err := h.alertJob.ProcessTenantSince(r.Context(), tenant.ID, start)
	if err != nil {
		log.Printf("Alert processing after manual detection failed for tenant %d: %v", tenant.ID, err)
	}

	api.RespondJSON(w, http.StatusOK, detectResponse{
		RunUUID:            run.UUID,
		Status:             string(run.Status),
		SignalsDetected:    run.SignalsDetected,
		IncidentsProcessed: incidents,
		DaysAnalyzed:       run.DaysAnalyzed,
		AlertsTriggered:    triggered,
		DurationMs:         run.DurationMs,
		ErrorMessage:       run.ErrorMessage,
	})
}

func (h *APIHandler) handleListSignals(w http.ResponseWriter, r *http.Request) {
	tenant, ok := h.tenantFromPath(w, r)
	if !ok {
		return
	}

	filter := services.SignalFilter{
		Status:   database.SignalStatus(r.URL.Query().Get("status")),
		Severity: database.Severity(r.URL.Query().Get("severity")),
		Type:     database.SignalType(r.URL.Query().Get("type")),
	}
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			filter.Limit = n
		}
	}
	if v := r.URL.Query().Get("since_hours"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			filter.Since = time.Now().Add(-time.Duration(n) * time.Hour)
		}
	}

	signals, err := h.signalService.List(tenant.ID, filter)
	if err != nil {
		api.RespondError(w, http.StatusInternalServerError, "Failed to list signals")
		return
	}
	api.RespondJSON(w, http.StatusOK, signals)
}

func (h *APIHandler) handleGetSignal(w http.ResponseWriter, r *http.Request) {
	signal, err := h.signalService.GetByUUID(r.PathValue("uuid"))
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			api.RespondError(w, http.StatusNotFound, "Signal not found")
			return
		}
		api.RespondError(w, http.StatusInternalServerError, "Failed to load signal")
		return
	}
	api.RespondJSON(w, http.StatusOK, signal)
}

// signalActionRequest carries optional investigator notes
type signalActionRequest struct {
	Notes string `json:"notes"`
}

// handleSignalAction wraps one lifecycle transition into an HTTP handler
func (h *APIHandler) handleSignalAction(action func(uuid, notes string) (*database.Signal, error)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req signalActionRequest
		if r.ContentLength > 0 {
			if err := api.DecodeJSON(r, &req); err != nil {
				api.RespondError(w, http.StatusBadRequest, err.Error())
				return
			}
		}

		signal, err := action(r.PathValue("uuid"), req.Notes)
		if err != nil {
			switch {
			case errors.Is(err, gorm.ErrRecordNotFound):
				api.RespondError(w, http.StatusNotFound, "Signal not found")
			case errors.Is(err, services.ErrInvalidTransition):
				api.RespondError(w, http.StatusConflict, err.Error())
			default:
				api.RespondError(w, http.StatusInternalServerError, "Failed to update signal")
			}
			return
		}
		api.RespondJSON(w, http.StatusOK, signal)
	}
}

func (h *APIHandler) handleAlertStats(w http.ResponseWriter, r *http.Request) {
	tenant, ok := h.tenantFromPath(w, r)
	if !ok {
		return
	}

	stats, err := h.statsService.TenantStats(tenant.ID)
	if err != nil {
		api.RespondError(w, http.StatusInternalServerError, "Failed to compute alert stats")
		return
	}
	api.RespondJSON(w, http.StatusOK, stats)
}

// tenantFromPath resolves the {id} path value, accepting numeric IDs or UUIDs
func (h *APIHandler) tenantFromPath(w http.ResponseWriter, r *http.Request) (*database.Tenant, bool) {
	raw := r.PathValue("id")

	var tenant database.Tenant
	var err error
	if id, convErr := strconv.ParseUint(raw, 10, 64); convErr == nil {
		err = h.db.First(&tenant, uint(id)).Error
	} else {
		err = h.db.Where("uuid = ?", raw).First(&tenant).Error
	}
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			api.RespondError(w, http.StatusNotFound, "Tenant not found")
		} else {
			api.RespondError(w, http.StatusInternalServerError, "Failed to load tenant")
		}
		return nil, false
	}
	return &tenant, true
}
