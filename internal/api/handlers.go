// Metricus - Web Property Analytics Synchronization
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/metricus

/*
handlers.go - HTTP Handlers

Operator-facing surface over the sync engine: trigger syncs and resyncs
(asynchronously through the job queue), refresh the current month inline,
inspect and force-expire fetch statuses, and validate a client's reporting
access. All responses share one JSON envelope.
*/
package api

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/goccy/go-json"

	"github.com/tomtom215/metricus/internal/jobs"
	"github.com/tomtom215/metricus/internal/logging"
	"github.com/tomtom215/metricus/internal/models"
	"github.com/tomtom215/metricus/internal/status"
	syncpkg "github.com/tomtom215/metricus/internal/sync"
)

// apiResponse is the shared response envelope.
type apiResponse struct {
	Status string      `json:"status"`
	Data   interface{} `json:"data,omitempty"`
	Error  string      `json:"error,omitempty"`
}

// ClientDirectory answers existence checks for path-addressed clients.
// Implemented by *database.DB.
type ClientDirectory interface {
	ClientExists(ctx context.Context, clientID string) (bool, error)
	Ping(ctx context.Context) error
}

// SyncService is the sync engine surface the handlers drive. Implemented by
// *sync.Orchestrator.
type SyncService interface {
	SmartFetch(ctx context.Context, clientID string, periodCount int, forceRefresh bool) *models.RunResult
	ExecuteCompleteResync(ctx context.Context, clientID string) *models.ResyncResult
	RefreshCurrentPeriod(ctx context.Context, clientID string) *models.CurrentPeriodResult
	ValidateClientAccess(ctx context.Context, clientID string) (bool, error)
}

// compile-time check that the orchestrator satisfies SyncService.
var _ SyncService = (*syncpkg.Orchestrator)(nil)

// Handler carries the handlers' dependencies.
type Handler struct {
	orchestrator SyncService
	registry     *status.Registry
	queue        *jobs.Queue
	clients      ClientDirectory
}

// NewHandler wires the handler set.
func NewHandler(orchestrator SyncService, registry *status.Registry, queue *jobs.Queue, clients ClientDirectory) *Handler {
	return &Handler{
		orchestrator: orchestrator,
		registry:     registry,
		queue:        queue,
		clients:      clients,
	}
}

// respondJSON sends a JSON response with proper headers.
func respondJSON(w http.ResponseWriter, status int, response *apiResponse) {
	w.Header().Set("Content-Type", "application/json")

	data, err := json.Marshal(response)
	if err != nil {
		logging.Error().Err(err).Msg("Failed to marshal JSON response")
		w.WriteHeader(http.StatusInternalServerError)
		return
	}

	w.WriteHeader(status)
	if _, err := w.Write(data); err != nil {
		logging.Error().Err(err).Msg("Failed to write JSON response")
	}
}

// respondError sends an error response.
func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, &apiResponse{Status: "error", Error: message})
}

// resolveClient extracts and validates the clientID path parameter. Writes
// the error response itself and returns "" when the client is unknown.
func (h *Handler) resolveClient(w http.ResponseWriter, r *http.Request) string {
	clientID := chi.URLParam(r, "clientID")
	if clientID == "" {
		respondError(w, http.StatusBadRequest, "missing client ID")
		return ""
	}

	exists, err := h.clients.ClientExists(r.Context(), clientID)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to look up client")
		return ""
	}
	if !exists {
		respondError(w, http.StatusNotFound, "unknown client "+clientID)
		return ""
	}
	return clientID
}

// TriggerSync submits an asynchronous sync run for a client.
// POST /api/v1/clients/{clientID}/sync?force=true&periods=N
func (h *Handler) TriggerSync(w http.ResponseWriter, r *http.Request) {
	clientID := h.resolveClient(w, r)
	if clientID == "" {
		return
	}

	force := r.URL.Query().Get("force") == "true"
	periods := 0
	if raw := r.URL.Query().Get("periods"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			respondError(w, http.StatusBadRequest, "periods must be a non-negative integer")
			return
		}
		periods = n
	}

	jobID, err := h.queue.Submit("sync:"+clientID, jobs.PriorityNormal, func(ctx context.Context) error {
		result := h.orchestrator.SmartFetch(ctx, clientID, periods, force)
		if !result.Success {
			return errors.New("sync finished with errors")
		}
		return nil
	})
	if err != nil {
		respondError(w, http.StatusServiceUnavailable, err.Error())
		return
	}

	respondJSON(w, http.StatusAccepted, &apiResponse{
		Status: "accepted",
		Data:   map[string]string{"job_id": jobID},
	})
}

// TriggerResync submits an asynchronous complete resync: clear everything
// and refetch the full window.
// POST /api/v1/clients/{clientID}/resync
func (h *Handler) TriggerResync(w http.ResponseWriter, r *http.Request) {
	clientID := h.resolveClient(w, r)
	if clientID == "" {
		return
	}

	jobID, err := h.queue.Submit("resync:"+clientID, jobs.PriorityHigh, func(ctx context.Context) error {
		result := h.orchestrator.ExecuteCompleteResync(ctx, clientID)
		if !result.Success {
			return errors.New("resync finished with errors")
		}
		return nil
	})
	if err != nil {
		respondError(w, http.StatusServiceUnavailable, err.Error())
		return
	}

	respondJSON(w, http.StatusAccepted, &apiResponse{
		Status: "accepted",
		Data:   map[string]string{"job_id": jobID},
	})
}

// RefreshCurrent refetches the present month inline and returns the
// month-to-date summary.
// POST /api/v1/clients/{clientID}/refresh-current
func (h *Handler) RefreshCurrent(w http.ResponseWriter, r *http.Request) {
	clientID := h.resolveClient(w, r)
	if clientID == "" {
		return
	}

	result := h.orchestrator.RefreshCurrentPeriod(r.Context(), clientID)
	code := http.StatusOK
	if !result.Success {
		code = http.StatusBadGateway
	}
	respondJSON(w, code, &apiResponse{Status: "ok", Data: result})
}

// ClientStatuses lists tracked fetch statuses for a client.
// GET /api/v1/clients/{clientID}/statuses
func (h *Handler) ClientStatuses(w http.ResponseWriter, r *http.Request) {
	clientID := h.resolveClient(w, r)
	if clientID == "" {
		return
	}

	statuses := h.registry.GetClientStatuses(clientID)
	if statuses == nil {
		statuses = []models.FetchStatus{}
	}
	respondJSON(w, http.StatusOK, &apiResponse{Status: "ok", Data: statuses})
}

// ForceExpire settles a stuck in-progress fetch.
// DELETE /api/v1/clients/{clientID}/statuses/{period}
func (h *Handler) ForceExpire(w http.ResponseWriter, r *http.Request) {
	clientID := h.resolveClient(w, r)
	if clientID == "" {
		return
	}
	period := chi.URLParam(r, "period")

	if !h.registry.ForceExpireFetch(clientID, period) {
		respondError(w, http.StatusNotFound, "no in-progress fetch for "+period)
		return
	}
	respondJSON(w, http.StatusOK, &apiResponse{Status: "ok"})
}

// RegistryStats reports registry-wide counters.
// GET /api/v1/status/stats
func (h *Handler) RegistryStats(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, &apiResponse{Status: "ok", Data: h.registry.GetStats()})
}

// ValidateAccess probes the client's reporting property.
// GET /api/v1/clients/{clientID}/validate
func (h *Handler) ValidateAccess(w http.ResponseWriter, r *http.Request) {
	clientID := h.resolveClient(w, r)
	if clientID == "" {
		return
	}

	ok, err := h.orchestrator.ValidateClientAccess(r.Context(), clientID)
	if err != nil {
		var authErr *models.AuthenticationError
		if errors.As(err, &authErr) {
			respondError(w, http.StatusUnprocessableEntity, authErr.Error())
			return
		}
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}

	respondJSON(w, http.StatusOK, &apiResponse{
		Status: "ok",
		Data:   map[string]bool{"accessible": ok},
	})
}

// Health reports liveness and database reachability.
// GET /api/v1/health
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	if err := h.clients.Ping(r.Context()); err != nil {
		respondJSON(w, http.StatusServiceUnavailable, &apiResponse{
			Status: "degraded",
			Error:  "database unreachable",
		})
		return
	}
	respondJSON(w, http.StatusOK, &apiResponse{Status: "ok"})
}
