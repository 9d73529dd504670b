package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"

	"campaign-orchestrator/core/models"
	"campaign-orchestrator/core/scheduler"

	"github.com/gorilla/mux"
)

// CampaignStatus exposes the running scheduler's state
type CampaignStatus interface {
	Snapshot() scheduler.Snapshot
	Units() []models.UnitReport
}

// EventLister reads the campaign event ledger
type EventLister interface {
	List(ctx context.Context, campaign string, limit int) ([]models.CampaignEvent, error)
}

// CampaignHandler handles campaign status requests
type CampaignHandler struct {
	status CampaignStatus
	events EventLister
}

// NewCampaignHandler creates a new campaign handler. events may be nil when
// no ledger is configured.
func NewCampaignHandler(status CampaignStatus, events EventLister) *CampaignHandler {
	return &CampaignHandler{status: status, events: events}
}

// GetCampaign handles GET /v1/campaign
func (h *CampaignHandler) GetCampaign(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.status.Snapshot())
}

// ListUnits handles GET /v1/campaign/units
func (h *CampaignHandler) ListUnits(w http.ResponseWriter, r *http.Request) {
	statusParam := r.URL.Query().Get("status")

	items := []models.UnitReport{}
	for _, report := range h.status.Units() {
		if statusParam != "" && string(report.Status) != statusParam {
			continue
		}
		items = append(items, report)
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"items": items,
	})
}

// GetUnit handles GET /v1/campaign/units/{ordinal}
func (h *CampaignHandler) GetUnit(w http.ResponseWriter, r *http.Request) {
	ordinal, err := strconv.Atoi(mux.Vars(r)["ordinal"])
	if err != nil {
		http.Error(w, "Invalid checkpoint ordinal", http.StatusBadRequest)
		return
	}
	for _, report := range h.status.Units() {
		if report.Unit.Ordinal == ordinal {
			writeJSON(w, http.StatusOK, report)
			return
		}
	}
	http.Error(w, "Checkpoint not found", http.StatusNotFound)
}

// ListEvents handles GET /v1/campaign/events
func (h *CampaignHandler) ListEvents(w http.ResponseWriter, r *http.Request) {
	if h.events == nil {
		http.Error(w, "Event ledger not configured", http.StatusNotFound)
		return
	}
	limit := 50
	if limitParam := r.URL.Query().Get("limit"); limitParam != "" {
		n, err := strconv.Atoi(limitParam)
		if err != nil || n < 1 {
			http.Error(w, "Invalid limit", http.StatusBadRequest)
			return
		}
		limit = n
	}

	events, err := h.events.List(r.Context(), h.status.Snapshot().Campaign, limit)
	if err != nil {
		http.Error(w, "Failed to list events: "+err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"items": events,
	})
}

// Health handles GET /health
func Health(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("OK"))
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
