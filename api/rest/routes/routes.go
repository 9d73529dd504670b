package routes

import (
	"campaign-orchestrator/api/rest/handlers"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// SetupRoutes configures the campaign status API. events may be nil; a nil
// gatherer leaves /metrics unregistered.
func SetupRoutes(r *mux.Router, status handlers.CampaignStatus, events handlers.EventLister, gatherer prometheus.Gatherer) {
	campaignHandler := handlers.NewCampaignHandler(status, events)

	r.HandleFunc("/health", handlers.Health).Methods("GET")
	if gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})).Methods("GET")
	}

	api := r.PathPrefix("/v1").Subrouter()

	// Campaign endpoints
	api.HandleFunc("/campaign", campaignHandler.GetCampaign).Methods("GET")
	api.HandleFunc("/campaign/units", campaignHandler.ListUnits).Methods("GET")
	api.HandleFunc("/campaign/units/{ordinal}", campaignHandler.GetUnit).Methods("GET")
	api.HandleFunc("/campaign/events", campaignHandler.ListEvents).Methods("GET")
}
