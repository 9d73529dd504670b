package monitoring

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"campaign-orchestrator/core/models"
)

// Metrics holds the scheduler's Prometheus collectors. A nil *Metrics is
// valid and records nothing.
type Metrics struct {
	jobsSubmitted      prometheus.Counter
	submissionFailures prometheus.Counter
	unitsClaimed       prometheus.Counter
	unitsReclaimed     prometheus.Counter
	exports            *prometheus.CounterVec
	units              *prometheus.GaugeVec
	rounds             prometheus.Counter
}

// NewMetrics registers the campaign collectors with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		jobsSubmitted: factory.NewCounter(prometheus.CounterOpts{
			Name: "campaign_jobs_submitted_total",
			Help: "Batch jobs accepted by the batch scheduler.",
		}),
		submissionFailures: factory.NewCounter(prometheus.CounterOpts{
			Name: "campaign_submission_failures_total",
			Help: "Batch jobs rejected by the batch scheduler.",
		}),
		unitsClaimed: factory.NewCounter(prometheus.CounterOpts{
			Name: "campaign_units_claimed_total",
			Help: "Work units claimed after a successful submission.",
		}),
		unitsReclaimed: factory.NewCounter(prometheus.CounterOpts{
			Name: "campaign_units_reclaimed_total",
			Help: "Stale claims returned to pending.",
		}),
		exports: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "campaign_exports_total",
			Help: "Metrics export attempts by result.",
		}, []string{"result"}),
		units: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "campaign_units",
			Help: "Work units by claim status as of the last round.",
		}, []string{"status"}),
		rounds: factory.NewCounter(prometheus.CounterOpts{
			Name: "campaign_rounds_total",
			Help: "Completed scheduler rounds.",
		}),
	}
}

// JobSubmitted counts an accepted job and the units this process claimed
// for it.
func (m *Metrics) JobSubmitted(claimed int) {
	if m == nil {
		return
	}
	m.jobsSubmitted.Inc()
	m.unitsClaimed.Add(float64(claimed))
}

// SubmissionFailed counts a job the batch client rejected.
func (m *Metrics) SubmissionFailed() {
	if m == nil {
		return
	}
	m.submissionFailures.Inc()
}

// UnitReclaimed counts a stale claim returned to pending.
func (m *Metrics) UnitReclaimed() {
	if m == nil {
		return
	}
	m.unitsReclaimed.Inc()
}

// ExportFinished counts an export attempt by result.
func (m *Metrics) ExportFinished(err error) {
	if m == nil {
		return
	}
	result := "success"
	if err != nil {
		result = "failure"
	}
	m.exports.WithLabelValues(result).Inc()
}

// RoundFinished records the unit counts observed at the end of a round.
func (m *Metrics) RoundFinished(counts map[models.UnitStatus]int) {
	if m == nil {
		return
	}
	m.rounds.Inc()
	for _, status := range []models.UnitStatus{models.UnitStatusPending, models.UnitStatusClaimed, models.UnitStatusDone} {
		m.units.WithLabelValues(string(status)).Set(float64(counts[status]))
	}
}
