package models

import "time"

// EventKind classifies a campaign ledger entry
type EventKind string

const (
	EventJobSubmitted     EventKind = "job_submitted"
	EventSubmissionFailed EventKind = "submission_failed"
	EventUnitReclaimed    EventKind = "unit_reclaimed"
	EventExportFailed     EventKind = "export_failed"
	EventRoundCompleted   EventKind = "round_completed"
	EventForceReset       EventKind = "force_reset"
)

// CampaignEvent represents one notable thing that happened during a campaign
type CampaignEvent struct {
	ID       int64     `json:"id"`
	Campaign string    `json:"campaign"`
	At       time.Time `json:"at"`
	Kind     EventKind `json:"kind"`
	JobName  string    `json:"job_name,omitempty"`
	Units    []string  `json:"units,omitempty"`
	Detail   string    `json:"detail,omitempty"`
}
