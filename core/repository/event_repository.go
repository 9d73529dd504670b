package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"campaign-orchestrator/core/models"
)

// EventRepository stores the campaign event ledger
type EventRepository struct {
	db *DB
}

// NewEventRepository creates a new event repository
func NewEventRepository(db *DB) *EventRepository {
	return &EventRepository{db: db}
}

// Record appends an event and returns its ID. A zero At is set to now.
func (r *EventRepository) Record(ctx context.Context, event models.CampaignEvent) (int64, error) {
	if event.At.IsZero() {
		event.At = time.Now()
	}
	units := event.Units
	if units == nil {
		units = []string{}
	}
	unitsJSON, err := json.Marshal(units)
	if err != nil {
		return 0, err
	}

	query := r.db.Rebind(`
		INSERT INTO campaign_events (campaign, at_ms, kind, job_name, units, detail)
		VALUES (?, ?, ?, ?, ?, ?)
		RETURNING id
	`)
	var id int64
	err = r.db.QueryRowContext(ctx, query,
		event.Campaign,
		event.At.UnixMilli(),
		string(event.Kind),
		event.JobName,
		string(unitsJSON),
		event.Detail,
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("record %s event: %w", event.Kind, err)
	}
	return id, nil
}

// List returns the most recent events of a campaign, newest first.
func (r *EventRepository) List(ctx context.Context, campaign string, limit int) ([]models.CampaignEvent, error) {
	if limit <= 0 {
		limit = 100
	}
	query := r.db.Rebind(`
		SELECT id, campaign, at_ms, kind, job_name, units, detail
		FROM campaign_events
		WHERE campaign = ?
		ORDER BY id DESC
		LIMIT ?
	`)

	rows, err := r.db.QueryContext(ctx, query, campaign, limit)
	if err != nil {
		return nil, fmt.Errorf("list events: %w", err)
	}
	defer rows.Close()

	events := []models.CampaignEvent{}
	for rows.Next() {
		var event models.CampaignEvent
		var atMS int64
		var kind, unitsJSON string

		err := rows.Scan(
			&event.ID,
			&event.Campaign,
			&atMS,
			&kind,
			&event.JobName,
			&unitsJSON,
			&event.Detail,
		)
		if err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		event.At = time.UnixMilli(atMS)
		event.Kind = models.EventKind(kind)
		if err := json.Unmarshal([]byte(unitsJSON), &event.Units); err != nil {
			return nil, fmt.Errorf("decode units of event %d: %w", event.ID, err)
		}
		events = append(events, event)
	}
	return events, rows.Err()
}
