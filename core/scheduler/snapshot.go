package scheduler

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"campaign-orchestrator/core/models"
)

// Snapshot is the campaign state as of the last finished round
type Snapshot struct {
	Campaign      string    `json:"campaign"`
	CheckpointDir string    `json:"checkpoint_dir"`
	LogDir        string    `json:"log_dir"`
	Round         int       `json:"round"`
	UpdatedAt     time.Time `json:"updated_at"`
	Pending       int       `json:"pending"`
	Claimed       int       `json:"claimed"`
	Done          int       `json:"done"`
	StatsLogs     int       `json:"stats_logs"`
	Submitted     int       `json:"submitted_jobs"`
	Failed        int       `json:"failed_jobs"`
	Reclaimed     int       `json:"reclaimed"`
	Finished      bool      `json:"finished"`
}

// Snapshot returns the latest campaign snapshot.
func (s *CheckpointScheduler) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.snapshot
}

// Units returns the per-checkpoint status observed at the end of the last
// round, newest first.
func (s *CheckpointScheduler) Units() []models.UnitReport {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]models.UnitReport(nil), s.units...)
}

func (s *CheckpointScheduler) finishRound(ctx context.Context, result RoundResult) {
	counts := map[models.UnitStatus]int{}
	var reports []models.UnitReport
	units, err := s.checkpoints.ListCheckpoints()
	if err != nil {
		s.logger.Warn("failed to list checkpoints for round summary", zap.Error(err))
	}
	for _, u := range units {
		status, err := s.store.Status(u)
		if err != nil {
			s.logger.Warn("failed to read checkpoint status", zap.String("checkpoint", u.ID), zap.Error(err))
			continue
		}
		counts[status]++
		reports = append(reports, models.UnitReport{Unit: u, Status: status})
	}

	s.mu.Lock()
	s.snapshot.Round = result.Round
	s.snapshot.UpdatedAt = s.now()
	s.snapshot.Pending = counts[models.UnitStatusPending]
	s.snapshot.Claimed = counts[models.UnitStatusClaimed]
	s.snapshot.Done = counts[models.UnitStatusDone]
	s.snapshot.StatsLogs = result.StatsLogs
	s.snapshot.Submitted = len(result.Submitted)
	s.snapshot.Failed = result.Failed
	s.snapshot.Reclaimed = result.Reclaimed
	s.units = reports
	s.mu.Unlock()

	s.metrics.RoundFinished(counts)
	s.logger.Info("round finished",
		zap.Int("round", result.Round),
		zap.Int("pending", counts[models.UnitStatusPending]),
		zap.Int("claimed", counts[models.UnitStatusClaimed]),
		zap.Int("done", counts[models.UnitStatusDone]),
		zap.Int("submitted", len(result.Submitted)),
		zap.Int("failed", result.Failed),
		zap.Int("reclaimed", result.Reclaimed),
	)
	s.record(ctx, models.EventRoundCompleted, "", nil, fmt.Sprintf(
		"round=%d pending=%d claimed=%d done=%d submitted=%d failed=%d reclaimed=%d",
		result.Round, counts[models.UnitStatusPending], counts[models.UnitStatusClaimed],
		counts[models.UnitStatusDone], len(result.Submitted), result.Failed, result.Reclaimed,
	))
}

func (s *CheckpointScheduler) setFinished() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.snapshot.Finished = true
}
