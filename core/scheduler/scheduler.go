// Package scheduler runs the checkpoint evaluation campaign loop: submit
// pending checkpoints as batch jobs, reclaim stale claims, and export
// metrics when new results appear.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"campaign-orchestrator/core/claim"
	"campaign-orchestrator/core/executor"
	"campaign-orchestrator/core/models"
	"campaign-orchestrator/core/monitoring"
	"campaign-orchestrator/core/partition"
	"campaign-orchestrator/core/spec"
	"campaign-orchestrator/storage"
)

const (
	DefaultPollInterval    = 60 * time.Second
	DefaultDirWaitInterval = 5 * time.Second

	// StreamDirName holds job stdout/stderr files next to the checkpoint dir.
	StreamDirName = "slurm_eval_out"
)

// EventRecorder persists campaign events
type EventRecorder interface {
	Record(ctx context.Context, event models.CampaignEvent) (int64, error)
}

// Config configures a campaign
type Config struct {
	Prefix     string
	JobsPerGPU int
	// MinCheckpoints is the number of evaluated checkpoints to wait for.
	// spec.NoMinimum submits once and stops.
	MinCheckpoints  int
	Force           bool
	MetricsName     string
	LogDir          string
	StreamDir       string
	ScriptPath      string
	StaleAfter      time.Duration
	PollInterval    time.Duration
	DirWaitInterval time.Duration
}

// Polling reports whether Run loops until MinCheckpoints are evaluated.
func (c Config) Polling() bool {
	return c.MinCheckpoints != spec.NoMinimum
}

// LogDir returns <parent of abs(ckptDir)>/<logsName>.
func LogDir(ckptDir, logsName string) (string, error) {
	abs, err := filepath.Abs(ckptDir)
	if err != nil {
		return "", err
	}
	return filepath.Join(filepath.Dir(abs), logsName), nil
}

// StreamDir returns <parent of abs(ckptDir)>/slurm_eval_out.
func StreamDir(ckptDir string) (string, error) {
	return LogDir(ckptDir, StreamDirName)
}

// CheckpointScheduler drives one evaluation campaign. Rounds run on a single
// goroutine; Snapshot may be called concurrently.
type CheckpointScheduler struct {
	checkpoints *storage.CheckpointManager
	layout      claim.EvaluationLayout
	store       *claim.Store
	client      executor.BatchClient
	exporter    monitoring.Exporter
	cfg         Config

	metrics *monitoring.Metrics
	events  EventRecorder
	logger  *zap.Logger
	now     func() time.Time
	sleep   func(ctx context.Context, d time.Duration) error

	statsLogs int

	mu       sync.RWMutex
	snapshot Snapshot
	units    []models.UnitReport
}

// Option customises a CheckpointScheduler
type Option func(*CheckpointScheduler)

// WithMetrics records round activity in m.
func WithMetrics(m *monitoring.Metrics) Option {
	return func(s *CheckpointScheduler) { s.metrics = m }
}

// WithEventRecorder writes campaign events to r. Recording failures are
// logged and never stop the loop.
func WithEventRecorder(r EventRecorder) Option {
	return func(s *CheckpointScheduler) { s.events = r }
}

// WithLogger sets the scheduler's logger. nil keeps the no-op logger.
func WithLogger(logger *zap.Logger) Option {
	return func(s *CheckpointScheduler) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithClock overrides the time source for staleness and snapshots.
func WithClock(now func() time.Time) Option {
	return func(s *CheckpointScheduler) { s.now = now }
}

// WithSleep overrides how the loop waits between rounds and while waiting
// for the checkpoint directory.
func WithSleep(sleep func(ctx context.Context, d time.Duration) error) Option {
	return func(s *CheckpointScheduler) { s.sleep = sleep }
}

// New creates a scheduler. exporter may be nil to disable metrics export.
func New(
	checkpoints *storage.CheckpointManager,
	client executor.BatchClient,
	exporter monitoring.Exporter,
	cfg Config,
	opts ...Option,
) (*CheckpointScheduler, error) {
	if err := spec.ValidatePrefix(cfg.Prefix); err != nil {
		return nil, err
	}
	switch {
	case cfg.JobsPerGPU < 1:
		return nil, fmt.Errorf("%w: jobs per GPU must be at least 1", spec.ErrConfiguration)
	case cfg.LogDir == "" || cfg.StreamDir == "" || cfg.ScriptPath == "":
		return nil, fmt.Errorf("%w: log dir, stream dir and script path are required", spec.ErrConfiguration)
	}
	if cfg.StaleAfter <= 0 {
		cfg.StaleAfter = claim.DefaultStaleAfter
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = DefaultPollInterval
	}
	if cfg.DirWaitInterval <= 0 {
		cfg.DirWaitInterval = DefaultDirWaitInterval
	}
	if cfg.MetricsName == "" {
		cfg.MetricsName = spec.DefaultMetricsName
	}

	s := &CheckpointScheduler{
		checkpoints: checkpoints,
		layout:      claim.EvaluationLayout{Prefix: cfg.Prefix, LogDir: cfg.LogDir},
		client:      client,
		exporter:    exporter,
		cfg:         cfg,
		logger:      zap.NewNop(),
		now:         time.Now,
		sleep:       sleepContext,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.store = claim.NewStore(s.layout, claim.WithClock(s.now), claim.WithLogger(s.logger))
	s.snapshot = Snapshot{Campaign: cfg.Prefix, CheckpointDir: checkpoints.Dir(), LogDir: cfg.LogDir}
	return s, nil
}

// Run executes the campaign: optional force reset, wait for the checkpoint
// directory, then rounds until enough checkpoints are evaluated. Submission
// failures never end the loop; configuration errors and ctx cancellation do.
// Jobs already submitted keep running when Run returns.
func (s *CheckpointScheduler) Run(ctx context.Context) error {
	if err := os.MkdirAll(s.cfg.LogDir, 0o755); err != nil {
		return fmt.Errorf("create log dir: %w", err)
	}
	if s.cfg.Force {
		if _, err := s.ForceReset(ctx); err != nil {
			return err
		}
	}
	if err := s.WaitForDir(ctx); err != nil {
		return err
	}

	var err error
	s.statsLogs, err = s.countStatsLogs()
	if err != nil {
		return err
	}

	for {
		round, err := s.RunRound(ctx)
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		if errors.Is(err, spec.ErrConfiguration) {
			return err
		}
		if err != nil {
			s.logger.Warn("round finished with errors", zap.Int("round", round.Round), zap.Error(err))
		}
		if !s.cfg.Polling() || round.StatsLogs >= s.cfg.MinCheckpoints {
			s.setFinished()
			s.logger.Info("campaign finished",
				zap.String("campaign", s.cfg.Prefix),
				zap.Int("evaluated", round.StatsLogs),
			)
			return nil
		}
	}
}

// WaitForDir blocks until the checkpoint directory exists.
func (s *CheckpointScheduler) WaitForDir(ctx context.Context) error {
	if s.checkpoints.Exists() {
		return nil
	}
	s.logger.Info("waiting for checkpoint dir", zap.String("dir", s.checkpoints.Dir()))
	for !s.checkpoints.Exists() {
		if err := s.sleep(ctx, s.cfg.DirWaitInterval); err != nil {
			return err
		}
	}
	return nil
}

// RoundResult summarizes one scheduler round
type RoundResult struct {
	Round     int
	Submitted []models.Job
	Failed    int
	Reclaimed int
	Exported  bool
	StatsLogs int
}

// RunRound submits pending checkpoints, sleeps (polling campaigns only),
// reclaims stale claims and checks for a metrics export, once.
func (s *CheckpointScheduler) RunRound(ctx context.Context) (RoundResult, error) {
	s.mu.RLock()
	result := RoundResult{Round: s.snapshot.Round + 1}
	s.mu.RUnlock()

	var errs []error
	submitted, failed, err := s.SubmitPending(ctx)
	result.Submitted, result.Failed = submitted, failed
	if err != nil {
		if errors.Is(err, spec.ErrConfiguration) {
			return result, err
		}
		errs = append(errs, err)
	}

	if s.cfg.Polling() {
		if err := s.sleep(ctx, s.cfg.PollInterval); err != nil {
			return result, err
		}
	}

	result.Reclaimed, err = s.ReclaimStale(ctx)
	if err != nil {
		errs = append(errs, err)
	}

	result.Exported, result.StatsLogs, err = s.CheckExport(ctx)
	if err != nil {
		errs = append(errs, err)
	}

	s.finishRound(ctx, result)
	return result, errors.Join(errs...)
}

// SubmitPending submits every pending checkpoint, newest first, in jobs of
// at most JobsPerGPU units, and claims each job's units once it is accepted.
// A rejected job leaves its units pending for the next round.
func (s *CheckpointScheduler) SubmitPending(ctx context.Context) ([]models.Job, int, error) {
	units, err := s.checkpoints.ListCheckpoints()
	if err != nil {
		return nil, 0, err
	}

	queue := NewUnitQueue()
	for _, u := range units {
		status, err := s.store.Status(u)
		if err != nil {
			return nil, 0, err
		}
		if status == models.UnitStatusPending {
			queue.Enqueue(u)
		}
	}
	pending := queue.Drain()

	ordinals := make([]int, len(pending))
	for i, u := range pending {
		ordinals[i] = u.Ordinal
	}
	s.logger.Info("found checkpoints",
		zap.Time("at", s.now()),
		zap.Int("total", len(units)),
		zap.Int("pending", len(pending)),
		zap.Ints("ordinals", ordinals),
	)
	if len(pending) == 0 {
		return nil, 0, nil
	}
	if err := os.MkdirAll(s.cfg.StreamDir, 0o755); err != nil {
		return nil, 0, fmt.Errorf("create stream dir: %w", err)
	}

	batches := partition.Chunk(pending, s.cfg.JobsPerGPU)
	var (
		submitted []models.Job
		failed    int
		errs      []error
	)
	for i, batch := range batches {
		job := s.newJob(batch)
		s.logger.Info("submitting job",
			zap.Int("index", i+1),
			zap.Int("of", len(batches)),
			zap.String("job", job.Name),
			zap.Ints("ordinals", job.Ordinals()),
		)

		err := s.client.Submit(ctx, executor.SubmitRequest{
			JobName:    job.Name,
			OutputPath: job.OutputPath,
			ErrorPath:  job.ErrorPath,
			TaskCount:  len(job.Units),
			Env: map[string]string{
				"SLURM_CHECKPOINTS": strings.Join(job.Paths(), spec.CheckpointSeparator),
				"SLURM_LOG_DIR":     s.cfg.LogDir,
			},
			ScriptPath: s.cfg.ScriptPath,
		})
		if err != nil {
			failed++
			errs = append(errs, err)
			s.metrics.SubmissionFailed()
			s.logger.Error("job submission failed", zap.String("job", job.Name), zap.Error(err))
			s.record(ctx, models.EventSubmissionFailed, job.Name, job.Paths(), err.Error())
			continue
		}

		won := 0
		for _, u := range job.Units {
			claimed, err := s.store.TryClaim(u)
			if err != nil {
				errs = append(errs, err)
				continue
			}
			if !claimed {
				s.logger.Warn("checkpoint claimed concurrently", zap.String("checkpoint", u.ID))
				continue
			}
			won++
		}
		s.metrics.JobSubmitted(won)
		s.record(ctx, models.EventJobSubmitted, job.Name, job.Paths(), "")
		submitted = append(submitted, job)
	}
	return submitted, failed, errors.Join(errs...)
}

func (s *CheckpointScheduler) newJob(units []models.WorkUnit) models.Job {
	name := models.JobName(s.cfg.Prefix, units)
	return models.Job{
		Name:       name,
		Units:      units,
		OutputPath: filepath.Join(s.cfg.StreamDir, name+".out"),
		ErrorPath:  filepath.Join(s.cfg.StreamDir, name+".err"),
	}
}

// ReclaimStale returns every stale claim to pending and reports how many
// were reclaimed.
func (s *CheckpointScheduler) ReclaimStale(ctx context.Context) (int, error) {
	units, err := s.checkpoints.ListCheckpoints()
	if err != nil {
		return 0, err
	}
	reclaimed := 0
	var errs []error
	for _, u := range units {
		stale, err := s.store.IsStale(u, s.cfg.StaleAfter)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if !stale {
			continue
		}
		res, err := s.store.Reclaim(u)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		reclaimed++
		s.metrics.UnitReclaimed()
		s.logger.Info("reclaimed stale claim",
			zap.String("checkpoint", u.ID),
			zap.Bool("log_found", res.MarkerFound),
			zap.Bool("partial_log_removed", res.PartialRemoved),
		)
		s.record(ctx, models.EventUnitReclaimed, "", []string{u.ID},
			fmt.Sprintf("partial_log_removed=%t", res.PartialRemoved))
	}
	return reclaimed, errors.Join(errs...)
}

// CheckExport counts logs with stats and runs the exporter, with overwrite,
// when the count grew since the last check. Export failures are logged and
// recorded but not returned.
func (s *CheckpointScheduler) CheckExport(ctx context.Context) (bool, int, error) {
	count, err := s.countStatsLogs()
	if err != nil {
		return false, s.statsLogs, err
	}
	if count <= s.statsLogs {
		return false, count, nil
	}
	s.logger.Info("found new evaluation results", zap.Int("stats_logs", count), zap.Int("previous", s.statsLogs))
	s.statsLogs = count
	if s.exporter == nil {
		return false, count, nil
	}

	err = s.exporter.Export(ctx, s.cfg.LogDir, true, s.cfg.MetricsName)
	s.metrics.ExportFinished(err)
	if err != nil {
		s.logger.Warn("metrics export failed, continuing", zap.Error(err))
		s.record(ctx, models.EventExportFailed, "", nil, err.Error())
	}
	return true, count, nil
}

// ForceResetResult reports what ForceReset deleted
type ForceResetResult struct {
	LogsRemoved      int
	SentinelsRemoved int
}

// ForceReset deletes every log without stats and every sentinel of this
// prefix, making each unevaluated checkpoint pending again.
func (s *CheckpointScheduler) ForceReset(ctx context.Context) (ForceResetResult, error) {
	var res ForceResetResult
	logs, err := filepath.Glob(filepath.Join(s.cfg.LogDir, "*.log"))
	if err != nil {
		return res, err
	}
	for _, log := range logs {
		complete, err := claim.LogHasCompletionToken(log)
		if err != nil {
			return res, fmt.Errorf("read log %s: %w", log, err)
		}
		if complete {
			continue
		}
		if err := os.Remove(log); err != nil {
			return res, fmt.Errorf("remove log %s: %w", log, err)
		}
		res.LogsRemoved++
		s.logger.Debug("deleted log without stats", zap.String("log", log))
	}

	sentinels, err := filepath.Glob(filepath.Join(s.checkpoints.Dir(), "*."+s.layout.SentinelSuffix()))
	if err != nil {
		return res, err
	}
	for _, sentinel := range sentinels {
		if err := os.Remove(sentinel); err != nil {
			return res, fmt.Errorf("remove sentinel %s: %w", sentinel, err)
		}
		res.SentinelsRemoved++
	}

	s.logger.Info("force reset",
		zap.Int("logs_removed", res.LogsRemoved),
		zap.Int("sentinels_removed", res.SentinelsRemoved),
	)
	s.record(ctx, models.EventForceReset, "", nil,
		fmt.Sprintf("logs_removed=%d sentinels_removed=%d", res.LogsRemoved, res.SentinelsRemoved))
	return res, nil
}

func (s *CheckpointScheduler) countStatsLogs() (int, error) {
	logs, err := filepath.Glob(filepath.Join(s.cfg.LogDir, "*.log"))
	if err != nil {
		return 0, err
	}
	count := 0
	for _, log := range logs {
		complete, err := claim.LogHasCompletionToken(log)
		if err != nil {
			return 0, fmt.Errorf("read log %s: %w", log, err)
		}
		if complete {
			count++
		}
	}
	return count, nil
}

func (s *CheckpointScheduler) record(ctx context.Context, kind models.EventKind, job string, units []string, detail string) {
	if s.events == nil {
		return
	}
	_, err := s.events.Record(ctx, models.CampaignEvent{
		Campaign: s.cfg.Prefix,
		At:       s.now(),
		Kind:     kind,
		JobName:  job,
		Units:    units,
		Detail:   detail,
	})
	if err != nil {
		s.logger.Warn("failed to record campaign event", zap.String("kind", string(kind)), zap.Error(err))
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
