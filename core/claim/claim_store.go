// Package claim implements the filesystem claim protocol shared by the
// generation pool and the checkpoint scheduler.
//
// A unit is pending when neither its sentinel nor a completed marker exists,
// claimed when only the sentinel exists, and done once the marker is
// complete. There is no lock manager: claims race through the filesystem, and
// the rare duplicate is tolerated because reprocessing a unit only wastes
// compute.
package claim

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"campaign-orchestrator/core/models"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// DefaultStaleAfter is how old an unfinished claim must be before it may be
// reclaimed. Batch job walltimes bound how long a live claim can last.
const DefaultStaleAfter = 10 * time.Hour

// Store applies the claim protocol to units through a Layout.
type Store struct {
	layout Layout
	now    func() time.Time
	logger *zap.Logger
}

// Option customises a Store
type Option func(*Store)

// WithClock overrides the time source used for staleness checks.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// WithLogger attaches a logger.
func WithLogger(logger *zap.Logger) Option {
	return func(s *Store) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// NewStore creates a claim store for the given layout
func NewStore(layout Layout, opts ...Option) *Store {
	s := &Store{
		layout: layout,
		now:    time.Now,
		logger: zap.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Layout returns the layout this store applies.
func (s *Store) Layout() Layout {
	return s.layout
}

// Done reports whether the unit's completion marker is present and complete.
func (s *Store) Done(u models.WorkUnit) (bool, error) {
	done, err := s.layout.IsComplete(s.layout.MarkerPath(u))
	if err != nil {
		return false, fmt.Errorf("check completion of %s: %w", u.ID, err)
	}
	return done, nil
}

// Claimed reports whether the unit's sentinel exists.
func (s *Store) Claimed(u models.WorkUnit) (bool, error) {
	claimed, err := exists(s.layout.SentinelPath(u))
	if err != nil {
		return false, fmt.Errorf("check sentinel of %s: %w", u.ID, err)
	}
	return claimed, nil
}

// Status classifies the unit as pending, claimed or done.
func (s *Store) Status(u models.WorkUnit) (models.UnitStatus, error) {
	done, err := s.Done(u)
	if err != nil {
		return "", err
	}
	if done {
		return models.UnitStatusDone, nil
	}
	claimed, err := s.Claimed(u)
	if err != nil {
		return "", err
	}
	if claimed {
		return models.UnitStatusClaimed, nil
	}
	return models.UnitStatusPending, nil
}

// TryClaim claims the unit unless it is already done or claimed. The sentinel
// is created with O_EXCL, so of several concurrent claimants exactly one wins.
func (s *Store) TryClaim(u models.WorkUnit) (bool, error) {
	done, err := s.Done(u)
	if err != nil {
		return false, err
	}
	if done {
		return false, nil
	}

	sentinel := s.layout.SentinelPath(u)
	if err := os.MkdirAll(filepath.Dir(sentinel), 0o755); err != nil {
		return false, fmt.Errorf("create sentinel dir for %s: %w", u.ID, err)
	}
	f, err := os.OpenFile(sentinel, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if errors.Is(err, fs.ErrExist) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("create sentinel for %s: %w", u.ID, err)
	}
	if err := f.Close(); err != nil {
		return false, fmt.Errorf("close sentinel for %s: %w", u.ID, err)
	}
	return true, nil
}

// MarkDone writes the completion marker through write and, for layouts that
// release on completion, removes the sentinel. write receives a temporary
// sibling path which is renamed over the marker once write succeeds, so a
// crash mid-write never leaves a marker that looks complete.
func (s *Store) MarkDone(u models.WorkUnit, write func(path string) error) error {
	marker := s.layout.MarkerPath(u)
	if err := os.MkdirAll(filepath.Dir(marker), 0o755); err != nil {
		return fmt.Errorf("create marker dir for %s: %w", u.ID, err)
	}

	tmp := fmt.Sprintf("%s.%s.tmp", marker, uuid.NewString())
	if err := write(tmp); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("write marker for %s: %w", u.ID, err)
	}
	if err := os.Rename(tmp, marker); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("publish marker for %s: %w", u.ID, err)
	}

	if s.layout.ReleaseOnDone() {
		if err := removeIfExists(s.layout.SentinelPath(u)); err != nil {
			return fmt.Errorf("release sentinel for %s: %w", u.ID, err)
		}
	}
	return nil
}

// SentinelAge returns how long ago the sentinel was created. ok is false when
// there is no sentinel.
func (s *Store) SentinelAge(u models.WorkUnit) (age time.Duration, ok bool, err error) {
	info, err := os.Stat(s.layout.SentinelPath(u))
	if errors.Is(err, fs.ErrNotExist) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("stat sentinel of %s: %w", u.ID, err)
	}
	// Sentinels are zero-byte and never rewritten, so mtime is creation time.
	return s.now().Sub(info.ModTime()), true, nil
}

// IsStale reports whether the unit is claimed, not complete, and its sentinel
// is older than threshold.
func (s *Store) IsStale(u models.WorkUnit, threshold time.Duration) (bool, error) {
	age, ok, err := s.SentinelAge(u)
	if err != nil || !ok {
		return false, err
	}
	done, err := s.Done(u)
	if err != nil {
		return false, err
	}
	if done {
		return false, nil
	}
	return age > threshold, nil
}

// ReclaimResult describes what Reclaim removed
type ReclaimResult struct {
	SentinelRemoved bool
	// MarkerFound is true when a marker existed at reclaim time.
	MarkerFound bool
	// PartialRemoved is true when an incomplete marker was deleted.
	PartialRemoved bool
}

// Reclaim returns the unit to pending: it deletes the sentinel and any
// incomplete marker. A complete marker is left untouched.
func (s *Store) Reclaim(u models.WorkUnit) (ReclaimResult, error) {
	var res ReclaimResult

	sentinel := s.layout.SentinelPath(u)
	found, err := exists(sentinel)
	if err != nil {
		return res, fmt.Errorf("check sentinel of %s: %w", u.ID, err)
	}
	if found {
		if err := removeIfExists(sentinel); err != nil {
			return res, fmt.Errorf("remove sentinel of %s: %w", u.ID, err)
		}
		res.SentinelRemoved = true
	}

	marker := s.layout.MarkerPath(u)
	res.MarkerFound, err = exists(marker)
	if err != nil {
		return res, fmt.Errorf("check marker of %s: %w", u.ID, err)
	}
	if !res.MarkerFound {
		return res, nil
	}
	complete, err := s.layout.IsComplete(marker)
	if err != nil {
		return res, fmt.Errorf("check completion of %s: %w", u.ID, err)
	}
	if complete {
		return res, nil
	}
	if err := removeIfExists(marker); err != nil {
		return res, fmt.Errorf("remove partial marker of %s: %w", u.ID, err)
	}
	res.PartialRemoved = true
	s.logger.Debug("removed partial marker", zap.String("unit", u.ID), zap.String("marker", marker))
	return res, nil
}

func removeIfExists(path string) error {
	err := os.Remove(path)
	if err == nil || errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	return err
}
