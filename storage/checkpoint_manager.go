package storage

import (
	"cmp"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"strings"

	"campaign-orchestrator/core/models"
	"campaign-orchestrator/core/spec"
)

// DefaultCheckpointPattern matches checkpoint files named like ckpt.N.pth.
const DefaultCheckpointPattern = "*ckpt.*.pth"

// CheckpointManager discovers checkpoints written to a directory by training
type CheckpointManager struct {
	dir     string
	pattern string
}

// NewCheckpointManager creates a checkpoint manager for dir. The directory is
// resolved to an absolute path so derived paths are stable across cwd changes.
func NewCheckpointManager(dir, pattern string) (*CheckpointManager, error) {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("resolve checkpoint dir: %w", err)
	}
	if pattern == "" {
		pattern = DefaultCheckpointPattern
	}
	if _, err := filepath.Match(pattern, ""); err != nil {
		return nil, fmt.Errorf("%w: checkpoint pattern %q: %v", spec.ErrConfiguration, pattern, err)
	}
	return &CheckpointManager{dir: abs, pattern: pattern}, nil
}

// Dir returns the absolute checkpoint directory
func (cm *CheckpointManager) Dir() string {
	return cm.dir
}

// Exists reports whether the checkpoint directory has been created yet.
func (cm *CheckpointManager) Exists() bool {
	info, err := os.Stat(cm.dir)
	return err == nil && info.IsDir()
}

// ListCheckpoints returns every checkpoint as a work unit, newest (highest
// ordinal) first.
func (cm *CheckpointManager) ListCheckpoints() ([]models.WorkUnit, error) {
	paths, err := filepath.Glob(filepath.Join(cm.dir, cm.pattern))
	if err != nil {
		return nil, err
	}

	units := make([]models.WorkUnit, 0, len(paths))
	for _, path := range paths {
		ordinal, err := ParseOrdinal(path)
		if err != nil {
			return nil, err
		}
		units = append(units, models.WorkUnit{
			Kind:       models.UnitKindCheckpoint,
			ID:         path,
			OutputPath: path,
			Ordinal:    ordinal,
		})
	}
	SortByOrdinalDesc(units)
	return units, nil
}

// GetLatestCheckpoint returns the checkpoint with the highest ordinal.
func (cm *CheckpointManager) GetLatestCheckpoint() (models.WorkUnit, error) {
	units, err := cm.ListCheckpoints()
	if err != nil {
		return models.WorkUnit{}, err
	}
	if len(units) == 0 {
		return models.WorkUnit{}, fmt.Errorf("no checkpoint found in %s", cm.dir)
	}
	return units[0], nil
}

// ParseOrdinal extracts N from a name like ckpt.N.pth (or ckpt.N.log): the
// integer between the last two dots of the basename.
func ParseOrdinal(path string) (int, error) {
	parts := strings.Split(filepath.Base(path), ".")
	if len(parts) < 3 {
		return 0, fmt.Errorf("%w: checkpoint name %q has no ordinal", spec.ErrConfiguration, path)
	}
	ordinal, err := strconv.Atoi(parts[len(parts)-2])
	if err != nil {
		return 0, fmt.Errorf("%w: checkpoint name %q has a non-integer ordinal", spec.ErrConfiguration, path)
	}
	return ordinal, nil
}

// SortByOrdinalDesc orders units newest first. Ties fall back to path order.
func SortByOrdinalDesc(units []models.WorkUnit) {
	slices.SortStableFunc(units, func(a, b models.WorkUnit) int {
		if c := cmp.Compare(b.Ordinal, a.Ordinal); c != 0 {
			return c
		}
		return cmp.Compare(a.ID, b.ID)
	})
}
