package claim

import (
	"bytes"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"campaign-orchestrator/core/models"
)

// CompletionToken is the substring an evaluation log must contain before the
// checkpoint counts as evaluated. Every metric line carries it.
const CompletionToken = "Average episode "

// Layout maps work units onto their claim sentinel and completion marker.
type Layout interface {
	// SentinelPath is the zero-byte file whose existence means "claimed".
	SentinelPath(u models.WorkUnit) string
	// MarkerPath is the artifact whose presence may mean "done".
	MarkerPath(u models.WorkUnit) string
	// IsComplete reports whether the marker at path denotes a finished unit.
	IsComplete(path string) (bool, error)
	// ReleaseOnDone reports whether marking a unit done removes its sentinel.
	ReleaseOnDone() bool
}

// GenerationLayout places the sentinel next to the output shard:
// <output>.incomplete. The shard's existence is the completion marker.
type GenerationLayout struct{}

// SentinelPath returns <output>.incomplete.
func (GenerationLayout) SentinelPath(u models.WorkUnit) string {
	return u.OutputPath + ".incomplete"
}

// MarkerPath is the shard itself.
func (GenerationLayout) MarkerPath(u models.WorkUnit) string {
	return u.OutputPath
}

// IsComplete reports whether the shard exists.
func (GenerationLayout) IsComplete(path string) (bool, error) {
	return exists(path)
}

// ReleaseOnDone is true: a written shard supersedes its sentinel.
func (GenerationLayout) ReleaseOnDone() bool { return true }

// EvaluationLayout places the sentinel next to the checkpoint as
// <checkpoint without extension>.<prefix>_queued and treats a log containing
// CompletionToken as the completion marker.
type EvaluationLayout struct {
	Prefix string
	LogDir string
}

// SentinelPath returns <checkpoint without extension>.<prefix>_queued.
func (l EvaluationLayout) SentinelPath(u models.WorkUnit) string {
	return trimExt(u.OutputPath) + "." + l.SentinelSuffix()
}

// SentinelSuffix is the extension shared by every sentinel of this run prefix.
func (l EvaluationLayout) SentinelSuffix() string {
	return l.Prefix + "_queued"
}

// MarkerPath mirrors the checkpoint basename with the extension swapped to .log.
func (l EvaluationLayout) MarkerPath(u models.WorkUnit) string {
	return filepath.Join(l.LogDir, trimExt(filepath.Base(u.OutputPath))+".log")
}

// IsComplete reports whether the log holds a metric line.
func (EvaluationLayout) IsComplete(path string) (bool, error) {
	return LogHasCompletionToken(path)
}

// ReleaseOnDone is false: the sentinel stays after evaluation, as a record
// that the checkpoint was queued.
func (EvaluationLayout) ReleaseOnDone() bool { return false }

// LogHasCompletionToken reports whether the log at path contains at least one
// metric line. A missing log is not an error.
func LogHasCompletionToken(path string) (bool, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return bytes.Contains(data, []byte(CompletionToken)), nil
}

func trimExt(path string) string {
	return strings.TrimSuffix(path, filepath.Ext(path))
}

func exists(path string) (bool, error) {
	_, err := os.Stat(path)
	if err == nil {
		return true, nil
	}
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	return false, err
}
