package monitoring

import (
	"cmp"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"campaign-orchestrator/core/executor"
	"campaign-orchestrator/storage"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// ErrExport is returned when a metrics export fails.
var ErrExport = errors.New("metrics export failed")

// SummaryFile is the file SummaryExporter writes inside the destination.
const SummaryFile = "metrics.json"

// Exporter turns a directory of evaluation logs into a metrics dashboard
// named destName next to it.
type Exporter interface {
	Export(ctx context.Context, logDir string, overwrite bool, destName string) error
}

// Destination returns <parent of logDir>/<destName>.
func Destination(logDir, destName string) (string, error) {
	abs, err := filepath.Abs(logDir)
	if err != nil {
		return "", err
	}
	return filepath.Join(filepath.Dir(abs), destName), nil
}

// SummaryRecord is one evaluated checkpoint in metrics.json.
type SummaryRecord struct {
	Checkpoint string             `json:"checkpoint"`
	Step       int64              `json:"step"`
	Reward     *float64           `json:"reward,omitempty"`
	Metrics    map[string]float64 `json:"metrics"`
}

// SummaryExporter writes every log's stats to <destination>/metrics.json.
type SummaryExporter struct {
	logger *zap.Logger
}

// NewSummaryExporter creates a SummaryExporter
func NewSummaryExporter(logger *zap.Logger) *SummaryExporter {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SummaryExporter{logger: logger}
}

func (e *SummaryExporter) Export(_ context.Context, logDir string, overwrite bool, destName string) error {
	dest, err := Destination(logDir, destName)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrExport, err)
	}
	if _, err := os.Stat(dest); err == nil {
		if !overwrite {
			return fmt.Errorf("%w: destination %s already exists", ErrExport, dest)
		}
		if err := os.Remove(filepath.Join(dest, SummaryFile)); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("%w: remove previous summary: %v", ErrExport, err)
		}
	}

	records, err := e.Summarize(logDir)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrExport, err)
	}
	if err := writeJSONAtomic(filepath.Join(dest, SummaryFile), records); err != nil {
		return fmt.Errorf("%w: %v", ErrExport, err)
	}
	e.logger.Info("exported metrics", zap.String("destination", dest), zap.Int("checkpoints", len(records)))
	return nil
}

// Summarize parses every *.log in logDir in ascending checkpoint order.
// Logs without stats are skipped. A log without a step_id line uses its
// checkpoint ordinal as the step.
func (e *SummaryExporter) Summarize(logDir string) ([]SummaryRecord, error) {
	paths, err := filepath.Glob(filepath.Join(logDir, "*.log"))
	if err != nil {
		return nil, err
	}

	type entry struct {
		path    string
		ordinal int
	}
	entries := make([]entry, 0, len(paths))
	for _, p := range paths {
		ord, err := storage.ParseOrdinal(p)
		if err != nil {
			e.logger.Warn("skipping log without checkpoint ordinal", zap.String("log", p))
			continue
		}
		entries = append(entries, entry{path: p, ordinal: ord})
	}
	slices.SortStableFunc(entries, func(a, b entry) int { return cmp.Compare(a.ordinal, b.ordinal) })

	records := make([]SummaryRecord, 0, len(entries))
	for _, en := range entries {
		stats, err := ParseLog(en.path)
		if err != nil {
			return nil, err
		}
		if len(stats.Stats) == 0 {
			e.logger.Debug("skipping log without stats", zap.String("log", en.path))
			continue
		}
		rec := SummaryRecord{
			Checkpoint: strings.TrimSuffix(filepath.Base(en.path), ".log"),
			Step:       int64(en.ordinal),
			Metrics:    make(map[string]float64, len(stats.Stats)),
		}
		if stats.HasStep {
			rec.Step = stats.Step
		}
		for k, v := range stats.Stats {
			if k == RewardKey {
				reward := v
				rec.Reward = &reward
				continue
			}
			rec.Metrics[k] = v
		}
		records = append(records, rec)
	}
	return records, nil
}

// CommandExporter runs an external dashboard writer as
// <command...> <logDir> [-y] -t <destName>.
type CommandExporter struct {
	command []string
	runner  executor.Runner
	logger  *zap.Logger
}

// NewCommandExporter creates a CommandExporter. A nil runner means
// executor.ExecRunner.
func NewCommandExporter(command []string, runner executor.Runner, logger *zap.Logger) (*CommandExporter, error) {
	if len(command) == 0 {
		return nil, errors.New("exporter command is empty")
	}
	if runner == nil {
		runner = executor.ExecRunner{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CommandExporter{command: command, runner: runner, logger: logger}, nil
}

func (e *CommandExporter) Export(ctx context.Context, logDir string, overwrite bool, destName string) error {
	args := append([]string{}, e.command[1:]...)
	args = append(args, logDir)
	if overwrite {
		args = append(args, "-y")
	}
	args = append(args, "-t", destName)

	out, err := e.runner.Run(ctx, e.command[0], args, nil)
	if err != nil {
		return fmt.Errorf("%w: %s: %v: %s", ErrExport, e.command[0], err, strings.TrimSpace(string(out)))
	}
	e.logger.Debug("exporter finished", zap.String("command", e.command[0]), zap.ByteString("output", out))
	return nil
}

func writeJSONAtomic(path string, v any) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	tmp := fmt.Sprintf("%s.%s.tmp", path, uuid.NewString())
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return err
	}
	return nil
}
