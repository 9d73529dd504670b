package monitoring

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"

	"campaign-orchestrator/core/models"
)

const evaluatedLog = `2024-01-01 12:00:00 Loading checkpoint
step_id: 5000000
2024-01-01 12:30:00 Average episode reward: 4.5000
2024-01-01 12:30:00 Average episode success: 0.8125
2024-01-01 12:30:00 Average episode spl: 0.7000
`

func writeLog(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestParseLog(t *testing.T) {
	chk := require.New(t)
	dir := t.TempDir()

	stats, err := ParseLog(writeLog(t, dir, "ckpt.3.log", evaluatedLog))
	chk.NoError(err)
	chk.True(stats.HasStep)
	chk.Equal(int64(5000000), stats.Step)
	chk.Equal(map[string]float64{"reward": 4.5, "success": 0.8125, "spl": 0.7}, stats.Stats)

	stats, err = ParseLog(writeLog(t, dir, "ckpt.4.log", "still running\n"))
	chk.NoError(err)
	chk.False(stats.HasStep)
	chk.Empty(stats.Stats)

	_, err = ParseLog(filepath.Join(dir, "missing.log"))
	chk.Error(err)
}

func TestSummaryExporter(t *testing.T) {
	chk := require.New(t)
	run := t.TempDir()
	logDir := filepath.Join(run, "logs")
	chk.NoError(os.MkdirAll(logDir, 0o755))
	writeLog(t, logDir, "ckpt.10.log", evaluatedLog)
	writeLog(t, logDir, "ckpt.2.log", "Average episode reward: 1.0\nAverage episode success: 0.1\n")
	writeLog(t, logDir, "ckpt.11.log", "partial output\n")

	exporter := NewSummaryExporter(nil)
	chk.NoError(exporter.Export(context.Background(), logDir, false, "tb_eval"))

	data, err := os.ReadFile(filepath.Join(run, "tb_eval", SummaryFile))
	chk.NoError(err)
	var records []SummaryRecord
	chk.NoError(json.Unmarshal(data, &records))
	chk.Len(records, 2)

	chk.Equal("ckpt.2", records[0].Checkpoint)
	chk.Equal(int64(2), records[0].Step)
	chk.Equal(1.0, *records[0].Reward)
	chk.Equal(map[string]float64{"success": 0.1}, records[0].Metrics)

	chk.Equal("ckpt.10", records[1].Checkpoint)
	chk.Equal(int64(5000000), records[1].Step)
	chk.NotContains(records[1].Metrics, RewardKey)
}

func TestSummaryExporterRespectsOverwrite(t *testing.T) {
	run := t.TempDir()
	logDir := filepath.Join(run, "logs")
	require.NoError(t, os.MkdirAll(logDir, 0o755))
	require.NoError(t, os.MkdirAll(filepath.Join(run, "tb_eval"), 0o755))

	exporter := NewSummaryExporter(nil)
	err := exporter.Export(context.Background(), logDir, false, "tb_eval")
	require.ErrorIs(t, err, ErrExport)

	require.NoError(t, exporter.Export(context.Background(), logDir, true, "tb_eval"))
	require.FileExists(t, filepath.Join(run, "tb_eval", SummaryFile))
}

type stubRunner struct {
	name string
	args []string
	err  error
}

func (r *stubRunner) Run(_ context.Context, name string, args []string, _ []string) ([]byte, error) {
	r.name, r.args = name, args
	return []byte("done"), r.err
}

func TestCommandExporter(t *testing.T) {
	runner := &stubRunner{}
	exporter, err := NewCommandExporter([]string{"python", "logs_to_tb.py"}, runner, nil)
	require.NoError(t, err)

	require.NoError(t, exporter.Export(context.Background(), "/runs/logs", true, "tb_eval"))
	require.Equal(t, "python", runner.name)
	require.Equal(t, []string{"logs_to_tb.py", "/runs/logs", "-y", "-t", "tb_eval"}, runner.args)

	runner.err = errors.New("exit status 2")
	require.ErrorIs(t, exporter.Export(context.Background(), "/runs/logs", false, "tb_eval"), ErrExport)
	require.Equal(t, []string{"logs_to_tb.py", "/runs/logs", "-t", "tb_eval"}, runner.args)

	_, err = NewCommandExporter(nil, nil, nil)
	require.Error(t, err)
}

func gatheredValue(t *testing.T, reg *prometheus.Registry, name string, label string) float64 {
	t.Helper()
	families, err := reg.Gather()
	require.NoError(t, err)
	for _, mf := range families {
		if mf.GetName() != name {
			continue
		}
		for _, m := range mf.GetMetric() {
			if label != "" {
				matched := false
				for _, lp := range m.GetLabel() {
					if lp.GetValue() == label {
						matched = true
					}
				}
				if !matched {
					continue
				}
			}
			if m.GetCounter() != nil {
				return m.GetCounter().GetValue()
			}
			return m.GetGauge().GetValue()
		}
	}
	t.Fatalf("metric %s{%s} not found", name, label)
	return 0
}

func TestMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)

	m.JobSubmitted(2)
	m.JobSubmitted(1)
	m.SubmissionFailed()
	m.UnitReclaimed()
	m.ExportFinished(nil)
	m.ExportFinished(ErrExport)
	m.ExportFinished(ErrExport)
	m.RoundFinished(map[models.UnitStatus]int{models.UnitStatusPending: 4, models.UnitStatusDone: 1})

	require.Equal(t, 2.0, gatheredValue(t, reg, "campaign_jobs_submitted_total", ""))
	require.Equal(t, 3.0, gatheredValue(t, reg, "campaign_units_claimed_total", ""))
	require.Equal(t, 1.0, gatheredValue(t, reg, "campaign_submission_failures_total", ""))
	require.Equal(t, 1.0, gatheredValue(t, reg, "campaign_units_reclaimed_total", ""))
	require.Equal(t, 2.0, gatheredValue(t, reg, "campaign_exports_total", "failure"))
	require.Equal(t, 4.0, gatheredValue(t, reg, "campaign_units", "pending"))
	require.Equal(t, 0.0, gatheredValue(t, reg, "campaign_units", "claimed"))
	require.Equal(t, 1.0, gatheredValue(t, reg, "campaign_rounds_total", ""))
}

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	m.JobSubmitted(1)
	m.SubmissionFailed()
	m.UnitReclaimed()
	m.ExportFinished(nil)
	m.RoundFinished(nil)
}
