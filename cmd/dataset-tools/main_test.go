package main

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"campaign-orchestrator/core/models"
	"campaign-orchestrator/core/monitoring"
	"campaign-orchestrator/storage"
)

func writeShard(t *testing.T, path string, ids ...string) {
	t.Helper()
	eps := make([]models.Episode, len(ids))
	for i, id := range ids {
		eps[i] = models.Episode{"episode_id": id}
	}
	require.NoError(t, storage.NewShardWriter().WriteShard(path, eps))
}

func TestSubsampleCommand(t *testing.T) {
	chk := require.New(t)
	dir := t.TempDir()
	writeShard(t, filepath.Join(dir, "a.json.gz"), "1", "2", "3", "4")
	writeShard(t, filepath.Join(dir, "b.json.gz"), "5", "6", "7", "8")

	var out bytes.Buffer
	chk.NoError(runSubsample([]string{dir, "4", "-seed", "3"}, &out))
	chk.Contains(out.String(), "selected 2 episodes")

	got, err := storage.ReadShard(filepath.Join(dir, "subsampled", "b.json.gz"))
	chk.NoError(err)
	chk.Len(got.Episodes, 2)
}

func TestSubsampleCommandRejectsBadTotal(t *testing.T) {
	var out bytes.Buffer
	require.Error(t, runSubsample([]string{t.TempDir(), "many"}, &out))
	require.Error(t, runSubsample([]string{t.TempDir()}, &out))
}

func TestExtractCommand(t *testing.T) {
	chk := require.New(t)
	dataDir := t.TempDir()
	writeShard(t, filepath.Join(dataDir, "val", "content", "a.json.gz"), "1", "2")
	writeShard(t, filepath.Join(dataDir, "val", "content", "b.json.gz"), "3", "4", "5")
	root := filepath.Join(t.TempDir(), "data")

	var out bytes.Buffer
	chk.NoError(runExtract([]string{dataDir, "4", "5", "-o", "repro", "-data-root", root}, &out))

	path := filepath.Join(root, "repro.json.gz")
	chk.Contains(out.String(), "habitat.dataset.data_path='"+path+"'")
	got, err := storage.ReadShard(path)
	chk.NoError(err)
	chk.Len(got.Episodes, 2)
}

func TestExtractCommandNoMatch(t *testing.T) {
	dataDir := t.TempDir()
	writeShard(t, filepath.Join(dataDir, "a.json.gz"), "1")

	var out bytes.Buffer
	err := runExtract([]string{dataDir, "9", "-data-root", t.TempDir()}, &out)
	require.ErrorIs(t, err, storage.ErrNoEpisodes)
}

func TestExportMetricsCommand(t *testing.T) {
	chk := require.New(t)
	ckptDir := t.TempDir()
	logDir := filepath.Join(ckptDir, "logs")
	chk.NoError(os.MkdirAll(logDir, 0o755))
	chk.NoError(os.WriteFile(filepath.Join(logDir, "ckpt.3.log"),
		[]byte("step_id: 300\nAverage episode reward: 2.5\nAverage episode success: 0.5\n"), 0o644))

	chk.NoError(runExportMetrics([]string{logDir, "-t", "summary"}, nil))
	data, err := os.ReadFile(filepath.Join(ckptDir, "summary", monitoring.SummaryFile))
	chk.NoError(err)

	var records []monitoring.SummaryRecord
	chk.NoError(json.Unmarshal(data, &records))
	chk.Len(records, 1)
	chk.Equal(int64(300), records[0].Step)
	chk.InDelta(2.5, *records[0].Reward, 1e-9)

	// a second export needs -y
	chk.ErrorIs(runExportMetrics([]string{logDir, "-t", "summary"}, nil), monitoring.ErrExport)
	chk.NoError(runExportMetrics([]string{"-y", logDir, "-t", "summary"}, nil))
}

func TestRunUnknownCommand(t *testing.T) {
	var out bytes.Buffer
	require.ErrorIs(t, run(nil, &out), errUsage)
	require.ErrorIs(t, run([]string{"frobnicate"}, &out), errUsage)
}
