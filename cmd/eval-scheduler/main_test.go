package main

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"campaign-orchestrator/config"
	"campaign-orchestrator/core/spec"
)

func testConfig() *config.Config {
	return &config.Config{StaleAfter: 10 * time.Hour}
}

func TestParseFlagsPositionalAndInterspersed(t *testing.T) {
	chk := require.New(t)
	opts, err := parseFlags(testConfig(), []string{"-j", "3", "runs/ckpts", "eval.sh", "exp1", "-m", "20", "-p", "overcap", "-f"})
	chk.NoError(err)

	eval := opts.eval
	chk.Equal("runs/ckpts", eval.CheckpointDir)
	chk.Equal("eval.sh", eval.SlurmScript)
	chk.Equal("exp1", eval.Prefix)
	chk.Equal(3, eval.JobsPerGPU)
	chk.Equal(20, eval.MinCheckpoints)
	chk.Equal("overcap", eval.Partition)
	chk.True(eval.Force)
	chk.Equal("tb_eval", eval.MetricsName)
	chk.Equal("logs", eval.LogsName)
	chk.Equal(10*time.Hour, opts.staleAfter)
}

func TestParseFlagsDefaults(t *testing.T) {
	opts, err := parseFlags(testConfig(), []string{"ckpts", "eval.sh", "exp1"})
	require.NoError(t, err)
	require.Equal(t, spec.DefaultJobsPerGPU, opts.eval.JobsPerGPU)
	require.Equal(t, spec.NoMinimum, opts.eval.MinCheckpoints)
	require.False(t, opts.eval.Force)
}

func TestParseFlagsSpecFileWithOverrides(t *testing.T) {
	path := filepath.Join(t.TempDir(), "campaign.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
evaluation:
  checkpoint_dir: runs/ckpts
  slurm_script: eval.sh
  prefix: exp1
  jobs_per_gpu: 4
  min_checkpoints: 50
  stale_after: 6h
`), 0o644))

	opts, err := parseFlags(testConfig(), []string{"-spec", path, "-j", "1", "-stale-after", "2h"})
	require.NoError(t, err)
	require.Equal(t, "exp1", opts.eval.Prefix)
	require.Equal(t, 1, opts.eval.JobsPerGPU)
	require.Equal(t, 50, opts.eval.MinCheckpoints)
	require.Equal(t, 2*time.Hour, opts.staleAfter)

	opts, err = parseFlags(testConfig(), []string{"-spec", path})
	require.NoError(t, err)
	require.Equal(t, 6*time.Hour, opts.staleAfter)
}

func TestParseFlagsSpecFileFallsBackToEnvStaleAfter(t *testing.T) {
	path := filepath.Join(t.TempDir(), "campaign.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
evaluation:
  checkpoint_dir: runs/ckpts
  slurm_script: eval.sh
  prefix: exp1
`), 0o644))

	opts, err := parseFlags(&config.Config{StaleAfter: 3 * time.Hour}, []string{"-spec", path})
	require.NoError(t, err)
	require.Equal(t, 3*time.Hour, opts.staleAfter)
}

func TestParseFlagsErrors(t *testing.T) {
	_, err := parseFlags(testConfig(), []string{"ckpts", "eval.sh"})
	require.ErrorIs(t, err, spec.ErrConfiguration)

	_, err = parseFlags(testConfig(), []string{"ckpts", "eval.sh", "a,b"})
	require.ErrorIs(t, err, spec.ErrConfiguration)

	_, err = parseFlags(testConfig(), []string{"-j", "0", "ckpts", "eval.sh", "exp1"})
	require.ErrorIs(t, err, spec.ErrConfiguration)
}
