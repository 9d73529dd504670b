package claim

import (
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"campaign-orchestrator/core/models"

	"github.com/stretchr/testify/require"
)

func evalFixture(t *testing.T) (*Store, models.WorkUnit, EvaluationLayout) {
	t.Helper()
	root := t.TempDir()
	ckptDir := filepath.Join(root, "checkpoints")
	logDir := filepath.Join(root, "logs")
	require.NoError(t, os.MkdirAll(ckptDir, 0o755))
	require.NoError(t, os.MkdirAll(logDir, 0o755))

	ckpt := filepath.Join(ckptDir, "ckpt.4.pth")
	require.NoError(t, os.WriteFile(ckpt, nil, 0o644))

	layout := EvaluationLayout{Prefix: "eval", LogDir: logDir}
	unit := models.WorkUnit{Kind: models.UnitKindCheckpoint, ID: ckpt, OutputPath: ckpt, Ordinal: 4}
	return NewStore(layout), unit, layout
}

func writeLog(t *testing.T, path, contents string) {
	t.Helper()
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o644))
}

func TestEvaluationLayoutPaths(t *testing.T) {
	layout := EvaluationLayout{Prefix: "eval", LogDir: "/runs/logs"}
	unit := models.WorkUnit{OutputPath: "/runs/checkpoints/ckpt.12.pth"}
	require.Equal(t, "/runs/checkpoints/ckpt.12.eval_queued", layout.SentinelPath(unit))
	require.Equal(t, "/runs/logs/ckpt.12.log", layout.MarkerPath(unit))
}

func TestGenerationLayoutPaths(t *testing.T) {
	unit := models.WorkUnit{OutputPath: "/out/train/content/Adrian.json.gz"}
	require.Equal(t, "/out/train/content/Adrian.json.gz.incomplete", GenerationLayout{}.SentinelPath(unit))
	require.Equal(t, "/out/train/content/Adrian.json.gz", GenerationLayout{}.MarkerPath(unit))
}

func TestTryClaimSerializedAttempts(t *testing.T) {
	chk := require.New(t)
	store, unit, layout := evalFixture(t)

	ok, err := store.TryClaim(unit)
	chk.NoError(err)
	chk.True(ok)
	chk.FileExists(layout.SentinelPath(unit))

	for i := 0; i < 5; i++ {
		ok, err := store.TryClaim(unit)
		chk.NoError(err)
		chk.False(ok)
	}

	status, err := store.Status(unit)
	chk.NoError(err)
	chk.Equal(models.UnitStatusClaimed, status)
}

func TestTryClaimConcurrentAttempts(t *testing.T) {
	chk := require.New(t)
	store, unit, layout := evalFixture(t)

	const attempts = 16
	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		wins int
	)
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ok, err := store.TryClaim(unit)
			if err != nil {
				t.Errorf("TryClaim: %v", err)
				return
			}
			if ok {
				mu.Lock()
				wins++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	chk.Equal(1, wins)
	matches, err := filepath.Glob(filepath.Join(filepath.Dir(unit.OutputPath), "*."+layout.SentinelSuffix()))
	chk.NoError(err)
	chk.Len(matches, 1)
}

func TestMarkDoneSupersedesClaim(t *testing.T) {
	chk := require.New(t)
	store, unit, layout := evalFixture(t)

	ok, err := store.TryClaim(unit)
	chk.NoError(err)
	chk.True(ok)

	err = store.MarkDone(unit, func(path string) error {
		return os.WriteFile(path, []byte("Average episode reward: 1.5\n"), 0o644)
	})
	chk.NoError(err)

	// Evaluation completion does not clean up the sentinel.
	chk.FileExists(layout.SentinelPath(unit))
	// Reclaiming by hand must not make a finished unit claimable either.
	_, err = store.Reclaim(unit)
	chk.NoError(err)

	ok, err = store.TryClaim(unit)
	chk.NoError(err)
	chk.False(ok)

	status, err := store.Status(unit)
	chk.NoError(err)
	chk.Equal(models.UnitStatusDone, status)
}

func TestMarkDoneReleasesGenerationSentinel(t *testing.T) {
	chk := require.New(t)
	out := filepath.Join(t.TempDir(), "train", "content", "Adrian.json.gz")
	unit := models.WorkUnit{Kind: models.UnitKindScene, ID: "Adrian", OutputPath: out}
	store := NewStore(GenerationLayout{})

	ok, err := store.TryClaim(unit)
	chk.NoError(err)
	chk.True(ok)
	chk.FileExists(out + ".incomplete")

	chk.NoError(store.MarkDone(unit, func(path string) error {
		return os.WriteFile(path, []byte("shard"), 0o644)
	}))
	chk.FileExists(out)
	chk.NoFileExists(out + ".incomplete")

	ok, err = store.TryClaim(unit)
	chk.NoError(err)
	chk.False(ok)
}

func TestMarkDoneWriteFailureLeavesNoMarker(t *testing.T) {
	chk := require.New(t)
	out := filepath.Join(t.TempDir(), "content", "Adrian.json.gz")
	unit := models.WorkUnit{ID: "Adrian", OutputPath: out}
	store := NewStore(GenerationLayout{})

	_, err := store.TryClaim(unit)
	chk.NoError(err)

	err = store.MarkDone(unit, func(path string) error {
		_ = os.WriteFile(path, []byte("partial"), 0o644)
		return os.ErrClosed
	})
	chk.Error(err)
	chk.NoFileExists(out)
	entries, err := os.ReadDir(filepath.Dir(out))
	chk.NoError(err)
	chk.Len(entries, 1, "only the sentinel should remain")
	chk.FileExists(out + ".incomplete")
}

func TestIsStaleThreshold(t *testing.T) {
	chk := require.New(t)
	_, unit, layout := evalFixture(t)

	now := time.Now().Truncate(time.Second)
	store := NewStore(layout, WithClock(func() time.Time { return now }))

	ok, err := store.TryClaim(unit)
	chk.NoError(err)
	chk.True(ok)

	sentinel := layout.SentinelPath(unit)
	created := now.Add(-10 * time.Hour)
	chk.NoError(os.Chtimes(sentinel, created, created))

	stale, err := store.IsStale(unit, 10*time.Hour)
	chk.NoError(err)
	chk.False(stale, "exactly at the threshold is not stale")

	now = now.Add(time.Second)
	stale, err = store.IsStale(unit, 10*time.Hour)
	chk.NoError(err)
	chk.True(stale)

	// A partial log does not change the outcome.
	writeLog(t, layout.MarkerPath(unit), "loading checkpoint\n")
	stale, err = store.IsStale(unit, 10*time.Hour)
	chk.NoError(err)
	chk.True(stale)

	// A completion token does.
	writeLog(t, layout.MarkerPath(unit), "Average episode success: 0.9\n")
	stale, err = store.IsStale(unit, 10*time.Hour)
	chk.NoError(err)
	chk.False(stale)
}

func TestIsStaleWithoutSentinel(t *testing.T) {
	store, unit, _ := evalFixture(t)
	stale, err := store.IsStale(unit, 0)
	require.NoError(t, err)
	require.False(t, stale)
}

func TestReclaimRestoresPending(t *testing.T) {
	chk := require.New(t)
	store, unit, layout := evalFixture(t)

	ok, err := store.TryClaim(unit)
	chk.NoError(err)
	chk.True(ok)
	writeLog(t, layout.MarkerPath(unit), "still running\n")

	res, err := store.Reclaim(unit)
	chk.NoError(err)
	chk.True(res.SentinelRemoved)
	chk.True(res.MarkerFound)
	chk.True(res.PartialRemoved)
	chk.NoFileExists(layout.MarkerPath(unit))

	status, err := store.Status(unit)
	chk.NoError(err)
	chk.Equal(models.UnitStatusPending, status)

	ok, err = store.TryClaim(unit)
	chk.NoError(err)
	chk.True(ok)
}

func TestReclaimKeepsCompletedLog(t *testing.T) {
	chk := require.New(t)
	store, unit, layout := evalFixture(t)

	_, err := store.TryClaim(unit)
	chk.NoError(err)
	writeLog(t, layout.MarkerPath(unit), "Average episode reward: 2.0\n")

	res, err := store.Reclaim(unit)
	chk.NoError(err)
	chk.True(res.SentinelRemoved)
	chk.False(res.PartialRemoved)
	chk.FileExists(layout.MarkerPath(unit))
}

func TestLogHasCompletionToken(t *testing.T) {
	dir := t.TempDir()
	ok, err := LogHasCompletionToken(filepath.Join(dir, "missing.log"))
	require.NoError(t, err)
	require.False(t, ok)

	path := filepath.Join(dir, "ckpt.1.log")
	writeLog(t, path, "Average episode distance_to_goal: 1.25\n")
	ok, err = LogHasCompletionToken(path)
	require.NoError(t, err)
	require.True(t, ok)
}
