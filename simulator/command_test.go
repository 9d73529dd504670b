package simulator

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"campaign-orchestrator/core/models"
)

func sceneAsset(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "Adrian.glb")
	require.NoError(t, os.WriteFile(path, []byte("glb"), 0o644))
	return path
}

func collect(t *testing.T, sim Simulator, n int) ([]models.Episode, error) {
	t.Helper()
	var episodes []models.Episode
	for ep, err := range sim.GenerateEpisodes(context.Background(), n) {
		if err != nil {
			return episodes, err
		}
		episodes = append(episodes, ep)
	}
	return episodes, nil
}

func TestCommandFactoryStreamsEpisodes(t *testing.T) {
	chk := require.New(t)
	script := `for i in 0 1 2 3; do echo "{\"episode_id\": \"$i\"}"; done`
	factory, err := NewCommandFactory([]string{"sh", "-c", script, "generator"}, nil)
	chk.NoError(err)

	sim, err := factory.Make(context.Background(), sceneAsset(t), Config{ExpConfig: "pointnav.yaml"})
	chk.NoError(err)
	defer sim.Close()

	episodes, err := collect(t, sim, 3)
	chk.NoError(err)
	chk.Len(episodes, 3)
	chk.Equal("0", episodes[0].EpisodeID())
	chk.Equal("2", episodes[2].EpisodeID())

	_, err = collect(t, sim, 3)
	chk.ErrorIs(err, ErrExhausted)
}

func TestCommandFactoryReportsFailure(t *testing.T) {
	factory, err := NewCommandFactory([]string{"sh", "-c", "echo navmesh missing >&2; exit 3"}, nil)
	require.NoError(t, err)
	sim, err := factory.Make(context.Background(), sceneAsset(t), Config{})
	require.NoError(t, err)

	_, err = collect(t, sim, 5)
	require.Error(t, err)
	require.Contains(t, err.Error(), "navmesh missing")
}

func TestCommandFactoryRejectsNonObjectEpisodes(t *testing.T) {
	for _, line := range []string{"null", "{}"} {
		t.Run(line, func(t *testing.T) {
			script := `echo '{"episode_id": "0"}'; echo '` + line + `'`
			factory, err := NewCommandFactory([]string{"sh", "-c", script, "generator"}, nil)
			require.NoError(t, err)
			sim, err := factory.Make(context.Background(), sceneAsset(t), Config{})
			require.NoError(t, err)

			episodes, err := collect(t, sim, 3)
			require.Error(t, err)
			require.Contains(t, err.Error(), "episode 1")
			require.Contains(t, err.Error(), "not a JSON object")
			require.Len(t, episodes, 1)
		})
	}
}

func TestCommandFactoryArgs(t *testing.T) {
	factory, err := NewCommandFactory([]string{"python", "gen.py"}, nil)
	require.NoError(t, err)
	sim := &commandSimulator{
		factory:   factory,
		scenePath: "/scenes/gibson/Adrian.glb",
		cfg:       Config{ExpConfig: "cfg.yaml", Overrides: []string{"habitat.seed=1"}},
	}
	require.Equal(t, []string{
		"gen.py", "--scene", "/scenes/gibson/Adrian.glb", "--num-episodes", "10",
		"--exp-config", "cfg.yaml", "--override", "habitat.seed=1",
	}, sim.args(10))
}

func TestCommandFactoryMissingScene(t *testing.T) {
	factory, err := NewCommandFactory([]string{"true"}, nil)
	require.NoError(t, err)
	_, err = factory.Make(context.Background(), filepath.Join(t.TempDir(), "nope.glb"), Config{})
	require.Error(t, err)

	_, err = NewCommandFactory(nil, nil)
	require.Error(t, err)
}
