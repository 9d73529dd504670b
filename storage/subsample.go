package storage

import (
	"errors"
	"fmt"
	"math/rand/v2"
	"path/filepath"

	"campaign-orchestrator/core/models"
	"campaign-orchestrator/core/partition"
)

// ErrNoEpisodes is returned when no shard holds any requested episode.
var ErrNoEpisodes = errors.New("no matching episodes")

// SubsampleResult describes one rewritten shard
type SubsampleResult struct {
	Source   string
	Output   string
	Selected int
}

// SubsampleDir spreads total episodes as evenly as possible over the
// *.json.gz shards directly inside dir. Each shard keeps a random sample of
// at most its share and is written to dir/subsampled/<basename>.
func SubsampleDir(dir string, total int, rng *rand.Rand) ([]SubsampleResult, error) {
	shards, err := filepath.Glob(filepath.Join(dir, "*.json.gz"))
	if err != nil {
		return nil, err
	}
	if len(shards) == 0 {
		return nil, fmt.Errorf("no .json.gz files found in %s", dir)
	}

	writer := NewShardWriter()
	shares := partition.Distribute(total, len(shards))
	results := make([]SubsampleResult, 0, len(shards))
	for i, shard := range shards {
		dataset, err := ReadShard(shard)
		if err != nil {
			return results, err
		}
		dataset.Episodes = sampleEpisodes(dataset.Episodes, shares[i], rng)

		out := filepath.Join(filepath.Dir(shard), "subsampled", filepath.Base(shard))
		if err := writer.WriteDataset(out, dataset); err != nil {
			return results, err
		}
		results = append(results, SubsampleResult{Source: shard, Output: out, Selected: len(dataset.Episodes)})
	}
	return results, nil
}

// sampleEpisodes returns n episodes chosen without replacement, or all of
// them when there are no more than n.
func sampleEpisodes(episodes []models.Episode, n int, rng *rand.Rand) []models.Episode {
	if len(episodes) <= n {
		return episodes
	}
	picked := make([]models.Episode, len(episodes))
	copy(picked, episodes)
	rng.Shuffle(len(picked), func(i, j int) { picked[i], picked[j] = picked[j], picked[i] })
	return picked[:n]
}

// ExtractEpisodes scans shards in order and returns the first one containing
// any of the requested episode ids, filtered down to those ids. Top-level keys
// other than episodes are preserved.
func ExtractEpisodes(shards []string, ids []string) (*Dataset, error) {
	want := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		want[id] = struct{}{}
	}

	for _, shard := range shards {
		dataset, err := ReadShard(shard)
		if err != nil {
			return nil, err
		}
		var matched []models.Episode
		for _, ep := range dataset.Episodes {
			if _, ok := want[ep.EpisodeID()]; ok {
				matched = append(matched, ep)
			}
		}
		if len(matched) > 0 {
			dataset.Episodes = matched
			return dataset, nil
		}
	}
	return nil, ErrNoEpisodes
}
