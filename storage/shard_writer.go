package storage

import (
	"encoding/json"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"campaign-orchestrator/core/models"

	"github.com/klauspost/compress/gzip"
)

// Dataset is the top-level object of a gzipped episode shard. Episodes live
// under "episodes"; any other top-level keys are carried through untouched.
type Dataset struct {
	Episodes []models.Episode
	Extra    map[string]json.RawMessage
}

// MarshalJSON flattens Extra next to the episodes key.
func (d Dataset) MarshalJSON() ([]byte, error) {
	obj := make(map[string]any, len(d.Extra)+1)
	for k, v := range d.Extra {
		obj[k] = v
	}
	episodes := d.Episodes
	if episodes == nil {
		episodes = []models.Episode{}
	}
	obj["episodes"] = episodes
	return json.Marshal(obj)
}

// UnmarshalJSON splits the episodes key from the remaining keys.
func (d *Dataset) UnmarshalJSON(data []byte) error {
	var obj map[string]json.RawMessage
	if err := json.Unmarshal(data, &obj); err != nil {
		return err
	}
	d.Episodes = nil
	if raw, ok := obj["episodes"]; ok {
		if err := json.Unmarshal(raw, &d.Episodes); err != nil {
			return fmt.Errorf("decode episodes: %w", err)
		}
		delete(obj, "episodes")
	}
	d.Extra = obj
	return nil
}

// ShardWriter writes gzipped JSON episode shards.
type ShardWriter struct {
	level int
}

// NewShardWriter creates a shard writer using the default gzip level.
func NewShardWriter() *ShardWriter {
	return &ShardWriter{level: gzip.DefaultCompression}
}

// WriteShard writes {"episodes": [...]} to path, creating parent directories.
func (w *ShardWriter) WriteShard(path string, episodes []models.Episode) error {
	return w.WriteDataset(path, &Dataset{Episodes: episodes})
}

// WriteDataset writes a full dataset object to path, creating parent
// directories.
func (w *ShardWriter) WriteDataset(path string, dataset *Dataset) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create shard dir: %w", err)
	}
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create shard %s: %w", path, err)
	}
	defer f.Close()

	zw, err := gzip.NewWriterLevel(f, w.level)
	if err != nil {
		return err
	}
	if err := json.NewEncoder(zw).Encode(dataset); err != nil {
		zw.Close()
		return fmt.Errorf("encode shard %s: %w", path, err)
	}
	if err := zw.Close(); err != nil {
		return fmt.Errorf("flush shard %s: %w", path, err)
	}
	return f.Close()
}

// WriteEmptyManifest writes the top-level split file {"episodes": []}.
func (w *ShardWriter) WriteEmptyManifest(path string) error {
	return w.WriteShard(path, nil)
}

// ReadShard decodes a gzipped JSON shard.
func ReadShard(path string) (*Dataset, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	zr, err := gzip.NewReader(f)
	if err != nil {
		return nil, fmt.Errorf("open gzip %s: %w", path, err)
	}
	defer zr.Close()

	var dataset Dataset
	if err := json.NewDecoder(zr).Decode(&dataset); err != nil {
		return nil, fmt.Errorf("decode shard %s: %w", path, err)
	}
	return &dataset, nil
}

// FindShards returns every *.json.gz file below root in lexical order.
func FindShards(root string) ([]string, error) {
	var shards []string
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() && strings.HasSuffix(d.Name(), ".json.gz") {
			shards = append(shards, path)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return shards, nil
}
