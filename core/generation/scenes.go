package generation

import (
	"fmt"
	"path/filepath"
	"strings"

	"campaign-orchestrator/core/spec"
)

const (
	DatasetHM3D   = "hm3d"
	DatasetGibson = "gibson"
)

// Scene is a scene identifier resolved against a dataset layout
type Scene struct {
	ID string
	// Name names the output shard.
	Name string
	// AssetPath is relative to the scenes directory and becomes each
	// episode's scene_id.
	AssetPath string
}

// ResolveScene maps a scene identifier to its asset and shard name. hm3d
// identifiers look like 00800-TEEsavR23oF and live under hm3d/<split>/.
func ResolveScene(datasetType, split, scene string) (Scene, error) {
	switch datasetType {
	case DatasetHM3D:
		parts := strings.Split(scene, "-")
		name := parts[len(parts)-1]
		return Scene{
			ID:        scene,
			Name:      name,
			AssetPath: fmt.Sprintf("hm3d/%s/%s/%s.basis.glb", split, scene, name),
		}, nil
	case DatasetGibson:
		return Scene{
			ID:        scene,
			Name:      scene,
			AssetPath: fmt.Sprintf("gibson/%s.glb", scene),
		}, nil
	default:
		return Scene{}, fmt.Errorf("%w: invalid dataset type %q", spec.ErrConfiguration, datasetType)
	}
}

// ShardPath is <outDir>/<split>/content/<name>.json.gz.
func ShardPath(outDir, split, name string) string {
	return filepath.Join(outDir, split, "content", name+".json.gz")
}

// ManifestPath is <outDir>/<split>/<split>.json.gz.
func ManifestPath(outDir, split string) string {
	return filepath.Join(outDir, split, split+".json.gz")
}
