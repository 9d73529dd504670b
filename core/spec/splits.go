package spec

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// SceneSplits maps dataset type to split name to scene identifiers, as in
// train_val_splits.yaml.
type SceneSplits map[string]map[string][]string

// LoadSceneSplits reads a scene split file.
func LoadSceneSplits(path string) (SceneSplits, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: read scene splits: %v", ErrConfiguration, err)
	}
	return ParseSceneSplits(data)
}

// ParseSceneSplits parses scene split YAML.
func ParseSceneSplits(data []byte) (SceneSplits, error) {
	var splits SceneSplits
	if err := yaml.Unmarshal(data, &splits); err != nil {
		return nil, fmt.Errorf("%w: parse scene splits: %v", ErrConfiguration, err)
	}
	return splits, nil
}

// Scenes returns a copy of the scene list for datasetType/split.
func (s SceneSplits) Scenes(datasetType, split string) ([]string, error) {
	bySplit, ok := s[datasetType]
	if !ok {
		return nil, fmt.Errorf("%w: no scenes for dataset type %q", ErrConfiguration, datasetType)
	}
	scenes, ok := bySplit[split]
	if !ok {
		return nil, fmt.Errorf("%w: no scenes for %s split %q", ErrConfiguration, datasetType, split)
	}
	return append([]string(nil), scenes...), nil
}
