package models

import "strconv"

// Episode is one generated episode. Its schema belongs to the simulator, so
// it is kept as a generic JSON object.
type Episode map[string]any

// SetSceneID points the episode at the scene asset it was generated from.
func (e Episode) SetSceneID(sceneID string) {
	e["scene_id"] = sceneID
}

// EpisodeID returns the episode_id field as a string, or "" when absent.
// Datasets store it either as a string or as a number.
func (e Episode) EpisodeID() string {
	switch v := e["episode_id"].(type) {
	case string:
		return v
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	case int:
		return strconv.Itoa(v)
	default:
		return ""
	}
}
