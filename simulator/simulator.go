// Package simulator defines the episode generator the generation pool drives
// and an implementation backed by an external command.
package simulator

import (
	"context"
	"errors"
	"iter"

	"campaign-orchestrator/core/models"
)

// ErrExhausted is yielded when an episode sequence is iterated a second time.
var ErrExhausted = errors.New("episode sequence already consumed")

// Config configures a simulator instance.
type Config struct {
	// ExpConfig is the experiment config file the simulator is set up from.
	ExpConfig string
	// Overrides are key=value config overrides.
	Overrides []string
}

// Factory builds one simulator per scene.
type Factory interface {
	Make(ctx context.Context, scenePath string, cfg Config) (Simulator, error)
}

// Simulator produces episodes for the scene it was built for.
type Simulator interface {
	// GenerateEpisodes lazily yields up to n episodes. The sequence is finite
	// and cannot be restarted.
	GenerateEpisodes(ctx context.Context, n int) iter.Seq2[models.Episode, error]
	Close() error
}
