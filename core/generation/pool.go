// Package generation runs the parallel episode generation pool: one shard
// per scene, claimed through the filesystem so several pools can share a
// scene set.
package generation

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"path/filepath"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"campaign-orchestrator/core/claim"
	"campaign-orchestrator/core/models"
	"campaign-orchestrator/simulator"
	"campaign-orchestrator/storage"
)

// DefaultWorkers is the number of concurrent worker slots.
const DefaultWorkers = 27

// Request describes one generation run
type Request struct {
	DatasetType      string
	Split            string
	OutDir           string
	ScenesDir        string
	Scenes           []string
	EpisodesPerScene int
	Simulator        simulator.Config
}

// Summary counts what happened to each scene
type Summary struct {
	Generated int
	// Skipped scenes were already claimed or done.
	Skipped int
	Failed  int
}

// Pool generates shards with a bounded number of concurrent simulators.
// A failed scene keeps its claim sentinel; the pool never reclaims.
type Pool struct {
	factory simulator.Factory
	writer  *storage.ShardWriter
	store   *claim.Store
	workers int
	rng     *rand.Rand
	logger  *zap.Logger
}

// PoolOption customises a Pool
type PoolOption func(*Pool)

// WithWorkers sets the number of worker slots.
func WithWorkers(n int) PoolOption {
	return func(p *Pool) {
		if n > 0 {
			p.workers = n
		}
	}
}

// WithSeed makes the scene shuffle reproducible.
func WithSeed(seed uint64) PoolOption {
	return func(p *Pool) { p.rng = rand.New(rand.NewPCG(seed, seed)) }
}

// WithPoolLogger attaches a logger.
func WithPoolLogger(logger *zap.Logger) PoolOption {
	return func(p *Pool) {
		if logger != nil {
			p.logger = logger
		}
	}
}

// NewPool creates a generation pool
func NewPool(factory simulator.Factory, opts ...PoolOption) *Pool {
	p := &Pool{
		factory: factory,
		writer:  storage.NewShardWriter(),
		workers: DefaultWorkers,
		rng:     rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64())),
		logger:  zap.NewNop(),
	}
	for _, opt := range opts {
		opt(p)
	}
	p.store = claim.NewStore(claim.GenerationLayout{}, claim.WithLogger(p.logger))
	return p
}

// Run writes the empty split manifest, then generates every scene that is
// neither claimed nor done. Once dispatched, a scene runs to completion even
// if ctx is cancelled; cancellation only stops further dispatch. The returned
// error joins every per-scene failure.
func (p *Pool) Run(ctx context.Context, req Request) (Summary, error) {
	var summary Summary
	if req.EpisodesPerScene < 1 {
		return summary, fmt.Errorf("episodes per scene must be positive, got %d", req.EpisodesPerScene)
	}
	scenes := make([]Scene, 0, len(req.Scenes))
	for _, id := range req.Scenes {
		scene, err := ResolveScene(req.DatasetType, req.Split, id)
		if err != nil {
			return summary, err
		}
		scenes = append(scenes, scene)
	}

	if err := p.writer.WriteEmptyManifest(ManifestPath(req.OutDir, req.Split)); err != nil {
		return summary, fmt.Errorf("write split manifest: %w", err)
	}

	p.rng.Shuffle(len(scenes), func(i, j int) { scenes[i], scenes[j] = scenes[j], scenes[i] })
	p.logger.Info("generating episodes",
		zap.String("dataset", req.DatasetType),
		zap.String("split", req.Split),
		zap.Int("scenes", len(scenes)),
		zap.Int("workers", p.workers),
	)

	var (
		mu   sync.Mutex
		errs []error
	)
	taskCtx := context.WithoutCancel(ctx)
	var g errgroup.Group
	g.SetLimit(p.workers)
	for _, scene := range scenes {
		if ctx.Err() != nil {
			break
		}
		g.Go(func() error {
			generated, err := p.generateScene(taskCtx, req, scene)
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err != nil:
				summary.Failed++
				errs = append(errs, err)
			case generated:
				summary.Generated++
			default:
				summary.Skipped++
			}
			return nil
		})
	}
	_ = g.Wait()

	p.logger.Info("generation finished",
		zap.Int("generated", summary.Generated),
		zap.Int("skipped", summary.Skipped),
		zap.Int("failed", summary.Failed),
	)
	if err := ctx.Err(); err != nil {
		errs = append(errs, err)
	}
	return summary, errors.Join(errs...)
}

func (p *Pool) generateScene(ctx context.Context, req Request, scene Scene) (bool, error) {
	unit := models.WorkUnit{
		Kind:       models.UnitKindScene,
		ID:         scene.ID,
		OutputPath: ShardPath(req.OutDir, req.Split, scene.Name),
	}
	claimed, err := p.store.TryClaim(unit)
	if err != nil {
		return false, err
	}
	if !claimed {
		p.logger.Debug("scene already claimed or done", zap.String("scene", scene.ID))
		return false, nil
	}

	episodes, err := p.simulate(ctx, req, scene)
	if err != nil {
		p.logger.Error("scene generation failed", zap.String("scene", scene.ID), zap.Error(err))
		return false, fmt.Errorf("scene %s: %w", scene.ID, err)
	}
	err = p.store.MarkDone(unit, func(path string) error {
		return p.writer.WriteShard(path, episodes)
	})
	if err != nil {
		return false, fmt.Errorf("scene %s: %w", scene.ID, err)
	}
	p.logger.Info("wrote shard", zap.String("scene", scene.ID), zap.Int("episodes", len(episodes)))
	return true, nil
}

func (p *Pool) simulate(ctx context.Context, req Request, scene Scene) ([]models.Episode, error) {
	sim, err := p.factory.Make(ctx, filepath.Join(req.ScenesDir, scene.AssetPath), req.Simulator)
	if err != nil {
		return nil, err
	}
	defer sim.Close()

	episodes := make([]models.Episode, 0, req.EpisodesPerScene)
	for ep, err := range sim.GenerateEpisodes(ctx, req.EpisodesPerScene) {
		if err != nil {
			return nil, err
		}
		if ep == nil {
			return nil, errors.New("simulator returned an empty episode")
		}
		ep.SetSceneID(scene.AssetPath)
		episodes = append(episodes, ep)
	}
	return episodes, nil
}
