// Command generate-episodes generates one gzipped episode shard per scene of
// a dataset split using a pool of external simulator processes.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"go.uber.org/zap"

	"campaign-orchestrator/config"
	"campaign-orchestrator/core/generation"
	"campaign-orchestrator/core/spec"
	"campaign-orchestrator/simulator"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "generate-episodes: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg := config.Load()
	gen, err := parseFlags(cfg, os.Args[1:])
	if err != nil {
		return err
	}
	logger, err := config.NewLogger(cfg.LogLevel)
	if err != nil {
		return err
	}
	defer logger.Sync()

	splits, err := spec.LoadSceneSplits(gen.SplitsFile)
	if err != nil {
		return err
	}
	scenes, err := splits.Scenes(gen.DatasetType, gen.Split)
	if err != nil {
		return err
	}

	factory, err := simulator.NewCommandFactory(gen.SimulatorCommand, logger)
	if err != nil {
		return err
	}
	poolOpts := []generation.PoolOption{
		generation.WithWorkers(gen.Workers),
		generation.WithPoolLogger(logger),
	}
	if gen.Seed != nil {
		poolOpts = append(poolOpts, generation.WithSeed(*gen.Seed))
	}
	pool := generation.NewPool(factory, poolOpts...)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	summary, err := pool.Run(ctx, generation.Request{
		DatasetType:      gen.DatasetType,
		Split:            gen.Split,
		OutDir:           gen.OutDir,
		ScenesDir:        gen.ScenesDir,
		Scenes:           scenes,
		EpisodesPerScene: gen.EpisodesPerScene,
		Simulator: simulator.Config{
			ExpConfig: gen.ExpConfig,
			Overrides: gen.Overrides,
		},
	})
	logger.Info("done",
		zap.Int("generated", summary.Generated),
		zap.Int("skipped", summary.Skipped),
		zap.Int("failed", summary.Failed),
	)
	return err
}

type repeatedFlag []string

func (r *repeatedFlag) String() string {
	if r == nil {
		return ""
	}
	return strings.Join(*r, ",")
}

func (r *repeatedFlag) Set(value string) error {
	*r = append(*r, value)
	return nil
}

func parseFlags(cfg *config.Config, args []string) (*spec.GenerationSpec, error) {
	fs := flag.NewFlagSet("generate-episodes", flag.ContinueOnError)
	def := spec.DefaultGenerationSpec()

	specFile := fs.String("spec", "", "YAML campaign spec with a generation section")
	expConfig := fs.String("exp-config", "", "config yaml used to set up the simulator")
	datasetType := fs.String("dataset-type", "", "dataset type to generate, one of [hm3d, gibson]")
	split := fs.String("split", "", "dataset split to generate, e.g. train or val")
	outDir := fs.String("out-dir", "", "output directory for the dataset")
	scenesDir := fs.String("s", def.ScenesDir, "scene dataset directory")
	splitsFile := fs.String("splits-file", "train_val_splits.yaml", "YAML mapping dataset type and split to scenes")
	episodes := fs.Int("n", def.EpisodesPerScene, "number of episodes per scene")
	workers := fs.Int("workers", cfg.Workers, "number of concurrent simulators")
	seed := fs.Uint64("seed", 0, "seed for the scene shuffle (random when unset)")
	simCmd := fs.String("sim-cmd", "", "episode generator command, invoked per scene")
	var overrides repeatedFlag
	fs.Var(&overrides, "o", "config override key=value (repeatable)")
	fs.StringVar(scenesDir, "scenes-dir", def.ScenesDir, "alias for -s")
	fs.IntVar(episodes, "num-episodes-per-scene", def.EpisodesPerScene, "alias for -n")
	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	// environment values stand in for anything the spec file omits
	def.SplitsFile = *splitsFile
	if cfg.Workers > 0 {
		def.Workers = cfg.Workers
	}
	gen := def
	if *specFile != "" {
		data, err := os.ReadFile(*specFile)
		if err != nil {
			return nil, fmt.Errorf("%w: read spec: %v", spec.ErrConfiguration, err)
		}
		parsed, err := spec.ParseCampaignSpecWithDefaults(string(data), spec.DefaultEvalSpec(), def)
		if err != nil {
			return nil, err
		}
		if parsed.Generation == nil {
			return nil, fmt.Errorf("%w: %s has no generation section", spec.ErrConfiguration, *specFile)
		}
		gen = *parsed.Generation
	}

	fs.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "exp-config":
			gen.ExpConfig = *expConfig
		case "dataset-type":
			gen.DatasetType = *datasetType
		case "split":
			gen.Split = *split
		case "out-dir":
			gen.OutDir = *outDir
		case "s", "scenes-dir":
			gen.ScenesDir = *scenesDir
		case "splits-file":
			gen.SplitsFile = *splitsFile
		case "n", "num-episodes-per-scene":
			gen.EpisodesPerScene = *episodes
		case "workers":
			gen.Workers = *workers
		case "seed":
			gen.Seed = seed
		case "sim-cmd":
			gen.SimulatorCommand = strings.Fields(*simCmd)
		case "o":
			gen.Overrides = append(gen.Overrides, overrides...)
		}
	})
	if err := gen.Validate(); err != nil {
		return nil, err
	}
	return &gen, nil
}
