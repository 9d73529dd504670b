// Command dataset-tools holds small utilities around episode datasets and
// evaluation logs.
//
//	dataset-tools subsample <dir> <total> [-seed n]
//	dataset-tools extract <data-dir> <episode-id>... [-o split]
//	dataset-tools export-metrics <logs-dir> [-y] [-t tb_eval]
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"math/rand/v2"
	"os"
	"path/filepath"
	"strconv"

	"go.uber.org/zap"

	"campaign-orchestrator/config"
	"campaign-orchestrator/core/monitoring"
	"campaign-orchestrator/core/spec"
	"campaign-orchestrator/storage"
)

var errUsage = errors.New("usage: dataset-tools <subsample|extract|export-metrics> [args]")

func main() {
	if err := run(os.Args[1:], os.Stdout); err != nil {
		fmt.Fprintf(os.Stderr, "dataset-tools: %v\n", err)
		os.Exit(1)
	}
}

func run(args []string, stdout io.Writer) error {
	if len(args) == 0 {
		return errUsage
	}
	cfg := config.Load()
	logger, err := config.NewLogger(cfg.LogLevel)
	if err != nil {
		return err
	}
	defer logger.Sync()

	switch args[0] {
	case "subsample":
		return runSubsample(args[1:], stdout)
	case "extract":
		return runExtract(args[1:], stdout)
	case "export-metrics":
		return runExportMetrics(args[1:], logger)
	default:
		return fmt.Errorf("%w: unknown command %q", errUsage, args[0])
	}
}

// parseInterspersed lets flags appear anywhere among the positionals.
func parseInterspersed(fs *flag.FlagSet, args []string) ([]string, error) {
	var positional []string
	for {
		if err := fs.Parse(args); err != nil {
			return nil, err
		}
		if fs.NArg() == 0 {
			return positional, nil
		}
		positional = append(positional, fs.Arg(0))
		args = fs.Args()[1:]
	}
}

func runSubsample(args []string, stdout io.Writer) error {
	fs := flag.NewFlagSet("subsample", flag.ContinueOnError)
	seed := fs.Uint64("seed", 0, "sampling seed (random when unset)")
	positional, err := parseInterspersed(fs, args)
	if err != nil {
		return err
	}
	if len(positional) != 2 {
		return fmt.Errorf("%w: subsample <dir> <total>", spec.ErrConfiguration)
	}
	total, err := strconv.Atoi(positional[1])
	if err != nil || total < 0 {
		return fmt.Errorf("%w: invalid total %q", spec.ErrConfiguration, positional[1])
	}

	rng := rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64()))
	fs.Visit(func(f *flag.Flag) {
		if f.Name == "seed" {
			rng = rand.New(rand.NewPCG(*seed, *seed))
		}
	})

	results, err := storage.SubsampleDir(positional[0], total, rng)
	if err != nil {
		return err
	}
	for _, r := range results {
		fmt.Fprintf(stdout, "Processed %s: selected %d episodes, saved to %s\n", r.Source, r.Selected, r.Output)
	}
	return nil
}

func runExtract(args []string, stdout io.Writer) error {
	fs := flag.NewFlagSet("extract", flag.ContinueOnError)
	outSplit := fs.String("o", "debug", "name of the new split")
	dataRoot := fs.String("data-root", "data", "directory the new split is written to")
	positional, err := parseInterspersed(fs, args)
	if err != nil {
		return err
	}
	if len(positional) < 2 {
		return fmt.Errorf("%w: extract <data-dir> <episode-id>...", spec.ErrConfiguration)
	}

	shards, err := storage.FindShards(positional[0])
	if err != nil {
		return err
	}
	dataset, err := storage.ExtractEpisodes(shards, positional[1:])
	if err != nil {
		return err
	}
	out := filepath.Join(*dataRoot, *outSplit+".json.gz")
	if err := storage.NewShardWriter().WriteDataset(out, dataset); err != nil {
		return err
	}
	fmt.Fprintln(stdout, "The following command opt will work with the new split:")
	fmt.Fprintf(stdout, "habitat.dataset.data_path='%s'\n", out)
	return nil
}

func runExportMetrics(args []string, logger *zap.Logger) error {
	fs := flag.NewFlagSet("export-metrics", flag.ContinueOnError)
	replace := fs.Bool("y", false, "replace an existing export")
	destName := fs.String("t", spec.DefaultMetricsName, "name of the metrics directory")
	positional, err := parseInterspersed(fs, args)
	if err != nil {
		return err
	}
	if len(positional) != 1 {
		return fmt.Errorf("%w: export-metrics <logs-dir>", spec.ErrConfiguration)
	}
	return monitoring.NewSummaryExporter(logger).Export(context.Background(), positional[0], *replace, *destName)
}
