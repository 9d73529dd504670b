// Command eval-scheduler submits Slurm evaluation jobs for every checkpoint
// training writes, newest first, until enough checkpoints are evaluated.
//
//	eval-scheduler [flags] <ckpt_dir> <slurm_script> <prefix>
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"

	"campaign-orchestrator/api/rest/routes"
	"campaign-orchestrator/config"
	"campaign-orchestrator/core/executor"
	"campaign-orchestrator/core/monitoring"
	"campaign-orchestrator/core/repository"
	"campaign-orchestrator/core/scheduler"
	"campaign-orchestrator/core/spec"
	"campaign-orchestrator/storage"
)

type options struct {
	specFile   string
	staleAfter time.Duration
	exporter   string
	eval       spec.EvalSpec
}

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "eval-scheduler: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg := config.Load()
	opts, err := parseFlags(cfg, os.Args[1:])
	if err != nil {
		return err
	}
	logger, err := config.NewLogger(cfg.LogLevel)
	if err != nil {
		return err
	}
	defer logger.Sync()

	eval := opts.eval
	tmpl, err := spec.LoadScriptTemplate(eval.SlurmScript)
	if err != nil {
		return err
	}
	checkpoints, err := storage.NewCheckpointManager(eval.CheckpointDir, eval.CheckpointPattern)
	if err != nil {
		return err
	}
	logDir, err := scheduler.LogDir(eval.CheckpointDir, eval.LogsName)
	if err != nil {
		return err
	}
	streamDir, err := scheduler.StreamDir(eval.CheckpointDir)
	if err != nil {
		return err
	}

	scratch, err := storage.NewScratch(cfg.ScratchDir)
	if err != nil {
		return err
	}
	defer scratch.Close()
	scriptPath, err := scheduler.PrepareScripts(tmpl, scratch, eval.Prefix)
	if err != nil {
		return err
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics := monitoring.NewMetrics(reg)

	exporter, err := newExporter(opts.exporter, eval.ExporterCommand, logger)
	if err != nil {
		return err
	}

	schedOpts := []scheduler.Option{
		scheduler.WithLogger(logger),
		scheduler.WithMetrics(metrics),
	}
	var events *repository.EventRepository
	if cfg.DBDriver != "" {
		db, err := repository.Open(cfg.DBDriver, cfg.DatabaseURL)
		if err != nil {
			return err
		}
		defer db.Close()
		if err := db.EnsureSchema(); err != nil {
			return err
		}
		events = repository.NewEventRepository(db)
		schedOpts = append(schedOpts, scheduler.WithEventRecorder(events))
	}

	client := executor.NewSbatchClient(cfg.SbatchBin, eval.Partition, nil, logger)
	sched, err := scheduler.New(checkpoints, client, exporter, scheduler.Config{
		Prefix:          eval.Prefix,
		JobsPerGPU:      eval.JobsPerGPU,
		MinCheckpoints:  eval.MinCheckpoints,
		Force:           eval.Force,
		MetricsName:     eval.MetricsName,
		LogDir:          logDir,
		StreamDir:       streamDir,
		ScriptPath:      scriptPath,
		StaleAfter:      opts.staleAfter,
		PollInterval:    cfg.PollInterval,
		DirWaitInterval: cfg.DirWaitInterval,
	}, schedOpts...)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if cfg.StatusAddr != "" {
		r := mux.NewRouter()
		if events != nil {
			routes.SetupRoutes(r, sched, events, reg)
		} else {
			routes.SetupRoutes(r, sched, nil, reg)
		}
		server := &http.Server{Addr: cfg.StatusAddr, Handler: r}
		go func() {
			logger.Info("status server listening", zap.String("addr", cfg.StatusAddr))
			if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				logger.Error("status server failed", zap.Error(err))
			}
		}()
		defer server.Shutdown(context.Background())
	}

	logger.Info("starting campaign",
		zap.String("run_id", uuid.NewString()),
		zap.String("campaign", eval.Prefix),
		zap.String("checkpoint_dir", checkpoints.Dir()),
		zap.String("log_dir", logDir),
		zap.Int("jobs_per_gpu", eval.JobsPerGPU),
		zap.Int("min_checkpoints", eval.MinCheckpoints),
		zap.Duration("stale_after", opts.staleAfter),
	)
	err = sched.Run(ctx)
	if errors.Is(err, context.Canceled) {
		// submitted jobs keep running in Slurm
		logger.Info("interrupted, leaving submitted jobs running")
		return nil
	}
	return err
}

func newExporter(flagCommand string, specCommand []string, logger *zap.Logger) (monitoring.Exporter, error) {
	command := specCommand
	if flagCommand != "" {
		command = strings.Fields(flagCommand)
	}
	if len(command) == 0 {
		return monitoring.NewSummaryExporter(logger), nil
	}
	return monitoring.NewCommandExporter(command, nil, logger)
}

// parseFlags accepts flags before and after the positional arguments.
// Explicitly set flags override values from --spec.
func parseFlags(cfg *config.Config, args []string) (*options, error) {
	fs := flag.NewFlagSet("eval-scheduler", flag.ContinueOnError)
	fs.Usage = func() {
		fmt.Fprintln(fs.Output(), "usage: eval-scheduler [flags] <ckpt_dir> <slurm_script> <prefix>")
		fs.PrintDefaults()
	}

	def := spec.DefaultEvalSpec()
	specFile := fs.String("spec", "", "YAML campaign spec with an evaluation section")
	force := fs.Bool("f", false, "first remove all sentinels and logs without stats")
	jobsPerGPU := fs.Int("j", def.JobsPerGPU, "number of checkpoints evaluated per job")
	minCkpts := fs.Int("m", def.MinCheckpoints, "keep polling until this many checkpoints are evaluated (-1 submits once)")
	partition := fs.String("p", "", "Slurm partition to submit jobs to")
	tbName := fs.String("t", def.MetricsName, "name of the metrics directory next to the log dir")
	logsName := fs.String("l", def.LogsName, "name of the log directory next to the checkpoint dir")
	staleAfter := fs.Duration("stale-after", cfg.StaleAfter, "reclaim claims older than this without stats")
	pattern := fs.String("pattern", "", "checkpoint file glob (default "+storage.DefaultCheckpointPattern+")")
	exporter := fs.String("exporter", "", "external metrics exporter command, run as <cmd> <log_dir> -y -t <name>")
	fs.BoolVar(force, "force", false, "alias for -f")
	fs.IntVar(jobsPerGPU, "jobs-per-gpu", def.JobsPerGPU, "alias for -j")
	fs.IntVar(minCkpts, "min-ckpts", def.MinCheckpoints, "alias for -m")
	fs.StringVar(partition, "partition", "", "alias for -p")
	fs.StringVar(tbName, "tb-name", def.MetricsName, "alias for -t")
	fs.StringVar(logsName, "logs-name", def.LogsName, "alias for -l")

	var positional []string
	for {
		if err := fs.Parse(args); err != nil {
			return nil, err
		}
		if fs.NArg() == 0 {
			break
		}
		positional = append(positional, fs.Arg(0))
		args = fs.Args()[1:]
	}

	eval := def
	if *specFile != "" {
		data, err := os.ReadFile(*specFile)
		if err != nil {
			return nil, fmt.Errorf("%w: read spec: %v", spec.ErrConfiguration, err)
		}
		evalDefaults := spec.DefaultEvalSpec()
		if cfg.StaleAfter > 0 {
			evalDefaults.StaleAfter = cfg.StaleAfter.String()
		}
		parsed, err := spec.ParseCampaignSpecWithDefaults(string(data), evalDefaults, spec.DefaultGenerationSpec())
		if err != nil {
			return nil, err
		}
		if parsed.Evaluation == nil {
			return nil, fmt.Errorf("%w: %s has no evaluation section", spec.ErrConfiguration, *specFile)
		}
		eval = *parsed.Evaluation
	}

	switch len(positional) {
	case 0:
	case 3:
		eval.CheckpointDir, eval.SlurmScript, eval.Prefix = positional[0], positional[1], positional[2]
	default:
		fs.Usage()
		return nil, fmt.Errorf("%w: expected <ckpt_dir> <slurm_script> <prefix>, got %d arguments", spec.ErrConfiguration, len(positional))
	}

	staleSet := false
	fs.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "f", "force":
			eval.Force = *force
		case "j", "jobs-per-gpu":
			eval.JobsPerGPU = *jobsPerGPU
		case "m", "min-ckpts":
			eval.MinCheckpoints = *minCkpts
		case "p", "partition":
			eval.Partition = *partition
		case "t", "tb-name":
			eval.MetricsName = *tbName
		case "l", "logs-name":
			eval.LogsName = *logsName
		case "pattern":
			eval.CheckpointPattern = *pattern
		case "stale-after":
			staleSet = true
		}
	})
	if staleSet || *specFile == "" {
		eval.StaleAfter = staleAfter.String()
	}
	if err := eval.Validate(); err != nil {
		return nil, err
	}
	stale, err := eval.StaleAfterDuration()
	if err != nil {
		return nil, err
	}
	return &options{specFile: *specFile, staleAfter: stale, exporter: *exporter, eval: eval}, nil
}
