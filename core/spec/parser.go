package spec

import (
	"fmt"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// CampaignSpec represents the YAML campaign specification
type CampaignSpec struct {
	Evaluation *EvalSpec       `yaml:"evaluation,omitempty"`
	Generation *GenerationSpec `yaml:"generation,omitempty"`
}

// EvalSpec describes a checkpoint evaluation campaign
type EvalSpec struct {
	CheckpointDir     string   `yaml:"checkpoint_dir"`
	SlurmScript       string   `yaml:"slurm_script"`
	Prefix            string   `yaml:"prefix"`
	JobsPerGPU        int      `yaml:"jobs_per_gpu"`
	MinCheckpoints    int      `yaml:"min_checkpoints"`
	Partition         string   `yaml:"partition,omitempty"`
	Force             bool     `yaml:"force"`
	MetricsName       string   `yaml:"metrics_name"`
	LogsName          string   `yaml:"logs_name"`
	StaleAfter        string   `yaml:"stale_after"` // Go duration, e.g. "10h"
	CheckpointPattern string   `yaml:"checkpoint_pattern,omitempty"`
	ExporterCommand   []string `yaml:"exporter_command,omitempty"`
}

// GenerationSpec describes an episode generation campaign
type GenerationSpec struct {
	ExpConfig        string   `yaml:"exp_config"`
	DatasetType      string   `yaml:"dataset_type"` // hm3d | gibson
	Split            string   `yaml:"split"`
	OutDir           string   `yaml:"out_dir"`
	ScenesDir        string   `yaml:"scenes_dir"`
	SplitsFile       string   `yaml:"splits_file"`
	Overrides        []string `yaml:"overrides,omitempty"`
	EpisodesPerScene int      `yaml:"episodes_per_scene"`
	Workers          int      `yaml:"workers"`
	Seed             *uint64  `yaml:"seed,omitempty"`
	SimulatorCommand []string `yaml:"simulator_command"`
}

const (
	DefaultJobsPerGPU       = 2
	DefaultMetricsName      = "tb_eval"
	DefaultLogsName         = "logs"
	DefaultStaleAfter       = "10h"
	DefaultScenesDir        = "data/scene_datasets"
	DefaultEpisodesPerScene = 1000
	DefaultWorkers          = 27
)

// NoMinimum disables the polling loop: submit once and stop.
const NoMinimum = -1

// DefaultEvalSpec returns an evaluation spec carrying every default.
func DefaultEvalSpec() EvalSpec {
	return EvalSpec{
		JobsPerGPU:     DefaultJobsPerGPU,
		MinCheckpoints: NoMinimum,
		MetricsName:    DefaultMetricsName,
		LogsName:       DefaultLogsName,
		StaleAfter:     DefaultStaleAfter,
	}
}

// DefaultGenerationSpec returns a generation spec carrying every default.
func DefaultGenerationSpec() GenerationSpec {
	return GenerationSpec{
		ScenesDir:        DefaultScenesDir,
		EpisodesPerScene: DefaultEpisodesPerScene,
		Workers:          DefaultWorkers,
	}
}

// ParseCampaignSpec parses a YAML campaign specification. Missing fields take
// their defaults; sections that are present are validated.
func ParseCampaignSpec(specYAML string) (*CampaignSpec, error) {
	return ParseCampaignSpecWithDefaults(specYAML, DefaultEvalSpec(), DefaultGenerationSpec())
}

// ParseCampaignSpecWithDefaults is ParseCampaignSpec with caller-supplied
// defaults for fields the file omits, such as values taken from the
// environment.
func ParseCampaignSpecWithDefaults(specYAML string, evalDefaults EvalSpec, genDefaults GenerationSpec) (*CampaignSpec, error) {
	var raw struct {
		Evaluation *yaml.Node `yaml:"evaluation"`
		Generation *yaml.Node `yaml:"generation"`
	}
	if err := yaml.Unmarshal([]byte(specYAML), &raw); err != nil {
		return nil, fmt.Errorf("%w: failed to parse YAML: %v", ErrConfiguration, err)
	}

	spec := &CampaignSpec{}
	if raw.Evaluation != nil {
		eval := evalDefaults
		if err := raw.Evaluation.Decode(&eval); err != nil {
			return nil, fmt.Errorf("%w: evaluation: %v", ErrConfiguration, err)
		}
		if err := eval.Validate(); err != nil {
			return nil, err
		}
		spec.Evaluation = &eval
	}
	if raw.Generation != nil {
		gen := genDefaults
		if err := raw.Generation.Decode(&gen); err != nil {
			return nil, fmt.Errorf("%w: generation: %v", ErrConfiguration, err)
		}
		if err := gen.Validate(); err != nil {
			return nil, err
		}
		spec.Generation = &gen
	}
	if spec.Evaluation == nil && spec.Generation == nil {
		return nil, fmt.Errorf("%w: spec defines neither evaluation nor generation", ErrConfiguration)
	}
	return spec, nil
}

// Validate checks an evaluation spec for values that cannot work.
func (s *EvalSpec) Validate() error {
	switch {
	case s.CheckpointDir == "":
		return fmt.Errorf("%w: checkpoint_dir is required", ErrConfiguration)
	case s.SlurmScript == "":
		return fmt.Errorf("%w: slurm_script is required", ErrConfiguration)
	case s.JobsPerGPU < 1:
		return fmt.Errorf("%w: jobs_per_gpu must be at least 1, got %d", ErrConfiguration, s.JobsPerGPU)
	case s.LogsName == "":
		return fmt.Errorf("%w: logs_name is required", ErrConfiguration)
	}
	if err := ValidatePrefix(s.Prefix); err != nil {
		return err
	}
	if _, err := s.StaleAfterDuration(); err != nil {
		return err
	}
	return nil
}

// prefixForbidden lists characters a run prefix may not contain. The prefix
// ends up in sbatch --export, in file names and in sentinel globs.
const prefixForbidden = ",/ *?[]\\"

// ValidatePrefix rejects run prefixes that would break submission or let a
// sentinel glob match another campaign's files.
func ValidatePrefix(prefix string) error {
	if prefix == "" {
		return fmt.Errorf("%w: prefix is required", ErrConfiguration)
	}
	if strings.ContainsAny(prefix, prefixForbidden) {
		return fmt.Errorf("%w: prefix %q must not contain any of %q", ErrConfiguration, prefix, prefixForbidden)
	}
	return nil
}

// StaleAfterDuration parses stale_after.
func (s *EvalSpec) StaleAfterDuration() (time.Duration, error) {
	if s.StaleAfter == "" {
		s.StaleAfter = DefaultStaleAfter
	}
	d, err := time.ParseDuration(s.StaleAfter)
	if err != nil {
		return 0, fmt.Errorf("%w: invalid stale_after %q: %v", ErrConfiguration, s.StaleAfter, err)
	}
	if d <= 0 {
		return 0, fmt.Errorf("%w: stale_after must be positive, got %s", ErrConfiguration, d)
	}
	return d, nil
}

// Polling reports whether the campaign waits for a minimum number of
// evaluated checkpoints rather than submitting once.
func (s *EvalSpec) Polling() bool {
	return s.MinCheckpoints != NoMinimum
}

// Validate checks a generation spec for values that cannot work.
func (s *GenerationSpec) Validate() error {
	switch {
	case s.DatasetType != "hm3d" && s.DatasetType != "gibson":
		return fmt.Errorf("%w: invalid dataset type %q, want hm3d or gibson", ErrConfiguration, s.DatasetType)
	case s.Split == "":
		return fmt.Errorf("%w: split is required", ErrConfiguration)
	case s.OutDir == "":
		return fmt.Errorf("%w: out_dir is required", ErrConfiguration)
	case s.EpisodesPerScene < 1:
		return fmt.Errorf("%w: episodes_per_scene must be positive", ErrConfiguration)
	case s.Workers < 1:
		return fmt.Errorf("%w: workers must be positive", ErrConfiguration)
	case len(s.SimulatorCommand) == 0:
		return fmt.Errorf("%w: simulator_command is required", ErrConfiguration)
	}
	return nil
}
