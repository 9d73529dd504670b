package executor

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"slices"
	"strconv"
	"strings"

	"go.uber.org/zap"
)

// ErrSubmission is returned when the batch scheduler rejects a job.
var ErrSubmission = errors.New("batch submission failed")

// OvercapPartition is the preemptible partition that also needs an account.
const OvercapPartition = "overcap"

// SubmitRequest is one batch job submission.
type SubmitRequest struct {
	JobName    string
	OutputPath string
	ErrorPath  string
	// TaskCount is the number of tasks per node, one per claimed unit.
	TaskCount int
	// Env is exported to the job and to the submitting process.
	Env        map[string]string
	ScriptPath string
}

// BatchClient submits jobs to an external batch scheduler. A non-nil error
// means the job was not accepted.
type BatchClient interface {
	Submit(ctx context.Context, req SubmitRequest) error
}

// SbatchClient submits jobs through the Slurm sbatch binary.
type SbatchClient struct {
	binary    string
	partition string
	runner    Runner
	logger    *zap.Logger
}

// NewSbatchClient creates an sbatch client. An empty binary means "sbatch" on
// PATH and a nil runner means ExecRunner.
func NewSbatchClient(binary, partition string, runner Runner, logger *zap.Logger) *SbatchClient {
	if binary == "" {
		binary = "sbatch"
	}
	if runner == nil {
		runner = ExecRunner{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SbatchClient{
		binary:    binary,
		partition: partition,
		runner:    runner,
		logger:    logger,
	}
}

var submittedRe = regexp.MustCompile(`Submitted batch job (\d+)`)

// Submit runs sbatch for req. Any non-zero exit is wrapped in ErrSubmission.
func (c *SbatchClient) Submit(ctx context.Context, req SubmitRequest) error {
	args, err := c.Args(req)
	if err != nil {
		return err
	}

	out, err := c.runner.Run(ctx, c.binary, args, envList(req.Env))
	if err != nil {
		return fmt.Errorf("%w: job %s: %v: %s", ErrSubmission, req.JobName, err, strings.TrimSpace(string(out)))
	}

	fields := []zap.Field{zap.String("job", req.JobName), zap.Int("tasks", req.TaskCount)}
	if m := submittedRe.FindSubmatch(out); m != nil {
		fields = append(fields, zap.String("slurm_job_id", string(m[1])))
	}
	c.logger.Info("submitted batch job", fields...)
	return nil
}

// Args builds the sbatch argument list for req.
func (c *SbatchClient) Args(req SubmitRequest) ([]string, error) {
	if req.TaskCount < 1 {
		return nil, fmt.Errorf("%w: job %s has no tasks", ErrSubmission, req.JobName)
	}
	export := []string{"ALL"}
	for _, kv := range envList(req.Env) {
		// sbatch splits --export on commas
		if strings.Contains(kv, ",") {
			return nil, fmt.Errorf("%w: job %s: exported value contains a comma: %s", ErrSubmission, req.JobName, kv)
		}
		export = append(export, kv)
	}

	args := []string{
		"--job-name", req.JobName,
		"--output", req.OutputPath,
		"--error", req.ErrorPath,
		"--open-mode=append",
		"--ntasks-per-node", strconv.Itoa(req.TaskCount),
		"--export=" + strings.Join(export, ","),
	}
	if c.partition != "" {
		args = append(args, "--partition", c.partition)
		if c.partition == OvercapPartition {
			args = append(args, "--account", OvercapPartition)
		}
	}
	return append(args, req.ScriptPath), nil
}

func envList(env map[string]string) []string {
	keys := make([]string, 0, len(env))
	for k := range env {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	out := make([]string, len(keys))
	for i, k := range keys {
		out[i] = k + "=" + env[k]
	}
	return out
}
