package executor

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

type recordingRunner struct {
	name string
	args []string
	env  []string
	out  []byte
	err  error
}

func (r *recordingRunner) Run(_ context.Context, name string, args []string, env []string) ([]byte, error) {
	r.name, r.args, r.env = name, args, env
	return r.out, r.err
}

func sampleRequest() SubmitRequest {
	return SubmitRequest{
		JobName:    "exp1_7_3",
		OutputPath: "/runs/slurm_eval_out/exp1_7_3.out",
		ErrorPath:  "/runs/slurm_eval_out/exp1_7_3.err",
		TaskCount:  2,
		Env: map[string]string{
			"SLURM_LOG_DIR":     "/runs/logs",
			"SLURM_CHECKPOINTS": "/runs/ckpts/ckpt.7.pth__CKPT_SEP__/runs/ckpts/ckpt.3.pth",
		},
		ScriptPath: "/tmp/campaign-x/exp1_eval.sh",
	}
}

func TestSbatchClientSubmit(t *testing.T) {
	chk := require.New(t)
	runner := &recordingRunner{out: []byte("Submitted batch job 4242\n")}
	client := NewSbatchClient("", "", runner, nil)

	chk.NoError(client.Submit(context.Background(), sampleRequest()))
	chk.Equal("sbatch", runner.name)
	chk.Equal([]string{
		"--job-name", "exp1_7_3",
		"--output", "/runs/slurm_eval_out/exp1_7_3.out",
		"--error", "/runs/slurm_eval_out/exp1_7_3.err",
		"--open-mode=append",
		"--ntasks-per-node", "2",
		"--export=ALL,SLURM_CHECKPOINTS=/runs/ckpts/ckpt.7.pth__CKPT_SEP__/runs/ckpts/ckpt.3.pth,SLURM_LOG_DIR=/runs/logs",
		"/tmp/campaign-x/exp1_eval.sh",
	}, runner.args)
	chk.Equal([]string{
		"SLURM_CHECKPOINTS=/runs/ckpts/ckpt.7.pth__CKPT_SEP__/runs/ckpts/ckpt.3.pth",
		"SLURM_LOG_DIR=/runs/logs",
	}, runner.env)
}

func TestSbatchClientPartition(t *testing.T) {
	args, err := NewSbatchClient("", "long", &recordingRunner{}, nil).Args(sampleRequest())
	require.NoError(t, err)
	require.Equal(t, []string{"--partition", "long", "/tmp/campaign-x/exp1_eval.sh"}, args[len(args)-3:])

	args, err = NewSbatchClient("", OvercapPartition, &recordingRunner{}, nil).Args(sampleRequest())
	require.NoError(t, err)
	require.Equal(t, []string{"--partition", "overcap", "--account", "overcap", "/tmp/campaign-x/exp1_eval.sh"}, args[len(args)-5:])
}

func TestSbatchClientSubmissionFailure(t *testing.T) {
	runner := &recordingRunner{out: []byte("sbatch: error: invalid partition"), err: errors.New("exit status 1")}
	err := NewSbatchClient("/usr/bin/sbatch", "", runner, nil).Submit(context.Background(), sampleRequest())
	require.ErrorIs(t, err, ErrSubmission)
	require.Contains(t, err.Error(), "invalid partition")
	require.Equal(t, "/usr/bin/sbatch", runner.name)
}

func TestSbatchClientRejectsBadRequests(t *testing.T) {
	req := sampleRequest()
	req.TaskCount = 0
	_, err := NewSbatchClient("", "", nil, nil).Args(req)
	require.ErrorIs(t, err, ErrSubmission)

	req = sampleRequest()
	req.Env["SLURM_LOG_DIR"] = "/runs/a,b"
	_, err = NewSbatchClient("", "", nil, nil).Args(req)
	require.ErrorIs(t, err, ErrSubmission)
}
