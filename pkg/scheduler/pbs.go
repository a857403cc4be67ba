package scheduler

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/hpcbridge/hpcbridge/pkg/sshpool"
)

// PBSClient drives PBS Professional through qsub/qstat over SSH.
type PBSClient struct {
	pool    *sshpool.Pool
	version string
	timeout time.Duration
}

// NewPBSClient creates a PBS client over the given session pool.
func NewPBSClient(pool *sshpool.Pool, version string, timeout time.Duration) *PBSClient {
	return &PBSClient{pool: pool, version: version, timeout: timeout}
}

// SubmitJob submits the job with qsub, feeding the script over stdin.
func (c *PBSClient) SubmitJob(ctx context.Context, job *JobDescription, username, accessToken string) (string, error) {
	ctx, cancel := opTimeout(ctx, c.timeout)
	defer cancel()

	sess, err := c.pool.Acquire(ctx, username, accessToken)
	if err != nil {
		return "", err
	}
	defer sess.Release()

	cmd := fmt.Sprintf(
		"mkdir -p %q && cd %q && qsub -N %q -o %q -e %q -- /dev/stdin <<'HPCB_JOB'\n%s\nHPCB_JOB",
		job.WorkingDirectory, job.WorkingDirectory, job.Name,
		job.StandardOutput, job.StandardError, job.Script,
	)

	res, err := sess.Execute(ctx, cmd)
	if err != nil {
		return "", fmt.Errorf("qsub: %w", err)
	}
	if res.ExitCode != 0 {
		return "", fmt.Errorf("qsub exited %d: %s", res.ExitCode, strings.TrimSpace(res.Stderr))
	}

	jobID := strings.TrimSpace(res.Stdout)
	if jobID == "" {
		return "", fmt.Errorf("qsub returned no job id")
	}
	return jobID, nil
}

// JobInfo queries qstat, including finished jobs (-x).
func (c *PBSClient) JobInfo(ctx context.Context, jobID, username, accessToken string) (*Job, error) {
	ctx, cancel := opTimeout(ctx, c.timeout)
	defer cancel()

	sess, err := c.pool.Acquire(ctx, username, accessToken)
	if err != nil {
		return nil, err
	}
	defer sess.Release()

	res, err := sess.Execute(ctx, fmt.Sprintf("qstat -x -f %q", jobID))
	if err != nil {
		return nil, fmt.Errorf("qstat: %w", err)
	}
	if res.ExitCode != 0 {
		return nil, fmt.Errorf("job %s not known to pbs: %s", jobID, strings.TrimSpace(res.Stderr))
	}

	job := &Job{ID: jobID, State: StateUnknown}
	for _, line := range strings.Split(res.Stdout, "\n") {
		key, value, found := strings.Cut(line, "=")
		if !found {
			continue
		}
		switch strings.TrimSpace(key) {
		case "job_state":
			job.State = mapPBSState(strings.TrimSpace(value))
		case "Job_Name":
			job.Name = strings.TrimSpace(value)
		}
	}
	return job, nil
}

// Ping queries the server status.
func (c *PBSClient) Ping(ctx context.Context, username, accessToken string) error {
	ctx, cancel := opTimeout(ctx, c.timeout)
	defer cancel()

	sess, err := c.pool.Acquire(ctx, username, accessToken)
	if err != nil {
		return err
	}
	defer sess.Release()

	res, err := sess.Execute(ctx, "qstat -B")
	if err != nil {
		return fmt.Errorf("qstat -B: %w", err)
	}
	if res.ExitCode != 0 {
		return fmt.Errorf("qstat -B exited %d: %s", res.ExitCode, strings.TrimSpace(res.Stderr))
	}
	return nil
}

func mapPBSState(state string) JobState {
	switch state {
	case "Q", "H", "W", "T":
		return StatePending
	case "R", "E", "B":
		return StateRunning
	case "F":
		return StateCompleted
	default:
		return StateUnknown
	}
}
