package scheduler

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/hpcbridge/hpcbridge/pkg/sshpool"
)

// SlurmClient drives Slurm through sbatch/squeue/sacct over SSH.
type SlurmClient struct {
	pool    *sshpool.Pool
	version string
	timeout time.Duration
}

// NewSlurmClient creates a Slurm client over the given session pool.
func NewSlurmClient(pool *sshpool.Pool, version string, timeout time.Duration) *SlurmClient {
	return &SlurmClient{pool: pool, version: version, timeout: timeout}
}

// SubmitJob submits the job with sbatch, feeding the script over stdin.
// Returns the numeric job id.
func (c *SlurmClient) SubmitJob(ctx context.Context, job *JobDescription, username, accessToken string) (string, error) {
	ctx, cancel := opTimeout(ctx, c.timeout)
	defer cancel()

	sess, err := c.pool.Acquire(ctx, username, accessToken)
	if err != nil {
		return "", err
	}
	defer sess.Release()

	cmd := fmt.Sprintf(
		"mkdir -p %q && sbatch --parsable --job-name=%q --chdir=%q --output=%q --error=%q <<'HPCB_JOB'\n%s\nHPCB_JOB",
		job.WorkingDirectory, job.Name, job.WorkingDirectory,
		job.StandardOutput, job.StandardError, job.Script,
	)

	res, err := sess.Execute(ctx, cmd)
	if err != nil {
		return "", fmt.Errorf("sbatch: %w", err)
	}
	if res.ExitCode != 0 {
		return "", fmt.Errorf("sbatch exited %d: %s", res.ExitCode, strings.TrimSpace(res.Stderr))
	}

	// --parsable prints "jobid" or "jobid;cluster".
	jobID := strings.TrimSpace(res.Stdout)
	if i := strings.IndexByte(jobID, ';'); i >= 0 {
		jobID = jobID[:i]
	}
	if jobID == "" {
		return "", fmt.Errorf("sbatch returned no job id")
	}
	return jobID, nil
}

// JobInfo queries squeue for active jobs and falls back to sacct once the
// job has left the queue.
func (c *SlurmClient) JobInfo(ctx context.Context, jobID, username, accessToken string) (*Job, error) {
	ctx, cancel := opTimeout(ctx, c.timeout)
	defer cancel()

	sess, err := c.pool.Acquire(ctx, username, accessToken)
	if err != nil {
		return nil, err
	}
	defer sess.Release()

	res, err := sess.Execute(ctx, fmt.Sprintf("squeue -j %q -h -o '%%i|%%T|%%j'", jobID))
	if err != nil {
		return nil, fmt.Errorf("squeue: %w", err)
	}
	if line := strings.TrimSpace(res.Stdout); res.ExitCode == 0 && line != "" {
		return parseSlurmJobLine(line)
	}

	res, err = sess.Execute(ctx, fmt.Sprintf("sacct -j %q -n -P -X -o JobID,State,JobName", jobID))
	if err != nil {
		return nil, fmt.Errorf("sacct: %w", err)
	}
	line := strings.TrimSpace(res.Stdout)
	if res.ExitCode != 0 || line == "" {
		return nil, fmt.Errorf("job %s not known to slurm", jobID)
	}
	if i := strings.IndexByte(line, '\n'); i >= 0 {
		line = line[:i]
	}
	return parseSlurmJobLine(line)
}

// Ping runs a lightweight controller query.
func (c *SlurmClient) Ping(ctx context.Context, username, accessToken string) error {
	ctx, cancel := opTimeout(ctx, c.timeout)
	defer cancel()

	sess, err := c.pool.Acquire(ctx, username, accessToken)
	if err != nil {
		return err
	}
	defer sess.Release()

	res, err := sess.Execute(ctx, "scontrol ping")
	if err != nil {
		return fmt.Errorf("scontrol ping: %w", err)
	}
	if res.ExitCode != 0 {
		return fmt.Errorf("scontrol ping exited %d: %s", res.ExitCode, strings.TrimSpace(res.Stderr))
	}
	return nil
}

func parseSlurmJobLine(line string) (*Job, error) {
	fields := strings.Split(line, "|")
	if len(fields) < 2 {
		return nil, fmt.Errorf("unexpected slurm output %q", line)
	}
	job := &Job{ID: fields[0], State: mapSlurmState(fields[1])}
	if len(fields) > 2 {
		job.Name = fields[2]
	}
	return job, nil
}

func mapSlurmState(state string) JobState {
	// sacct suffixes cancelled states, e.g. "CANCELLED by 1000".
	state, _, _ = strings.Cut(strings.TrimSpace(state), " ")
	switch state {
	case "PENDING", "CONFIGURING", "REQUEUED", "SUSPENDED":
		return StatePending
	case "RUNNING", "COMPLETING":
		return StateRunning
	case "COMPLETED":
		return StateCompleted
	case "FAILED", "CANCELLED", "TIMEOUT", "OUT_OF_MEMORY", "NODE_FAIL", "PREEMPTED", "BOOT_FAIL", "DEADLINE":
		return StateFailed
	default:
		return StateUnknown
	}
}
