// Package scheduler abstracts job submission and queries against cluster
// workload managers. Concrete variants talk to the scheduler's command line
// over a pooled SSH session.
package scheduler

import (
	"context"
	"time"
)

// JobDescription is the scheduler-independent description of a batch job.
type JobDescription struct {
	// Name of the job as shown by the scheduler.
	Name string

	// WorkingDirectory the job starts in. Created on submission if absent.
	WorkingDirectory string

	// StandardOutput and StandardError are absolute log file paths.
	StandardOutput string
	StandardError  string

	// Script is the full batch script, including any scheduler directives.
	Script string
}

// JobState is a coarse scheduler-independent job state.
type JobState string

const (
	StatePending   JobState = "PENDING"
	StateRunning   JobState = "RUNNING"
	StateCompleted JobState = "COMPLETED"
	StateFailed    JobState = "FAILED"
	StateUnknown   JobState = "UNKNOWN"
)

// Job is the scheduler's view of a submitted job.
type Job struct {
	ID    string
	Name  string
	State JobState
}

// Client submits and inspects jobs on one cluster.
//
// Implementations acquire an SSH session per operation and run as the
// requesting user; the access token travels along for credential issuance.
type Client interface {
	// SubmitJob submits the described job and returns the scheduler job id.
	SubmitJob(ctx context.Context, job *JobDescription, username, accessToken string) (string, error)

	// JobInfo returns the current state of a submitted job.
	JobInfo(ctx context.Context, jobID, username, accessToken string) (*Job, error)

	// Ping verifies that the scheduler answers at all; used by health probes.
	Ping(ctx context.Context, username, accessToken string) error
}

// opTimeout returns ctx bounded by the scheduler communication timeout.
func opTimeout(ctx context.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return context.WithTimeout(ctx, timeout)
}
