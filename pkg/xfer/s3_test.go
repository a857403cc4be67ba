package xfer

import (
	"context"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hpcbridge/hpcbridge/pkg/scheduler"
	"github.com/hpcbridge/hpcbridge/pkg/settings"
)

// calls is a shared event log asserting operation ordering across fakes.
type calls struct {
	events []string
}

func (c *calls) add(event string) {
	c.events = append(c.events, event)
}

func (c *calls) index(event string) int {
	for i, e := range c.events {
		if e == event {
			return i
		}
	}
	return -1
}

type fakePresigner struct {
	label string
	log   *calls
}

func (f *fakePresigner) GetObjectURL(ctx context.Context, bucket, key string) (string, error) {
	f.log.add(f.label + "-get")
	return fmt.Sprintf("https://%s/get/%s/%s", f.label, bucket, key), nil
}

func (f *fakePresigner) HeadObjectURL(ctx context.Context, bucket, key string) (string, error) {
	return fmt.Sprintf("https://%s/head/%s/%s", f.label, bucket, key), nil
}

func (f *fakePresigner) UploadPartURL(ctx context.Context, bucket, key, uploadID string, partNumber int32) (string, error) {
	return fmt.Sprintf("https://%s/part/%s/%s/%s/%d", f.label, bucket, key, uploadID, partNumber), nil
}

func (f *fakePresigner) CompleteUploadURL(ctx context.Context, bucket, key, uploadID string) (string, error) {
	return fmt.Sprintf("https://%s/complete/%s/%s/%s", f.label, bucket, key, uploadID), nil
}

type fakeScheduler struct {
	log       *calls
	submitted *scheduler.JobDescription
}

func (f *fakeScheduler) SubmitJob(ctx context.Context, job *scheduler.JobDescription, username, accessToken string) (string, error) {
	f.log.add("submit")
	f.submitted = job
	return "12345", nil
}

func (f *fakeScheduler) JobInfo(ctx context.Context, jobID, username, accessToken string) (*scheduler.Job, error) {
	return &scheduler.Job{ID: jobID, State: scheduler.StatePending}, nil
}

func (f *fakeScheduler) Ping(ctx context.Context, username, accessToken string) error {
	return nil
}

func testOrchestrator(t *testing.T) (*S3Orchestrator, *fakeStorageAPI, *fakeScheduler, *calls) {
	t.Helper()
	log := &calls{}
	api := newFakeStorageAPI()
	sched := &fakeScheduler{log: log}
	cluster := &settings.Cluster{
		Name:               "daint",
		TransferDirectives: []string{"#SBATCH -p xfer", "#SBATCH --account={account}"},
	}
	dt := &settings.DataTransfer{
		Type:             settings.TransferS3,
		BucketNamePrefix: "staging-",
		Multipart: settings.MultipartConfig{
			MaxPartSize:  2 << 30,
			ParallelRuns: 3,
			TmpFolder:    "tmp",
		},
		Lifecycle: settings.LifecycleConfig{Days: 10},
	}
	private := &Storage{API: api, Presign: &fakePresigner{label: "private", log: log}}
	public := &Storage{API: api, Presign: &fakePresigner{label: "public", log: log}}

	return NewS3Orchestrator(cluster, dt, sched, nil, private, public, "/scratch", nil), api, sched, log
}

func TestS3Upload(t *testing.T) {
	ctx := context.Background()
	orch, api, sched, _ := testOrchestrator(t)

	op, err := orch.Upload(ctx,
		Location{FileSize: 5 << 30},
		Location{System: "daint", Path: "/scratch/alice/dest.bin"},
		"alice", "token", "proj42")
	require.NoError(t, err)

	// ceil(5 GiB / 2 GiB) = 3 parts, all against the public endpoint.
	require.Len(t, op.Directives.PartsUploadURLs, 3)
	for _, u := range op.Directives.PartsUploadURLs {
		assert.Contains(t, u, "https://public/part/staging-alice/")
	}
	assert.Contains(t, op.Directives.CompleteUploadURL, "https://public/complete/")
	assert.Equal(t, int64(2<<30), op.Directives.MaxPartSize)
	assert.Equal(t, "s3", op.Directives.TransferMethod)
	assert.Empty(t, op.Directives.DownloadURL)

	assert.Equal(t, "12345", op.Job.ID)
	assert.Equal(t, "daint", op.Job.System)
	assert.Equal(t, "/scratch/alice", op.Job.WorkingDirectory)

	assert.True(t, api.buckets["staging-alice"])

	require.NotNil(t, sched.submitted)
	script := sched.submitted.Script
	assert.Contains(t, script, "https://private/get/staging-alice/")
	assert.Contains(t, script, `HPCB_TARGET_PATH="/scratch/alice/dest.bin"`)
	assert.Contains(t, script, "#SBATCH --account=proj42")
	assert.True(t, strings.HasSuffix(strings.Split(script, "\n")[0], "bash"))
}

// The proxy job is submitted before the client uploads anything, so the
// script must wait for the staged object rather than fail on the first
// missing-object response.
func TestS3Upload_ScriptWaitsForStagedObject(t *testing.T) {
	ctx := context.Background()
	orch, _, sched, _ := testOrchestrator(t)

	_, err := orch.Upload(ctx,
		Location{FileSize: 1},
		Location{System: "daint", Path: "/scratch/alice/dest.bin"},
		"alice", "token", "")
	require.NoError(t, err)

	script := sched.submitted.Script
	// Poll window matches the presigned URL expiry (default one hour).
	assert.Contains(t, script, "HPCB_POLL_TIMEOUT=3600")
	assert.Contains(t, script, `sleep "${HPCB_POLL_INTERVAL}"`)
	assert.Contains(t, script, `if headers=$(curl -s -f -I "${HPCB_DOWNLOAD_HEAD_URL}")`)
}

func TestS3Upload_ObjectKeyUsesBasename(t *testing.T) {
	ctx := context.Background()
	orch, _, _, _ := testOrchestrator(t)

	op, err := orch.Upload(ctx,
		Location{FileSize: 1},
		Location{System: "daint", Path: "/deep/nested/dir/file.tar.gz"},
		"alice", "token", "")
	require.NoError(t, err)

	require.Len(t, op.Directives.PartsUploadURLs, 1)
	// Key shape is "<uuid>/<basename>"; only the basename of the target
	// path survives into the object key.
	assert.Contains(t, op.Directives.PartsUploadURLs[0], "/file.tar.gz/")
	assert.NotContains(t, op.Directives.PartsUploadURLs[0], "nested")
}

func TestS3Download_ZeroByteFile(t *testing.T) {
	ctx := context.Background()
	orch, _, sched, log := testOrchestrator(t)
	orch.stat = func(ctx context.Context, srcPath, username, accessToken string) (int64, error) {
		return 0, nil
	}

	op, err := orch.Download(ctx,
		Location{System: "daint", Path: "/scratch/alice/result.dat"},
		Location{},
		"alice", "token", "proj42")
	require.NoError(t, err)

	// Zero bytes means zero parts; the caller still gets a download URL.
	assert.Empty(t, op.Directives.PartsUploadURLs)
	assert.Contains(t, op.Directives.DownloadURL, "https://public/get/staging-alice/result.dat_")
	assert.Equal(t, "s3", op.Directives.TransferMethod)
	assert.Equal(t, "daint", op.Job.System)

	// The public download URL is issued only after job submission.
	submitIdx := log.index("submit")
	getIdx := log.index("public-get")
	require.GreaterOrEqual(t, submitIdx, 0)
	require.GreaterOrEqual(t, getIdx, 0)
	assert.Less(t, submitIdx, getIdx)

	require.NotNil(t, sched.submitted)
	assert.Contains(t, sched.submitted.Script, `HPCB_MP_INPUT_FILE="/scratch/alice/result.dat"`)
	assert.Equal(t, "OutgressFileTransfer", sched.submitted.Name)
}

func TestS3Download_MultipartUsesPrivateEndpoint(t *testing.T) {
	ctx := context.Background()
	orch, _, sched, _ := testOrchestrator(t)
	orch.stat = func(ctx context.Context, srcPath, username, accessToken string) (int64, error) {
		return 5 << 30, nil
	}

	op, err := orch.Download(ctx,
		Location{System: "daint", Path: "/scratch/alice/big.dat"},
		Location{},
		"alice", "token", "")
	require.NoError(t, err)

	// Part and completion URLs are cluster-side and never leave the gateway
	// except inside the job script.
	assert.Empty(t, op.Directives.PartsUploadURLs)
	script := sched.submitted.Script
	assert.Contains(t, script, "https://private/part/staging-alice/")
	assert.Contains(t, script, "https://private/complete/staging-alice/")
	assert.Contains(t, script, "HPCB_MP_NUM_PARTS=3")
}
