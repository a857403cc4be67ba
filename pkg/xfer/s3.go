package xfer

import (
	"context"
	"fmt"
	"path"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/hpcbridge/hpcbridge/pkg/scheduler"
	"github.com/hpcbridge/hpcbridge/pkg/settings"
	"github.com/hpcbridge/hpcbridge/pkg/sshpool"
)

const transferMethodS3 = "s3"

// S3Orchestrator stages transfers through an S3-compatible object store.
//
// Two storage handles point at the same store through different endpoints:
// public URLs go to end users, private URLs are embedded in the proxy job
// script running inside the cluster network.
type S3Orchestrator struct {
	cluster   *settings.Cluster
	transfer  *settings.DataTransfer
	scheduler scheduler.Client
	pool      *sshpool.Pool
	private   *Storage
	public    *Storage
	workDir   string
	logger    *zap.Logger

	// stat resolves the egress source size; overridable in tests.
	stat func(ctx context.Context, srcPath, username, accessToken string) (int64, error)
}

// NewS3Orchestrator wires an orchestrator for one cluster. workDir must be
// the cluster's default work directory.
func NewS3Orchestrator(cluster *settings.Cluster, transfer *settings.DataTransfer, sched scheduler.Client, pool *sshpool.Pool, private, public *Storage, workDir string, logger *zap.Logger) *S3Orchestrator {
	if logger == nil {
		logger = zap.NewNop()
	}
	o := &S3Orchestrator{
		cluster:   cluster,
		transfer:  transfer,
		scheduler: sched,
		pool:      pool,
		private:   private,
		public:    public,
		workDir:   workDir,
		logger:    logger,
	}
	o.stat = o.statSource
	return o
}

// bucketName returns the caller's staging bucket, with the configured prefix
// applied.
func (o *S3Orchestrator) bucketName(username string) string {
	return o.transfer.BucketNamePrefix + username
}

// Upload stages a client-side file into the cluster.
//
// The object key is "<uuid>/<basename>" so concurrent uploads of the same
// filename never collide. The client receives presigned part-upload URLs
// against the public endpoint; the proxy job, already submitted and waiting
// on the object, downloads through the private endpoint once the client
// completes the multipart upload.
func (o *S3Orchestrator) Upload(ctx context.Context, source, target Location, username, accessToken, account string) (*Operation, error) {
	bucket := o.bucketName(username)
	key := uuid.New().String() + "/" + path.Base(target.Path)
	maxPart := o.transfer.Multipart.MaxPartSize

	created, err := EnsureBucket(ctx, o.private.API, bucket, o.transfer.Lifecycle.Days)
	if err != nil {
		return nil, err
	}
	if created {
		o.logger.Info("created staging bucket",
			zap.String("bucket", bucket), zap.String("cluster", o.cluster.Name))
	}

	uploadID, err := createMultipartUpload(ctx, o.private.API, bucket, key)
	if err != nil {
		return nil, err
	}

	parts := partCount(source.FileSize, maxPart)
	partURLs := make([]string, 0, parts)
	for n := 1; n <= parts; n++ {
		u, err := o.public.Presign.UploadPartURL(ctx, bucket, key, uploadID, int32(n))
		if err != nil {
			return nil, err
		}
		partURLs = append(partURLs, u)
	}

	completeURL, err := o.public.Presign.CompleteUploadURL(ctx, bucket, key, uploadID)
	if err != nil {
		return nil, err
	}

	getURL, err := o.private.Presign.GetObjectURL(ctx, bucket, key)
	if err != nil {
		return nil, err
	}
	headURL, err := o.private.Presign.HeadObjectURL(ctx, bucket, key)
	if err != nil {
		return nil, err
	}

	script, err := renderScript("ingress_s3_downloader.sh.tmpl", ingressScriptParams{
		Directives:      formatDirectives(o.cluster.TransferDirectives, account),
		DownloadHeadURL: headURL,
		DownloadURL:     getURL,
		TargetPath:      target.Path,
		MaxPartSize:     maxPart,
		PollTimeout:     int64(o.transfer.TTL().Seconds()),
	})
	if err != nil {
		return nil, err
	}

	desc := transferJobDescription(o.workDir, username, "IngressFileTransfer", script)
	jobID, err := o.scheduler.SubmitJob(ctx, desc, username, accessToken)
	if err != nil {
		return nil, fmt.Errorf("submit ingress transfer job: %w", err)
	}

	return &Operation{
		Job: TransferJob{
			ID:               jobID,
			System:           target.System,
			WorkingDirectory: desc.WorkingDirectory,
			OutputLog:        desc.StandardOutput,
			ErrorLog:         desc.StandardError,
		},
		Directives: Directive{
			TransferMethod:    transferMethodS3,
			PartsUploadURLs:   partURLs,
			CompleteUploadURL: completeURL,
			MaxPartSize:       maxPart,
		},
	}, nil
}

// Download stages a cluster-side file out to the client.
//
// The source file is statted over SSH as the requesting user, so filesystem
// permissions are enforced before any storage work happens. The download URL
// handed back points at the public endpoint and is only issued after the
// proxy job is submitted; the object appears once that job finishes.
func (o *S3Orchestrator) Download(ctx context.Context, source, target Location, username, accessToken, account string) (*Operation, error) {
	bucket := o.bucketName(username)
	maxPart := o.transfer.Multipart.MaxPartSize

	size, err := o.stat(ctx, source.Path, username, accessToken)
	if err != nil {
		return nil, err
	}

	key := path.Base(source.Path) + "_" + uuid.New().String()

	created, err := EnsureBucket(ctx, o.private.API, bucket, o.transfer.Lifecycle.Days)
	if err != nil {
		return nil, err
	}
	if created {
		o.logger.Info("created staging bucket",
			zap.String("bucket", bucket), zap.String("cluster", o.cluster.Name))
	}

	uploadID, err := createMultipartUpload(ctx, o.private.API, bucket, key)
	if err != nil {
		return nil, err
	}

	parts := partCount(size, maxPart)
	partURLs := make([]string, 0, parts)
	for n := 1; n <= parts; n++ {
		u, err := o.private.Presign.UploadPartURL(ctx, bucket, key, uploadID, int32(n))
		if err != nil {
			return nil, err
		}
		partURLs = append(partURLs, u)
	}

	completeURL, err := o.private.Presign.CompleteUploadURL(ctx, bucket, key, uploadID)
	if err != nil {
		return nil, err
	}

	mp := o.transfer.Multipart
	script, err := renderScript("egress_s3_uploader.sh.tmpl", egressScriptParams{
		Directives:   formatDirectives(o.cluster.TransferDirectives, account),
		MaxPartSize:  maxPart,
		UseSplit:     mp.UseSplit,
		TmpFolder:    mp.TmpFolder + "/" + uuid.New().String() + "/",
		ParallelRuns: mp.ParallelRuns,
		PartURLs:     partURLs,
		NumParts:     len(partURLs),
		InputFile:    source.Path,
		CompleteURL:  completeURL,
	})
	if err != nil {
		return nil, err
	}

	desc := transferJobDescription(o.workDir, username, "OutgressFileTransfer", script)
	jobID, err := o.scheduler.SubmitJob(ctx, desc, username, accessToken)
	if err != nil {
		return nil, fmt.Errorf("submit egress transfer job: %w", err)
	}

	downloadURL, err := o.public.Presign.GetObjectURL(ctx, bucket, key)
	if err != nil {
		return nil, err
	}

	return &Operation{
		Job: TransferJob{
			ID:               jobID,
			System:           o.cluster.Name,
			WorkingDirectory: desc.WorkingDirectory,
			OutputLog:        desc.StandardOutput,
			ErrorLog:         desc.StandardError,
		},
		Directives: Directive{
			TransferMethod: transferMethodS3,
			DownloadURL:    downloadURL,
		},
	}, nil
}

// statSource resolves the size of the egress source file as the requesting
// user.
func (o *S3Orchestrator) statSource(ctx context.Context, srcPath, username, accessToken string) (int64, error) {
	sess, err := o.pool.Acquire(ctx, username, accessToken)
	if err != nil {
		return 0, err
	}
	defer sess.Release()

	info, err := sess.Stat(ctx, srcPath)
	if err != nil {
		return 0, err
	}
	return info.Size(), nil
}
