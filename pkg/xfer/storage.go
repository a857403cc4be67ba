package xfer

import (
	"context"
	"errors"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"

	"github.com/hpcbridge/hpcbridge/pkg/gwerr"
	"github.com/hpcbridge/hpcbridge/pkg/settings"
)

// StorageAPI is the slice of the S3 API the orchestrator needs. Satisfied by
// *s3.Client; faked in tests.
type StorageAPI interface {
	CreateBucket(ctx context.Context, in *s3.CreateBucketInput, opts ...func(*s3.Options)) (*s3.CreateBucketOutput, error)
	PutBucketLifecycleConfiguration(ctx context.Context, in *s3.PutBucketLifecycleConfigurationInput, opts ...func(*s3.Options)) (*s3.PutBucketLifecycleConfigurationOutput, error)
	CreateMultipartUpload(ctx context.Context, in *s3.CreateMultipartUploadInput, opts ...func(*s3.Options)) (*s3.CreateMultipartUploadOutput, error)
}

// Storage bundles an S3 client and presigner addressed at one endpoint.
// The orchestrator holds two: the public endpoint for end-user URLs and the
// private endpoint for cluster-side URLs.
type Storage struct {
	API      StorageAPI
	Presign  Presigner
	Endpoint string
}

// NewStorage builds a Storage against the given endpoint using the transfer
// backend's static credentials and sigv4 signing.
func NewStorage(ctx context.Context, dt *settings.DataTransfer, endpoint string) (*Storage, error) {
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx,
		awsconfig.WithRegion(dt.Region),
		awsconfig.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(
			dt.AccessKeyID, dt.SecretAccessKey, "")),
	)
	if err != nil {
		return nil, &gwerr.TransferError{Op: "NewStorage", Err: err}
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		o.BaseEndpoint = aws.String(endpoint)
		o.UsePathStyle = true
	})

	presigner, err := newPresigner(client, awsCfg, endpoint, dt)
	if err != nil {
		return nil, err
	}

	return &Storage{API: client, Presign: presigner, Endpoint: endpoint}, nil
}

// EnsureBucket creates the bucket if needed and reports whether it was
// created by this call. "Already owned by you" is swallowed; any other
// creation failure propagates.
//
// The lifecycle expiry policy is applied on first successful creation only.
// Re-applying it to a pre-existing bucket would clobber tenant-managed
// policies, so that is deliberately not attempted.
func EnsureBucket(ctx context.Context, api StorageAPI, bucket string, expiryDays int) (bool, error) {
	_, err := api.CreateBucket(ctx, &s3.CreateBucketInput{Bucket: aws.String(bucket)})
	if err != nil {
		if isBucketAlreadyOwned(err) {
			return false, nil
		}
		return false, &gwerr.TransferError{Op: "EnsureBucket", Bucket: bucket, Err: err}
	}

	_, err = api.PutBucketLifecycleConfiguration(ctx, &s3.PutBucketLifecycleConfigurationInput{
		Bucket: aws.String(bucket),
		LifecycleConfiguration: &types.BucketLifecycleConfiguration{
			Rules: []types.LifecycleRule{{
				ID:         aws.String("ExpireObjects"),
				Status:     types.ExpirationStatusEnabled,
				Filter:     &types.LifecycleRuleFilter{Prefix: aws.String("")},
				Expiration: &types.LifecycleExpiration{Days: aws.Int32(int32(expiryDays))},
			}},
		},
	})
	if err != nil {
		return true, &gwerr.TransferError{Op: "PutBucketLifecycle", Bucket: bucket, Err: err}
	}
	return true, nil
}

// isBucketAlreadyOwned matches the "bucket already owned by you" condition
// across SDK error types and raw API error codes.
func isBucketAlreadyOwned(err error) bool {
	var owned *types.BucketAlreadyOwnedByYou
	if errors.As(err, &owned) {
		return true
	}
	var apiErr smithy.APIError
	return errors.As(err, &apiErr) && apiErr.ErrorCode() == "BucketAlreadyOwnedByYou"
}

// createMultipartUpload opens a multipart upload and returns its id.
func createMultipartUpload(ctx context.Context, api StorageAPI, bucket, key string) (string, error) {
	out, err := api.CreateMultipartUpload(ctx, &s3.CreateMultipartUploadInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return "", &gwerr.TransferError{Op: "CreateMultipartUpload", Bucket: bucket, Key: key, Err: err}
	}
	return aws.ToString(out.UploadId), nil
}
