package xfer

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	v4 "github.com/aws/aws-sdk-go-v2/aws/signer/v4"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/hpcbridge/hpcbridge/pkg/gwerr"
	"github.com/hpcbridge/hpcbridge/pkg/settings"
)

// Presigner issues time-limited URLs for the storage operations a transfer
// needs. Bucket and key are passed unprefixed; tenant remapping happens
// inside the implementation.
type Presigner interface {
	GetObjectURL(ctx context.Context, bucket, key string) (string, error)
	HeadObjectURL(ctx context.Context, bucket, key string) (string, error)
	UploadPartURL(ctx context.Context, bucket, key, uploadID string, partNumber int32) (string, error)
	CompleteUploadURL(ctx context.Context, bucket, key, uploadID string) (string, error)
}

// newPresigner picks the signing strategy for the backend. With a tenant
// configured every URL is signed by hand: bucket names like "tenant:bucket"
// fail the SDK's bucket name validation, so the SDK presign path cannot
// produce them.
func newPresigner(client *s3.Client, awsCfg aws.Config, endpoint string, dt *settings.DataTransfer) (Presigner, error) {
	manual := &sigv4Presigner{
		credentials: awsCfg.Credentials,
		region:      dt.Region,
		endpoint:    strings.TrimRight(endpoint, "/"),
		tenant:      dt.Tenant,
		ttl:         dt.TTL(),
	}
	if dt.Tenant != "" {
		return manual, nil
	}
	return &sdkPresigner{
		client:   s3.NewPresignClient(client, s3.WithPresignExpires(dt.TTL())),
		complete: manual,
	}, nil
}

// sdkPresigner signs through the SDK presign client. The SDK offers no
// presign for CompleteMultipartUpload, so that one operation is delegated
// to the manual signer.
type sdkPresigner struct {
	client   *s3.PresignClient
	complete *sigv4Presigner
}

func (p *sdkPresigner) GetObjectURL(ctx context.Context, bucket, key string) (string, error) {
	req, err := p.client.PresignGetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return "", &gwerr.TransferError{Op: "PresignGetObject", Bucket: bucket, Key: key, Err: err}
	}
	return req.URL, nil
}

func (p *sdkPresigner) HeadObjectURL(ctx context.Context, bucket, key string) (string, error) {
	req, err := p.client.PresignHeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return "", &gwerr.TransferError{Op: "PresignHeadObject", Bucket: bucket, Key: key, Err: err}
	}
	return req.URL, nil
}

func (p *sdkPresigner) UploadPartURL(ctx context.Context, bucket, key, uploadID string, partNumber int32) (string, error) {
	req, err := p.client.PresignUploadPart(ctx, &s3.UploadPartInput{
		Bucket:     aws.String(bucket),
		Key:        aws.String(key),
		UploadId:   aws.String(uploadID),
		PartNumber: aws.Int32(partNumber),
	})
	if err != nil {
		return "", &gwerr.TransferError{Op: "PresignUploadPart", Bucket: bucket, Key: key, Err: err}
	}
	return req.URL, nil
}

func (p *sdkPresigner) CompleteUploadURL(ctx context.Context, bucket, key, uploadID string) (string, error) {
	return p.complete.CompleteUploadURL(ctx, bucket, key, uploadID)
}

// sigv4Presigner signs query-string URLs by hand against path-style
// addressing. It covers the cases the SDK cannot: CompleteMultipartUpload,
// and tenant-prefixed bucket names.
type sigv4Presigner struct {
	credentials aws.CredentialsProvider
	region      string
	endpoint    string
	tenant      string
	ttl         time.Duration
}

func (p *sigv4Presigner) GetObjectURL(ctx context.Context, bucket, key string) (string, error) {
	return p.presign(ctx, http.MethodGet, bucket, key, nil)
}

func (p *sigv4Presigner) HeadObjectURL(ctx context.Context, bucket, key string) (string, error) {
	return p.presign(ctx, http.MethodHead, bucket, key, nil)
}

func (p *sigv4Presigner) UploadPartURL(ctx context.Context, bucket, key, uploadID string, partNumber int32) (string, error) {
	return p.presign(ctx, http.MethodPut, bucket, key, url.Values{
		"partNumber": []string{strconv.Itoa(int(partNumber))},
		"uploadId":   []string{uploadID},
	})
}

func (p *sigv4Presigner) CompleteUploadURL(ctx context.Context, bucket, key, uploadID string) (string, error) {
	return p.presign(ctx, http.MethodPost, bucket, key, url.Values{
		"uploadId": []string{uploadID},
	})
}

// bucketSegment returns the path segment addressing the bucket, remapped to
// "tenant:bucket" when a tenant is configured.
func (p *sigv4Presigner) bucketSegment(bucket string) string {
	if p.tenant != "" {
		return p.tenant + ":" + bucket
	}
	return bucket
}

func (p *sigv4Presigner) presign(ctx context.Context, method, bucket, key string, query url.Values) (string, error) {
	if query == nil {
		query = url.Values{}
	}
	query.Set("X-Amz-Expires", strconv.Itoa(int(p.ttl.Seconds())))

	target := fmt.Sprintf("%s/%s/%s?%s",
		p.endpoint, p.bucketSegment(bucket), key, query.Encode())
	req, err := http.NewRequest(method, target, nil)
	if err != nil {
		return "", &gwerr.TransferError{Op: "Presign", Bucket: bucket, Key: key, Err: err}
	}

	creds, err := p.credentials.Retrieve(ctx)
	if err != nil {
		return "", &gwerr.TransferError{Op: "Presign", Bucket: bucket, Key: key, Err: err}
	}

	signed, _, err := v4.NewSigner().PresignHTTP(
		ctx, creds, req, "UNSIGNED-PAYLOAD", "s3", p.region, time.Now())
	if err != nil {
		return "", &gwerr.TransferError{Op: "Presign", Bucket: bucket, Key: key, Err: err}
	}
	return signed, nil
}
