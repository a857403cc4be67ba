// Package xfer orchestrates file movement between object storage and cluster
// filesystems. The gateway never holds file bytes: clients talk to storage
// through presigned URLs, and a scheduler-submitted proxy job moves data on
// the cluster side.
package xfer

import (
	"context"
	"fmt"
	"path"
	"strings"

	"github.com/google/uuid"

	"github.com/hpcbridge/hpcbridge/pkg/scheduler"
)

// Location identifies one side of a transfer.
type Location struct {
	// System is the cluster name, empty for the client side.
	System string

	// Path is the filesystem path on the cluster side.
	Path string

	// FileSize is the size of the source file in bytes. Required for uploads,
	// where the file lives on the client and cannot be statted remotely.
	FileSize int64
}

// TransferJob describes the proxy job submitted for a transfer.
type TransferJob struct {
	ID               string `json:"jobId"`
	System           string `json:"system"`
	WorkingDirectory string `json:"workingDirectory"`
	OutputLog        string `json:"outputLog"`
	ErrorLog         string `json:"errorLog"`
}

// Directive is the backend-specific payload returned to the caller.
// Write-once; the gateway plays no further part after creation.
type Directive struct {
	TransferMethod string `json:"transferMethod"`

	// PartsUploadURLs and CompleteUploadURL drive client-side multipart
	// uploads (ingress only).
	PartsUploadURLs   []string `json:"partsUploadUrls,omitempty"`
	CompleteUploadURL string   `json:"completeUploadUrl,omitempty"`
	MaxPartSize       int64    `json:"maxPartSize,omitempty"`

	// DownloadURL serves the finished object to the end user (egress only).
	DownloadURL string `json:"downloadUrl,omitempty"`

	// WormholeCode pairs the caller with the relay proxy job (wormhole backend).
	WormholeCode string `json:"wormholeCode,omitempty"`
}

// Operation is the result of a transfer request: the submitted proxy job
// plus the directive the caller's client acts on.
type Operation struct {
	Job        TransferJob `json:"transferJob"`
	Directives Directive   `json:"transferDirectives"`
}

// Orchestrator coordinates staged transfers for one cluster.
type Orchestrator interface {
	// Upload stages a client file into the cluster filesystem at target.Path.
	Upload(ctx context.Context, source, target Location, username, accessToken, account string) (*Operation, error)

	// Download stages a cluster file at source.Path out to the client.
	Download(ctx context.Context, source, target Location, username, accessToken, account string) (*Operation, error)
}

// partCount returns ceil(fileSize/maxPartSize); a zero-byte file needs no parts.
func partCount(fileSize, maxPartSize int64) int {
	if fileSize <= 0 || maxPartSize <= 0 {
		return 0
	}
	return int((fileSize + maxPartSize - 1) / maxPartSize)
}

// formatDirectives joins scheduler directive lines, substituting the
// caller's account for the "{account}" placeholder.
func formatDirectives(directives []string, account string) string {
	lines := make([]string, 0, len(directives))
	for _, d := range directives {
		lines = append(lines, strings.ReplaceAll(d, "{account}", account))
	}
	return strings.Join(lines, "\n")
}

// transferJobDescription lays out the proxy job under the per-user work
// directory with log files alongside.
func transferJobDescription(workDir, username, jobName, script string) *scheduler.JobDescription {
	jobDir := path.Join(workDir, username)
	base := fmt.Sprintf(".hpcb_%s_%s", strings.ToLower(jobName), uuid.New().String())
	return &scheduler.JobDescription{
		Name:             jobName,
		WorkingDirectory: jobDir,
		StandardOutput:   path.Join(jobDir, base+".out"),
		StandardError:    path.Join(jobDir, base+".err"),
		Script:           script,
	}
}
