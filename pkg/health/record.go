// Package health runs per-cluster reachability probes and publishes the
// results as atomically replaced snapshots consumed by admission checks.
package health

import "time"

// ServiceKind identifies a monitored service.
type ServiceKind string

const (
	ServiceScheduler  ServiceKind = "scheduler"
	ServiceFilesystem ServiceKind = "filesystem"
	ServiceSSH        ServiceKind = "ssh"
	ServiceS3         ServiceKind = "s3"

	// ServiceException marks a snapshot produced when the check cycle itself
	// failed before any probe could run.
	ServiceException ServiceKind = "exception"
)

// Record is the outcome of one probe against one monitored service.
type Record struct {
	// ServiceType identifies the probed service.
	ServiceType ServiceKind `json:"serviceType"`

	// Path is set for filesystem records only.
	Path string `json:"path,omitempty"`

	// LastChecked is when the probe completed.
	LastChecked time.Time `json:"lastChecked"`

	// Latency is the probe round-trip time.
	Latency time.Duration `json:"latency"`

	// Healthy reports whether the probe succeeded.
	Healthy bool `json:"healthy"`

	// Message carries the failure detail, empty on success.
	Message string `json:"message,omitempty"`
}

// Snapshot is the ordered result set of one check cycle for one cluster.
// A snapshot is replaced wholesale, never edited in place.
type Snapshot []Record
