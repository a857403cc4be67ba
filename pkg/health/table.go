package health

import (
	"fmt"
	"strings"
	"sync"

	"github.com/hpcbridge/hpcbridge/pkg/gwerr"
)

// Table holds the most recent health snapshot per cluster.
//
// Snapshots are replaced atomically under the write lock, and readers receive
// the published slice as-is (snapshots are never mutated after publication),
// so a reader can never observe records from two different cycles.
type Table struct {
	mu        sync.RWMutex
	snapshots map[string]Snapshot
}

// NewTable creates an empty health table.
func NewTable() *Table {
	return &Table{snapshots: make(map[string]Snapshot)}
}

// Replace publishes a new snapshot for the cluster, discarding the old one.
func (t *Table) Replace(clusterName string, snapshot Snapshot) {
	t.mu.Lock()
	t.snapshots[strings.ToLower(clusterName)] = snapshot
	t.mu.Unlock()
}

// Snapshot returns the current snapshot for the cluster. The second return
// is false when no cycle has published yet.
func (t *Table) Snapshot(clusterName string) (Snapshot, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	s, ok := t.snapshots[strings.ToLower(clusterName)]
	return s, ok
}

// CheckScheduler gates access to the cluster's scheduler service.
func (t *Table) CheckScheduler(clusterName string) error {
	return t.checkService(clusterName, ServiceScheduler)
}

// CheckSSH gates access to the cluster's remote-execution service.
func (t *Table) CheckSSH(clusterName string) error {
	return t.checkService(clusterName, ServiceSSH)
}

// checkService distinguishes "never checked" from "checked and unhealthy":
// the former is a precondition failure, the latter unavailability.
func (t *Table) checkService(clusterName string, kind ServiceKind) error {
	snapshot, _ := t.Snapshot(clusterName)
	for _, rec := range snapshot {
		if rec.ServiceType != kind {
			continue
		}
		if !rec.Healthy {
			return fmt.Errorf("the %s service on %s is unhealthy: %w",
				kind, clusterName, gwerr.ErrUnavailable)
		}
		return nil
	}
	return fmt.Errorf("no %s health record for cluster %s: %w",
		kind, clusterName, gwerr.ErrPreconditionRequired)
}

// CheckFilesystem gates access to a path on the cluster. The matching record
// is the one whose monitored path is a prefix of the requested path.
func (t *Table) CheckFilesystem(clusterName, path string) error {
	if path == "" {
		return fmt.Errorf("filesystem admission requires a path: %w", gwerr.ErrPreconditionRequired)
	}

	snapshot, _ := t.Snapshot(clusterName)
	for _, rec := range snapshot {
		if rec.ServiceType != ServiceFilesystem || !strings.HasPrefix(path, rec.Path) {
			continue
		}
		if !rec.Healthy {
			return fmt.Errorf("the filesystem %s on %s is unhealthy: %w",
				rec.Path, clusterName, gwerr.ErrUnavailable)
		}
		return nil
	}
	return fmt.Errorf("no filesystem health record serving %s on %s: %w",
		path, clusterName, gwerr.ErrPreconditionRequired)
}
