package sshpool

import (
	"fmt"
	"sync"

	"github.com/hpcbridge/hpcbridge/pkg/credentials"
	"github.com/hpcbridge/hpcbridge/pkg/gwerr"
	"github.com/hpcbridge/hpcbridge/pkg/settings"
)

// Gate decides whether SSH access to a cluster is currently admissible.
// The health admission check satisfies this; see pkg/health.
type Gate func(clusterName string) error

// Registry maps cluster names to their connection pools. Pools are created
// lazily on first acquisition and published exactly once for the process
// lifetime; subsequent acquisitions, concurrent or not, return the same Pool.
type Registry struct {
	cfg      *settings.Settings
	provider credentials.Provider
	gate     Gate

	mu    sync.Mutex
	pools map[string]*Pool
}

// NewRegistry creates an empty registry. gate may be nil, in which case no
// health admission is applied (used by the health checker itself).
func NewRegistry(cfg *settings.Settings, provider credentials.Provider, gate Gate) *Registry {
	return &Registry{
		cfg:      cfg,
		provider: provider,
		gate:     gate,
		pools:    make(map[string]*Pool),
	}
}

// Acquire returns the pool for the named cluster, constructing it on first
// use. The health gate runs before any construction or connection attempt.
func (r *Registry) Acquire(clusterName string) (*Pool, error) {
	return r.acquire(clusterName, true)
}

// AcquireIgnoringHealth returns the pool bypassing the health gate. Health
// probes use this; everything else goes through Acquire.
func (r *Registry) AcquireIgnoringHealth(clusterName string) (*Pool, error) {
	return r.acquire(clusterName, false)
}

func (r *Registry) acquire(clusterName string, gated bool) (*Pool, error) {
	cluster := r.cfg.Cluster(clusterName)
	if cluster == nil {
		return nil, fmt.Errorf("cluster %q: %w", clusterName, gwerr.ErrNotFound)
	}

	if gated && r.gate != nil {
		if err := r.gate(cluster.Name); err != nil {
			return nil, err
		}
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	// Re-check under the lock so concurrent first acquisitions construct
	// exactly one pool.
	if pool, ok := r.pools[cluster.Name]; ok {
		return pool, nil
	}

	pool := NewPool(Config{
		Host:           cluster.SSH.Host,
		Port:           cluster.SSH.Port,
		ProxyHost:      cluster.SSH.ProxyHost,
		ProxyPort:      cluster.SSH.ProxyPort,
		MaxSessions:    cluster.SSH.MaxClients,
		ConnectTimeout: cluster.SSH.Timeouts.ConnectionTimeout(),
		ExecuteTimeout: cluster.SSH.Timeouts.ExecutionTimeout(),
		IdleTimeout:    cluster.SSH.Timeouts.IdleTimeout(),
		KeepAlive:      cluster.SSH.Timeouts.KeepAliveInterval(),
	}, r.provider)
	r.pools[cluster.Name] = pool
	return pool, nil
}

// PruneAll evicts idle sessions from every existing pool. Invoked on a timer
// by the serve command; safe to run concurrently with Acquire.
func (r *Registry) PruneAll() {
	r.mu.Lock()
	pools := make([]*Pool, 0, len(r.pools))
	for _, p := range r.pools {
		pools = append(pools, p)
	}
	r.mu.Unlock()

	for _, p := range pools {
		p.Prune()
	}
}
