package sshpool

import (
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hpcbridge/hpcbridge/pkg/credentials"
	"github.com/hpcbridge/hpcbridge/pkg/gwerr"
	"github.com/hpcbridge/hpcbridge/pkg/settings"
)

func registrySettings() *settings.Settings {
	return &settings.Settings{
		Clusters: []*settings.Cluster{
			{
				Name: "daint",
				SSH:  settings.SSHPool{Host: "daint.example.com", Port: 22, MaxClients: 4},
			},
			{
				Name: "eiger",
				SSH:  settings.SSHPool{Host: "eiger.example.com", Port: 2222, MaxClients: 2},
			},
		},
	}
}

func TestRegistryAcquire_ExactlyOnce(t *testing.T) {
	r := NewRegistry(registrySettings(), credentials.NewStaticProvider(nil), nil)

	const goroutines = 32
	pools := make([]*Pool, goroutines)

	var wg sync.WaitGroup
	for i := range goroutines {
		wg.Go(func() {
			p, err := r.Acquire("daint")
			assert.NoError(t, err)
			pools[i] = p
		})
	}
	wg.Wait()

	for i := 1; i < goroutines; i++ {
		assert.Same(t, pools[0], pools[i], "all acquisitions must observe one pool")
	}
}

func TestRegistryAcquire_UnknownCluster(t *testing.T) {
	r := NewRegistry(registrySettings(), credentials.NewStaticProvider(nil), nil)

	_, err := r.Acquire("nonesuch")
	require.Error(t, err)
	assert.True(t, gwerr.IsNotFound(err))
}

func TestRegistryAcquire_CaseInsensitiveName(t *testing.T) {
	r := NewRegistry(registrySettings(), credentials.NewStaticProvider(nil), nil)

	a, err := r.Acquire("daint")
	require.NoError(t, err)
	b, err := r.Acquire("DAINT")
	require.NoError(t, err)
	assert.Same(t, a, b)
}

func TestRegistryAcquire_GateDenies(t *testing.T) {
	gateErr := fmt.Errorf("daint unhealthy: %w", gwerr.ErrUnavailable)
	r := NewRegistry(registrySettings(), credentials.NewStaticProvider(nil), func(clusterName string) error {
		return gateErr
	})

	_, err := r.Acquire("daint")
	require.Error(t, err)
	assert.True(t, gwerr.IsUnavailable(err))

	// Health probes bypass the gate, otherwise an unhealthy cluster could
	// never be re-probed back to health.
	_, err = r.AcquireIgnoringHealth("daint")
	assert.NoError(t, err)
}

func TestRegistryAcquire_DistinctClustersDistinctPools(t *testing.T) {
	r := NewRegistry(registrySettings(), credentials.NewStaticProvider(nil), nil)

	a, err := r.Acquire("daint")
	require.NoError(t, err)
	b, err := r.Acquire("eiger")
	require.NoError(t, err)
	assert.NotSame(t, a, b)
}
