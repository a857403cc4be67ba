package health

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/oauth2/clientcredentials"

	"github.com/hpcbridge/hpcbridge/pkg/authn"
	"github.com/hpcbridge/hpcbridge/pkg/resolve"
	"github.com/hpcbridge/hpcbridge/pkg/settings"
	"github.com/hpcbridge/hpcbridge/pkg/sshpool"
)

// Checker runs health cycles for one cluster and publishes the results.
//
// The periodic trigger is external (the serve command's ticker); Checker only
// supplies the unit of work.
type Checker struct {
	cluster  *settings.Cluster
	oidc     settings.OIDC
	transfer *settings.DataTransfer
	registry *sshpool.Registry
	verifier *authn.Verifier
	table    *Table
	logger   *zap.Logger
}

// NewChecker builds a checker for one cluster. The registry is shared with
// the rest of the gateway so probe sessions land in the same pools. transfer
// may be nil when no staging store is configured; the object-storage probe
// is skipped then.
func NewChecker(cluster *settings.Cluster, oidc settings.OIDC, transfer *settings.DataTransfer, registry *sshpool.Registry, verifier *authn.Verifier, table *Table, logger *zap.Logger) *Checker {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Checker{
		cluster:  cluster,
		oidc:     oidc,
		transfer: transfer,
		registry: registry,
		verifier: verifier,
		table:    table,
		logger:   logger,
	}
}

// RunCycle executes one full check cycle and publishes the snapshot.
//
// When the service-account token exchange or decoding fails, all probes are
// skipped, a single exception record is published, and the error is returned
// so the periodic scheduler can alert; request-time admission observes the
// published snapshot either way.
func (c *Checker) RunCycle(ctx context.Context) error {
	id, token, err := c.serviceAccountIdentity(ctx)
	if err != nil {
		message := fmt.Sprintf("cluster health check execution failed: %v", err)
		c.table.Replace(c.cluster.Name, Snapshot{{
			ServiceType: ServiceException,
			LastChecked: time.Now(),
			Healthy:     false,
			Message:     message,
		}})
		return err
	}

	// One slot per probe, filled concurrently, keeps snapshot order stable:
	// scheduler, ssh, one record per filesystem, then the staging store when
	// one is configured. A failed probe fills its slot with an unhealthy
	// record without disturbing the others.
	size := 2 + len(c.cluster.FileSystems)
	if c.transfer != nil {
		size++
	}
	records := make(Snapshot, size)
	timeout := c.cluster.Probing.Timeout()

	run := func(i int, kind ServiceKind, path string, probe func(context.Context) error) {
		probeCtx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()

		start := time.Now()
		err := probe(probeCtx)
		rec := Record{
			ServiceType: kind,
			Path:        path,
			LastChecked: time.Now(),
			Latency:     time.Since(start),
			Healthy:     err == nil,
		}
		if err != nil {
			rec.Message = err.Error()
		}
		records[i] = rec
	}

	var wg sync.WaitGroup
	wg.Go(func() {
		run(0, ServiceScheduler, "", func(ctx context.Context) error {
			return c.probeScheduler(ctx, id.Username, token)
		})
	})
	wg.Go(func() {
		run(1, ServiceSSH, "", func(ctx context.Context) error {
			return c.probeSSH(ctx, id.Username, token)
		})
	})
	for i, fs := range c.cluster.FileSystems {
		wg.Go(func() {
			run(2+i, ServiceFilesystem, fs.Path, func(ctx context.Context) error {
				return c.probeFilesystem(ctx, id.Username, token, fs.Path)
			})
		})
	}
	if c.transfer != nil {
		wg.Go(func() {
			run(size-1, ServiceS3, "", c.probeObjectStorage)
		})
	}
	wg.Wait()

	c.table.Replace(c.cluster.Name, records)
	return nil
}

// serviceAccountIdentity exchanges the cluster's client credentials for a
// token and decodes it into a probe identity.
func (c *Checker) serviceAccountIdentity(ctx context.Context) (*authn.Identity, string, error) {
	exchange := clientcredentials.Config{
		ClientID:     c.cluster.ServiceAccount.ClientID,
		ClientSecret: c.cluster.ServiceAccount.Secret,
		TokenURL:     c.oidc.TokenURL,
		Scopes:       c.oidc.Scopes,
	}

	ctx, cancel := context.WithTimeout(ctx, c.cluster.Probing.Timeout())
	defer cancel()

	token, err := exchange.Token(ctx)
	if err != nil {
		return nil, "", fmt.Errorf("service account token exchange: %w", err)
	}

	id, err := c.verifier.Verify(token.AccessToken)
	if err != nil {
		return nil, "", fmt.Errorf("service account token decode: %w", err)
	}
	return id, token.AccessToken, nil
}

func (c *Checker) probeScheduler(ctx context.Context, username, token string) error {
	pool, err := c.registry.AcquireIgnoringHealth(c.cluster.Name)
	if err != nil {
		return err
	}
	client, err := resolve.SchedulerClient(pool, c.cluster.Scheduler)
	if err != nil {
		return err
	}
	return client.Ping(ctx, username, token)
}

func (c *Checker) probeSSH(ctx context.Context, username, token string) error {
	pool, err := c.registry.AcquireIgnoringHealth(c.cluster.Name)
	if err != nil {
		return err
	}
	sess, err := pool.Acquire(ctx, username, token)
	if err != nil {
		return err
	}
	defer sess.Release()

	res, err := sess.Execute(ctx, "true")
	if err != nil {
		return err
	}
	if res.ExitCode != 0 {
		return fmt.Errorf("probe command exited %d", res.ExitCode)
	}
	return nil
}

// probeObjectStorage checks that the staging store's private endpoint is
// reachable. Any HTTP response counts: an unauthenticated request is expected
// to be rejected, but a rejection proves the service answers.
func (c *Checker) probeObjectStorage(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.transfer.PrivateURL, nil)
	if err != nil {
		return fmt.Errorf("object storage probe: %w", err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return fmt.Errorf("object storage unreachable: %w", err)
	}
	return resp.Body.Close()
}

func (c *Checker) probeFilesystem(ctx context.Context, username, token, path string) error {
	pool, err := c.registry.AcquireIgnoringHealth(c.cluster.Name)
	if err != nil {
		return err
	}
	sess, err := pool.Acquire(ctx, username, token)
	if err != nil {
		return err
	}
	defer sess.Release()

	_, err = sess.ReadDir(ctx, path)
	return err
}
