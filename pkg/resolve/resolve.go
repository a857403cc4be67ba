// Package resolve maps configuration kinds onto concrete backend
// implementations. Pure dispatch on closed enumerations; each variant is
// constructed once and carries no further kind checks.
package resolve

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/hpcbridge/hpcbridge/pkg/credentials"
	"github.com/hpcbridge/hpcbridge/pkg/gwerr"
	"github.com/hpcbridge/hpcbridge/pkg/scheduler"
	"github.com/hpcbridge/hpcbridge/pkg/settings"
	"github.com/hpcbridge/hpcbridge/pkg/sshpool"
	"github.com/hpcbridge/hpcbridge/pkg/xfer"
)

// CredentialProvider selects the SSH credential issuance mechanism. An
// unknown kind is a configuration error: the gateway cannot run without a
// way to authenticate SSH sessions.
func CredentialProvider(cfg settings.SSHCredential) (credentials.Provider, error) {
	switch cfg.Type {
	case settings.CredentialSSHCA:
		return credentials.NewCAProvider(cfg.URL, cfg.MaxRequests), nil
	case settings.CredentialKeyService:
		return credentials.NewKeyServiceProvider(cfg.URL, cfg.MaxRequests), nil
	case settings.CredentialStaticKeys:
		return credentials.NewStaticProvider(cfg.Keys), nil
	default:
		return nil, gwerr.NewConfigError("ssh_credentials.type",
			"unknown credential type %q", cfg.Type)
	}
}

// SchedulerClient selects the scheduler client for one cluster. An unknown
// kind surfaces as "not implemented" to the caller rather than failing
// startup: other clusters stay serviceable.
func SchedulerClient(pool *sshpool.Pool, cfg settings.Scheduler) (scheduler.Client, error) {
	switch cfg.Type {
	case settings.SchedulerSlurm:
		return scheduler.NewSlurmClient(pool, cfg.Version, cfg.Timeout()), nil
	case settings.SchedulerPBS:
		return scheduler.NewPBSClient(pool, cfg.Version, cfg.Timeout()), nil
	default:
		return nil, fmt.Errorf("scheduler type %q: %w", cfg.Type, gwerr.ErrNotImplemented)
	}
}

// TransferOrchestrator selects and wires the transfer backend for one
// cluster. The cluster must declare a default work directory to host proxy
// jobs; its absence is a configuration error, not a per-request one.
func TransferOrchestrator(ctx context.Context, cluster *settings.Cluster, dt *settings.DataTransfer, pool *sshpool.Pool, logger *zap.Logger) (xfer.Orchestrator, error) {
	workDir := cluster.DefaultWorkDir()
	if workDir == "" {
		return nil, gwerr.NewConfigError("clusters.file_systems",
			"cluster %s has no default_work_dir filesystem", cluster.Name)
	}

	sched, err := SchedulerClient(pool, cluster.Scheduler)
	if err != nil {
		return nil, err
	}

	switch dt.Type {
	case settings.TransferS3:
		private, err := xfer.NewStorage(ctx, dt, dt.PrivateURL)
		if err != nil {
			return nil, err
		}
		public, err := xfer.NewStorage(ctx, dt, dt.PublicURL)
		if err != nil {
			return nil, err
		}
		return xfer.NewS3Orchestrator(cluster, dt, sched, pool, private, public, workDir, logger), nil
	case settings.TransferWormhole:
		return xfer.NewWormholeOrchestrator(cluster, sched, workDir, logger), nil
	default:
		return nil, fmt.Errorf("transfer type %q: %w", dt.Type, gwerr.ErrNotImplemented)
	}
}
