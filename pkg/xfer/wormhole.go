package xfer

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/hpcbridge/hpcbridge/pkg/scheduler"
	"github.com/hpcbridge/hpcbridge/pkg/settings"
)

const transferMethodWormhole = "wormhole"

// WormholeOrchestrator relays files peer to peer through a wormhole relay;
// nothing is staged in object storage. The proxy job runs the wormhole CLI
// on the cluster side with a gateway-generated code, and the caller runs the
// matching side of the exchange with the same code.
type WormholeOrchestrator struct {
	cluster   *settings.Cluster
	scheduler scheduler.Client
	workDir   string
	logger    *zap.Logger
}

// NewWormholeOrchestrator wires a relay orchestrator for one cluster.
func NewWormholeOrchestrator(cluster *settings.Cluster, sched scheduler.Client, workDir string, logger *zap.Logger) *WormholeOrchestrator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &WormholeOrchestrator{
		cluster:   cluster,
		scheduler: sched,
		workDir:   workDir,
		logger:    logger,
	}
}

// wormholeCode returns a fresh transfer code. Codes are single use; the
// receiving side claims the relay channel as soon as its job starts.
func wormholeCode() string {
	u := uuid.New().String()
	return u[:8] + "-" + u[9:13]
}

// wormholeScriptParams drives both relay proxy scripts.
type wormholeScriptParams struct {
	Directives string
	TargetPath string
	InputFile  string
	Code       string
}

// Upload submits a receiving proxy job and hands the code back to the
// caller, who then sends the file with the same code.
func (o *WormholeOrchestrator) Upload(ctx context.Context, source, target Location, username, accessToken, account string) (*Operation, error) {
	code := wormholeCode()

	script, err := renderScript("ingress_wormhole_receiver.sh.tmpl", wormholeScriptParams{
		Directives: formatDirectives(o.cluster.TransferDirectives, account),
		TargetPath: target.Path,
		Code:       code,
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
			TransferMethod: transferMethodWormhole,
			WormholeCode:   code,
		},
	}, nil
}

// Download submits a sending proxy job; the caller receives with the
// returned code once the job is running.
func (o *WormholeOrchestrator) Download(ctx context.Context, source, target Location, username, accessToken, account string) (*Operation, error) {
	code := wormholeCode()

	script, err := renderScript("egress_wormhole_sender.sh.tmpl", wormholeScriptParams{
		Directives: formatDirectives(o.cluster.TransferDirectives, account),
		InputFile:  source.Path,
		Code:       code,
	})
	if err != nil {
		return nil, err
	}

	desc := transferJobDescription(o.workDir, username, "OutgressFileTransfer", script)
	jobID, err := o.scheduler.SubmitJob(ctx, desc, username, accessToken)
	if err != nil {
		return nil, fmt.Errorf("submit egress transfer job: %w", err)
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
			TransferMethod: transferMethodWormhole,
			WormholeCode:   code,
		},
	}, nil
}
