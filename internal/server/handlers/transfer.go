package handlers

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/hpcbridge/hpcbridge/internal/server/httpjson"
	"github.com/hpcbridge/hpcbridge/internal/server/middleware"
	"github.com/hpcbridge/hpcbridge/pkg/gwerr"
	"github.com/hpcbridge/hpcbridge/pkg/health"
	"github.com/hpcbridge/hpcbridge/pkg/resolve"
	"github.com/hpcbridge/hpcbridge/pkg/settings"
	"github.com/hpcbridge/hpcbridge/pkg/sshpool"
	"github.com/hpcbridge/hpcbridge/pkg/xfer"
)

// TransferHandler serves staged upload and download requests.
type TransferHandler struct {
	cfg      *settings.Settings
	registry *sshpool.Registry
	table    *health.Table
	logger   *zap.Logger
}

// NewTransferHandler builds the transfer endpoints.
func NewTransferHandler(cfg *settings.Settings, registry *sshpool.Registry, table *health.Table, logger *zap.Logger) *TransferHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &TransferHandler{cfg: cfg, registry: registry, table: table, logger: logger}
}

// UploadRequest stages a client file onto the cluster.
type UploadRequest struct {
	// Path is the destination on the cluster filesystem.
	Path string `json:"path"`

	// FileSize is the size of the client-side source file in bytes. The
	// client holds the file, so the gateway cannot stat it.
	FileSize int64 `json:"fileSize"`

	// Account charged for the proxy job, if the scheduler requires one.
	Account string `json:"account,omitempty"`
}

// DownloadRequest stages a cluster file out to the client.
type DownloadRequest struct {
	// SourcePath is the file on the cluster filesystem.
	SourcePath string `json:"sourcePath"`

	Account string `json:"account,omitempty"`
}

// Upload handles POST /filesystem/{system}/transfer/upload.
func (h *TransferHandler) Upload(w http.ResponseWriter, r *http.Request) {
	var req UploadRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httpjson.WriteBadRequest(w, "malformed request body")
		return
	}
	if req.Path == "" {
		httpjson.WriteBadRequest(w, "path is required")
		return
	}
	if req.FileSize < 0 {
		httpjson.WriteBadRequest(w, "fileSize must be non-negative")
		return
	}

	system := chi.URLParam(r, "system")
	orch, cluster, err := h.admit(r, system, req.Path)
	if err != nil {
		httpjson.WriteError(w, err)
		return
	}

	id := middleware.IdentityFrom(r.Context())
	op, err := orch.Upload(r.Context(),
		xfer.Location{FileSize: req.FileSize},
		xfer.Location{System: cluster.Name, Path: req.Path},
		id.Username, middleware.TokenFrom(r.Context()), req.Account)
	if err != nil {
		h.logger.Error("upload staging failed",
			zap.String("cluster", cluster.Name),
			zap.String("user", id.Username),
			zap.Error(err))
		httpjson.WriteError(w, err)
		return
	}
	httpjson.WriteJSON(w, http.StatusCreated, op)
}

// Download handles POST /filesystem/{system}/transfer/download.
func (h *TransferHandler) Download(w http.ResponseWriter, r *http.Request) {
	var req DownloadRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httpjson.WriteBadRequest(w, "malformed request body")
		return
	}
	if req.SourcePath == "" {
		httpjson.WriteBadRequest(w, "sourcePath is required")
		return
	}

	system := chi.URLParam(r, "system")
	orch, cluster, err := h.admit(r, system, req.SourcePath)
	if err != nil {
		httpjson.WriteError(w, err)
		return
	}

	id := middleware.IdentityFrom(r.Context())
	op, err := orch.Download(r.Context(),
		xfer.Location{System: cluster.Name, Path: req.SourcePath},
		xfer.Location{},
		id.Username, middleware.TokenFrom(r.Context()), req.Account)
	if err != nil {
		h.logger.Error("download staging failed",
			zap.String("cluster", cluster.Name),
			zap.String("user", id.Username),
			zap.Error(err))
		httpjson.WriteError(w, err)
		return
	}
	httpjson.WriteJSON(w, http.StatusCreated, op)
}

// admit runs the per-request gate sequence: cluster lookup, scheduler and
// filesystem health, pool acquisition (itself SSH-health gated), and backend
// resolution.
func (h *TransferHandler) admit(r *http.Request, system, path string) (xfer.Orchestrator, *settings.Cluster, error) {
	cluster := h.cfg.Cluster(system)
	if cluster == nil {
		return nil, nil, fmt.Errorf("cluster %s: %w", system, gwerr.ErrNotFound)
	}

	if err := h.table.CheckScheduler(cluster.Name); err != nil {
		return nil, nil, err
	}
	if err := h.table.CheckFilesystem(cluster.Name, path); err != nil {
		return nil, nil, err
	}

	dt := h.cfg.DataOperation.DataTransfer
	if dt == nil {
		return nil, nil, fmt.Errorf("no data transfer backend configured: %w", gwerr.ErrNotImplemented)
	}

	pool, err := h.registry.Acquire(cluster.Name)
	if err != nil {
		return nil, nil, err
	}

	orch, err := resolve.TransferOrchestrator(r.Context(), cluster, dt, pool, h.logger)
	if err != nil {
		return nil, nil, err
	}
	return orch, cluster, nil
}
