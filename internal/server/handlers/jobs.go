package handlers

import (
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
)

// JobsHandler serves scheduler job lookups, used by clients polling their
// transfer proxy jobs.
type JobsHandler struct {
	cfg      *settings.Settings
	registry *sshpool.Registry
	table    *health.Table
	logger   *zap.Logger
}

// NewJobsHandler builds the job endpoints.
func NewJobsHandler(cfg *settings.Settings, registry *sshpool.Registry, table *health.Table, logger *zap.Logger) *JobsHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &JobsHandler{cfg: cfg, registry: registry, table: table, logger: logger}
}

// GetJob handles GET /compute/{system}/jobs/{jobID}.
func (h *JobsHandler) GetJob(w http.ResponseWriter, r *http.Request) {
	system := chi.URLParam(r, "system")
	jobID := chi.URLParam(r, "jobID")

	cluster := h.cfg.Cluster(system)
	if cluster == nil {
		httpjson.WriteError(w, fmt.Errorf("cluster %s: %w", system, gwerr.ErrNotFound))
		return
	}
	if err := h.table.CheckScheduler(cluster.Name); err != nil {
		httpjson.WriteError(w, err)
		return
	}

	pool, err := h.registry.Acquire(cluster.Name)
	if err != nil {
		httpjson.WriteError(w, err)
		return
	}
	client, err := resolve.SchedulerClient(pool, cluster.Scheduler)
	if err != nil {
		httpjson.WriteError(w, err)
		return
	}

	id := middleware.IdentityFrom(r.Context())
	job, err := client.JobInfo(r.Context(), jobID, id.Username, middleware.TokenFrom(r.Context()))
	if err != nil {
		httpjson.WriteError(w, err)
		return
	}
	httpjson.WriteJSON(w, http.StatusOK, job)
}
