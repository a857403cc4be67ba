// Package handlers implements the gateway's HTTP endpoints.
package handlers

import (
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/hpcbridge/hpcbridge/internal/server/httpjson"
	"github.com/hpcbridge/hpcbridge/pkg/gwerr"
	"github.com/hpcbridge/hpcbridge/pkg/health"
	"github.com/hpcbridge/hpcbridge/pkg/settings"
)

// StatusHandler serves health snapshots per cluster.
type StatusHandler struct {
	cfg   *settings.Settings
	table *health.Table
}

// NewStatusHandler builds the status endpoints over the shared health table.
func NewStatusHandler(cfg *settings.Settings, table *health.Table) *StatusHandler {
	return &StatusHandler{cfg: cfg, table: table}
}

// SystemStatus is one cluster's view in a status response.
type SystemStatus struct {
	Name string `json:"name"`

	// Checked is false until the first health cycle publishes.
	Checked bool `json:"checked"`

	Services health.Snapshot `json:"services,omitempty"`
}

// ListSystems returns the latest snapshot of every configured cluster.
func (h *StatusHandler) ListSystems(w http.ResponseWriter, r *http.Request) {
	out := make([]SystemStatus, 0, len(h.cfg.Clusters))
	for _, c := range h.cfg.Clusters {
		snapshot, ok := h.table.Snapshot(c.Name)
		out = append(out, SystemStatus{Name: c.Name, Checked: ok, Services: snapshot})
	}
	httpjson.WriteJSON(w, http.StatusOK, out)
}

// GetSystem returns the latest snapshot of one cluster.
func (h *StatusHandler) GetSystem(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "system")
	cluster := h.cfg.Cluster(name)
	if cluster == nil {
		httpjson.WriteError(w, fmt.Errorf("cluster %s: %w", name, gwerr.ErrNotFound))
		return
	}
	snapshot, ok := h.table.Snapshot(cluster.Name)
	httpjson.WriteJSON(w, http.StatusOK, SystemStatus{Name: cluster.Name, Checked: ok, Services: snapshot})
}
