package handler

import (
	"context"
	"net/http"
	"sort"

	"github.com/faucetdb/schemad/internal/schemasync"
)

// Pinger reports whether the backend is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

// SyncStatus reports the synchronizer's lifecycle state.
type SyncStatus interface {
	Status() schemasync.State
	InstanceID() string
}

// SchemaCounter reports how many schemas are registered.
type SchemaCounter func() int

// SystemHandler serves the probes and the instance status endpoint.
type SystemHandler struct {
	backend Pinger
	sync    SyncStatus
	schemas SchemaCounter
	ops     []string
}

// NewSystemHandler creates a new SystemHandler. sync may be nil when the
// instance runs without a synchronizer.
func NewSystemHandler(backend Pinger, sync SyncStatus, schemas SchemaCounter, ops []string) *SystemHandler {
	sorted := append([]string(nil), ops...)
	sort.Strings(sorted)
	return &SystemHandler{backend: backend, sync: sync, schemas: schemas, ops: sorted}
}

// Healthz is a liveness probe. Returns 200 if the process is running.
func (h *SystemHandler) Healthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// Readyz is a readiness probe. It returns 200 once the backend answers
// pings and the schema registry has finished its initial sync, 503
// otherwise.
func (h *SystemHandler) Readyz(w http.ResponseWriter, r *http.Request) {
	status := "ok"
	checks := make(map[string]string)

	if err := h.backend.Ping(r.Context()); err != nil {
		checks["database"] = "error: " + err.Error()
		status = "degraded"
	} else {
		checks["database"] = "ok"
	}

	if h.sync != nil {
		state := h.sync.Status()
		checks["sync"] = state.String()
		if state != schemasync.StateReady {
			status = "degraded"
		}
	}

	code := http.StatusOK
	if status != "ok" {
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, map[string]interface{}{
		"status": status,
		"checks": checks,
	})
}

// Status describes the instance: its id, sync state, registered schema
// count and the operations it serves.
func (h *SystemHandler) Status(w http.ResponseWriter, r *http.Request) {
	resp := map[string]interface{}{
		"operations": h.ops,
	}
	if h.schemas != nil {
		resp["schemas"] = h.schemas()
	}
	if h.sync != nil {
		resp["instance_id"] = h.sync.InstanceID()
		resp["sync"] = h.sync.Status().String()
	}
	writeJSON(w, http.StatusOK, resp)
}
