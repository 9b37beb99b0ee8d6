package api

import (
	"context"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/vault-ai/control-plane/internal/apierr"
	"github.com/vault-ai/control-plane/internal/gpuinfo"
	"github.com/vault-ai/control-plane/internal/httputil"
	"github.com/vault-ai/control-plane/internal/servicemgr"
)

// vllmServiceName is the managed-service entry the expanded health check
// reconciles against a live backend probe, matching the name
// ServiceManagerConfig.ManagedServices carries for the inference engine
// unit.
const vllmServiceName = "vault-vllm"

func (s *Server) registerSystemRoutes(r *mux.Router) {
	r.Handle("/vault/system/resources", s.protect(s.handleSystemResources)).Methods(http.MethodGet)
	r.Handle("/vault/system/gpu", s.protect(s.handleSystemGPU)).Methods(http.MethodGet)
	r.Handle("/vault/system/services", s.protect(s.handleListServices)).Methods(http.MethodGet)
	r.Handle("/vault/system/services/{name}", s.protect(s.handleServiceStatus)).Methods(http.MethodGet)
	r.Handle("/vault/system/services/{name}/restart", s.admin(s.handleServiceRestart)).Methods(http.MethodPost)
	r.Handle("/vault/system/uptime", s.protect(s.handleUptimeSummary)).Methods(http.MethodGet)
	r.Handle("/vault/system/uptime/events", s.protect(s.handleUptimeEvents)).Methods(http.MethodGet)
	r.Handle("/vault/system/uptime/availability", s.protect(s.handleUptimeAvailability)).Methods(http.MethodGet)
	r.Handle("/vault/system/logs", s.admin(s.handleSystemLogs)).Methods(http.MethodGet)
	r.Handle("/vault/system/health/expanded", s.protect(s.handleExpandedHealth)).Methods(http.MethodGet)
}

// uptimeWindows maps the ?window= query value GET
// /vault/system/uptime/availability accepts to a lookback duration, mirroring
// the fixed 24h/7d/30d ladder GetSummary already computes per service.
var uptimeWindows = map[string]time.Duration{
	"24h": 24 * time.Hour,
	"7d":  7 * 24 * time.Hour,
	"30d": 30 * 24 * time.Hour,
}

type healthResponse struct {
	Status string `json:"status"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	httputil.WriteJSON(w, http.StatusOK, healthResponse{Status: "ok"})
}

func (s *Server) handleSystemResources(w http.ResponseWriter, r *http.Request) {
	stats, err := gpuinfo.CollectHostStats(r.Context(), "/")
	if err != nil {
		httputil.WriteServiceError(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, stats)
}

type gpuResponse struct {
	GPUs        []gpuinfo.GPU      `json:"gpus"`
	Allocations []allocationOut    `json:"allocations"`
}

type allocationOut struct {
	GPUIndex      int     `json:"gpu_index"`
	AssignedTo    string  `json:"assigned_to"`
	JobID         string  `json:"job_id,omitempty"`
	MemoryUsedPct float64 `json:"memory_used_pct"`
}

func (s *Server) handleSystemGPU(w http.ResponseWriter, r *http.Request) {
	gpus, err := gpuinfo.DetectNVIDIA(r.Context())
	if err != nil {
		httputil.WriteServiceError(w, r, err)
		return
	}
	allocations, err := s.scheduler.AllocationView(r.Context())
	if err != nil {
		httputil.WriteServiceError(w, r, err)
		return
	}
	out := make([]allocationOut, 0, len(allocations))
	for _, a := range allocations {
		out = append(out, allocationOut{GPUIndex: a.GPUIndex, AssignedTo: a.AssignedTo, JobID: a.JobID, MemoryUsedPct: a.MemoryUsedPct})
	}
	httputil.WriteJSON(w, http.StatusOK, gpuResponse{GPUs: gpus, Allocations: out})
}

func (s *Server) handleListServices(w http.ResponseWriter, r *http.Request) {
	httputil.WriteJSON(w, http.StatusOK, s.services.List(r.Context()))
}

func (s *Server) handleServiceStatus(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["name"]
	httputil.WriteJSON(w, http.StatusOK, s.services.Status(r.Context(), name))
}

func (s *Server) handleServiceRestart(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["name"]
	result, err := s.services.Restart(r.Context(), name)
	if err != nil {
		httputil.WriteServiceError(w, r, err)
		return
	}
	s.auditLog.Admin(r.Context(), "service.restart", name)
	httputil.WriteJSON(w, http.StatusOK, result)
}

func (s *Server) handleUptimeSummary(w http.ResponseWriter, r *http.Request) {
	summary, err := s.uptimeMon.GetSummary(r.Context())
	if err != nil {
		httputil.WriteServiceError(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, summary)
}

// handleUptimeEvents lists raw up/down transitions for one service since a
// lookback window, for a drill-down view behind the summarized dashboard
// GetSummary already serves.
func (s *Server) handleUptimeEvents(w http.ResponseWriter, r *http.Request) {
	service := r.URL.Query().Get("service")
	if service == "" {
		httputil.WriteServiceError(w, r, apierr.MissingParameter("service"))
		return
	}
	since := time.Now().UTC().Add(-24 * time.Hour)
	if window, ok := uptimeWindows[r.URL.Query().Get("window")]; ok {
		since = time.Now().UTC().Add(-window)
	}
	events, err := s.store.ListUptimeEvents(r.Context(), service, since)
	if err != nil {
		httputil.WriteServiceError(w, r, apierr.DatabaseError("list_uptime_events", err))
		return
	}
	httputil.WriteJSON(w, http.StatusOK, events)
}

// handleUptimeAvailability answers a single service/window availability
// fraction directly, rather than the whole per-service ladder GetSummary
// returns for every managed service at once.
func (s *Server) handleUptimeAvailability(w http.ResponseWriter, r *http.Request) {
	service := r.URL.Query().Get("service")
	if service == "" {
		httputil.WriteServiceError(w, r, apierr.MissingParameter("service"))
		return
	}
	window := uptimeWindows["24h"]
	if w2, ok := uptimeWindows[r.URL.Query().Get("window")]; ok {
		window = w2
	}
	availability, err := s.store.Availability(r.Context(), service, time.Now().UTC().Add(-window))
	if err != nil {
		httputil.WriteServiceError(w, r, apierr.DatabaseError("get_uptime_availability", err))
		return
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]any{"service": service, "availability": availability})
}

// handleSystemLogs is the non-streaming counterpart to /ws/logs — a single
// page of journald output rather than a live tail. Admin-only for the same
// reason the WebSocket stream is: system logs can carry sensitive runtime
// detail a user-scope key has no business reading.
func (s *Server) handleSystemLogs(w http.ResponseWriter, r *http.Request) {
	offset, limit := httputil.PaginationParams(r, 100, 1000)
	entries, total := s.services.GetLogs(r.Context(), servicemgr.LogFilter{
		Service:  r.URL.Query().Get("service"),
		Severity: r.URL.Query().Get("severity"),
		Since:    r.URL.Query().Get("since"),
		Limit:    limit,
		Offset:   offset,
	})
	httputil.WriteJSON(w, http.StatusOK, map[string]any{"entries": entries, "total": total})
}

func (s *Server) handleExpandedHealth(w http.ResponseWriter, r *http.Request) {
	status, services := s.services.ExpandedHealth(r.Context(), vllmServiceName, s.inferenceBackendHealthy)
	httputil.WriteJSON(w, http.StatusOK, map[string]any{"status": status, "services": services})
}

func (s *Server) inferenceBackendHealthy(ctx context.Context) bool {
	return s.inference.Healthy(ctx)
}
