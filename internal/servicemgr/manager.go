// Package servicemgr operates the fixed allowlist of systemd units the
// appliance is allowed to query, restart, and tail logs for — the inference
// engine, reverse proxy, metrics and dashboard units, and the control-plane
// unit itself. Grounded on app/services/service_manager.py: same allowlist,
// same unit-name mapping, same refuse-to-restart-self rule, same
// graceful degradation off Linux.
package servicemgr

import (
	"bytes"
	"context"
	"os/exec"
	"runtime"
	"sort"
	"strings"
	"sync"

	"github.com/vault-ai/control-plane/internal/apierr"
	"github.com/vault-ai/control-plane/internal/config"
	"github.com/vault-ai/control-plane/pkg/logger"
)

// Status is one service's current state.
type Status string

const (
	StatusRunning     Status = "running"
	StatusStopped     Status = "stopped"
	StatusUnavailable Status = "unavailable"
)

// ServiceStatus is the status of a single managed unit, returned by Status
// and List.
type ServiceStatus struct {
	Name          string `json:"name"`
	Status        Status `json:"status"`
	UptimeSeconds *int64 `json:"uptime_seconds,omitempty"`
}

// RestartResult reports the outcome of a restart request.
type RestartResult struct {
	Service string `json:"service"`
	Status  string `json:"status"`
	Message string `json:"message"`
}

// runner abstracts process execution so tests can avoid touching a real
// systemctl binary. Production wires execRunner; tests wire a stub.
type runner interface {
	run(ctx context.Context, name string, args ...string) (stdout string, err error)
}

type execRunner struct{}

func (execRunner) run(ctx context.Context, name string, args ...string) (string, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	var out bytes.Buffer
	var errOut bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &errOut
	if err := cmd.Run(); err != nil {
		if errOut.Len() > 0 {
			return out.String(), &execError{msg: strings.TrimSpace(errOut.String())}
		}
		return out.String(), err
	}
	return out.String(), nil
}

type execError struct{ msg string }

func (e *execError) Error() string { return e.msg }

// goos reports the runtime platform; overridden in tests to exercise the
// non-Linux degradation paths without needing a different host.
var goos = func() string { return runtime.GOOS }

// Manager is the service manager. One instance is shared across the
// uptime monitor and the HTTP surface.
type Manager struct {
	cfg    config.ServiceManagerConfig
	log    *logger.Logger
	run    runner
	unitMu sync.Mutex
}

func New(cfg *config.Config, log *logger.Logger) *Manager {
	return &Manager{cfg: cfg.ServiceMgr, log: log, run: execRunner{}}
}

// ManagedServices returns the allowlist, sorted — List and the uptime
// monitor both iterate it in this order so polling is deterministic.
func (m *Manager) ManagedServices() []string {
	names := append([]string(nil), m.cfg.ManagedServices...)
	sort.Strings(names)
	return names
}

func (m *Manager) unitFor(name string) string {
	if unit, ok := m.cfg.UnitMap[name]; ok {
		return unit
	}
	return name
}

func (m *Manager) isManaged(name string) bool {
	for _, s := range m.cfg.ManagedServices {
		if s == name {
			return true
		}
	}
	return false
}

func (m *Manager) isRestartBlocked(name string) bool {
	for _, s := range m.cfg.RestartBlocked {
		if s == name {
			return true
		}
	}
	return false
}

// Status reports one service's state via `systemctl is-active`. Off Linux
// every service reports unavailable rather than attempting to shell out.
func (m *Manager) Status(ctx context.Context, name string) ServiceStatus {
	if goos() != "linux" {
		return ServiceStatus{Name: name, Status: StatusUnavailable}
	}

	unit := m.unitFor(name)
	out, err := m.run.run(ctx, "systemctl", "is-active", unit)
	if err != nil {
		return ServiceStatus{Name: name, Status: StatusUnavailable}
	}

	active := strings.TrimSpace(out) == "active"
	if !active {
		return ServiceStatus{Name: name, Status: StatusStopped}
	}

	var uptime *int64
	if u, ok := m.activeEnterUptime(ctx, unit); ok {
		uptime = &u
	}
	return ServiceStatus{Name: name, Status: StatusRunning, UptimeSeconds: uptime}
}

// activeEnterUptime checks that systemctl show reports a non-empty
// ActiveEnterTimestamp for unit. It does not compute an actual elapsed
// duration from that timestamp — neither does the implementation this is
// grounded on, which assigns a zero placeholder once the property is
// present rather than parsing systemd's calendar-time format.
func (m *Manager) activeEnterUptime(ctx context.Context, unit string) (int64, bool) {
	out, err := m.run.run(ctx, "systemctl", "show", unit, "--property=ActiveEnterTimestamp")
	if err != nil {
		return 0, false
	}
	idx := strings.Index(out, "=")
	if idx < 0 {
		return 0, false
	}
	if strings.TrimSpace(out[idx+1:]) == "" {
		return 0, false
	}
	return 0, true
}

// List reports status for every managed service, in allowlist order.
func (m *Manager) List(ctx context.Context) []ServiceStatus {
	names := m.ManagedServices()
	out := make([]ServiceStatus, len(names))
	for i, name := range names {
		out[i] = m.Status(ctx, name)
	}
	return out
}

// Restart restarts a managed service. Unknown names and the control-plane's
// own unit are rejected before anything is shelled out.
func (m *Manager) Restart(ctx context.Context, name string) (RestartResult, error) {
	if !m.isManaged(name) {
		return RestartResult{}, apierr.InvalidInput("service", "unknown service: "+name)
	}
	if m.isRestartBlocked(name) {
		return RestartResult{}, apierr.InvalidInput("service", "cannot restart "+name+" via API")
	}

	if goos() != "linux" {
		return RestartResult{Service: name, Status: "restart_skipped", Message: "not running on Linux"}, nil
	}

	m.unitMu.Lock()
	defer m.unitMu.Unlock()

	unit := m.unitFor(name)
	_, err := m.run.run(ctx, "systemctl", "restart", unit)
	if err != nil {
		if m.log != nil {
			m.log.WithField("service", name).WithField("error", err.Error()).Warn("service restart failed")
		}
		return RestartResult{Service: name, Status: "failed", Message: err.Error()}, nil
	}
	return RestartResult{Service: name, Status: "restarting", Message: name + " restart initiated"}, nil
}

// ExpandedHealth folds in a live vLLM health probe (when backendHealthy is
// non-nil) on top of List, and summarizes overall status as healthy (all
// running), degraded (some running) or unhealthy (none running).
func (m *Manager) ExpandedHealth(ctx context.Context, vllmUnitName string, backendHealthy func(context.Context) bool) (string, []ServiceStatus) {
	services := m.List(ctx)
	if backendHealthy != nil && backendHealthy(ctx) {
		for i := range services {
			if services[i].Name == vllmUnitName {
				services[i].Status = StatusRunning
			}
		}
	}

	running := 0
	for _, s := range services {
		if s.Status == StatusRunning {
			running++
		}
	}

	overall := "unhealthy"
	switch {
	case running == len(services) && len(services) > 0:
		overall = "healthy"
	case running > 0:
		overall = "degraded"
	}
	return overall, services
}
