package servicemgr

import (
	"context"
	"testing"

	"github.com/vault-ai/control-plane/internal/config"
	"github.com/vault-ai/control-plane/pkg/logger"
)

type stubRunner struct {
	responses map[string]string
	errors    map[string]error
	calls     []string
}

func (s *stubRunner) key(name string, args ...string) string {
	k := name
	for _, a := range args {
		k += " " + a
	}
	return k
}

func (s *stubRunner) run(ctx context.Context, name string, args ...string) (string, error) {
	k := s.key(name, args...)
	s.calls = append(s.calls, k)
	if err, ok := s.errors[k]; ok {
		return "", err
	}
	return s.responses[k], nil
}

func newTestManager(t *testing.T) (*Manager, *stubRunner) {
	t.Helper()
	cfg := &config.Config{}
	cfg.ServiceMgr = config.ServiceManagerConfig{
		ManagedServices: []string{"vault-vllm", "vault-backend", "caddy"},
		RestartBlocked:  []string{"vault-backend"},
		UnitMap:         map[string]string{"vllm": "vault-vllm"},
	}
	sr := &stubRunner{responses: map[string]string{}, errors: map[string]error{}}
	m := &Manager{cfg: cfg.ServiceMgr, log: logger.New(logger.Config{Level: "error"}), run: sr}
	return m, sr
}

func withLinux(t *testing.T) {
	t.Helper()
	old := goos
	goos = func() string { return "linux" }
	t.Cleanup(func() { goos = old })
}

func withNonLinux(t *testing.T) {
	t.Helper()
	old := goos
	goos = func() string { return "darwin" }
	t.Cleanup(func() { goos = old })
}

func TestStatusRunningWhenActive(t *testing.T) {
	withLinux(t)
	m, sr := newTestManager(t)
	sr.responses["systemctl is-active vault-vllm"] = "active\n"

	st := m.Status(context.Background(), "vault-vllm")
	if st.Status != StatusRunning {
		t.Fatalf("expected running, got %v", st.Status)
	}
}

func TestStatusStoppedWhenInactive(t *testing.T) {
	withLinux(t)
	m, sr := newTestManager(t)
	sr.responses["systemctl is-active caddy"] = "inactive\n"

	st := m.Status(context.Background(), "caddy")
	if st.Status != StatusStopped {
		t.Fatalf("expected stopped, got %v", st.Status)
	}
}

func TestStatusUnavailableOffLinux(t *testing.T) {
	withNonLinux(t)
	m, _ := newTestManager(t)

	st := m.Status(context.Background(), "caddy")
	if st.Status != StatusUnavailable {
		t.Fatalf("expected unavailable off Linux, got %v", st.Status)
	}
}

func TestListCoversAllManagedServicesSorted(t *testing.T) {
	withLinux(t)
	m, sr := newTestManager(t)
	sr.responses["systemctl is-active vault-vllm"] = "active\n"
	sr.responses["systemctl is-active vault-backend"] = "active\n"
	sr.responses["systemctl is-active caddy"] = "active\n"

	statuses := m.List(context.Background())
	if len(statuses) != 3 {
		t.Fatalf("expected 3 statuses, got %d", len(statuses))
	}
	if statuses[0].Name != "caddy" || statuses[1].Name != "vault-backend" || statuses[2].Name != "vault-vllm" {
		t.Fatalf("expected sorted allowlist order, got %+v", statuses)
	}
}

func TestRestartRejectsUnknownService(t *testing.T) {
	m, _ := newTestManager(t)
	_, err := m.Restart(context.Background(), "nope")
	if err == nil {
		t.Fatal("expected error for unknown service")
	}
}

func TestRestartRefusesSelf(t *testing.T) {
	m, _ := newTestManager(t)
	_, err := m.Restart(context.Background(), "vault-backend")
	if err == nil {
		t.Fatal("expected error restarting self")
	}
}

func TestRestartSkippedOffLinux(t *testing.T) {
	withNonLinux(t)
	m, _ := newTestManager(t)

	res, err := m.Restart(context.Background(), "caddy")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Status != "restart_skipped" {
		t.Fatalf("expected restart_skipped, got %v", res.Status)
	}
}

func TestRestartSucceeds(t *testing.T) {
	withLinux(t)
	m, sr := newTestManager(t)
	sr.responses["systemctl restart caddy"] = ""

	res, err := m.Restart(context.Background(), "caddy")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Status != "restarting" {
		t.Fatalf("expected restarting, got %v", res.Status)
	}
}

func TestExpandedHealthDegradedWhenPartiallyUp(t *testing.T) {
	withLinux(t)
	m, sr := newTestManager(t)
	sr.responses["systemctl is-active vault-vllm"] = "active\n"
	sr.responses["systemctl is-active vault-backend"] = "inactive\n"
	sr.responses["systemctl is-active caddy"] = "inactive\n"

	overall, services := m.ExpandedHealth(context.Background(), "vault-vllm", nil)
	if overall != "degraded" {
		t.Fatalf("expected degraded, got %q", overall)
	}
	if len(services) != 3 {
		t.Fatalf("expected 3 services, got %d", len(services))
	}
}
