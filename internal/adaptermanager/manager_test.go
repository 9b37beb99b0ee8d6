package adaptermanager

import (
	"context"
	"database/sql"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"

	"github.com/vault-ai/control-plane/internal/config"
	"github.com/vault-ai/control-plane/internal/domain"
	"github.com/vault-ai/control-plane/internal/servicemgr"
	"github.com/vault-ai/control-plane/internal/store"
	"github.com/vault-ai/control-plane/pkg/logger"
)

type stubRestarter struct {
	err   error
	calls []string
}

func (s *stubRestarter) Restart(ctx context.Context, name string) (servicemgr.RestartResult, error) {
	s.calls = append(s.calls, name)
	if s.err != nil {
		return servicemgr.RestartResult{}, s.err
	}
	return servicemgr.RestartResult{Service: name, Status: "restarting"}, nil
}

func newTestManager(t *testing.T) (*Manager, sqlmock.Sqlmock, *stubRestarter) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock new: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	dir := t.TempDir()
	cfg := &config.Config{}
	cfg.AdapterMgr = config.AdapterManagerConfig{
		EngineConfigPath:      filepath.Join(dir, "gpu-config.yaml"),
		AdaptersDir:           dir,
		EngineServiceName:     "vault-vllm",
		HealthProbeURL:        "http://127.0.0.1:0/health",
		HealthProbeTimeoutSec: 1,
		HealthPollIntervalMS:  10,
	}

	sr := &stubRestarter{}
	m := &Manager{
		cfg:     cfg.AdapterMgr,
		store:   store.New(db),
		log:     logger.New(logger.Config{Level: "error"}),
		restart: sr,
	}
	m.healthProbe = func(context.Context) bool { return true }
	return m, mock, sr
}

func adapterCols() []string {
	return []string{"id", "name", "base_model", "adapter_type", "status", "path", "training_job_id",
		"config_blob", "metrics_blob", "size_bytes", "version", "created_at", "activated_at"}
}

func TestGetWrapsNotFound(t *testing.T) {
	m, mock, _ := newTestManager(t)
	mock.ExpectQuery("SELECT (.+) FROM adapters WHERE id = \\$1").
		WithArgs("missing").
		WillReturnError(sql.ErrNoRows)

	_, err := m.Get(context.Background(), "missing")
	if err == nil {
		t.Fatal("expected not-found error")
	}
}

func TestRegisterComputesSizeFromDisk(t *testing.T) {
	m, mock, _ := newTestManager(t)

	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "adapter_model.bin"), make([]byte, 2048), 0o644); err != nil {
		t.Fatalf("seed artifact: %v", err)
	}

	mock.ExpectExec("INSERT INTO adapters").WillReturnResult(sqlmock.NewResult(0, 1))

	a, err := m.Register(context.Background(), RegisterInput{
		Name: "llama-lora", BaseModel: "llama-3-8b", AdapterType: domain.AdapterLoRA, Path: dir,
	})
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	if a.SizeBytes != 2048 {
		t.Fatalf("expected size 2048, got %d", a.SizeBytes)
	}
	if a.Status != domain.AdapterStatusReady {
		t.Fatalf("expected ready status, got %v", a.Status)
	}
}

func TestActivateAlreadyActiveIsNoOp(t *testing.T) {
	m, mock, sr := newTestManager(t)
	now := time.Now().UTC()

	mock.ExpectQuery("SELECT (.+) FROM adapters WHERE id = \\$1").
		WithArgs("a1").
		WillReturnRows(sqlmock.NewRows(adapterCols()).AddRow("a1", "llama-lora", "llama-3-8b",
			domain.AdapterLoRA, domain.AdapterStatusActive, "/models/adapters/llama-lora", nil,
			[]byte(`{}`), []byte(`{}`), 1024, 1, now, now))

	a, err := m.Activate(context.Background(), "a1")
	if err != nil {
		t.Fatalf("activate: %v", err)
	}
	if a.Status != domain.AdapterStatusActive {
		t.Fatalf("expected still active, got %v", a.Status)
	}
	if len(sr.calls) != 0 {
		t.Fatalf("expected no restart for already-active adapter, got %v", sr.calls)
	}
}

func TestActivateWritesEngineConfigAndRestarts(t *testing.T) {
	m, mock, sr := newTestManager(t)
	now := time.Now().UTC()

	mock.ExpectQuery("SELECT (.+) FROM adapters WHERE id = \\$1").
		WithArgs("a1").
		WillReturnRows(sqlmock.NewRows(adapterCols()).AddRow("a1", "llama-lora", "llama-3-8b",
			domain.AdapterLoRA, domain.AdapterStatusReady, "/models/adapters/llama-lora", nil,
			[]byte(`{}`), []byte(`{}`), 1024, 1, now, nil))

	mock.ExpectBegin()
	mock.ExpectQuery("SELECT name FROM adapters WHERE id = \\$1").
		WithArgs("a1").
		WillReturnRows(sqlmock.NewRows([]string{"name"}).AddRow("llama-lora"))
	mock.ExpectExec("UPDATE adapters SET status = \\$2 WHERE name = \\$1 AND status = \\$3").
		WithArgs("llama-lora", domain.AdapterStatusReady, domain.AdapterStatusActive).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec("UPDATE adapters SET status = \\$2, activated_at = \\$3 WHERE id = \\$1").
		WithArgs("a1", domain.AdapterStatusActive, sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	mock.ExpectQuery("SELECT (.+) FROM adapters WHERE id = \\$1").
		WithArgs("a1").
		WillReturnRows(sqlmock.NewRows(adapterCols()).AddRow("a1", "llama-lora", "llama-3-8b",
			domain.AdapterLoRA, domain.AdapterStatusActive, "/models/adapters/llama-lora", nil,
			[]byte(`{}`), []byte(`{}`), 1024, 1, now, now))

	a, err := m.Activate(context.Background(), "a1")
	if err != nil {
		t.Fatalf("activate: %v", err)
	}
	if a.Status != domain.AdapterStatusActive {
		t.Fatalf("expected active, got %v", a.Status)
	}
	if len(sr.calls) != 1 || sr.calls[0] != "vault-vllm" {
		t.Fatalf("expected one restart of vault-vllm, got %v", sr.calls)
	}

	cfg, err := loadEngineConfig(m.cfg.EngineConfigPath)
	if err != nil {
		t.Fatalf("load engine config: %v", err)
	}
	if len(cfg.LoraModules) != 1 || cfg.LoraModules[0].Name != "llama-lora" {
		t.Fatalf("expected lora module entry written, got %+v", cfg.LoraModules)
	}
}

func TestActivateFailsWhenHealthProbeNeverPasses(t *testing.T) {
	m, mock, _ := newTestManager(t)
	now := time.Now().UTC()
	m.healthProbe = func(context.Context) bool { return false }

	mock.ExpectQuery("SELECT (.+) FROM adapters WHERE id = \\$1").
		WithArgs("a1").
		WillReturnRows(sqlmock.NewRows(adapterCols()).AddRow("a1", "llama-lora", "llama-3-8b",
			domain.AdapterLoRA, domain.AdapterStatusReady, "/models/adapters/llama-lora", nil,
			[]byte(`{}`), []byte(`{}`), 1024, 1, now, nil))

	_, err := m.Activate(context.Background(), "a1")
	if err == nil {
		t.Fatal("expected error when health probe never passes")
	}
}

func TestDeactivateReadyIsNoOp(t *testing.T) {
	m, mock, sr := newTestManager(t)
	now := time.Now().UTC()

	mock.ExpectQuery("SELECT (.+) FROM adapters WHERE id = \\$1").
		WithArgs("a1").
		WillReturnRows(sqlmock.NewRows(adapterCols()).AddRow("a1", "llama-lora", "llama-3-8b",
			domain.AdapterLoRA, domain.AdapterStatusReady, "/models/adapters/llama-lora", nil,
			[]byte(`{}`), []byte(`{}`), 1024, 1, now, nil))

	a, err := m.Deactivate(context.Background(), "a1")
	if err != nil {
		t.Fatalf("deactivate: %v", err)
	}
	if a.Status != domain.AdapterStatusReady {
		t.Fatalf("expected still ready, got %v", a.Status)
	}
	if len(sr.calls) != 0 {
		t.Fatalf("expected no restart for already-ready adapter, got %v", sr.calls)
	}
}

func TestDeleteRefusesWhileActive(t *testing.T) {
	m, mock, _ := newTestManager(t)
	now := time.Now().UTC()

	mock.ExpectQuery("SELECT (.+) FROM adapters WHERE id = \\$1").
		WithArgs("a1").
		WillReturnRows(sqlmock.NewRows(adapterCols()).AddRow("a1", "llama-lora", "llama-3-8b",
			domain.AdapterLoRA, domain.AdapterStatusActive, "/models/adapters/llama-lora", nil,
			[]byte(`{}`), []byte(`{}`), 1024, 1, now, now))

	err := m.Delete(context.Background(), "a1")
	if err == nil {
		t.Fatal("expected conflict error deleting an active adapter")
	}
}

func TestDeleteRemovesArtifactsAndRow(t *testing.T) {
	m, mock, _ := newTestManager(t)
	now := time.Now().UTC()

	dir := t.TempDir()
	adapterDir := filepath.Join(dir, "llama-lora")
	if err := os.MkdirAll(adapterDir, 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(filepath.Join(adapterDir, "f.bin"), []byte("x"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}

	mock.ExpectQuery("SELECT (.+) FROM adapters WHERE id = \\$1").
		WithArgs("a1").
		WillReturnRows(sqlmock.NewRows(adapterCols()).AddRow("a1", "llama-lora", "llama-3-8b",
			domain.AdapterLoRA, domain.AdapterStatusReady, adapterDir, nil,
			[]byte(`{}`), []byte(`{}`), 1024, 1, now, nil))
	mock.ExpectExec("DELETE FROM adapters WHERE id = \\$1").
		WithArgs("a1").
		WillReturnResult(sqlmock.NewResult(0, 1))

	if err := m.Delete(context.Background(), "a1"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := os.Stat(adapterDir); !os.IsNotExist(err) {
		t.Fatalf("expected artifact directory removed, stat err = %v", err)
	}
}

func TestHTTPHealthProbe(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	m := &Manager{cfg: config.AdapterManagerConfig{HealthProbeURL: srv.URL}}
	if !m.httpHealthProbe(context.Background()) {
		t.Fatal("expected healthy probe against a 200 server")
	}
}
