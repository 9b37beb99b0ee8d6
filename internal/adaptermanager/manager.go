// Package adaptermanager manages the lifecycle of trained LoRA/QLoRA/full
// fine-tune artifacts — register, activate on the inference engine,
// deactivate, delete. Grounded on
// app/services/training/adapter_manager.py, with model_manager.py's
// gpu-config.yaml read/modify/write folded into engineconfig.go and its
// Docker-container restart replaced by the same systemd-unit restart
// primitive the service manager already exposes.
package adaptermanager

import (
	"context"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"github.com/vault-ai/control-plane/internal/apierr"
	"github.com/vault-ai/control-plane/internal/config"
	"github.com/vault-ai/control-plane/internal/domain"
	"github.com/vault-ai/control-plane/internal/servicemgr"
	"github.com/vault-ai/control-plane/internal/store"
	"github.com/vault-ai/control-plane/pkg/logger"
)

// restarter abstracts the coordinated engine restart so tests can avoid
// shelling out to systemctl. *servicemgr.Manager satisfies this directly.
type restarter interface {
	Restart(ctx context.Context, name string) (servicemgr.RestartResult, error)
}

// RegisterInput is what's known about a freshly trained adapter, typically
// supplied by the job runner once a training job completes.
type RegisterInput struct {
	Name          string
	BaseModel     string
	AdapterType   domain.AdapterType
	Path          string
	TrainingJobID *string
	ConfigBlob    []byte
	MetricsBlob   []byte
}

// Manager is the adapter lifecycle manager. One instance is shared across
// the job runner (which registers adapters on training completion) and the
// HTTP surface (which activates, deactivates, and deletes them).
type Manager struct {
	cfg         config.AdapterManagerConfig
	store       *store.Store
	log         *logger.Logger
	restart     restarter
	healthProbe func(ctx context.Context) bool
}

func New(cfg *config.Config, st *store.Store, svc *servicemgr.Manager, log *logger.Logger) *Manager {
	m := &Manager{cfg: cfg.AdapterMgr, store: st, restart: svc, log: log}
	m.healthProbe = m.httpHealthProbe
	return m
}

// List returns every registered adapter, newest first.
func (m *Manager) List(ctx context.Context) ([]domain.Adapter, error) {
	return m.store.ListAdapters(ctx)
}

// Get fetches a single adapter by ID.
func (m *Manager) Get(ctx context.Context, id string) (domain.Adapter, error) {
	a, err := m.store.GetAdapter(ctx, id)
	if err != nil {
		return domain.Adapter{}, apierr.NotFound("adapter", id)
	}
	return a, nil
}

// Register records a newly produced adapter artifact, computing its
// on-disk size by walking its directory — mirroring register_adapter's
// sum(f.stat().st_size for f in adapter_path.rglob("*") if f.is_file()).
func (m *Manager) Register(ctx context.Context, in RegisterInput) (domain.Adapter, error) {
	size, err := dirSize(in.Path)
	if err != nil {
		size = 0
	}

	a := domain.Adapter{
		ID:            uuid.NewString(),
		Name:          in.Name,
		BaseModel:     in.BaseModel,
		AdapterType:   in.AdapterType,
		Status:        domain.AdapterStatusReady,
		Path:          in.Path,
		TrainingJobID: in.TrainingJobID,
		ConfigBlob:    in.ConfigBlob,
		MetricsBlob:   in.MetricsBlob,
		SizeBytes:     size,
		Version:       1,
		CreatedAt:     time.Now().UTC(),
	}

	created, err := m.store.CreateAdapter(ctx, a)
	if err != nil {
		return domain.Adapter{}, err
	}
	if m.log != nil {
		m.log.WithField("adapter", created.Name).WithField("id", created.ID).Info("adapter registered")
	}
	return created, nil
}

// Activate adds the adapter to the engine's lora_modules list, triggers a
// coordinated engine restart, waits for the engine's health probe to pass,
// then marks the adapter active. Already-active adapters are a no-op,
// matching activate_adapter's early return.
func (m *Manager) Activate(ctx context.Context, id string) (domain.Adapter, error) {
	a, err := m.Get(ctx, id)
	if err != nil {
		return domain.Adapter{}, err
	}
	if a.Status == domain.AdapterStatusActive {
		return a, nil
	}

	cfg, err := loadEngineConfig(m.cfg.EngineConfigPath)
	if err != nil {
		return domain.Adapter{}, apierr.Wrap(apierr.CodeInternal, "failed to read engine config", 500, err)
	}
	cfg = upsertLoraModule(cfg, LoraModule{Name: a.Name, Path: a.Path, BaseModel: a.BaseModel})
	if err := saveEngineConfig(m.cfg.EngineConfigPath, cfg); err != nil {
		return domain.Adapter{}, apierr.Wrap(apierr.CodeInternal, "failed to write engine config", 500, err)
	}

	if err := m.restartEngineAndWait(ctx); err != nil {
		return domain.Adapter{}, err
	}

	if err := m.store.ActivateAdapter(ctx, id); err != nil {
		return domain.Adapter{}, err
	}
	if m.log != nil {
		m.log.WithField("adapter", a.Name).Info("adapter activated")
	}
	return m.Get(ctx, id)
}

// Deactivate removes the adapter from the engine's lora_modules list,
// restarts and waits, then marks it ready. Already-ready adapters are a
// no-op, matching deactivate_adapter's early return.
func (m *Manager) Deactivate(ctx context.Context, id string) (domain.Adapter, error) {
	a, err := m.Get(ctx, id)
	if err != nil {
		return domain.Adapter{}, err
	}
	if a.Status != domain.AdapterStatusActive {
		return a, nil
	}

	cfg, err := loadEngineConfig(m.cfg.EngineConfigPath)
	if err != nil {
		return domain.Adapter{}, apierr.Wrap(apierr.CodeInternal, "failed to read engine config", 500, err)
	}
	cfg = removeLoraModule(cfg, a.Name)
	if err := saveEngineConfig(m.cfg.EngineConfigPath, cfg); err != nil {
		return domain.Adapter{}, apierr.Wrap(apierr.CodeInternal, "failed to write engine config", 500, err)
	}

	if err := m.restartEngineAndWait(ctx); err != nil {
		return domain.Adapter{}, err
	}

	if err := m.store.DeactivateAdapter(ctx, id); err != nil {
		return domain.Adapter{}, err
	}
	if m.log != nil {
		m.log.WithField("adapter", a.Name).Info("adapter deactivated")
	}
	return m.Get(ctx, id)
}

// Delete removes an adapter's artifacts from disk and its row from the
// database. Refuses while the adapter is active — it must be deactivated
// first, matching delete_adapter's conflict rule.
func (m *Manager) Delete(ctx context.Context, id string) error {
	a, err := m.Get(ctx, id)
	if err != nil {
		return err
	}
	if a.Status == domain.AdapterStatusActive {
		return apierr.Conflict("adapter \"" + a.Name + "\" is currently active; deactivate it first")
	}

	if _, err := os.Stat(a.Path); err == nil {
		if err := os.RemoveAll(a.Path); err != nil {
			return apierr.Wrap(apierr.CodeInternal, "failed to remove adapter files", 500, err)
		}
	}

	if err := m.store.DeleteAdapter(ctx, id); err != nil {
		return err
	}
	if m.log != nil {
		m.log.WithField("adapter", a.Name).Info("adapter deleted")
	}
	return nil
}

// restartEngineAndWait triggers a restart of the engine's managed service
// unit and blocks until the health probe passes or the configured timeout
// elapses — satisfying the "idempotent and synchronous" activation
// requirement without reimplementing restart logic already built for the
// service manager.
func (m *Manager) restartEngineAndWait(ctx context.Context) error {
	if _, err := m.restart.Restart(ctx, m.cfg.EngineServiceName); err != nil {
		return err
	}

	timeout := time.Duration(m.cfg.HealthProbeTimeoutSec) * time.Second
	interval := time.Duration(m.cfg.HealthPollIntervalMS) * time.Millisecond
	deadline := time.Now().Add(timeout)

	for {
		if m.healthProbe(ctx) {
			return nil
		}
		if time.Now().After(deadline) {
			return apierr.BackendUnavailable("inference-engine", "engine did not become healthy after restart")
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(interval):
		}
	}
}

func (m *Manager) httpHealthProbe(ctx context.Context) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, m.cfg.HealthProbeURL, nil)
	if err != nil {
		return false
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	return resp.StatusCode >= 200 && resp.StatusCode < 300
}

func dirSize(path string) (int64, error) {
	info, err := os.Stat(path)
	if err != nil {
		return 0, err
	}
	if !info.IsDir() {
		return info.Size(), nil
	}

	var total int64
	err = filepath.Walk(path, func(_ string, fi os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if !fi.IsDir() {
			total += fi.Size()
		}
		return nil
	})
	return total, err
}
