// Package uptime polls the service manager's allowlist on a fixed cadence
// and turns state transitions into UptimeEvents, then answers availability
// queries against the accumulated history. Grounded on
// app/services/uptime_monitor.py and app/services/uptime.py.
package uptime

import (
	"context"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/vault-ai/control-plane/internal/config"
	"github.com/vault-ai/control-plane/internal/domain"
	"github.com/vault-ai/control-plane/internal/servicemgr"
	"github.com/vault-ai/control-plane/internal/store"
	"github.com/vault-ai/control-plane/pkg/logger"
)

type state string

const (
	stateUp      state = "up"
	stateDown    state = "down"
	stateUnknown state = "unknown"
)

// statusSource is the subset of *servicemgr.Manager the monitor needs —
// narrowed to an interface so tests can poll a fake allowlist instead of
// shelling out to systemctl.
type statusSource interface {
	ManagedServices() []string
	Status(ctx context.Context, name string) servicemgr.ServiceStatus
}

// Monitor is the background poller. One instance runs for the process
// lifetime; Start seeds last_state with a single unrecorded check, then
// schedules _checkAll on the configured interval via a cron expression of
// the form "@every Ns".
type Monitor struct {
	mgr   statusSource
	store *store.Store
	log   *logger.Logger

	pollInterval time.Duration

	mu        sync.Mutex
	lastState map[string]string
	cron      *cron.Cron
	entryID   cron.EntryID
}

func New(cfg *config.Config, mgr *servicemgr.Manager, st *store.Store, log *logger.Logger) *Monitor {
	interval := time.Duration(cfg.Uptime.PollIntervalSeconds) * time.Second
	if interval <= 0 {
		interval = 30 * time.Second
	}
	return &Monitor{
		mgr:          mgr,
		store:        st,
		log:          log,
		pollInterval: interval,
		lastState:    make(map[string]string),
	}
}

// LastState returns a copy of the current per-service state map.
func (m *Monitor) LastState() map[string]string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]string, len(m.lastState))
	for k, v := range m.lastState {
		out[k] = v
	}
	return out
}

// Start seeds initial state (without recording events) and schedules the
// recurring poll. Safe to call once per Monitor.
func (m *Monitor) Start(ctx context.Context) {
	m.seedInitialState(ctx)

	c := cron.New()
	spec := "@every " + m.pollInterval.String()
	id, err := c.AddFunc(spec, func() { m.checkAll(context.Background()) })
	if err != nil {
		if m.log != nil {
			m.log.WithField("error", err.Error()).Error("uptime monitor failed to schedule poll")
		}
		return
	}
	m.cron = c
	m.entryID = id
	c.Start()

	if m.log != nil {
		m.log.WithField("services", len(m.mgr.ManagedServices())).Info("uptime monitor started")
	}
}

// Stop cancels the recurring poll. Idempotent.
func (m *Monitor) Stop() {
	if m.cron == nil {
		return
	}
	stopCtx := m.cron.Stop()
	<-stopCtx.Done()
	if m.log != nil {
		m.log.Info("uptime monitor stopped")
	}
}

func (m *Monitor) seedInitialState(ctx context.Context) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, svc := range m.mgr.ManagedServices() {
		st := m.mgr.Status(ctx, svc)
		m.lastState[svc] = upOrDown(st.Status)
	}
}

func (m *Monitor) checkAll(ctx context.Context) {
	for _, svc := range m.mgr.ManagedServices() {
		st := m.mgr.Status(ctx, svc)
		newState := upOrDown(st.Status)

		m.mu.Lock()
		oldState := m.lastState[svc]
		if oldState == "" {
			oldState = string(stateUnknown)
		}
		m.mu.Unlock()

		if oldState == newState {
			continue
		}

		if err := m.recordTransition(ctx, svc, oldState, newState); err != nil {
			if m.log != nil {
				m.log.WithField("service", svc).WithField("error", err.Error()).Error("uptime transition record failed")
			}
			continue
		}

		m.mu.Lock()
		m.lastState[svc] = newState
		m.mu.Unlock()
	}
}

// upOrDown collapses a servicemgr.Status into the up/down vocabulary the
// monitor tracks transitions over — "unavailable" (non-Linux, or a failed
// probe) counts as down, matching the original's "running" vs everything
// else comparison.
func upOrDown(s servicemgr.Status) string {
	if s == servicemgr.StatusRunning {
		return string(stateUp)
	}
	return string(stateDown)
}

func (m *Monitor) recordTransition(ctx context.Context, service, oldState, newState string) error {
	now := time.Now().UTC()

	if newState == string(stateDown) {
		_, err := m.store.RecordUptimeEvent(ctx, domain.UptimeEvent{
			ServiceName: service,
			EventType:   domain.UptimeEventDown,
			Timestamp:   now,
			Details:     "transitioned from " + oldState + " to down",
		})
		if err == nil && m.log != nil {
			m.log.WithField("service", service).Warn("service down")
		}
		return err
	}

	// down -> up: RecordUptimeEvent fills in duration_seconds on the most
	// recent open down row as a side effect before inserting this up row.
	_, err := m.store.RecordUptimeEvent(ctx, domain.UptimeEvent{
		ServiceName: service,
		EventType:   domain.UptimeEventUp,
		Timestamp:   now,
		Details:     "recovered",
	})
	if err == nil && m.log != nil {
		m.log.WithField("service", service).Info("service recovered")
	}
	return err
}
