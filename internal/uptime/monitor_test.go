package uptime

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"

	"github.com/vault-ai/control-plane/internal/config"
	"github.com/vault-ai/control-plane/internal/servicemgr"
	"github.com/vault-ai/control-plane/internal/store"
	"github.com/vault-ai/control-plane/pkg/logger"
)

type fakeStatusSource struct {
	services []string
	status   map[string]servicemgr.Status
}

func (f *fakeStatusSource) ManagedServices() []string { return f.services }

func (f *fakeStatusSource) Status(ctx context.Context, name string) servicemgr.ServiceStatus {
	return servicemgr.ServiceStatus{Name: name, Status: f.status[name]}
}

func newTestMonitor(t *testing.T, fake *fakeStatusSource) (*Monitor, sqlmock.Sqlmock, *sql.DB) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock new: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	cfg := &config.Config{}
	cfg.Uptime = config.UptimeConfig{PollIntervalSeconds: 30, WindowHours: 720}

	m := New(cfg, nil, store.New(db), logger.New(logger.Config{Level: "error"}))
	m.mgr = fake
	return m, mock, db
}

func TestSeedInitialStateRecordsNoEvents(t *testing.T) {
	fake := &fakeStatusSource{
		services: []string{"caddy", "vault-vllm"},
		status:   map[string]servicemgr.Status{"caddy": servicemgr.StatusRunning, "vault-vllm": servicemgr.StatusStopped},
	}
	m, _, _ := newTestMonitor(t, fake)

	m.seedInitialState(context.Background())

	state := m.LastState()
	if state["caddy"] != "up" || state["vault-vllm"] != "down" {
		t.Fatalf("unexpected seeded state: %+v", state)
	}
}

func TestCheckAllRecordsDownTransition(t *testing.T) {
	fake := &fakeStatusSource{
		services: []string{"caddy"},
		status:   map[string]servicemgr.Status{"caddy": servicemgr.StatusStopped},
	}
	m, mock, _ := newTestMonitor(t, fake)
	m.lastState["caddy"] = "up"

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO uptime_events").WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	m.checkAll(context.Background())

	if m.LastState()["caddy"] != "down" {
		t.Fatalf("expected state to flip to down")
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestCheckAllSkipsUnchangedState(t *testing.T) {
	fake := &fakeStatusSource{
		services: []string{"caddy"},
		status:   map[string]servicemgr.Status{"caddy": servicemgr.StatusRunning},
	}
	m, mock, _ := newTestMonitor(t, fake)
	m.lastState["caddy"] = "up"

	m.checkAll(context.Background())

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expected no DB calls for unchanged state: %v", err)
	}
}

func TestUpOrDownCollapsesUnavailableToDown(t *testing.T) {
	if upOrDown(servicemgr.StatusUnavailable) != "down" {
		t.Fatal("expected unavailable to collapse to down")
	}
	if upOrDown(servicemgr.StatusRunning) != "up" {
		t.Fatal("expected running to collapse to up")
	}
}

func TestRecordTransitionUpFillsDuration(t *testing.T) {
	fake := &fakeStatusSource{services: []string{"caddy"}}
	m, mock, _ := newTestMonitor(t, fake)

	mock.ExpectBegin()
	mock.ExpectQuery("SELECT id, timestamp FROM uptime_events").
		WillReturnRows(sqlmock.NewRows([]string{"id", "timestamp"}).AddRow("evt-1", time.Now().UTC().Add(-time.Minute)))
	mock.ExpectExec("UPDATE uptime_events SET duration_seconds").WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec("INSERT INTO uptime_events").WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	if err := m.recordTransition(context.Background(), "caddy", "down", "up"); err != nil {
		t.Fatalf("recordTransition: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}
