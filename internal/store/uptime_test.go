package store

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"

	"github.com/vault-ai/control-plane/internal/domain"
)

func TestRecordUptimeEventPairsDowntime(t *testing.T) {
	s, mock := newMockStore(t)

	downAt := time.Now().Add(-5 * time.Minute).UTC()

	mock.ExpectBegin()
	mock.ExpectQuery("SELECT id, timestamp FROM uptime_events").
		WithArgs("inference-gateway").
		WillReturnRows(sqlmock.NewRows([]string{"id", "timestamp"}).AddRow("down-1", downAt))
	mock.ExpectExec("UPDATE uptime_events SET duration_seconds = \\$2 WHERE id = \\$1").
		WithArgs("down-1", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("INSERT INTO uptime_events").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	e, err := s.RecordUptimeEvent(context.Background(), domain.UptimeEvent{
		ServiceName: "inference-gateway", EventType: domain.UptimeEventUp,
	})
	if err != nil {
		t.Fatalf("record uptime event: %v", err)
	}
	if e.DurationSeconds == nil {
		t.Fatal("expected paired downtime to be filled in")
	}
}

func TestAvailabilityFullWindow(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectQuery("SELECT COALESCE\\(SUM\\(duration_seconds\\), 0\\)").
		WithArgs("inference-gateway", sqlmock.AnyArg()).
		WillReturnRows(sqlmock.NewRows([]string{"sum"}).AddRow(int64(0)))
	mock.ExpectQuery("SELECT timestamp FROM uptime_events").
		WithArgs("inference-gateway").
		WillReturnError(sql.ErrNoRows)

	avail, err := s.Availability(context.Background(), "inference-gateway", time.Now().Add(-24*time.Hour))
	if err != nil {
		t.Fatalf("availability: %v", err)
	}
	if avail != 100 {
		t.Fatalf("expected 100%% availability, got %v", avail)
	}
}
