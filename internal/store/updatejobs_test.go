package store

import (
	"context"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"

	"github.com/vault-ai/control-plane/internal/domain"
)

func TestCreateUpdateJob(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectExec("INSERT INTO update_jobs").
		WillReturnResult(sqlmock.NewResult(0, 1))

	j, err := s.CreateUpdateJob(context.Background(), domain.UpdateJob{
		Status: domain.UpdateJobPending, BundleVersion: "2.4.0", FromVersion: "2.3.1",
	})
	if err != nil {
		t.Fatalf("create update job: %v", err)
	}
	if j.ID == "" {
		t.Fatal("expected generated id")
	}
}

func TestUpdateUpdateJobProgress(t *testing.T) {
	s, mock := newMockStore(t)

	steps := []domain.UpdateStep{{Name: "verify_signature", Status: "completed"}}
	mock.ExpectExec("UPDATE update_jobs SET status = \\$2").
		WithArgs("j1", domain.UpdateJobRunning, 40, sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := s.UpdateUpdateJobProgress(context.Background(), "j1", domain.UpdateJobRunning, 40, "extract_bundle", steps, nil)
	if err != nil {
		t.Fatalf("update update job progress: %v", err)
	}
}

func TestFinishUpdateJobRollback(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectExec("UPDATE update_jobs SET status = \\$2").
		WithArgs("j1", domain.UpdateJobRolledBack, sqlmock.AnyArg(), "/var/backups/2.3.1", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := s.FinishUpdateJob(context.Background(), "j1", domain.UpdateJobRolledBack, "migration failed", "/var/backups/2.3.1")
	if err != nil {
		t.Fatalf("finish update job: %v", err)
	}
}
