package store

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"

	"github.com/vault-ai/control-plane/internal/domain"
)

func TestUpdateTrainingJobStatusSetsStartedAtOnce(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectExec("UPDATE training_jobs SET status = \\$2").
		WithArgs("j1", domain.TrainingRunning, 10.0, sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))

	now := time.Now().UTC()
	err := s.UpdateTrainingJobStatus(context.Background(), "j1", domain.TrainingRunning, 10.0, "", &now, nil)
	if err != nil {
		t.Fatalf("update training job status: %v", err)
	}
}

func TestListActiveTrainingJobs(t *testing.T) {
	s, mock := newMockStore(t)

	now := time.Now().UTC()
	cols := []string{"id", "name", "status", "progress", "model", "dataset", "config_blob", "metrics_blob",
		"resource_blob", "error", "adapter_type", "adapter_config_blob", "adapter_id", "created_at",
		"updated_at", "started_at", "completed_at"}
	mock.ExpectQuery("SELECT (.+) FROM training_jobs WHERE status IN \\('queued','running','paused'\\)").
		WillReturnRows(sqlmock.NewRows(cols).AddRow("j1", "lora-run-1", domain.TrainingRunning, 42.5,
			"llama-3-8b", "internal-dataset-1", []byte(`{}`), []byte(`{}`), []byte(`{}`), nil,
			domain.AdapterLoRA, nil, nil, now, now, now, nil))

	out, err := s.ListActiveTrainingJobs(context.Background())
	if err != nil {
		t.Fatalf("list active training jobs: %v", err)
	}
	if len(out) != 1 || !out[0].IsActive() {
		t.Fatalf("unexpected result: %+v", out)
	}
}
