package store

import (
	"context"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"

	"github.com/vault-ai/control-plane/internal/domain"
)

func TestUpdateEvalJobProgress(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectExec("UPDATE eval_jobs SET status = \\$2").
		WithArgs("j1", domain.EvalRunning, 50, sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := s.UpdateEvalJobProgress(context.Background(), "j1", domain.EvalRunning, 50, nil, nil)
	if err != nil {
		t.Fatalf("update eval job progress: %v", err)
	}
}

func TestCreateEvalJob(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectExec("INSERT INTO eval_jobs").
		WillReturnResult(sqlmock.NewResult(0, 1))

	j, err := s.CreateEvalJob(context.Background(), domain.EvalJob{
		Name: "mmlu-smoke", ModelID: "llama-3-8b", DatasetID: "mmlu-sample",
		DatasetType: domain.EvalDatasetBuiltin, Status: domain.EvalQueued,
	})
	if err != nil {
		t.Fatalf("create eval job: %v", err)
	}
	if j.ID == "" {
		t.Fatal("expected generated id")
	}
}
