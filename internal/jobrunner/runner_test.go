package jobrunner

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"

	"github.com/vault-ai/control-plane/internal/config"
	"github.com/vault-ai/control-plane/internal/domain"
	"github.com/vault-ai/control-plane/internal/gpuinfo"
	"github.com/vault-ai/control-plane/internal/gpuscheduler"
	"github.com/vault-ai/control-plane/internal/store"
)

func newMockStore(t *testing.T) (*store.Store, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock new: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return store.New(db), mock
}

func testRunnerConfig(t *testing.T, interpreter, scriptBody string) config.JobRunnerConfig {
	t.Helper()
	dir := t.TempDir()
	scriptPath := filepath.Join(dir, "worker.sh")
	if err := os.WriteFile(scriptPath, []byte(scriptBody), 0o755); err != nil {
		t.Fatalf("write worker script: %v", err)
	}
	return config.JobRunnerConfig{
		StatusDirRoot:       filepath.Join(dir, "status"),
		TrainingInterpreter: interpreter,
		TrainingScript:      scriptPath,
		EvalInterpreter:     interpreter,
		EvalScript:          scriptPath,
		PollIntervalSeconds: 1,
	}
}

func waitUntilIdle(t *testing.T, r *Runner) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if r.ActiveJobID() == "" {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("timed out waiting for supervisor to finish")
}

const successScript = `#!/bin/sh
cat > "$2/status.json" <<'EOF'
{"step":10,"total_steps":10,"last_loss":0.1,"adapter_id":"adapter-xyz"}
EOF
exit 0
`

const failScript = `#!/bin/sh
cat > "$2/status.json" <<'EOF'
{"step":2,"total_steps":10,"error":"CUDA out of memory: tried to allocate 2.00 GiB"}
EOF
exit 1
`

func TestStartJobRejectsConflict(t *testing.T) {
	s, _ := newMockStore(t)
	cfg := &config.Config{JobRunner: testRunnerConfig(t, "/bin/sh", successScript)}
	sched := gpuscheduler.New(cfg, nil, gpuinfo.StaticDetector(nil))
	r := NewTrainingRunner(cfg, s, sched, nil)
	r.activeJobID = "already-running"

	err := r.StartJob(context.Background(), "job-2", nil)
	if err == nil {
		t.Fatal("expected job_conflict error")
	}
}

func TestStartJobRunsToCompletion(t *testing.T) {
	s, mock := newMockStore(t)
	cfg := &config.Config{JobRunner: testRunnerConfig(t, "/bin/sh", successScript)}
	sched := gpuscheduler.New(cfg, nil, gpuinfo.StaticDetector(nil))
	r := NewTrainingRunner(cfg, s, sched, nil)

	mock.ExpectExec("UPDATE training_jobs SET status = \\$2").
		WithArgs("job-1", domain.TrainingRunning, 0.0, sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("UPDATE training_jobs SET metrics_blob").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("UPDATE training_jobs SET status = \\$2").
		WithArgs("job-1", domain.TrainingCompleted, 100.0, sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("UPDATE training_jobs SET adapter_id").
		WithArgs("job-1", "adapter-xyz", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))

	if err := r.StartJob(context.Background(), "job-1", []byte(`{}`)); err != nil {
		t.Fatalf("StartJob: %v", err)
	}
	waitUntilIdle(t, r)
}

func TestStartJobPersistsFailureWithRewrittenCUDAMessage(t *testing.T) {
	s, mock := newMockStore(t)
	cfg := &config.Config{JobRunner: testRunnerConfig(t, "/bin/sh", failScript)}
	sched := gpuscheduler.New(cfg, nil, gpuinfo.StaticDetector(nil))
	r := NewTrainingRunner(cfg, s, sched, nil)

	mock.ExpectExec("UPDATE training_jobs SET status = \\$2").
		WithArgs("job-1", domain.TrainingRunning, 0.0, sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("UPDATE training_jobs SET status = \\$2").
		WithArgs("job-1", domain.TrainingFailed, sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))

	if err := r.StartJob(context.Background(), "job-1", []byte(`{}`)); err != nil {
		t.Fatalf("StartJob: %v", err)
	}
	waitUntilIdle(t, r)
}

func TestRewriteCUDAOutOfMemory(t *testing.T) {
	got := rewriteCUDAOutOfMemory("CUDA out of memory: tried to allocate 2.00 GiB")
	if got == "CUDA out of memory: tried to allocate 2.00 GiB" {
		t.Fatal("expected the raw allocator message to be rewritten")
	}
}

func TestRewriteCUDAOutOfMemoryLeavesOtherErrorsUntouched(t *testing.T) {
	msg := "dataset file not found"
	if got := rewriteCUDAOutOfMemory(msg); got != msg {
		t.Fatalf("expected unrelated errors untouched, got %q", got)
	}
}

func TestStatusFileProgressFromSteps(t *testing.T) {
	sf := StatusFile{Step: 25, TotalSteps: 100}
	if got := sf.Progress(); got != 25 {
		t.Fatalf("expected 25%%, got %v", got)
	}
}

func TestStatusFileProgressFromExamples(t *testing.T) {
	sf := StatusFile{ExamplesCompleted: 3, TotalExamples: 12}
	if got := sf.Progress(); got != 25 {
		t.Fatalf("expected 25%%, got %v", got)
	}
}

func TestRecentLossHistoryCapsAt100(t *testing.T) {
	history := make([]float64, 150)
	for i := range history {
		history[i] = float64(i)
	}
	sf := StatusFile{LossHistory: history}
	got := sf.recentLossHistory()
	if len(got) != 100 {
		t.Fatalf("expected 100 entries, got %d", len(got))
	}
	if got[0] != 50 {
		t.Fatalf("expected history to keep the most recent 100, got first=%v", got[0])
	}
}

func TestTailWriterKeepsOnlyLastNBytes(t *testing.T) {
	w := newTailWriter(8)
	w.Write([]byte("0123456789"))
	if got := w.String(); got != "23456789" {
		t.Fatalf("expected last 8 bytes, got %q", got)
	}
}
