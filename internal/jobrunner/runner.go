// Package jobrunner supervises the single child process that performs
// training or evaluation work. One Runner instance is training-flavored,
// another eval-flavored — same type, same supervision loop, differing only
// in which worker entrypoint they spawn and which store rows they update.
// The supervision loop follows the same ticker/stopCh shape
// services/accountpool uses for its background workers, just driven by a
// process exit instead of a fixed schedule.
package jobrunner

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/vault-ai/control-plane/internal/apierr"
	"github.com/vault-ai/control-plane/internal/config"
	"github.com/vault-ai/control-plane/internal/domain"
	"github.com/vault-ai/control-plane/internal/gpuscheduler"
	"github.com/vault-ai/control-plane/internal/store"
	"github.com/vault-ai/control-plane/pkg/logger"
)

const (
	maxErrorLen     = 2000
	stderrTailBytes = 4096
	pausedExitCode  = 42
)

// Kind distinguishes the two workloads a Runner can supervise.
type Kind string

const (
	KindTraining Kind = "training"
	KindEval     Kind = "eval"
)

// Runner supervises at most one child process at a time for its workload.
type Runner struct {
	kind      Kind
	cfg       config.JobRunnerConfig
	store     *store.Store
	scheduler *gpuscheduler.Scheduler // nil for eval: only training jobs compete for the GPU slot
	log       *logger.Logger

	mu              sync.Mutex
	activeJobID     string
	activeGPUIndex  int
	cancelRequested bool
	process         *os.Process
}

// NewTrainingRunner builds the training-workload Runner. It is the only
// instance that acquires a GPU through the scheduler and the only one that
// honors PauseJob.
func NewTrainingRunner(cfg *config.Config, st *store.Store, sched *gpuscheduler.Scheduler, log *logger.Logger) *Runner {
	return &Runner{kind: KindTraining, cfg: cfg.JobRunner, store: st, scheduler: sched, log: log}
}

// NewEvalRunner builds the evaluation-workload Runner.
func NewEvalRunner(cfg *config.Config, st *store.Store, log *logger.Logger) *Runner {
	return &Runner{kind: KindEval, cfg: cfg.JobRunner, store: st, log: log}
}

// ActiveJobID reports the job currently under supervision, or "" if idle.
func (r *Runner) ActiveJobID() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.activeJobID
}

func (r *Runner) statusDir(jobID string) string {
	return filepath.Join(r.cfg.StatusDirRoot, string(r.kind), jobID)
}

// StartJob spawns the worker process for jobID and begins supervising it.
// It returns once the child has started; supervision continues in the
// background until the child exits or CancelJob/PauseJob ends it early.
func (r *Runner) StartJob(ctx context.Context, jobID string, runConfig json.RawMessage) error {
	r.mu.Lock()
	if r.activeJobID != "" {
		r.mu.Unlock()
		return apierr.Conflict("job_conflict")
	}
	r.activeJobID = jobID
	r.cancelRequested = false
	r.mu.Unlock()

	gpuIndex := -1
	if r.scheduler != nil {
		idx, err := r.scheduler.Acquire(ctx, jobID)
		if err != nil {
			r.clearActive()
			return err
		}
		gpuIndex = idx
	}

	statusDir := r.statusDir(jobID)
	if err := os.MkdirAll(statusDir, 0o755); err != nil {
		r.releaseAndClear(jobID)
		return fmt.Errorf("create status dir: %w", err)
	}
	if err := writeConfigFile(filepath.Join(statusDir, "config.json"), runConfig); err != nil {
		r.releaseAndClear(jobID)
		return fmt.Errorf("write run config: %w", err)
	}

	now := time.Now().UTC()
	if err := r.markRunning(ctx, jobID, now); err != nil {
		r.releaseAndClear(jobID)
		return err
	}

	interpreter, script := r.cfg.TrainingInterpreter, r.cfg.TrainingScript
	if r.kind == KindEval {
		interpreter, script = r.cfg.EvalInterpreter, r.cfg.EvalScript
	}

	cmdCtx, cancel := context.WithCancel(context.Background())
	cmd := exec.CommandContext(cmdCtx, interpreter, script, "--status-dir", statusDir)
	env := os.Environ()
	if gpuIndex >= 0 {
		env = append(env, fmt.Sprintf("CUDA_VISIBLE_DEVICES=%d", gpuIndex))
	}
	cmd.Env = env

	stderr := newTailWriter(stderrTailBytes)
	cmd.Stderr = stderr

	if err := cmd.Start(); err != nil {
		cancel()
		r.releaseAndClear(jobID)
		return apierr.Internal("failed to start worker process", err)
	}

	r.mu.Lock()
	r.activeGPUIndex = gpuIndex
	r.process = cmd.Process
	r.mu.Unlock()

	if r.log != nil {
		r.log.WithField("job_id", jobID).WithField("kind", string(r.kind)).Info("worker process started")
	}

	go r.supervise(jobID, statusDir, cmd, stderr, cancel)
	return nil
}

// CancelJob sends the portable terminate signal to the active job's child
// if jobID matches. Idempotent: calling it again, or calling it for a job
// that isn't active, is a no-op.
func (r *Runner) CancelJob(jobID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.activeJobID != jobID {
		return nil
	}
	r.cancelRequested = true
	return r.signalLocked(syscall.SIGTERM)
}

// PauseJob sends the user-defined pause signal. Training only: the worker
// is required to checkpoint and exit 42, which the supervisor records as
// paused rather than failed or cancelled.
func (r *Runner) PauseJob(jobID string) error {
	if r.kind != KindTraining {
		return apierr.InvalidInput("kind", "only training jobs support pause")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.activeJobID != jobID {
		return nil
	}
	return r.signalLocked(syscall.SIGUSR1)
}

// signalLocked must be called with r.mu held.
func (r *Runner) signalLocked(sig syscall.Signal) error {
	if r.process == nil {
		return nil
	}
	return r.process.Signal(sig)
}

func (r *Runner) markRunning(ctx context.Context, jobID string, startedAt time.Time) error {
	if r.kind == KindTraining {
		return r.store.UpdateTrainingJobStatus(ctx, jobID, domain.TrainingRunning, 0, "", &startedAt, nil)
	}
	return r.store.MarkEvalJobRunning(ctx, jobID, startedAt)
}

func (r *Runner) clearActive() {
	r.mu.Lock()
	r.activeJobID = ""
	r.activeGPUIndex = 0
	r.process = nil
	r.mu.Unlock()
}

func (r *Runner) releaseAndClear(jobID string) {
	if r.scheduler != nil {
		r.scheduler.Release(jobID)
	}
	r.clearActive()
}

// supervise polls status.json every PollIntervalSeconds and waits for the
// child to exit. The GPU release and active-job clear happen in a defer so
// they run on every exit path, including one where persisting the final
// status itself fails.
func (r *Runner) supervise(jobID, statusDir string, cmd *exec.Cmd, stderr *tailWriter, cancelCmd context.CancelFunc) {
	ctx := context.Background()
	defer cancelCmd()
	defer r.releaseAndClear(jobID)

	interval := time.Duration(r.cfg.PollIntervalSeconds) * time.Second
	if interval <= 0 {
		interval = 2 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	waitCh := make(chan error, 1)
	go func() { waitCh <- cmd.Wait() }()

	for {
		select {
		case <-ticker.C:
			r.pollOnce(ctx, jobID, statusDir)
		case waitErr := <-waitCh:
			r.finish(ctx, jobID, statusDir, waitErr, stderr)
			return
		}
	}
}

// pollOnce reads the status file and projects it into the job row.
// Malformed or transiently partial JSON is tolerated: the supervisor skips
// this tick and retries on the next, per spec.
func (r *Runner) pollOnce(ctx context.Context, jobID, statusDir string) {
	sf, err := readStatusFile(filepath.Join(statusDir, "status.json"))
	if err != nil {
		return
	}

	progress := sf.Progress()
	if r.kind == KindTraining {
		metrics, _ := json.Marshal(map[string]any{
			"last_loss":        sf.LastLoss,
			"learning_rate":    sf.LearningRate,
			"tokens_processed": sf.TokensProcessed,
			"eta_seconds":      sf.ETASeconds,
			"loss_history":     sf.recentLossHistory(),
		})
		_ = r.store.UpdateTrainingJobMetrics(ctx, jobID, metrics, nil)
		_ = r.store.UpdateTrainingJobStatus(ctx, jobID, domain.TrainingRunning, progress, "", nil, nil)
		return
	}
	_ = r.store.UpdateEvalJobProgress(ctx, jobID, domain.EvalRunning, sf.ExamplesCompleted, nil, nil)
}

// finish persists the terminal outcome once the child has exited.
func (r *Runner) finish(ctx context.Context, jobID, statusDir string, waitErr error, stderr *tailWriter) {
	r.mu.Lock()
	cancelRequested := r.cancelRequested
	r.mu.Unlock()

	now := time.Now().UTC()
	sf, _ := readStatusFile(filepath.Join(statusDir, "status.json"))

	switch {
	case waitErr == nil:
		r.finishSuccess(ctx, jobID, sf, now)
	case exitCode(waitErr) == pausedExitCode && r.kind == KindTraining:
		_ = r.store.UpdateTrainingJobStatus(ctx, jobID, domain.TrainingPaused, sf.Progress(), "", nil, nil)
	case cancelRequested:
		r.finishCancelled(ctx, jobID, now)
	default:
		r.finishFailed(ctx, jobID, sf, stderr, now)
	}
}

func (r *Runner) finishSuccess(ctx context.Context, jobID string, sf StatusFile, now time.Time) {
	if r.kind == KindTraining {
		_ = r.store.UpdateTrainingJobStatus(ctx, jobID, domain.TrainingCompleted, 100, "", nil, &now)
		if sf.AdapterID != "" {
			_ = r.store.SetTrainingJobAdapter(ctx, jobID, sf.AdapterID)
		}
		return
	}
	_ = r.store.UpdateEvalJobProgress(ctx, jobID, domain.EvalCompleted, sf.TotalExamples, sf.Results, &now)
}

func (r *Runner) finishCancelled(ctx context.Context, jobID string, now time.Time) {
	if r.kind == KindTraining {
		_ = r.store.UpdateTrainingJobStatus(ctx, jobID, domain.TrainingCancelled, 0, "", nil, &now)
		return
	}
	_ = r.store.UpdateEvalJobProgress(ctx, jobID, domain.EvalCancelled, 0, nil, &now)
}

func (r *Runner) finishFailed(ctx context.Context, jobID string, sf StatusFile, stderr *tailWriter, now time.Time) {
	errMsg := sf.Error
	if errMsg == "" {
		errMsg = stderr.String()
	}
	errMsg = rewriteCUDAOutOfMemory(errMsg)
	if len(errMsg) > maxErrorLen {
		errMsg = errMsg[:maxErrorLen]
	}

	if r.kind == KindTraining {
		_ = r.store.UpdateTrainingJobStatus(ctx, jobID, domain.TrainingFailed, sf.Progress(), errMsg, nil, &now)
		return
	}
	// EvalJob has no dedicated error column; the error rides in results_blob
	// the same way a successful run's results do.
	errBlob, _ := json.Marshal(map[string]string{"error": errMsg})
	_ = r.store.UpdateEvalJobProgress(ctx, jobID, domain.EvalFailed, sf.ExamplesCompleted, errBlob, &now)
}

// rewriteCUDAOutOfMemory turns the raw CUDA allocator error into actionable
// guidance rather than surfacing the allocator's own dump to the operator.
func rewriteCUDAOutOfMemory(msg string) string {
	if strings.Contains(msg, "CUDA out of memory") {
		return "training ran out of GPU memory; reduce batch size or enable gradient checkpointing and retry: " + msg
	}
	return msg
}

// exitCode extracts a process exit code from cmd.Wait()'s error, or -1 if
// the process was killed by a signal rather than exiting normally.
func exitCode(err error) int {
	var exitErr *exec.ExitError
	if !errors.As(err, &exitErr) {
		return -1
	}
	return exitErr.ExitCode()
}
