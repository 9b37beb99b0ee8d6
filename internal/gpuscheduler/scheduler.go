// Package gpuscheduler is the exclusive admission controller over the
// appliance's GPU devices: at most one job may hold the GPU slot at a time
// across the process lifetime. Only the training runner acquires the slot;
// evaluation jobs run without acquiring it. The critical section
// (admission check, assignment, release) is protected by a single mutex,
// the same single-writer discipline services/accountpool uses around its
// pool-account locks.
package gpuscheduler

import (
	"context"
	"sync"

	"github.com/vault-ai/control-plane/internal/apierr"
	"github.com/vault-ai/control-plane/internal/config"
	"github.com/vault-ai/control-plane/internal/gpuinfo"
)

// Allocation is one row of the allocation view: a detected GPU and who, if
// anyone, currently holds it.
type Allocation struct {
	GPUIndex      int
	AssignedTo    string // "inference" or "training" — never idle/empty
	JobID         string
	MemoryUsedPct float64
}

// Scheduler tracks which job, if any, currently holds the single GPU slot
// this appliance manages for training/eval work. Inference is assumed to
// hold its own fixed placement outside this scheduler's accounting; the
// scheduler only arbitrates the slot training jobs compete for.
type Scheduler struct {
	mu sync.Mutex

	activeJobID    string
	activeGPUIndex int
	hasActive      bool

	cfg    *config.Config
	reader config.SystemConfigReader
	detect gpuinfo.Detector
}

// New builds a Scheduler. reader may be nil before the store is up, in
// which case admission checks fall back to the bootstrap GPU config.
func New(cfg *config.Config, reader config.SystemConfigReader, detect gpuinfo.Detector) *Scheduler {
	if detect == nil {
		detect = gpuinfo.DetectNVIDIA
	}
	return &Scheduler{cfg: cfg, reader: reader, detect: detect}
}

// CanStart reports whether a new training/eval job may begin right now, and
// why not when it may not. It does not mutate state — acquire re-checks
// under lock before committing.
func (s *Scheduler) CanStart(ctx context.Context) (bool, string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.canStartLocked(ctx)
}

func (s *Scheduler) canStartLocked(ctx context.Context) (bool, string, error) {
	tc := s.cfg.LoadTrainingConfig(ctx, s.reader)
	if !tc.Enabled {
		return false, "training is disabled", nil
	}
	if s.hasActive {
		return false, "a training or evaluation job is already running", nil
	}

	gpus, err := s.detect(ctx)
	if err != nil {
		return false, "", err
	}
	if len(gpus) == 0 {
		// No GPU detected — developer machine. Admission is permitted.
		return true, "", nil
	}

	var target *gpuinfo.GPU
	for i := range gpus {
		if gpus[i].Index == tc.GPUIndex {
			target = &gpus[i]
			break
		}
	}
	if target == nil {
		return false, "configured GPU is not present on this host", nil
	}
	if target.MemoryUsedPct() > tc.MaxMemoryPct {
		return false, "configured GPU memory utilization exceeds the configured threshold", nil
	}
	return true, "", nil
}

// Acquire re-checks admission under the lock and, on success, records the
// job and GPU index as active. Returns a 409-class error on denial.
func (s *Scheduler) Acquire(ctx context.Context, jobID string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	allowed, reason, err := s.canStartLocked(ctx)
	if err != nil {
		return 0, err
	}
	if !allowed {
		return 0, apierr.Conflict(reason)
	}

	tc := s.cfg.LoadTrainingConfig(ctx, s.reader)
	s.activeJobID = jobID
	s.activeGPUIndex = tc.GPUIndex
	s.hasActive = true
	return tc.GPUIndex, nil
}

// Release clears the active job if it matches jobID. It is a no-op
// otherwise — callers release unconditionally in cleanup paths and must
// not error when another job has since taken the slot.
func (s *Scheduler) Release(jobID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.hasActive || s.activeJobID != jobID {
		return
	}
	s.hasActive = false
	s.activeJobID = ""
	s.activeGPUIndex = 0
}

// AllocationView returns one row per detected GPU (or a single synthetic
// row when none are present), reporting which job, if any, holds it.
func (s *Scheduler) AllocationView(ctx context.Context) ([]Allocation, error) {
	s.mu.Lock()
	activeJobID, activeGPUIndex, hasActive := s.activeJobID, s.activeGPUIndex, s.hasActive
	s.mu.Unlock()

	gpus, err := s.detect(ctx)
	if err != nil {
		return nil, err
	}
	if len(gpus) == 0 {
		view := Allocation{GPUIndex: 0, MemoryUsedPct: 0, AssignedTo: "inference"}
		if hasActive && activeGPUIndex == 0 {
			view.AssignedTo = "training"
			view.JobID = activeJobID
		}
		return []Allocation{view}, nil
	}

	out := make([]Allocation, 0, len(gpus))
	for _, g := range gpus {
		a := Allocation{GPUIndex: g.Index, MemoryUsedPct: g.MemoryUsedPct(), AssignedTo: "inference"}
		if hasActive && activeGPUIndex == g.Index {
			a.AssignedTo = "training"
			a.JobID = activeJobID
		}
		out = append(out, a)
	}
	return out, nil
}
