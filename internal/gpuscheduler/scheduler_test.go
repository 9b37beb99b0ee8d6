package gpuscheduler

import (
	"context"
	"testing"

	"github.com/vault-ai/control-plane/internal/config"
	"github.com/vault-ai/control-plane/internal/gpuinfo"
)

func testConfig() *config.Config {
	cfg := &config.Config{}
	cfg.GPU.DeviceIndex = 0
	cfg.GPU.MemoryThresholdPct = 90
	return cfg
}

func TestCanStartNoGPUPermitsDeveloperMachine(t *testing.T) {
	s := New(testConfig(), nil, gpuinfo.StaticDetector(nil))

	allowed, reason, err := s.CanStart(context.Background())
	if err != nil {
		t.Fatalf("CanStart: %v", err)
	}
	if !allowed {
		t.Fatalf("expected admission on a GPU-less host, got denied: %s", reason)
	}
}

func TestCanStartDeniesWhenAlreadyActive(t *testing.T) {
	s := New(testConfig(), nil, gpuinfo.StaticDetector(nil))

	if _, err := s.Acquire(context.Background(), "job-1"); err != nil {
		t.Fatalf("Acquire: %v", err)
	}

	allowed, reason, err := s.CanStart(context.Background())
	if err != nil {
		t.Fatalf("CanStart: %v", err)
	}
	if allowed {
		t.Fatal("expected denial while a job is active")
	}
	if reason == "" {
		t.Fatal("expected a denial reason")
	}
}

func TestCanStartDeniesMissingConfiguredGPU(t *testing.T) {
	gpus := []gpuinfo.GPU{{Index: 1, Name: "other", MemoryUsedMB: 0, MemoryTotalMB: 40000}}
	s := New(testConfig(), nil, gpuinfo.StaticDetector(gpus))

	allowed, reason, err := s.CanStart(context.Background())
	if err != nil {
		t.Fatalf("CanStart: %v", err)
	}
	if allowed {
		t.Fatal("expected denial when configured GPU index is absent")
	}
	if reason == "" {
		t.Fatal("expected a denial reason")
	}
}

func TestCanStartDeniesOverMemoryThreshold(t *testing.T) {
	gpus := []gpuinfo.GPU{{Index: 0, Name: "A100", MemoryUsedMB: 39000, MemoryTotalMB: 40000}}
	s := New(testConfig(), nil, gpuinfo.StaticDetector(gpus))

	allowed, _, err := s.CanStart(context.Background())
	if err != nil {
		t.Fatalf("CanStart: %v", err)
	}
	if allowed {
		t.Fatal("expected denial when GPU memory usage exceeds threshold")
	}
}

func TestAcquireReleaseRoundTrip(t *testing.T) {
	gpus := []gpuinfo.GPU{{Index: 0, Name: "A100", MemoryUsedMB: 1000, MemoryTotalMB: 40000}}
	s := New(testConfig(), nil, gpuinfo.StaticDetector(gpus))

	idx, err := s.Acquire(context.Background(), "job-1")
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	if idx != 0 {
		t.Fatalf("expected GPU index 0, got %d", idx)
	}

	if _, err := s.Acquire(context.Background(), "job-2"); err == nil {
		t.Fatal("expected second acquire to be denied while job-1 holds the slot")
	}

	s.Release("job-2")
	if !s.hasActive {
		t.Fatal("release of a non-holding job must not clear the active holder")
	}

	s.Release("job-1")
	if s.hasActive {
		t.Fatal("expected release to clear the active holder")
	}

	if _, err := s.Acquire(context.Background(), "job-3"); err != nil {
		t.Fatalf("expected acquire to succeed after release, got %v", err)
	}
}

func TestAllocationViewReportsHolder(t *testing.T) {
	gpus := []gpuinfo.GPU{{Index: 0, Name: "A100", MemoryUsedMB: 2000, MemoryTotalMB: 40000}}
	s := New(testConfig(), nil, gpuinfo.StaticDetector(gpus))

	if _, err := s.Acquire(context.Background(), "job-1"); err != nil {
		t.Fatalf("Acquire: %v", err)
	}

	view, err := s.AllocationView(context.Background())
	if err != nil {
		t.Fatalf("AllocationView: %v", err)
	}
	if len(view) != 1 {
		t.Fatalf("expected one allocation row, got %d", len(view))
	}
	if view[0].AssignedTo != "training" || view[0].JobID != "job-1" {
		t.Fatalf("expected job-1 to hold GPU 0, got %+v", view[0])
	}
}

func TestAllocationViewNoGPUSynthesizesRow(t *testing.T) {
	s := New(testConfig(), nil, gpuinfo.StaticDetector(nil))

	view, err := s.AllocationView(context.Background())
	if err != nil {
		t.Fatalf("AllocationView: %v", err)
	}
	if len(view) != 1 {
		t.Fatalf("expected one synthetic row, got %d", len(view))
	}
	if view[0].AssignedTo != "inference" {
		t.Fatalf("expected inference-assigned synthetic row, got %+v", view[0])
	}
}
