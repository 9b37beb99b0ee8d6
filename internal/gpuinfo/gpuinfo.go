// Package gpuinfo detects GPU devices and host resource usage for the
// scheduler's admission checks and the /vault/system/resources,gpu
// endpoints. GPU enumeration shells out to nvidia-smi rather than binding
// NVML directly — there is no NVML Go binding anywhere in this tree's
// dependency surface, and nvidia-smi's CSV output is stable across driver
// versions, which matters more here than shaving a subprocess spawn.
package gpuinfo

import (
	"bytes"
	"context"
	"encoding/csv"
	"fmt"
	"os/exec"
	"strconv"
	"strings"
)

// GPU is one detected device's instantaneous memory usage.
type GPU struct {
	Index          int
	Name           string
	MemoryUsedMB   int64
	MemoryTotalMB  int64
	UtilizationPct float64
}

// MemoryUsedPct is used-memory as a percentage of total, the figure the
// scheduler's admission check compares against its configured threshold.
func (g GPU) MemoryUsedPct() float64 {
	if g.MemoryTotalMB == 0 {
		return 0
	}
	return 100 * float64(g.MemoryUsedMB) / float64(g.MemoryTotalMB)
}

// Detector enumerates GPU devices. Production wires nvidia-smi; tests and
// developer machines without a GPU wire a stub that returns an empty slice.
type Detector func(ctx context.Context) ([]GPU, error)

// DetectNVIDIA runs `nvidia-smi --query-gpu=... --format=csv,noheader,nounits`
// and parses its CSV output. Absence of the binary is not an error — it
// means this host has no NVIDIA GPU, matching the spec's "when no GPU is
// detected (developer machine), admission is permitted" rule.
func DetectNVIDIA(ctx context.Context) ([]GPU, error) {
	if _, err := exec.LookPath("nvidia-smi"); err != nil {
		return nil, nil
	}

	cmd := exec.CommandContext(ctx, "nvidia-smi",
		"--query-gpu=index,name,memory.used,memory.total,utilization.gpu",
		"--format=csv,noheader,nounits")
	var stdout bytes.Buffer
	cmd.Stdout = &stdout
	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("run nvidia-smi: %w", err)
	}

	reader := csv.NewReader(&stdout)
	reader.TrimLeadingSpace = true
	records, err := reader.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("parse nvidia-smi output: %w", err)
	}

	gpus := make([]GPU, 0, len(records))
	for _, rec := range records {
		if len(rec) < 5 {
			continue
		}
		index, err := strconv.Atoi(strings.TrimSpace(rec[0]))
		if err != nil {
			continue
		}
		usedMB, _ := strconv.ParseInt(strings.TrimSpace(rec[2]), 10, 64)
		totalMB, _ := strconv.ParseInt(strings.TrimSpace(rec[3]), 10, 64)
		util, _ := strconv.ParseFloat(strings.TrimSpace(rec[4]), 64)
		gpus = append(gpus, GPU{
			Index: index, Name: strings.TrimSpace(rec[1]),
			MemoryUsedMB: usedMB, MemoryTotalMB: totalMB, UtilizationPct: util,
		})
	}
	return gpus, nil
}

// StaticDetector returns a Detector that always yields the given set —
// used by tests to simulate specific GPU configurations without shelling
// out.
func StaticDetector(gpus []GPU) Detector {
	return func(ctx context.Context) ([]GPU, error) { return gpus, nil }
}
