package gpuinfo

import (
	"context"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/disk"
	"github.com/shirou/gopsutil/v3/mem"
)

// HostStats backs the /vault/system/resources endpoint: CPU, memory and
// disk figures for the appliance host itself, independent of GPU state.
type HostStats struct {
	CPUPercent    float64
	MemoryUsedPct float64
	MemoryUsedMB  uint64
	MemoryTotalMB uint64
	DiskUsedPct   float64
	DiskUsedGB    float64
	DiskTotalGB   float64
}

// CollectHostStats samples CPU over a short window and reads the current
// memory/disk snapshot, grounded on the same gopsutil calls the teacher
// pulls in for its own host-health surface.
func CollectHostStats(ctx context.Context, diskPath string) (HostStats, error) {
	var stats HostStats

	cpuPercents, err := cpu.PercentWithContext(ctx, 0, false)
	if err != nil {
		return stats, err
	}
	if len(cpuPercents) > 0 {
		stats.CPUPercent = cpuPercents[0]
	}

	vm, err := mem.VirtualMemoryWithContext(ctx)
	if err != nil {
		return stats, err
	}
	stats.MemoryUsedPct = vm.UsedPercent
	stats.MemoryUsedMB = vm.Used / (1024 * 1024)
	stats.MemoryTotalMB = vm.Total / (1024 * 1024)

	if diskPath == "" {
		diskPath = "/"
	}
	du, err := disk.UsageWithContext(ctx, diskPath)
	if err != nil {
		return stats, err
	}
	stats.DiskUsedPct = du.UsedPercent
	stats.DiskUsedGB = float64(du.Used) / (1024 * 1024 * 1024)
	stats.DiskTotalGB = float64(du.Total) / (1024 * 1024 * 1024)

	return stats, nil
}
