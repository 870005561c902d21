// Package monitor snapshots host resource usage for /api/monitor.
package monitor

import (
	"context"
	"time"

	"github.com/shirou/gopsutil/v4/cpu"
	"github.com/shirou/gopsutil/v4/disk"
	"github.com/shirou/gopsutil/v4/host"
	"github.com/shirou/gopsutil/v4/mem"
)

// Snapshot is one reading of host resources.
type Snapshot struct {
	CPUPercent    float64 `json:"cpu_percent"`
	MemoryUsed    uint64  `json:"memory_used_bytes"`
	MemoryTotal   uint64  `json:"memory_total_bytes"`
	MemoryPercent float64 `json:"memory_percent"`
	DiskUsed      uint64  `json:"disk_used_bytes"`
	DiskTotal     uint64  `json:"disk_total_bytes"`
	DiskPercent   float64 `json:"disk_percent"`
	HostUptime    uint64  `json:"host_uptime_seconds"`
}

// Read collects a snapshot. Individual probe failures leave zero values
// rather than failing the whole reading; the monitor page degrades field by
// field.
func Read(ctx context.Context, diskPath string) Snapshot {
	var snap Snapshot

	if percents, err := cpu.PercentWithContext(ctx, 200*time.Millisecond, false); err == nil && len(percents) > 0 {
		snap.CPUPercent = percents[0]
	}
	if vm, err := mem.VirtualMemoryWithContext(ctx); err == nil {
		snap.MemoryUsed = vm.Used
		snap.MemoryTotal = vm.Total
		snap.MemoryPercent = vm.UsedPercent
	}
	if diskPath == "" {
		diskPath = "/"
	}
	if du, err := disk.UsageWithContext(ctx, diskPath); err == nil {
		snap.DiskUsed = du.Used
		snap.DiskTotal = du.Total
		snap.DiskPercent = du.UsedPercent
	}
	if up, err := host.UptimeWithContext(ctx); err == nil {
		snap.HostUptime = up
	}
	return snap
}
