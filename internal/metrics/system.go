// Package metrics collects device resource health for the control surface
// and for deciding whether an update can proceed.
package metrics

import (
	"context"
	"time"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/disk"
	"github.com/shirou/gopsutil/v3/host"
	"github.com/shirou/gopsutil/v3/load"
	"github.com/shirou/gopsutil/v3/mem"
)

// Snapshot is the point-in-time device health view.
type Snapshot struct {
	CPU       CPUUsage    `json:"cpu"`
	Memory    MemoryUsage `json:"memory"`
	Volumes   []Volume    `json:"volumes"`
	Uptime    int64       `json:"uptime_seconds"`
	LoadAvg   []float64   `json:"load_avg,omitempty"`
	Timestamp time.Time   `json:"timestamp"`
}

type CPUUsage struct {
	UsagePercent float64 `json:"usage_percent"`
	Cores        int     `json:"cores"`
}

type MemoryUsage struct {
	Total       uint64  `json:"total"`
	Available   uint64  `json:"available"`
	UsedPercent float64 `json:"used_percent"`
}

// Volume is the free-space view of one directory the agent writes to.
type Volume struct {
	Path        string  `json:"path"`
	Total       uint64  `json:"total"`
	Free        uint64  `json:"free"`
	UsedPercent float64 `json:"used_percent"`
}

// Collector samples device health. Paths are the directories whose volumes
// matter to the update flow: download dir, backup dir, install root.
type Collector struct {
	paths []string
}

func NewCollector(paths ...string) *Collector {
	return &Collector{paths: paths}
}

// Collect samples everything. Individual probe failures leave their section
// zeroed rather than failing the whole snapshot; a health endpoint should
// degrade, not disappear.
func (c *Collector) Collect(ctx context.Context) *Snapshot {
	snap := &Snapshot{Timestamp: time.Now()}

	if percents, err := cpu.PercentWithContext(ctx, 0, false); err == nil && len(percents) > 0 {
		snap.CPU.UsagePercent = percents[0]
	}
	if cores, err := cpu.CountsWithContext(ctx, true); err == nil {
		snap.CPU.Cores = cores
	}

	if vm, err := mem.VirtualMemoryWithContext(ctx); err == nil {
		snap.Memory = MemoryUsage{
			Total:       vm.Total,
			Available:   vm.Available,
			UsedPercent: vm.UsedPercent,
		}
	}

	for _, path := range c.paths {
		usage, err := disk.UsageWithContext(ctx, path)
		if err != nil {
			continue
		}
		snap.Volumes = append(snap.Volumes, Volume{
			Path:        path,
			Total:       usage.Total,
			Free:        usage.Free,
			UsedPercent: usage.UsedPercent,
		})
	}

	if uptime, err := host.UptimeWithContext(ctx); err == nil {
		snap.Uptime = int64(uptime)
	}
	if avg, err := load.AvgWithContext(ctx); err == nil {
		snap.LoadAvg = []float64{avg.Load1, avg.Load5, avg.Load15}
	}

	return snap
}
