package health

import (
	"context"
	"fmt"
	"time"

	"github.com/shirou/gopsutil/v4/cpu"
	"github.com/shirou/gopsutil/v4/disk"
	"github.com/shirou/gopsutil/v4/mem"
)

// HostSample is one reading of host resources.
type HostSample struct {
	CPUPercent    float64 `json:"cpu_percent"`
	MemoryPercent float64 `json:"memory_percent"`
	DiskFreeBytes uint64  `json:"disk_free_bytes"`
}

// Sampler reads host resources for the filesystem holding path.
type Sampler interface {
	Sample(ctx context.Context, path string) (HostSample, error)
}

// SystemSampler reads host metrics via gopsutil.
type SystemSampler struct {
	// CPUInterval is the window cpu.Percent measures over.
	CPUInterval time.Duration
}

func (s SystemSampler) Sample(ctx context.Context, path string) (HostSample, error) {
	interval := s.CPUInterval
	if interval <= 0 {
		interval = 100 * time.Millisecond
	}
	var sample HostSample

	percents, err := cpu.PercentWithContext(ctx, interval, false)
	if err != nil {
		return sample, fmt.Errorf("sample cpu: %w", err)
	}
	if len(percents) > 0 {
		sample.CPUPercent = percents[0]
	}

	vm, err := mem.VirtualMemoryWithContext(ctx)
	if err != nil {
		return sample, fmt.Errorf("sample memory: %w", err)
	}
	sample.MemoryPercent = vm.UsedPercent

	usage, err := disk.UsageWithContext(ctx, path)
	if err != nil {
		return sample, fmt.Errorf("sample disk %s: %w", path, err)
	}
	sample.DiskFreeBytes = usage.Free
	return sample, nil
}
