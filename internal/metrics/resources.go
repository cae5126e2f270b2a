package metrics

import (
	"fmt"
	"log/slog"
	"runtime"
	"time"

	"github.com/shirou/gopsutil/v4/process"
)

// Resources is a point-in-time resource sample of one managed process.
type Resources struct {
	PID        int32     `json:"pid"`
	CPUPercent float64   `json:"cpu_percent"`
	MemoryMB   float64   `json:"memory_mb"`
	MemoryRSS  uint64    `json:"memory_rss"`
	NumThreads int32     `json:"num_threads"`
	NumFDs     int32     `json:"num_fds,omitempty"` // Unix only
	SampledAt  time.Time `json:"sampled_at"`
}

// SampleResources reads CPU and memory usage for pid. Fields the platform
// cannot report are left zero.
func SampleResources(pid int) (Resources, error) {
	if pid <= 0 {
		return Resources{}, fmt.Errorf("invalid pid %d", pid)
	}
	proc, err := process.NewProcess(int32(pid))
	if err != nil {
		return Resources{}, fmt.Errorf("failed to create process handle: %w", err)
	}
	memInfo, err := proc.MemoryInfo()
	if err != nil {
		return Resources{}, fmt.Errorf("failed to get memory info: %w", err)
	}

	cpuPercent, err := proc.CPUPercent()
	if err != nil {
		slog.Debug("failed to get CPU percent", "pid", pid, "error", err)
		cpuPercent = 0
	}
	numThreads, err := proc.NumThreads()
	if err != nil {
		numThreads = 0
	}

	r := Resources{
		PID:        int32(pid),
		CPUPercent: cpuPercent,
		MemoryMB:   float64(memInfo.RSS) / 1024 / 1024,
		MemoryRSS:  memInfo.RSS,
		NumThreads: numThreads,
		SampledAt:  time.Now(),
	}
	if runtime.GOOS != "windows" {
		if n, err := proc.NumFDs(); err == nil {
			r.NumFDs = n
		}
	}
	return r, nil
}
