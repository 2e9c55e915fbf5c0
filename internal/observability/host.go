package observability

import (
	"context"
	"fmt"
	"os"
	"runtime"
	"time"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"
	"github.com/shirou/gopsutil/v3/process"
)

// HostStats снимок показателей процесса и машины
type HostStats struct {
	Uptime        string  `json:"uptime"`
	UptimeSeconds int64   `json:"uptime_seconds"`
	ProcessCPU    float64 `json:"cpu_percent"`
	SystemCPU     float64 `json:"system_cpu_percent"`
	RSSMB         float64 `json:"rss_mb"`
	HeapAllocMB   float64 `json:"heap_alloc_mb"`
	SystemMemUsed float64 `json:"system_mem_used_percent"`
	Goroutines    int     `json:"goroutines"`
	NumGC         uint32  `json:"num_gc"`
}

// HostSampler собирает HostStats через gopsutil
type HostSampler struct {
	started time.Time
	proc    *process.Process
}

func NewHostSampler() (*HostSampler, error) {
	proc, err := process.NewProcess(int32(os.Getpid()))
	if err != nil {
		return nil, fmt.Errorf("open process: %w", err)
	}
	return &HostSampler{started: time.Now(), proc: proc}, nil
}

// Sample собирает показатели; недоступные на платформе остаются нулями
func (h *HostSampler) Sample(ctx context.Context) HostStats {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)

	uptime := time.Since(h.started)
	stats := HostStats{
		Uptime:        FormatUptime(uptime),
		UptimeSeconds: int64(uptime.Seconds()),
		HeapAllocMB:   float64(m.HeapAlloc) / 1024 / 1024,
		Goroutines:    runtime.NumGoroutine(),
		NumGC:         m.NumGC,
	}

	if pct, err := h.proc.CPUPercentWithContext(ctx); err == nil {
		stats.ProcessCPU = pct
	}
	if info, err := h.proc.MemoryInfoWithContext(ctx); err == nil {
		stats.RSSMB = float64(info.RSS) / 1024 / 1024
	}
	// Интервал 0: сравнение с предыдущим вызовом, без ожидания
	if pcts, err := cpu.PercentWithContext(ctx, 0, false); err == nil && len(pcts) > 0 {
		stats.SystemCPU = pcts[0]
	}
	if vm, err := mem.VirtualMemoryWithContext(ctx); err == nil {
		stats.SystemMemUsed = vm.UsedPercent
	}
	return stats
}

// FormatUptime время работы в виде "1д 2ч 3м 4с"
func FormatUptime(uptime time.Duration) string {
	days := int(uptime.Hours()) / 24
	hours := int(uptime.Hours()) % 24
	minutes := int(uptime.Minutes()) % 60
	seconds := int(uptime.Seconds()) % 60

	switch {
	case days > 0:
		return fmt.Sprintf("%dд %dч %dм %dс", days, hours, minutes, seconds)
	case hours > 0:
		return fmt.Sprintf("%dч %dм %dс", hours, minutes, seconds)
	case minutes > 0:
		return fmt.Sprintf("%dм %dс", minutes, seconds)
	default:
		return fmt.Sprintf("%dс", seconds)
	}
}
