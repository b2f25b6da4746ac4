package xlsx

import (
	"context"
	"log/slog"
	"runtime"
	"time"
)

// memorySampleInterval is how often the monitor samples the heap.
const memorySampleInterval = 5 * time.Second

// startMemoryMonitor runs a sampling goroutine for the duration of ctx. It
// is pure observation: above 95% of the configured threshold it requests a
// collection, between 80% and 95% it warns. It never pauses the reader and
// holds no locks shared with it.
func startMemoryMonitor(ctx context.Context, thresholdMB int) {
	go func() {
		ticker := time.NewTicker(memorySampleInterval)
		defer ticker.Stop()

		threshold := uint64(thresholdMB) * 1024 * 1024
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				var m runtime.MemStats
				runtime.ReadMemStats(&m)
				if threshold == 0 {
					continue
				}
				pct := float64(m.HeapAlloc) / float64(threshold) * 100
				switch {
				case pct > 95:
					slog.Warn("heap above threshold, requesting collection",
						"heap_mb", m.HeapAlloc/(1024*1024),
						"threshold_mb", thresholdMB,
					)
					runtime.GC()
				case pct >= 80:
					slog.Warn("heap approaching threshold",
						"heap_mb", m.HeapAlloc/(1024*1024),
						"threshold_mb", thresholdMB,
					)
				}
			}
		}
	}()
}

// MemoryStats is a point-in-time heap snapshot, reported with reconcile
// results.
type MemoryStats struct {
	UsedMB  uint64 `json:"usedMb"`
	TotalMB uint64 `json:"totalMb"`
	FreeMB  uint64 `json:"freeMb"`
}

// CaptureMemoryStats snapshots current heap usage.
func CaptureMemoryStats() MemoryStats {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)
	used := m.HeapAlloc / (1024 * 1024)
	total := m.HeapSys / (1024 * 1024)
	free := uint64(0)
	if total > used {
		free = total - used
	}
	return MemoryStats{UsedMB: used, TotalMB: total, FreeMB: free}
}
