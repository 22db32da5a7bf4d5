package metrics

import (
	"context"
	"os"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shirou/gopsutil/v3/disk"
	"github.com/shirou/gopsutil/v3/mem"
	"github.com/shirou/gopsutil/v3/process"
)

// HealthReport is the payload returned by GET /health.
type HealthReport struct {
	Status          string  `json:"status"`
	DatabaseOK      bool    `json:"database_ok"`
	MountWritable   bool    `json:"mount_writable"`
	ActiveKeys      int64   `json:"active_keys"`
	ProcessMemoryMB float64 `json:"process_memory_mb"`
	SystemMemoryPct float64 `json:"system_memory_pct"`
	DiskFreeMB      float64 `json:"disk_free_mb"`
	CacheOccupancy  int     `json:"cache_occupancy"`
	CacheCapacity   int     `json:"cache_capacity"`
	ActiveSessions  int     `json:"active_sessions"`
}

// CheckHealth probes the database, the object mount, and process/system
// memory and disk figures via gopsutil.
func CheckHealth(ctx context.Context, db *pgxpool.Pool, objectRoot string, activeKeys int64, cacheLen, cacheNMax int) HealthReport {
	report := HealthReport{
		Status:         "ok",
		CacheOccupancy: cacheLen,
		CacheCapacity:  cacheNMax,
		ActiveSessions: cacheLen,
		ActiveKeys:     activeKeys,
	}

	pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := db.Ping(pingCtx); err != nil {
		report.DatabaseOK = false
		report.Status = "degraded"
	} else {
		report.DatabaseOK = true
	}

	probe := objectRoot + "/.health-probe"
	if err := os.WriteFile(probe, []byte("ok"), 0o644); err != nil {
		report.MountWritable = false
		report.Status = "degraded"
	} else {
		report.MountWritable = true
		os.Remove(probe)
	}

	if proc, err := process.NewProcess(int32(os.Getpid())); err == nil {
		if info, err := proc.MemoryInfo(); err == nil {
			report.ProcessMemoryMB = float64(info.RSS) / (1 << 20)
		}
	}

	if vm, err := mem.VirtualMemory(); err == nil {
		report.SystemMemoryPct = vm.UsedPercent
	}

	if du, err := disk.Usage(objectRoot); err == nil {
		report.DiskFreeMB = float64(du.Free) / (1 << 20)
	}

	return report
}
