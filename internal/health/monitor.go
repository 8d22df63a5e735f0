package health

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/dustin/go-humanize"

	"streamhost/internal/lockwatch"
	"streamhost/internal/logging"
	"streamhost/internal/stream"
)

// Severity grades a Report.
type Severity string

const (
	SeverityOK       Severity = "ok"
	SeverityWarning  Severity = "warning"
	SeverityCritical Severity = "critical"
)

// Check names, in report order.
const (
	CheckFFmpegRunning = "ffmpeg_running"
	CheckBitrate       = "bitrate_ok"
	CheckDroppedFrames = "dropped_frames_ok"
	CheckDiskSpace     = "disk_space_ok"
	CheckCPU           = "cpu_ok"
	CheckMemory        = "memory_ok"
	CheckLocks         = "locks_ok"
)

// CheckOrder lists every check a Report carries.
var CheckOrder = []string{CheckFFmpegRunning, CheckBitrate, CheckDroppedFrames, CheckDiskSpace, CheckCPU, CheckMemory, CheckLocks}

// Thresholds bound the healthy range of each check.
type Thresholds struct {
	BitrateRatio     float64
	MaxDroppedFrames int64
	MinFreeDiskBytes uint64
	MaxCPUPercent    float64
	MaxMemoryPercent float64
	LockWaitWarn     time.Duration
	LockHoldWarn     time.Duration
}

// DefaultThresholds mirrors the configuration defaults.
func DefaultThresholds() Thresholds {
	return Thresholds{
		BitrateRatio:     0.7,
		MaxDroppedFrames: 100,
		MinFreeDiskBytes: 10 * humanize.GByte,
		MaxCPUPercent:    90,
		MaxMemoryPercent: 90,
		LockWaitWarn:     time.Second,
		LockHoldWarn:     5 * time.Second,
	}
}

// StatusSource provides supervisor snapshots.
type StatusSource interface {
	Status() stream.Snapshot
}

// Report is the outcome of one health check.
type Report struct {
	Severity      Severity        `json:"severity"`
	Checks        map[string]bool `json:"checks"`
	Issues        []string        `json:"issues,omitempty"`
	State         stream.State    `json:"state"`
	BitrateKbps   int64           `json:"bitrate_kbps"`
	TargetKbps    int             `json:"target_kbps"`
	DroppedFrames int64           `json:"dropped_frames"`
	Host          HostSample      `json:"host"`
	Uptime        time.Duration   `json:"uptime"`
	CheckedAt     time.Time       `json:"checked_at"`
}

// Summary joins the issues into one line.
func (r Report) Summary() string {
	if len(r.Issues) == 0 {
		return "all checks passed"
	}
	out := r.Issues[0]
	for _, issue := range r.Issues[1:] {
		out += "; " + issue
	}
	return out
}

// Monitor evaluates stream and host health.
type Monitor struct {
	Source     StatusSource
	Sampler    Sampler
	Locks      *lockwatch.Registry
	Thresholds Thresholds
	// DiskPath is where free space is measured, usually the preview dir.
	DiskPath string
	Logger   *slog.Logger
}

// Check runs every check once.
func (m *Monitor) Check(ctx context.Context) Report {
	logger := logging.NewComponentLogger(m.Logger, "health")
	th := m.Thresholds
	if th == (Thresholds{}) {
		th = DefaultThresholds()
	}

	snap := m.Source.Status()
	report := Report{
		Checks:        make(map[string]bool, len(CheckOrder)),
		State:         snap.State,
		BitrateKbps:   snap.Metrics.BitrateKbps,
		TargetKbps:    snap.TargetBitrateKbps,
		DroppedFrames: snap.Metrics.DroppedFrames,
		Uptime:        snap.Uptime,
		CheckedAt:     time.Now(),
	}

	report.Checks[CheckFFmpegRunning] = snap.Running
	if !snap.Running {
		report.Issues = append(report.Issues, fmt.Sprintf("ffmpeg not running (state %s)", snap.State))
	}

	bitrateOK := true
	if snap.Running && snap.TargetBitrateKbps > 0 {
		floor := int64(float64(snap.TargetBitrateKbps) * th.BitrateRatio)
		bitrateOK = snap.Metrics.BitrateKbps >= floor
		if !bitrateOK {
			report.Issues = append(report.Issues, fmt.Sprintf("bitrate %d kbps below %d kbps floor", snap.Metrics.BitrateKbps, floor))
		}
	}
	report.Checks[CheckBitrate] = bitrateOK

	droppedOK := snap.Metrics.DroppedFrames < th.MaxDroppedFrames
	report.Checks[CheckDroppedFrames] = droppedOK
	if !droppedOK {
		report.Issues = append(report.Issues, fmt.Sprintf("%d dropped frames", snap.Metrics.DroppedFrames))
	}

	diskOK, cpuOK, memOK := true, true, true
	if m.Sampler != nil {
		sample, err := m.Sampler.Sample(ctx, existingAncestor(m.DiskPath))
		if err != nil {
			logger.Debug("host sample failed", logging.Error(err))
			report.Issues = append(report.Issues, "host metrics unavailable: "+err.Error())
		} else {
			report.Host = sample
			diskOK = sample.DiskFreeBytes >= th.MinFreeDiskBytes
			cpuOK = sample.CPUPercent < th.MaxCPUPercent
			memOK = sample.MemoryPercent < th.MaxMemoryPercent
			if !diskOK {
				report.Issues = append(report.Issues, "low disk space: "+humanize.Bytes(sample.DiskFreeBytes)+" free")
			}
			if !cpuOK {
				report.Issues = append(report.Issues, fmt.Sprintf("cpu usage high: %.1f%%", sample.CPUPercent))
			}
			if !memOK {
				report.Issues = append(report.Issues, fmt.Sprintf("memory usage high: %.1f%%", sample.MemoryPercent))
			}
		}
	}
	report.Checks[CheckDiskSpace] = diskOK
	report.Checks[CheckCPU] = cpuOK
	report.Checks[CheckMemory] = memOK

	locksOK := true
	if m.Locks != nil {
		warnings := m.Locks.Warnings(th.LockWaitWarn, th.LockHoldWarn)
		locksOK = len(warnings) == 0
		report.Issues = append(report.Issues, warnings...)
	}
	report.Checks[CheckLocks] = locksOK

	if snap.LastError != "" {
		report.Issues = append(report.Issues, snap.LastError)
	}
	report.Severity = severity(report.Checks)

	if report.Severity != SeverityOK {
		logging.WarnWithContext(logger, "stream degraded", "health_degraded",
			logging.String("severity", string(report.Severity)),
			logging.String("summary", report.Summary()),
			logging.String(logging.FieldImpact, "viewers may see stalls or an offline stream"),
		)
	}
	return report
}

func severity(checks map[string]bool) Severity {
	if !checks[CheckFFmpegRunning] {
		return SeverityCritical
	}
	for _, ok := range checks {
		if !ok {
			return SeverityWarning
		}
	}
	return SeverityOK
}

// existingAncestor walks up from path until it finds something that exists,
// so disk usage works before the preview dir is created.
func existingAncestor(path string) string {
	if path == "" {
		return string(filepath.Separator)
	}
	for {
		if _, err := os.Stat(path); err == nil {
			return path
		}
		parent := filepath.Dir(path)
		if parent == path {
			return path
		}
		path = parent
	}
}
