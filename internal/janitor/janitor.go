package janitor

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/dustin/go-humanize"

	"streamhost/internal/concat"
	"streamhost/internal/lockwatch"
	"streamhost/internal/logging"
)

const (
	DefaultInterval         = 5 * time.Minute
	DefaultManifestMaxAge   = time.Hour
	DefaultPreviewRetention = 24 * time.Hour
	defaultLockTimeout      = 2 * time.Second
)

// Preview artifacts eligible for retention pruning.
var previewPatterns = []string{"segment_*.ts", "stream_*.m3u8"}

// Options configures a Janitor.
type Options struct {
	TempDir          string
	PreviewDir       string
	Interval         time.Duration
	ManifestMaxAge   time.Duration
	PreviewRetention time.Duration
	PreviewMaxBytes  int64

	// Protect returns directories that must survive the sweep, typically
	// the live manifest directory.
	Protect func() []string

	Guard       *lockwatch.Mutex
	LockTimeout time.Duration
	Logger      *slog.Logger
	Now         func() time.Time
}

// Report summarizes one sweep.
type Report struct {
	ManifestsRemoved int      `json:"manifests_removed"`
	PreviewRemoved   int      `json:"preview_removed"`
	BytesFreed       int64    `json:"bytes_freed"`
	PreviewBytes     int64    `json:"preview_bytes"`
	PreviewSkipped   bool     `json:"preview_skipped,omitempty"`
	OverBudget       bool     `json:"over_budget,omitempty"`
	Errors           []string `json:"errors,omitempty"`
}

// Janitor removes orphaned manifests and stale preview output.
type Janitor struct {
	opts   Options
	logger *slog.Logger
}

// New constructs a Janitor, filling unset durations with defaults.
func New(opts Options) *Janitor {
	if opts.TempDir == "" {
		opts.TempDir = os.TempDir()
	}
	if opts.Interval <= 0 {
		opts.Interval = DefaultInterval
	}
	if opts.ManifestMaxAge <= 0 {
		opts.ManifestMaxAge = DefaultManifestMaxAge
	}
	if opts.PreviewRetention <= 0 {
		opts.PreviewRetention = DefaultPreviewRetention
	}
	if opts.LockTimeout <= 0 {
		opts.LockTimeout = defaultLockTimeout
	}
	if opts.Guard == nil {
		opts.Guard = lockwatch.New("preview_directory")
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Janitor{opts: opts, logger: logging.NewComponentLogger(opts.Logger, "janitor")}
}

// Run sweeps immediately and then every Interval until ctx is canceled.
func (j *Janitor) Run(ctx context.Context) {
	j.RunOnce(ctx)
	ticker := time.NewTicker(j.opts.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			j.RunOnce(ctx)
		}
	}
}

// RunOnce performs one sweep and logs its outcome.
func (j *Janitor) RunOnce(ctx context.Context) Report {
	var report Report
	now := j.opts.Now()

	j.sweepManifests(ctx, now, &report)
	if ctx.Err() == nil {
		j.sweepPreview(now, &report)
	}
	if ctx.Err() == nil {
		j.checkPreviewSize(&report)
	}

	attrs := []logging.Attr{
		logging.String(logging.FieldEventType, "janitor_sweep"),
		logging.Int("manifests_removed", report.ManifestsRemoved),
		logging.Int("preview_removed", report.PreviewRemoved),
		logging.String("freed", humanize.Bytes(uint64(report.BytesFreed))),
	}
	if len(report.Errors) > 0 {
		logging.WarnWithContext(j.logger, "janitor sweep finished with errors", "janitor_sweep_errors",
			append(attrs,
				logging.Int("error_count", len(report.Errors)),
				logging.String("first_error", report.Errors[0]),
				logging.String(logging.FieldImpact, "some stale files remain on disk"),
			)...)
	} else if report.ManifestsRemoved > 0 || report.PreviewRemoved > 0 {
		j.logger.Info("janitor sweep finished", logging.Args(attrs...)...)
	} else {
		j.logger.Debug("janitor sweep found nothing to remove", logging.Args(attrs...)...)
	}
	return report
}

func (j *Janitor) protected() map[string]struct{} {
	out := make(map[string]struct{})
	if j.opts.Protect == nil {
		return out
	}
	for _, dir := range j.opts.Protect() {
		if strings.TrimSpace(dir) == "" {
			continue
		}
		if abs, err := filepath.Abs(dir); err == nil {
			out[abs] = struct{}{}
		}
	}
	return out
}

func (j *Janitor) sweepManifests(ctx context.Context, now time.Time, report *Report) {
	matches, err := filepath.Glob(filepath.Join(j.opts.TempDir, concat.DirPrefix+"*"))
	if err != nil {
		report.Errors = append(report.Errors, fmt.Sprintf("glob manifests: %v", err))
		return
	}
	protect := j.protected()
	cutoff := now.Add(-j.opts.ManifestMaxAge)
	for _, dir := range matches {
		if ctx.Err() != nil {
			return
		}
		abs, err := filepath.Abs(dir)
		if err != nil {
			continue
		}
		if _, keep := protect[abs]; keep {
			continue
		}
		info, err := os.Stat(abs)
		if err != nil || !info.IsDir() || !info.ModTime().Before(cutoff) {
			continue
		}
		size, _ := dirSize(abs)
		if err := os.RemoveAll(abs); err != nil {
			report.Errors = append(report.Errors, fmt.Sprintf("remove %s: %v", abs, err))
			continue
		}
		report.ManifestsRemoved++
		report.BytesFreed += size
		j.logger.Debug("orphaned manifest removed", logging.String("dir", abs))
	}
}

func (j *Janitor) sweepPreview(now time.Time, report *Report) {
	if j.opts.PreviewDir == "" {
		return
	}
	if err := j.opts.Guard.LockTimeout(j.opts.LockTimeout); err != nil {
		report.PreviewSkipped = true
		logging.WarnWithContext(j.logger, "preview sweep skipped", "preview_sweep_skipped",
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "a stream launch held the preview directory"),
			logging.String(logging.FieldImpact, "stale preview segments remain until the next sweep"),
		)
		return
	}
	defer j.opts.Guard.Unlock()

	cutoff := now.Add(-j.opts.PreviewRetention)
	for _, pattern := range previewPatterns {
		matches, err := filepath.Glob(filepath.Join(j.opts.PreviewDir, pattern))
		if err != nil {
			report.Errors = append(report.Errors, fmt.Sprintf("glob %s: %v", pattern, err))
			continue
		}
		for _, path := range matches {
			info, err := os.Stat(path)
			if err != nil || !info.Mode().IsRegular() || !info.ModTime().Before(cutoff) {
				continue
			}
			if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
				report.Errors = append(report.Errors, fmt.Sprintf("remove %s: %v", path, err))
				continue
			}
			report.PreviewRemoved++
			report.BytesFreed += info.Size()
		}
	}
}

func (j *Janitor) checkPreviewSize(report *Report) {
	if j.opts.PreviewDir == "" {
		return
	}
	size, err := dirSize(j.opts.PreviewDir)
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			report.Errors = append(report.Errors, fmt.Sprintf("size %s: %v", j.opts.PreviewDir, err))
		}
		return
	}
	report.PreviewBytes = size
	if j.opts.PreviewMaxBytes > 0 && size > j.opts.PreviewMaxBytes {
		report.OverBudget = true
		logging.WarnWithContext(j.logger, "preview directory over size budget", "preview_over_budget",
			logging.String("dir", j.opts.PreviewDir),
			logging.String("size", humanize.Bytes(uint64(size))),
			logging.String("budget", humanize.Bytes(uint64(j.opts.PreviewMaxBytes))),
			logging.String(logging.FieldErrorHint, "lower janitor.preview_retention_hours or raise janitor.preview_max_mb"),
			logging.String(logging.FieldImpact, "disk may fill during long broadcasts"),
		)
	}
}

func dirSize(root string) (int64, error) {
	var total int64
	err := filepath.WalkDir(root, func(_ string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.Type().IsRegular() {
			if info, err := d.Info(); err == nil {
				total += info.Size()
			}
		}
		return nil
	})
	return total, err
}
