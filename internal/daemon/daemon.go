package daemon

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/gofrs/flock"

	"streamhost/internal/config"
	"streamhost/internal/health"
	"streamhost/internal/janitor"
	"streamhost/internal/journal"
	"streamhost/internal/lockwatch"
	"streamhost/internal/logging"
	"streamhost/internal/metrics"
	"streamhost/internal/notifications"
	"streamhost/internal/stream"
)

// LockFileName is the single-daemon lock created in the state directory.
const LockFileName = "streamhostd.lock"

// ErrNotRunning is returned by stream operations before Start.
var ErrNotRunning = errors.New("daemon not running")

// Option customizes a Daemon.
type Option func(*Daemon)

// WithSampler replaces the gopsutil host sampler.
func WithSampler(s health.Sampler) Option {
	return func(d *Daemon) { d.sampler = s }
}

// WithLogPath records the per-run log file reported by Status.
func WithLogPath(path string) Option {
	return func(d *Daemon) { d.logPath = path }
}

// Daemon owns the supervisor and its supporting services, and enforces
// single-instance execution.
type Daemon struct {
	cfg    *config.Config
	logger *slog.Logger

	supervisor *stream.Supervisor
	janitor    *janitor.Janitor
	monitor    *health.Monitor
	journal    *journal.Store
	collector  *metrics.Collector
	notifier   notifications.Service
	dispatcher *notifications.Dispatcher
	locks      *lockwatch.Registry
	sampler    health.Sampler
	http       *httpServer
	logPath    string

	lockPath        string
	lock            *flock.Flock
	previewLockPath string
	previewLock     *flock.Flock

	mu      sync.Mutex
	running atomic.Bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// Status represents daemon runtime information.
type Status struct {
	Running         bool            `json:"running"`
	PID             int             `json:"pid"`
	LockPath        string          `json:"lock_path"`
	PreviewLockPath string          `json:"preview_lock_path"`
	JournalPath     string          `json:"journal_path"`
	LogPath         string          `json:"log_path,omitempty"`
	HTTPAddress     string          `json:"http_address,omitempty"`
	Stream          stream.Snapshot `json:"stream"`
}

// New constructs a daemon with initialized dependencies. The journal is
// opened immediately; locks are taken by Start.
func New(ctx context.Context, cfg *config.Config, logger *slog.Logger, opts ...Option) (*Daemon, error) {
	if cfg == nil {
		return nil, errors.New("daemon requires config")
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	if err := cfg.EnsureDirectories(); err != nil {
		return nil, fmt.Errorf("ensure directories: %w", err)
	}

	d := &Daemon{
		cfg:             cfg,
		logger:          logging.NewComponentLogger(logger, "daemon"),
		locks:           lockwatch.NewRegistry(),
		sampler:         health.SystemSampler{},
		lockPath:        filepath.Join(cfg.Paths.StateDir, LockFileName),
		previewLockPath: filepath.Join(cfg.Paths.PreviewDir, stream.InstanceLockFile),
	}
	for _, opt := range opts {
		opt(d)
	}
	d.lock = flock.New(d.lockPath)
	d.previewLock = flock.New(d.previewLockPath)

	previewGuard := d.locks.NewMutex(stream.PreviewGuardName)
	sup, err := stream.New(stream.Options{
		Binary:          cfg.Stream.FFmpegBinary,
		PreviewDir:      cfg.Paths.PreviewDir,
		TempDir:         cfg.Paths.TempDir,
		SegmentSeconds:  cfg.Stream.SegmentSeconds,
		PlaylistSize:    cfg.Stream.PlaylistSize,
		Retry:           cfg.RetryConfig(),
		StabilityWindow: cfg.StabilityWindow(),
		TermGrace:       cfg.TermGrace(),
		Logger:          logger,
		Locks:           d.locks,
		PreviewGuard:    previewGuard,
	})
	if err != nil {
		return nil, fmt.Errorf("create supervisor: %w", err)
	}
	d.supervisor = sup

	store, err := journal.Open(ctx, filepath.Join(cfg.Paths.StateDir, journal.FileName))
	if err != nil {
		return nil, fmt.Errorf("open journal: %w", err)
	}
	d.journal = store
	sup.AddObserver(store.Observer(logger))

	d.collector = metrics.New(sup)
	sup.AddObserver(d.collector)
	d.notifier = notifications.NewService(cfg)
	d.dispatcher = notifications.NewDispatcher(d.notifier, logger)
	sup.AddObserver(d.dispatcher)

	d.janitor = janitor.New(janitor.Options{
		TempDir:          cfg.Paths.TempDir,
		PreviewDir:       cfg.Paths.PreviewDir,
		Interval:         time.Duration(cfg.Janitor.IntervalSeconds) * time.Second,
		ManifestMaxAge:   time.Duration(cfg.Janitor.ManifestMaxAgeSeconds) * time.Second,
		PreviewRetention: time.Duration(cfg.Janitor.PreviewRetentionHours) * time.Hour,
		PreviewMaxBytes:  int64(cfg.Janitor.PreviewMaxMB) * humanize.MByte,
		Protect:          d.protectedDirs,
		Guard:            previewGuard,
		Logger:           logger,
	})

	d.monitor = &health.Monitor{
		Source:     sup,
		Sampler:    d.sampler,
		Locks:      d.locks,
		Thresholds: thresholdsFrom(cfg.Health),
		DiskPath:   cfg.Paths.PreviewDir,
		Logger:     logger,
	}

	if cfg.Metrics.Bind != "" {
		d.http = newHTTPServer(cfg.Metrics, d, logger)
	}
	return d, nil
}

// Start acquires both instance locks and launches the background services.
// It does not start a stream.
func (d *Daemon) Start(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.running.Load() {
		return errors.New("daemon already running")
	}

	ok, err := d.lock.TryLock()
	if err != nil {
		return fmt.Errorf("acquire lock: %w", err)
	}
	if !ok {
		return errors.New("another streamhost daemon instance is already running")
	}
	ok, err = d.previewLock.TryLock()
	if err != nil || !ok {
		_ = d.lock.Unlock()
		if err != nil {
			return fmt.Errorf("acquire preview lock: %w", err)
		}
		return fmt.Errorf("preview directory %s is in use by another streamhost instance", d.cfg.Paths.PreviewDir)
	}

	runCtx, cancel := context.WithCancel(ctx)
	if err := d.http.start(runCtx); err != nil {
		cancel()
		_ = d.previewLock.Unlock()
		_ = d.lock.Unlock()
		return err
	}
	d.cancel = cancel

	d.pruneJournal(runCtx)
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		d.janitor.Run(runCtx)
	}()

	d.running.Store(true)
	d.logger.Info("streamhost daemon started",
		logging.String(logging.FieldEventType, "daemon_started"),
		logging.String("lock", d.lockPath),
		logging.String("preview_lock", d.previewLockPath),
	)
	return nil
}

// Stop ends any active stream, stops background services, and releases
// the instance locks.
func (d *Daemon) Stop() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.running.Load() {
		return
	}

	stopCtx, cancelStop := context.WithTimeout(context.Background(), d.cfg.TermGrace()+2*stream.DefaultTaskWait)
	if err := d.supervisor.Stop(stopCtx); err != nil {
		logging.WarnWithContext(d.logger, "stream stop failed during shutdown", "daemon_stream_stop_failed",
			logging.Error(err),
			logging.String(logging.FieldImpact, "encoder may outlive the daemon"),
			logging.String(logging.FieldErrorHint, "check for orphaned ffmpeg processes"),
		)
	}
	cancelStop()

	if d.cancel != nil {
		d.cancel()
		d.cancel = nil
	}
	d.wg.Wait()
	d.http.stop()

	if err := d.previewLock.Unlock(); err != nil {
		d.logger.Warn("failed to release preview lock", logging.Error(err))
	}
	if err := d.lock.Unlock(); err != nil {
		d.logger.Warn("failed to release daemon lock", logging.Error(err))
	}
	d.running.Store(false)
	d.logger.Info("streamhost daemon stopped",
		logging.String(logging.FieldEventType, "daemon_stopped"),
	)
}

// Close stops the daemon and closes the journal.
func (d *Daemon) Close() error {
	d.Stop()
	d.dispatcher.Wait()
	if d.journal != nil {
		return d.journal.Close()
	}
	return nil
}

// Running reports whether Start has succeeded and Stop has not run.
func (d *Daemon) Running() bool { return d.running.Load() }

// Status returns the current daemon status.
func (d *Daemon) Status() Status {
	return Status{
		Running:         d.running.Load(),
		PID:             os.Getpid(),
		LockPath:        d.lockPath,
		PreviewLockPath: d.previewLockPath,
		JournalPath:     d.journal.Path(),
		LogPath:         d.logPath,
		HTTPAddress:     d.http.address(),
		Stream:          d.supervisor.Status(),
	}
}

// LogPath returns the path to the daemon log file.
func (d *Daemon) LogPath() string { return d.logPath }

// Supervisor exposes the stream supervisor.
func (d *Daemon) Supervisor() *stream.Supervisor { return d.supervisor }

func (d *Daemon) protectedDirs() []string {
	if dir := d.supervisor.ActiveManifestDir(); dir != "" {
		return []string{dir}
	}
	return nil
}

// pruneJournal applies the log retention window to the event journal.
func (d *Daemon) pruneJournal(ctx context.Context) {
	days := d.cfg.Logging.RetentionDays
	if days <= 0 {
		return
	}
	cutoff := time.Now().AddDate(0, 0, -days)
	removed, err := d.journal.Prune(ctx, cutoff)
	if err != nil {
		d.logger.Warn("journal prune failed", logging.Error(err))
		return
	}
	if removed > 0 {
		d.logger.Debug("pruned journal", logging.Int64("removed", removed))
	}
}

func thresholdsFrom(cfg config.Health) health.Thresholds {
	return health.Thresholds{
		BitrateRatio:     cfg.BitrateRatio,
		MaxDroppedFrames: int64(cfg.MaxDroppedFrames),
		MinFreeDiskBytes: uint64(cfg.MinFreeDiskGB * humanize.GByte),
		MaxCPUPercent:    cfg.MaxCPUPercent,
		MaxMemoryPercent: cfg.MaxMemoryPercent,
		LockWaitWarn:     time.Duration(cfg.LockWaitWarnSeconds * float64(time.Second)),
		LockHoldWarn:     time.Duration(cfg.LockHoldWarnSeconds * float64(time.Second)),
	}
}
