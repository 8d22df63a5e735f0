package daemonrun

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"syscall"
	"time"

	"github.com/google/uuid"

	"streamhost/internal/config"
	"streamhost/internal/daemon"
	"streamhost/internal/deps"
	"streamhost/internal/ffmpeg"
	"streamhost/internal/ipc"
	"streamhost/internal/logging"
)

// PIDFileName is written to the state directory while the daemon runs.
const PIDFileName = "streamhost.pid"

// Options configures daemon process runtime behavior.
type Options struct {
	LogLevel    string
	Development bool
	// Diagnostic adds a debug-level JSON log under logs/debug.
	Diagnostic bool
}

// Run starts the streamhost daemon and blocks until SIGINT, SIGTERM, a
// Shutdown RPC, or cancellation of cmdCtx.
func Run(cmdCtx context.Context, cfg *config.Config, opts Options) error {
	if cfg == nil {
		return fmt.Errorf("config is required")
	}
	if err := cfg.EnsureDirectories(); err != nil {
		return fmt.Errorf("ensure directories: %w", err)
	}

	signalCtx, cancel := signal.NotifyContext(cmdCtx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	runID := time.Now().UTC().Format("20060102T150405.000Z")
	logPath := filepath.Join(cfg.Paths.LogDir, fmt.Sprintf("streamhost-%s.log", runID))

	level := opts.LogLevel
	if level == "" {
		level = cfg.Logging.Level
	}
	logger, err := logging.New(logging.Options{
		Level:            level,
		Format:           cfg.Logging.Format,
		OutputPaths:      []string{"stdout", logPath},
		ErrorOutputPaths: []string{"stderr", logPath},
		Development:      opts.Development,
	})
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}

	if opts.Diagnostic {
		logger = withDiagnosticLog(logger, cfg.Paths.LogDir, runID)
	}

	if err := ensureCurrentLogPointer(cfg.Paths.LogDir, logPath); err != nil {
		fmt.Fprintf(os.Stderr, "warn: unable to update streamhost.log link: %v\n", err)
	}
	logging.CleanupOldLogs(logger, cfg.Logging.RetentionDays,
		logging.RetentionTarget{Dir: cfg.Paths.LogDir, Pattern: "streamhost-*.log", Exclude: []string{logPath}},
		logging.RetentionTarget{Dir: filepath.Join(cfg.Paths.LogDir, "debug"), Pattern: "streamhost-*.log"},
	)
	logDependencySnapshot(signalCtx, logger, cfg)

	pidPath := filepath.Join(cfg.Paths.StateDir, PIDFileName)
	if err := writePIDFile(pidPath); err != nil {
		return fmt.Errorf("write pid file: %w", err)
	}
	defer os.Remove(pidPath)

	d, err := daemon.New(signalCtx, cfg, logger, daemon.WithLogPath(logPath))
	if err != nil {
		logger.Error("create daemon", logging.Error(err))
		return err
	}
	defer d.Close()

	if err := d.Start(signalCtx); err != nil {
		logging.ErrorWithContext(logger, "daemon start failed", "daemon_start_failed",
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "stop the other streamhost instance or point paths.preview_dir elsewhere"),
		)
		return err
	}

	ipcServer, err := ipc.NewServer(signalCtx, cfg.Paths.SocketPath, d, logger, cancel)
	if err != nil {
		return fmt.Errorf("start IPC server: %w", err)
	}
	defer ipcServer.Close()
	ipcServer.Serve()

	<-signalCtx.Done()
	logger.Info("streamhost daemon shutting down",
		logging.String(logging.FieldEventType, "daemon_shutdown"))
	return nil
}

func withDiagnosticLog(logger *slog.Logger, logDir, runID string) *slog.Logger {
	debugDir := filepath.Join(logDir, "debug")
	debugLogPath := filepath.Join(debugDir, fmt.Sprintf("streamhost-%s.log", runID))
	debugLogger, err := logging.New(logging.Options{
		Level:            "debug",
		Format:           "json",
		OutputPaths:      []string{debugLogPath},
		ErrorOutputPaths: []string{debugLogPath},
		Development:      true,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "warn: unable to initialize debug logger: %v\n", err)
		return logger
	}
	diagnosticID := uuid.NewString()
	logger = logging.TeeLogger(logger, debugLogger.Handler()).With(logging.String("diagnostic_id", diagnosticID))
	if err := ensureCurrentLogPointer(debugDir, debugLogPath); err != nil {
		fmt.Fprintf(os.Stderr, "warn: unable to update debug/streamhost.log link: %v\n", err)
	}
	logger.Info("diagnostic mode enabled",
		logging.String(logging.FieldEventType, "diagnostic_mode_enabled"),
		logging.String("debug_log_path", debugLogPath),
	)
	return logger
}

// ensureCurrentLogPointer points logDir/streamhost.log at target.
func ensureCurrentLogPointer(logDir, target string) error {
	if logDir == "" || target == "" {
		return nil
	}
	current := filepath.Join(logDir, "streamhost.log")
	if err := os.Remove(current); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove existing log pointer: %w", err)
	}
	if err := os.Symlink(target, current); err == nil {
		return nil
	}
	if err := os.Link(target, current); err != nil {
		return fmt.Errorf("link log pointer: %w", err)
	}
	return nil
}

func writePIDFile(path string) error {
	value := strconv.Itoa(os.Getpid()) + "\n"
	return os.WriteFile(path, []byte(value), 0o644)
}

func logDependencySnapshot(ctx context.Context, logger *slog.Logger, cfg *config.Config) {
	ff := deps.CheckFFmpeg(ctx, cfg.Stream.FFmpegBinary)
	encoder := ffmpeg.SelectEncoder(cfg.Stream.Encoder, cfg.Stream.Preset)
	attrs := []logging.Attr{
		logging.String(logging.FieldEventType, "dependency_snapshot"),
		logging.Bool("ffmpeg_available", ff.Available),
		logging.String("ffmpeg_binary", ff.Command),
		logging.String("ffmpeg_version", ff.Version),
		logging.String("encoder", encoder.Codec),
		logging.Bool("hardware_encoder", encoder.IsHardware()),
	}
	if !ff.Available {
		logging.WarnWithContext(logger, "ffmpeg unavailable", "dependency_missing",
			append(attrs[1:],
				logging.String("detail", ff.Detail),
				logging.String(logging.FieldErrorHint, "install ffmpeg or set stream.ffmpeg_binary"),
				logging.String(logging.FieldImpact, "every stream start will fail until ffmpeg is available"),
			)...,
		)
		return
	}
	logger.Info("dependency snapshot", logging.Args(attrs...)...)
}
