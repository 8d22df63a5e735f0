package config

import (
	_ "embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"

	"streamhost/internal/launchplan"
	"streamhost/internal/retry"
)

//go:embed sample_config.toml
var sampleConfig string

// Paths contains directory and socket configuration.
type Paths struct {
	PreviewDir string `toml:"preview_dir"`
	StateDir   string `toml:"state_dir"`
	LogDir     string `toml:"log_dir"`
	TempDir    string `toml:"temp_dir"`
	SocketPath string `toml:"socket_path"`
}

// Stream contains encoder and destination settings used to build default plans.
type Stream struct {
	FFmpegBinary   string   `toml:"ffmpeg_binary"`
	Destination    string   `toml:"destination"`
	Encoder        string   `toml:"encoder"`
	Preset         string   `toml:"preset"`
	FPS            int      `toml:"fps"`
	Profiles       []string `toml:"profiles"`
	SegmentSeconds int      `toml:"segment_seconds"`
	PlaylistSize   int      `toml:"playlist_size"`
}

// Restart contains the crash recovery policy.
type Restart struct {
	Strategy               string  `toml:"strategy"`
	BaseDelaySeconds       float64 `toml:"base_delay_seconds"`
	MaxDelaySeconds        float64 `toml:"max_delay_seconds"`
	MaxAttempts            int     `toml:"max_attempts"`
	Jitter                 bool    `toml:"jitter"`
	JitterFactor           float64 `toml:"jitter_factor"`
	StabilityWindowSeconds int     `toml:"stability_window_seconds"`
	TermGraceSeconds       int     `toml:"term_grace_seconds"`
}

// Janitor contains the orphan sweep schedule and thresholds.
type Janitor struct {
	IntervalSeconds       int `toml:"interval_seconds"`
	ManifestMaxAgeSeconds int `toml:"manifest_max_age_seconds"`
	PreviewRetentionHours int `toml:"preview_retention_hours"`
	PreviewMaxMB          int `toml:"preview_max_mb"`
}

// Health contains health check thresholds.
type Health struct {
	BitrateRatio        float64 `toml:"bitrate_ratio"`
	MaxDroppedFrames    int     `toml:"max_dropped_frames"`
	MinFreeDiskGB       float64 `toml:"min_free_disk_gb"`
	MaxCPUPercent       float64 `toml:"max_cpu_percent"`
	MaxMemoryPercent    float64 `toml:"max_memory_percent"`
	LockWaitWarnSeconds float64 `toml:"lock_wait_warn_seconds"`
	LockHoldWarnSeconds float64 `toml:"lock_hold_warn_seconds"`
}

// Metrics controls the HTTP listener serving Prometheus metrics and the
// JSON status API. An empty Bind disables it.
type Metrics struct {
	Bind  string `toml:"bind"`
	Path  string `toml:"path"`
	Token string `toml:"token"`
}

// Notifications configures ntfy alerts for stream failures. An empty
// NtfyTopic disables them.
type Notifications struct {
	NtfyTopic             string `toml:"ntfy_topic"`
	RequestTimeoutSeconds int    `toml:"request_timeout_seconds"`
	NotifyCrashes         bool   `toml:"notify_crashes"`
}

// Logging contains configuration for log output.
type Logging struct {
	Format        string `toml:"format"`
	Level         string `toml:"level"`
	RetentionDays int    `toml:"retention_days"`
}

// Config encapsulates all configuration values for streamhost.
type Config struct {
	Paths         Paths         `toml:"paths"`
	Stream        Stream        `toml:"stream"`
	Restart       Restart       `toml:"restart"`
	Janitor       Janitor       `toml:"janitor"`
	Health        Health        `toml:"health"`
	Metrics       Metrics       `toml:"metrics"`
	Notifications Notifications `toml:"notifications"`
	Logging       Logging       `toml:"logging"`
}

// DefaultConfigPath returns the absolute path to the default configuration file location.
func DefaultConfigPath() (string, error) {
	return expandPath("~/.config/streamhost/config.toml")
}

// Load locates, parses, and validates a configuration file. The returned config has all
// path fields expanded and normalized.
func Load(path string) (*Config, string, bool, error) {
	cfg := Default()

	resolvedPath, exists, err := resolveConfigPath(path)
	if err != nil {
		return nil, "", false, err
	}

	if exists {
		file, err := os.Open(resolvedPath)
		if err != nil {
			return nil, "", false, fmt.Errorf("open config: %w", err)
		}
		defer file.Close()

		decoder := toml.NewDecoder(file)
		decoder.DisallowUnknownFields()
		if err := decoder.Decode(&cfg); err != nil {
			return nil, "", false, fmt.Errorf("parse config: %w", err)
		}
	}

	if err := cfg.normalize(); err != nil {
		return nil, "", false, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, "", false, err
	}

	return &cfg, resolvedPath, exists, nil
}

func resolveConfigPath(path string) (string, bool, error) {
	if path != "" {
		expanded, err := expandPath(path)
		if err != nil {
			return "", false, err
		}
		_, err = os.Stat(expanded)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return expanded, false, nil
			}
			return "", false, fmt.Errorf("stat config: %w", err)
		}
		return expanded, true, nil
	}

	defaultPath, err := DefaultConfigPath()
	if err != nil {
		return "", false, err
	}

	projectPath, err := filepath.Abs("streamhost.toml")
	if err != nil {
		return "", false, err
	}

	if info, err := os.Stat(defaultPath); err == nil && !info.IsDir() {
		return defaultPath, true, nil
	}
	if info, err := os.Stat(projectPath); err == nil && !info.IsDir() {
		return projectPath, true, nil
	}

	return defaultPath, false, nil
}

// EnsureDirectories creates required directories for daemon operation.
func (c *Config) EnsureDirectories() error {
	for _, dir := range []string{c.Paths.PreviewDir, c.Paths.StateDir, c.Paths.LogDir, c.Paths.TempDir} {
		if strings.TrimSpace(dir) == "" {
			continue
		}
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create directory %q: %w", dir, err)
		}
	}
	return nil
}

// RetryConfig converts the restart section into a backoff policy.
func (c *Config) RetryConfig() retry.Config {
	strategy, err := retry.ParseStrategy(c.Restart.Strategy)
	if err != nil {
		strategy = retry.StrategyExponential
	}
	return retry.Config{
		BaseDelay:    seconds(c.Restart.BaseDelaySeconds),
		MaxDelay:     seconds(c.Restart.MaxDelaySeconds),
		MaxAttempts:  c.Restart.MaxAttempts,
		Strategy:     strategy,
		Jitter:       c.Restart.Jitter,
		JitterFactor: c.Restart.JitterFactor,
	}
}

// StabilityWindow is how long a run must last before its crash no longer
// counts toward the consecutive failure streak.
func (c *Config) StabilityWindow() time.Duration {
	return time.Duration(c.Restart.StabilityWindowSeconds) * time.Second
}

// TermGrace is how long the encoder gets between SIGTERM and SIGKILL.
func (c *Config) TermGrace() time.Duration {
	return time.Duration(c.Restart.TermGraceSeconds) * time.Second
}

// DefaultPlan builds a launch plan for files from the stream section.
// Callers may override any field before handing it to the supervisor.
func (c *Config) DefaultPlan(files []string) (launchplan.Plan, error) {
	profiles, err := launchplan.ParseProfiles(c.Stream.Profiles)
	if err != nil {
		return launchplan.Plan{}, fmt.Errorf("stream.profiles: %w", err)
	}
	return launchplan.Plan{
		Files:       append([]string(nil), files...),
		Destination: c.Stream.Destination,
		Profiles:    profiles,
		Encoder:     c.Stream.Encoder,
		Preset:      c.Stream.Preset,
		FPS:         c.Stream.FPS,
	}, nil
}

func seconds(value float64) time.Duration {
	return time.Duration(value * float64(time.Second))
}

func expandPath(pathValue string) (string, error) {
	if pathValue == "" {
		return pathValue, nil
	}
	if strings.HasPrefix(pathValue, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home directory: %w", err)
		}
		if pathValue == "~" {
			pathValue = home
		} else if len(pathValue) > 1 && (pathValue[1] == '/' || pathValue[1] == '\\') {
			pathValue = filepath.Join(home, pathValue[2:])
		}
	}
	cleaned := filepath.Clean(pathValue)
	absolute, err := filepath.Abs(cleaned)
	if err != nil {
		return "", fmt.Errorf("resolve absolute path for %q: %w", cleaned, err)
	}
	return absolute, nil
}

// ExpandPath exposes the repository path expansion rules for other packages.
func ExpandPath(pathValue string) (string, error) {
	return expandPath(pathValue)
}

// CreateSample writes a sample configuration file to the specified location.
func CreateSample(path string) error {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create config directory: %w", err)
		}
	}

	if err := os.WriteFile(path, []byte(sampleConfig), 0o644); err != nil {
		return fmt.Errorf("write sample config: %w", err)
	}
	return nil
}
