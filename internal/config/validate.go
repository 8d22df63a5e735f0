package config

import (
	"errors"
	"fmt"
	"strings"

	"streamhost/internal/launchplan"
	"streamhost/internal/retry"
)

// Validate ensures the configuration is usable.
func (c *Config) Validate() error {
	if err := c.validatePaths(); err != nil {
		return err
	}
	if err := c.validateStream(); err != nil {
		return err
	}
	if err := c.validateRestart(); err != nil {
		return err
	}
	if err := c.validateJanitor(); err != nil {
		return err
	}
	if err := c.validateHealth(); err != nil {
		return err
	}
	if err := c.validateNotifications(); err != nil {
		return err
	}
	if err := c.validateLogging(); err != nil {
		return err
	}
	return nil
}

func (c *Config) validatePaths() error {
	if strings.TrimSpace(c.Paths.PreviewDir) == "" {
		return errors.New("paths.preview_dir must be set")
	}
	if strings.TrimSpace(c.Paths.StateDir) == "" {
		return errors.New("paths.state_dir must be set")
	}
	if strings.TrimSpace(c.Paths.LogDir) == "" {
		return errors.New("paths.log_dir must be set")
	}
	return nil
}

func (c *Config) validateStream() error {
	if c.Stream.FPS < 1 || c.Stream.FPS > 240 {
		return fmt.Errorf("stream.fps must be between 1 and 240, got %d", c.Stream.FPS)
	}
	if len(c.Stream.Profiles) == 0 {
		return errors.New("stream.profiles must list at least one WIDTHxHEIGHT@KBPS entry")
	}
	if _, err := launchplan.ParseProfiles(c.Stream.Profiles); err != nil {
		return fmt.Errorf("stream.profiles: %w", err)
	}
	if c.Stream.SegmentSeconds < 1 {
		return errors.New("stream.segment_seconds must be positive")
	}
	if c.Stream.PlaylistSize < 1 {
		return errors.New("stream.playlist_size must be positive")
	}
	return nil
}

func (c *Config) validateRestart() error {
	if _, err := retry.ParseStrategy(c.Restart.Strategy); err != nil {
		return fmt.Errorf("restart.strategy: %w", err)
	}
	if err := c.RetryConfig().Validate(); err != nil {
		return fmt.Errorf("restart: %w", err)
	}
	if c.Restart.StabilityWindowSeconds < 0 {
		return errors.New("restart.stability_window_seconds must be zero or positive")
	}
	if c.Restart.TermGraceSeconds < 1 {
		return errors.New("restart.term_grace_seconds must be positive")
	}
	return nil
}

func (c *Config) validateJanitor() error {
	if c.Janitor.IntervalSeconds < 0 {
		return errors.New("janitor.interval_seconds must be zero (disabled) or positive")
	}
	if c.Janitor.ManifestMaxAgeSeconds < 1 {
		return errors.New("janitor.manifest_max_age_seconds must be positive")
	}
	if c.Janitor.PreviewRetentionHours < 1 {
		return errors.New("janitor.preview_retention_hours must be positive")
	}
	if c.Janitor.PreviewMaxMB < 0 {
		return errors.New("janitor.preview_max_mb must be zero (disabled) or positive")
	}
	return nil
}

func (c *Config) validateHealth() error {
	if c.Health.BitrateRatio < 0 || c.Health.BitrateRatio > 1 {
		return errors.New("health.bitrate_ratio must be between 0 and 1")
	}
	if c.Health.MaxDroppedFrames < 0 {
		return errors.New("health.max_dropped_frames must be zero or positive")
	}
	if c.Health.MinFreeDiskGB < 0 {
		return errors.New("health.min_free_disk_gb must be zero or positive")
	}
	for name, value := range map[string]float64{
		"health.max_cpu_percent":    c.Health.MaxCPUPercent,
		"health.max_memory_percent": c.Health.MaxMemoryPercent,
	} {
		if value <= 0 || value > 100 {
			return fmt.Errorf("%s must be between 0 and 100", name)
		}
	}
	if c.Health.LockWaitWarnSeconds <= 0 || c.Health.LockHoldWarnSeconds <= 0 {
		return errors.New("health lock warning thresholds must be positive")
	}
	return nil
}

func (c *Config) validateNotifications() error {
	topic := c.Notifications.NtfyTopic
	if topic == "" {
		return nil
	}
	if !strings.HasPrefix(topic, "http://") && !strings.HasPrefix(topic, "https://") {
		return fmt.Errorf("notifications.ntfy_topic must be a full http(s) URL, got %q", topic)
	}
	return nil
}

func (c *Config) validateLogging() error {
	switch c.Logging.Format {
	case "console", "json":
	default:
		return fmt.Errorf("logging.format: unsupported value %q", c.Logging.Format)
	}
	switch c.Logging.Level {
	case "debug", "info", "warn", "warning", "error":
	default:
		return fmt.Errorf("logging.level: unsupported value %q", c.Logging.Level)
	}
	if c.Logging.RetentionDays < 0 {
		return errors.New("logging.retention_days must be zero (keep forever) or positive")
	}
	return nil
}
