package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

func (c *Config) normalize() error {
	if err := c.normalizePaths(); err != nil {
		return err
	}
	c.normalizeStream()
	c.normalizeRestart()
	c.normalizeMetrics()
	c.normalizeNotifications()
	c.normalizeLogging()
	return nil
}

func (c *Config) normalizePaths() error {
	var err error
	if c.Paths.PreviewDir, err = expandPath(c.Paths.PreviewDir); err != nil {
		return fmt.Errorf("paths.preview_dir: %w", err)
	}
	if c.Paths.StateDir, err = expandPath(c.Paths.StateDir); err != nil {
		return fmt.Errorf("paths.state_dir: %w", err)
	}
	if c.Paths.LogDir, err = expandPath(c.Paths.LogDir); err != nil {
		return fmt.Errorf("paths.log_dir: %w", err)
	}
	if strings.TrimSpace(c.Paths.TempDir) == "" {
		c.Paths.TempDir = os.TempDir()
	}
	if c.Paths.TempDir, err = expandPath(c.Paths.TempDir); err != nil {
		return fmt.Errorf("paths.temp_dir: %w", err)
	}
	if strings.TrimSpace(c.Paths.SocketPath) == "" && c.Paths.StateDir != "" {
		c.Paths.SocketPath = filepath.Join(c.Paths.StateDir, socketFileName)
	}
	if c.Paths.SocketPath, err = expandPath(c.Paths.SocketPath); err != nil {
		return fmt.Errorf("paths.socket_path: %w", err)
	}
	return nil
}

func (c *Config) normalizeStream() {
	c.Stream.FFmpegBinary = strings.TrimSpace(c.Stream.FFmpegBinary)
	if c.Stream.FFmpegBinary == "" {
		c.Stream.FFmpegBinary = defaultFFmpegBinary
	}
	c.Stream.Destination = strings.TrimSpace(c.Stream.Destination)
	if c.Stream.Destination == "" {
		if value, ok := os.LookupEnv(destinationEnv); ok {
			c.Stream.Destination = strings.TrimSpace(value)
		}
	}
	c.Stream.Encoder = strings.ToLower(strings.TrimSpace(c.Stream.Encoder))
	if c.Stream.Encoder == "" {
		c.Stream.Encoder = defaultEncoder
	}
	c.Stream.Preset = strings.TrimSpace(c.Stream.Preset)
	profiles := c.Stream.Profiles[:0]
	for _, p := range c.Stream.Profiles {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			profiles = append(profiles, trimmed)
		}
	}
	c.Stream.Profiles = profiles
}

func (c *Config) normalizeRestart() {
	c.Restart.Strategy = strings.ToLower(strings.TrimSpace(c.Restart.Strategy))
	if c.Restart.Strategy == "" {
		c.Restart.Strategy = defaultRestartStrategy
	}
}

func (c *Config) normalizeMetrics() {
	c.Metrics.Bind = strings.TrimSpace(c.Metrics.Bind)
	c.Metrics.Token = strings.TrimSpace(c.Metrics.Token)
	c.Metrics.Path = strings.TrimSpace(c.Metrics.Path)
	if c.Metrics.Path == "" {
		c.Metrics.Path = defaultMetricsPath
	}
	if !strings.HasPrefix(c.Metrics.Path, "/") {
		c.Metrics.Path = "/" + c.Metrics.Path
	}
}

func (c *Config) normalizeNotifications() {
	c.Notifications.NtfyTopic = strings.TrimSpace(c.Notifications.NtfyTopic)
	if c.Notifications.RequestTimeoutSeconds <= 0 {
		c.Notifications.RequestTimeoutSeconds = defaultNtfyRequestTimeoutSeconds
	}
}

func (c *Config) normalizeLogging() {
	format := strings.ToLower(strings.TrimSpace(c.Logging.Format))
	switch format {
	case "", "console", "text":
		c.Logging.Format = "console"
	case "json":
		c.Logging.Format = "json"
	default:
		c.Logging.Format = format
	}
	level := strings.ToLower(strings.TrimSpace(c.Logging.Level))
	if level == "" {
		level = defaultLogLevel
	}
	c.Logging.Level = level
}
