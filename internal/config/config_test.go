package config_test

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/pelletier/go-toml/v2"

	"streamhost/internal/config"
	"streamhost/internal/retry"
)

func TestLoadDefaultConfigExpandsPaths(t *testing.T) {
	tempHome := t.TempDir()
	t.Setenv("HOME", tempHome)
	t.Setenv("STREAMHOST_DESTINATION", "")
	t.Chdir(t.TempDir())

	cfg, resolved, exists, err := config.Load("")
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if exists {
		t.Fatal("expected config file to be absent in temp HOME")
	}
	if resolved != filepath.Join(tempHome, ".config", "streamhost", "config.toml") {
		t.Fatalf("unexpected resolved path %q", resolved)
	}

	wantPreview := filepath.Join(tempHome, ".local", "share", "streamhost", "preview")
	if cfg.Paths.PreviewDir != wantPreview {
		t.Fatalf("unexpected preview dir: got %q want %q", cfg.Paths.PreviewDir, wantPreview)
	}
	wantSocket := filepath.Join(tempHome, ".local", "state", "streamhost", "streamhost.sock")
	if cfg.Paths.SocketPath != wantSocket {
		t.Fatalf("unexpected socket path: got %q want %q", cfg.Paths.SocketPath, wantSocket)
	}
	if cfg.Paths.TempDir == "" {
		t.Fatal("expected temp dir fallback")
	}
	if cfg.Stream.Encoder != "libx264" || cfg.Stream.FPS != 30 {
		t.Fatalf("unexpected stream defaults: %+v", cfg.Stream)
	}
	if cfg.Logging.Format != "console" || cfg.Logging.Level != "info" {
		t.Fatalf("unexpected logging defaults: %+v", cfg.Logging)
	}
	if cfg.Metrics.Bind != "" || cfg.Metrics.Path != "/metrics" {
		t.Fatalf("unexpected metrics defaults: %+v", cfg.Metrics)
	}
}

func TestLoadPrefersProjectFileWhenNoUserConfig(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	project := t.TempDir()
	t.Chdir(project)
	if err := os.WriteFile(filepath.Join(project, "streamhost.toml"), []byte("[stream]\nfps = 25\n"), 0o644); err != nil {
		t.Fatalf("write project config: %v", err)
	}

	cfg, resolved, exists, err := config.Load("")
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if !exists || filepath.Base(resolved) != "streamhost.toml" {
		t.Fatalf("expected project config, got %q exists=%v", resolved, exists)
	}
	if cfg.Stream.FPS != 25 {
		t.Fatalf("fps = %d, want 25", cfg.Stream.FPS)
	}
}

func TestLoadCustomPathAndEnvDestination(t *testing.T) {
	tempHome := t.TempDir()
	t.Setenv("HOME", tempHome)
	t.Setenv("STREAMHOST_DESTINATION", "rtmp://live.example.com/app/env")

	configPath := filepath.Join(t.TempDir(), "config.toml")
	content := `[paths]
preview_dir = "~/hls"
temp_dir = "~/tmp"

[stream]
encoder = "NVENC"
profiles = ["1280x720@2500", " 640x360@800 "]

[restart]
strategy = "Fibonacci"
base_delay_seconds = 0.5
max_delay_seconds = 30

[logging]
format = "JSON"
level = "DEBUG"
`
	if err := os.WriteFile(configPath, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, resolved, exists, err := config.Load(configPath)
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if !exists || resolved != configPath {
		t.Fatalf("unexpected resolution %q exists=%v", resolved, exists)
	}
	if cfg.Paths.PreviewDir != filepath.Join(tempHome, "hls") {
		t.Fatalf("unexpected preview dir %q", cfg.Paths.PreviewDir)
	}
	if cfg.Paths.TempDir != filepath.Join(tempHome, "tmp") {
		t.Fatalf("unexpected temp dir %q", cfg.Paths.TempDir)
	}
	if cfg.Stream.Destination != "rtmp://live.example.com/app/env" {
		t.Fatalf("expected destination from env, got %q", cfg.Stream.Destination)
	}
	if cfg.Stream.Encoder != "nvenc" {
		t.Fatalf("encoder not normalized: %q", cfg.Stream.Encoder)
	}
	if cfg.Stream.Profiles[1] != "640x360@800" {
		t.Fatalf("profile not trimmed: %q", cfg.Stream.Profiles[1])
	}
	if cfg.Logging.Format != "json" || cfg.Logging.Level != "debug" {
		t.Fatalf("logging not normalized: %+v", cfg.Logging)
	}

	rc := cfg.RetryConfig()
	if rc.Strategy != retry.StrategyFibonacci || rc.BaseDelay != 500*time.Millisecond || rc.MaxDelay != 30*time.Second {
		t.Fatalf("unexpected retry config %+v", rc)
	}
}

func TestConfigFileDestinationWinsOverEnv(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	t.Setenv("STREAMHOST_DESTINATION", "rtmp://env")
	configPath := filepath.Join(t.TempDir(), "config.toml")
	if err := os.WriteFile(configPath, []byte("[stream]\ndestination = \"rtmp://file\"\n"), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	cfg, _, _, err := config.Load(configPath)
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if cfg.Stream.Destination != "rtmp://file" {
		t.Fatalf("destination = %q", cfg.Stream.Destination)
	}
}

func TestLoadRejectsUnknownKeys(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	configPath := filepath.Join(t.TempDir(), "config.toml")
	if err := os.WriteFile(configPath, []byte("[stream]\nbogus = 1\n"), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	if _, _, _, err := config.Load(configPath); err == nil || !strings.Contains(err.Error(), "parse config") {
		t.Fatalf("expected parse error, got %v", err)
	}
}

func TestValidateRejectsBadValues(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*config.Config)
		want   string
	}{
		{"fps", func(c *config.Config) { c.Stream.FPS = 0 }, "stream.fps"},
		{"no profiles", func(c *config.Config) { c.Stream.Profiles = nil }, "stream.profiles"},
		{"bad profile", func(c *config.Config) { c.Stream.Profiles = []string{"1080p"} }, "stream.profiles"},
		{"strategy", func(c *config.Config) { c.Restart.Strategy = "random" }, "restart.strategy"},
		{"max below base", func(c *config.Config) { c.Restart.MaxDelaySeconds = 1 }, "restart"},
		{"jitter factor", func(c *config.Config) { c.Restart.JitterFactor = 2 }, "restart"},
		{"term grace", func(c *config.Config) { c.Restart.TermGraceSeconds = 0 }, "restart.term_grace_seconds"},
		{"manifest age", func(c *config.Config) { c.Janitor.ManifestMaxAgeSeconds = 0 }, "janitor.manifest_max_age_seconds"},
		{"bitrate ratio", func(c *config.Config) { c.Health.BitrateRatio = 1.5 }, "health.bitrate_ratio"},
		{"cpu", func(c *config.Config) { c.Health.MaxCPUPercent = 150 }, "health.max_cpu_percent"},
		{"log format", func(c *config.Config) { c.Logging.Format = "xml" }, "logging.format"},
		{"log level", func(c *config.Config) { c.Logging.Level = "trace" }, "logging.level"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := config.Default()
			tc.mutate(&cfg)
			err := cfg.Validate()
			if err == nil {
				t.Fatalf("expected validation error")
			}
			if !strings.Contains(err.Error(), tc.want) {
				t.Fatalf("error %q does not mention %q", err, tc.want)
			}
		})
	}
}

func TestDefaultValidates(t *testing.T) {
	cfg := config.Default()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config invalid: %v", err)
	}
	if cfg.StabilityWindow() != 5*time.Minute || cfg.TermGrace() != 10*time.Second {
		t.Fatalf("unexpected durations %v %v", cfg.StabilityWindow(), cfg.TermGrace())
	}
	if err := cfg.RetryConfig().Validate(); err != nil {
		t.Fatalf("default retry config invalid: %v", err)
	}
}

func TestDefaultPlan(t *testing.T) {
	cfg := config.Default()
	cfg.Stream.Destination = "rtmp://example/live"
	cfg.Stream.Preset = "fast"

	plan, err := cfg.DefaultPlan([]string{"/media/a.mp4"})
	if err != nil {
		t.Fatalf("DefaultPlan returned error: %v", err)
	}
	if plan.Destination != "rtmp://example/live" || plan.Encoder != "libx264" || plan.Preset != "fast" || plan.FPS != 30 {
		t.Fatalf("unexpected plan %+v", plan)
	}
	if len(plan.Profiles) != 3 || plan.Primary().Resolution() != "1920x1080" || plan.Primary().BitrateKbps != 4500 {
		t.Fatalf("unexpected profiles %+v", plan.Profiles)
	}
}

func TestEnsureDirectoriesCreatesPaths(t *testing.T) {
	base := t.TempDir()
	cfg := config.Default()
	cfg.Paths.PreviewDir = filepath.Join(base, "preview")
	cfg.Paths.StateDir = filepath.Join(base, "state")
	cfg.Paths.LogDir = filepath.Join(base, "logs")
	cfg.Paths.TempDir = filepath.Join(base, "tmp")

	if err := cfg.EnsureDirectories(); err != nil {
		t.Fatalf("EnsureDirectories returned error: %v", err)
	}
	for _, dir := range []string{cfg.Paths.PreviewDir, cfg.Paths.StateDir, cfg.Paths.LogDir, cfg.Paths.TempDir} {
		info, err := os.Stat(dir)
		if err != nil || !info.IsDir() {
			t.Fatalf("expected directory %s: %v", dir, err)
		}
	}
}

func TestCreateSampleRoundTrips(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	t.Setenv("STREAMHOST_DESTINATION", "")
	path := filepath.Join(t.TempDir(), "nested", "config.toml")
	if err := config.CreateSample(path); err != nil {
		t.Fatalf("CreateSample returned error: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read sample: %v", err)
	}
	var decoded config.Config
	if err := toml.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("sample is not valid TOML: %v", err)
	}

	cfg, _, exists, err := config.Load(path)
	if err != nil {
		t.Fatalf("Load sample returned error: %v", err)
	}
	if !exists {
		t.Fatal("expected sample to exist")
	}
	def := config.Default()
	if cfg.Restart != def.Restart {
		t.Fatalf("sample restart section drifted from defaults: %+v vs %+v", cfg.Restart, def.Restart)
	}
	if cfg.Janitor != def.Janitor || cfg.Health != def.Health {
		t.Fatal("sample janitor/health sections drifted from defaults")
	}
	if strings.Join(cfg.Stream.Profiles, ",") != strings.Join(def.Stream.Profiles, ",") {
		t.Fatalf("sample profiles drifted: %v", cfg.Stream.Profiles)
	}
}
