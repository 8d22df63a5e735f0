package config

const (
	defaultPreviewDir = "~/.local/share/streamhost/preview"
	defaultStateDir   = "~/.local/state/streamhost"
	defaultLogDir     = "~/.local/state/streamhost/logs"
	socketFileName    = "streamhost.sock"

	defaultFFmpegBinary   = "ffmpeg"
	defaultEncoder        = "libx264"
	defaultFPS            = 30
	defaultSegmentSeconds = 4
	defaultPlaylistSize   = 6

	defaultRestartStrategy        = "exponential"
	defaultBaseDelaySeconds       = 5
	defaultMaxDelaySeconds        = 300
	defaultMaxAttempts            = 10
	defaultJitterFactor           = 0.1
	defaultStabilityWindowSeconds = 300
	defaultTermGraceSeconds       = 10

	defaultJanitorIntervalSeconds = 300
	defaultManifestMaxAgeSeconds  = 3600
	defaultPreviewRetentionHours  = 24
	defaultPreviewMaxMB           = 2048

	defaultBitrateRatio        = 0.7
	defaultMaxDroppedFrames    = 100
	defaultMinFreeDiskGB       = 10
	defaultMaxCPUPercent       = 90
	defaultMaxMemoryPercent    = 90
	defaultLockWaitWarnSeconds = 1
	defaultLockHoldWarnSeconds = 5

	defaultMetricsPath = "/metrics"

	defaultNtfyRequestTimeoutSeconds = 10

	defaultLogFormat        = "console"
	defaultLogLevel         = "info"
	defaultLogRetentionDays = 30

	destinationEnv = "STREAMHOST_DESTINATION"
)

var defaultProfiles = []string{"1920x1080@4500", "1280x720@2500", "854x480@1000"}

// Default returns a Config populated with repository defaults.
func Default() Config {
	return Config{
		Paths: Paths{
			PreviewDir: defaultPreviewDir,
			StateDir:   defaultStateDir,
			LogDir:     defaultLogDir,
		},
		Stream: Stream{
			FFmpegBinary:   defaultFFmpegBinary,
			Encoder:        defaultEncoder,
			FPS:            defaultFPS,
			Profiles:       append([]string(nil), defaultProfiles...),
			SegmentSeconds: defaultSegmentSeconds,
			PlaylistSize:   defaultPlaylistSize,
		},
		Restart: Restart{
			Strategy:               defaultRestartStrategy,
			BaseDelaySeconds:       defaultBaseDelaySeconds,
			MaxDelaySeconds:        defaultMaxDelaySeconds,
			MaxAttempts:            defaultMaxAttempts,
			Jitter:                 true,
			JitterFactor:           defaultJitterFactor,
			StabilityWindowSeconds: defaultStabilityWindowSeconds,
			TermGraceSeconds:       defaultTermGraceSeconds,
		},
		Janitor: Janitor{
			IntervalSeconds:       defaultJanitorIntervalSeconds,
			ManifestMaxAgeSeconds: defaultManifestMaxAgeSeconds,
			PreviewRetentionHours: defaultPreviewRetentionHours,
			PreviewMaxMB:          defaultPreviewMaxMB,
		},
		Health: Health{
			BitrateRatio:        defaultBitrateRatio,
			MaxDroppedFrames:    defaultMaxDroppedFrames,
			MinFreeDiskGB:       defaultMinFreeDiskGB,
			MaxCPUPercent:       defaultMaxCPUPercent,
			MaxMemoryPercent:    defaultMaxMemoryPercent,
			LockWaitWarnSeconds: defaultLockWaitWarnSeconds,
			LockHoldWarnSeconds: defaultLockHoldWarnSeconds,
		},
		Metrics: Metrics{
			Path: defaultMetricsPath,
		},
		Notifications: Notifications{
			RequestTimeoutSeconds: defaultNtfyRequestTimeoutSeconds,
			NotifyCrashes:         true,
		},
		Logging: Logging{
			Format:        defaultLogFormat,
			Level:         defaultLogLevel,
			RetentionDays: defaultLogRetentionDays,
		},
	}
}
