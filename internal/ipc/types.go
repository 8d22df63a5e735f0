package ipc

import (
	"streamhost/internal/daemon"
	"streamhost/internal/health"
	"streamhost/internal/journal"
	"streamhost/internal/lockwatch"
	"streamhost/internal/preflight"
	"streamhost/internal/stream"
)

// StartRequest asks the daemon to publish a playlist.
type StartRequest = daemon.StreamRequest

// StartResponse reports the session created by a start request. Launched
// is false when the first spawn failed and the restart sequence took over.
type StartResponse struct {
	SessionID string `json:"session_id"`
	Launched  bool   `json:"launched"`
	Message   string `json:"message,omitempty"`
}

// StopRequest ends the active stream.
type StopRequest struct{}

// StopResponse carries the snapshot taken after the stop completed.
type StopResponse struct {
	Stream stream.Snapshot `json:"stream"`
}

// StatusRequest fetches daemon status.
type StatusRequest struct{}

// StatusResponse represents combined daemon and stream status.
type StatusResponse = daemon.Status

// HealthRequest runs the health checks.
type HealthRequest struct{}

// HealthResponse wraps a health report.
type HealthResponse struct {
	Report health.Report `json:"report"`
}

// HistoryRequest selects journaled events.
type HistoryRequest struct {
	Limit     int    `json:"limit"`
	SessionID string `json:"session_id,omitempty"`
}

// HistoryResponse lists events newest first.
type HistoryResponse struct {
	Events []journal.Entry `json:"events"`
}

// LocksRequest fetches lock contention counters.
type LocksRequest struct{}

// LocksResponse lists one snapshot per watched mutex.
type LocksResponse struct {
	Locks []lockwatch.Snapshot `json:"locks"`
}

// PreflightRequest runs readiness checks on the daemon host.
type PreflightRequest struct {
	ProbeDestination bool `json:"probe_destination"`
}

// PreflightResponse lists check results.
type PreflightResponse struct {
	Results []preflight.Result `json:"results"`
}

// LogTailRequest reads the daemon log.
type LogTailRequest struct {
	Offset     int64  `json:"offset"`
	Limit      int    `json:"limit"`
	Follow     bool   `json:"follow"`
	WaitMillis int    `json:"wait_millis"`
	Match      string `json:"match,omitempty"`
}

// LogTailResponse returns log lines and the offset to resume from.
type LogTailResponse struct {
	Lines  []string `json:"lines"`
	Offset int64    `json:"offset"`
}

// TestNotificationRequest sends a test alert.
type TestNotificationRequest struct{}

// TestNotificationResponse reports whether the alert was delivered.
type TestNotificationResponse struct {
	Sent    bool   `json:"sent"`
	Message string `json:"message,omitempty"`
}

// ShutdownRequest stops the daemon process.
type ShutdownRequest struct{}

// ShutdownResponse acknowledges a shutdown request.
type ShutdownResponse struct {
	Acknowledged bool `json:"acknowledged"`
}
