package stream

import (
	"time"

	"streamhost/internal/telemetry"
)

// State is the supervisor lifecycle position.
type State string

const (
	StateIdle        State = "idle"
	StateStarting    State = "starting"
	StateRunning     State = "running"
	StateExitedClean State = "exited_clean"
	StateExitedError State = "exited_error"
	StateBackoff     State = "backoff"
	StateStopping    State = "stopping"
	StateStopped     State = "stopped"
	StateGivenUp     State = "given_up"
)

// Active reports whether a session owns the supervisor in this state.
func (s State) Active() bool {
	switch s {
	case StateStarting, StateRunning, StateExitedError, StateBackoff, StateStopping:
		return true
	default:
		return false
	}
}

// Snapshot is a point-in-time copy of supervisor state.
type Snapshot struct {
	SessionID           string            `json:"session_id,omitempty"`
	State               State             `json:"state"`
	Running             bool              `json:"running"`
	CorrelationID       string            `json:"correlation_id,omitempty"`
	Destination         string            `json:"destination,omitempty"`
	TargetBitrateKbps   int               `json:"target_bitrate_kbps,omitempty"`
	StartedAt           time.Time         `json:"started_at,omitzero"`
	LastError           string            `json:"last_error,omitempty"`
	Metrics             telemetry.Metrics `json:"metrics"`
	RestartAttempts     int               `json:"restart_attempts"`
	ConsecutiveFailures int               `json:"consecutive_failures"`
	LastSuccess         time.Time         `json:"last_success,omitzero"`
	PID                 int               `json:"pid,omitempty"`
	Uptime              time.Duration     `json:"uptime"`
	Diagnostics         []string          `json:"diagnostics,omitempty"`
}
