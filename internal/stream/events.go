package stream

import (
	"context"
	"time"
)

// EventType names a supervisor lifecycle event.
type EventType string

const (
	EventStarted          EventType = "started"
	EventCrashed          EventType = "crashed"
	EventRestartScheduled EventType = "restart_scheduled"
	EventRestarted        EventType = "restarted"
	EventLaunchFailed     EventType = "launch_failed"
	EventExitedClean      EventType = "exited_clean"
	EventGivenUp          EventType = "given_up"
	EventStopped          EventType = "stopped"
)

// Event describes one lifecycle transition.
type Event struct {
	Type          EventType     `json:"type"`
	SessionID     string        `json:"session_id"`
	CorrelationID string        `json:"correlation_id,omitempty"`
	Attempt       int           `json:"attempt,omitempty"`
	Delay         time.Duration `json:"delay,omitempty"`
	ExitCode      int           `json:"exit_code,omitempty"`
	PID           int           `json:"pid,omitempty"`
	Error         string        `json:"error,omitempty"`
	Time          time.Time     `json:"time"`
}

// Observer receives lifecycle events. OnEvent runs on the goroutine that
// caused the transition with the guard released. ctx is never canceled and
// may be passed to Stop from inside the watchdog or restart sequence.
type Observer interface {
	OnEvent(ctx context.Context, event Event)
}

// ObserverFunc adapts a function to Observer.
type ObserverFunc func(ctx context.Context, event Event)

func (f ObserverFunc) OnEvent(ctx context.Context, event Event) { f(ctx, event) }
