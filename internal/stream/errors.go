package stream

import (
	"errors"
	"fmt"

	"streamhost/internal/launchplan"
)

var (
	// ErrAlreadyActive rejects Start while a session owns the supervisor.
	ErrAlreadyActive = errors.New("stream already active")
	// ErrGivenUp prefixes the last error once the restart budget is spent.
	ErrGivenUp = errors.New("restart attempts exhausted")
	// ErrStopped reports that Stop detached the session during a launch.
	ErrStopped = errors.New("stream stopped during launch")
	// ErrPrepare wraps failures to set up the manifest or output directory.
	ErrPrepare = errors.New("prepare launch")

	ErrInvalidPlan  = launchplan.ErrInvalidPlan
	ErrMissingInput = launchplan.ErrMissingInput
)

// LaunchError reports that the encoder process could not be spawned. It is
// retried like a crash. Attempt is the 1-based launch number.
type LaunchError struct {
	Attempt int
	Err     error
}

func (e *LaunchError) Error() string {
	return fmt.Sprintf("launch encoder (attempt %d): %v", e.Attempt, e.Err)
}

func (e *LaunchError) Unwrap() error { return e.Err }

// IsFatal reports whether err can never succeed on retry with the same plan.
func IsFatal(err error) bool {
	return errors.Is(err, ErrInvalidPlan) || errors.Is(err, ErrMissingInput) || errors.Is(err, ErrPrepare)
}
