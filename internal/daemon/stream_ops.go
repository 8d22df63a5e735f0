package daemon

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/google/uuid"

	"streamhost/internal/health"
	"streamhost/internal/journal"
	"streamhost/internal/launchplan"
	"streamhost/internal/lockwatch"
	"streamhost/internal/logging"
	"streamhost/internal/preflight"
	"streamhost/internal/stream"
)

// StreamRequest describes a playlist to publish. Empty fields fall back to
// the stream section of the configuration.
type StreamRequest struct {
	Files         []string `json:"files"`
	Destination   string   `json:"destination,omitempty"`
	Profiles      []string `json:"profiles,omitempty"`
	Encoder       string   `json:"encoder,omitempty"`
	CorrelationID string   `json:"correlation_id,omitempty"`
}

// StartStream builds a launch plan from req and hands it to the
// supervisor. It returns the new session id.
func (d *Daemon) StartStream(ctx context.Context, req StreamRequest) (string, error) {
	if !d.running.Load() {
		return "", ErrNotRunning
	}
	plan, err := d.planFor(req)
	if err != nil {
		return "", err
	}
	logger := d.logger.With(logging.String(logging.FieldCorrelationID, plan.CorrelationID))
	logger.Info("stream start requested",
		logging.String(logging.FieldEventType, "stream_start_requested"),
		logging.Int("file_count", len(plan.Files)),
		logging.Int("rendition_count", len(plan.Profiles)),
	)
	return d.supervisor.Start(ctx, plan)
}

// StopStream ends the active session, if any, and returns the resulting
// snapshot.
func (d *Daemon) StopStream(ctx context.Context) (stream.Snapshot, error) {
	if err := d.supervisor.Stop(ctx); err != nil {
		return d.supervisor.Status(), err
	}
	return d.supervisor.Status(), nil
}

// Health runs every health check once.
func (d *Daemon) Health(ctx context.Context) health.Report {
	return d.monitor.Check(ctx)
}

// History returns journaled events, newest first.
func (d *Daemon) History(ctx context.Context, limit int, sessionID string) ([]journal.Entry, error) {
	return d.journal.Recent(ctx, limit, sessionID)
}

// Locks reports contention for every watched mutex.
func (d *Daemon) Locks() []lockwatch.Snapshot {
	return d.locks.Snapshots()
}

// Preflight runs the local readiness checks.
func (d *Daemon) Preflight(ctx context.Context, probeDestination bool) []preflight.Result {
	return preflight.RunAll(ctx, d.cfg, probeDestination)
}

func (d *Daemon) planFor(req StreamRequest) (launchplan.Plan, error) {
	files := make([]string, 0, len(req.Files))
	for _, f := range req.Files {
		f = strings.TrimSpace(f)
		if f == "" {
			continue
		}
		abs, err := filepath.Abs(f)
		if err != nil {
			return launchplan.Plan{}, fmt.Errorf("resolve %s: %w", f, err)
		}
		files = append(files, abs)
	}

	plan, err := d.cfg.DefaultPlan(files)
	if err != nil {
		return launchplan.Plan{}, err
	}
	if dest := strings.TrimSpace(req.Destination); dest != "" {
		plan.Destination = dest
	}
	if len(req.Profiles) > 0 {
		profiles, err := launchplan.ParseProfiles(req.Profiles)
		if err != nil {
			return launchplan.Plan{}, fmt.Errorf("%w: %w", stream.ErrInvalidPlan, err)
		}
		plan.Profiles = profiles
	}
	if enc := strings.TrimSpace(req.Encoder); enc != "" {
		plan.Encoder = strings.ToLower(enc)
	}
	plan.CorrelationID = strings.TrimSpace(req.CorrelationID)
	if plan.CorrelationID == "" {
		plan.CorrelationID = uuid.NewString()
	}
	return plan, nil
}

// ErrNotificationsDisabled is returned by TestNotification without a topic.
var ErrNotificationsDisabled = errors.New("notifications disabled (set notifications.ntfy_topic)")

// TestNotification sends a test alert through the configured topic.
func (d *Daemon) TestNotification(ctx context.Context) error {
	if !d.notifier.Enabled() {
		return ErrNotificationsDisabled
	}
	return d.notifier.TestNotification(ctx)
}
