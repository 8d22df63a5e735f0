package stream

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"streamhost/internal/concat"
	"streamhost/internal/launchplan"
	"streamhost/internal/lockwatch"
	"streamhost/internal/logging"
	"streamhost/internal/retry"
	"streamhost/internal/telemetry"
)

const (
	DefaultStabilityWindow = 5 * time.Minute
	DefaultTermGrace       = 10 * time.Second
	DefaultTaskWait        = 5 * time.Second
	DefaultLockTimeout     = 2 * time.Second

	// lastErrorLines is how many diagnostic lines a crash report carries.
	lastErrorLines = 10

	// GuardName is the lockwatch name of the supervisor state guard.
	GuardName = "supervisor_state"
	// PreviewGuardName is the lockwatch name shared with the janitor.
	PreviewGuardName = "preview_directory"
	// InstanceLockFile marks the preview directory as owned by one daemon.
	InstanceLockFile = ".streamhost.lock"
)

// Options configures a Supervisor.
type Options struct {
	Binary         string
	PreviewDir     string
	TempDir        string
	SegmentSeconds int
	PlaylistSize   int

	Retry           retry.Config
	StabilityWindow time.Duration
	TermGrace       time.Duration
	TaskWait        time.Duration
	LockTimeout     time.Duration
	ReadTimeout     time.Duration
	DiagnosticLines int

	Logger       *slog.Logger
	Locks        *lockwatch.Registry
	PreviewGuard *lockwatch.Mutex
	Observers    []Observer

	// Rand replaces the jitter source; tests use it for fixed delays.
	Rand func() float64
}

// Supervisor runs at most one encoder session and restarts it on crashes.
type Supervisor struct {
	opts    Options
	logger  *slog.Logger
	calc    *retry.Calculator
	guard   *lockwatch.Mutex
	preview *lockwatch.Mutex

	// Guarded by guard.
	state   State
	current *session
	last    outcome

	obsMu     sync.RWMutex
	observers []Observer
}

// outcome survives teardown so Status can explain a given_up or clean end.
type outcome struct {
	sessionID           string
	correlationID       string
	lastError           string
	restartAttempts     int
	consecutiveFailures int
	lastSuccess         time.Time
}

// session is the state of one broadcast from Start until teardown.
type session struct {
	id        string
	plan      launchplan.Plan
	ctx       context.Context
	cancel    context.CancelFunc
	startedAt time.Time

	manifest    *concat.Manifest
	run         *run
	launching   chan struct{}
	restartTask *task
	restarting  bool
	stopping    bool

	lastError           string
	lastRunDuration     time.Duration
	metrics             telemetry.Metrics
	diagnostics         *telemetry.Ring
	restartAttempts     int
	consecutiveFailures int
	lastSuccess         time.Time
}

// New constructs an idle supervisor.
func New(opts Options) (*Supervisor, error) {
	if opts.Binary == "" {
		opts.Binary = "ffmpeg"
	}
	if opts.PreviewDir == "" {
		return nil, errors.New("stream supervisor: preview directory is required")
	}
	if opts.Retry == (retry.Config{}) {
		opts.Retry = retry.DefaultConfig()
	}
	if opts.StabilityWindow <= 0 {
		opts.StabilityWindow = DefaultStabilityWindow
	}
	if opts.TermGrace <= 0 {
		opts.TermGrace = DefaultTermGrace
	}
	if opts.TaskWait <= 0 {
		opts.TaskWait = DefaultTaskWait
	}
	if opts.LockTimeout <= 0 {
		opts.LockTimeout = DefaultLockTimeout
	}
	if opts.DiagnosticLines <= 0 {
		opts.DiagnosticLines = telemetry.DefaultRingSize
	}

	var calcOpts []retry.Option
	if opts.Rand != nil {
		calcOpts = append(calcOpts, retry.WithRand(opts.Rand))
	}
	calc, err := retry.New(opts.Retry, calcOpts...)
	if err != nil {
		return nil, fmt.Errorf("stream supervisor: %w", err)
	}

	guard := lockwatch.New(GuardName)
	preview := opts.PreviewGuard
	if preview == nil {
		preview = lockwatch.New(PreviewGuardName)
	}
	if opts.Locks != nil {
		opts.Locks.Register(guard)
		opts.Locks.Register(preview)
	}

	return &Supervisor{
		opts:      opts,
		logger:    logging.NewComponentLogger(opts.Logger, "stream"),
		calc:      calc,
		guard:     guard,
		preview:   preview,
		state:     StateIdle,
		observers: append([]Observer(nil), opts.Observers...),
	}, nil
}

// AddObserver registers o for all subsequent events.
func (s *Supervisor) AddObserver(o Observer) {
	if o == nil {
		return
	}
	s.obsMu.Lock()
	s.observers = append(s.observers, o)
	s.obsMu.Unlock()
}

// Start launches plan as a new session and returns its id. Invalid plans,
// missing inputs and manifest failures return immediately with the
// supervisor back at idle. A spawn failure returns *LaunchError together
// with the session id; the restart sequence is already running by then.
func (s *Supervisor) Start(ctx context.Context, plan launchplan.Plan) (string, error) {
	s.guard.Lock()
	if s.state.Active() {
		state := s.state
		s.guard.Unlock()
		return "", fmt.Errorf("%w (state %s)", ErrAlreadyActive, state)
	}
	sessCtx, cancel := context.WithCancel(context.Background())
	sess := &session{
		id:          uuid.NewString(),
		plan:        plan.Clone(),
		ctx:         sessCtx,
		cancel:      cancel,
		startedAt:   time.Now(),
		diagnostics: telemetry.NewRing(s.opts.DiagnosticLines),
	}
	s.current = sess
	s.state = StateStarting
	s.last = outcome{}
	s.guard.Unlock()

	logger := s.sessionLogger(sess)
	err := s.launch(sess)
	switch {
	case err == nil:
		logger.Info("stream started",
			logging.String(logging.FieldEventType, "stream_started"),
			logging.String("destination", sess.plan.Destination),
			logging.String("encoder", sess.plan.Encoder),
			logging.Int("profiles", len(sess.plan.Profiles)),
			logging.Int("files", len(sess.plan.Files)),
		)
		s.emit(ctx, s.newEvent(sess, EventStarted))
		return sess.id, nil
	case IsFatal(err):
		s.guard.Lock()
		if s.current == sess {
			s.current = nil
			s.state = StateIdle
		}
		s.guard.Unlock()
		s.release(sess)
		logger.Warn("stream start rejected",
			logging.String(logging.FieldEventType, "stream_start_rejected"),
			logging.Error(err),
		)
		return "", err
	default:
		var launchErr *LaunchError
		if errors.As(err, &launchErr) {
			logging.WarnWithContext(logger, "encoder launch failed", "launch_failed",
				logging.Error(err),
				logging.String(logging.FieldErrorHint, "check stream.ffmpeg_binary and that ffmpeg is installed"),
				logging.String(logging.FieldImpact, "stream offline until a relaunch succeeds"),
			)
			ev := s.newEvent(sess, EventLaunchFailed)
			ev.Error = err.Error()
			s.emit(ctx, ev)
			s.triggerRestart(sess)
			return sess.id, err
		}
		return "", err
	}
}

// Stop ends the active session. It cancels any backoff, terminates the
// encoder, waits (bounded) for background tasks, and removes the
// manifest. Without an active session it does nothing.
func (s *Supervisor) Stop(ctx context.Context) error {
	s.guard.Lock()
	sess := s.current
	if sess == nil {
		s.guard.Unlock()
		return nil
	}
	sess.stopping = true
	s.state = StateStopping
	s.current = nil
	r := sess.run
	launching := sess.launching
	restartTask := sess.restartTask
	ev := s.newEventLocked(sess, EventStopped)
	s.guard.Unlock()

	sess.cancel()
	s.teardown(ctx, sess, r, launching, restartTask)

	s.guard.Lock()
	if s.current == nil && s.state == StateStopping {
		s.state = StateStopped
	}
	s.last = outcome{}
	s.guard.Unlock()

	s.sessionLogger(sess).Info("stream stopped",
		logging.String(logging.FieldEventType, "stream_stopped"),
		logging.Int(logging.FieldAttempt, ev.Attempt),
	)
	s.emit(ctx, ev)
	return nil
}

// Status returns a snapshot of the supervisor. The guard is never held
// across process I/O, so this does not wait on the encoder.
func (s *Supervisor) Status() Snapshot {
	s.guard.Lock()
	defer s.guard.Unlock()

	snap := Snapshot{
		State:               s.state,
		SessionID:           s.last.sessionID,
		CorrelationID:       s.last.correlationID,
		LastError:           s.last.lastError,
		RestartAttempts:     s.last.restartAttempts,
		ConsecutiveFailures: s.last.consecutiveFailures,
		LastSuccess:         s.last.lastSuccess,
	}
	sess := s.current
	if sess == nil {
		return snap
	}
	snap.SessionID = sess.id
	snap.CorrelationID = sess.plan.CorrelationID
	snap.Destination = sess.plan.Destination
	snap.TargetBitrateKbps = sess.plan.Primary().BitrateKbps
	snap.StartedAt = sess.startedAt
	snap.LastError = sess.lastError
	snap.Metrics = sess.metrics
	snap.RestartAttempts = sess.restartAttempts
	snap.ConsecutiveFailures = sess.consecutiveFailures
	snap.LastSuccess = sess.lastSuccess
	snap.Diagnostics = sess.diagnostics.Lines()
	if r := sess.run; r != nil {
		snap.Running = s.state == StateRunning
		snap.PID = r.pid
		snap.Uptime = time.Since(r.startedAt)
	}
	return snap
}

// ActiveManifestDir returns the temp directory of the live manifest, or "".
func (s *Supervisor) ActiveManifestDir() string {
	s.guard.Lock()
	defer s.guard.Unlock()
	if s.current == nil || s.current.manifest == nil {
		return ""
	}
	return s.current.manifest.Dir()
}

// Guard exposes the state guard for lock diagnostics.
func (s *Supervisor) Guard() *lockwatch.Mutex { return s.guard }

// teardown releases everything a detached session still holds. Tasks that
// are the caller's own goroutine are not waited for.
func (s *Supervisor) teardown(ctx context.Context, sess *session, r *run, launching <-chan struct{}, tasks ...*task) {
	self := currentTask(ctx)
	if launching != nil {
		timer := time.NewTimer(s.opts.TaskWait + s.opts.TermGrace)
		select {
		case <-launching:
		case <-timer.C:
			s.logger.Warn("launch did not settle before teardown",
				logging.String(logging.FieldEventType, "teardown_launch_timeout"),
				logging.String(logging.FieldSessionID, sess.id),
			)
		}
		timer.Stop()
	}
	if r != nil {
		s.terminate(r)
		tasks = append(tasks, r.watchdog)
	}
	for _, t := range tasks {
		if t == nil || t == self {
			continue
		}
		t.cancel()
		if !t.wait(s.opts.TaskWait) {
			logging.WarnWithContext(s.logger, "background task did not exit in time", "task_wait_timeout",
				logging.String("task", t.name),
				logging.String(logging.FieldSessionID, sess.id),
				logging.Duration("timeout", s.opts.TaskWait),
				logging.String(logging.FieldImpact, "cleanup continued without it"),
			)
		}
	}
	s.release(sess)
}

// release cancels the session context and removes its manifest.
func (s *Supervisor) release(sess *session) {
	sess.cancel()
	s.guard.Lock()
	m := sess.manifest
	sess.manifest = nil
	sess.run = nil
	sess.restartTask = nil
	s.guard.Unlock()
	if m == nil {
		return
	}
	if err := m.Cleanup(); err != nil {
		logging.WarnWithContext(s.logger, "manifest cleanup failed", "manifest_cleanup_failed",
			logging.String(logging.FieldSessionID, sess.id),
			logging.String("dir", m.Dir()),
			logging.Error(err),
			logging.String(logging.FieldImpact, "janitor will remove the orphaned directory"),
		)
	}
}

// terminate sends SIGTERM to the encoder group, escalates to SIGKILL after
// TermGrace, and waits (bounded) for the exit to be observed.
func (s *Supervisor) terminate(r *run) {
	select {
	case <-r.exited:
		return
	default:
	}
	if err := signalTerminate(r.cmd.Process); err != nil {
		s.logger.Debug("terminate signal failed", logging.Int(logging.FieldPID, r.pid), logging.Error(err))
	}
	grace := time.NewTimer(s.opts.TermGrace)
	defer grace.Stop()
	select {
	case <-r.exited:
		return
	case <-grace.C:
	}
	logging.WarnWithContext(s.logger, "encoder ignored SIGTERM; killing", "encoder_killed",
		logging.Int(logging.FieldPID, r.pid),
		logging.Duration("grace", s.opts.TermGrace),
		logging.String(logging.FieldImpact, "final segments may be truncated"),
	)
	if err := signalKill(r.cmd.Process); err != nil {
		s.logger.Debug("kill signal failed", logging.Int(logging.FieldPID, r.pid), logging.Error(err))
	}
	wait := time.NewTimer(s.opts.TaskWait)
	defer wait.Stop()
	select {
	case <-r.exited:
	case <-wait.C:
		logging.ErrorWithContext(s.logger, "encoder exit not observed after SIGKILL", "encoder_kill_timeout",
			logging.Int(logging.FieldPID, r.pid),
			logging.String(logging.FieldErrorHint, "check for an unkillable ffmpeg process"),
		)
	}
}

func (s *Supervisor) sessionLogger(sess *session) *slog.Logger {
	logger := s.logger.With(logging.String(logging.FieldSessionID, sess.id))
	if sess.plan.CorrelationID != "" {
		logger = logger.With(logging.String(logging.FieldCorrelationID, sess.plan.CorrelationID))
	}
	return logger
}

func (s *Supervisor) newEvent(sess *session, typ EventType) Event {
	s.guard.Lock()
	defer s.guard.Unlock()
	return s.newEventLocked(sess, typ)
}

func (s *Supervisor) newEventLocked(sess *session, typ EventType) Event {
	ev := Event{
		Type:          typ,
		SessionID:     sess.id,
		CorrelationID: sess.plan.CorrelationID,
		Attempt:       sess.restartAttempts,
		Time:          time.Now(),
	}
	if sess.run != nil {
		ev.PID = sess.run.pid
	}
	return ev
}

// emit delivers ev to observers with the guard released.
func (s *Supervisor) emit(ctx context.Context, ev Event) {
	if ctx == nil {
		ctx = context.Background()
	}
	ctx = context.WithoutCancel(ctx)
	s.obsMu.RLock()
	observers := append([]Observer(nil), s.observers...)
	s.obsMu.RUnlock()
	for _, o := range observers {
		o.OnEvent(ctx, ev)
	}
}
