package stream

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"sync"
	"time"

	"streamhost/internal/concat"
	"streamhost/internal/ffmpeg"
	"streamhost/internal/logging"
	"streamhost/internal/telemetry"
)

// run is one encoder process.
type run struct {
	cmd       *exec.Cmd
	pid       int
	startedAt time.Time
	exited    chan struct{}
	progress  *os.File
	stderr    *os.File
	watchdog  *task
}

func (r *run) closePipes() {
	if r.progress != nil {
		_ = r.progress.Close()
	}
	if r.stderr != nil {
		_ = r.stderr.Close()
	}
}

// launch spawns one encoder run for sess. Preparation happens under the
// guard; the spawn itself does not.
//
// The preview guard is acquired before the state guard, never the other
// way round, so a busy janitor delays only the launch and not Status.
func (s *Supervisor) launch(sess *session) error {
	previewErr := s.preview.LockTimeout(s.opts.LockTimeout)
	releasePreview := func() {
		if previewErr == nil {
			s.preview.Unlock()
		}
	}

	s.guard.Lock()
	if s.current != sess || sess.stopping {
		s.guard.Unlock()
		releasePreview()
		return ErrStopped
	}
	cmd, err := s.prepareLocked(sess, previewErr)
	if err != nil {
		s.guard.Unlock()
		releasePreview()
		return err
	}
	attempt := sess.restartAttempts
	launching := make(chan struct{})
	sess.launching = launching
	s.guard.Unlock()
	releasePreview()
	defer close(launching)

	r, spawnErr := startProcess(cmd)

	s.guard.Lock()
	sess.launching = nil
	detached := s.current != sess || sess.stopping
	if spawnErr != nil {
		sess.lastError = fmt.Sprintf("launch encoder: %v", spawnErr)
		sess.lastRunDuration = 0
		if !detached {
			s.state = StateExitedError
		}
		s.guard.Unlock()
		return &LaunchError{Attempt: attempt + 1, Err: spawnErr}
	}
	if detached {
		s.guard.Unlock()
		go func() {
			_ = r.cmd.Wait()
			close(r.exited)
		}()
		s.terminate(r)
		r.closePipes()
		return ErrStopped
	}
	sess.run = r
	sess.lastSuccess = r.startedAt
	// A crash of this run may trigger a new restart sequence. The handle of
	// the current one stays set until it returns so Stop still waits for it.
	sess.restarting = false
	s.state = StateRunning
	r.watchdog = startTask(sess.ctx, "watchdog", func(ctx context.Context) {
		s.watch(ctx, sess, r)
	})
	s.guard.Unlock()
	return nil
}

// prepareLocked validates the plan, prunes stale preview output, and
// writes a fresh manifest. Every error it returns is fatal. previewErr is
// the result of acquiring the preview guard; the prune only runs when it
// is nil.
func (s *Supervisor) prepareLocked(sess *session, previewErr error) (*exec.Cmd, error) {
	plan := sess.plan
	if err := plan.Validate(); err != nil {
		return nil, err
	}
	if err := os.MkdirAll(s.opts.PreviewDir, 0o755); err != nil {
		return nil, fmt.Errorf("%w: create preview dir: %w", ErrPrepare, err)
	}
	if s.opts.TempDir != "" {
		if err := os.MkdirAll(s.opts.TempDir, 0o755); err != nil {
			return nil, fmt.Errorf("%w: create temp dir: %w", ErrPrepare, err)
		}
	}
	s.prunePreviewLocked(sess, previewErr)

	if sess.manifest != nil {
		if err := sess.manifest.Cleanup(); err != nil {
			s.logger.Debug("previous manifest cleanup failed", logging.Error(err))
		}
		sess.manifest = nil
	}
	manifest, err := concat.Build(plan.Files, concat.Options{TempDir: s.opts.TempDir})
	if err != nil {
		if errors.Is(err, ErrMissingInput) || errors.Is(err, ErrInvalidPlan) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %w", ErrPrepare, err)
	}

	args, err := ffmpeg.Build(plan, manifest.Path(), ffmpeg.Options{
		Binary:         s.opts.Binary,
		PreviewDir:     s.opts.PreviewDir,
		SegmentSeconds: s.opts.SegmentSeconds,
		PlaylistSize:   s.opts.PlaylistSize,
	})
	if err != nil {
		_ = manifest.Cleanup()
		if errors.Is(err, ErrInvalidPlan) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %w", ErrPrepare, err)
	}
	sess.manifest = manifest
	sess.metrics = telemetry.Metrics{}
	sess.diagnostics.Reset()

	s.sessionLogger(sess).Debug("encoder command built",
		logging.String("command", strings.Join(args, " ")),
		logging.String("manifest", manifest.Path()),
	)

	cmd := exec.Command(args[0], args[1:]...)
	configureProcess(cmd)
	return cmd, nil
}

// prunePreviewLocked removes stale segments before a new encoder starts.
// The caller holds the preview guard shared with the janitor when
// previewErr is nil. A busy guard or a failed prune only costs disk space,
// so neither aborts the launch.
func (s *Supervisor) prunePreviewLocked(sess *session, previewErr error) {
	if previewErr != nil {
		logging.WarnWithContext(s.logger, "preview prune skipped", "preview_prune_skipped",
			logging.String(logging.FieldSessionID, sess.id),
			logging.Error(previewErr),
			logging.String(logging.FieldImpact, "stale segments remain until the next sweep"),
		)
		return
	}
	removed, err := ffmpeg.PruneStale(s.opts.PreviewDir, s.opts.SegmentSeconds, time.Now(), InstanceLockFile)
	if err != nil {
		logging.WarnWithContext(s.logger, "preview prune incomplete", "preview_prune_failed",
			logging.String(logging.FieldSessionID, sess.id),
			logging.Error(err),
			logging.String(logging.FieldImpact, "stale segments remain until the next sweep"),
		)
	}
	if removed > 0 {
		s.logger.Debug("pruned stale preview output", logging.Int("removed", removed))
	}
}

// startProcess spawns cmd with progress on fd 3 and stderr on its own pipe.
func startProcess(cmd *exec.Cmd) (*run, error) {
	progR, progW, err := os.Pipe()
	if err != nil {
		return nil, fmt.Errorf("progress pipe: %w", err)
	}
	errR, errW, err := os.Pipe()
	if err != nil {
		_ = progR.Close()
		_ = progW.Close()
		return nil, fmt.Errorf("stderr pipe: %w", err)
	}
	cmd.ExtraFiles = []*os.File{progW}
	cmd.Stderr = errW

	if err := cmd.Start(); err != nil {
		for _, f := range []*os.File{progR, progW, errR, errW} {
			_ = f.Close()
		}
		return nil, err
	}
	_ = progW.Close()
	_ = errW.Close()
	return &run{
		cmd:       cmd,
		pid:       cmd.Process.Pid,
		startedAt: time.Now(),
		exited:    make(chan struct{}),
		progress:  progR,
		stderr:    errR,
	}, nil
}

// watch reads telemetry for r and handles its exit.
func (s *Supervisor) watch(ctx context.Context, sess *session, r *run) {
	readCtx, cancelRead := context.WithCancel(ctx)
	defer cancelRead()

	sink := &sessionSink{s: s, sess: sess}
	reader := telemetry.Reader{Timeout: s.opts.ReadTimeout, Logger: s.logger}
	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		if err := reader.Run(readCtx, r.progress, func(line string) { telemetry.Dispatch(line, sink) }); err != nil {
			s.logger.Debug("progress reader stopped", logging.Error(err))
		}
	}()
	go func() {
		defer wg.Done()
		if err := reader.Run(readCtx, r.stderr, sink.AppendDiagnostic); err != nil {
			s.logger.Debug("stderr reader stopped", logging.Error(err))
		}
	}()
	readersDone := make(chan struct{})
	go func() {
		wg.Wait()
		close(readersDone)
	}()

	waitErr := r.cmd.Wait()
	close(r.exited)

	// Drain what the encoder wrote before exiting, then force the readers out.
	drain := time.NewTimer(s.opts.TaskWait)
	select {
	case <-readersDone:
	case <-drain.C:
		cancelRead()
		r.closePipes()
		<-readersDone
	}
	drain.Stop()
	r.closePipes()

	s.handleExit(ctx, sess, r, waitErr)
}

func (s *Supervisor) handleExit(ctx context.Context, sess *session, r *run, waitErr error) {
	code := exitCode(waitErr)
	ended := time.Now()
	logger := s.sessionLogger(sess)

	s.guard.Lock()
	if s.current != sess || sess.run != r || sess.stopping {
		s.guard.Unlock()
		return
	}
	sess.run = nil
	if code == 0 {
		s.state = StateExitedClean
		s.current = nil
		s.last = outcome{
			sessionID:     sess.id,
			correlationID: sess.plan.CorrelationID,
			lastSuccess:   sess.lastSuccess,
		}
		ev := s.newEventLocked(sess, EventExitedClean)
		ev.PID = r.pid
		s.guard.Unlock()

		logger.Info("encoder finished playback",
			logging.String(logging.FieldEventType, "stream_exited_clean"),
			logging.Int(logging.FieldPID, r.pid),
			logging.Duration("ran_for", ended.Sub(r.startedAt)),
		)
		s.release(sess)
		s.guard.Lock()
		if s.current == nil && s.state == StateExitedClean {
			s.state = StateIdle
		}
		s.guard.Unlock()
		s.emit(ctx, ev)
		return
	}

	sess.lastRunDuration = ended.Sub(r.startedAt)
	sess.lastError = describeExit(code, sess.diagnostics.Last(lastErrorLines))
	s.state = StateExitedError
	ev := s.newEventLocked(sess, EventCrashed)
	ev.PID = r.pid
	ev.ExitCode = code
	ev.Error = sess.lastError
	s.guard.Unlock()

	logging.WarnWithContext(logger, "encoder crashed", "stream_crashed",
		logging.Int(logging.FieldPID, r.pid),
		logging.Int("exit_code", code),
		logging.Duration("ran_for", sess.lastRunDuration),
		logging.String("error", ev.Error),
		logging.String(logging.FieldErrorHint, "inspect the diagnostics in streamhost status"),
		logging.String(logging.FieldImpact, "stream offline until restart"),
	)
	s.emit(ctx, ev)
	s.triggerRestart(sess)
}

func exitCode(err error) int {
	if err == nil {
		return 0
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		if code := exitErr.ExitCode(); code != 0 {
			return code
		}
	}
	return -1
}

func describeExit(code int, lines []string) string {
	msg := fmt.Sprintf("encoder exited with code %d", code)
	if code == -1 {
		msg = "encoder terminated by signal"
	}
	if len(lines) == 0 {
		return msg
	}
	return msg + ": " + strings.Join(lines, "\n")
}

// sessionSink applies telemetry to a session under the guard. Updates for
// a detached session are dropped.
type sessionSink struct {
	s    *Supervisor
	sess *session
}

func (k *sessionSink) ApplyProgress(key, value string) {
	k.s.guard.Lock()
	defer k.s.guard.Unlock()
	if k.s.current != k.sess {
		return
	}
	next, ok, err := telemetry.Apply(k.sess.metrics, key, value)
	if err != nil {
		k.s.logger.Debug("telemetry value skipped",
			logging.String(logging.FieldSessionID, k.sess.id),
			logging.Error(err),
		)
		return
	}
	if ok {
		next.UpdatedAt = time.Now()
		k.sess.metrics = next
	}
}

func (k *sessionSink) AppendDiagnostic(line string) {
	line = strings.TrimSpace(line)
	if line == "" {
		return
	}
	k.s.guard.Lock()
	defer k.s.guard.Unlock()
	if k.s.current != k.sess {
		return
	}
	k.sess.diagnostics.Push(line)
}
