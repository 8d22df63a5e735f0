package stream

import (
	"context"
	"errors"
	"fmt"
	"time"

	"streamhost/internal/logging"
)

// triggerRestart starts the restart sequence for sess unless one is already
// in flight. It reports whether this call started it. A sequence whose
// relaunch succeeded may still be finishing; the new one waits for it so
// events stay ordered and Stop waits for both through the newest handle.
func (s *Supervisor) triggerRestart(sess *session) bool {
	s.guard.Lock()
	defer s.guard.Unlock()
	if s.current != sess || sess.stopping || sess.restarting {
		return false
	}
	sess.restarting = true
	prev := sess.restartTask
	sess.restartTask = startTask(sess.ctx, "restart", func(ctx context.Context) {
		if prev != nil {
			select {
			case <-prev.done:
			case <-ctx.Done():
				return
			}
		}
		s.restartLoop(ctx, sess)
	})
	return true
}

// restartLoop sleeps per the retry policy and relaunches until a launch
// succeeds, the budget is spent, or the session is stopped.
func (s *Supervisor) restartLoop(ctx context.Context, sess *session) {
	self := currentTask(ctx)
	defer func() {
		s.guard.Lock()
		if sess.restartTask == self {
			sess.restarting = false
			sess.restartTask = nil
		}
		s.guard.Unlock()
	}()

	logger := s.sessionLogger(sess)
	maxAttempts := s.calc.Config().MaxAttempts
	for {
		s.guard.Lock()
		if s.current != sess || sess.stopping {
			s.guard.Unlock()
			return
		}
		sess.restartAttempts++
		sess.consecutiveFailures++
		if sess.lastRunDuration > s.opts.StabilityWindow {
			sess.consecutiveFailures = 1
		}
		attempt := sess.restartAttempts
		if attempt > maxAttempts {
			s.guard.Unlock()
			s.giveUp(ctx, sess, fmt.Sprintf("%v after %d attempts", ErrGivenUp, maxAttempts))
			return
		}
		delay, err := s.calc.Delay(sess.consecutiveFailures)
		if err != nil {
			delay = s.calc.Config().MaxDelay
		}
		s.state = StateBackoff
		ev := s.newEventLocked(sess, EventRestartScheduled)
		ev.Delay = delay
		ev.Error = sess.lastError
		consecutive := sess.consecutiveFailures
		s.guard.Unlock()

		logger.Info("restart scheduled",
			logging.String(logging.FieldEventType, "restart_scheduled"),
			logging.String(logging.FieldState, string(StateBackoff)),
			logging.Int(logging.FieldAttempt, attempt),
			logging.Int("max_attempts", maxAttempts),
			logging.Int("consecutive_failures", consecutive),
			logging.Duration("delay", delay),
		)
		s.emit(ctx, ev)

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}

		s.guard.Lock()
		if s.current != sess || sess.stopping {
			s.guard.Unlock()
			return
		}
		s.state = StateStarting
		s.guard.Unlock()

		err = s.launch(sess)
		switch {
		case err == nil:
			logger.Info("stream restarted",
				logging.String(logging.FieldEventType, "stream_restarted"),
				logging.Int(logging.FieldAttempt, attempt),
			)
			s.emit(ctx, s.newEvent(sess, EventRestarted))
			return
		case errors.Is(err, ErrStopped):
			return
		case IsFatal(err):
			s.giveUp(ctx, sess, fmt.Sprintf("%v: relaunch impossible: %v", ErrGivenUp, err))
			return
		default:
			logging.WarnWithContext(logger, "encoder relaunch failed", "launch_failed",
				logging.Int(logging.FieldAttempt, attempt),
				logging.Error(err),
				logging.String(logging.FieldErrorHint, "check stream.ffmpeg_binary and that ffmpeg is installed"),
			)
			ev := s.newEvent(sess, EventLaunchFailed)
			ev.Error = err.Error()
			s.emit(ctx, ev)
		}
	}
}

// giveUp detaches sess, tears it down, and leaves the supervisor in
// given_up with reason as the fatal last error.
func (s *Supervisor) giveUp(ctx context.Context, sess *session, reason string) {
	s.guard.Lock()
	if s.current != sess || sess.stopping {
		s.guard.Unlock()
		return
	}
	sess.stopping = true
	if sess.lastError != "" {
		reason += "; last error: " + sess.lastError
	}
	s.current = nil
	s.state = StateGivenUp
	s.last = outcome{
		sessionID:           sess.id,
		correlationID:       sess.plan.CorrelationID,
		lastError:           reason,
		restartAttempts:     sess.restartAttempts,
		consecutiveFailures: sess.consecutiveFailures,
		lastSuccess:         sess.lastSuccess,
	}
	r := sess.run
	ev := s.newEventLocked(sess, EventGivenUp)
	ev.Error = reason
	s.guard.Unlock()

	s.teardown(ctx, sess, r, nil)
	logging.ErrorWithContext(s.sessionLogger(sess), "stream given up", "stream_given_up",
		logging.Int(logging.FieldAttempt, ev.Attempt),
		logging.String("error", reason),
		logging.String(logging.FieldErrorHint, "fix the encoder failure and run streamhost start again"),
		logging.Bool(logging.FieldAlert, true),
	)
	s.emit(ctx, ev)
}
