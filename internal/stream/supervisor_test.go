package stream_test

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"streamhost/internal/launchplan"
	"streamhost/internal/lockwatch"
	"streamhost/internal/retry"
	"streamhost/internal/stream"
	"streamhost/internal/testsupport"
)

type harness struct {
	sup     *stream.Supervisor
	plan    launchplan.Plan
	tempDir string
	counter string
	events  *eventLog
}

type eventLog struct {
	mu     sync.Mutex
	events []stream.Event
}

func (l *eventLog) OnEvent(_ context.Context, ev stream.Event) {
	l.mu.Lock()
	l.events = append(l.events, ev)
	l.mu.Unlock()
}

func (l *eventLog) count(typ stream.EventType) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	n := 0
	for _, ev := range l.events {
		if ev.Type == typ {
			n++
		}
	}
	return n
}

func (l *eventLog) ofType(typ stream.EventType) []stream.Event {
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []stream.Event
	for _, ev := range l.events {
		if ev.Type == typ {
			out = append(out, ev)
		}
	}
	return out
}

func fastRetry(maxAttempts int) retry.Config {
	return retry.Config{
		BaseDelay:   10 * time.Millisecond,
		MaxDelay:    50 * time.Millisecond,
		MaxAttempts: maxAttempts,
		Strategy:    retry.StrategyLinear,
	}
}

// floorRetry keeps every step above retry.MinDelay so the delays a test
// observes are the strategy's own.
func floorRetry(maxAttempts int) retry.Config {
	return retry.Config{
		BaseDelay:   200 * time.Millisecond,
		MaxDelay:    time.Second,
		MaxAttempts: maxAttempts,
		Strategy:    retry.StrategyLinear,
	}
}

func newHarness(t *testing.T, body string, mutate func(*stream.Options)) *harness {
	t.Helper()
	testsupport.RequireShell(t)

	base := t.TempDir()
	counter := filepath.Join(base, "launches")
	events := &eventLog{}
	opts := stream.Options{
		Binary:          testsupport.WriteFakeEncoder(t, filepath.Join(base, "bin"), testsupport.CountingBody(counter, body)),
		PreviewDir:      filepath.Join(base, "preview"),
		TempDir:         filepath.Join(base, "tmp"),
		SegmentSeconds:  2,
		Retry:           fastRetry(2),
		TermGrace:       2 * time.Second,
		TaskWait:        2 * time.Second,
		ReadTimeout:     50 * time.Millisecond,
		Locks:           lockwatch.NewRegistry(),
		Observers:       []stream.Observer{events},
		StabilityWindow: time.Hour,
	}
	if mutate != nil {
		mutate(&opts)
	}
	testsupport.WriteFile(t, filepath.Join(opts.TempDir, ".keep"), 1)

	sup, err := stream.New(opts)
	if err != nil {
		t.Fatalf("New returned error: %v", err)
	}
	t.Cleanup(func() { _ = sup.Stop(context.Background()) })

	plan := launchplan.Plan{
		Files:         testsupport.WriteMedia(t, filepath.Join(base, "media"), "intro.mp4", "sample's clip.mp4"),
		Destination:   "rtmp://127.0.0.1/live/key",
		Profiles:      []launchplan.Profile{{Width: 1920, Height: 1080, BitrateKbps: 4500}, {Width: 1280, Height: 720, BitrateKbps: 2500}},
		Encoder:       "libx264",
		FPS:           30,
		CorrelationID: "playlist-42",
	}
	return &harness{sup: sup, plan: plan, tempDir: opts.TempDir, counter: counter, events: events}
}

func (h *harness) manifestDirs(t *testing.T) []string {
	t.Helper()
	dirs, err := filepath.Glob(filepath.Join(h.tempDir, "streamhost_playlist_*"))
	if err != nil {
		t.Fatalf("glob manifests: %v", err)
	}
	return dirs
}

func (h *harness) waitState(t *testing.T, want stream.State) {
	t.Helper()
	testsupport.WaitFor(t, 5*time.Second, "state "+string(want), func() bool {
		return h.sup.Status().State == want
	})
}

func TestStartReportsRunningAndTelemetry(t *testing.T) {
	h := newHarness(t, testsupport.EncoderRunForever, nil)

	id, err := h.sup.Start(context.Background(), h.plan)
	if err != nil {
		t.Fatalf("Start returned error: %v", err)
	}
	snap := h.sup.Status()
	if !snap.Running || snap.State != stream.StateRunning {
		t.Fatalf("expected running immediately after start, got %+v", snap)
	}
	if snap.StartedAt.IsZero() || snap.SessionID != id || snap.CorrelationID != "playlist-42" {
		t.Fatalf("unexpected snapshot %+v", snap)
	}
	if snap.PID <= 0 || snap.TargetBitrateKbps != 4500 {
		t.Fatalf("expected pid and target bitrate, got %+v", snap)
	}
	if h.sup.ActiveManifestDir() == "" || len(h.manifestDirs(t)) != 1 {
		t.Fatal("expected one live manifest directory")
	}

	testsupport.WaitFor(t, 3*time.Second, "bitrate telemetry", func() bool {
		return h.sup.Status().Metrics.BitrateKbps == 4200
	})
	m := h.sup.Status().Metrics
	if m.Frame != 120 || m.FPS != 30 || m.Speed != 1.01 {
		t.Fatalf("unexpected metrics %+v", m)
	}
	if m.UpdatedAt.IsZero() || m.UpdatedAt.Before(snap.StartedAt) {
		t.Fatalf("metrics update time %s not after start %s", m.UpdatedAt, snap.StartedAt)
	}
	if h.events.count(stream.EventStarted) != 1 {
		t.Fatal("expected one started event")
	}
}

func TestStartWhileActiveIsRejected(t *testing.T) {
	h := newHarness(t, testsupport.EncoderRunForever, nil)

	id, err := h.sup.Start(context.Background(), h.plan)
	if err != nil {
		t.Fatalf("Start returned error: %v", err)
	}
	before := h.sup.Status()

	other := h.plan.Clone()
	other.CorrelationID = "playlist-99"
	if _, err := h.sup.Start(context.Background(), other); !errors.Is(err, stream.ErrAlreadyActive) {
		t.Fatalf("expected ErrAlreadyActive, got %v", err)
	}

	after := h.sup.Status()
	if after.SessionID != id || after.CorrelationID != "playlist-42" || after.PID != before.PID || !after.StartedAt.Equal(before.StartedAt) {
		t.Fatalf("rejected start altered session: before %+v after %+v", before, after)
	}
	testsupport.WaitFor(t, 2*time.Second, "first encoder launch", func() bool {
		return testsupport.LineCount(t, h.counter) >= 1
	})
	time.Sleep(100 * time.Millisecond)
	if got := testsupport.LineCount(t, h.counter); got != 1 {
		t.Fatalf("rejected start spawned an encoder: %d launches", got)
	}
}

func TestStopTerminatesAndCleansUp(t *testing.T) {
	h := newHarness(t, testsupport.EncoderRunForever, nil)

	if _, err := h.sup.Start(context.Background(), h.plan); err != nil {
		t.Fatalf("Start returned error: %v", err)
	}
	started := time.Now()
	if err := h.sup.Stop(context.Background()); err != nil {
		t.Fatalf("Stop returned error: %v", err)
	}
	if elapsed := time.Since(started); elapsed > 3*time.Second {
		t.Fatalf("Stop took %s", elapsed)
	}

	snap := h.sup.Status()
	if snap.State != stream.StateStopped || snap.Running || snap.SessionID != "" {
		t.Fatalf("unexpected snapshot after stop %+v", snap)
	}
	if dirs := h.manifestDirs(t); len(dirs) != 0 {
		t.Fatalf("manifest dirs left after stop: %v", dirs)
	}
	if h.sup.ActiveManifestDir() != "" {
		t.Fatal("active manifest dir still reported")
	}
	if h.events.count(stream.EventStopped) != 1 {
		t.Fatal("expected one stopped event")
	}

	// A stopped supervisor accepts a new session.
	if _, err := h.sup.Start(context.Background(), h.plan); err != nil {
		t.Fatalf("restart after stop: %v", err)
	}
}

func TestStopWithoutSessionIsNoop(t *testing.T) {
	h := newHarness(t, testsupport.EncoderRunForever, nil)

	if err := h.sup.Stop(context.Background()); err != nil {
		t.Fatalf("Stop returned error: %v", err)
	}
	if err := h.sup.Stop(context.Background()); err != nil {
		t.Fatalf("second Stop returned error: %v", err)
	}
	if state := h.sup.Status().State; state != stream.StateIdle {
		t.Fatalf("state = %s, want idle", state)
	}
	if h.events.count(stream.EventStopped) != 0 {
		t.Fatal("no-op stop emitted an event")
	}
}

func TestFatalStartErrorsLeaveNothingBehind(t *testing.T) {
	h := newHarness(t, testsupport.EncoderRunForever, nil)

	missing := h.plan.Clone()
	missing.Files = append(missing.Files, filepath.Join(t.TempDir(), "gone.mp4"))
	noDest := h.plan.Clone()
	noDest.Destination = ""

	cases := []struct {
		name string
		plan launchplan.Plan
		want error
	}{
		{"missing input", missing, stream.ErrMissingInput},
		{"no destination", noDest, stream.ErrInvalidPlan},
		{"no files", launchplan.Plan{Destination: "rtmp://x", Profiles: h.plan.Profiles, FPS: 30}, stream.ErrInvalidPlan},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			id, err := h.sup.Start(context.Background(), tc.plan)
			if !errors.Is(err, tc.want) {
				t.Fatalf("expected %v, got %v", tc.want, err)
			}
			if !stream.IsFatal(err) {
				t.Fatalf("expected fatal error, got %v", err)
			}
			if id != "" {
				t.Fatalf("fatal start returned session id %q", id)
			}
			if state := h.sup.Status().State; state != stream.StateIdle {
				t.Fatalf("state = %s, want idle", state)
			}
			if dirs := h.manifestDirs(t); len(dirs) != 0 {
				t.Fatalf("manifest dirs left after fatal start: %v", dirs)
			}
		})
	}
	if testsupport.LineCount(t, h.counter) != 0 {
		t.Fatal("fatal start spawned an encoder")
	}
	if h.events.count(stream.EventStarted) != 0 {
		t.Fatal("fatal start emitted started")
	}
}

func TestCrashRestartsThenGivesUp(t *testing.T) {
	h := newHarness(t, testsupport.EncoderCrash, nil)

	if _, err := h.sup.Start(context.Background(), h.plan); err != nil {
		t.Fatalf("Start returned error: %v", err)
	}
	h.waitState(t, stream.StateGivenUp)

	// Initial launch plus MaxAttempts relaunches.
	if got := testsupport.LineCount(t, h.counter); got != 3 {
		t.Fatalf("launches = %d, want 3", got)
	}
	time.Sleep(200 * time.Millisecond)
	if got := testsupport.LineCount(t, h.counter); got != 3 {
		t.Fatalf("supervisor kept restarting after giving up: %d launches", got)
	}

	snap := h.sup.Status()
	if snap.Running || snap.RestartAttempts != 3 {
		t.Fatalf("unexpected snapshot %+v", snap)
	}
	if !strings.Contains(snap.LastError, stream.ErrGivenUp.Error()) || !strings.Contains(snap.LastError, "Connection refused") {
		t.Fatalf("last error missing context: %q", snap.LastError)
	}
	if h.events.count(stream.EventCrashed) != 3 || h.events.count(stream.EventRestartScheduled) != 2 {
		t.Fatalf("unexpected event counts crashed=%d scheduled=%d",
			h.events.count(stream.EventCrashed), h.events.count(stream.EventRestartScheduled))
	}
	if h.events.count(stream.EventGivenUp) != 1 {
		t.Fatal("expected exactly one given_up event")
	}
	if dirs := h.manifestDirs(t); len(dirs) != 0 {
		t.Fatalf("manifest dirs left after giving up: %v", dirs)
	}

	// Stop after giving up is a no-op; a new Start is accepted.
	if err := h.sup.Stop(context.Background()); err != nil {
		t.Fatalf("Stop returned error: %v", err)
	}
	if state := h.sup.Status().State; state != stream.StateGivenUp {
		t.Fatalf("state = %s, want given_up", state)
	}
}

func TestConsecutiveFailuresDriveDelay(t *testing.T) {
	h := newHarness(t, testsupport.EncoderCrash, func(o *stream.Options) {
		o.Retry = floorRetry(3)
	})
	if _, err := h.sup.Start(context.Background(), h.plan); err != nil {
		t.Fatalf("Start returned error: %v", err)
	}
	h.waitState(t, stream.StateGivenUp)

	scheduled := h.events.ofType(stream.EventRestartScheduled)
	if len(scheduled) != 3 {
		t.Fatalf("scheduled = %d, want 3", len(scheduled))
	}
	for i, ev := range scheduled {
		want := time.Duration(i+1) * 200 * time.Millisecond
		if ev.Delay != want || ev.Attempt != i+1 {
			t.Fatalf("restart %d: attempt=%d delay=%s, want attempt %d delay %s", i, ev.Attempt, ev.Delay, i+1, want)
		}
	}
}

func TestStableRunResetsConsecutiveFailures(t *testing.T) {
	h := newHarness(t, testsupport.EncoderCrash, func(o *stream.Options) {
		o.Retry = floorRetry(3)
		o.StabilityWindow = time.Nanosecond
	})
	if _, err := h.sup.Start(context.Background(), h.plan); err != nil {
		t.Fatalf("Start returned error: %v", err)
	}
	h.waitState(t, stream.StateGivenUp)

	scheduled := h.events.ofType(stream.EventRestartScheduled)
	if len(scheduled) != 3 {
		t.Fatalf("scheduled = %d, want 3", len(scheduled))
	}
	for _, ev := range scheduled {
		if ev.Delay != 200*time.Millisecond {
			t.Fatalf("attempt %d delay %s, want base delay after stable run", ev.Attempt, ev.Delay)
		}
	}
	if snap := h.sup.Status(); snap.ConsecutiveFailures != 1 {
		t.Fatalf("consecutive failures = %d, want 1", snap.ConsecutiveFailures)
	}
}

func TestCleanExitReturnsToIdle(t *testing.T) {
	h := newHarness(t, testsupport.EncoderCleanExit, nil)

	if _, err := h.sup.Start(context.Background(), h.plan); err != nil {
		t.Fatalf("Start returned error: %v", err)
	}
	h.waitState(t, stream.StateIdle)

	if h.events.count(stream.EventExitedClean) != 1 || h.events.count(stream.EventRestartScheduled) != 0 {
		t.Fatal("clean exit should end the session without restarting")
	}
	if testsupport.LineCount(t, h.counter) != 1 {
		t.Fatal("clean exit relaunched the encoder")
	}
	if snap := h.sup.Status(); snap.LastError != "" || snap.Running {
		t.Fatalf("unexpected snapshot %+v", snap)
	}
	if dirs := h.manifestDirs(t); len(dirs) != 0 {
		t.Fatalf("manifest dirs left after clean exit: %v", dirs)
	}
}

func TestLaunchFailureIsRetried(t *testing.T) {
	h := newHarness(t, testsupport.EncoderRunForever, func(o *stream.Options) {
		o.Binary = filepath.Join(t.TempDir(), "no-such-ffmpeg")
		o.Retry = fastRetry(1)
	})

	id, err := h.sup.Start(context.Background(), h.plan)
	var launchErr *stream.LaunchError
	if !errors.As(err, &launchErr) {
		t.Fatalf("expected *LaunchError, got %v", err)
	}
	if launchErr.Attempt != 1 || id == "" || stream.IsFatal(err) {
		t.Fatalf("unexpected launch error %+v id=%q", launchErr, id)
	}
	h.waitState(t, stream.StateGivenUp)
	if h.events.count(stream.EventLaunchFailed) != 2 {
		t.Fatalf("launch_failed events = %d, want 2", h.events.count(stream.EventLaunchFailed))
	}
	if dirs := h.manifestDirs(t); len(dirs) != 0 {
		t.Fatalf("manifest dirs left: %v", dirs)
	}
}

func TestRelaunchWithVanishedInputGivesUp(t *testing.T) {
	h := newHarness(t, testsupport.EncoderCrash, func(o *stream.Options) {
		o.Retry = retry.Config{BaseDelay: 300 * time.Millisecond, MaxDelay: time.Second, MaxAttempts: 5, Strategy: retry.StrategyLinear}
	})
	if _, err := h.sup.Start(context.Background(), h.plan); err != nil {
		t.Fatalf("Start returned error: %v", err)
	}
	h.waitState(t, stream.StateBackoff)
	testsupport.RemoveAll(t, filepath.Dir(h.plan.Files[0]))

	h.waitState(t, stream.StateGivenUp)
	if snap := h.sup.Status(); !strings.Contains(snap.LastError, stream.ErrMissingInput.Error()) {
		t.Fatalf("last error = %q", snap.LastError)
	}
	if dirs := h.manifestDirs(t); len(dirs) != 0 {
		t.Fatalf("manifest dirs left: %v", dirs)
	}
}

func TestStopDuringBackoffCancelsRestart(t *testing.T) {
	h := newHarness(t, testsupport.EncoderCrash, func(o *stream.Options) {
		o.Retry = retry.Config{BaseDelay: 30 * time.Second, MaxDelay: time.Minute, MaxAttempts: 3, Strategy: retry.StrategyLinear}
	})
	if _, err := h.sup.Start(context.Background(), h.plan); err != nil {
		t.Fatalf("Start returned error: %v", err)
	}
	h.waitState(t, stream.StateBackoff)

	if snap := h.sup.Status(); snap.LastError == "" || snap.Running {
		t.Fatalf("status during backoff %+v", snap)
	}

	started := time.Now()
	if err := h.sup.Stop(context.Background()); err != nil {
		t.Fatalf("Stop returned error: %v", err)
	}
	if elapsed := time.Since(started); elapsed > 2*time.Second {
		t.Fatalf("Stop blocked behind backoff for %s", elapsed)
	}
	if state := h.sup.Status().State; state != stream.StateStopped {
		t.Fatalf("state = %s, want stopped", state)
	}
	time.Sleep(100 * time.Millisecond)
	if testsupport.LineCount(t, h.counter) != 1 {
		t.Fatal("restart ran after stop")
	}
	if dirs := h.manifestDirs(t); len(dirs) != 0 {
		t.Fatalf("manifest dirs left: %v", dirs)
	}
}

func TestStopFromObserverDoesNotDeadlock(t *testing.T) {
	var sup *stream.Supervisor
	stopped := make(chan error, 1)
	h := newHarness(t, testsupport.EncoderCrash, func(o *stream.Options) {
		o.Observers = append(o.Observers, stream.ObserverFunc(func(ctx context.Context, ev stream.Event) {
			if ev.Type == stream.EventCrashed {
				stopped <- sup.Stop(ctx)
			}
		}))
	})
	sup = h.sup

	if _, err := h.sup.Start(context.Background(), h.plan); err != nil {
		t.Fatalf("Start returned error: %v", err)
	}
	select {
	case err := <-stopped:
		if err != nil {
			t.Fatalf("Stop from observer returned %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Stop from watchdog goroutine deadlocked")
	}
	h.waitState(t, stream.StateStopped)
	time.Sleep(100 * time.Millisecond)
	if testsupport.LineCount(t, h.counter) != 1 {
		t.Fatal("restart ran after stop from observer")
	}
}

func TestStatusDoesNotBlockDuringBackoff(t *testing.T) {
	h := newHarness(t, testsupport.EncoderCrash, func(o *stream.Options) {
		o.Retry = retry.Config{BaseDelay: 30 * time.Second, MaxDelay: time.Minute, MaxAttempts: 3, Strategy: retry.StrategyLinear}
	})
	if _, err := h.sup.Start(context.Background(), h.plan); err != nil {
		t.Fatalf("Start returned error: %v", err)
	}
	h.waitState(t, stream.StateBackoff)

	done := make(chan stream.Snapshot, 1)
	go func() { done <- h.sup.Status() }()
	select {
	case snap := <-done:
		if snap.RestartAttempts != 1 || len(snap.Diagnostics) == 0 {
			t.Fatalf("unexpected snapshot %+v", snap)
		}
	case <-time.After(time.Second):
		t.Fatal("Status blocked during backoff")
	}
}

func TestStatusDoesNotBlockWhilePreviewGuardBusy(t *testing.T) {
	guard := lockwatch.New(stream.PreviewGuardName)
	h := newHarness(t, testsupport.EncoderRunForever, func(o *stream.Options) {
		o.PreviewGuard = guard
		o.LockTimeout = 2 * time.Second
	})

	guard.Lock()
	started := make(chan error, 1)
	go func() {
		_, err := h.sup.Start(context.Background(), h.plan)
		started <- err
	}()
	testsupport.WaitFor(t, 2*time.Second, "launch waiting on preview guard", func() bool {
		return guard.Snapshot().Waiters > 0
	})

	begin := time.Now()
	snap := h.sup.Status()
	if elapsed := time.Since(begin); elapsed > 250*time.Millisecond {
		t.Fatalf("Status took %s while the preview guard was busy", elapsed)
	}
	if snap.State != stream.StateStarting {
		t.Fatalf("state = %s, want starting", snap.State)
	}

	guard.Unlock()
	if err := <-started; err != nil {
		t.Fatalf("Start returned error: %v", err)
	}
	if !h.sup.Status().Running {
		t.Fatal("expected encoder running once the guard was released")
	}
}

func TestStopAfterRecoveryOrdersEvents(t *testing.T) {
	// First run crashes, every later run stays up.
	body := `if [ "$(wc -l < "$(dirname "$0")/../launches")" -le 1 ]; then
  echo "Error opening output: Connection refused" >&2
  exit 1
fi
exec sleep 30
`
	h := newHarness(t, body, func(o *stream.Options) {
		o.Retry = floorRetry(3)
	})
	if _, err := h.sup.Start(context.Background(), h.plan); err != nil {
		t.Fatalf("Start returned error: %v", err)
	}
	testsupport.WaitFor(t, 5*time.Second, "relaunched encoder", func() bool {
		return h.events.count(stream.EventCrashed) == 1 && h.sup.Status().Running
	})
	if err := h.sup.Stop(context.Background()); err != nil {
		t.Fatalf("Stop returned error: %v", err)
	}
	time.Sleep(100 * time.Millisecond)

	h.events.mu.Lock()
	events := append([]stream.Event(nil), h.events.events...)
	h.events.mu.Unlock()
	if len(events) == 0 || events[len(events)-1].Type != stream.EventStopped {
		t.Fatalf("stopped is not the last event: %+v", events)
	}
	if h.events.count(stream.EventRestarted) != 1 {
		t.Fatalf("restarted events = %d, want 1", h.events.count(stream.EventRestarted))
	}
}

func TestNewRejectsInvalidRetryConfig(t *testing.T) {
	_, err := stream.New(stream.Options{
		PreviewDir: t.TempDir(),
		Retry:      retry.Config{BaseDelay: time.Second, MaxDelay: time.Millisecond, MaxAttempts: 1},
	})
	if err == nil {
		t.Fatal("expected error for max delay below base delay")
	}
	if _, err := stream.New(stream.Options{}); err == nil {
		t.Fatal("expected error without preview dir")
	}
}
