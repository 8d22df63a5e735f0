package stream

import (
	"context"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"streamhost/internal/launchplan"
	"streamhost/internal/retry"
	"streamhost/internal/testsupport"
)

func TestTriggerRestartIsIdempotentUnderRace(t *testing.T) {
	testsupport.RequireShell(t)
	base := t.TempDir()
	sup, err := New(Options{
		Binary:     testsupport.WriteFakeEncoder(t, filepath.Join(base, "bin"), testsupport.EncoderRunForever),
		PreviewDir: filepath.Join(base, "preview"),
		TempDir:    filepath.Join(base, "tmp"),
		Retry:      retry.Config{BaseDelay: 30 * time.Second, MaxDelay: time.Minute, MaxAttempts: 5, Strategy: retry.StrategyLinear},
		TermGrace:  2 * time.Second,
		TaskWait:   2 * time.Second,
	})
	if err != nil {
		t.Fatalf("New returned error: %v", err)
	}
	plan := launchplan.Plan{
		Files:       testsupport.WriteMedia(t, filepath.Join(base, "media"), "a.mp4"),
		Destination: "rtmp://127.0.0.1/live/key",
		Profiles:    []launchplan.Profile{{Width: 1280, Height: 720, BitrateKbps: 2500}},
		FPS:         30,
	}
	if _, err := sup.Start(context.Background(), plan); err != nil {
		t.Fatalf("Start returned error: %v", err)
	}
	defer func() { _ = sup.Stop(context.Background()) }()

	sup.guard.Lock()
	sess := sup.current
	sup.guard.Unlock()

	var started atomic.Int32
	var wg sync.WaitGroup
	for range 16 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if sup.triggerRestart(sess) {
				started.Add(1)
			}
		}()
	}
	wg.Wait()

	if got := started.Load(); got != 1 {
		t.Fatalf("restart sequences started = %d, want 1", got)
	}
	testsupport.WaitFor(t, 2*time.Second, "backoff", func() bool {
		return sup.Status().State == StateBackoff
	})
	if snap := sup.Status(); snap.RestartAttempts != 1 {
		t.Fatalf("restart attempts = %d, want 1", snap.RestartAttempts)
	}
	if sup.triggerRestart(sess) {
		t.Fatal("trigger during backoff started a second sequence")
	}
}

func TestTaskIdentity(t *testing.T) {
	inner := make(chan *task, 1)
	tk := startTask(context.Background(), "identity", func(ctx context.Context) {
		inner <- currentTask(ctx)
	})
	if got := <-inner; got != tk {
		t.Fatal("task context does not identify its own task")
	}
	if !tk.wait(time.Second) {
		t.Fatal("task did not finish")
	}
	if currentTask(context.Background()) != nil {
		t.Fatal("background context reported a task")
	}
	if currentTask(context.WithoutCancel(context.WithValue(context.Background(), taskKey{}, tk))) != tk {
		t.Fatal("WithoutCancel dropped task identity")
	}
}
