package daemon_test

import (
	"context"
	"errors"
	"io"
	"net/http"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"streamhost/internal/config"
	"streamhost/internal/daemon"
	"streamhost/internal/health"
	"streamhost/internal/stream"
	"streamhost/internal/testsupport"
)

type fakeSampler struct{}

func (fakeSampler) Sample(context.Context, string) (health.HostSample, error) {
	return health.HostSample{CPUPercent: 5, MemoryPercent: 5, DiskFreeBytes: 1 << 40}, nil
}

func newDaemon(t *testing.T, cfg *config.Config) *daemon.Daemon {
	t.Helper()
	d, err := daemon.New(context.Background(), cfg, nil, daemon.WithSampler(fakeSampler{}))
	if err != nil {
		t.Fatalf("daemon.New: %v", err)
	}
	t.Cleanup(func() { _ = d.Close() })
	return d
}

func TestDaemonStartStop(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	d := newDaemon(t, cfg)
	ctx := context.Background()

	if err := d.Start(ctx); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	status := d.Status()
	if !status.Running {
		t.Fatal("expected daemon to report running")
	}
	if status.LockPath != filepath.Join(cfg.Paths.StateDir, daemon.LockFileName) {
		t.Fatalf("unexpected lock path %q", status.LockPath)
	}
	if err := d.Start(ctx); err == nil {
		t.Fatal("expected second start to fail")
	}

	d.Stop()
	if d.Status().Running {
		t.Fatal("expected daemon to be stopped")
	}
	if err := d.Start(ctx); err != nil {
		t.Fatalf("restart after stop failed: %v", err)
	}
}

func TestSecondInstanceRejected(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	first := newDaemon(t, cfg)
	if err := first.Start(context.Background()); err != nil {
		t.Fatalf("first Start: %v", err)
	}

	second := newDaemon(t, cfg)
	err := second.Start(context.Background())
	if err == nil || !strings.Contains(err.Error(), "already running") {
		t.Fatalf("expected single-instance error, got %v", err)
	}
}

func TestSharedPreviewDirRejected(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	first := newDaemon(t, cfg)
	if err := first.Start(context.Background()); err != nil {
		t.Fatalf("first Start: %v", err)
	}

	other := testsupport.NewConfig(t)
	other.Paths.PreviewDir = cfg.Paths.PreviewDir
	second := newDaemon(t, other)
	err := second.Start(context.Background())
	if err == nil || !strings.Contains(err.Error(), "in use by another streamhost instance") {
		t.Fatalf("expected preview lock error, got %v", err)
	}
}

func TestStartStreamRequiresRunningDaemon(t *testing.T) {
	d := newDaemon(t, testsupport.NewConfig(t))
	if _, err := d.StartStream(context.Background(), daemon.StreamRequest{Files: []string{"a.mp4"}}); !errors.Is(err, daemon.ErrNotRunning) {
		t.Fatalf("expected ErrNotRunning, got %v", err)
	}
}

func TestStreamLifecycleIsJournaled(t *testing.T) {
	testsupport.RequireShell(t)
	cfg := testsupport.NewConfig(t, testsupport.WithEncoderScript(testsupport.EncoderRunForever))
	d := newDaemon(t, cfg)
	ctx := context.Background()
	if err := d.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}

	files := testsupport.WriteMedia(t, filepath.Join(testsupport.BaseDir(cfg), "media"), "a.mp4", "b.mp4")
	sessionID, err := d.StartStream(ctx, daemon.StreamRequest{Files: files, CorrelationID: "playlist-7"})
	if err != nil {
		t.Fatalf("StartStream: %v", err)
	}
	testsupport.WaitFor(t, 5*time.Second, "encoder running", func() bool {
		return d.Status().Stream.Running
	})
	if got := d.Status().Stream.CorrelationID; got != "playlist-7" {
		t.Fatalf("correlation id = %q", got)
	}

	if _, err := d.StartStream(ctx, daemon.StreamRequest{Files: files}); !errors.Is(err, stream.ErrAlreadyActive) {
		t.Fatalf("expected ErrAlreadyActive, got %v", err)
	}

	snap, err := d.StopStream(ctx)
	if err != nil {
		t.Fatalf("StopStream: %v", err)
	}
	if snap.State != stream.StateStopped {
		t.Fatalf("state after stop = %s", snap.State)
	}

	entries, err := d.History(ctx, 10, sessionID)
	if err != nil {
		t.Fatalf("History: %v", err)
	}
	if len(entries) < 2 || entries[0].Type != stream.EventStopped || entries[len(entries)-1].Type != stream.EventStarted {
		t.Fatalf("unexpected history %+v", entries)
	}
}

func TestStartStreamRejectsBadProfiles(t *testing.T) {
	d := newDaemon(t, testsupport.NewConfig(t))
	if err := d.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	_, err := d.StartStream(context.Background(), daemon.StreamRequest{Files: []string{"a.mp4"}, Profiles: []string{"huge"}})
	if !errors.Is(err, stream.ErrInvalidPlan) {
		t.Fatalf("expected ErrInvalidPlan, got %v", err)
	}
}

func TestHTTPEndpoints(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	cfg.Metrics.Bind = "127.0.0.1:0"
	cfg.Metrics.Token = "sekrit"
	d := newDaemon(t, cfg)
	if err := d.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	addr := d.Status().HTTPAddress
	if addr == "" {
		t.Fatal("expected http address")
	}

	get := func(path, token string) (int, string) {
		t.Helper()
		req, err := http.NewRequest(http.MethodGet, "http://"+addr+path, nil)
		if err != nil {
			t.Fatalf("new request: %v", err)
		}
		if token != "" {
			req.Header.Set("Authorization", "Bearer "+token)
		}
		resp, err := http.DefaultClient.Do(req)
		if err != nil {
			t.Fatalf("GET %s: %v", path, err)
		}
		defer resp.Body.Close()
		body, _ := io.ReadAll(resp.Body)
		return resp.StatusCode, string(body)
	}

	code, body := get("/metrics", "")
	if code != http.StatusOK || !strings.Contains(body, "streamhost_stream_running 0") {
		t.Fatalf("metrics: %d %s", code, body)
	}
	if code, _ := get("/api/status", ""); code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without token, got %d", code)
	}
	code, body = get("/api/status", "sekrit")
	if code != http.StatusOK || !strings.Contains(body, `"running":true`) {
		t.Fatalf("status: %d %s", code, body)
	}
	code, body = get("/api/health", "sekrit")
	if code != http.StatusServiceUnavailable || !strings.Contains(body, `"severity":"critical"`) {
		t.Fatalf("health: %d %s", code, body)
	}
	if code, _ := get("/api/history?limit=x", "sekrit"); code != http.StatusBadRequest {
		t.Fatalf("expected 400 for bad limit, got %d", code)
	}
}
