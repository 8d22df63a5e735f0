package daemonctl_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"streamhost/internal/daemon"
	"streamhost/internal/daemonctl"
	"streamhost/internal/health"
	"streamhost/internal/ipc"
	"streamhost/internal/testsupport"
)

type fakeSampler struct{}

func (fakeSampler) Sample(context.Context, string) (health.HostSample, error) {
	return health.HostSample{DiskFreeBytes: 1 << 40}, nil
}

func TestProcessInfoWithoutDaemon(t *testing.T) {
	socket := filepath.Join(t.TempDir(), "missing.sock")
	alive, pid, err := daemonctl.ProcessInfo(socket)
	if err != nil {
		t.Fatalf("ProcessInfo: %v", err)
	}
	if alive || pid != 0 {
		t.Fatalf("expected no daemon, got alive=%v pid=%d", alive, pid)
	}
	if _, err := daemonctl.StopAndTerminate(socket, nil, time.Second); !errors.Is(err, daemonctl.ErrDaemonNotRunning) {
		t.Fatalf("expected ErrDaemonNotRunning, got %v", err)
	}
}

func TestStopAndTerminateUsesShutdown(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	d, err := daemon.New(context.Background(), cfg, nil, daemon.WithSampler(fakeSampler{}))
	if err != nil {
		t.Fatalf("daemon.New: %v", err)
	}
	t.Cleanup(func() { _ = d.Close() })
	if err := d.Start(context.Background()); err != nil {
		t.Fatalf("daemon Start: %v", err)
	}

	var srv *ipc.Server
	closed := make(chan struct{})
	srv, err = ipc.NewServer(context.Background(), cfg.Paths.SocketPath, d, nil, func() {
		srv.Close()
		close(closed)
	})
	if err != nil {
		if strings.Contains(err.Error(), "operation not permitted") {
			t.Skipf("skipping IPC server test: %v", err)
		}
		t.Fatalf("ipc.NewServer: %v", err)
	}
	srv.Serve()

	alive, pid, err := daemonctl.ProcessInfo(cfg.Paths.SocketPath)
	if err != nil || !alive || pid != os.Getpid() {
		t.Fatalf("ProcessInfo = %v %d %v", alive, pid, err)
	}

	result, err := daemonctl.StopAndTerminate(cfg.Paths.SocketPath, cfg, 5*time.Second)
	if err != nil {
		t.Fatalf("StopAndTerminate: %v", err)
	}
	if !result.StopAcknowledged || result.ForcedKill {
		t.Fatalf("unexpected stop result %+v", result)
	}
	select {
	case <-closed:
	case <-time.After(5 * time.Second):
		t.Fatal("shutdown callback did not run")
	}
}

func TestForceKillProcessRefusesSelf(t *testing.T) {
	pidPath := filepath.Join(t.TempDir(), "streamhost.pid")
	if err := os.WriteFile(pidPath, []byte("0\n"), 0o644); err != nil {
		t.Fatalf("write pid: %v", err)
	}
	if _, err := daemonctl.ForceKillProcess(pidPath, os.Getpid()); err == nil || !strings.Contains(err.Error(), "refusing") {
		t.Fatalf("expected refusal, got %v", err)
	}
}

func TestOfflineStatus(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	status := daemonctl.OfflineStatus(cfg)
	if status.Running {
		t.Fatal("offline status must not report running")
	}
	if status.LockPath != filepath.Join(cfg.Paths.StateDir, daemon.LockFileName) {
		t.Fatalf("lock path = %s", status.LockPath)
	}
}
