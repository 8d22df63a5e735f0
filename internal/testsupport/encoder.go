package testsupport

import (
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
	"time"
)

// Fake encoder bodies shared by supervisor and daemon tests. Progress goes
// to fd 3, diagnostics to stderr.
const (
	EncoderRunForever = `echo "frame=120" >&3
echo "fps=30.00" >&3
echo "bitrate=4200.5kbits/s" >&3
echo "speed=1.01x" >&3
echo "progress=continue" >&3
exec sleep 30
`
	EncoderCrash = `echo "Error opening output: Connection refused" >&2
exit 1
`
	EncoderCleanExit = `echo "progress=end" >&3
exit 0
`
)

// RequireShell skips tests that rely on /bin/sh encoder scripts.
func RequireShell(t testing.TB) {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("fake encoder scripts need a POSIX shell")
	}
}

// WriteFakeEncoder writes an executable shell script into dir and returns
// its path. body runs after the shebang; the ffmpeg arguments are ignored.
func WriteFakeEncoder(t testing.TB, dir, body string) string {
	t.Helper()
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatalf("mkdir %s: %v", dir, err)
	}
	path := filepath.Join(dir, "fake-ffmpeg")
	script := "#!/bin/sh\n" + strings.TrimLeft(body, "\n")
	if err := os.WriteFile(path, []byte(script), 0o755); err != nil {
		t.Fatalf("write fake encoder: %v", err)
	}
	return path
}

// CountingBody prefixes body with a line that appends to counter on every
// launch, so tests can count spawns with LineCount.
func CountingBody(counter, body string) string {
	return "echo run >> '" + counter + "'\n" + body
}

// LineCount returns the number of lines in path, or 0 if it does not exist.
func LineCount(t testing.TB, path string) int {
	t.Helper()
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return 0
		}
		t.Fatalf("read %s: %v", path, err)
	}
	return strings.Count(string(data), "\n")
}

// WriteMedia creates small placeholder input files in dir.
func WriteMedia(t testing.TB, dir string, names ...string) []string {
	t.Helper()
	paths := make([]string, 0, len(names))
	for _, name := range names {
		path := filepath.Join(dir, name)
		WriteFile(t, path, 1024)
		paths = append(paths, path)
	}
	return paths
}

// WaitFor polls cond until it holds or timeout elapses.
func WaitFor(t testing.TB, timeout time.Duration, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for {
		if cond() {
			return
		}
		if time.Now().After(deadline) {
			t.Fatalf("timed out after %s waiting for %s", timeout, what)
		}
		time.Sleep(10 * time.Millisecond)
	}
}
