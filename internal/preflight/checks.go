package preflight

import (
	"context"
	"fmt"
	"net"
	"net/url"
	"os"
	"strings"
	"time"

	"golang.org/x/sys/unix"
)

// DialTimeout bounds the destination reachability probe.
const DialTimeout = 5 * time.Second

var defaultPorts = map[string]string{
	"rtmp":  "1935",
	"rtmps": "443",
	"srt":   "9000",
}

// CheckDirectoryAccess verifies that the directory exists and is readable/writable.
func CheckDirectoryAccess(name, path string) Result {
	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Result{Name: name, Detail: fmt.Sprintf("%s (error: does not exist)", path)}
		}
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: stat: %v)", path, err)}
	}
	if !info.IsDir() {
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: is not a directory)", path)}
	}
	if err := unix.Access(path, unix.R_OK|unix.W_OK|unix.X_OK); err != nil {
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: insufficient permissions: %v)", path, err)}
	}
	return Result{Name: name, Passed: true, Detail: fmt.Sprintf("%s (read/write ok)", path)}
}

// CheckDestination parses the push URL and opens a TCP connection to its
// host. It proves the ingest is listening, not that the stream key is valid.
func CheckDestination(ctx context.Context, destination string) Result {
	const name = "Destination"

	destination = strings.TrimSpace(destination)
	if destination == "" {
		return Result{Name: name, Detail: "not configured"}
	}
	u, err := url.Parse(destination)
	if err != nil {
		return Result{Name: name, Detail: fmt.Sprintf("invalid url: %v", err)}
	}
	scheme := strings.ToLower(u.Scheme)
	port := u.Port()
	if port == "" {
		port = defaultPorts[scheme]
	}
	if u.Hostname() == "" || port == "" {
		return Result{Name: name, Detail: fmt.Sprintf("cannot derive host and port from %s", redact(u))}
	}

	dialCtx, cancel := context.WithTimeout(ctx, DialTimeout)
	defer cancel()
	var d net.Dialer
	conn, err := d.DialContext(dialCtx, "tcp", net.JoinHostPort(u.Hostname(), port))
	if err != nil {
		return Result{Name: name, Detail: fmt.Sprintf("%s unreachable (%v)", redact(u), err)}
	}
	_ = conn.Close()
	return Result{Name: name, Passed: true, Detail: fmt.Sprintf("%s reachable", redact(u))}
}

// redact drops the path so stream keys never reach logs or status output.
func redact(u *url.URL) string {
	return u.Scheme + "://" + u.Host
}
