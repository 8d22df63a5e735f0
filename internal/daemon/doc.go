// Package daemon coordinates the long-running streamhost process.
//
// It wires configuration, the stream supervisor, the orphan janitor, the
// health monitor, the event journal, and the metrics collector into a
// single lifecycle. Two flock-based locks guard it: one in the state
// directory prevents a second daemon, and one in the preview directory
// prevents two instances from publishing into the same HLS output.
//
// Keep orchestration logic here: process supervision lives in the stream
// package while the daemon focuses on startup, shutdown, and exposing
// supervisor operations to IPC and HTTP callers.
package daemon
