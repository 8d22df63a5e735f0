// Command streamhost is the operator CLI for the streamhost daemon.
//
// `streamhost daemon` runs the supervisor in the foreground; the daemon
// subcommands launch, stop, and inspect a detached instance. Stream
// commands (start, stop, status, health, history, locks, preflight, logs)
// talk to the daemon over its JSON-RPC unix socket and accept --json for
// machine-readable output.
package main
