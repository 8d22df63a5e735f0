// Package stream supervises one long-running ffmpeg broadcast.
//
// A Supervisor owns at most one session at a time. Start validates the
// launch plan, writes the concat manifest, and spawns the encoder; a
// watchdog goroutine reads telemetry and reacts to the process exit. A
// non-zero exit enters the restart sequence, which sleeps per the retry
// policy and relaunches the same plan until the attempt budget is spent.
// Stop cancels every background task, terminates the process group, and
// removes the manifest before returning.
//
// All mutable state sits behind one lockwatch.Mutex. Process I/O (spawn,
// signal, wait, read) always happens with the guard released.
package stream
