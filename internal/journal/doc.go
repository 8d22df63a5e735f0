// Package journal persists supervisor lifecycle events in SQLite so crash
// history survives daemon restarts.
//
// The database lives under the state directory and is opened in WAL mode.
// The daemon registers Store.Observer with the supervisor; the CLI reads
// the history back through the IPC History call.
package journal
