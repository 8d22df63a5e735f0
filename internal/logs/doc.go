// Package logs reads the daemon log for "streamhost logs" and the IPC
// LogTail call.
//
// A negative offset returns the last Limit lines; a non-negative offset
// resumes where a previous call stopped. Follow mode polls until new lines
// arrive or Wait elapses, so a client loops on the returned offset.
package logs
