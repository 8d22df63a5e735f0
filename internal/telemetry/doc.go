// Package telemetry consumes ffmpeg's -progress output: it splits the pipe
// into bounded lines, turns key=value records into Metrics, and keeps a ring
// of recent diagnostic lines for failure reports.
package telemetry
