// Package launchplan defines the immutable description of a broadcast that
// callers hand to the stream supervisor.
package launchplan
