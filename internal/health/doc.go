// Package health grades a running broadcast. A Monitor combines the
// supervisor snapshot with host samples (CPU, memory, free disk) and lock
// contention warnings into a Report with an overall severity.
package health
