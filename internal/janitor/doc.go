// Package janitor sweeps leftovers the supervisor could not clean itself:
// manifest directories orphaned by a crashed daemon and preview output
// older than the retention window. It also warns when the preview
// directory grows past its size budget.
package janitor
