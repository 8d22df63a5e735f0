// Package lockwatch provides the instrumented mutex that serializes
// supervisor state transitions, plus a registry that turns contention
// counters into health warnings.
package lockwatch
