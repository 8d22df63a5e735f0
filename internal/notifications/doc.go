// Package notifications alerts an operator when the stream fails.
//
// The default implementation publishes to the ntfy topic configured under
// [notifications] and degrades to a no-op when no topic is set. Observer
// adapts a Service to the supervisor's event stream; delivery happens off
// the supervisor goroutine so a slow ntfy server never delays a restart.
package notifications
