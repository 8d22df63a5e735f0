// Package metrics exposes supervisor state and lifecycle events as
// Prometheus metrics.
//
// A Collector owns a private registry. Gauges read a fresh supervisor
// snapshot on every scrape, so they never lag the state machine. Counters
// are fed by registering the Collector as a stream observer:
//
//	collector := metrics.New(supervisor)
//	supervisor.AddObserver(collector)
//	mux.Handle("/metrics", collector.Handler())
package metrics
