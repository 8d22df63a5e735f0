package metrics

import (
	"context"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"streamhost/internal/stream"
)

const namespace = "streamhost"

// StatusSource provides supervisor snapshots for the gauges.
type StatusSource interface {
	Status() stream.Snapshot
}

// Collector implements stream.Observer.
type Collector struct {
	registry *prometheus.Registry
	events   *prometheus.CounterVec
	restarts prometheus.Counter
	giveUps  prometheus.Counter
}

// New registers the stream gauges against source. Runtime and process
// collectors are included so one scrape covers the whole daemon.
func New(source StatusSource) *Collector {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	factory := promauto.With(reg)

	c := &Collector{
		registry: reg,
		events: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "stream_events_total",
				Help:      "Supervisor lifecycle events by type",
			},
			[]string{"type"},
		),
		restarts: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "restarts_total",
			Help:      "Encoder relaunches that reached running",
		}),
		giveUps: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "given_up_total",
			Help:      "Sessions abandoned after the restart budget was spent",
		}),
	}

	gauge := func(name, help string, value func(stream.Snapshot) float64) {
		factory.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "stream",
			Name:      name,
			Help:      help,
		}, func() float64 { return value(source.Status()) })
	}
	gauge("running", "Whether the encoder is running (1 = running, 0 = not)", func(s stream.Snapshot) float64 {
		if s.Running {
			return 1
		}
		return 0
	})
	gauge("fps", "Encoder frames per second", func(s stream.Snapshot) float64 { return s.Metrics.FPS })
	gauge("bitrate_kbps", "Encoder output bitrate in kbit/s", func(s stream.Snapshot) float64 { return float64(s.Metrics.BitrateKbps) })
	gauge("target_bitrate_kbps", "Bitrate of the primary rendition", func(s stream.Snapshot) float64 { return float64(s.TargetBitrateKbps) })
	gauge("speed", "Encoder speed relative to realtime", func(s stream.Snapshot) float64 { return s.Metrics.Speed })
	gauge("frames", "Frames encoded in the current run", func(s stream.Snapshot) float64 { return float64(s.Metrics.Frame) })
	gauge("dropped_frames", "Frames dropped in the current run", func(s stream.Snapshot) float64 { return float64(s.Metrics.DroppedFrames) })
	gauge("restart_attempts", "Restart attempts in the current session", func(s stream.Snapshot) float64 { return float64(s.RestartAttempts) })
	gauge("consecutive_failures", "Consecutive encoder failures", func(s stream.Snapshot) float64 { return float64(s.ConsecutiveFailures) })
	gauge("uptime_seconds", "Seconds since the current encoder run started", func(s stream.Snapshot) float64 { return s.Uptime.Seconds() })

	return c
}

// OnEvent counts a lifecycle event.
func (c *Collector) OnEvent(_ context.Context, event stream.Event) {
	c.events.WithLabelValues(string(event.Type)).Inc()
	switch event.Type {
	case stream.EventRestarted:
		c.restarts.Inc()
	case stream.EventGivenUp:
		c.giveUps.Inc()
	}
}

// Registry returns the private registry.
func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}
