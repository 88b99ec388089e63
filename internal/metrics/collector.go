package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "liveregion"

// Collector owns the server's prometheus metrics. Each collector has its own
// registry so several servers (and tests) can live in one process.
type Collector struct {
	registry *prometheus.Registry

	ActiveSessions   prometheus.Gauge
	SessionsCreated  prometheus.Counter
	SessionsEvicted  prometheus.Counter
	ConnectedClients prometheus.Gauge

	Messages      *prometheus.CounterVec // direction, channel
	Updates       *prometheus.CounterVec // kind
	DiffBytes     prometheus.Histogram
	SavedBytes    prometheus.Counter // full source bytes not sent thanks to diffs
	Desyncs       prometheus.Counter
	Conflicts     prometheus.Counter
	RenderErrors  prometheus.Counter
	HandlerErrors *prometheus.CounterVec // event, result
	EventDuration *prometheus.HistogramVec
	BudgetBytes   prometheus.Gauge
}

// NewCollector creates a collector and registers its metrics together with the
// standard process and Go runtime collectors
func NewCollector() *Collector {
	c := &Collector{
		registry: prometheus.NewRegistry(),
		ActiveSessions: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "session",
			Name:      "active",
		}),
		SessionsCreated: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "session",
			Name:      "created_total",
		}),
		SessionsEvicted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "session",
			Name:      "evicted_total",
		}),
		ConnectedClients: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "gateway",
			Name:      "connections",
		}),
		Messages: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "gateway",
			Name:      "messages_total",
		}, []string{"direction", "channel"}),
		Updates: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "region",
			Name:      "updates_total",
		}, []string{"kind"}),
		DiffBytes: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "region",
			Name:      "diff_inserted_bytes",
			Buckets:   []float64{0, 16, 64, 256, 1024, 4096, 16384, 65536},
		}),
		SavedBytes: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "region",
			Name:      "diff_saved_bytes_total",
		}),
		Desyncs: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "region",
			Name:      "desyncs_total",
		}),
		Conflicts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "region",
			Name:      "update_conflicts_total",
		}),
		RenderErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "region",
			Name:      "render_errors_total",
		}),
		HandlerErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "gateway",
			Name:      "handler_failures_total",
		}, []string{"event", "result"}),
		EventDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "gateway",
			Name:      "event_duration_seconds",
			Buckets:   prometheus.DefBuckets,
		}, []string{"event"}),
		BudgetBytes: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "memory",
			Name:      "region_bytes",
		}),
	}

	c.registry.MustRegister(
		c.ActiveSessions, c.SessionsCreated, c.SessionsEvicted, c.ConnectedClients,
		c.Messages, c.Updates, c.DiffBytes, c.SavedBytes, c.Desyncs, c.Conflicts, c.RenderErrors,
		c.HandlerErrors, c.EventDuration, c.BudgetBytes,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return c
}

// Registry exposes the underlying registry, mainly for tests and embedding
func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}

// Handler serves the metrics in the prometheus text format
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{Registry: c.registry})
}

// SessionCreated records a new session
func (c *Collector) SessionCreated() {
	c.SessionsCreated.Inc()
	c.ActiveSessions.Inc()
}

// SessionEvicted records a session removal
func (c *Collector) SessionEvicted() {
	c.SessionsEvicted.Inc()
	c.ActiveSessions.Dec()
}

// MessageIn records an inbound message
func (c *Collector) MessageIn(channel string) {
	c.Messages.WithLabelValues("in", channel).Inc()
}

// MessageOut records an outbound message
func (c *Collector) MessageOut(channel string) {
	c.Messages.WithLabelValues("out", channel).Inc()
}

// DiffSent records a diff update, the bytes of text it inserts and the size of
// the full source a full update would have carried
func (c *Collector) DiffSent(insertedBytes, sourceBytes int) {
	c.Updates.WithLabelValues("diff").Inc()
	c.DiffBytes.Observe(float64(insertedBytes))
	if saved := sourceBytes - insertedBytes; saved > 0 {
		c.SavedBytes.Add(float64(saved))
	}
}

// FullSent records a full update
func (c *Collector) FullSent() {
	c.Updates.WithLabelValues("full").Inc()
}

// ObserveEvent records how long a handler ran and whether it failed
func (c *Collector) ObserveEvent(event string, started time.Time, err error, panicked bool) {
	c.EventDuration.WithLabelValues(event).Observe(time.Since(started).Seconds())
	switch {
	case panicked:
		c.HandlerErrors.WithLabelValues(event, "panic").Inc()
	case err != nil:
		c.HandlerErrors.WithLabelValues(event, "error").Inc()
	}
}
