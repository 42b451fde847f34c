package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the daemon on a private
// registry, so multiple instances can coexist in tests.
type Metrics struct {
	registry *prometheus.Registry

	// Webhook metrics
	CallbacksTotal *prometheus.CounterVec

	// Drain metrics
	DrainsTotal   *prometheus.CounterVec
	DrainDuration prometheus.Histogram
	PagesTotal    prometheus.Counter

	// Message metrics
	MessagesDispatchedTotal prometheus.Counter
	MessagesDedupedTotal    prometheus.Counter
	MessagesDroppedTotal    prometheus.Counter
	EventsTotal             *prometheus.CounterVec

	// Platform client metrics
	TokenFetchesTotal *prometheus.CounterVec
	SendsTotal        *prometheus.CounterVec

	// Persistence metrics
	CursorFlushesTotal *prometheus.CounterVec
}

// NewMetrics creates and registers all metrics.
func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()

	m := &Metrics{
		registry: registry,

		CallbacksTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "wecomkf_callbacks_total",
				Help: "Total number of webhook callbacks by method and outcome",
			},
			[]string{"method", "outcome"},
		),

		DrainsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "wecomkf_drains_total",
				Help: "Total number of drain runs by result",
			},
			[]string{"result"},
		),
		DrainDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "wecomkf_drain_duration_seconds",
				Help:    "Duration of drain runs in seconds",
				Buckets: prometheus.DefBuckets,
			},
		),
		PagesTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "wecomkf_sync_pages_total",
				Help: "Total number of sync pages fetched",
			},
		),

		MessagesDispatchedTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "wecomkf_messages_dispatched_total",
				Help: "Total number of messages forwarded to the dispatcher",
			},
		),
		MessagesDedupedTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "wecomkf_messages_deduped_total",
				Help: "Total number of messages skipped as already processed",
			},
		),
		MessagesDroppedTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "wecomkf_messages_dropped_total",
				Help: "Total number of messages dropped by the origin filter",
			},
		),
		EventsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "wecomkf_events_total",
				Help: "Total number of lifecycle events by type",
			},
			[]string{"event_type"},
		),

		TokenFetchesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "wecomkf_token_fetches_total",
				Help: "Total number of credential fetches by result",
			},
			[]string{"result"},
		),
		SendsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "wecomkf_sends_total",
				Help: "Total number of outbound sends by kind and result",
			},
			[]string{"kind", "result"},
		),

		CursorFlushesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "wecomkf_cursor_flushes_total",
				Help: "Total number of cursor file flushes by result",
			},
			[]string{"result"},
		),
	}

	registry.MustRegister(
		m.CallbacksTotal,
		m.DrainsTotal,
		m.DrainDuration,
		m.PagesTotal,
		m.MessagesDispatchedTotal,
		m.MessagesDedupedTotal,
		m.MessagesDroppedTotal,
		m.EventsTotal,
		m.TokenFetchesTotal,
		m.SendsTotal,
		m.CursorFlushesTotal,
	)

	return m
}

// Handler returns an HTTP handler exposing the registry.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry returns the underlying registry, mainly for tests.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}
