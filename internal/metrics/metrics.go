// Package metrics exposes pipeline counters to Prometheus.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "jtfnews"

// Metrics holds the engine's collectors on a private registry so tests and
// multiple engines never collide on the global one.
type Metrics struct {
	reg *prometheus.Registry

	Cycles           *prometheus.CounterVec // by result
	CycleDuration    prometheus.Histogram
	HeadlinesFetched *prometheus.CounterVec // by source
	FetchErrors      *prometheus.CounterVec // by source
	Extractions      *prometheus.CounterVec // by status
	Facts            *prometheus.CounterVec // by outcome
	StoriesPublished prometheus.Counter
	QueueExpired     *prometheus.CounterVec // by source
	Deliveries       *prometheus.CounterVec // by consumer
	AlertsSent       *prometheus.CounterVec // by type
	QueueLength      prometheus.Gauge
	CostToday        prometheus.Gauge
}

// New creates and registers the collectors.
func New() *Metrics {
	m := &Metrics{
		reg: prometheus.NewRegistry(),
		Cycles: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cycles_total",
			Help:      "Completed cycles by result",
		}, []string{"result"}),
		CycleDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "cycle_duration_seconds",
			Help:      "Wall time of one cycle",
			Buckets:   []float64{1, 5, 15, 30, 60, 120, 300, 600},
		}),
		HeadlinesFetched: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "headlines_fetched_total",
			Help:      "Headlines fetched by source",
		}, []string{"source"}),
		FetchErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "fetch_errors_total",
			Help:      "Feed fetch failures by source",
		}, []string{"source"}),
		Extractions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "extractions_total",
			Help:      "Fact extraction results by status",
		}, []string{"status"}),
		Facts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "facts_total",
			Help:      "Extracted facts by outcome",
		}, []string{"outcome"}),
		StoriesPublished: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "stories_published_total",
			Help:      "Stories verified by two independent sources",
		}),
		QueueExpired: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "queue_expired_total",
			Help:      "Queued facts that expired unverified, by source",
		}, []string{"source"}),
		Deliveries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "deliveries_total",
			Help:      "Successful story deliveries by consumer",
		}, []string{"consumer"}),
		AlertsSent: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "alerts_sent_total",
			Help:      "Operator alerts sent by type",
		}, []string{"type"}),
		QueueLength: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "queue_length",
			Help:      "Facts waiting for a second source",
		}),
		CostToday: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "api_cost_today_usd",
			Help:      "Extraction spend for the current UTC day",
		}),
	}

	m.reg.MustRegister(
		m.Cycles, m.CycleDuration, m.HeadlinesFetched, m.FetchErrors,
		m.Extractions, m.Facts, m.StoriesPublished, m.QueueExpired,
		m.Deliveries, m.AlertsSent, m.QueueLength, m.CostToday,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// Register adds an extra collector, such as a RatingsCollector.
func (m *Metrics) Register(c prometheus.Collector) error {
	return m.reg.Register(c)
}

// Registry exposes the underlying registry for gathering in tests.
func (m *Metrics) Registry() *prometheus.Registry { return m.reg }

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.reg, promhttp.HandlerOpts{})
}
