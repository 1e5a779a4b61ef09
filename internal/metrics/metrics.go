package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "possale"

// Metrics owns its registry so tests and multiple servers in one process do
// not collide on the global default registerer.
type Metrics struct {
	Registry *prometheus.Registry

	salesCommitted prometheus.Counter
	salesVoided    prometheus.Counter
	saleFailures   *prometheus.CounterVec
	commitDuration *prometheus.HistogramVec
	notifyFailures *prometheus.CounterVec
	cacheLookups   *prometheus.CounterVec
}

func New() *Metrics {
	m := &Metrics{
		Registry: prometheus.NewRegistry(),
		salesCommitted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sales_committed_total",
			Help:      "Sales committed to the ledger.",
		}),
		salesVoided: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sales_voided_total",
			Help:      "Sales voided with stock restored.",
		}),
		saleFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sale_failures_total",
			Help:      "Failed sale operations by operation and error kind.",
		}, []string{"op", "kind"}),
		commitDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "sale_commit_duration_seconds",
			Help:      "Time spent inside the atomic unit.",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
		}, []string{"op"}),
		notifyFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "notification_failures_total",
			Help:      "Post-commit notifications that could not be delivered.",
		}, []string{"event"}),
		cacheLookups: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "analytics_cache_lookups_total",
			Help:      "Analytics cache lookups by result.",
		}, []string{"result"}),
	}

	m.Registry.MustRegister(
		m.salesCommitted,
		m.salesVoided,
		m.saleFailures,
		m.commitDuration,
		m.notifyFailures,
		m.cacheLookups,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{Registry: m.Registry})
}

func (m *Metrics) SaleCommitted(d time.Duration) {
	m.salesCommitted.Inc()
	m.commitDuration.WithLabelValues("create").Observe(d.Seconds())
}

func (m *Metrics) SaleVoided(d time.Duration) {
	m.salesVoided.Inc()
	m.commitDuration.WithLabelValues("void").Observe(d.Seconds())
}

func (m *Metrics) SaleFailed(op string, kind string) {
	m.saleFailures.WithLabelValues(op, kind).Inc()
}

func (m *Metrics) NotificationFailed(event string) {
	m.notifyFailures.WithLabelValues(event).Inc()
}

func (m *Metrics) CacheLookup(hit bool) {
	result := "miss"
	if hit {
		result = "hit"
	}
	m.cacheLookups.WithLabelValues(result).Inc()
}
