package observability

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the engine's Prometheus metrics.
type Metrics struct {
	registry *prometheus.Registry

	// Resolution metrics
	ResolutionsTotal   *prometheus.CounterVec
	ResolutionDuration prometheus.Histogram

	// Decision metrics
	DenialsTotal *prometheus.CounterVec

	// Cache metrics. Hit and miss counts live inside the cache itself and
	// are exposed through RegisterCounterFunc bridges at wiring time.
	CacheInvalidationsTotal prometheus.Counter

	// Navigation metrics
	NavigationRequestsTotal    prometheus.Counter
	NavigationNotModifiedTotal prometheus.Counter

	// Audit metrics
	AuditAppendsTotal prometheus.Counter

	// Mutation metrics
	MutationsTotal *prometheus.CounterVec
}

// NewMetrics creates and registers all engine metrics on the given registry
// (a fresh one if nil).
func NewMetrics(registry *prometheus.Registry) *Metrics {
	if registry == nil {
		registry = prometheus.NewRegistry()
	}

	m := &Metrics{
		registry: registry,
		ResolutionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tollgate_resolutions_total",
				Help: "Total permission resolutions by outcome",
			},
			[]string{"outcome"},
		),
		ResolutionDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "tollgate_resolution_duration_seconds",
				Help:    "Permission resolution duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
		),
		DenialsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tollgate_denials_total",
				Help: "Total denied decisions by kind",
			},
			[]string{"kind"},
		),
		CacheInvalidationsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "tollgate_permission_cache_invalidations_total",
			Help: "Total permission cache invalidations",
		}),
		NavigationRequestsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "tollgate_navigation_requests_total",
			Help: "Total navigation projections requested",
		}),
		NavigationNotModifiedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "tollgate_navigation_not_modified_total",
			Help: "Total navigation requests answered from the caller's ETag",
		}),
		AuditAppendsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "tollgate_audit_appends_total",
			Help: "Total audit entries appended",
		}),
		MutationsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tollgate_mutations_total",
				Help: "Total administrative mutations by entity and result",
			},
			[]string{"entity", "result"},
		),
	}

	registry.MustRegister(
		m.ResolutionsTotal,
		m.ResolutionDuration,
		m.DenialsTotal,
		m.CacheInvalidationsTotal,
		m.NavigationRequestsTotal,
		m.NavigationNotModifiedTotal,
		m.AuditAppendsTotal,
		m.MutationsTotal,
	)
	return m
}

// RegisterCounterFunc exposes a monotonic count maintained elsewhere, such
// as the cache's internal hit and miss counters, as a series on the
// registry.
func (m *Metrics) RegisterCounterFunc(name, help string, fn func() float64) {
	m.registry.MustRegister(prometheus.NewCounterFunc(
		prometheus.CounterOpts{Name: name, Help: help}, fn,
	))
}

// RegisterGaugeFunc is the gauge counterpart of RegisterCounterFunc.
func (m *Metrics) RegisterGaugeFunc(name, help string, fn func() float64) {
	m.registry.MustRegister(prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{Name: name, Help: help}, fn,
	))
}

// Registry exposes the underlying registry for additional collectors.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler returns the HTTP handler serving the metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
