// Package metrics exposes Prometheus collectors for the write/read paths,
// cache hit rate and search latency.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds every collector registered by the core.
type Metrics struct {
	WritesTotal      *prometheus.CounterVec
	WriteDuration    *prometheus.HistogramVec
	ReadsTotal       *prometheus.CounterVec
	ReadDuration     *prometheus.HistogramVec
	ErrorsTotal      *prometheus.CounterVec
	CacheHitsTotal   *prometheus.CounterVec
	CacheMissesTotal *prometheus.CounterVec
	SearchQueryTotal prometheus.Counter
	SearchQueryTime  prometheus.Histogram
	PCRebuildsTotal  prometheus.Counter
	SBQueueDepth     prometheus.Gauge
}

// New creates and registers all collectors against the default registerer.
func New() *Metrics {
	return NewWithRegistry(prometheus.DefaultRegisterer)
}

// NewWithRegistry creates and registers all collectors against registerer,
// which may be nil to skip registration (used by tests).
func NewWithRegistry(registerer prometheus.Registerer) *Metrics {
	m := &Metrics{
		WritesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ucg_writes_total",
			Help: "Total number of UCG write operations.",
		}, []string{"op", "status"}),
		WriteDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "ucg_write_duration_seconds",
			Help:    "UCG write operation latency in seconds.",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5},
		}, []string{"op"}),
		ReadsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ucg_reads_total",
			Help: "Total number of UCG read operations.",
		}, []string{"kind", "status"}),
		ReadDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "ucg_read_duration_seconds",
			Help:    "UCG read operation latency in seconds.",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1},
		}, []string{"kind"}),
		ErrorsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ucg_errors_total",
			Help: "Total number of errors by category.",
		}, []string{"category", "operation"}),
		CacheHitsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ucg_pc_hits_total",
			Help: "Performance cache hits.",
		}, []string{"key_class"}),
		CacheMissesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ucg_pc_misses_total",
			Help: "Performance cache misses.",
		}, []string{"key_class"}),
		SearchQueryTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "search_queries_total",
			Help: "Total search queries executed.",
		}),
		SearchQueryTime: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "search_query_duration_seconds",
			Help:    "Search query latency in seconds.",
			Buckets: []float64{.0005, .001, .005, .01, .05, .1, .5},
		}),
		PCRebuildsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "ucg_pc_rebuilds_total",
			Help: "Number of times the performance cache entered full rebuild mode.",
		}),
		SBQueueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "ucg_sb_queue_depth",
			Help: "Current depth of the structural backup resync queue.",
		}),
	}

	if registerer != nil {
		registerer.MustRegister(
			m.WritesTotal, m.WriteDuration, m.ReadsTotal, m.ReadDuration,
			m.ErrorsTotal, m.CacheHitsTotal, m.CacheMissesTotal,
			m.SearchQueryTotal, m.SearchQueryTime, m.PCRebuildsTotal, m.SBQueueDepth,
		)
	}
	return m
}

func (m *Metrics) RecordWrite(op, status string, d time.Duration) {
	m.WritesTotal.WithLabelValues(op, status).Inc()
	m.WriteDuration.WithLabelValues(op).Observe(d.Seconds())
}

func (m *Metrics) RecordRead(kind, status string, d time.Duration) {
	m.ReadsTotal.WithLabelValues(kind, status).Inc()
	m.ReadDuration.WithLabelValues(kind).Observe(d.Seconds())
}

func (m *Metrics) RecordError(category, operation string) {
	m.ErrorsTotal.WithLabelValues(category, operation).Inc()
}

func (m *Metrics) RecordCacheHit(keyClass string)  { m.CacheHitsTotal.WithLabelValues(keyClass).Inc() }
func (m *Metrics) RecordCacheMiss(keyClass string) { m.CacheMissesTotal.WithLabelValues(keyClass).Inc() }
