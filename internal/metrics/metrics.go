package metrics

import (
	"net/http"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// LookupResult captures how the response cache answered a request.
type LookupResult string

const (
	LookupHit    LookupResult = "hit"
	LookupMiss   LookupResult = "miss"
	LookupBypass LookupResult = "bypass"
	LookupError  LookupResult = "error"
)

// StoreResult captures the outcome of a cache write.
type StoreResult string

const (
	StoreStored  StoreResult = "stored"
	StoreSkipped StoreResult = "skipped"
	StoreError   StoreResult = "error"
)

// InvalidationResult captures how a pattern invalidation finished.
type InvalidationResult string

const (
	InvalidationDeleted InvalidationResult = "deleted"
	InvalidationFlushed InvalidationResult = "flushed"
	InvalidationFailed  InvalidationResult = "failed"
)

// Recorder publishes Prometheus metrics for the cache and database layers.
// A nil *Recorder is valid and records nothing.
type Recorder struct {
	gatherer prometheus.Gatherer
	handler  http.Handler

	cacheLookups       *prometheus.CounterVec
	cacheStores        *prometheus.CounterVec
	cacheInvalidations *prometheus.CounterVec
	queryDuration      prometheus.Histogram
	slowQueries        prometheus.Counter
}

// NewRecorder registers the collectors on reg, or on a private registry when reg is nil.
func NewRecorder(reg *prometheus.Registry) *Recorder {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}

	reg.MustRegister(
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		collectors.NewGoCollector(),
	)

	cacheLookups := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "bdc",
		Subsystem: "cache",
		Name:      "lookups_total",
		Help:      "Response cache lookups by key prefix and result.",
	}, []string{"prefix", "result"})

	cacheStores := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "bdc",
		Subsystem: "cache",
		Name:      "stores_total",
		Help:      "Response cache writes by key prefix and result.",
	}, []string{"prefix", "result"})

	cacheInvalidations := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "bdc",
		Subsystem: "cache",
		Name:      "invalidations_total",
		Help:      "Pattern invalidations by outcome.",
	}, []string{"result"})

	queryDuration := prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: "bdc",
		Subsystem: "db",
		Name:      "query_duration_seconds",
		Help:      "Latency distribution of database statements.",
		Buckets:   []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5},
	})

	slowQueries := prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "bdc",
		Subsystem: "db",
		Name:      "slow_queries_total",
		Help:      "Statements slower than the configured threshold.",
	})

	reg.MustRegister(cacheLookups, cacheStores, cacheInvalidations, queryDuration, slowQueries)

	return &Recorder{
		gatherer:           reg,
		handler:            promhttp.HandlerFor(reg, promhttp.HandlerOpts{}),
		cacheLookups:       cacheLookups,
		cacheStores:        cacheStores,
		cacheInvalidations: cacheInvalidations,
		queryDuration:      queryDuration,
		slowQueries:        slowQueries,
	}
}

// Handler exposes the Prometheus HTTP handler for the recorder's registry.
func (r *Recorder) Handler() http.Handler {
	if r == nil {
		return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			http.Error(w, "metrics unavailable", http.StatusServiceUnavailable)
		})
	}
	return r.handler
}

func (r *Recorder) Gatherer() prometheus.Gatherer {
	if r == nil {
		return prometheus.NewRegistry()
	}
	return r.gatherer
}

func (r *Recorder) ObserveCacheLookup(prefix string, result LookupResult) {
	if r == nil {
		return
	}
	r.cacheLookups.WithLabelValues(normalizeLabel(prefix), normalizeLabel(string(result))).Inc()
}

func (r *Recorder) ObserveCacheStore(prefix string, result StoreResult) {
	if r == nil {
		return
	}
	r.cacheStores.WithLabelValues(normalizeLabel(prefix), normalizeLabel(string(result))).Inc()
}

func (r *Recorder) ObserveInvalidation(result InvalidationResult) {
	if r == nil {
		return
	}
	r.cacheInvalidations.WithLabelValues(normalizeLabel(string(result))).Inc()
}

// ObserveQuery records one executed statement.
func (r *Recorder) ObserveQuery(elapsed time.Duration, slow bool) {
	if r == nil {
		return
	}
	r.queryDuration.Observe(elapsed.Seconds())
	if slow {
		r.slowQueries.Inc()
	}
}

func normalizeLabel(value string) string {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return "unknown"
	}
	return trimmed
}
