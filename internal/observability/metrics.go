package observability

import (
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "mneme"

type moduleMetrics struct {
	syncTotal    *prometheus.CounterVec
	syncDuration *prometheus.HistogramVec
	filesTotal   *prometheus.CounterVec
	chunks       *prometheus.GaugeVec
	dirty        *prometheus.GaugeVec

	searchTotal    *prometheus.CounterVec
	searchDuration *prometheus.HistogramVec
	capability     *prometheus.GaugeVec

	cacheLookups         *prometheus.CounterVec
	embedBatchDuration   *prometheus.HistogramVec
	embedErrorsTotal     *prometheus.CounterVec
	workerInflight       *prometheus.GaugeVec
	workerExitsTotal     *prometheus.CounterVec
	aggregateFailedTotal *prometheus.CounterVec
}

var (
	metricsOnce sync.Once
	metricsInst *moduleMetrics
)

func getMetrics() *moduleMetrics {
	metricsOnce.Do(func() {
		m := &moduleMetrics{
			syncTotal: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Namespace: namespace,
					Name:      "sync_total",
					Help:      "Sync passes by trigger reason and status.",
				},
				[]string{"reason", "status"},
			),
			syncDuration: prometheus.NewHistogramVec(
				prometheus.HistogramOpts{
					Namespace: namespace,
					Name:      "sync_duration_seconds",
					Help:      "Sync pass duration in seconds by trigger reason.",
					Buckets:   prometheus.DefBuckets,
				},
				[]string{"reason"},
			),
			filesTotal: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Namespace: namespace,
					Name:      "files_total",
					Help:      "Files processed during sync by outcome (indexed, unchanged, removed, failed).",
				},
				[]string{"outcome"},
			),
			chunks: prometheus.NewGaugeVec(
				prometheus.GaugeOpts{
					Namespace: namespace,
					Name:      "chunks",
					Help:      "Chunks currently indexed per identity.",
				},
				[]string{"identity"},
			),
			dirty: prometheus.NewGaugeVec(
				prometheus.GaugeOpts{
					Namespace: namespace,
					Name:      "dirty",
					Help:      "Dirty flag per identity (1 dirty, 0 clean).",
				},
				[]string{"identity"},
			),
			searchTotal: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Namespace: namespace,
					Name:      "search_total",
					Help:      "Searches by ranking mode.",
				},
				[]string{"mode"},
			),
			searchDuration: prometheus.NewHistogramVec(
				prometheus.HistogramOpts{
					Namespace: namespace,
					Name:      "search_duration_seconds",
					Help:      "Search duration in seconds by ranking mode.",
					Buckets:   prometheus.DefBuckets,
				},
				[]string{"mode"},
			),
			capability: prometheus.NewGaugeVec(
				prometheus.GaugeOpts{
					Namespace: namespace,
					Name:      "capability_available",
					Help:      "Optional index capability state (1 available, 0 unavailable).",
				},
				[]string{"identity", "capability"},
			),
			cacheLookups: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Namespace: namespace,
					Name:      "embedding_cache_lookups_total",
					Help:      "Embedding cache lookups by result (hit, miss).",
				},
				[]string{"result"},
			),
			embedBatchDuration: prometheus.NewHistogramVec(
				prometheus.HistogramOpts{
					Namespace: namespace,
					Name:      "embedding_batch_duration_seconds",
					Help:      "Embedding batch request duration in seconds by provider.",
					Buckets:   prometheus.DefBuckets,
				},
				[]string{"provider"},
			),
			embedErrorsTotal: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Namespace: namespace,
					Name:      "embedding_errors_total",
					Help:      "Embedding failures by provider.",
				},
				[]string{"provider"},
			),
			workerInflight: prometheus.NewGaugeVec(
				prometheus.GaugeOpts{
					Namespace: namespace,
					Name:      "worker_inflight_calls",
					Help:      "Calls awaiting a worker response per identity.",
				},
				[]string{"identity"},
			),
			workerExitsTotal: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Namespace: namespace,
					Name:      "worker_exits_total",
					Help:      "Worker exits by identity and cause (closed, crashed).",
				},
				[]string{"identity", "cause"},
			),
			aggregateFailedTotal: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Namespace: namespace,
					Name:      "aggregate_identity_failures_total",
					Help:      "Identities skipped during a multi-identity search.",
				},
				[]string{"identity"},
			),
		}

		prometheus.MustRegister(
			m.syncTotal,
			m.syncDuration,
			m.filesTotal,
			m.chunks,
			m.dirty,
			m.searchTotal,
			m.searchDuration,
			m.capability,
			m.cacheLookups,
			m.embedBatchDuration,
			m.embedErrorsTotal,
			m.workerInflight,
			m.workerExitsTotal,
			m.aggregateFailedTotal,
		)

		metricsInst = m
	})

	return metricsInst
}

// EnsureRegistered initializes and registers metrics the first time it is called.
func EnsureRegistered() {
	_ = getMetrics()
}

func MetricsHandler() http.Handler {
	EnsureRegistered()
	return promhttp.Handler()
}

func status(ok bool) string {
	if ok {
		return "success"
	}
	return "error"
}

func RecordSync(reason string, duration time.Duration, success bool) {
	m := getMetrics()
	m.syncTotal.WithLabelValues(reason, status(success)).Inc()
	m.syncDuration.WithLabelValues(reason).Observe(duration.Seconds())
}

func RecordFiles(outcome string, n int) {
	if n <= 0 {
		return
	}
	getMetrics().filesTotal.WithLabelValues(outcome).Add(float64(n))
}

func SetChunks(identity string, total int) {
	getMetrics().chunks.WithLabelValues(identity).Set(float64(total))
}

func SetDirty(identity string, dirty bool) {
	v := 0.0
	if dirty {
		v = 1.0
	}
	getMetrics().dirty.WithLabelValues(identity).Set(v)
}

func RecordSearch(mode string, duration time.Duration) {
	m := getMetrics()
	m.searchTotal.WithLabelValues(mode).Inc()
	m.searchDuration.WithLabelValues(mode).Observe(duration.Seconds())
}

func SetCapability(identity, capability string, available bool) {
	v := 0.0
	if available {
		v = 1.0
	}
	getMetrics().capability.WithLabelValues(identity, capability).Set(v)
}

func RecordCacheLookups(hits, misses int) {
	m := getMetrics()
	if hits > 0 {
		m.cacheLookups.WithLabelValues("hit").Add(float64(hits))
	}
	if misses > 0 {
		m.cacheLookups.WithLabelValues("miss").Add(float64(misses))
	}
}

func RecordEmbeddingBatch(provider string, duration time.Duration, success bool) {
	m := getMetrics()
	m.embedBatchDuration.WithLabelValues(provider).Observe(duration.Seconds())
	if !success {
		m.embedErrorsTotal.WithLabelValues(provider).Inc()
	}
}

func SetWorkerInflight(identity string, n int) {
	getMetrics().workerInflight.WithLabelValues(identity).Set(float64(n))
}

func RecordWorkerExit(identity, cause string) {
	getMetrics().workerExitsTotal.WithLabelValues(identity, cause).Inc()
}

func RecordAggregateFailure(identity string) {
	getMetrics().aggregateFailedTotal.WithLabelValues(identity).Inc()
}
