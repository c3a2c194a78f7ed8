// Package metrics publishes Prometheus counters and histograms for action
// executions and the decision/result cache, following the same
// injectable-registry shape as the teacher's internal/metrics package.
package metrics

import (
	"net/http"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// CacheOperation identifies the result cache method being instrumented.
type CacheOperation string

const (
	CacheOperationLookup CacheOperation = "lookup"
	CacheOperationStore  CacheOperation = "store"
)

// CacheLookupOutcome captures the result of a cache lookup.
type CacheLookupOutcome string

const (
	CacheLookupHit   CacheLookupOutcome = "hit"
	CacheLookupMiss  CacheLookupOutcome = "miss"
	CacheLookupError CacheLookupOutcome = "error"
)

// CacheStoreOutcome captures the result of a cache store attempt.
type CacheStoreOutcome string

const (
	CacheStoreStored CacheStoreOutcome = "stored"
	CacheStoreError  CacheStoreOutcome = "error"
)

// Recorder publishes Prometheus metrics for action execution activity.
type Recorder struct {
	gatherer prometheus.Gatherer
	handler  http.Handler

	actionRequests *prometheus.CounterVec
	actionLatency  *prometheus.HistogramVec

	cacheOperations *prometheus.CounterVec
	cacheLatency    *prometheus.HistogramVec

	uploadRejections *prometheus.CounterVec
}

// NewRecorder constructs a Prometheus-backed Recorder. When reg is nil a
// dedicated registry is created so multiple recorders can coexist without
// conflicting with the global default registerer.
func NewRecorder(reg *prometheus.Registry) *Recorder {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}

	reg.MustRegister(
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		collectors.NewGoCollector(),
	)

	actionRequests := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "actionkit",
		Subsystem: "action",
		Name:      "requests_total",
		Help:      "Total execute requests processed by the engine, by service/action/outcome.",
	}, []string{"service", "action", "outcome", "from_cache"})

	actionLatency := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "actionkit",
		Subsystem: "action",
		Name:      "request_duration_seconds",
		Help:      "Latency distribution for completed execute requests.",
		Buckets:   []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2, 5},
	}, []string{"service", "action", "outcome"})

	cacheOperations := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "actionkit",
		Subsystem: "cache",
		Name:      "operations_total",
		Help:      "Result cache operations executed by the engine.",
	}, []string{"service", "action", "operation", "result"})

	cacheLatency := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "actionkit",
		Subsystem: "cache",
		Name:      "operation_duration_seconds",
		Help:      "Latency distribution for result cache operations.",
		Buckets:   []float64{0.0005, 0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5},
	}, []string{"service", "action", "operation", "result"})

	uploadRejections := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "actionkit",
		Subsystem: "upload",
		Name:      "rejections_total",
		Help:      "Upload front-end validation rejections, by category.",
	}, []string{"category"})

	reg.MustRegister(actionRequests, actionLatency, cacheOperations, cacheLatency, uploadRejections)

	handler := promhttp.HandlerFor(reg, promhttp.HandlerOpts{})

	return &Recorder{
		gatherer:         reg,
		handler:          handler,
		actionRequests:   actionRequests,
		actionLatency:    actionLatency,
		cacheOperations:  cacheOperations,
		cacheLatency:     cacheLatency,
		uploadRejections: uploadRejections,
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

// Gatherer returns the underlying Prometheus gatherer for tests and advanced
// integrations.
func (r *Recorder) Gatherer() prometheus.Gatherer {
	if r == nil {
		return prometheus.NewRegistry()
	}
	return r.gatherer
}

// ObserveAction records the outcome and latency of one execute dispatch.
func (r *Recorder) ObserveAction(service, action, outcome string, fromCache bool, duration time.Duration) {
	if r == nil {
		return
	}
	serviceLabel := normalizeLabel(service)
	actionLabel := normalizeLabel(action)
	outcomeLabel := normalizeLabel(outcome)
	cacheLabel := "false"
	if fromCache {
		cacheLabel = "true"
	}
	r.actionRequests.WithLabelValues(serviceLabel, actionLabel, outcomeLabel, cacheLabel).Inc()
	r.actionLatency.WithLabelValues(serviceLabel, actionLabel, outcomeLabel).Observe(duration.Seconds())
}

// ObserveCacheLookup records the result of a result-cache lookup.
func (r *Recorder) ObserveCacheLookup(service, action string, result CacheLookupOutcome, duration time.Duration) {
	if r == nil {
		return
	}
	if result == "" {
		result = CacheLookupMiss
	}
	r.observeCache(service, action, CacheOperationLookup, string(result), duration)
}

// ObserveCacheStore records the result of a result-cache store attempt.
func (r *Recorder) ObserveCacheStore(service, action string, result CacheStoreOutcome, duration time.Duration) {
	if r == nil {
		return
	}
	if result == "" {
		result = CacheStoreError
	}
	r.observeCache(service, action, CacheOperationStore, string(result), duration)
}

// ObserveUploadRejection records a structured upload validation failure by
// its error_category (envelope, content_type, validation).
func (r *Recorder) ObserveUploadRejection(category string) {
	if r == nil {
		return
	}
	r.uploadRejections.WithLabelValues(normalizeLabel(category)).Inc()
}

func (r *Recorder) observeCache(service, action string, operation CacheOperation, result string, duration time.Duration) {
	serviceLabel := normalizeLabel(service)
	actionLabel := normalizeLabel(action)
	opLabel := string(operation)
	if opLabel == "" {
		opLabel = string(CacheOperationLookup)
	}
	resLabel := normalizeLabel(result)
	r.cacheOperations.WithLabelValues(serviceLabel, actionLabel, opLabel, resLabel).Inc()
	r.cacheLatency.WithLabelValues(serviceLabel, actionLabel, opLabel, resLabel).Observe(duration.Seconds())
}

func normalizeLabel(value string) string {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return "unknown"
	}
	return trimmed
}
