package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	translationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "querybridge_translations_total",
			Help: "Total number of translation engine calls by kind and outcome.",
		},
		[]string{"kind", "outcome"},
	)
	translationLatencySeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "querybridge_translation_latency_seconds",
			Help:    "Translation engine call latency in seconds.",
			Buckets: []float64{0.25, 0.5, 1, 2, 4, 8, 15, 30, 60},
		},
		[]string{"kind"},
	)
	dispatchTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "querybridge_dispatch_total",
			Help: "Total number of dispatched query descriptors by operation and outcome.",
		},
		[]string{"operation", "outcome"},
	)
	dispatchLatencySeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "querybridge_dispatch_latency_seconds",
			Help:    "Document store execution latency in seconds.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"operation"},
	)
	resultDocuments = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "querybridge_result_documents",
			Help:    "Number of documents returned per executed descriptor.",
			Buckets: []float64{0, 1, 10, 50, 100, 500, 1000, 5000, 10000},
		},
	)
	improvementFailuresTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "querybridge_improvement_failures_total",
			Help: "Total number of improved-prompt suggestions that failed.",
		},
	)
	pipelineRunsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "querybridge_pipeline_runs_total",
			Help: "Total number of prompt pipeline runs by outcome.",
		},
		[]string{"outcome"},
	)
)

func init() {
	prometheus.MustRegister(
		translationsTotal,
		translationLatencySeconds,
		dispatchTotal,
		dispatchLatencySeconds,
		resultDocuments,
		improvementFailuresTotal,
		pipelineRunsTotal,
	)
}

func ObserveTranslation(kind, outcome string, elapsed time.Duration) {
	translationsTotal.WithLabelValues(kind, outcome).Inc()
	translationLatencySeconds.WithLabelValues(kind).Observe(elapsed.Seconds())
}

func ObserveDispatch(operation, outcome string, documents int, elapsed time.Duration) {
	dispatchTotal.WithLabelValues(operation, outcome).Inc()
	if outcome == "rejected" {
		return
	}
	dispatchLatencySeconds.WithLabelValues(operation).Observe(elapsed.Seconds())
	if outcome == "ok" {
		resultDocuments.Observe(float64(documents))
	}
}

func IncrementImprovementFailure() {
	improvementFailuresTotal.Inc()
}

func ObservePipelineRun(outcome string) {
	pipelineRunsTotal.WithLabelValues(outcome).Inc()
}
