// Package metrics exposes the service's Prometheus collectors.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "kbase"

var sessionTransitions = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: namespace,
	Name:      "session_transitions_total",
	Help:      "Ingestion session stage transitions labelled by target stage.",
}, []string{"stage"})

var confirmDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
	Namespace: namespace,
	Name:      "confirm_duration_seconds",
	Help:      "Time from confirm to a terminal session stage.",
	Buckets:   []float64{.05, .1, .25, .5, 1, 2, 5, 10, 30, 60},
}, []string{"outcome"})

var chunksPersisted = promauto.NewCounter(prometheus.CounterOpts{
	Namespace: namespace,
	Name:      "chunks_persisted_total",
	Help:      "Chunks written by confirmed ingestions.",
})

var deletionBatches = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: namespace,
	Name:      "deletion_batches_total",
	Help:      "Deletion batches labelled by result.",
}, []string{"result"})

var itemsDeleted = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: namespace,
	Name:      "deletion_items_total",
	Help:      "Chunks removed by the deletion queue labelled by deletion type.",
}, []string{"type"})

var queueDepth = promauto.NewGaugeVec(prometheus.GaugeOpts{
	Namespace: namespace,
	Name:      "deletion_queue_depth",
	Help:      "Deletion queue entries by status.",
}, []string{"status"})

var activeDeletionWorkers = promauto.NewGauge(prometheus.GaugeOpts{
	Namespace: namespace,
	Name:      "deletion_active_workers",
	Help:      "Deletion entries currently being processed.",
})

var sweepItems = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: namespace,
	Name:      "sweep_items_total",
	Help:      "Items handled by periodic sweeps labelled by sweep.",
}, []string{"sweep"})

var searchDuration = promauto.NewHistogram(prometheus.HistogramOpts{
	Namespace: namespace,
	Name:      "search_duration_seconds",
	Help:      "Knowledge search latency.",
	Buckets:   []float64{.01, .025, .05, .1, .25, .5, 1, 2},
})

var dependencyLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
	Namespace: namespace,
	Name:      "dependency_latency_seconds",
	Help:      "Latency of external service calls.",
	Buckets:   []float64{.05, .1, .25, .5, 1, 2, 5, 10},
}, []string{"service"})

// HTTPRequestsTotal counts API requests by route and status.
var HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: namespace,
	Name:      "http_requests_total",
	Help:      "Total number of requests labelled by route and status.",
}, []string{"route", "status"})

func SessionTransition(stage string) {
	sessionTransitions.WithLabelValues(stage).Inc()
}

func ObserveConfirm(outcome string, elapsed time.Duration) {
	confirmDuration.WithLabelValues(outcome).Observe(elapsed.Seconds())
}

func ChunksPersisted(n int) {
	chunksPersisted.Add(float64(n))
}

func DeletionBatch(ok bool) {
	result := "ok"
	if !ok {
		result = "error"
	}
	deletionBatches.WithLabelValues(result).Inc()
}

func ItemsDeleted(deletionType string, n int) {
	itemsDeleted.WithLabelValues(deletionType).Add(float64(n))
}

func SetQueueDepth(status string, n int) {
	queueDepth.WithLabelValues(status).Set(float64(n))
}

func IncrementActiveDeletionWorkers() {
	activeDeletionWorkers.Inc()
}

func DecrementActiveDeletionWorkers() {
	activeDeletionWorkers.Dec()
}

func SweepItems(sweep string, n int) {
	sweepItems.WithLabelValues(sweep).Add(float64(n))
}

func ObserveSearch(elapsed time.Duration) {
	searchDuration.Observe(elapsed.Seconds())
}

func CaptureDependency(service string, elapsed time.Duration) {
	dependencyLatency.WithLabelValues(service).Observe(elapsed.Seconds())
}

// HTTPRequest records one served request.
func HTTPRequest(route string, status int) {
	HTTPRequestsTotal.WithLabelValues(route, strconv.Itoa(status)).Inc()
}

// Handler serves the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}
