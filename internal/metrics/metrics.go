// Package metrics exposes the service's Prometheus collectors.
package metrics

import (
	"net/http"
	"runtime"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	requestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "huddle_http_request_duration_seconds",
			Help:    "HTTP request latency by route class and status.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "route", "status"},
	)

	messagesCreated = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "huddle_messages_created_total",
			Help: "Messages created, by scope kind.",
		},
		[]string{"scope"},
	)

	messagesRateLimited = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "huddle_messages_rate_limited_total",
			Help: "Message creations rejected by the per-member limiter.",
		},
	)

	uploadsStored = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "huddle_uploads_stored_total",
			Help: "Attachments stored through a one-time upload slot.",
		},
	)

	uploadBytes = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "huddle_upload_bytes_total",
			Help: "Bytes written to attachment storage.",
		},
	)

	liveSubscribers = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "huddle_live_subscribers",
			Help: "Open live-feed streams.",
		},
	)

	subscriberOverflows = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "huddle_live_subscriber_overflows_total",
			Help: "Live-feed streams cut off because the reader fell behind.",
		},
	)

	heapAlloc = prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{
			Name: "huddle_heap_alloc_bytes",
			Help: "Current heap allocation in bytes.",
		},
		func() float64 {
			var stats runtime.MemStats
			runtime.ReadMemStats(&stats)
			return float64(stats.HeapAlloc)
		},
	)

	// Registry holds every collector above. It is separate from the default
	// registry so tests can build servers repeatedly.
	Registry = prometheus.NewRegistry()
)

func init() {
	Registry.MustRegister(
		requestDuration,
		messagesCreated,
		messagesRateLimited,
		uploadsStored,
		uploadBytes,
		liveSubscribers,
		subscriberOverflows,
		heapAlloc,
	)
}

// Handler serves the registry in the Prometheus text format.
func Handler() http.Handler {
	return promhttp.HandlerFor(Registry, promhttp.HandlerOpts{})
}

func ObserveRequest(method, route string, status int, elapsed time.Duration) {
	requestDuration.WithLabelValues(method, route, strconv.Itoa(status)).Observe(elapsed.Seconds())
}

func MessageCreated(scope string) {
	messagesCreated.WithLabelValues(scope).Inc()
}

func MessageRateLimited() {
	messagesRateLimited.Inc()
}

func UploadStored(size int64) {
	uploadsStored.Inc()
	if size > 0 {
		uploadBytes.Add(float64(size))
	}
}

func SubscriberOpened() {
	liveSubscribers.Inc()
}

func SubscriberClosed() {
	liveSubscribers.Dec()
}

func SubscriberOverflowed() {
	subscriberOverflows.Inc()
}

// RouteClass collapses a request path to its first two segments so ids do
// not explode label cardinality.
func RouteClass(path string) string {
	segments := 0
	for i := 0; i < len(path); i++ {
		if path[i] != '/' {
			continue
		}
		segments++
		if segments == 3 {
			return path[:i]
		}
	}
	return path
}
