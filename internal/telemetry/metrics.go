// Package telemetry exposes the prometheus metrics for a splitsync node:
// relay traffic, collection latency, and the HTTP surface.
package telemetry

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	Registry = prometheus.NewRegistry()

	// EventsRelayed counts events shipped across the node boundary,
	// labeled by event kind and direction of travel.
	EventsRelayed = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "splitsync",
			Name:      "events_relayed_total",
			Help:      "Events forwarded across the node boundary.",
		},
		[]string{"kind", "direction"},
	)

	// RelayDrops counts events the relay could not deliver. The link
	// layer owns retries; a drop here means that peer stays stale until
	// the next reconciliation.
	RelayDrops = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "splitsync",
			Name:      "relay_drops_total",
			Help:      "Events dropped because a transport send failed.",
		},
		[]string{"kind"},
	)

	// StaleReports counts collection reports discarded because their
	// correlation id no longer matched the live session.
	StaleReports = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "splitsync",
			Name:      "stale_reports_total",
			Help:      "Collection reports discarded by the correlation check.",
		},
	)

	// CollectionDuration observes how long bounded-synchronous
	// collections take, early wakes included.
	CollectionDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "splitsync",
			Name:      "collection_duration_seconds",
			Help:      "Latency of bounded-synchronous settings collection.",
			// The wait window is on the order of 100ms; cover 1ms .. ~1s.
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 11),
		},
	)

	RequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "splitsync",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests.",
		},
		[]string{"op", "status"},
	)

	RequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "splitsync",
			Name:      "request_duration_seconds",
			Help:      "Latency of HTTP requests.",
			Buckets:   prometheus.ExponentialBuckets(0.001, 2, 13),
		},
		[]string{"op"},
	)

	InFlight = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "splitsync",
			Name:      "in_flight_requests",
			Help:      "Current number of in-flight HTTP requests.",
		},
		[]string{"op"},
	)

	buildInfo = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "splitsync",
			Name:      "build_info",
			Help:      "Build info (constant 1, labeled by version and git_sha).",
		},
		[]string{"version", "git_sha"},
	)

	startTime = time.Now()
	uptime    = prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{
			Namespace: "splitsync",
			Name:      "uptime_seconds",
			Help:      "Process uptime in seconds.",
		},
		func() float64 { return time.Since(startTime).Seconds() },
	)
)

func init() {
	Registry.MustRegister(
		EventsRelayed, RelayDrops, StaleReports, CollectionDuration,
		RequestsTotal, RequestDuration, InFlight, buildInfo, uptime,
	)
}

// MetricsHandler exposes /metrics. Mount it with mux.Handle("/metrics", telemetry.MetricsHandler()).
func MetricsHandler() http.Handler {
	return promhttp.HandlerFor(Registry, promhttp.HandlerOpts{})
}

// SetBuildInfo should be called once at startup, e.g. with ldflags-provided values.
func SetBuildInfo(version, gitSHA string) {
	buildInfo.WithLabelValues(version, gitSHA).Set(1)
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

// Instrument wraps an http.Handler to record metrics under the provided "op" label.
// Example:
//
//	mux.Handle("/rpc", telemetry.Instrument("rpc", http.HandlerFunc(s.handleRPC)))
func Instrument(op string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sw := &statusWriter{ResponseWriter: w, status: 200}
		start := time.Now()

		InFlight.WithLabelValues(op).Inc()
		defer InFlight.WithLabelValues(op).Dec()

		next.ServeHTTP(sw, r)

		class := strconv.Itoa(sw.status/100) + "xx"
		RequestsTotal.WithLabelValues(op, class).Inc()
		RequestDuration.WithLabelValues(op).Observe(time.Since(start).Seconds())
	})
}
