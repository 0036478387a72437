package obs

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Shared HTTP metrics.
var (
	httpInFlight = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "http_in_flight_requests",
		Help: "In-flight HTTP requests.",
	})

	httpRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests.",
		},
		[]string{"method", "path", "status"},
	)

	httpRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request latencies in seconds.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)

	ready = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "portal_ready",
		Help: "1 when the readiness probe last succeeded.",
	})
)

// Portal domain metrics.
var (
	heartbeatsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "portal_heartbeats_total",
		Help: "Presence heartbeats accepted.",
	})

	visitsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "portal_visits_total",
		Help: "Member visits recorded at login.",
	})

	scoreUpdatesTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "portal_score_updates_total",
		Help: "Team indicator score cells written.",
	})

	rankingRecomputesTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "portal_ranking_recomputes_total",
		Help: "Leaderboard recomputations.",
	})

	streamSubscribers = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "portal_stream_subscribers",
		Help: "Active SSE subscribers.",
	})
)

// Init registers all metrics in the default registry.
func Init() {
	prometheus.MustRegister(
		httpInFlight, httpRequestsTotal, httpRequestDuration, ready,
		heartbeatsTotal, visitsTotal, scoreUpdatesTotal,
		rankingRecomputesTotal, streamSubscribers,
	)
}

// Handler exposes the Prometheus scrape endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}

// SetReady reflects the readiness probe result.
func SetReady(ok bool) {
	if ok {
		ready.Set(1)
	} else {
		ready.Set(0)
	}
}

func CountHeartbeat()        { heartbeatsTotal.Inc() }
func CountVisit()            { visitsTotal.Inc() }
func CountScoreUpdate()      { scoreUpdatesTotal.Inc() }
func CountRankingRecompute() { rankingRecomputesTotal.Inc() }

func StreamSubscriberAdd()    { streamSubscribers.Inc() }
func StreamSubscriberRemove() { streamSubscribers.Dec() }

// Instrument wraps next with RPS/latency/in-flight measurement.
func Instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path := r.URL.Path
		method := r.Method

		httpInFlight.Inc()
		start := time.Now()

		sw := &statusWriter{ResponseWriter: w, code: 200}
		next.ServeHTTP(sw, r)

		duration := time.Since(start).Seconds()
		status := strconv.Itoa(sw.code)

		httpRequestDuration.WithLabelValues(method, path, status).Observe(duration)
		httpRequestsTotal.WithLabelValues(method, path, status).Inc()
		httpInFlight.Dec()
	})
}

// statusWriter captures the response code for the metric labels.
type statusWriter struct {
	http.ResponseWriter
	code int
}

func (w *statusWriter) WriteHeader(code int) {
	w.code = code
	w.ResponseWriter.WriteHeader(code)
}

// Flush passes the SSE flush through to the underlying writer.
func (w *statusWriter) Flush() {
	if f, ok := w.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}
