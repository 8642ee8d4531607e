package observability

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	RequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "preview_http_requests_total",
			Help: "Total HTTP requests",
		}, []string{"code"},
	)
	Latency = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "preview_http_request_duration_seconds",
		Help:    "Request latency seconds",
		Buckets: prometheus.DefBuckets,
	})
	InFlight = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "preview_http_in_flight",
		Help: "In-flight HTTP requests",
	})
	RequestErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "preview_request_errors_total",
			Help: "Total errors by type",
		}, []string{"type"},
	)
	PreviewsRendered = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "previews_rendered_total",
			Help: "Rendered previews by mode (single, batch)",
		}, []string{"mode"},
	)
	BatchSkipped = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "preview_batch_skipped_total",
			Help: "Batch connections left out of the result, by reason",
		}, []string{"reason"},
	)
	TemplateCacheSize = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "template_cache_entries",
		Help: "Templates held by the current cache snapshot",
	})
)

func init() {
	prometheus.MustRegister(RequestsTotal, Latency, InFlight, RequestErrors,
		PreviewsRendered, BatchSkipped, TemplateCacheSize)
}

func MetricsHandler() http.Handler { return promhttp.Handler() }

type rec struct {
	http.ResponseWriter
	code int
}

func (r *rec) WriteHeader(code int) {
	r.code = code
	r.ResponseWriter.WriteHeader(code)
}

func Measure(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		InFlight.Inc()
		defer InFlight.Dec()

		rr := &rec{ResponseWriter: w, code: http.StatusOK}
		next.ServeHTTP(rr, r)

		Latency.Observe(time.Since(start).Seconds())
		RequestsTotal.WithLabelValues(strconv.Itoa(rr.code)).Inc()
	})
}
