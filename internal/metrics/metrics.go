package metrics

import (
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Registry holds the worker-specific Prometheus collectors.
	Registry = prometheus.NewRegistry()

	httpInFlight = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "trusted_worker",
			Subsystem: "http",
			Name:      "inflight_requests",
			Help:      "Current number of in-flight HTTP requests.",
		},
	)

	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "trusted_worker",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests handled.",
		},
		[]string{"method", "path", "status"},
	)

	httpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "trusted_worker",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "Duration of HTTP requests.",
			Buckets:   prometheus.ExponentialBuckets(0.005, 2, 10), // 5ms to ~5s
		},
		[]string{"method", "path"},
	)

	workOrders = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "trusted_worker",
			Subsystem: "workorder",
			Name:      "requests_total",
			Help:      "Total number of work-order requests processed.",
		},
		[]string{"status"},
	)

	workOrderDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "trusted_worker",
			Subsystem: "workorder",
			Name:      "duration_seconds",
			Help:      "Duration of work-order processing.",
			Buckets:   prometheus.ExponentialBuckets(0.001, 2, 12), // 1ms to ~4s
		},
		[]string{"status"},
	)

	stagedResponses = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "trusted_worker",
			Subsystem: "workorder",
			Name:      "staged_responses",
			Help:      "Number of responses currently staged for fetch.",
		},
	)
)

func init() {
	Registry.MustRegister(
		httpInFlight,
		httpRequests,
		httpDuration,
		workOrders,
		workOrderDuration,
		stagedResponses,
		prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}),
		prometheus.NewGoCollector(),
	)
}

// Handler returns an HTTP handler exposing the registered Prometheus metrics.
func Handler() http.Handler {
	return promhttp.HandlerFor(Registry, promhttp.HandlerOpts{})
}

// RegisterPoolGauges registers gauges reporting the enclave pool's size and
// free instances. Re-registration (pool rebuilt in tests) is a no-op.
func RegisterPoolGauges(size, available func() float64) {
	collectors := []prometheus.Collector{
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: "trusted_worker",
			Subsystem: "pool",
			Name:      "size",
			Help:      "Number of enclave instances the pool owns.",
		}, size),
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: "trusted_worker",
			Subsystem: "pool",
			Name:      "available_instances",
			Help:      "Number of enclave instances currently free.",
		}, available),
	}
	for _, c := range collectors {
		if err := Registry.Register(c); err != nil {
			var are prometheus.AlreadyRegisteredError
			if !errors.As(err, &are) {
				panic(err)
			}
		}
	}
}

// InstrumentHandler wraps the provided handler with HTTP metrics collection.
func InstrumentHandler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/metrics" {
			next.ServeHTTP(w, r)
			return
		}

		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		start := time.Now()

		httpInFlight.Inc()
		defer httpInFlight.Dec()

		next.ServeHTTP(rec, r)

		duration := time.Since(start)
		path := canonicalPath(r.URL.Path)
		method := strings.ToUpper(r.Method)

		httpRequests.WithLabelValues(method, path, strconv.Itoa(rec.status)).Inc()
		httpDuration.WithLabelValues(method, path).Observe(duration.Seconds())
	})
}

// RecordWorkOrder records one processed work-order request.
func RecordWorkOrder(status string, duration time.Duration) {
	if duration <= 0 {
		duration = time.Millisecond
	}
	workOrders.WithLabelValues(status).Inc()
	workOrderDuration.WithLabelValues(status).Observe(duration.Seconds())
}

// SetStagedResponses reports the current response-store depth.
func SetStagedResponses(n int) {
	stagedResponses.Set(float64(n))
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (r *statusRecorder) Write(b []byte) (int, error) {
	if r.status == 0 {
		r.status = http.StatusOK
	}
	return r.ResponseWriter.Write(b)
}

// canonicalPath collapses request paths to their route shape so label
// cardinality stays bounded.
func canonicalPath(raw string) string {
	trimmed := strings.Trim(raw, "/")
	if trimmed == "" {
		return "/"
	}
	parts := strings.Split(trimmed, "/")
	if parts[0] != "v1" || len(parts) == 1 {
		return "/" + parts[0]
	}
	return "/v1/" + parts[1]
}
