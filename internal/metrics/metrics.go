package metrics

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "adreel"

var (
	// Registry holds the application-specific Prometheus collectors.
	Registry = prometheus.NewRegistry()

	httpInFlight = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "inflight_requests",
			Help:      "Current number of in-flight HTTP requests.",
		},
	)

	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests handled.",
		},
		[]string{"method", "route", "status"},
	)

	httpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "Duration of HTTP requests.",
			Buckets:   prometheus.ExponentialBuckets(0.005, 2, 10), // 5ms to ~5s
		},
		[]string{"method", "route"},
	)

	billingEvents = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "billing",
			Name:      "events_total",
			Help:      "Billing webhook events by type and processing outcome.",
		},
		[]string{"event_type", "outcome"},
	)

	ledgerTransactions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ledger",
			Name:      "transactions_total",
			Help:      "Ledger transaction attempts by kind and result.",
		},
		[]string{"kind", "result"},
	)

	jobTransitions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "jobs",
			Name:      "transitions_total",
			Help:      "Generation job state changes by target status.",
		},
		[]string{"status"},
	)

	submissions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "jobs",
			Name:      "submissions_total",
			Help:      "Generation submissions by result.",
		},
		[]string{"result"},
	)

	renderTriggers = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "render",
			Name:      "triggers_total",
			Help:      "Render provider trigger calls.",
		},
		[]string{"success"},
	)

	renderTriggerDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "render",
			Name:      "trigger_duration_seconds",
			Help:      "Duration of render provider trigger calls.",
			Buckets:   prometheus.ExponentialBuckets(0.01, 2, 12),
		},
	)

	staleJobsSwept = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "jobs",
			Name:      "stale_swept_total",
			Help:      "Jobs failed by the stale job sweep.",
		},
	)
)

func init() {
	Registry.MustRegister(
		httpInFlight,
		httpRequests,
		httpDuration,
		billingEvents,
		ledgerTransactions,
		jobTransitions,
		submissions,
		renderTriggers,
		renderTriggerDuration,
		staleJobsSwept,
		prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}),
		prometheus.NewGoCollector(),
	)
}

// Handler returns an HTTP handler exposing the registered Prometheus metrics.
func Handler() http.Handler {
	return promhttp.HandlerFor(Registry, promhttp.HandlerOpts{})
}

// InstrumentHandler wraps the provided handler with HTTP metrics collection.
// The route label is the chi pattern so path parameters do not explode cardinality.
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

		route := "unmatched"
		if rctx := chi.RouteContext(r.Context()); rctx != nil {
			if pattern := rctx.RoutePattern(); pattern != "" {
				route = pattern
			}
		}
		method := strings.ToUpper(r.Method)

		httpRequests.WithLabelValues(method, route, strconv.Itoa(rec.status)).Inc()
		httpDuration.WithLabelValues(method, route).Observe(time.Since(start).Seconds())
	})
}

// RecordBillingEvent counts a handled billing event.
func RecordBillingEvent(eventType, outcome string) {
	if eventType == "" {
		eventType = "unknown"
	}
	billingEvents.WithLabelValues(eventType, outcome).Inc()
}

// RecordLedgerTransaction counts a ledger application attempt.
func RecordLedgerTransaction(kind, result string) {
	ledgerTransactions.WithLabelValues(kind, result).Inc()
}

// RecordJobTransition counts a job reaching status.
func RecordJobTransition(status string) {
	jobTransitions.WithLabelValues(status).Inc()
}

// RecordSubmission counts a generation submission result.
func RecordSubmission(result string) {
	submissions.WithLabelValues(result).Inc()
}

// RecordRenderTrigger records one render provider call.
func RecordRenderTrigger(success bool, duration time.Duration) {
	if duration <= 0 {
		duration = time.Millisecond
	}
	renderTriggers.WithLabelValues(strconv.FormatBool(success)).Inc()
	renderTriggerDuration.Observe(duration.Seconds())
}

// RecordStaleJobsSwept adds n to the stale sweep counter.
func RecordStaleJobsSwept(n int) {
	if n > 0 {
		staleJobsSwept.Add(float64(n))
	}
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
