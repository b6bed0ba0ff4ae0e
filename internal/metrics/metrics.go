// Package metrics provides Prometheus metrics collection for the application.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Outcome/status label values for metrics.
const (
	outcomeSuccess = "success"
	outcomeFailure = "failure"
)

// Metrics holds all Prometheus metrics for the application.
type Metrics struct {
	// HTTP metrics
	HTTPRequestsTotal    *prometheus.CounterVec
	HTTPRequestDuration  *prometheus.HistogramVec
	HTTPRequestsInFlight prometheus.Gauge

	// Callback (carrier webhook) metrics
	CallbacksReceivedTotal  *prometheus.CounterVec
	CallbackProcessDuration *prometheus.HistogramVec
	StatusCallbacksTotal    *prometheus.CounterVec

	// Call lifecycle / outcome metrics
	CallsInitiatedTotal *prometheus.CounterVec
	CallOutcomesTotal   *prometheus.CounterVec

	// Carrier client metrics
	CarrierCallAttemptsTotal *prometheus.CounterVec
	CircuitBreakerState      *prometheus.GaugeVec
	CircuitBreakerTrips      prometheus.Counter

	// State machine metrics
	StateTransitionsTotal *prometheus.CounterVec

	// Session store metrics
	SessionsActive    prometheus.Gauge
	SessionsEvicted   prometheus.Counter
	SessionsForced    prometheus.Counter

	// Outcome reporter metrics
	ReporterAttemptsTotal  *prometheus.CounterVec
	ReporterQueueDepth     prometheus.Gauge
	ReporterDelivered      prometheus.Counter
	ReporterAbandoned      prometheus.Counter

	// Snapshot bridge metrics
	SnapshotUpsertsTotal *prometheus.CounterVec

	// Rate limiting metrics
	RateLimitHitsTotal *prometheus.CounterVec
	RateLimitCurrent   *prometheus.GaugeVec

	// Registry used for this metrics instance (nil means default registry)
	registry prometheus.Gatherer
}

// NewMetrics creates a new Metrics instance with all collectors registered.
func NewMetrics() *Metrics {
	m := newMetricsWithRegistry(prometheus.DefaultRegisterer)
	m.registry = prometheus.DefaultGatherer
	return m
}

// NewMetricsWithRegistry creates metrics using a custom registry (for testing).
func NewMetricsWithRegistry(reg *prometheus.Registry) *Metrics {
	m := newMetricsWithRegistry(reg)
	m.registry = reg
	return m
}

func newMetricsWithRegistry(registerer prometheus.Registerer) *Metrics {
	factory := promauto.With(registerer)

	return &Metrics{
		// HTTP metrics
		HTTPRequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ivrengine_http_requests_total",
				Help: "Total number of HTTP requests by method, path, and status code",
			},
			[]string{"method", "path", "status"},
		),
		HTTPRequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "ivrengine_http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
			},
			[]string{"method", "path"},
		),
		HTTPRequestsInFlight: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "ivrengine_http_requests_in_flight",
				Help: "Number of HTTP requests currently being processed",
			},
		),

		// Callback metrics
		CallbacksReceivedTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ivrengine_callbacks_received_total",
				Help: "Total number of /callback requests received, by logical state reached",
			},
			[]string{"state"},
		),
		CallbackProcessDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "ivrengine_callback_process_duration_seconds",
				Help:    "Time taken to process a /callback request",
				Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2},
			},
			[]string{"state"},
		),
		StatusCallbacksTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ivrengine_status_callbacks_total",
				Help: "Total number of /status requests received, by carrier call status",
			},
			[]string{"status"},
		),

		// Call lifecycle metrics
		CallsInitiatedTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ivrengine_calls_initiated_total",
				Help: "Total number of outbound call placements attempted, by result",
			},
			[]string{"result"}, // "placed", "duplicate", "carrier_error", "validation_error"
		),
		CallOutcomesTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ivrengine_call_outcomes_total",
				Help: "Total number of calls reaching a terminal outcome",
			},
			[]string{"outcome"}, // "accepted", "rejected", "no_response"
		),

		// Carrier client metrics
		CarrierCallAttemptsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ivrengine_carrier_call_attempts_total",
				Help: "Total number of outbound PlaceCall attempts to the carrier, by status",
			},
			[]string{"status"}, // "success", "failure", "circuit_open"
		),
		CircuitBreakerState: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "ivrengine_circuit_breaker_state",
				Help: "Circuit breaker state (0=closed, 1=half-open, 2=open)",
			},
			[]string{"service"},
		),
		CircuitBreakerTrips: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "ivrengine_circuit_breaker_trips_total",
				Help: "Total number of times the carrier circuit breaker has tripped",
			},
		),

		// State machine metrics
		StateTransitionsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ivrengine_state_transitions_total",
				Help: "Total number of state machine transitions, by from/to logical state",
			},
			[]string{"from", "to"},
		),

		// Session store metrics
		SessionsActive: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "ivrengine_sessions_active",
				Help: "Number of in-flight CallState records held by the session store",
			},
		),
		SessionsEvicted: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "ivrengine_sessions_evicted_total",
				Help: "Total number of terminal+reported records evicted past their TTL",
			},
		),
		SessionsForced: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "ivrengine_sessions_force_terminated_total",
				Help: "Total number of non-terminal records force-terminated on live-TTL expiry",
			},
		),

		// Outcome reporter metrics
		ReporterAttemptsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ivrengine_reporter_attempts_total",
				Help: "Total number of outcome delivery attempts, by result",
			},
			[]string{"result"}, // "delivered", "rejected", "retrying"
		),
		ReporterQueueDepth: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "ivrengine_reporter_queue_depth",
				Help: "Number of outcomes currently tracked for delivery or retry",
			},
		),
		ReporterDelivered: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "ivrengine_reporter_delivered_total",
				Help: "Total number of outcomes successfully delivered upstream",
			},
		),
		ReporterAbandoned: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "ivrengine_reporter_abandoned_total",
				Help: "Total number of outcomes abandoned after exhausting the retry schedule",
			},
		),

		// Snapshot bridge metrics
		SnapshotUpsertsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ivrengine_snapshot_upserts_total",
				Help: "Total number of durable snapshot upserts, by result",
			},
			[]string{"result"},
		),

		// Rate limiting metrics
		RateLimitHitsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ivrengine_rate_limit_hits_total",
				Help: "Total number of rate limit hits by type",
			},
			[]string{"limiter"},
		),
		RateLimitCurrent: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "ivrengine_rate_limit_current",
				Help: "Current rate limit usage",
			},
			[]string{"limiter", "window"},
		),
	}
}

// Handler returns the Prometheus HTTP handler for scraping metrics.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Middleware returns an HTTP middleware that records request metrics.
func (m *Metrics) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		m.HTTPRequestsInFlight.Inc()
		defer m.HTTPRequestsInFlight.Dec()

		start := time.Now()

		// Wrap response writer to capture status code
		wrapped := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}

		next.ServeHTTP(wrapped, r)

		duration := time.Since(start).Seconds()

		// Normalize path for metrics (avoid high cardinality)
		path := normalizePath(r.URL.Path)

		m.HTTPRequestsTotal.WithLabelValues(
			r.Method,
			path,
			strconv.Itoa(wrapped.statusCode),
		).Inc()

		m.HTTPRequestDuration.WithLabelValues(
			r.Method,
			path,
		).Observe(duration)
	})
}

// responseWriter wraps http.ResponseWriter to capture status code.
type responseWriter struct {
	http.ResponseWriter
	statusCode int
	written    bool
}

func (rw *responseWriter) WriteHeader(code int) {
	if !rw.written {
		rw.statusCode = code
		rw.written = true
	}
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *responseWriter) Write(b []byte) (int, error) {
	if !rw.written {
		rw.statusCode = http.StatusOK
		rw.written = true
	}
	return rw.ResponseWriter.Write(b)
}

// normalizePath normalizes URL paths to prevent high cardinality labels.
func normalizePath(path string) string {
	switch path {
	case "/", "/health", "/ready", "/live", "/metrics", "/initiate", "/callback", "/status":
		return path
	}

	if len(path) > 10 && path[:10] == "/initiate/" {
		return "/initiate/:kind"
	}

	return path
}

// Helper methods for recording specific events

// RecordCallback records processing of a /callback request reaching state.
func (m *Metrics) RecordCallback(state string, duration time.Duration) {
	m.CallbacksReceivedTotal.WithLabelValues(state).Inc()
	m.CallbackProcessDuration.WithLabelValues(state).Observe(duration.Seconds())
}

// RecordStatusCallback records a /status request by carrier call status.
func (m *Metrics) RecordStatusCallback(status string) {
	m.StatusCallbacksTotal.WithLabelValues(status).Inc()
}

// RecordCallInitiated records the result of an /initiate request.
func (m *Metrics) RecordCallInitiated(result string) {
	m.CallsInitiatedTotal.WithLabelValues(result).Inc()
}

// RecordCallOutcome records a call reaching a terminal outcome.
func (m *Metrics) RecordCallOutcome(outcome string) {
	m.CallOutcomesTotal.WithLabelValues(outcome).Inc()
}

// RecordCarrierCallAttempt records the result of a PlaceCall attempt.
func (m *Metrics) RecordCarrierCallAttempt(status string) {
	m.CarrierCallAttemptsTotal.WithLabelValues(status).Inc()
}

// RecordCircuitOpen records the carrier circuit breaker opening.
func (m *Metrics) RecordCircuitOpen() {
	m.CarrierCallAttemptsTotal.WithLabelValues("circuit_open").Inc()
	m.CircuitBreakerTrips.Inc()
}

// SetCircuitBreakerState sets the circuit breaker state for a service.
// State: 0=closed, 1=half-open, 2=open
func (m *Metrics) SetCircuitBreakerState(service string, state int) {
	m.CircuitBreakerState.WithLabelValues(service).Set(float64(state))
}

// RecordStateTransition records a state machine transition.
func (m *Metrics) RecordStateTransition(from, to string) {
	m.StateTransitionsTotal.WithLabelValues(from, to).Inc()
}

// SetActiveSessions sets the number of live session store records.
func (m *Metrics) SetActiveSessions(count int) {
	m.SessionsActive.Set(float64(count))
}

// RecordSessionEvicted records a terminal+reported record's eviction.
func (m *Metrics) RecordSessionEvicted() {
	m.SessionsEvicted.Inc()
}

// RecordSessionForced records a non-terminal record's forced termination.
func (m *Metrics) RecordSessionForced() {
	m.SessionsForced.Inc()
}

// RecordReporterAttempt records an outcome delivery attempt's result.
func (m *Metrics) RecordReporterAttempt(result string) {
	m.ReporterAttemptsTotal.WithLabelValues(result).Inc()
	switch result {
	case "delivered":
		m.ReporterDelivered.Inc()
	case "abandoned":
		m.ReporterAbandoned.Inc()
	}
}

// SetReporterQueueDepth sets the current outcome reporter queue depth.
func (m *Metrics) SetReporterQueueDepth(depth int) {
	m.ReporterQueueDepth.Set(float64(depth))
}

// RecordSnapshotUpsert records the result of a snapshot bridge upsert.
func (m *Metrics) RecordSnapshotUpsert(result string) {
	m.SnapshotUpsertsTotal.WithLabelValues(result).Inc()
}

// RecordRateLimitHit records a rate limit hit.
func (m *Metrics) RecordRateLimitHit(limiter string) {
	m.RateLimitHitsTotal.WithLabelValues(limiter).Inc()
}

// SetRateLimitUsage sets current rate limit usage.
func (m *Metrics) SetRateLimitUsage(limiter, window string, current float64) {
	m.RateLimitCurrent.WithLabelValues(limiter, window).Set(current)
}
