// Package metrics provides Prometheus metrics for the DOOH proxy
package metrics

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics
type Metrics struct {
	registry *prometheus.Registry

	// Request metrics
	RequestsTotal    *prometheus.CounterVec
	RequestDuration  *prometheus.HistogramVec
	RequestsInFlight prometheus.Gauge

	// Bid metrics
	BidsTotal   *prometheus.CounterVec
	BidDuration *prometheus.HistogramVec

	// Partner metrics
	PartnerRequests     *prometheus.CounterVec
	PartnerLatency      *prometheus.HistogramVec
	PartnerErrors       *prometheus.CounterVec
	PartnerCircuitState *prometheus.GaugeVec

	// Creative and token metrics
	Registrations  *prometheus.CounterVec
	TokenRefreshes *prometheus.CounterVec

	// VAST document cache
	VastLookups *prometheus.CounterVec

	// Background sweeps
	SweepRuns     *prometheus.CounterVec
	SweepDuration *prometheus.HistogramVec
	SweepSkipped  *prometheus.CounterVec

	// SSP notifications
	Notifications     *prometheus.CounterVec
	LossNotifyDropped prometheus.Counter
	RateLimitRejected prometheus.Counter
}

// NewMetrics creates all metrics on a private registry
func NewMetrics(namespace string) *Metrics {
	return NewMetricsWithRegistry(namespace, prometheus.NewRegistry())
}

// NewMetricsWithRegistry creates all metrics and registers them on reg
func NewMetricsWithRegistry(namespace string, reg *prometheus.Registry) *Metrics {
	if namespace == "" {
		namespace = "dooh"
	}

	m := &Metrics{
		registry: reg,

		RequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "http_requests_total",
				Help:      "Total number of HTTP requests",
			},
			[]string{"method", "path", "status"},
		),
		RequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "http_request_duration_seconds",
				Help:      "HTTP request duration in seconds",
				Buckets:   []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
			},
			[]string{"method", "path"},
		),
		RequestsInFlight: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "http_requests_in_flight",
				Help:      "Number of HTTP requests currently being served",
			},
		),

		BidsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "bids_total",
				Help:      "Routed bid requests by partner and outcome",
			},
			[]string{"partner", "outcome"},
		),
		BidDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "bid_duration_seconds",
				Help:      "Time from request to terminal outcome",
				Buckets:   []float64{.01, .025, .05, .1, .25, .5, .75, 1, 1.5, 2},
			},
			[]string{"partner"},
		),

		PartnerRequests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "partner_requests_total",
				Help:      "Total ad requests sent to partners",
			},
			[]string{"partner"},
		),
		PartnerLatency: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "partner_latency_seconds",
				Help:      "Partner response latency in seconds",
				Buckets:   []float64{.01, .025, .05, .1, .2, .3, .5, .75, 1, 1.5},
			},
			[]string{"partner"},
		),
		PartnerErrors: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "partner_errors_total",
				Help:      "Partner call failures by error code",
			},
			[]string{"partner", "code"},
		),
		PartnerCircuitState: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "partner_circuit_state",
				Help:      "Partner circuit breaker state (0=closed, 1=open, 2=half-open)",
			},
			[]string{"partner"},
		),

		Registrations: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "creative_registrations_total",
				Help:      "Creative registrations by partner and result",
			},
			[]string{"partner", "result"},
		),
		TokenRefreshes: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "token_refreshes_total",
				Help:      "Bearer token refreshes by partner and status",
			},
			[]string{"partner", "status"},
		),

		VastLookups: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "vast_document_lookups_total",
				Help:      "VAST document cache lookups by result",
			},
			[]string{"result"},
		),

		SweepRuns: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "sweep_runs_total",
				Help:      "Background sweep runs by job and status",
			},
			[]string{"job", "status"},
		),
		SweepDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "sweep_duration_seconds",
				Help:      "Background sweep duration in seconds",
				Buckets:   []float64{1, 5, 15, 30, 60, 120, 300, 600, 1800},
			},
			[]string{"job"},
		),
		SweepSkipped: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "sweep_skipped_total",
				Help:      "Sweep ticks skipped because the previous run was still going",
			},
			[]string{"job"},
		),

		Notifications: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "notifications_total",
				Help:      "Win and loss notifications by partner tag",
			},
			[]string{"kind", "partner"},
		),
		LossNotifyDropped: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "loss_notify_dropped_total",
				Help:      "Loss relays dropped because the queue was full",
			},
		),
		RateLimitRejected: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "rate_limit_rejected_total",
				Help:      "Requests rejected by the rate limiter",
			},
		),
	}

	reg.MustRegister(
		m.RequestsTotal,
		m.RequestDuration,
		m.RequestsInFlight,
		m.BidsTotal,
		m.BidDuration,
		m.PartnerRequests,
		m.PartnerLatency,
		m.PartnerErrors,
		m.PartnerCircuitState,
		m.Registrations,
		m.TokenRefreshes,
		m.VastLookups,
		m.SweepRuns,
		m.SweepDuration,
		m.SweepSkipped,
		m.Notifications,
		m.LossNotifyDropped,
		m.RateLimitRejected,
	)

	return m
}

// Handler returns the Prometheus HTTP handler for this registry
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry exposes the underlying registry
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Middleware returns HTTP middleware that records request metrics
func (m *Metrics) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		m.RequestsInFlight.Inc()
		defer m.RequestsInFlight.Dec()

		wrapped := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}
		next.ServeHTTP(wrapped, r)

		path := routeLabel(r.URL.Path)
		m.RequestsTotal.WithLabelValues(r.Method, path, strconv.Itoa(wrapped.statusCode)).Inc()
		m.RequestDuration.WithLabelValues(r.Method, path).Observe(time.Since(start).Seconds())
	})
}

// routeLabel drops path parameters so ids do not become label values
func routeLabel(path string) string {
	trimmed := strings.TrimPrefix(path, "/")
	switch {
	case strings.HasPrefix(trimmed, "bids/"):
		return "/bids/" + strings.SplitN(strings.TrimPrefix(trimmed, "bids/"), "/", 2)[0]
	case strings.HasPrefix(trimmed, "cachedDocuments/"):
		return "/cachedDocuments"
	}
	return path
}

// responseWriter wraps http.ResponseWriter to capture status code
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// RecordBid records a routed request outcome
func (m *Metrics) RecordBid(partner, outcome string, duration time.Duration) {
	m.BidsTotal.WithLabelValues(partner, outcome).Inc()
	m.BidDuration.WithLabelValues(partner).Observe(duration.Seconds())
}

// RecordPartnerRequest records one partner call. errCode is empty on success.
func (m *Metrics) RecordPartnerRequest(partner string, latency time.Duration, errCode string) {
	m.PartnerRequests.WithLabelValues(partner).Inc()
	m.PartnerLatency.WithLabelValues(partner).Observe(latency.Seconds())
	if errCode != "" {
		m.PartnerErrors.WithLabelValues(partner, errCode).Inc()
	}
}

// SetCircuitState sets the breaker state of a partner
func (m *Metrics) SetCircuitState(partner, state string) {
	var value float64
	switch state {
	case "closed":
		value = 0
	case "open":
		value = 1
	case "half-open":
		value = 2
	}
	m.PartnerCircuitState.WithLabelValues(partner).Set(value)
}

// RecordRegistration records a creative registration result
func (m *Metrics) RecordRegistration(partner, result string) {
	m.Registrations.WithLabelValues(partner, result).Inc()
}

// RecordTokenRefresh records a credential exchange
func (m *Metrics) RecordTokenRefresh(partner string, success bool) {
	status := "success"
	if !success {
		status = "failure"
	}
	m.TokenRefreshes.WithLabelValues(partner, status).Inc()
}

// RecordVastLookup records a document cache lookup
func (m *Metrics) RecordVastLookup(hit bool) {
	result := "hit"
	if !hit {
		result = "miss"
	}
	m.VastLookups.WithLabelValues(result).Inc()
}

// RecordSweepRun records a finished sweep
func (m *Metrics) RecordSweepRun(job string, duration time.Duration, success bool) {
	status := "success"
	if !success {
		status = "failure"
	}
	m.SweepRuns.WithLabelValues(job, status).Inc()
	m.SweepDuration.WithLabelValues(job).Observe(duration.Seconds())
}

// RecordSweepSkipped records a skipped sweep tick
func (m *Metrics) RecordSweepSkipped(job string) {
	m.SweepSkipped.WithLabelValues(job).Inc()
}

// RecordNotification records a win or loss notification
func (m *Metrics) RecordNotification(kind, partner string) {
	m.Notifications.WithLabelValues(kind, partner).Inc()
}

// RecordLossNotifyDropped records a dropped loss relay
func (m *Metrics) RecordLossNotifyDropped() {
	m.LossNotifyDropped.Inc()
}

// IncRateLimitRejected increments the rate limit rejected counter
// Implements middleware.RateLimitMetrics interface
func (m *Metrics) IncRateLimitRejected() {
	m.RateLimitRejected.Inc()
}
