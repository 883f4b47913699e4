package metrics

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// HTTP metrics
	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	httpRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
		},
		[]string{"method", "path"},
	)

	httpRequestsInFlight = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "http_requests_in_flight",
			Help: "Number of HTTP requests currently being processed",
		},
	)

	// Routing metrics
	routingDecisions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "routing_decisions_total",
			Help: "Total number of routing decisions by outcome",
		},
		[]string{"outcome"},
	)

	routingDuplicates = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "routing_duplicate_total",
			Help: "Total number of rejected duplicate routing attempts",
		},
	)

	snapshotRefreshes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "snapshot_refresh_total",
			Help: "Total number of routing configuration snapshot reloads",
		},
		[]string{"status"},
	)

	// Escalation metrics
	escalationsScheduled = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "escalations_scheduled_total",
			Help: "Total number of escalation states created",
		},
	)

	escalationsFired = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "escalations_fired_total",
			Help: "Total number of escalation level transitions",
		},
		[]string{"level"},
	)

	escalationClaimConflicts = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "escalation_claim_conflicts_total",
			Help: "Total number of claims lost to another ticker replica",
		},
	)

	escalationsResolved = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "escalations_resolved_total",
			Help: "Total number of escalations resolved by acknowledgment",
		},
	)

	escalationTickDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "escalation_tick_duration_seconds",
			Help:    "Duration of one escalation ticker scan",
			Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
		},
	)

	// Delivery metrics
	deliveryAttempts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "delivery_attempts_total",
			Help: "Total number of delivery attempts by channel and status",
		},
		[]string{"channel", "status"},
	)
)

// Handler returns the Prometheus metrics HTTP handler
func Handler() http.Handler {
	return promhttp.Handler()
}

// Middleware creates HTTP metrics middleware
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		httpRequestsInFlight.Inc()
		defer httpRequestsInFlight.Dec()

		// Wrap response writer to capture status code
		wrapped := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}

		next.ServeHTTP(wrapped, r)

		duration := time.Since(start).Seconds()
		path := normalizePath(r.URL.Path)

		httpRequestsTotal.WithLabelValues(r.Method, path, strconv.Itoa(wrapped.statusCode)).Inc()
		httpRequestDuration.WithLabelValues(r.Method, path).Observe(duration)
	})
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

// normalizePath normalizes URL paths for metrics to avoid cardinality explosion
func normalizePath(path string) string {
	// Notification ids are producer-chosen, so collapse anything under an id segment
	for _, prefix := range []string{"/api/v1/routes/", "/api/v1/escalations/"} {
		if strings.HasPrefix(path, prefix) && len(path) > len(prefix) {
			return prefix + "{id}"
		}
	}
	if len(path) > 100 {
		return "/api/..."
	}
	return path
}

// --- Business metric helpers ---

// RecordRoutingDecision records a routing outcome (matched, default, unroutable, failed)
func RecordRoutingDecision(outcome string) {
	routingDecisions.WithLabelValues(outcome).Inc()
}

// RecordDuplicateRoute records a rejected duplicate routing attempt
func RecordDuplicateRoute() {
	routingDuplicates.Inc()
}

// RecordSnapshotRefresh records a configuration snapshot reload
func RecordSnapshotRefresh(success bool) {
	status := "error"
	if success {
		status = "ok"
	}
	snapshotRefreshes.WithLabelValues(status).Inc()
}

// RecordEscalationScheduled records a new escalation state
func RecordEscalationScheduled() {
	escalationsScheduled.Inc()
}

// RecordEscalationFired records a level transition
func RecordEscalationFired(level int) {
	escalationsFired.WithLabelValues(strconv.Itoa(level)).Inc()
}

// RecordClaimConflict records a claim lost to another replica
func RecordClaimConflict() {
	escalationClaimConflicts.Inc()
}

// RecordEscalationResolved records a resolution
func RecordEscalationResolved() {
	escalationsResolved.Inc()
}

// RecordTick records the duration of one ticker scan
func RecordTick(duration time.Duration) {
	escalationTickDuration.Observe(duration.Seconds())
}

// RecordDeliveryAttempt records one attempt against the delivery subsystem
func RecordDeliveryAttempt(channel string, success bool) {
	status := "failure"
	if success {
		status = "success"
	}
	deliveryAttempts.WithLabelValues(channel, status).Inc()
}
