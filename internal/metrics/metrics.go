// Package metrics provides Prometheus instrumentation for the accounting engine.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// MarketTransactionsTotal counts booked market transactions.
	MarketTransactionsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "acct_market_transactions_total",
		Help: "Total market transactions recorded",
	})

	// TariffTransactionsTotal counts booked tariff transactions by type.
	TariffTransactionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "acct_tariff_transactions_total",
		Help: "Total tariff transactions recorded",
	}, []string{"type"})

	// ValidationRejections counts transaction requests rejected by the factory.
	ValidationRejections = promauto.NewCounter(prometheus.CounterOpts{
		Name: "acct_validation_rejections_total",
		Help: "Transaction requests rejected by validation",
	})

	// TariffsActive tracks the number of ACTIVE tariffs.
	TariffsActive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "acct_tariffs_active",
		Help: "Number of currently active tariffs",
	})

	// TariffRuleRejections counts specifications rejected by acceptance rules.
	TariffRuleRejections = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "acct_tariff_rule_rejections_total",
		Help: "Tariff specifications rejected by acceptance rules",
	}, []string{"code"})

	// TimeslotsClosed counts successfully closed timeslots.
	TimeslotsClosed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "acct_timeslots_closed_total",
		Help: "Timeslots closed by the ledger",
	})

	// PhaseDuration tracks per-phase execution time per timeslot.
	PhaseDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "acct_phase_duration_seconds",
		Help:    "Phase execution duration in seconds",
		Buckets: prometheus.DefBuckets,
	}, []string{"phase"})

	// PhaseTimeouts counts phases skipped after exceeding the per-slot timeout.
	PhaseTimeouts = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "acct_phase_timeouts_total",
		Help: "Phases skipped due to timeout",
	}, []string{"phase"})

	// WebSocketClients tracks connected summary-stream clients.
	WebSocketClients = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "acct_websocket_clients",
		Help: "Number of connected WebSocket clients",
	})

	// HTTPRequestsTotal counts HTTP requests by method, path, and status.
	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "acct_http_requests_total",
		Help: "Total HTTP requests",
	}, []string{"method", "path", "status"})

	// HTTPRequestDuration tracks request duration by method and path.
	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "acct_http_request_duration_seconds",
		Help:    "HTTP request duration in seconds",
		Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0},
	}, []string{"method", "path"})
)

// Handler returns the Prometheus metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Middleware returns an HTTP middleware that records request metrics.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		wrapped := &statusWriter{ResponseWriter: w, status: 200}
		next.ServeHTTP(wrapped, r)
		duration := time.Since(start).Seconds()

		// Use the raw path for the label; route cardinality is small.
		path := r.URL.Path
		HTTPRequestsTotal.WithLabelValues(r.Method, path, strconv.Itoa(wrapped.status)).Inc()
		HTTPRequestDuration.WithLabelValues(r.Method, path).Observe(duration)
	})
}

// statusWriter wraps http.ResponseWriter to capture the status code.
type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}
