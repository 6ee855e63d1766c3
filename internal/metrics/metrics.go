// Package metrics provides Prometheus instrumentation for the credit engine.
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
	// OrdersSubmitted counts submissions accepted by the matching engine.
	OrdersSubmitted = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "nutrex_orders_submitted_total",
		Help: "Orders accepted by the matching engine",
	}, []string{"side", "kind"})

	// OrdersCancelled counts explicit order cancellations.
	OrdersCancelled = promauto.NewCounter(prometheus.CounterOpts{
		Name: "nutrex_orders_cancelled_total",
		Help: "Orders cancelled",
	})

	// TradesTotal counts trades produced by matching, by unit type.
	TradesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "nutrex_trades_total",
		Help: "Trades produced by the matching engine",
	}, []string{"unit_type"})

	// TradeVolume tracks cumulative matched credits per market.
	TradeVolume = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "nutrex_trade_volume_credits_total",
		Help: "Cumulative matched volume in credits",
	}, []string{"market"})

	// SettlementFailures counts ledger transfers that exhausted retries.
	SettlementFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "nutrex_settlement_failures_total",
		Help: "Ledger transfers that failed after retries",
	})

	// SettlementRetries counts async settlement retry outcomes.
	SettlementRetries = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "nutrex_settlement_retries_total",
		Help: "Outcomes of the settlement retry loop",
	}, []string{"result"})

	// BotTicks counts strategy evaluations by bot kind and outcome.
	BotTicks = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "nutrex_bot_ticks_total",
		Help: "Bot strategy evaluations",
	}, []string{"kind", "result"})

	// BotTickDuration tracks how long one bot evaluation takes.
	BotTickDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "nutrex_bot_tick_duration_seconds",
		Help:    "Duration of one bot strategy evaluation",
		Buckets: prometheus.DefBuckets,
	}, []string{"kind"})

	// WebSocketClients tracks connected WebSocket clients.
	WebSocketClients = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "nutrex_websocket_clients",
		Help: "Number of connected WebSocket clients",
	})

	// HTTPRequestsTotal counts HTTP requests by method, path, and status.
	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "nutrex_http_requests_total",
		Help: "Total HTTP requests",
	}, []string{"method", "path", "status"})

	// HTTPRequestDuration tracks request duration by method and path.
	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "nutrex_http_request_duration_seconds",
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

		// Use the raw path for the label; route patterns here are low cardinality.
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
