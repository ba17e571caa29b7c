// Package metrics provides Prometheus instrumentation for the settlement engine.
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
	// OffersCreated counts offers created, partitioned by variant and side.
	OffersCreated = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "premx_offers_created_total",
		Help: "Total offers created",
	}, []string{"variant", "side"})

	// OffersFilled counts fill operations, partitioned by variant.
	OffersFilled = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "premx_offers_filled_total",
		Help: "Total fill operations executed",
	}, []string{"variant"})

	// OffersCancelled counts cancel operations.
	OffersCancelled = promauto.NewCounter(prometheus.CounterOpts{
		Name: "premx_offers_cancelled_total",
		Help: "Total offers cancelled (fully or unfilled remainder)",
	})

	// OffersClosed counts settlement and timeout closures.
	OffersClosed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "premx_offers_closed_total",
		Help: "Total offer closures",
	}, []string{"kind"}) // "settlement" or "timeout"

	// FeesCollected accumulates market fees in minor units.
	FeesCollected = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "premx_fees_collected_total",
		Help: "Cumulative fees collected in minor units",
	}, []string{"market_id"})

	// EscrowedValue tracks currently escrowed value across all offers.
	EscrowedValue = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "premx_escrowed_value",
		Help: "Currently escrowed value in minor units",
	})

	// ActiveMarkets tracks the number of markets not yet closed.
	ActiveMarkets = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "premx_active_markets",
		Help: "Number of markets in Active or Settlement phase",
	})

	// LimitRejections counts operations rejected by the exposure limiter.
	LimitRejections = promauto.NewCounter(prometheus.CounterOpts{
		Name: "premx_limit_rejections_total",
		Help: "Operations rejected by the exposure limiter",
	})

	// WebSocketClients tracks connected WebSocket clients.
	WebSocketClients = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "premx_websocket_clients",
		Help: "Number of connected WebSocket clients",
	})

	// HTTPRequestsTotal counts HTTP requests by method, path, and status.
	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "premx_http_requests_total",
		Help: "Total HTTP requests",
	}, []string{"method", "path", "status"})

	// HTTPRequestDuration tracks request duration by method and path.
	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "premx_http_request_duration_seconds",
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

		// Use the raw path for the label; the API surface is small enough
		// that cardinality stays bounded.
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
