// Package metrics provides Prometheus instrumentation for the exchange.
package metrics

import (
	"bufio"
	"errors"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// TradesTotal counts executed trades, partitioned by outcome and kind
	// (transfer, mint, burn, bot_fill).
	TradesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "predex_trades_total",
		Help: "Total number of trades executed",
	}, []string{"side", "kind"})

	// BotFilledShares counts shares the liquidity bot filled directly.
	BotFilledShares = promauto.NewCounter(prometheus.CounterOpts{
		Name: "predex_bot_filled_shares_total",
		Help: "Shares filled by the liquidity bot",
	})

	// TradeLatency tracks request handling time inside the exchange.
	TradeLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "predex_trade_latency_seconds",
		Help:    "Trade execution latency in seconds",
		Buckets: prometheus.DefBuckets,
	}, []string{"direction"})

	// Rejections counts requests refused by validation, by reason code.
	Rejections = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "predex_rejections_total",
		Help: "Requests rejected by the exchange",
	}, []string{"code"})

	// ActiveMarkets tracks the number of open markets.
	ActiveMarkets = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "predex_active_markets",
		Help: "Number of currently active markets",
	})

	// HouseFees counts fees collected at settlement, in cents.
	HouseFees = promauto.NewCounter(prometheus.CounterOpts{
		Name: "predex_house_fees_cents_total",
		Help: "House fees collected at settlement in cents",
	})

	// MarketsResolved counts resolutions by result.
	MarketsResolved = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "predex_markets_resolved_total",
		Help: "Markets resolved",
	}, []string{"result"})

	// Replenishments counts markets reseeded by the liquidity bot.
	Replenishments = promauto.NewCounter(prometheus.CounterOpts{
		Name: "predex_replenishments_total",
		Help: "Markets reseeded with bot quotes",
	})

	// WebSocketClients tracks connected WebSocket clients.
	WebSocketClients = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "predex_websocket_clients",
		Help: "Number of connected WebSocket clients",
	})

	// HTTPRequestsTotal counts HTTP requests by method, path, and status.
	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "predex_http_requests_total",
		Help: "Total HTTP requests",
	}, []string{"method", "path", "status"})

	// HTTPRequestDuration tracks request duration by method and path.
	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "predex_http_request_duration_seconds",
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

		// Label by route pattern, not raw path, to bound cardinality.
		path := r.URL.Path
		if rctx := chi.RouteContext(r.Context()); rctx != nil {
			if p := rctx.RoutePattern(); p != "" {
				path = p
			}
		}
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

// Hijack lets WebSocket upgrades pass through the middleware.
func (w *statusWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := w.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("response writer does not support hijacking")
	}
	return h.Hijack()
}

func (w *statusWriter) Unwrap() http.ResponseWriter { return w.ResponseWriter }
