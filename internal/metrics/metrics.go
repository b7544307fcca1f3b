// Package metrics provides Prometheus instrumentation for the maker agent.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// MalformedDeltas counts order deltas dropped by the book mirror.
	MalformedDeltas = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "makerbot_malformed_deltas_total",
		Help: "Order deltas dropped as malformed",
	}, []string{"market_id"})

	// StaleDeltas counts deltas dropped by the updateTime monotonicity check.
	StaleDeltas = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "makerbot_stale_deltas_total",
		Help: "Order deltas dropped as stale reorderings",
	}, []string{"market_id"})

	// OrdersPosted counts maker orders submitted to the venue.
	OrdersPosted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "makerbot_orders_posted_total",
		Help: "Maker orders posted",
	})

	// OrdersCancelled counts maker orders cancelled at the venue.
	OrdersCancelled = promauto.NewCounter(prometheus.CounterOpts{
		Name: "makerbot_orders_cancelled_total",
		Help: "Maker orders cancelled",
	})

	// OrderErrors counts post attempts that failed after retries.
	OrderErrors = promauto.NewCounter(prometheus.CounterOpts{
		Name: "makerbot_order_errors_total",
		Help: "Maker order submissions failed after retries",
	})

	// Reconnects counts push-channel reconnection attempts.
	Reconnects = promauto.NewCounter(prometheus.CounterOpts{
		Name: "makerbot_ws_reconnects_total",
		Help: "WebSocket reconnection attempts",
	})

	// PollFallbacks counts subscriptions degraded to snapshot polling.
	PollFallbacks = promauto.NewCounter(prometheus.CounterOpts{
		Name: "makerbot_poll_fallbacks_total",
		Help: "Subscriptions that fell back to polling",
	})

	// ActivePositions tracks positions in a non-terminal status.
	ActivePositions = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "makerbot_active_positions",
		Help: "Positions currently initializing, active or risk-paused",
	})

	// FillsCredited counts fill events applied to positions.
	FillsCredited = promauto.NewCounter(prometheus.CounterOpts{
		Name: "makerbot_fills_credited_total",
		Help: "Fill events credited to positions",
	})

	// LateFills counts fills credited through the recently-cancelled map.
	LateFills = promauto.NewCounter(prometheus.CounterOpts{
		Name: "makerbot_late_fills_total",
		Help: "Fills credited to an already-cancelled order",
	})
)

// Handler returns the Prometheus metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}
