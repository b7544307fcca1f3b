package handler

import (
	"log/slog"
	"net/http"

	"github.com/oddslab/makerbot/internal/domain"
)

// MetricsSource exposes the latest derived metrics of a subscribed market.
// Implemented by the market monitor.
type MetricsSource interface {
	MarketMetrics(marketID string) (domain.MarketMetrics, bool)
}

// MarketHandler serves market-level read endpoints.
type MarketHandler struct {
	source MetricsSource
	logger *slog.Logger
}

// NewMarketHandler creates a MarketHandler.
func NewMarketHandler(source MetricsSource, logger *slog.Logger) *MarketHandler {
	return &MarketHandler{source: source, logger: logger}
}

// metricsResponse is the JSON shape of market metrics; nulls mean "no
// qualifying order".
type metricsResponse struct {
	MarketID      string  `json:"market_id"`
	BestTakerOdds *string `json:"best_taker_odds"`
	Vig           *string `json:"vig"`
	LiquidityA    *string `json:"liquidity_a"`
	LiquidityB    *string `json:"liquidity_b"`
}

// GetMetrics returns the current derived metrics for a subscribed market.
// GET /api/markets/{id}/metrics
func (h *MarketHandler) GetMetrics(w http.ResponseWriter, r *http.Request) {
	marketID := r.PathValue("id")

	m, ok := h.source.MarketMetrics(marketID)
	if !ok {
		writeError(w, http.StatusNotFound, "market not subscribed")
		return
	}
	writeJSON(w, http.StatusOK, metricsResponse{
		MarketID:      marketID,
		BestTakerOdds: intString(m.BestTakerOdds),
		Vig:           intString(m.Vig),
		LiquidityA:    intString(m.LiquidityA),
		LiquidityB:    intString(m.LiquidityB),
	})
}
