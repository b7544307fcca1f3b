package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"math/big"
	"time"

	"github.com/oddslab/makerbot/internal/domain"
)

// MetricsCache implements domain.MetricsCache: the latest derived metrics
// per market, stored under a TTL so stale markets fall out on their own.
type MetricsCache struct {
	client *Client
	ttl    time.Duration
}

// NewMetricsCache creates a MetricsCache. ttl of zero keeps entries forever.
func NewMetricsCache(client *Client, ttl time.Duration) *MetricsCache {
	return &MetricsCache{client: client, ttl: ttl}
}

// cachedMetrics is the JSON shape stored in Redis. Big integers travel as
// decimal strings; absent metrics stay null.
type cachedMetrics struct {
	BestTakerOdds *string `json:"best_taker_odds"`
	Vig           *string `json:"vig"`
	LiquidityA    *string `json:"liquidity_a"`
	LiquidityB    *string `json:"liquidity_b"`
	UpdatedAt     int64   `json:"updated_at"`
}

func metricsKey(marketID string) string {
	return "makerbot:metrics:" + marketID
}

// SetMetrics stores the latest metrics for a market.
func (c *MetricsCache) SetMetrics(ctx context.Context, marketID string, m domain.MarketMetrics) error {
	payload := cachedMetrics{
		BestTakerOdds: intString(m.BestTakerOdds),
		Vig:           intString(m.Vig),
		LiquidityA:    intString(m.LiquidityA),
		LiquidityB:    intString(m.LiquidityB),
		UpdatedAt:     time.Now().UnixMilli(),
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("redis: marshal metrics: %w", err)
	}
	if err := c.client.rdb.Set(ctx, metricsKey(marketID), data, c.ttl).Err(); err != nil {
		return fmt.Errorf("redis: set metrics %s: %w", marketID, err)
	}
	return nil
}

func intString(x *big.Int) *string {
	if x == nil {
		return nil
	}
	s := x.String()
	return &s
}
