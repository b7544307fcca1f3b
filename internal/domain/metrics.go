package domain

import "math/big"

// MarketMetrics is the derived view of a market computed from the order book
// mirror for one position's qualification thresholds. Nil pointers mean the
// metric is undefined (no qualifying order on the relevant side).
type MarketMetrics struct {
	// BestTakerOdds is the wire odds a taker betting the position's chosen
	// side would currently receive, i.e. ODDS_UNIT minus the best qualifying
	// opposite-side maker odds. Nil when no qualifying maker order exists.
	BestTakerOdds *big.Int

	// Vig is bestTakerOdds[A] + bestTakerOdds[B] - ODDS_UNIT, qualified by
	// the position's minForVig threshold. Nil unless both sides qualify.
	Vig *big.Int

	// LiquidityA and LiquidityB are the summed remaining taker capacity
	// available to a taker betting side A resp. side B, in stake units.
	LiquidityA *big.Int
	LiquidityB *big.Int
}

// Clone deep-copies the metrics.
func (m MarketMetrics) Clone() MarketMetrics {
	return MarketMetrics{
		BestTakerOdds: cloneInt(m.BestTakerOdds),
		Vig:           cloneInt(m.Vig),
		LiquidityA:    cloneInt(m.LiquidityA),
		LiquidityB:    cloneInt(m.LiquidityB),
	}
}

// Liquidity returns the liquidity available to a taker betting side s.
func (m MarketMetrics) Liquidity(s Side) *big.Int {
	if s == SideA {
		return m.LiquidityA
	}
	return m.LiquidityB
}
