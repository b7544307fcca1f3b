package domain

import (
	"math/big"
	"time"
)

// PositionStatus tracks the lifecycle of a maker position.
type PositionStatus string

const (
	PositionInitializing PositionStatus = "initializing"
	PositionActive       PositionStatus = "active"
	PositionRiskPaused   PositionStatus = "risk_paused"
	PositionCompleted    PositionStatus = "completed"
	PositionClosed       PositionStatus = "closed"
)

// Terminal reports whether the status admits no further transitions.
func (s PositionStatus) Terminal() bool {
	return s == PositionCompleted || s == PositionClosed
}

// OrderState tracks the position's single outstanding maker order.
type OrderState string

const (
	OrderNone      OrderState = "none"
	OrderActive    OrderState = "active"
	OrderCancelled OrderState = "cancelled"
	OrderError     OrderState = "error"
)

// Position is an operator-declared maker position: an outcome to bet, a
// maximum stake, and risk/pricing parameters. The agent keeps at most one
// maker order resting for it at any time.
type Position struct {
	ID         string
	MarketID   string
	ChosenSide Side

	// Stakes in wire units.
	MaxStake    *big.Int
	FilledStake *big.Int

	// PremiumBps is the discount applied to the best taker odds when
	// posting, in basis points [0, 9999].
	PremiumBps int64

	// Risk gates, all in wire units.
	MaxVig       *big.Int // max allowed overround (can be negative for arb-only)
	MinLiquidity *big.Int // per-side taker liquidity floor, stake units
	MinForOdds   *big.Int // stake floor for an order to set the best quote
	MinForVig    *big.Int // stake floor for vig qualification

	Status      PositionStatus
	OrderStatus OrderState

	ActiveOrderID       string
	LastQuotedTakerOdds *big.Int
	LastQuotedMakerOdds *big.Int
	RiskBreached        bool

	// LastMetrics caches the most recent market snapshot delivered to the
	// controller, used when a fill event re-runs the quoting logic.
	LastMetrics *MarketMetrics

	// LastOrderAction is the timestamp of the last post or cancel, used
	// for the per-position order-update rate limit.
	LastOrderAction time.Time

	CreatedAt time.Time
	ClosedAt  *time.Time
}

// Remaining returns maxStake - filledStake, floored at zero.
func (p Position) Remaining() *big.Int {
	r := new(big.Int).Sub(p.MaxStake, p.FilledStake)
	if r.Sign() < 0 {
		return big.NewInt(0)
	}
	return r
}

// Clone deep-copies the position so store readers never alias controller
// state.
func (p Position) Clone() Position {
	c := p
	c.MaxStake = cloneInt(p.MaxStake)
	c.FilledStake = cloneInt(p.FilledStake)
	c.MaxVig = cloneInt(p.MaxVig)
	c.MinLiquidity = cloneInt(p.MinLiquidity)
	c.MinForOdds = cloneInt(p.MinForOdds)
	c.MinForVig = cloneInt(p.MinForVig)
	c.LastQuotedTakerOdds = cloneInt(p.LastQuotedTakerOdds)
	c.LastQuotedMakerOdds = cloneInt(p.LastQuotedMakerOdds)
	if p.LastMetrics != nil {
		m := p.LastMetrics.Clone()
		c.LastMetrics = &m
	}
	if p.ClosedAt != nil {
		t := *p.ClosedAt
		c.ClosedAt = &t
	}
	return c
}

func cloneInt(x *big.Int) *big.Int {
	if x == nil {
		return nil
	}
	return new(big.Int).Set(x)
}

// PositionSpec is the operator's request to open a position.
type PositionSpec struct {
	MarketID     string
	ChosenSide   Side
	MaxStake     *big.Int
	PremiumBps   int64
	MaxVig       *big.Int
	MinLiquidity *big.Int
	MinForOdds   *big.Int
	MinForVig    *big.Int
}

// PositionPatch carries the editable fields of a position; nil means leave
// unchanged.
type PositionPatch struct {
	MaxStake     *big.Int
	PremiumBps   *int64
	MaxVig       *big.Int
	MinLiquidity *big.Int
	MinForOdds   *big.Int
	MinForVig    *big.Int
}
