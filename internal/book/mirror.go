// Package book maintains per-market in-memory projections of live maker
// orders and derives the pricing metrics the position controllers consume.
package book

import (
	"log/slog"
	"math/big"
	"sync"

	"github.com/oddslab/makerbot/internal/domain"
	"github.com/oddslab/makerbot/internal/metrics"
	"github.com/oddslab/makerbot/internal/pricing"
)

// View carries one position's qualification thresholds for a metrics read.
type View struct {
	Side         domain.Side
	MinForOdds   *big.Int // stake floor for best-quote qualification
	MinForVig    *big.Int // stake floor for vig qualification
	MinLiquidity *big.Int // unused by the mirror; carried for completeness
}

// Mirror is the in-memory projection of one market's active maker orders.
// One writer (the market monitor) applies snapshots and deltas; any number
// of readers compute metrics. Orders placed by selfID are stored but never
// contribute to derived metrics.
type Mirror struct {
	marketID string
	selfID   string
	conv     *pricing.Converter
	logger   *slog.Logger

	mu    sync.RWMutex
	sides map[domain.Side]map[string]domain.MakerOrder
	// lastUpdate survives removals so a late replay of an older ACTIVE
	// delta cannot resurrect a cancelled order.
	lastUpdate map[string]int64
}

// NewMirror creates an empty mirror for marketID. Orders whose maker id
// equals selfID are excluded from all derived metrics.
func NewMirror(marketID, selfID string, conv *pricing.Converter, logger *slog.Logger) *Mirror {
	return &Mirror{
		marketID: marketID,
		selfID:   selfID,
		conv:     conv,
		logger:   logger.With(slog.String("component", "book_mirror"), slog.String("market_id", marketID)),
		sides: map[domain.Side]map[string]domain.MakerOrder{
			domain.SideA: {},
			domain.SideB: {},
		},
		lastUpdate: make(map[string]int64),
	}
}

// MarketID returns the market this mirror projects.
func (m *Mirror) MarketID() string { return m.marketID }

// ApplySnapshot atomically replaces the mirror contents with the given
// orders. Malformed entries are dropped.
func (m *Mirror) ApplySnapshot(orders []domain.MakerOrder) {
	sides := map[domain.Side]map[string]domain.MakerOrder{
		domain.SideA: {},
		domain.SideB: {},
	}
	last := make(map[string]int64, len(orders))
	for _, o := range orders {
		if !m.wellFormed(o) {
			metrics.MalformedDeltas.WithLabelValues(m.marketID).Inc()
			m.logger.Warn("dropping malformed snapshot order", slog.String("order_id", o.ID))
			continue
		}
		sides[o.Side][o.ID] = o.Clone()
		if o.UpdateTime > last[o.ID] {
			last[o.ID] = o.UpdateTime
		}
	}
	m.mu.Lock()
	m.sides = sides
	m.lastUpdate = last
	m.mu.Unlock()
}

// ApplyDeltas applies an ordered batch of incremental updates. For a given
// order id, a delta whose updateTime is not newer than the stored one is
// silently dropped; this is the final backstop against transport
// reorderings. Malformed deltas are counted and skipped, never fatal.
func (m *Mirror) ApplyDeltas(deltas []domain.OrderDelta) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, d := range deltas {
		o := d.Order
		if !m.wellFormed(o) || (d.Status != domain.DeltaActive && d.Status != domain.DeltaInactive) {
			metrics.MalformedDeltas.WithLabelValues(m.marketID).Inc()
			m.logger.Warn("dropping malformed delta",
				slog.String("order_id", o.ID),
				slog.String("status", string(d.Status)),
			)
			continue
		}
		if prev, seen := m.lastUpdate[o.ID]; seen && o.UpdateTime <= prev {
			metrics.StaleDeltas.WithLabelValues(m.marketID).Inc()
			continue
		}
		m.lastUpdate[o.ID] = o.UpdateTime

		// An order lives in at most one side bucket; a replacement may
		// have switched sides.
		delete(m.sides[o.Side.Opposite()], o.ID)
		if d.Status == domain.DeltaActive {
			m.sides[o.Side][o.ID] = o.Clone()
		} else {
			delete(m.sides[o.Side], o.ID)
		}
	}
}

// Get returns a copy of the stored order, if present.
func (m *Mirror) Get(orderID string) (domain.MakerOrder, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, bucket := range m.sides {
		if o, ok := bucket[orderID]; ok {
			return o.Clone(), true
		}
	}
	return domain.MakerOrder{}, false
}

// Len returns the number of live orders across both sides.
func (m *Mirror) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sides[domain.SideA]) + len(m.sides[domain.SideB])
}

// MetricsFor computes the derived metrics for one position's view. The
// returned values are independent copies; nil means "no qualifying order".
func (m *Mirror) MetricsFor(v View) domain.MarketMetrics {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := domain.MarketMetrics{
		LiquidityA: m.liquidityLocked(domain.SideA),
		LiquidityB: m.liquidityLocked(domain.SideB),
	}

	if best := m.bestMakerLocked(v.Side.Opposite(), v.MinForOdds); best != nil {
		out.BestTakerOdds = m.conv.TakerOdds(best)
	}

	bestForA := m.bestMakerLocked(domain.SideB, v.MinForVig)
	bestForB := m.bestMakerLocked(domain.SideA, v.MinForVig)
	if bestForA != nil && bestForB != nil {
		vig := new(big.Int).Add(m.conv.TakerOdds(bestForA), m.conv.TakerOdds(bestForB))
		out.Vig = vig.Sub(vig, m.conv.OddsUnit())
	}

	return out
}

// bestMakerLocked returns the highest maker odds among bucket orders with
// remaining stake >= minStake, excluding our own. Nil when none qualify.
// Mirrors stay small (a handful of makers per sports market), so a linear
// scan beats maintaining a sorted structure.
func (m *Mirror) bestMakerLocked(side domain.Side, minStake *big.Int) *big.Int {
	var best *big.Int
	for _, o := range m.sides[side] {
		if o.MakerID == m.selfID {
			continue
		}
		if minStake != nil && o.RemainingStake().Cmp(minStake) < 0 {
			continue
		}
		if best == nil || o.MakerOdds.Cmp(best) > 0 {
			best = o.MakerOdds
		}
	}
	if best == nil {
		return nil
	}
	return new(big.Int).Set(best)
}

// liquidityLocked sums the remaining taker capacity a taker betting side
// would find, i.e. over the opposite-side maker orders, excluding our own.
func (m *Mirror) liquidityLocked(side domain.Side) *big.Int {
	total := big.NewInt(0)
	for _, o := range m.sides[side.Opposite()] {
		if o.MakerID == m.selfID {
			continue
		}
		total.Add(total, m.conv.RemainingTakerCapacity(o))
	}
	return total
}

// wellFormed rejects deltas that would corrupt the mirror: wrong market,
// missing ids, nil or inconsistent amounts, odds outside (0, ODDS_UNIT).
func (m *Mirror) wellFormed(o domain.MakerOrder) bool {
	if o.ID == "" || (o.MarketID != "" && o.MarketID != m.marketID) {
		return false
	}
	if !o.Side.Valid() {
		return false
	}
	if o.TotalStake == nil || o.FilledStake == nil || o.MakerOdds == nil {
		return false
	}
	if o.FilledStake.Sign() < 0 || o.FilledStake.Cmp(o.TotalStake) > 0 {
		return false
	}
	if o.MakerOdds.Sign() <= 0 || o.MakerOdds.Cmp(m.conv.OddsUnit()) >= 0 {
		return false
	}
	return true
}
