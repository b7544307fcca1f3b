// Package feed glues the transport to the trading core: it owns one shared
// subscription and book mirror per market, detects fills on our own orders,
// and delivers market-data and fill events to the attached positions.
package feed

import (
	"context"
	"fmt"
	"log/slog"
	"math/big"
	"sync"
	"time"

	"github.com/oddslab/makerbot/internal/book"
	"github.com/oddslab/makerbot/internal/domain"
	"github.com/oddslab/makerbot/internal/metrics"
	"github.com/oddslab/makerbot/internal/pricing"
	"github.com/oddslab/makerbot/internal/store"
)

// EventSink receives the monitor's events. Implementations dispatch them
// through the position's operation queue; the returned future is the
// operation's completion.
type EventSink interface {
	OnMarketData(positionID string, m domain.MarketMetrics) <-chan error
	OnFill(positionID, orderID string, filledStake *big.Int) <-chan error
}

// marketEntry is the shared per-market state: one mirror, one subscription,
// reference-counted by attached positions.
type marketEntry struct {
	mirror *book.Mirror
	sub    domain.Subscription
	refs   int
}

// Monitor multiplexes positions onto per-market subscriptions.
type Monitor struct {
	transport domain.Transport
	positions *store.Positions
	conv      *pricing.Converter
	selfID    string
	sink      EventSink
	cache     domain.MetricsCache // optional, nil disables publishing
	cancels   *RecentCancels
	logger    *slog.Logger

	mu      sync.Mutex
	markets map[string]*marketEntry
	closed  bool
}

// NewMonitor creates a Monitor. cache may be nil.
func NewMonitor(
	transport domain.Transport,
	positions *store.Positions,
	conv *pricing.Converter,
	selfID string,
	sink EventSink,
	cache domain.MetricsCache,
	recentCancelTTL time.Duration,
	logger *slog.Logger,
) *Monitor {
	return &Monitor{
		transport: transport,
		positions: positions,
		conv:      conv,
		selfID:    selfID,
		sink:      sink,
		cache:     cache,
		cancels:   NewRecentCancels(recentCancelTTL),
		logger:    logger.With(slog.String("component", "market_monitor")),
		markets:   make(map[string]*marketEntry),
	}
}

// TrackCancelled records a cancelled order so a racing fill still finds its
// position.
func (m *Monitor) TrackCancelled(orderID, positionID string) {
	m.cancels.Track(orderID, positionID)
}

// Attach subscribes a position to its market. The first position on a
// market opens the shared subscription and seeds the mirror from a
// snapshot; every position receives an initial MarketDataEvent computed
// from the freshly-seeded mirror.
func (m *Monitor) Attach(ctx context.Context, pos domain.Position) error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return fmt.Errorf("feed: attach: %w", domain.ErrShuttingDown)
	}
	entry, ok := m.markets[pos.MarketID]
	if ok {
		entry.refs++
		m.mu.Unlock()
	} else {
		entry = &marketEntry{
			mirror: book.NewMirror(pos.MarketID, m.selfID, m.conv, m.logger),
			refs:   1,
		}
		m.markets[pos.MarketID] = entry
		m.mu.Unlock()

		marketID := pos.MarketID
		sub, err := m.transport.Subscribe(ctx, marketID, func(mid string, deltas []domain.OrderDelta) {
			m.handleDeltas(mid, deltas)
		})
		if err != nil {
			m.dropEntry(marketID)
			return fmt.Errorf("feed: subscribe %s: %w", marketID, err)
		}

		snapshot, err := m.transport.FetchSnapshot(ctx, marketID)
		if err != nil {
			sub.Unsubscribe()
			m.dropEntry(marketID)
			return fmt.Errorf("feed: seed snapshot %s: %w", marketID, err)
		}
		entry.mirror.ApplySnapshot(snapshot)

		m.mu.Lock()
		if m.markets[pos.MarketID] != entry {
			// Every position detached while we were seeding; the entry is
			// already gone and nobody will release this subscription.
			m.mu.Unlock()
			sub.Unsubscribe()
			return fmt.Errorf("feed: attach %s: %w", pos.MarketID, domain.ErrPositionGone)
		}
		entry.sub = sub
		m.mu.Unlock()
	}

	m.sink.OnMarketData(pos.ID, entry.mirror.MetricsFor(viewOf(pos)))
	m.logger.Info("position attached",
		slog.String("position_id", pos.ID),
		slog.String("market_id", pos.MarketID),
	)
	return nil
}

// Detach drops a position from its market. The last detach closes the
// shared subscription and the mirror.
func (m *Monitor) Detach(positionID, marketID string) {
	m.mu.Lock()
	entry, ok := m.markets[marketID]
	if !ok {
		m.mu.Unlock()
		return
	}
	entry.refs--
	var sub domain.Subscription
	if entry.refs <= 0 {
		sub = entry.sub
		delete(m.markets, marketID)
	}
	m.mu.Unlock()

	if sub != nil {
		sub.Unsubscribe()
		m.logger.Info("market subscription released", slog.String("market_id", marketID))
	}
	m.logger.Info("position detached",
		slog.String("position_id", positionID),
		slog.String("market_id", marketID),
	)
}

// MarketMetrics returns the current neutral-view metrics of a subscribed
// market, for the operator API.
func (m *Monitor) MarketMetrics(marketID string) (domain.MarketMetrics, bool) {
	m.mu.Lock()
	entry, ok := m.markets[marketID]
	m.mu.Unlock()
	if !ok {
		return domain.MarketMetrics{}, false
	}
	return entry.mirror.MetricsFor(book.View{Side: domain.SideA}), true
}

// Close releases every subscription and stops the recent-cancel janitor.
func (m *Monitor) Close() {
	m.mu.Lock()
	m.closed = true
	entries := make([]*marketEntry, 0, len(m.markets))
	for _, e := range m.markets {
		entries = append(entries, e)
	}
	m.markets = make(map[string]*marketEntry)
	m.mu.Unlock()

	for _, e := range entries {
		if e.sub != nil {
			e.sub.Unsubscribe()
		}
	}
	m.cancels.Stop()
}

// handleDeltas is the subscription callback: update the mirror first, then
// route fills on our own orders, then fan out fresh metrics to every
// attached position. Events are dispatched through the serializer, so the
// mirror state a controller observes is never older than the event that
// woke it.
func (m *Monitor) handleDeltas(marketID string, deltas []domain.OrderDelta) {
	m.mu.Lock()
	entry, ok := m.markets[marketID]
	m.mu.Unlock()
	if !ok {
		return
	}

	entry.mirror.ApplyDeltas(deltas)

	attached := m.positions.ForMarket(marketID)

	for _, d := range deltas {
		if d.Order.MakerID != m.selfID {
			continue
		}
		posID, late := m.resolveOwner(d.Order.ID, attached)
		if posID == "" {
			m.logger.Warn("fill for unknown own order", slog.String("order_id", d.Order.ID))
			continue
		}
		if late {
			metrics.LateFills.Inc()
		}
		m.sink.OnFill(posID, d.Order.ID, new(big.Int).Set(d.Order.FilledStake))
	}

	for _, pos := range attached {
		if pos.Status.Terminal() {
			continue
		}
		m.sink.OnMarketData(pos.ID, entry.mirror.MetricsFor(viewOf(pos)))
	}

	if m.cache != nil {
		neutral := entry.mirror.MetricsFor(book.View{Side: domain.SideA})
		if err := m.cache.SetMetrics(context.Background(), marketID, neutral); err != nil {
			m.logger.Warn("metrics cache publish failed", slog.String("error", err.Error()))
		}
	}
}

// resolveOwner finds the position an own-order delta belongs to: the live
// order of an attached position, or a recently cancelled one.
func (m *Monitor) resolveOwner(orderID string, attached []domain.Position) (posID string, late bool) {
	for _, pos := range attached {
		if pos.ActiveOrderID == orderID {
			return pos.ID, false
		}
	}
	if id, ok := m.cancels.Lookup(orderID); ok {
		return id, true
	}
	return "", false
}

func viewOf(pos domain.Position) book.View {
	return book.View{
		Side:         pos.ChosenSide,
		MinForOdds:   pos.MinForOdds,
		MinForVig:    pos.MinForVig,
		MinLiquidity: pos.MinLiquidity,
	}
}

func (m *Monitor) dropEntry(marketID string) {
	m.mu.Lock()
	delete(m.markets, marketID)
	m.mu.Unlock()
}
