package domain

import (
	"context"
	"math/big"
)

// DeltaHandler receives an ordered batch of order deltas for one market.
type DeltaHandler func(marketID string, deltas []OrderDelta)

// Subscription is a live delta stream for one market. Unsubscribe is
// idempotent.
type Subscription interface {
	Unsubscribe()
}

// Transport provides market data access: a one-shot snapshot read and a
// streaming subscription. Implementations prefer a push channel and fall
// back to snapshot polling with equivalent semantics.
type Transport interface {
	FetchSnapshot(ctx context.Context, marketID string) ([]MakerOrder, error)
	Subscribe(ctx context.Context, marketID string, handler DeltaHandler) (Subscription, error)
}

// OrderGateway posts and cancels maker orders against the venue. Both
// operations retry transient failures with exponential backoff; non-transient
// errors are returned immediately.
type OrderGateway interface {
	// PostMakerOrder submits a new signed maker order. oddsWire must already
	// be ladder-valid; a violation fails with ErrInvalidOdds before
	// transmission.
	PostMakerOrder(ctx context.Context, marketID string, side Side, stakeWire, oddsWire *big.Int) (string, error)

	// CancelOrders cancels the given orders in bulk. Partial outcomes are
	// returned verbatim; a zero Cancelled count is not an error.
	CancelOrders(ctx context.Context, orderIDs []string) (CancelResult, error)
}

// AuditJournal records position lifecycle and order actions for operator
// inspection. It is append-only and never read back into core state.
type AuditJournal interface {
	Record(ctx context.Context, event string, detail map[string]any) error
}

// MetricsCache publishes the latest per-market derived metrics for external
// dashboards. Write-only from the core's point of view.
type MetricsCache interface {
	SetMetrics(ctx context.Context, marketID string, m MarketMetrics) error
}

// Sport, League, Fixture and Market are opaque reference-data records used
// by the position-creation flow.
type Sport struct {
	ID   string
	Name string
}

type League struct {
	ID      string
	SportID string
	Name    string
}

type Fixture struct {
	ID       string
	LeagueID string
	Name     string
	StartsAt string
}

type Market struct {
	ID        string
	FixtureID string
	Name      string
	OutcomeA  string
	OutcomeB  string
	Active    bool
}

// ReferenceData is the venue's catalogue of sports, leagues, fixtures and
// markets. Consumed by position creation only, never by the trading core.
type ReferenceData interface {
	ListSports(ctx context.Context) ([]Sport, error)
	ListLeagues(ctx context.Context, sportID string) ([]League, error)
	ListFixtures(ctx context.Context, leagueID string) ([]Fixture, error)
	ListMarkets(ctx context.Context, fixtureID string) ([]Market, error)
	GetMarket(ctx context.Context, marketID string) (Market, error)
}
