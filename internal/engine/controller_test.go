package engine

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math/big"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/oddslab/makerbot/internal/domain"
	"github.com/oddslab/makerbot/internal/pricing"
	"github.com/oddslab/makerbot/internal/store"
)

// --------------------------------------------------------------------------
// Fakes
// --------------------------------------------------------------------------

type postCall struct {
	marketID string
	side     domain.Side
	stake    *big.Int
	odds     *big.Int
}

type fakeGateway struct {
	mu         sync.Mutex
	posts      []postCall
	cancels    [][]string
	postErr    error
	cancelZero bool
	seq        int
}

func (g *fakeGateway) PostMakerOrder(_ context.Context, marketID string, side domain.Side, stake, odds *big.Int) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.postErr != nil {
		return "", g.postErr
	}
	g.seq++
	g.posts = append(g.posts, postCall{
		marketID: marketID,
		side:     side,
		stake:    new(big.Int).Set(stake),
		odds:     new(big.Int).Set(odds),
	})
	return fmt.Sprintf("ord-%d", g.seq), nil
}

func (g *fakeGateway) CancelOrders(_ context.Context, orderIDs []string) (domain.CancelResult, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.cancels = append(g.cancels, append([]string(nil), orderIDs...))
	if g.cancelZero {
		return domain.CancelResult{Cancelled: 0}, nil
	}
	return domain.CancelResult{Cancelled: len(orderIDs)}, nil
}

func (g *fakeGateway) postCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.posts)
}

func (g *fakeGateway) cancelCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.cancels)
}

func (g *fakeGateway) lastPost() postCall {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.posts[len(g.posts)-1]
}

type fakeMonitor struct {
	mu       sync.Mutex
	tracked  map[string]string
	detached []string
}

func newFakeMonitor() *fakeMonitor {
	return &fakeMonitor{tracked: make(map[string]string)}
}

func (m *fakeMonitor) Attach(ctx context.Context, pos domain.Position) error { return nil }

func (m *fakeMonitor) Detach(positionID, marketID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.detached = append(m.detached, positionID)
}

func (m *fakeMonitor) TrackCancelled(orderID, positionID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tracked[orderID] = positionID
}

func (m *fakeMonitor) trackedOwner(orderID string) string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.tracked[orderID]
}

// --------------------------------------------------------------------------
// Harness
// --------------------------------------------------------------------------

type harness struct {
	eng *Engine
	gw  *fakeGateway
	mon *fakeMonitor
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	conv, err := pricing.NewConverter(1_000_000, 5_000, 1_000_000)
	require.NoError(t, err)

	gw := &fakeGateway{}
	mon := newFakeMonitor()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	eng := New(context.Background(), store.NewPositions(), gw, conv, Config{
		CompleteFraction:       0.99,
		MinOrderUpdateInterval: time.Millisecond,
		CancelRecheckDelay:     time.Millisecond,
	}, nil, nil, logger)
	eng.SetMonitor(mon)
	t.Cleanup(func() { _ = eng.Shutdown(context.Background()) })

	return &harness{eng: eng, gw: gw, mon: mon}
}

// openPosition creates the standard S1 position: side A, max stake 50,
// premium 1000 bps, max vig 10%, min liquidity 10.
func (h *harness) openPosition(t *testing.T, maxStake int64) domain.Position {
	t.Helper()
	pos, err := h.eng.CreatePosition(context.Background(), domain.PositionSpec{
		MarketID:     "mkt-1",
		ChosenSide:   domain.SideA,
		MaxStake:     big.NewInt(maxStake),
		PremiumBps:   1000,
		MaxVig:       big.NewInt(100_000),
		MinLiquidity: big.NewInt(10_000_000),
		MinForOdds:   big.NewInt(0),
		MinForVig:    big.NewInt(0),
	})
	require.NoError(t, err)
	return pos
}

func metricsWith(best, vig *int64, liqA, liqB int64) domain.MarketMetrics {
	m := domain.MarketMetrics{
		LiquidityA: big.NewInt(liqA),
		LiquidityB: big.NewInt(liqB),
	}
	if best != nil {
		m.BestTakerOdds = big.NewInt(*best)
	}
	if vig != nil {
		m.Vig = big.NewInt(*vig)
	}
	return m
}

func i64(v int64) *int64 { return &v }

func (h *harness) marketData(t *testing.T, posID string, m domain.MarketMetrics) {
	t.Helper()
	require.NoError(t, waitErr(t, h.eng.OnMarketData(posID, m)))
}

func (h *harness) fill(t *testing.T, posID, orderID string, filled int64) {
	t.Helper()
	require.NoError(t, waitErr(t, h.eng.OnFill(posID, orderID, big.NewInt(filled))))
}

func (h *harness) position(t *testing.T, id string) domain.Position {
	t.Helper()
	pos, err := h.eng.GetPosition(id)
	require.NoError(t, err)
	return pos
}

// pastRateLimit lets the per-position order-update rate limit expire.
func pastRateLimit() { time.Sleep(5 * time.Millisecond) }

// --------------------------------------------------------------------------
// End-to-end scenarios
// --------------------------------------------------------------------------

// S1: a single opposite-side maker at 0.60 yields a post at
// quantize(0.40 * 0.90) = 0.36 for the full stake.
func TestController_BasicQuotePlacement(t *testing.T) {
	h := newHarness(t)
	pos := h.openPosition(t, 50_000_000)

	h.marketData(t, pos.ID, metricsWith(i64(400_000), nil, 66_666_666, 66_666_666))

	require.Equal(t, 1, h.gw.postCount())
	post := h.gw.lastPost()
	assert.Equal(t, "mkt-1", post.marketID)
	assert.Equal(t, domain.SideA, post.side)
	assert.Equal(t, int64(360_000), post.odds.Int64())
	assert.Equal(t, int64(50_000_000), post.stake.Int64())

	got := h.position(t, pos.ID)
	assert.Equal(t, domain.PositionActive, got.Status)
	assert.Equal(t, domain.OrderActive, got.OrderStatus)
	assert.Equal(t, "ord-1", got.ActiveOrderID)
	assert.Equal(t, int64(400_000), got.LastQuotedTakerOdds.Int64())
}

// S2: the market moves to 0.65; the order is cancelled and reposted at
// quantize(0.35 * 0.90) = 0.315.
func TestController_MarketMoveReposts(t *testing.T) {
	h := newHarness(t)
	pos := h.openPosition(t, 50_000_000)

	h.marketData(t, pos.ID, metricsWith(i64(400_000), nil, 66_666_666, 66_666_666))
	pastRateLimit()
	h.marketData(t, pos.ID, metricsWith(i64(350_000), nil, 66_666_666, 66_666_666))

	require.Equal(t, 2, h.gw.postCount())
	require.Equal(t, 1, h.gw.cancelCount())
	assert.Equal(t, []string{"ord-1"}, h.gw.cancels[0])
	assert.Equal(t, pos.ID, h.mon.trackedOwner("ord-1"))

	post := h.gw.lastPost()
	assert.Equal(t, int64(315_000), post.odds.Int64())
	assert.Equal(t, int64(50_000_000), post.stake.Int64())
	assert.Equal(t, "ord-2", h.position(t, pos.ID).ActiveOrderID)
}

// S3: a vig breach cancels the order and pauses the position until the vig
// drops back.
func TestController_VigBreachPausesAndResumes(t *testing.T) {
	h := newHarness(t)
	pos := h.openPosition(t, 50_000_000)

	h.marketData(t, pos.ID, metricsWith(i64(400_000), i64(50_000), 66_666_666, 66_666_666))
	require.Equal(t, 1, h.gw.postCount())

	pastRateLimit()
	h.marketData(t, pos.ID, metricsWith(i64(400_000), i64(150_000), 66_666_666, 66_666_666))

	got := h.position(t, pos.ID)
	assert.Equal(t, domain.PositionRiskPaused, got.Status)
	assert.True(t, got.RiskBreached)
	assert.Empty(t, got.ActiveOrderID)
	assert.Equal(t, 1, h.gw.cancelCount())
	assert.Equal(t, 1, h.gw.postCount(), "no post while paused")

	// Still paused: further data with breached vig does nothing.
	pastRateLimit()
	h.marketData(t, pos.ID, metricsWith(i64(400_000), i64(150_000), 66_666_666, 66_666_666))
	assert.Equal(t, 1, h.gw.postCount())

	// Vig recovers: position resumes and requotes.
	pastRateLimit()
	h.marketData(t, pos.ID, metricsWith(i64(400_000), i64(50_000), 66_666_666, 66_666_666))

	got = h.position(t, pos.ID)
	assert.Equal(t, domain.PositionActive, got.Status)
	assert.False(t, got.RiskBreached)
	assert.Equal(t, 2, h.gw.postCount())
}

// Liquidity below the floor on either side trips the risk gate too.
func TestController_LiquidityBreach(t *testing.T) {
	h := newHarness(t)
	pos := h.openPosition(t, 50_000_000)

	h.marketData(t, pos.ID, metricsWith(i64(400_000), nil, 66_666_666, 5_000_000))

	got := h.position(t, pos.ID)
	assert.Equal(t, domain.PositionRiskPaused, got.Status)
	assert.Equal(t, 0, h.gw.postCount())
}

// S4: a partial fill under a stable market leaves the resting remainder in
// place; no churn.
func TestController_PartialFillContinuation(t *testing.T) {
	h := newHarness(t)
	pos := h.openPosition(t, 50_000_000)

	h.marketData(t, pos.ID, metricsWith(i64(400_000), nil, 66_666_666, 66_666_666))
	pastRateLimit()
	h.fill(t, pos.ID, "ord-1", 20_000_000)

	got := h.position(t, pos.ID)
	assert.Equal(t, int64(20_000_000), got.FilledStake.Int64())
	assert.Equal(t, "ord-1", got.ActiveOrderID)
	assert.Equal(t, 1, h.gw.postCount(), "stable market keeps the resting order")
	assert.Equal(t, 0, h.gw.cancelCount())
}

// S5: a cancel races a fill. The cancel reports zero cancelled, the late
// fill is credited via the tracked order id, and the remainder is reposted.
func TestController_LateFillAfterCancel(t *testing.T) {
	h := newHarness(t)
	pos := h.openPosition(t, 50_000_000)

	h.marketData(t, pos.ID, metricsWith(i64(400_000), nil, 66_666_666, 66_666_666))
	require.Equal(t, 1, h.gw.postCount())

	// The market moves; the cancel finds the order already gone.
	h.gw.mu.Lock()
	h.gw.cancelZero = true
	h.gw.mu.Unlock()
	pastRateLimit()
	h.marketData(t, pos.ID, metricsWith(i64(350_000), nil, 66_666_666, 66_666_666))

	got := h.position(t, pos.ID)
	assert.Empty(t, got.ActiveOrderID)
	assert.Equal(t, 1, h.gw.postCount(), "no repost until the fill reconciles")
	assert.Equal(t, pos.ID, h.mon.trackedOwner("ord-1"))

	// The late fill arrives for the cancelled order.
	h.gw.mu.Lock()
	h.gw.cancelZero = false
	h.gw.mu.Unlock()
	pastRateLimit()
	h.fill(t, pos.ID, "ord-1", 15_000_000)

	got = h.position(t, pos.ID)
	assert.Equal(t, int64(15_000_000), got.FilledStake.Int64())
	require.Equal(t, 2, h.gw.postCount())
	post := h.gw.lastPost()
	assert.Equal(t, int64(35_000_000), post.stake.Int64())
	assert.Equal(t, int64(315_000), post.odds.Int64())
}

// S6: fills reaching the completion fraction finish the position and cancel
// the remainder.
func TestController_Completion(t *testing.T) {
	h := newHarness(t)
	pos := h.openPosition(t, 100_000_000)

	h.marketData(t, pos.ID, metricsWith(i64(400_000), nil, 200_000_000, 200_000_000))
	pastRateLimit()
	h.fill(t, pos.ID, "ord-1", 99_500_000)

	got := h.position(t, pos.ID)
	assert.Equal(t, domain.PositionCompleted, got.Status)
	assert.Empty(t, got.ActiveOrderID)
	assert.Equal(t, 1, h.gw.cancelCount())

	// Completed is terminal: further market data is ignored.
	pastRateLimit()
	h.marketData(t, pos.ID, metricsWith(i64(350_000), nil, 200_000_000, 200_000_000))
	assert.Equal(t, 1, h.gw.postCount())
}

// --------------------------------------------------------------------------
// Edge behavior
// --------------------------------------------------------------------------

func TestController_FillIdempotence(t *testing.T) {
	h := newHarness(t)
	pos := h.openPosition(t, 50_000_000)

	h.marketData(t, pos.ID, metricsWith(i64(400_000), nil, 66_666_666, 66_666_666))
	pastRateLimit()

	h.fill(t, pos.ID, "ord-1", 20_000_000)
	h.fill(t, pos.ID, "ord-1", 20_000_000) // duplicate report
	h.fill(t, pos.ID, "ord-1", 10_000_000) // stale report

	assert.Equal(t, int64(20_000_000), h.position(t, pos.ID).FilledStake.Int64())
}

func TestController_NoReferencePriceCancels(t *testing.T) {
	h := newHarness(t)
	pos := h.openPosition(t, 50_000_000)

	h.marketData(t, pos.ID, metricsWith(i64(400_000), nil, 66_666_666, 66_666_666))
	pastRateLimit()
	h.marketData(t, pos.ID, metricsWith(nil, nil, 66_666_666, 66_666_666))

	got := h.position(t, pos.ID)
	assert.Empty(t, got.ActiveOrderID)
	assert.Equal(t, 1, h.gw.cancelCount())
	assert.Equal(t, 1, h.gw.postCount())
	assert.Equal(t, domain.PositionActive, got.Status, "missing best is not a risk breach")
}

func TestController_TinyQuoteSuppressed(t *testing.T) {
	h := newHarness(t)
	pos := h.openPosition(t, 50_000_000)

	// 0.004 taker odds discounted by 10% quantizes to zero: no post.
	h.marketData(t, pos.ID, metricsWith(i64(4_000), nil, 66_666_666, 66_666_666))

	assert.Equal(t, 0, h.gw.postCount())
	got := h.position(t, pos.ID)
	assert.Empty(t, got.ActiveOrderID)
	assert.Equal(t, domain.PositionInitializing, got.Status)
}

func TestController_PostFailureRetriesNextEvent(t *testing.T) {
	h := newHarness(t)
	pos := h.openPosition(t, 50_000_000)

	h.gw.mu.Lock()
	h.gw.postErr = fmt.Errorf("gateway: post_order: %w", domain.ErrOrderRejected)
	h.gw.mu.Unlock()

	h.marketData(t, pos.ID, metricsWith(i64(400_000), nil, 66_666_666, 66_666_666))

	got := h.position(t, pos.ID)
	assert.Equal(t, domain.OrderError, got.OrderStatus)
	assert.Empty(t, got.ActiveOrderID)

	h.gw.mu.Lock()
	h.gw.postErr = nil
	h.gw.mu.Unlock()
	pastRateLimit()
	h.marketData(t, pos.ID, metricsWith(i64(400_000), nil, 66_666_666, 66_666_666))

	got = h.position(t, pos.ID)
	assert.Equal(t, domain.OrderActive, got.OrderStatus)
	assert.NotEmpty(t, got.ActiveOrderID)
}

func TestController_RateLimitSkipsRequote(t *testing.T) {
	conv, err := pricing.NewConverter(1_000_000, 5_000, 1_000_000)
	require.NoError(t, err)
	gw := &fakeGateway{}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	eng := New(context.Background(), store.NewPositions(), gw, conv, Config{
		MinOrderUpdateInterval: time.Hour,
	}, nil, nil, logger)
	eng.SetMonitor(newFakeMonitor())
	t.Cleanup(func() { _ = eng.Shutdown(context.Background()) })
	h := &harness{eng: eng, gw: gw, mon: newFakeMonitor()}

	pos := h.openPosition(t, 50_000_000)
	h.marketData(t, pos.ID, metricsWith(i64(400_000), nil, 66_666_666, 66_666_666))
	h.marketData(t, pos.ID, metricsWith(i64(350_000), nil, 66_666_666, 66_666_666))

	assert.Equal(t, 1, gw.postCount(), "second quote inside the interval is skipped")
	assert.Equal(t, 0, gw.cancelCount())
}

func TestController_EditReconciles(t *testing.T) {
	h := newHarness(t)
	pos := h.openPosition(t, 50_000_000)

	h.marketData(t, pos.ID, metricsWith(i64(400_000), nil, 66_666_666, 66_666_666))
	pastRateLimit()

	newPremium := int64(2000)
	require.NoError(t, h.eng.EditPosition(context.Background(), pos.ID, domain.PositionPatch{
		PremiumBps: &newPremium,
	}))

	require.Equal(t, 2, h.gw.postCount())
	assert.Equal(t, int64(320_000), h.gw.lastPost().odds.Int64())
}

func TestController_Close(t *testing.T) {
	h := newHarness(t)
	pos := h.openPosition(t, 50_000_000)

	h.marketData(t, pos.ID, metricsWith(i64(400_000), nil, 66_666_666, 66_666_666))
	require.NoError(t, h.eng.ClosePosition(context.Background(), pos.ID))

	_, err := h.eng.GetPosition(pos.ID)
	assert.ErrorIs(t, err, domain.ErrNotFound)
	assert.Equal(t, 1, h.gw.cancelCount())

	h.mon.mu.Lock()
	detached := append([]string(nil), h.mon.detached...)
	h.mon.mu.Unlock()
	assert.Contains(t, detached, pos.ID)
}

func TestController_InvalidSpecRejected(t *testing.T) {
	h := newHarness(t)

	_, err := h.eng.CreatePosition(context.Background(), domain.PositionSpec{
		MarketID:   "mkt-1",
		ChosenSide: "C",
		MaxStake:   big.NewInt(1),
	})
	assert.ErrorIs(t, err, domain.ErrConfigInvalid)

	_, err = h.eng.CreatePosition(context.Background(), domain.PositionSpec{
		MarketID:     "mkt-1",
		ChosenSide:   domain.SideA,
		MaxStake:     big.NewInt(50_000_000),
		PremiumBps:   12_000,
		MaxVig:       big.NewInt(100_000),
		MinLiquidity: big.NewInt(0),
		MinForOdds:   big.NewInt(0),
		MinForVig:    big.NewInt(0),
	})
	assert.ErrorIs(t, err, domain.ErrConfigInvalid)
}

type fakeRefData struct {
	markets map[string]domain.Market
}

func (f *fakeRefData) ListSports(context.Context) ([]domain.Sport, error)            { return nil, nil }
func (f *fakeRefData) ListLeagues(context.Context, string) ([]domain.League, error)  { return nil, nil }
func (f *fakeRefData) ListFixtures(context.Context, string) ([]domain.Fixture, error) { return nil, nil }
func (f *fakeRefData) ListMarkets(context.Context, string) ([]domain.Market, error)  { return nil, nil }

func (f *fakeRefData) GetMarket(_ context.Context, marketID string) (domain.Market, error) {
	m, ok := f.markets[marketID]
	if !ok {
		return domain.Market{}, domain.ErrNotFound
	}
	return m, nil
}

func TestController_CreateValidatesMarket(t *testing.T) {
	h := newHarness(t)
	h.eng.SetReferenceData(&fakeRefData{markets: map[string]domain.Market{
		"mkt-1":    {ID: "mkt-1", Active: true},
		"mkt-dead": {ID: "mkt-dead", Active: false},
	}})

	// Known active market passes.
	h.openPosition(t, 50_000_000)

	spec := domain.PositionSpec{
		MarketID:     "mkt-dead",
		ChosenSide:   domain.SideA,
		MaxStake:     big.NewInt(50_000_000),
		PremiumBps:   1000,
		MaxVig:       big.NewInt(100_000),
		MinLiquidity: big.NewInt(0),
		MinForOdds:   big.NewInt(0),
		MinForVig:    big.NewInt(0),
	}
	_, err := h.eng.CreatePosition(context.Background(), spec)
	assert.ErrorIs(t, err, domain.ErrConfigInvalid)

	spec.MarketID = "mkt-missing"
	_, err = h.eng.CreatePosition(context.Background(), spec)
	assert.ErrorIs(t, err, domain.ErrConfigInvalid)
}

func TestController_ShutdownCancelsAllOrders(t *testing.T) {
	h := newHarness(t)
	p1 := h.openPosition(t, 50_000_000)
	p2 := h.openPosition(t, 30_000_000)

	h.marketData(t, p1.ID, metricsWith(i64(400_000), nil, 66_666_666, 66_666_666))
	h.marketData(t, p2.ID, metricsWith(i64(400_000), nil, 66_666_666, 66_666_666))
	require.Equal(t, 2, h.gw.postCount())

	require.NoError(t, h.eng.Shutdown(context.Background()))

	require.Equal(t, 1, h.gw.cancelCount())
	assert.ElementsMatch(t, []string{"ord-1", "ord-2"}, h.gw.cancels[0])
}

func TestController_ErrorsAreSentinels(t *testing.T) {
	h := newHarness(t)
	err := h.eng.ClosePosition(context.Background(), "missing")
	assert.True(t, errors.Is(err, domain.ErrNotFound))
}
