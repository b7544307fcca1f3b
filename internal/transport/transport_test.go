package transport

import (
	"context"
	"io"
	"log/slog"
	"math/big"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/oddslab/makerbot/internal/domain"
)

// fakeRest serves a sequence of snapshots, one per call.
type fakeRest struct {
	mu        sync.Mutex
	snapshots [][]domain.MakerOrder
	calls     int
}

func (f *fakeRest) GetOrderBook(ctx context.Context, marketID string) ([]domain.MakerOrder, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	idx := f.calls
	if idx >= len(f.snapshots) {
		idx = len(f.snapshots) - 1
	}
	f.calls++
	snap := f.snapshots[idx]
	out := make([]domain.MakerOrder, len(snap))
	for i, o := range snap {
		out[i] = o.Clone()
	}
	return out, nil
}

type batchCollector struct {
	mu      sync.Mutex
	batches [][]domain.OrderDelta
}

func (c *batchCollector) handler(marketID string, deltas []domain.OrderDelta) {
	c.mu.Lock()
	c.batches = append(c.batches, deltas)
	c.mu.Unlock()
}

func (c *batchCollector) waitBatches(t *testing.T, n int) [][]domain.OrderDelta {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		c.mu.Lock()
		if len(c.batches) >= n {
			out := make([][]domain.OrderDelta, len(c.batches))
			copy(out, c.batches)
			c.mu.Unlock()
			return out
		}
		c.mu.Unlock()
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("expected %d delta batches", n)
	return nil
}

func order(id string, odds, total int64, updateTime int64) domain.MakerOrder {
	return domain.MakerOrder{
		ID:          id,
		MarketID:    "mkt-1",
		MakerID:     "0xother",
		TotalStake:  big.NewInt(total),
		FilledStake: big.NewInt(0),
		MakerOdds:   big.NewInt(odds),
		Side:        domain.SideB,
		UpdateTime:  updateTime,
	}
}

func newPollClient(rest *fakeRest) *Client {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	// Empty WSURL forces the poll fallback immediately.
	return New(rest, Config{
		WSURL:        "",
		PollInterval: 20 * time.Millisecond,
	}, logger)
}

func TestPollFallback_SynthesizesDeltas(t *testing.T) {
	rest := &fakeRest{snapshots: [][]domain.MakerOrder{
		{order("a", 600_000, 100_000_000, 1), order("b", 550_000, 50_000_000, 2)},
		{order("a", 650_000, 100_000_000, 10), order("c", 500_000, 30_000_000, 11)},
	}}
	c := newPollClient(rest)
	col := &batchCollector{}

	sub, err := c.Subscribe(context.Background(), "mkt-1", col.handler)
	require.NoError(t, err)
	defer sub.Unsubscribe()

	batches := col.waitBatches(t, 2)

	// First poll: everything arrives as ACTIVE.
	first := batches[0]
	require.Len(t, first, 2)
	for _, d := range first {
		assert.Equal(t, domain.DeltaActive, d.Status)
	}

	// Second poll: "b" disappeared between polls and must come back as a
	// synthesized INACTIVE; "a" and "c" are ACTIVE.
	second := batches[1]
	byID := map[string]domain.OrderDelta{}
	for _, d := range second {
		byID[d.Order.ID] = d
	}
	require.Len(t, byID, 3)
	assert.Equal(t, domain.DeltaActive, byID["a"].Status)
	assert.Equal(t, domain.DeltaActive, byID["c"].Status)
	assert.Equal(t, domain.DeltaInactive, byID["b"].Status)
	assert.Greater(t, byID["b"].Order.UpdateTime, int64(2),
		"synthesized removal outranks the stored update time")
}

func TestPollFallback_StopsOnUnsubscribe(t *testing.T) {
	rest := &fakeRest{snapshots: [][]domain.MakerOrder{
		{order("a", 600_000, 100_000_000, 1)},
	}}
	c := newPollClient(rest)
	col := &batchCollector{}

	sub, err := c.Subscribe(context.Background(), "mkt-1", col.handler)
	require.NoError(t, err)
	col.waitBatches(t, 1)

	sub.Unsubscribe()
	sub.Unsubscribe() // idempotent

	rest.mu.Lock()
	callsAtStop := rest.calls
	rest.mu.Unlock()

	time.Sleep(80 * time.Millisecond)

	rest.mu.Lock()
	defer rest.mu.Unlock()
	// One straggling in-flight poll is tolerated, but the loop must stop.
	assert.LessOrEqual(t, rest.calls, callsAtStop+1, "polling stopped after unsubscribe")
}

func TestFetchSnapshot_Passthrough(t *testing.T) {
	rest := &fakeRest{snapshots: [][]domain.MakerOrder{
		{order("a", 600_000, 100_000_000, 1)},
	}}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	c := New(rest, Config{}, logger)

	orders, err := c.FetchSnapshot(context.Background(), "mkt-1")
	require.NoError(t, err)
	require.Len(t, orders, 1)
	assert.Equal(t, "a", orders[0].ID)
}
