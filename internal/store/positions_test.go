package store

import (
	"math/big"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/oddslab/makerbot/internal/domain"
)

func testPosition(id, marketID string, createdAt time.Time) domain.Position {
	return domain.Position{
		ID:           id,
		MarketID:     marketID,
		ChosenSide:   domain.SideA,
		MaxStake:     big.NewInt(50_000_000),
		FilledStake:  big.NewInt(0),
		MaxVig:       big.NewInt(100_000),
		MinLiquidity: big.NewInt(0),
		MinForOdds:   big.NewInt(0),
		MinForVig:    big.NewInt(0),
		Status:       domain.PositionInitializing,
		OrderStatus:  domain.OrderNone,
		CreatedAt:    createdAt,
	}
}

func TestPositions_CRUD(t *testing.T) {
	s := NewPositions()
	now := time.Now().UTC()

	p := testPosition("p1", "mkt-1", now)
	require.NoError(t, s.Insert(p))
	assert.ErrorIs(t, s.Insert(p), domain.ErrAlreadyExists)

	got, err := s.Get("p1")
	require.NoError(t, err)
	assert.Equal(t, "mkt-1", got.MarketID)

	got.Status = domain.PositionActive
	got.FilledStake = big.NewInt(10_000_000)
	require.NoError(t, s.Update(got))

	got, err = s.Get("p1")
	require.NoError(t, err)
	assert.Equal(t, domain.PositionActive, got.Status)
	assert.Equal(t, int64(10_000_000), got.FilledStake.Int64())

	require.NoError(t, s.Delete("p1"))
	_, err = s.Get("p1")
	assert.ErrorIs(t, err, domain.ErrNotFound)
	assert.ErrorIs(t, s.Delete("p1"), domain.ErrNotFound)
	assert.ErrorIs(t, s.Update(p), domain.ErrNotFound)
}

func TestPositions_ReadsAreCopies(t *testing.T) {
	s := NewPositions()
	require.NoError(t, s.Insert(testPosition("p1", "mkt-1", time.Now())))

	got, err := s.Get("p1")
	require.NoError(t, err)

	// Mutating the returned value must not leak into the store.
	got.FilledStake.SetInt64(999)
	got.Status = domain.PositionClosed

	fresh, err := s.Get("p1")
	require.NoError(t, err)
	assert.Equal(t, int64(0), fresh.FilledStake.Int64())
	assert.Equal(t, domain.PositionInitializing, fresh.Status)
}

func TestPositions_ListOrdering(t *testing.T) {
	s := NewPositions()
	base := time.Now().UTC()

	require.NoError(t, s.Insert(testPosition("p2", "mkt-1", base.Add(time.Second))))
	require.NoError(t, s.Insert(testPosition("p1", "mkt-2", base)))
	require.NoError(t, s.Insert(testPosition("p3", "mkt-1", base.Add(2*time.Second))))

	list := s.List()
	require.Len(t, list, 3)
	assert.Equal(t, []string{"p1", "p2", "p3"}, []string{list[0].ID, list[1].ID, list[2].ID})
}

func TestPositions_ForMarket(t *testing.T) {
	s := NewPositions()
	now := time.Now().UTC()
	require.NoError(t, s.Insert(testPosition("p1", "mkt-1", now)))
	require.NoError(t, s.Insert(testPosition("p2", "mkt-2", now)))
	require.NoError(t, s.Insert(testPosition("p3", "mkt-1", now)))

	got := s.ForMarket("mkt-1")
	require.Len(t, got, 2)
	assert.Equal(t, "p1", got[0].ID)
	assert.Equal(t, "p3", got[1].ID)
	assert.Empty(t, s.ForMarket("mkt-9"))
}
