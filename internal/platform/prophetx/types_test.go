package prophetx

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/oddslab/makerbot/internal/domain"
)

func TestAPIOrder_ToDomainOrder(t *testing.T) {
	a := APIOrder{
		ID:          "o1",
		MarketID:    "mkt-1",
		MakerID:     "0xmaker",
		TotalStake:  "100000000",
		FilledStake: "25000000",
		Odds:        "600000",
		Outcome:     "B",
		UpdateTime:  42,
	}

	got, err := a.ToDomainOrder()
	require.NoError(t, err)
	assert.Equal(t, "o1", got.ID)
	assert.Equal(t, domain.SideB, got.Side)
	assert.Equal(t, int64(100_000_000), got.TotalStake.Int64())
	assert.Equal(t, int64(25_000_000), got.FilledStake.Int64())
	assert.Equal(t, int64(600_000), got.MakerOdds.Int64())
	assert.Equal(t, int64(75_000_000), got.RemainingStake().Int64())
	assert.Equal(t, int64(42), got.UpdateTime)
}

func TestAPIOrder_ToDomainOrder_BadNumbers(t *testing.T) {
	for _, mutate := range []func(*APIOrder){
		func(a *APIOrder) { a.TotalStake = "x" },
		func(a *APIOrder) { a.FilledStake = "" },
		func(a *APIOrder) { a.Odds = "1.5" },
	} {
		a := APIOrder{TotalStake: "1", FilledStake: "0", Odds: "1"}
		mutate(&a)
		_, err := a.ToDomainOrder()
		assert.Error(t, err)
	}
}

func TestAPIOrder_ToDomainDelta(t *testing.T) {
	a := APIOrder{
		ID: "o1", TotalStake: "1", FilledStake: "0", Odds: "500000",
		Outcome: "A", Status: "INACTIVE",
	}
	got, err := a.ToDomainDelta()
	require.NoError(t, err)
	assert.Equal(t, domain.DeltaInactive, got.Status)

	// Snapshot rows without an explicit status default to ACTIVE.
	a.Status = ""
	got, err = a.ToDomainDelta()
	require.NoError(t, err)
	assert.Equal(t, domain.DeltaActive, got.Status)
}

func TestClassifyCode(t *testing.T) {
	assert.ErrorIs(t, classifyCode("INVALID_ODDS"), domain.ErrInvalidOdds)
	assert.ErrorIs(t, classifyCode("RATE_LIMITED"), domain.ErrRateLimited)
	assert.ErrorIs(t, classifyCode("ORDER_GONE"), domain.ErrOrderGone)
	assert.ErrorIs(t, classifyCode("ANYTHING_ELSE"), domain.ErrOrderRejected)
}
