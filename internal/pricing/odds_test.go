package pricing

import (
	"math/big"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/oddslab/makerbot/internal/domain"
)

// Venue constants used across the pricing tests: 1e6 = 100%, ladder step
// 5000, stakes scaled by 1e6.
func newTestConverter(t *testing.T) *Converter {
	t.Helper()
	conv, err := NewConverter(1_000_000, 5_000, 1_000_000)
	require.NoError(t, err)
	return conv
}

func TestNewConverter_Invalid(t *testing.T) {
	_, err := NewConverter(0, 5_000, 1_000_000)
	assert.ErrorIs(t, err, domain.ErrConfigInvalid)

	_, err = NewConverter(1_000_000, -1, 1_000_000)
	assert.ErrorIs(t, err, domain.ErrConfigInvalid)

	_, err = NewConverter(1_000_000, 7_000, 1_000_000)
	assert.ErrorIs(t, err, domain.ErrConfigInvalid, "step must divide unit")

	_, err = NewConverter(1_000_000, 5_000, 0)
	assert.ErrorIs(t, err, domain.ErrConfigInvalid)
}

func TestQuantizeToLadder(t *testing.T) {
	conv := newTestConverter(t)

	tests := []struct {
		name string
		in   int64
		want int64
		err  bool
	}{
		{"exact multiple", 360_000, 360_000, false},
		{"rounds down", 362_499, 360_000, false},
		{"just below next rung", 364_999, 360_000, false},
		{"below first rung", 4_999, 0, true},
		{"zero", 0, 0, true},
		{"at unit", 1_000_000, 0, true},
		{"above unit", 1_500_000, 0, true},
		{"top rung", 999_999, 995_000, false},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got, err := conv.QuantizeToLadder(big.NewInt(tc.in))
			if tc.err {
				require.ErrorIs(t, err, domain.ErrInvalidOdds)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.want, got.Int64())
		})
	}
}

func TestApplyPremium(t *testing.T) {
	conv := newTestConverter(t)

	// 0.40 taker odds at 1000 bps premium -> 0.36 maker odds.
	got := conv.ApplyPremium(big.NewInt(400_000), 1000)
	assert.Equal(t, int64(360_000), got.Int64())

	// 0.35 at 1000 bps -> 0.315.
	got = conv.ApplyPremium(big.NewInt(350_000), 1000)
	assert.Equal(t, int64(315_000), got.Int64())

	// Zero premium is the identity.
	got = conv.ApplyPremium(big.NewInt(123_456), 0)
	assert.Equal(t, int64(123_456), got.Int64())

	// Integer division truncates toward zero.
	got = conv.ApplyPremium(big.NewInt(333_333), 1)
	assert.Equal(t, int64(333_299), got.Int64())
}

func TestOnLadder(t *testing.T) {
	conv := newTestConverter(t)

	assert.True(t, conv.OnLadder(big.NewInt(360_000)))
	assert.True(t, conv.OnLadder(big.NewInt(5_000)))
	assert.False(t, conv.OnLadder(big.NewInt(360_001)))
	assert.False(t, conv.OnLadder(big.NewInt(0)))
	assert.False(t, conv.OnLadder(big.NewInt(-5_000)))
	assert.False(t, conv.OnLadder(big.NewInt(1_000_000)))
	assert.False(t, conv.OnLadder(nil))
}

func TestImpliedWireRoundTrip(t *testing.T) {
	conv := newTestConverter(t)

	// Round-tripping through the display form loses at most one ladder
	// quantum.
	for _, wire := range []int64{5_000, 315_000, 360_000, 400_000, 995_000} {
		p := conv.ImpliedOfWire(big.NewInt(wire))
		back := conv.WireOfImplied(p)
		diff := new(big.Int).Sub(back, big.NewInt(wire))
		assert.LessOrEqual(t, diff.CmpAbs(big.NewInt(5_000)), 0,
			"round trip of %d drifted by %s", wire, diff)
	}

	assert.True(t, conv.ImpliedOfWire(big.NewInt(400_000)).Equal(decimal.RequireFromString("0.4")))
}

func TestTakerOdds(t *testing.T) {
	conv := newTestConverter(t)
	assert.Equal(t, int64(400_000), conv.TakerOdds(big.NewInt(600_000)).Int64())
}

func TestValidPremium(t *testing.T) {
	assert.True(t, ValidPremium(0))
	assert.True(t, ValidPremium(9_999))
	assert.False(t, ValidPremium(-1))
	assert.False(t, ValidPremium(10_000))
}
