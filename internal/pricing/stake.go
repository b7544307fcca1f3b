package pricing

import (
	"math/big"

	"github.com/shopspring/decimal"

	"github.com/oddslab/makerbot/internal/domain"
)

// NominalToWire converts a nominal stake to wire units, truncating any
// fraction below the wire resolution.
func (c *Converter) NominalToWire(nominal decimal.Decimal) *big.Int {
	return nominal.Mul(decimal.NewFromBigInt(c.stakeUnit, 0)).Truncate(0).BigInt()
}

// WireToNominal converts a wire stake back to its nominal amount.
func (c *Converter) WireToNominal(wire *big.Int) decimal.Decimal {
	return decimal.NewFromBigInt(wire, 0).DivRound(decimal.NewFromBigInt(c.stakeUnit, 0), 12)
}

// RemainingTakerCapacity returns how much stake a taker can still place
// against the order:
//
//	remainingMakerStake * (ODDS_UNIT - makerOdds) / makerOdds
//
// computed with a single final integer divide so no precision is lost on the
// way. Orders with non-positive maker odds have no taker space.
func (c *Converter) RemainingTakerCapacity(o domain.MakerOrder) *big.Int {
	if o.MakerOdds == nil || o.MakerOdds.Sign() <= 0 {
		return big.NewInt(0)
	}
	rem := o.RemainingStake()
	if rem.Sign() <= 0 {
		return big.NewInt(0)
	}
	space := new(big.Int).Sub(c.oddsUnit, o.MakerOdds)
	space.Mul(space, rem)
	return space.Quo(space, o.MakerOdds)
}
