// Package pricing implements the venue's fixed-point odds and stake
// arithmetic. Wire odds are integers in [0, ODDS_UNIT) representing implied
// probability; wire stakes are nominal amounts scaled by STAKE_UNIT. All
// submission math uses big.Int; decimals appear only at display boundaries.
package pricing

import (
	"fmt"
	"math/big"

	"github.com/shopspring/decimal"

	"github.com/oddslab/makerbot/internal/domain"
)

const premiumScale = 10_000

// Converter carries the venue's wire-format constants.
type Converter struct {
	oddsUnit   *big.Int
	ladderStep *big.Int
	stakeUnit  *big.Int
}

// NewConverter builds a Converter from the venue constants. All three must
// be positive and ladderStep must divide oddsUnit.
func NewConverter(oddsUnit, ladderStep, stakeUnit int64) (*Converter, error) {
	if oddsUnit <= 0 || ladderStep <= 0 || stakeUnit <= 0 {
		return nil, fmt.Errorf("pricing: non-positive wire constant: %w", domain.ErrConfigInvalid)
	}
	if oddsUnit%ladderStep != 0 {
		return nil, fmt.Errorf("pricing: ladder step %d does not divide odds unit %d: %w",
			ladderStep, oddsUnit, domain.ErrConfigInvalid)
	}
	return &Converter{
		oddsUnit:   big.NewInt(oddsUnit),
		ladderStep: big.NewInt(ladderStep),
		stakeUnit:  big.NewInt(stakeUnit),
	}, nil
}

// OddsUnit returns the wire value representing 100% probability.
func (c *Converter) OddsUnit() *big.Int { return new(big.Int).Set(c.oddsUnit) }

// LadderStep returns the odds quantization step.
func (c *Converter) LadderStep() *big.Int { return new(big.Int).Set(c.ladderStep) }

// StakeUnit returns the nominal-to-wire stake multiplier.
func (c *Converter) StakeUnit() *big.Int { return new(big.Int).Set(c.stakeUnit) }

// ImpliedOfWire converts wire odds to an implied probability in [0, 1).
// Display only; never feeds order submission.
func (c *Converter) ImpliedOfWire(x *big.Int) decimal.Decimal {
	return decimal.NewFromBigInt(x, 0).DivRound(decimal.NewFromBigInt(c.oddsUnit, 0), 12)
}

// WireOfImplied converts an implied probability back to wire odds,
// truncating toward zero. Lossy; display and test tooling only.
func (c *Converter) WireOfImplied(p decimal.Decimal) *big.Int {
	return p.Mul(decimal.NewFromBigInt(c.oddsUnit, 0)).Truncate(0).BigInt()
}

// QuantizeToLadder rounds x down to the nearest multiple of LADDER_STEP.
// Fails with ErrInvalidOdds when the result leaves (0, ODDS_UNIT).
func (c *Converter) QuantizeToLadder(x *big.Int) (*big.Int, error) {
	q := new(big.Int).Quo(x, c.ladderStep)
	q.Mul(q, c.ladderStep)
	if q.Sign() <= 0 || q.Cmp(c.oddsUnit) >= 0 {
		return nil, fmt.Errorf("pricing: %s quantizes outside (0, %s): %w",
			x.String(), c.oddsUnit.String(), domain.ErrInvalidOdds)
	}
	return q, nil
}

// OnLadder reports whether x is a valid postable odds value: strictly inside
// (0, ODDS_UNIT) and divisible by LADDER_STEP.
func (c *Converter) OnLadder(x *big.Int) bool {
	if x == nil || x.Sign() <= 0 || x.Cmp(c.oddsUnit) >= 0 {
		return false
	}
	return new(big.Int).Rem(x, c.ladderStep).Sign() == 0
}

// ApplyPremium discounts taker odds by premiumBps basis points:
// takerOdds * (10000 - premiumBps) / 10000, integer division. The result is
// NOT ladder-quantized; callers compose with QuantizeToLadder.
func (c *Converter) ApplyPremium(takerOdds *big.Int, premiumBps int64) *big.Int {
	m := new(big.Int).Mul(takerOdds, big.NewInt(premiumScale-premiumBps))
	return m.Quo(m, big.NewInt(premiumScale))
}

// TakerOdds returns the taker quote implied by a resting maker order:
// ODDS_UNIT - makerOdds.
func (c *Converter) TakerOdds(makerOdds *big.Int) *big.Int {
	return new(big.Int).Sub(c.oddsUnit, makerOdds)
}

// ValidPremium reports whether bps is an acceptable premium.
func ValidPremium(bps int64) bool {
	return bps >= 0 && bps < premiumScale
}
