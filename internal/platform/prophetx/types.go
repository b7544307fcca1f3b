// Package prophetx implements the REST and WebSocket clients for the
// ProphetX peer-to-peer sports exchange. Wire odds are fixed-point implied
// probabilities; wire stakes are fixed-point nominal amounts. Both travel as
// decimal strings to preserve precision across JSON boundaries.
package prophetx

import (
	"fmt"
	"math/big"

	"github.com/oddslab/makerbot/internal/domain"
)

// APIOrder represents a maker order as returned by the exchange, both in
// order-book snapshots and on the order stream.
type APIOrder struct {
	ID          string `json:"id"`
	MarketID    string `json:"market_id"`
	MakerID     string `json:"maker_id"`
	TotalStake  string `json:"total_stake"`
	FilledStake string `json:"filled_stake"`
	Odds        string `json:"odds"`
	Outcome     string `json:"outcome"` // "A" or "B"
	UpdateTime  int64  `json:"update_time"`
	Status      string `json:"status,omitempty"` // ACTIVE / INACTIVE on the stream
}

// ToDomainOrder converts an APIOrder to a domain.MakerOrder.
func (a *APIOrder) ToDomainOrder() (domain.MakerOrder, error) {
	total, ok := new(big.Int).SetString(a.TotalStake, 10)
	if !ok {
		return domain.MakerOrder{}, fmt.Errorf("prophetx: invalid total_stake %q", a.TotalStake)
	}
	filled, ok := new(big.Int).SetString(a.FilledStake, 10)
	if !ok {
		return domain.MakerOrder{}, fmt.Errorf("prophetx: invalid filled_stake %q", a.FilledStake)
	}
	odds, ok := new(big.Int).SetString(a.Odds, 10)
	if !ok {
		return domain.MakerOrder{}, fmt.Errorf("prophetx: invalid odds %q", a.Odds)
	}
	return domain.MakerOrder{
		ID:          a.ID,
		MarketID:    a.MarketID,
		MakerID:     a.MakerID,
		TotalStake:  total,
		FilledStake: filled,
		MakerOdds:   odds,
		Side:        domain.Side(a.Outcome),
		UpdateTime:  a.UpdateTime,
	}, nil
}

// ToDomainDelta converts a streamed APIOrder into an order delta.
func (a *APIOrder) ToDomainDelta() (domain.OrderDelta, error) {
	o, err := a.ToDomainOrder()
	if err != nil {
		return domain.OrderDelta{}, err
	}
	status := domain.DeltaStatus(a.Status)
	if status == "" {
		status = domain.DeltaActive
	}
	return domain.OrderDelta{Order: o, Status: status}, nil
}

// NewOrderRequest is the payload for POST /v1/orders. Stake and odds are
// wire-scale decimal strings; the signature covers every field except
// itself.
type NewOrderRequest struct {
	MarketID  string `json:"market_id"`
	Outcome   string `json:"outcome"`
	Stake     string `json:"stake"`
	Odds      string `json:"odds"`
	Maker     string `json:"maker"`
	Salt      string `json:"salt"`
	Signature string `json:"signature"`
}

// APIOrderResult is the response from placing an order.
type APIOrderResult struct {
	Success  bool   `json:"success"`
	OrderID  string `json:"order_id,omitempty"`
	Code     string `json:"code,omitempty"`
	ErrorMsg string `json:"error_msg,omitempty"`
}

// APICancelResult is the response from a bulk cancellation. Partial batch
// outcomes are reported verbatim.
type APICancelResult struct {
	Cancelled int      `json:"cancelled"`
	Failed    []string `json:"failed,omitempty"`
	Code      string   `json:"code,omitempty"`
	ErrorMsg  string   `json:"error_msg,omitempty"`
}

// Error codes returned in APIOrderResult.Code / APICancelResult.Code.
const (
	codeInvalidOdds   = "INVALID_ODDS"
	codeOrderRejected = "ORDER_REJECTED"
	codeOrderGone     = "ORDER_GONE"
	codeRateLimited   = "RATE_LIMITED"
)

// WSCommand is a client->server control message on the order stream.
type WSCommand struct {
	Type    string   `json:"type"` // "subscribe" / "unsubscribe"
	Channel string   `json:"channel"`
	Markets []string `json:"markets"`
}

// WSEnvelope is the outer frame of a server->client stream message.
type WSEnvelope struct {
	Channel  string     `json:"channel"`
	MarketID string     `json:"market_id"`
	Orders   []APIOrder `json:"orders"`
}
