// Package gateway posts and cancels maker orders against the venue. It owns
// signing, request pacing, and retry policy; transient transport failures
// are retried with exponential backoff while business rejections surface
// immediately.
package gateway

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"time"

	"golang.org/x/time/rate"

	"github.com/oddslab/makerbot/internal/crypto"
	"github.com/oddslab/makerbot/internal/domain"
	"github.com/oddslab/makerbot/internal/metrics"
	"github.com/oddslab/makerbot/internal/platform/prophetx"
	"github.com/oddslab/makerbot/internal/pricing"
)

// VenueClient is the REST surface the gateway drives. Implemented by
// *prophetx.Client.
type VenueClient interface {
	PostOrder(ctx context.Context, req prophetx.NewOrderRequest) (string, error)
	CancelOrders(ctx context.Context, orderIDs []string) (domain.CancelResult, error)
}

// Config holds the gateway tunables.
type Config struct {
	MaxRetries     int           // attempts after the first; default 3
	RetryBaseDelay time.Duration // default 1s
	RetryBackoff   float64       // delay multiplier per attempt; default 2
	RequestsPerSec float64       // venue request pacing; default 5
	Burst          int           // default 2
}

func (c *Config) withDefaults() Config {
	out := *c
	if out.MaxRetries <= 0 {
		out.MaxRetries = 3
	}
	if out.RetryBaseDelay <= 0 {
		out.RetryBaseDelay = time.Second
	}
	if out.RetryBackoff < 1 {
		out.RetryBackoff = 2
	}
	if out.RequestsPerSec <= 0 {
		out.RequestsPerSec = 5
	}
	if out.Burst <= 0 {
		out.Burst = 2
	}
	return out
}

// Gateway implements domain.OrderGateway.
type Gateway struct {
	venue   VenueClient
	signer  *crypto.Signer
	conv    *pricing.Converter
	limiter *rate.Limiter
	cfg     Config
	logger  *slog.Logger
}

// New creates a Gateway.
func New(venue VenueClient, signer *crypto.Signer, conv *pricing.Converter, cfg Config, logger *slog.Logger) *Gateway {
	c := cfg.withDefaults()
	return &Gateway{
		venue:   venue,
		signer:  signer,
		conv:    conv,
		limiter: rate.NewLimiter(rate.Limit(c.RequestsPerSec), c.Burst),
		cfg:     c,
		logger:  logger.With(slog.String("component", "order_gateway")),
	}
}

// PostMakerOrder submits a signed maker order. oddsWire must already be
// ladder-valid; violations fail with ErrInvalidOdds before any network
// traffic.
func (g *Gateway) PostMakerOrder(ctx context.Context, marketID string, side domain.Side, stakeWire, oddsWire *big.Int) (string, error) {
	if !g.conv.OnLadder(oddsWire) {
		return "", fmt.Errorf("gateway: odds %s: %w", oddsWire, domain.ErrInvalidOdds)
	}
	if stakeWire == nil || stakeWire.Sign() <= 0 {
		return "", fmt.Errorf("gateway: non-positive stake: %w", domain.ErrOrderRejected)
	}
	if !side.Valid() {
		return "", fmt.Errorf("gateway: bad side %q: %w", side, domain.ErrOrderRejected)
	}

	salt, err := newSalt()
	if err != nil {
		return "", fmt.Errorf("gateway: salt: %w", err)
	}
	payload := crypto.OrderPayload{
		MarketID: marketID,
		Outcome:  string(side),
		Stake:    stakeWire.String(),
		Odds:     oddsWire.String(),
		Maker:    g.signer.MakerID(),
		Salt:     salt,
	}
	sig, err := g.signer.SignOrder(payload)
	if err != nil {
		return "", fmt.Errorf("gateway: sign order: %w", err)
	}
	req := prophetx.NewOrderRequest{
		MarketID:  marketID,
		Outcome:   payload.Outcome,
		Stake:     payload.Stake,
		Odds:      payload.Odds,
		Maker:     payload.Maker,
		Salt:      salt,
		Signature: sig,
	}

	var orderID string
	err = g.withRetries(ctx, "post_order", func() error {
		id, postErr := g.venue.PostOrder(ctx, req)
		if postErr != nil {
			return postErr
		}
		orderID = id
		return nil
	})
	if err != nil {
		metrics.OrderErrors.Inc()
		return "", err
	}

	metrics.OrdersPosted.Inc()
	g.logger.Info("maker order posted",
		slog.String("market_id", marketID),
		slog.String("order_id", orderID),
		slog.String("side", string(side)),
		slog.String("stake", stakeWire.String()),
		slog.String("odds", oddsWire.String()),
	)
	return orderID, nil
}

// CancelOrders cancels the given orders in bulk. Partial outcomes are
// returned verbatim; a zero cancelled count is not an error.
func (g *Gateway) CancelOrders(ctx context.Context, orderIDs []string) (domain.CancelResult, error) {
	if len(orderIDs) == 0 {
		return domain.CancelResult{}, nil
	}

	var result domain.CancelResult
	err := g.withRetries(ctx, "cancel_orders", func() error {
		res, cancelErr := g.venue.CancelOrders(ctx, orderIDs)
		if cancelErr != nil {
			return cancelErr
		}
		result = res
		return nil
	})
	if err != nil {
		return result, err
	}

	metrics.OrdersCancelled.Add(float64(result.Cancelled))
	g.logger.Info("orders cancelled",
		slog.Int("requested", len(orderIDs)),
		slog.Int("cancelled", result.Cancelled),
	)
	return result, nil
}

// withRetries runs op up to 1+MaxRetries times, backing off exponentially on
// transient errors. Non-transient errors return immediately.
func (g *Gateway) withRetries(ctx context.Context, opName string, op func() error) error {
	delay := g.cfg.RetryBaseDelay
	var err error
	for attempt := 0; ; attempt++ {
		if waitErr := g.limiter.Wait(ctx); waitErr != nil {
			return fmt.Errorf("gateway: %s: %w", opName, waitErr)
		}
		err = op()
		if err == nil {
			return nil
		}
		if !transient(err) || attempt >= g.cfg.MaxRetries {
			return fmt.Errorf("gateway: %s: %w", opName, err)
		}
		g.logger.Warn("transient venue error, retrying",
			slog.String("op", opName),
			slog.Int("attempt", attempt+1),
			slog.String("error", err.Error()),
		)
		select {
		case <-ctx.Done():
			return fmt.Errorf("gateway: %s: %w", opName, ctx.Err())
		case <-time.After(delay):
		}
		delay = time.Duration(float64(delay) * g.cfg.RetryBackoff)
	}
}

// transient reports whether the error class is worth retrying.
func transient(err error) bool {
	return errors.Is(err, domain.ErrTransport) || errors.Is(err, domain.ErrRateLimited)
}

func newSalt() (string, error) {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}
