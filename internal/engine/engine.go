package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/oddslab/makerbot/internal/domain"
	"github.com/oddslab/makerbot/internal/metrics"
	"github.com/oddslab/makerbot/internal/pricing"
	"github.com/oddslab/makerbot/internal/store"
)

// MarketAttacher is the monitor surface the engine drives. Implemented by
// *feed.Monitor.
type MarketAttacher interface {
	Attach(ctx context.Context, pos domain.Position) error
	Detach(positionID, marketID string)
	TrackCancelled(orderID, positionID string)
}

// Notifier publishes operator-facing event notifications. Implementations
// must not block the caller.
type Notifier interface {
	Publish(ctx context.Context, event, message string)
}

// Config holds the trading-core tunables.
type Config struct {
	// CompleteFraction of maxStake at which a position is considered done.
	CompleteFraction float64

	// MinOrderUpdateInterval rate-limits posts/cancels per position.
	MinOrderUpdateInterval time.Duration

	// CancelRecheckDelay is the brief pause after a cancel reports zero
	// cancelled orders, giving the pending fill event time to arrive.
	CancelRecheckDelay time.Duration
}

func (c *Config) withDefaults() Config {
	out := *c
	if out.CompleteFraction <= 0 || out.CompleteFraction > 1 {
		out.CompleteFraction = 0.99
	}
	if out.MinOrderUpdateInterval <= 0 {
		out.MinOrderUpdateInterval = 2500 * time.Millisecond
	}
	if out.CancelRecheckDelay <= 0 {
		out.CancelRecheckDelay = 250 * time.Millisecond
	}
	return out
}

// Engine is the operator-facing trading core. It owns the position store,
// the per-position operation serializer, and the controller logic that
// keeps at most one maker order resting per position.
type Engine struct {
	positions *store.Positions
	ser       *Serializer
	gateway   domain.OrderGateway
	conv      *pricing.Converter
	cfg       Config
	journal   domain.AuditJournal // optional
	notifier  Notifier            // optional
	logger    *slog.Logger

	monitor MarketAttacher       // set after construction via SetMonitor
	refdata domain.ReferenceData // optional market-existence check on create

	// orderFills remembers the last absolute filled stake seen per order,
	// so repeated and late fill events credit each order exactly once.
	fillMu     sync.Mutex
	orderFills map[string]*big.Int
}

// New creates the Engine. Call SetMonitor before creating positions.
func New(
	ctx context.Context,
	positions *store.Positions,
	gw domain.OrderGateway,
	conv *pricing.Converter,
	cfg Config,
	journal domain.AuditJournal,
	notifier Notifier,
	logger *slog.Logger,
) *Engine {
	return &Engine{
		positions:  positions,
		ser:        NewSerializer(ctx, logger),
		gateway:    gw,
		conv:       conv,
		cfg:        cfg.withDefaults(),
		journal:    journal,
		notifier:   notifier,
		logger:     logger.With(slog.String("component", "engine")),
		orderFills: make(map[string]*big.Int),
	}
}

// SetMonitor wires the market monitor. Separate from New because the
// monitor needs the engine as its event sink.
func (e *Engine) SetMonitor(m MarketAttacher) { e.monitor = m }

// SetReferenceData enables market-existence validation on position creation.
func (e *Engine) SetReferenceData(rd domain.ReferenceData) { e.refdata = rd }

// --------------------------------------------------------------------------
// feed.EventSink
// --------------------------------------------------------------------------

// OnMarketData dispatches a market-data event through the position's
// operation queue.
func (e *Engine) OnMarketData(positionID string, m domain.MarketMetrics) <-chan error {
	snap := m.Clone()
	return e.ser.Enqueue(positionID, "market_data", func(ctx context.Context) error {
		return e.handleMarketData(ctx, positionID, snap)
	})
}

// OnFill dispatches a fill event through the position's operation queue.
func (e *Engine) OnFill(positionID, orderID string, filledStake *big.Int) <-chan error {
	filled := new(big.Int).Set(filledStake)
	return e.ser.Enqueue(positionID, "fill", func(ctx context.Context) error {
		return e.handleFill(ctx, positionID, orderID, filled)
	})
}

// --------------------------------------------------------------------------
// Operator surface
// --------------------------------------------------------------------------

// CreatePosition validates the request, stores the new position, and attaches
// it to its market. The first market-data event posts the initial order
// through the controller's normal logic.
func (e *Engine) CreatePosition(ctx context.Context, spec domain.PositionSpec) (domain.Position, error) {
	if err := validateSpec(spec); err != nil {
		return domain.Position{}, err
	}

	if e.refdata != nil {
		mkt, err := e.refdata.GetMarket(ctx, spec.MarketID)
		switch {
		case errors.Is(err, domain.ErrNotFound):
			return domain.Position{}, fmt.Errorf("engine: market %s unknown: %w", spec.MarketID, domain.ErrConfigInvalid)
		case err != nil:
			// Catalogue unavailability must not block trading on a market
			// the operator knows exists.
			e.logger.Warn("reference data lookup failed",
				slog.String("market_id", spec.MarketID),
				slog.String("error", err.Error()),
			)
		case !mkt.Active:
			return domain.Position{}, fmt.Errorf("engine: market %s is not active: %w", spec.MarketID, domain.ErrConfigInvalid)
		}
	}

	pos := domain.Position{
		ID:           uuid.New().String(),
		MarketID:     spec.MarketID,
		ChosenSide:   spec.ChosenSide,
		MaxStake:     new(big.Int).Set(spec.MaxStake),
		FilledStake:  big.NewInt(0),
		PremiumBps:   spec.PremiumBps,
		MaxVig:       new(big.Int).Set(spec.MaxVig),
		MinLiquidity: new(big.Int).Set(spec.MinLiquidity),
		MinForOdds:   new(big.Int).Set(spec.MinForOdds),
		MinForVig:    new(big.Int).Set(spec.MinForVig),
		Status:       domain.PositionInitializing,
		OrderStatus:  domain.OrderNone,
		CreatedAt:    time.Now().UTC(),
	}
	if err := e.positions.Insert(pos); err != nil {
		return domain.Position{}, err
	}

	if err := e.monitor.Attach(ctx, pos); err != nil {
		_ = e.positions.Delete(pos.ID)
		return domain.Position{}, err
	}

	metrics.ActivePositions.Inc()
	e.audit(ctx, "position_created", map[string]any{
		"position_id": pos.ID,
		"market_id":   pos.MarketID,
		"side":        string(pos.ChosenSide),
		"max_stake":   pos.MaxStake.String(),
	})
	e.logger.Info("position created",
		slog.String("position_id", pos.ID),
		slog.String("market_id", pos.MarketID),
		slog.String("side", string(pos.ChosenSide)),
	)
	return pos, nil
}

// ListPositions returns a snapshot of every position.
func (e *Engine) ListPositions() []domain.Position {
	return e.positions.List()
}

// GetPosition returns a snapshot of one position.
func (e *Engine) GetPosition(id string) (domain.Position, error) {
	return e.positions.Get(id)
}

// EditPosition applies a settings patch and reconciles the resting order
// with the new parameters. Runs inside the position's operation queue.
func (e *Engine) EditPosition(ctx context.Context, id string, patch domain.PositionPatch) error {
	if err := validatePatch(patch); err != nil {
		return err
	}
	return <-e.ser.Enqueue(id, "operator_edit", func(opCtx context.Context) error {
		return e.handleEdit(opCtx, id, patch)
	})
}

// ClosePosition cancels any resting order, detaches the position from its
// market, and removes it. Queued operations are cancelled with
// PositionGone.
func (e *Engine) ClosePosition(ctx context.Context, id string) error {
	return <-e.ser.Enqueue(id, "operator_close", func(opCtx context.Context) error {
		return e.handleClose(opCtx, id)
	})
}

// Shutdown cancels every known active order across all positions, then
// stops the serializer. The caller tears down the monitor and transport
// afterwards.
func (e *Engine) Shutdown(ctx context.Context) error {
	var orderIDs []string
	for _, p := range e.positions.List() {
		if p.ActiveOrderID != "" {
			orderIDs = append(orderIDs, p.ActiveOrderID)
		}
	}
	var err error
	if len(orderIDs) > 0 {
		e.logger.Info("cancelling all active orders", slog.Int("count", len(orderIDs)))
		if _, cancelErr := e.gateway.CancelOrders(ctx, orderIDs); cancelErr != nil {
			e.logger.Error("shutdown cancel failed", slog.String("error", cancelErr.Error()))
			err = cancelErr
		}
	}
	e.ser.Close()
	return err
}

// --------------------------------------------------------------------------
// Helpers
// --------------------------------------------------------------------------

func (e *Engine) audit(ctx context.Context, event string, detail map[string]any) {
	if e.journal == nil {
		return
	}
	if err := e.journal.Record(ctx, event, detail); err != nil {
		e.logger.Warn("audit record failed",
			slog.String("event", event),
			slog.String("error", err.Error()),
		)
	}
}

func (e *Engine) notify(ctx context.Context, event, message string) {
	if e.notifier == nil {
		return
	}
	e.notifier.Publish(ctx, event, message)
}

func validateSpec(spec domain.PositionSpec) error {
	switch {
	case spec.MarketID == "":
		return fmt.Errorf("engine: market id required: %w", domain.ErrConfigInvalid)
	case !spec.ChosenSide.Valid():
		return fmt.Errorf("engine: bad side %q: %w", spec.ChosenSide, domain.ErrConfigInvalid)
	case spec.MaxStake == nil || spec.MaxStake.Sign() <= 0:
		return fmt.Errorf("engine: max stake must be positive: %w", domain.ErrConfigInvalid)
	case !pricing.ValidPremium(spec.PremiumBps):
		return fmt.Errorf("engine: premium %d out of range: %w", spec.PremiumBps, domain.ErrConfigInvalid)
	case spec.MaxVig == nil:
		return fmt.Errorf("engine: max vig required: %w", domain.ErrConfigInvalid)
	case spec.MinLiquidity == nil || spec.MinLiquidity.Sign() < 0:
		return fmt.Errorf("engine: min liquidity must be non-negative: %w", domain.ErrConfigInvalid)
	case spec.MinForOdds == nil || spec.MinForOdds.Sign() < 0:
		return fmt.Errorf("engine: min-for-odds must be non-negative: %w", domain.ErrConfigInvalid)
	case spec.MinForVig == nil || spec.MinForVig.Sign() < 0:
		return fmt.Errorf("engine: min-for-vig must be non-negative: %w", domain.ErrConfigInvalid)
	}
	return nil
}

func validatePatch(patch domain.PositionPatch) error {
	if patch.MaxStake != nil && patch.MaxStake.Sign() <= 0 {
		return fmt.Errorf("engine: max stake must be positive: %w", domain.ErrConfigInvalid)
	}
	if patch.PremiumBps != nil && !pricing.ValidPremium(*patch.PremiumBps) {
		return fmt.Errorf("engine: premium %d out of range: %w", *patch.PremiumBps, domain.ErrConfigInvalid)
	}
	if patch.MinLiquidity != nil && patch.MinLiquidity.Sign() < 0 {
		return fmt.Errorf("engine: min liquidity must be non-negative: %w", domain.ErrConfigInvalid)
	}
	if patch.MinForOdds != nil && patch.MinForOdds.Sign() < 0 {
		return fmt.Errorf("engine: min-for-odds must be non-negative: %w", domain.ErrConfigInvalid)
	}
	if patch.MinForVig != nil && patch.MinForVig.Sign() < 0 {
		return fmt.Errorf("engine: min-for-vig must be non-negative: %w", domain.ErrConfigInvalid)
	}
	return nil
}
