package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"time"

	"github.com/oddslab/makerbot/internal/domain"
	"github.com/oddslab/makerbot/internal/metrics"
)

// completeScale expresses CompleteFraction in integer arithmetic.
const completeScale = 1_000_000

// handleMarketData is the MarketDataEvent handler. It runs inside the
// position's operation queue.
func (e *Engine) handleMarketData(ctx context.Context, posID string, m domain.MarketMetrics) error {
	pos, err := e.positions.Get(posID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil // closed while the event was queued
		}
		return err
	}
	if pos.Status.Terminal() {
		return nil
	}

	snap := m.Clone()
	pos.LastMetrics = &snap

	risk := riskBreached(pos, m)
	if risk != pos.RiskBreached {
		pos.RiskBreached = risk
		if risk {
			if pos.ActiveOrderID != "" {
				if _, err := e.cancelActive(ctx, &pos); err != nil {
					_ = e.positions.Update(pos)
					return err
				}
			}
			pos.Status = domain.PositionRiskPaused
			e.logger.Info("risk breached, position paused", slog.String("position_id", pos.ID))
			e.audit(ctx, "risk_paused", map[string]any{"position_id": pos.ID})
			e.notify(ctx, "risk_paused", fmt.Sprintf("position %s paused: risk threshold breached", pos.ID))
			return e.positions.Update(pos)
		}
		pos.Status = domain.PositionActive
		e.logger.Info("risk cleared, position resumed", slog.String("position_id", pos.ID))
		e.notify(ctx, "risk_resumed", fmt.Sprintf("position %s resumed", pos.ID))
	}

	if pos.RiskBreached {
		return e.positions.Update(pos)
	}

	if err := e.ensureOrderCurrent(ctx, &pos, m); err != nil {
		_ = e.positions.Update(pos)
		return err
	}
	return e.positions.Update(pos)
}

// handleFill is the FillEvent handler: credit the fill idempotently, check
// completion, and otherwise fall through into the quoting logic with the
// cached market snapshot.
func (e *Engine) handleFill(ctx context.Context, posID, orderID string, newFilled *big.Int) error {
	pos, err := e.positions.Get(posID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil
		}
		return err
	}
	if pos.Status == domain.PositionClosed {
		return nil
	}

	delta := e.creditFill(orderID, newFilled)
	if delta.Sign() > 0 {
		pos.FilledStake = new(big.Int).Add(pos.FilledStake, delta)
		metrics.FillsCredited.Inc()
		e.logger.Info("fill credited",
			slog.String("position_id", pos.ID),
			slog.String("order_id", orderID),
			slog.String("delta", delta.String()),
			slog.String("filled_total", pos.FilledStake.String()),
		)
		e.audit(ctx, "fill", map[string]any{
			"position_id": pos.ID,
			"order_id":    orderID,
			"filled":      pos.FilledStake.String(),
		})
		e.notify(ctx, "position_filled", fmt.Sprintf("position %s filled %s/%s",
			pos.ID, pos.FilledStake.String(), pos.MaxStake.String()))
	}

	// A fill on an already-completed position only updates the tally.
	if pos.Status.Terminal() {
		return e.positions.Update(pos)
	}

	if e.isComplete(pos) {
		if err := e.markCompleted(ctx, &pos); err != nil {
			_ = e.positions.Update(pos)
			return err
		}
		return e.positions.Update(pos)
	}

	if pos.LastMetrics != nil && !pos.RiskBreached {
		if err := e.ensureOrderCurrent(ctx, &pos, *pos.LastMetrics); err != nil {
			_ = e.positions.Update(pos)
			return err
		}
	}
	return e.positions.Update(pos)
}

// handleEdit applies an operator settings patch and reconciles the resting
// order with the new parameters.
func (e *Engine) handleEdit(ctx context.Context, posID string, patch domain.PositionPatch) error {
	pos, err := e.positions.Get(posID)
	if err != nil {
		return err
	}
	if pos.Status.Terminal() {
		return fmt.Errorf("engine: position %s is %s: %w", posID, pos.Status, domain.ErrConfigInvalid)
	}

	if patch.MaxStake != nil {
		pos.MaxStake = new(big.Int).Set(patch.MaxStake)
	}
	if patch.PremiumBps != nil {
		pos.PremiumBps = *patch.PremiumBps
	}
	if patch.MaxVig != nil {
		pos.MaxVig = new(big.Int).Set(patch.MaxVig)
	}
	if patch.MinLiquidity != nil {
		pos.MinLiquidity = new(big.Int).Set(patch.MinLiquidity)
	}
	if patch.MinForOdds != nil {
		pos.MinForOdds = new(big.Int).Set(patch.MinForOdds)
	}
	if patch.MinForVig != nil {
		pos.MinForVig = new(big.Int).Set(patch.MinForVig)
	}

	e.audit(ctx, "position_edited", map[string]any{"position_id": pos.ID})

	if e.isComplete(pos) {
		if err := e.markCompleted(ctx, &pos); err != nil {
			_ = e.positions.Update(pos)
			return err
		}
		return e.positions.Update(pos)
	}

	if pos.LastMetrics != nil && !pos.RiskBreached {
		if err := e.ensureOrderCurrent(ctx, &pos, *pos.LastMetrics); err != nil {
			_ = e.positions.Update(pos)
			return err
		}
	}
	return e.positions.Update(pos)
}

// handleClose is the OperatorCloseEvent handler: cancel, detach, remove.
func (e *Engine) handleClose(ctx context.Context, posID string) error {
	pos, err := e.positions.Get(posID)
	if err != nil {
		return err
	}

	if pos.ActiveOrderID != "" {
		if _, err := e.cancelActive(ctx, &pos); err != nil {
			e.logger.Warn("close: cancel failed, proceeding",
				slog.String("position_id", pos.ID),
				slog.String("error", err.Error()),
			)
		}
	}

	e.monitor.Detach(pos.ID, pos.MarketID)

	// A completed position already left the active-positions gauge.
	wasLive := !pos.Status.Terminal()
	now := time.Now().UTC()
	pos.Status = domain.PositionClosed
	pos.ClosedAt = &now

	if err := e.positions.Delete(pos.ID); err != nil {
		return err
	}
	if wasLive {
		metrics.ActivePositions.Dec()
	}
	e.audit(ctx, "position_closed", map[string]any{"position_id": pos.ID})
	e.logger.Info("position closed", slog.String("position_id", pos.ID))

	// Cancel whatever is still queued behind this operation.
	e.ser.Remove(pos.ID)
	return nil
}

// --------------------------------------------------------------------------
// Quoting logic
// --------------------------------------------------------------------------

// ensureOrderCurrent keeps the position's single maker order aligned with
// the current best taker price. Mutates pos in place; the caller persists.
func (e *Engine) ensureOrderCurrent(ctx context.Context, pos *domain.Position, m domain.MarketMetrics) error {
	if pos.RiskBreached || pos.Status.Terminal() {
		return nil
	}

	// No reference price: stand down until a qualifying quote appears.
	if m.BestTakerOdds == nil {
		if pos.ActiveOrderID != "" {
			_, err := e.cancelActive(ctx, pos)
			return err
		}
		return nil
	}

	if !pos.LastOrderAction.IsZero() && time.Since(pos.LastOrderAction) < e.cfg.MinOrderUpdateInterval {
		return nil
	}

	desired, err := e.conv.QuantizeToLadder(e.conv.ApplyPremium(m.BestTakerOdds, pos.PremiumBps))
	if err != nil {
		// The premium pushed the quote off the ladder's low end. Suppress
		// the post and wait for a viable reference price.
		if pos.ActiveOrderID != "" {
			_, cancelErr := e.cancelActive(ctx, pos)
			return cancelErr
		}
		return nil
	}

	if pos.ActiveOrderID != "" && pos.LastQuotedMakerOdds != nil && desired.Cmp(pos.LastQuotedMakerOdds) == 0 {
		return nil
	}

	if pos.ActiveOrderID != "" {
		cancelled, err := e.cancelActive(ctx, pos)
		if err != nil {
			return err
		}
		if cancelled == 0 {
			// The order was filled or expired before we got to it. Give the
			// pending fill event a moment, then let it reconcile; posting
			// now could double our exposure.
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(e.cfg.CancelRecheckDelay):
			}
			return nil
		}
	}

	remaining := pos.Remaining()
	if remaining.Sign() <= 0 {
		return e.markCompleted(ctx, pos)
	}

	orderID, err := e.gateway.PostMakerOrder(ctx, pos.MarketID, pos.ChosenSide, remaining, desired)
	pos.LastOrderAction = time.Now()
	if err != nil {
		pos.OrderStatus = domain.OrderError
		pos.ActiveOrderID = ""
		e.logger.Error("order post failed",
			slog.String("position_id", pos.ID),
			slog.String("error", err.Error()),
		)
		e.audit(ctx, "order_error", map[string]any{"position_id": pos.ID, "error": err.Error()})
		e.notify(ctx, "order_error", fmt.Sprintf("position %s: order post failed", pos.ID))
		// Stay active; the next market-data event retries.
		return nil
	}

	pos.ActiveOrderID = orderID
	pos.OrderStatus = domain.OrderActive
	pos.LastQuotedTakerOdds = new(big.Int).Set(m.BestTakerOdds)
	pos.LastQuotedMakerOdds = desired
	if pos.Status == domain.PositionInitializing {
		pos.Status = domain.PositionActive
	}
	e.audit(ctx, "order_posted", map[string]any{
		"position_id": pos.ID,
		"order_id":    orderID,
		"odds":        desired.String(),
		"stake":       remaining.String(),
	})
	return nil
}

// cancelActive cancels the position's resting order, tracking it for late
// fills first. A non-zero cancelled count, or an error alongside one, is
// success. An outright failure leaves the order id in place so the next
// event retries.
func (e *Engine) cancelActive(ctx context.Context, pos *domain.Position) (int, error) {
	orderID := pos.ActiveOrderID
	e.monitor.TrackCancelled(orderID, pos.ID)

	res, err := e.gateway.CancelOrders(ctx, []string{orderID})
	if err != nil && res.Cancelled == 0 {
		return 0, fmt.Errorf("engine: cancel %s: %w", orderID, err)
	}

	pos.ActiveOrderID = ""
	pos.OrderStatus = domain.OrderCancelled
	pos.LastQuotedMakerOdds = nil
	pos.LastOrderAction = time.Now()
	return res.Cancelled, nil
}

// creditFill converts an absolute per-order filled stake into the increment
// not yet credited. Duplicate or stale reports yield zero, which keeps the
// position's filledStake monotone.
func (e *Engine) creditFill(orderID string, newFilled *big.Int) *big.Int {
	e.fillMu.Lock()
	defer e.fillMu.Unlock()
	prev, ok := e.orderFills[orderID]
	if !ok {
		prev = big.NewInt(0)
	}
	if newFilled.Cmp(prev) <= 0 {
		return big.NewInt(0)
	}
	delta := new(big.Int).Sub(newFilled, prev)
	e.orderFills[orderID] = new(big.Int).Set(newFilled)
	return delta
}

// isComplete reports whether filledStake has reached the completion
// fraction of maxStake. Integer arithmetic: filled*scale >= max*frac*scale.
func (e *Engine) isComplete(pos domain.Position) bool {
	lhs := new(big.Int).Mul(pos.FilledStake, big.NewInt(completeScale))
	rhs := new(big.Int).Mul(pos.MaxStake, big.NewInt(int64(e.cfg.CompleteFraction*completeScale)))
	return lhs.Cmp(rhs) >= 0
}

// markCompleted finalizes a position: cancel any remainder, flip status.
func (e *Engine) markCompleted(ctx context.Context, pos *domain.Position) error {
	if pos.ActiveOrderID != "" {
		if _, err := e.cancelActive(ctx, pos); err != nil {
			return err
		}
	}
	pos.Status = domain.PositionCompleted
	metrics.ActivePositions.Dec()
	e.logger.Info("position completed",
		slog.String("position_id", pos.ID),
		slog.String("filled", pos.FilledStake.String()),
	)
	e.audit(ctx, "position_completed", map[string]any{
		"position_id": pos.ID,
		"filled":      pos.FilledStake.String(),
	})
	e.notify(ctx, "position_completed", fmt.Sprintf("position %s completed", pos.ID))
	return nil
}

// riskBreached evaluates the position's risk gate against fresh metrics.
// A missing best quote is not a breach by itself; missing liquidity is
// treated as zero.
func riskBreached(pos domain.Position, m domain.MarketMetrics) bool {
	if m.Vig != nil && pos.MaxVig != nil && m.Vig.Cmp(pos.MaxVig) > 0 {
		return true
	}
	if pos.MinLiquidity != nil && pos.MinLiquidity.Sign() > 0 {
		if below(m.LiquidityA, pos.MinLiquidity) || below(m.LiquidityB, pos.MinLiquidity) {
			return true
		}
	}
	return false
}

func below(have, want *big.Int) bool {
	if have == nil {
		return true
	}
	return have.Cmp(want) < 0
}
