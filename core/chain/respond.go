package chain

import (
	"context"
	"fmt"

	"github.com/fluxfret/cascade/core/events"
	"github.com/fluxfret/cascade/core/metrics"
	"github.com/fluxfret/cascade/core/model"
)

// Accept processes a carrier acceptance. The responding carrier must own the
// current sent attempt; anything else is a stale response. Re-accepting an
// already-completed chain with the same carrier is an idempotent no-op,
// while a different carrier gets ErrAlreadyAssigned.
func (e *Engine) Accept(ctx context.Context, chainID, carrierID string, proposedPrice *float64) (*model.DispatchChain, error) {
	var accepted model.DispatchAttempt
	c, committed, err := e.update(ctx, chainID, func(c *model.DispatchChain) error {
		if c.Status == model.ChainCompleted {
			if c.AssignedCarrier == carrierID {
				return errUnchanged
			}
			return fmt.Errorf("%w: order %s assigned to %s", ErrAlreadyAssigned, c.OrderID, c.AssignedCarrier)
		}
		cur := c.Current()
		if c.Status != model.ChainInProgress || cur == nil || cur.Status != model.AttemptSent || cur.CarrierID != carrierID {
			return fmt.Errorf("%w: carrier %s does not own the current attempt of chain %s", ErrStaleResponse, carrierID, c.ID)
		}
		now := e.clk.Now()
		cur.Status = model.AttemptAccepted
		cur.ProposedPrice = proposedPrice
		c.AssignedCarrier = carrierID
		c.FinalPrice = proposedPrice
		c.Status = model.ChainCompleted
		c.CompletedAt = &now
		accepted = *cur
		return nil
	})
	if err != nil || !committed {
		return c, err
	}

	o, oerr := e.order(ctx, c.OrderID)
	if oerr == nil {
		if nerr := e.notifier.NotifyAssigned(ctx, o, c, carrierID); nerr != nil {
			e.log.Errorf("notify assignment for order %s: %v", c.OrderID, nerr)
		}
	}
	price := 0.0
	if proposedPrice != nil {
		price = *proposedPrice
	}
	e.record(ctx, c.OrderID, "attempt_accepted", map[string]any{
		"chain_id": c.ID, "carrier_id": carrierID, "position": accepted.Position, "proposed_price": proposedPrice,
	})
	e.recordAttemptMetric(c, accepted)
	e.publish(events.AttemptResolved{ChainID: c.ID, OrderID: c.OrderID, CarrierID: carrierID, Position: accepted.Position, Status: string(model.AttemptAccepted)})
	e.publish(events.ChainCompleted{ChainID: c.ID, OrderID: c.OrderID, CarrierID: carrierID, FinalPrice: price})
	e.log.Infof("order %s assigned to carrier %s (attempt %d)", c.OrderID, carrierID, accepted.Position)
	return c, nil
}

// Refuse marks the current attempt refused and advances the cascade,
// sending the next attempt or triggering exhaustion handling.
func (e *Engine) Refuse(ctx context.Context, chainID, carrierID, reason string) (*model.DispatchChain, error) {
	return e.resolveAndAdvance(ctx, chainID, func(c *model.DispatchChain) (*model.DispatchAttempt, error) {
		cur := c.Current()
		if c.Status != model.ChainInProgress || cur == nil || cur.Status != model.AttemptSent || cur.CarrierID != carrierID {
			return nil, fmt.Errorf("%w: carrier %s does not own the current attempt of chain %s", ErrStaleResponse, carrierID, c.ID)
		}
		cur.Status = model.AttemptRefused
		cur.Reason = reason
		return cur, nil
	})
}

// Timeout expires the attempt at attemptIndex. It is a no-op unless that
// attempt is still the current sent one and its deadline has passed, which
// makes duplicate and late scheduler ticks harmless.
func (e *Engine) Timeout(ctx context.Context, chainID string, attemptIndex int) (*model.DispatchChain, error) {
	return e.resolveAndAdvance(ctx, chainID, func(c *model.DispatchChain) (*model.DispatchAttempt, error) {
		cur := c.Current()
		if c.Status != model.ChainInProgress || cur == nil || attemptIndex != c.CurrentIndex {
			return nil, errUnchanged
		}
		if !cur.Expired(e.clk.Now()) {
			return nil, errUnchanged
		}
		cur.Status = model.AttemptTimeout
		return cur, nil
	})
}

// Skip marks the current pending attempt skipped without sending it and
// advances the cascade.
func (e *Engine) Skip(ctx context.Context, chainID, reason string) (*model.DispatchChain, error) {
	return e.resolveAndAdvance(ctx, chainID, func(c *model.DispatchChain) (*model.DispatchAttempt, error) {
		cur := c.Current()
		if c.Status.Terminal() || cur == nil || cur.Status != model.AttemptPending {
			return nil, fmt.Errorf("%w: no pending current attempt on chain %s", ErrInvalidState, c.ID)
		}
		cur.Status = model.AttemptSkipped
		cur.Reason = reason
		return cur, nil
	})
}

// resolveAndAdvance commits a terminal outcome for the current attempt,
// advances the index, then continues the cascade outside the write: either
// sending the next attempt or handling exhaustion.
func (e *Engine) resolveAndAdvance(ctx context.Context, chainID string, resolve func(*model.DispatchChain) (*model.DispatchAttempt, error)) (*model.DispatchChain, error) {
	var resolved model.DispatchAttempt
	c, committed, err := e.update(ctx, chainID, func(c *model.DispatchChain) error {
		cur, rerr := resolve(c)
		if rerr != nil {
			return rerr
		}
		resolved = *cur
		c.CurrentIndex++
		return nil
	})
	if err != nil || !committed {
		return c, err
	}

	e.record(ctx, c.OrderID, "attempt_"+string(resolved.Status), map[string]any{
		"chain_id": c.ID, "carrier_id": resolved.CarrierID, "position": resolved.Position, "reason": resolved.Reason,
	})
	e.recordAttemptMetric(c, resolved)
	e.publish(events.AttemptResolved{ChainID: c.ID, OrderID: c.OrderID, CarrierID: resolved.CarrierID, Position: resolved.Position, Status: string(resolved.Status), Reason: resolved.Reason})
	e.log.Infof("attempt %d (carrier %s) of order %s resolved as %s", resolved.Position, resolved.CarrierID, c.OrderID, resolved.Status)

	o, oerr := e.order(ctx, c.OrderID)
	if oerr != nil {
		return c, oerr
	}
	if c.Current() != nil {
		return e.sendCurrent(ctx, c.ID, o)
	}
	return e.handleExhaustion(ctx, c.ID, o)
}

// Remind fires the mid-window reminder for the current sent attempt. The
// reminder is sent at most once per attempt.
func (e *Engine) Remind(ctx context.Context, chainID string) (*model.DispatchChain, error) {
	var reminded model.DispatchAttempt
	c, committed, err := e.update(ctx, chainID, func(c *model.DispatchChain) error {
		cur := c.Current()
		if c.Status != model.ChainInProgress || cur == nil || !cur.ReminderDue(e.clk.Now()) {
			return errUnchanged
		}
		now := e.clk.Now()
		cur.ReminderAt = &now
		for _, ch := range cur.Channels {
			cur.Notifications = append(cur.Notifications, model.NotificationRecord{Channel: ch, Kind: "reminder", SentAt: now})
		}
		reminded = *cur
		return nil
	})
	if err != nil || !committed {
		return c, err
	}

	remaining := reminded.ExpiresAt.Sub(e.clk.Now())
	o, oerr := e.order(ctx, c.OrderID)
	if oerr == nil {
		if nerr := e.notifier.NotifyReminder(ctx, o, c, reminded, remaining); nerr != nil {
			e.log.Errorf("notify reminder for chain %s: %v", c.ID, nerr)
		}
	}
	e.record(ctx, c.OrderID, "reminder_sent", map[string]any{
		"chain_id": c.ID, "carrier_id": reminded.CarrierID, "remaining_minutes": int(remaining.Minutes()),
	})
	if rr, ok := e.sink.(metrics.ReminderRecorder); ok {
		if err := rr.RecordReminder(c.OrderID, reminded.CarrierID); err != nil {
			e.log.Errorf("metrics error: %v", err)
		}
	}
	e.publish(events.ReminderSent{ChainID: c.ID, OrderID: c.OrderID, CarrierID: reminded.CarrierID, Remaining: remaining})
	return c, nil
}

// Cancel aborts a chain from any non-terminal state. The scheduler ignores
// cancelled chains on subsequent ticks.
func (e *Engine) Cancel(ctx context.Context, chainID, reason string) (*model.DispatchChain, error) {
	c, committed, err := e.update(ctx, chainID, func(c *model.DispatchChain) error {
		if c.Status.Terminal() {
			if c.Status == model.ChainCancelled {
				return errUnchanged
			}
			return fmt.Errorf("%w: chain %s is %s", ErrInvalidState, c.ID, c.Status)
		}
		now := e.clk.Now()
		c.Status = model.ChainCancelled
		c.CompletedAt = &now
		return nil
	})
	if err != nil || !committed {
		return c, err
	}
	e.record(ctx, c.OrderID, "chain_cancelled", map[string]any{"chain_id": c.ID, "reason": reason})
	e.publish(events.ChainCancelled{ChainID: c.ID, OrderID: c.OrderID, Reason: reason})
	e.log.Infof("chain %s for order %s cancelled: %s", c.ID, c.OrderID, reason)
	return c, nil
}
