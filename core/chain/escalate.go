package chain

import (
	"context"
	"fmt"

	"github.com/fluxfret/cascade/core/events"
	"github.com/fluxfret/cascade/core/metrics"
	"github.com/fluxfret/cascade/core/model"
)

// handleExhaustion runs when the cascade has no attempt left to send. With
// escalation configured the order goes to the broker; otherwise the chain
// lands in the explicit exhausted state and waits for a human.
func (e *Engine) handleExhaustion(ctx context.Context, chainID string, o model.Order) (*model.DispatchChain, error) {
	if e.broker == nil {
		return e.markExhausted(ctx, chainID)
	}
	c, err := e.chains.Get(ctx, chainID)
	if err != nil {
		return nil, err
	}
	if !c.AutoEscalate {
		return e.markExhausted(ctx, chainID)
	}

	// The broker call happens outside any store write. A transport failure
	// surfaces to the caller: the chain stays in_progress with an exhausted
	// cascade and the operation must be retried or alerted on.
	externalID, err := e.broker.Submit(ctx, o)
	if err != nil {
		return nil, fmt.Errorf("escalate order %s: %w", o.ID, err)
	}

	c, committed, err := e.update(ctx, chainID, func(c *model.DispatchChain) error {
		if c.Escalation != nil {
			// A concurrent escalation won; keep the first record.
			return errUnchanged
		}
		if c.Status.Terminal() {
			return fmt.Errorf("%w: chain %s is %s", ErrInvalidState, c.ID, c.Status)
		}
		now := e.clk.Now()
		c.Status = model.ChainEscalated
		c.Escalation = &model.Escalation{
			ExternalID:  externalID,
			Status:      model.EscalationPending,
			SubmittedAt: now,
			UpdatedAt:   now,
		}
		return nil
	})
	if err != nil || !committed {
		return c, err
	}

	e.record(ctx, c.OrderID, "chain_escalated", map[string]any{"chain_id": c.ID, "external_id": externalID})
	if serr := e.sink.RecordEscalation(metrics.EscalationEvent{
		OrderID: c.OrderID, ChainID: c.ID, ExternalID: externalID,
		Status: string(model.EscalationPending), Time: e.clk.Now(),
	}); serr != nil {
		e.log.Errorf("metrics error: %v", serr)
	}
	e.publish(events.ChainEscalated{ChainID: c.ID, OrderID: c.OrderID, ExternalID: externalID})
	e.log.Infof("order %s escalated to broker as %s", c.OrderID, externalID)
	return c, nil
}

func (e *Engine) markExhausted(ctx context.Context, chainID string) (*model.DispatchChain, error) {
	c, committed, err := e.update(ctx, chainID, func(c *model.DispatchChain) error {
		if c.Status == model.ChainExhausted {
			return errUnchanged
		}
		if c.Status.Terminal() {
			return fmt.Errorf("%w: chain %s is %s", ErrInvalidState, c.ID, c.Status)
		}
		c.Status = model.ChainExhausted
		return nil
	})
	if err != nil || !committed {
		return c, err
	}
	e.record(ctx, c.OrderID, "chain_exhausted", map[string]any{"chain_id": c.ID})
	e.publish(events.ChainExhausted{ChainID: c.ID, OrderID: c.OrderID})
	e.log.Warnf("order %s exhausted its cascade with no escalation configured; manual intervention required", c.OrderID)
	return c, nil
}

// HandleBrokerCallback applies an asynchronous broker result to the chain.
// Replays of a terminal payload are accepted and ignored: the first
// transition wins and no downstream notification is repeated. The returned
// bool is true for such replays.
func (e *Engine) HandleBrokerCallback(ctx context.Context, res BrokerResult) (*model.DispatchChain, bool, error) {
	chainRec, err := e.chains.GetByOrder(ctx, res.OrderID)
	if err != nil {
		return nil, false, ErrNotFound
	}
	if chainRec.Escalation == nil {
		return nil, false, fmt.Errorf("%w: chain %s was never escalated", ErrInvalidState, chainRec.ID)
	}

	var assignedNow bool
	c, committed, err := e.update(ctx, chainRec.ID, func(c *model.DispatchChain) error {
		esc := c.Escalation
		if esc == nil {
			return fmt.Errorf("%w: chain %s was never escalated", ErrInvalidState, c.ID)
		}
		// Terminal escalation states win over any later callback.
		if esc.Status == model.EscalationAssigned || esc.Status == model.EscalationFailed {
			return errUnchanged
		}
		now := e.clk.Now()
		esc.UpdatedAt = now
		if res.Matched {
			esc.Status = model.EscalationAssigned
			esc.AssignedCarrier = res.CarrierID
			esc.AssignedAt = &now
			c.Status = model.ChainCompleted
			c.AssignedCarrier = res.CarrierID
			c.FinalPrice = res.Price
			c.CompletedAt = &now
			assignedNow = true
		} else {
			esc.Status = model.EscalationFailed
			esc.FailureReason = res.Reason
			// The chain stays escalated: no automatic cascade restart.
		}
		return nil
	})
	if err != nil {
		return nil, false, err
	}
	if !committed {
		e.publish(events.BrokerCallback{ChainID: c.ID, OrderID: c.OrderID, ExternalID: res.ExternalID, Status: string(c.Escalation.Status), Replay: true})
		return c, true, nil
	}

	status := model.EscalationFailed
	if assignedNow {
		status = model.EscalationAssigned
		o, oerr := e.order(ctx, c.OrderID)
		if oerr == nil {
			if nerr := e.notifier.NotifyAssigned(ctx, o, c, res.CarrierID); nerr != nil {
				e.log.Errorf("notify broker assignment for order %s: %v", c.OrderID, nerr)
			}
		}
		price := 0.0
		if res.Price != nil {
			price = *res.Price
		}
		e.publish(events.ChainCompleted{ChainID: c.ID, OrderID: c.OrderID, CarrierID: res.CarrierID, FinalPrice: price, ViaBroker: true})
	}
	e.record(ctx, c.OrderID, "broker_callback", map[string]any{
		"chain_id": c.ID, "external_id": res.ExternalID, "status": string(status), "carrier_id": res.CarrierID, "reason": res.Reason,
	})
	if serr := e.sink.RecordEscalation(metrics.EscalationEvent{
		OrderID: c.OrderID, ChainID: c.ID, ExternalID: res.ExternalID,
		Status: string(status), Time: e.clk.Now(),
	}); serr != nil {
		e.log.Errorf("metrics error: %v", serr)
	}
	e.publish(events.BrokerCallback{ChainID: c.ID, OrderID: c.OrderID, ExternalID: res.ExternalID, Status: string(status)})
	e.log.Infof("broker callback for order %s applied: %s", c.OrderID, status)
	return c, false, nil
}
