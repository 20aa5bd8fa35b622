package chain

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/fluxfret/cascade/core/cascade"
	"github.com/fluxfret/cascade/core/events"
	"github.com/fluxfret/cascade/core/logger"
	"github.com/fluxfret/cascade/core/metrics"
	"github.com/fluxfret/cascade/core/model"
	"github.com/fluxfret/cascade/core/storage"
	"github.com/fluxfret/cascade/internal/clock"
	"github.com/fluxfret/cascade/internal/eventbus"
)

// casRetries bounds re-reads after losing a version race. Guards are
// re-evaluated on every fresh read, so retries never replay a stale write.
const casRetries = 3

// errUnchanged signals an idempotent no-op: the guard no longer holds but
// the outcome is the one the caller wanted.
var errUnchanged = errors.New("chain: unchanged")

// Engine drives all dispatch chain transitions.
type Engine struct {
	chains   storage.ChainStore
	orders   storage.OrderStore
	registry *cascade.Registry
	builder  *cascade.Builder
	notifier Notifier
	recorder Recorder
	broker   Broker
	clk      clock.Clock
	log      logger.Logger
	sink     metrics.Sink
	bus      eventbus.EventBus
}

// NewEngine creates an Engine. Store, registry, builder and notifier are
// mandatory; broker, recorder, metrics and bus may be nil.
func NewEngine(chains storage.ChainStore, orders storage.OrderStore, registry *cascade.Registry, builder *cascade.Builder,
	notifier Notifier, recorder Recorder, broker Broker, clk clock.Clock, log logger.Logger,
	sink metrics.Sink, bus eventbus.EventBus) (*Engine, error) {
	if chains == nil || orders == nil || registry == nil || builder == nil || notifier == nil {
		return nil, fmt.Errorf("chain: nil parameter provided to NewEngine")
	}
	if clk == nil {
		clk = clock.Real{}
	}
	if sink == nil {
		sink = metrics.NopSink{}
	}
	e := &Engine{
		chains:   chains,
		orders:   orders,
		registry: registry,
		builder:  builder,
		notifier: notifier,
		recorder: recorder,
		broker:   broker,
		clk:      clk,
		log:      log,
		sink:     sink,
		bus:      bus,
	}
	return e, nil
}

// update runs a conditional read-modify-write cycle. mutate sees a fresh
// copy of the chain on every iteration; when it returns errUnchanged the
// current state is returned with committed=false and no error.
func (e *Engine) update(ctx context.Context, chainID string, mutate func(*model.DispatchChain) error) (*model.DispatchChain, bool, error) {
	for i := 0; i < casRetries; i++ {
		c, err := e.chains.Get(ctx, chainID)
		if err != nil {
			if errors.Is(err, storage.ErrNotFound) {
				return nil, false, ErrNotFound
			}
			return nil, false, err
		}
		if err := mutate(c); err != nil {
			if errors.Is(err, errUnchanged) {
				return c, false, nil
			}
			return nil, false, err
		}
		c.UpdatedAt = e.clk.Now()
		err = e.chains.Update(ctx, c)
		if errors.Is(err, storage.ErrConflict) {
			continue
		}
		if err != nil {
			return nil, false, err
		}
		return c, true, nil
	}
	return nil, false, storage.ErrConflict
}

func (e *Engine) order(ctx context.Context, orderID string) (model.Order, error) {
	o, err := e.orders.Get(ctx, orderID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return model.Order{}, fmt.Errorf("%w: order %s", ErrNotFound, orderID)
		}
		return model.Order{}, err
	}
	return *o, nil
}

func (e *Engine) record(ctx context.Context, orderID, eventType string, payload map[string]any) {
	if e.recorder == nil {
		return
	}
	if err := e.recorder.Record(ctx, orderID, eventType, payload); err != nil {
		e.log.Errorf("audit record %s for order %s: %v", eventType, orderID, err)
	}
}

func (e *Engine) publish(ev eventbus.Event) {
	if e.bus != nil {
		e.bus.Publish(ev)
	}
}

func (e *Engine) recordAttemptMetric(c *model.DispatchChain, a model.DispatchAttempt) {
	ev := metrics.AttemptEvent{
		OrderID:   c.OrderID,
		ChainID:   c.ID,
		CarrierID: a.CarrierID,
		Position:  a.Position,
		Status:    string(a.Status),
		LaneID:    c.LaneID,
		Time:      e.clk.Now(),
	}
	if err := e.sink.RecordAttempt(ev); err != nil {
		e.log.Errorf("metrics error: %v", err)
	}
}

// DetectLane resolves the lane covering the order. ok is false when no lane
// matches, which is the normal trigger for direct escalation.
func (e *Engine) DetectLane(ctx context.Context, orderID string) (*model.Lane, bool, error) {
	o, err := e.order(ctx, orderID)
	if err != nil {
		return nil, false, err
	}
	return e.registry.Match(ctx, o)
}

// Generate creates the dispatch chain for an order. When laneID is empty the
// registry resolves the lane; an order with no matching lane gets an empty
// cascade and escalates directly on Start.
func (e *Engine) Generate(ctx context.Context, orderID, laneID string) (*model.DispatchChain, error) {
	o, err := e.order(ctx, orderID)
	if err != nil {
		return nil, err
	}
	var lane *model.Lane
	if laneID != "" {
		lane, err = e.registry.Get(ctx, laneID)
		if err != nil {
			if errors.Is(err, storage.ErrNotFound) {
				return nil, fmt.Errorf("%w: lane %s", ErrNotFound, laneID)
			}
			return nil, err
		}
	} else {
		var ok bool
		lane, ok, err = e.registry.Match(ctx, o)
		if err != nil {
			return nil, err
		}
		if !ok {
			lane = nil
		}
	}

	now := e.clk.Now()
	c := &model.DispatchChain{
		ID:           uuid.NewString(),
		OrderID:      o.ID,
		Status:       model.ChainPending,
		CurrentIndex: 0,
		AutoEscalate: true,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if lane != nil {
		c.LaneID = lane.ID
		c.AutoEscalate = lane.EscalateOnExhaustion
		c.Attempts = e.builder.Build(ctx, o, lane)
	}
	if err := e.chains.Create(ctx, c); err != nil {
		if errors.Is(err, storage.ErrDuplicate) {
			return nil, fmt.Errorf("%w: order %s", ErrChainExists, o.ID)
		}
		return nil, err
	}
	e.log.Infof("generated chain %s for order %s with %d attempts", c.ID, o.ID, len(c.Attempts))
	e.record(ctx, o.ID, "chain_generated", map[string]any{"chain_id": c.ID, "attempts": len(c.Attempts), "lane_id": c.LaneID})
	return c, nil
}

// Start sends the first attempt of a pending chain. A chain with an empty
// cascade goes straight to exhaustion handling without ever sending.
func (e *Engine) Start(ctx context.Context, chainID string) (*model.DispatchChain, error) {
	c, err := e.chains.Get(ctx, chainID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	if c.Status != model.ChainPending {
		return nil, fmt.Errorf("%w: chain %s is %s", ErrInvalidState, chainID, c.Status)
	}
	o, err := e.order(ctx, c.OrderID)
	if err != nil {
		return nil, err
	}
	if len(c.Attempts) == 0 {
		return e.handleExhaustion(ctx, chainID, o)
	}
	return e.sendCurrent(ctx, chainID, o)
}

// Resume re-drives an in_progress chain whose continuation was interrupted
// after a committed resolution: a pending current attempt is re-sent and a
// fully resolved cascade re-enters exhaustion handling. Both paths are
// idempotent under the usual guards, so racing with an in-flight
// continuation is harmless. Chains in any other shape are left untouched.
func (e *Engine) Resume(ctx context.Context, chainID string) (*model.DispatchChain, error) {
	c, err := e.chains.Get(ctx, chainID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	if c.Status != model.ChainInProgress {
		return c, nil
	}
	cur := c.Current()
	if cur != nil && cur.Status != model.AttemptPending {
		return c, nil
	}
	o, err := e.order(ctx, c.OrderID)
	if err != nil {
		return c, err
	}
	if cur != nil {
		e.log.Warnf("chain %s has attempt %d still pending; re-sending", c.ID, c.CurrentIndex)
		return e.sendCurrent(ctx, c.ID, o)
	}
	e.log.Warnf("chain %s has an exhausted cascade; re-entering exhaustion handling", c.ID)
	return e.handleExhaustion(ctx, c.ID, o)
}

// sendCurrent transitions the attempt at CurrentIndex from pending to sent
// and commits before any notification goes out.
func (e *Engine) sendCurrent(ctx context.Context, chainID string, o model.Order) (*model.DispatchChain, error) {
	var sent model.DispatchAttempt
	c, committed, err := e.update(ctx, chainID, func(c *model.DispatchChain) error {
		if c.Status != model.ChainPending && c.Status != model.ChainInProgress {
			return fmt.Errorf("%w: chain %s is %s", ErrInvalidState, c.ID, c.Status)
		}
		cur := c.Current()
		if cur == nil {
			return fmt.Errorf("%w: chain %s has no current attempt", ErrInvalidState, c.ID)
		}
		if cur.Status == model.AttemptSent {
			// Another writer already sent it; nothing to do.
			return errUnchanged
		}
		if cur.Status != model.AttemptPending {
			return fmt.Errorf("%w: attempt %d is %s", ErrInvalidState, c.CurrentIndex, cur.Status)
		}
		now := e.clk.Now()
		expires := now.Add(cur.Window())
		cur.Status = model.AttemptSent
		cur.SentAt = &now
		cur.ExpiresAt = &expires
		for _, ch := range cur.Channels {
			cur.Notifications = append(cur.Notifications, model.NotificationRecord{Channel: ch, Kind: "offer", SentAt: now})
		}
		if c.Status == model.ChainPending {
			c.Status = model.ChainInProgress
			c.StartedAt = &now
		}
		sent = *cur
		return nil
	})
	if err != nil || !committed {
		return c, err
	}

	if nerr := e.notifier.NotifyAttempt(ctx, o, c, sent, *sent.ExpiresAt); nerr != nil {
		// The transition is committed; the carrier can still respond via
		// other channels and the scheduler will time the attempt out.
		e.log.Errorf("notify attempt %d of chain %s: %v", sent.Position, c.ID, nerr)
	}
	e.record(ctx, c.OrderID, "attempt_sent", map[string]any{
		"chain_id": c.ID, "carrier_id": sent.CarrierID, "position": sent.Position, "expires_at": sent.ExpiresAt,
	})
	e.recordAttemptMetric(c, sent)
	e.publish(events.AttemptSent{ChainID: c.ID, OrderID: c.OrderID, CarrierID: sent.CarrierID, Position: sent.Position, ExpiresAt: *sent.ExpiresAt})
	e.log.Infof("sent attempt %d (carrier %s) for order %s, expires %s", sent.Position, sent.CarrierID, c.OrderID, sent.ExpiresAt)
	return c, nil
}

// CarrierStats computes per-carrier acceptance rates over the full chain
// history and refreshes the stored lane slots with the observed rates.
func (e *Engine) CarrierStats(ctx context.Context) (map[string]cascade.CarrierStats, error) {
	all, err := e.chains.List(ctx)
	if err != nil {
		return nil, err
	}
	stats := cascade.SuccessRates(all)
	if err := e.registry.ApplyStats(ctx, stats); err != nil {
		e.log.Errorf("refresh lane stats: %v", err)
	}
	return stats, nil
}

// Status returns the chain projection for an order.
func (e *Engine) Status(ctx context.Context, orderID string) (*model.DispatchChain, error) {
	c, err := e.chains.GetByOrder(ctx, orderID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return c, nil
}
