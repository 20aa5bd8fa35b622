package simulator

import (
	"context"
	"fmt"
	"time"

	"github.com/fluxfret/cascade/core/chain"
	"github.com/fluxfret/cascade/core/model"
	"github.com/fluxfret/cascade/internal/clock"
)

// Simulator runs a chain to a terminal state by answering each sent attempt
// with the owning carrier's strategy. Non-responding carriers are resolved
// by advancing the fake clock past the attempt deadline and firing the same
// timeout path the scheduler uses.
type Simulator struct {
	engine     *chain.Engine
	clk        *clock.Fake
	strategies map[string]Strategy
	fallback   Strategy
}

// New creates a Simulator. fallback applies to carriers without an explicit
// strategy; a nil fallback means those carriers never respond.
func New(engine *chain.Engine, clk *clock.Fake, fallback Strategy) *Simulator {
	if fallback == nil {
		fallback = NeverRespond{}
	}
	return &Simulator{
		engine:     engine,
		clk:        clk,
		strategies: make(map[string]Strategy),
		fallback:   fallback,
	}
}

// SetStrategy scripts one carrier's behavior.
func (s *Simulator) SetStrategy(carrierID string, strat Strategy) {
	s.strategies[carrierID] = strat
}

// Run answers sent attempts until the chain for the order reaches a terminal
// state, then returns it. The iteration bound defends against a chain that
// never advances.
func (s *Simulator) Run(ctx context.Context, orderID string) (*model.DispatchChain, error) {
	for i := 0; ; i++ {
		c, err := s.engine.Status(ctx, orderID)
		if err != nil {
			return nil, err
		}
		if c.Status.Terminal() {
			return c, nil
		}
		if i > len(c.Attempts)+1 {
			return c, fmt.Errorf("simulator: chain %s did not terminate after %d steps", c.ID, i)
		}
		cur := c.Current()
		if cur == nil || cur.Status != model.AttemptSent {
			return c, fmt.Errorf("simulator: chain %s stuck in %s with no sent attempt", c.ID, c.Status)
		}
		if err := s.answer(ctx, c, *cur); err != nil {
			return nil, err
		}
	}
}

func (s *Simulator) answer(ctx context.Context, c *model.DispatchChain, cur model.DispatchAttempt) error {
	strat, ok := s.strategies[cur.CarrierID]
	if !ok {
		strat = s.fallback
	}
	resp, responds := strat.Respond(cur)
	if !responds {
		s.clk.Advance(cur.Window() + time.Second)
		_, err := s.engine.Timeout(ctx, c.ID, c.CurrentIndex)
		return err
	}
	if resp.Accept {
		_, err := s.engine.Accept(ctx, c.ID, cur.CarrierID, resp.ProposedPrice)
		return err
	}
	_, err := s.engine.Refuse(ctx, c.ID, cur.CarrierID, resp.RefusalReason)
	return err
}
