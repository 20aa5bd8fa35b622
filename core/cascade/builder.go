package cascade

import (
	"context"

	"github.com/fluxfret/cascade/core/logger"
	"github.com/fluxfret/cascade/core/model"
)

// ScoreProvider supplies the current carrier score computed by the external
// scoring service. The boolean is false when no score is known.
type ScoreProvider interface {
	CurrentScore(ctx context.Context, carrierID string) (float64, bool)
}

// Builder turns a lane's carrier list into an ordered attempt sequence for
// one order.
type Builder struct {
	scores ScoreProvider
	log    logger.Logger
}

// NewBuilder creates a Builder using the given score provider.
func NewBuilder(scores ScoreProvider, log logger.Logger) *Builder {
	return &Builder{scores: scores, log: log}
}

// Build filters the lane's cascade down to eligible carriers and produces
// attempts in lane position order. An empty result is a normal outcome and
// signals direct escalation.
//
// A slot is eligible when it is active, the carrier covers every constraint
// the order requires, and the carrier's current score meets the resolved
// threshold. A carrier with no known score is ineligible.
func (b *Builder) Build(ctx context.Context, order model.Order, lane *model.Lane) []model.DispatchAttempt {
	var attempts []model.DispatchAttempt
	for _, slot := range lane.Carriers {
		if !slot.Active {
			continue
		}
		if !coversConstraints(slot, order) {
			b.log.Debugf("carrier %s skipped: missing capability for order %s", slot.CarrierID, order.ID)
			continue
		}
		score, ok := b.scores.CurrentScore(ctx, slot.CarrierID)
		if !ok {
			b.log.Debugf("carrier %s skipped: no score available", slot.CarrierID)
			continue
		}
		if score < slot.ResolveMinScore(lane.DefaultMinScore) {
			b.log.Debugf("carrier %s skipped: score %.2f below threshold", slot.CarrierID, score)
			continue
		}
		channels := slot.Channels
		if len(channels) == 0 {
			channels = lane.Channels
		}
		attempts = append(attempts, model.DispatchAttempt{
			CarrierID:     slot.CarrierID,
			CarrierName:   slot.CarrierName,
			Position:      len(attempts) + 1,
			Status:        model.AttemptPending,
			Channels:      append([]string(nil), channels...),
			WindowMinutes: int(slot.ResolveWindow(lane.DefaultWindowMinutes).Minutes()),
		})
		if lane.MaxAttempts > 0 && len(attempts) >= lane.MaxAttempts {
			break
		}
	}
	return attempts
}

func coversConstraints(slot model.LaneCarrier, order model.Order) bool {
	if len(order.Constraints) == 0 {
		return true
	}
	caps := map[string]bool{}
	for _, c := range slot.Capabilities {
		caps[c] = true
	}
	for _, req := range order.Constraints {
		if !caps[req] {
			return false
		}
	}
	return true
}
