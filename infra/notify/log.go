package notify

import (
	"context"
	"time"

	"github.com/fluxfret/cascade/core/model"
	"github.com/fluxfret/cascade/infra/logger"
)

// LogNotifier logs notifications instead of delivering them. It is the
// default when no broker is configured.
type LogNotifier struct {
	log logger.Logger
}

// NewLogNotifier creates a LogNotifier.
func NewLogNotifier() *LogNotifier {
	return &LogNotifier{log: logger.New("notifier")}
}

func (n *LogNotifier) NotifyAttempt(_ context.Context, order model.Order, ch *model.DispatchChain, attempt model.DispatchAttempt, deadline time.Time) error {
	n.log.Infof("offer order=%s carrier=%s position=%d deadline=%s", order.ID, attempt.CarrierID, attempt.Position, deadline.Format(time.RFC3339))
	return nil
}

func (n *LogNotifier) NotifyReminder(_ context.Context, order model.Order, ch *model.DispatchChain, attempt model.DispatchAttempt, remaining time.Duration) error {
	n.log.Infof("reminder order=%s carrier=%s remaining=%s", order.ID, attempt.CarrierID, remaining)
	return nil
}

func (n *LogNotifier) NotifyAssigned(_ context.Context, order model.Order, ch *model.DispatchChain, carrierID string) error {
	n.log.Infof("assigned order=%s carrier=%s", order.ID, carrierID)
	return nil
}
