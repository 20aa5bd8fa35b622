package metrics

import (
	"context"

	"github.com/fluxfret/cascade/core/events"
	coremetrics "github.com/fluxfret/cascade/core/metrics"
	"github.com/fluxfret/cascade/internal/eventbus"
)

// StartEventCollector subscribes to the event bus and counts dispatch events
// by type on the sink. It stops when the context is canceled or the bus is
// closed.
func StartEventCollector(ctx context.Context, bus eventbus.EventBus, sink coremetrics.Sink) {
	if bus == nil || sink == nil {
		return
	}
	rec, ok := sink.(coremetrics.BusEventRecorder)
	if !ok {
		return
	}
	sub := bus.Subscribe()
	go func() {
		defer bus.Unsubscribe(sub)
		for {
			select {
			case <-ctx.Done():
				return
			case ev, open := <-sub:
				if !open {
					return
				}
				if t := eventType(ev); t != "" {
					_ = rec.RecordBusEvent(t)
				}
			}
		}
	}()
}

func eventType(ev eventbus.Event) string {
	switch ev.(type) {
	case events.AttemptSent:
		return "attempt_sent"
	case events.ReminderSent:
		return "reminder_sent"
	case events.AttemptResolved:
		return "attempt_resolved"
	case events.ChainCompleted:
		return "chain_completed"
	case events.ChainEscalated:
		return "chain_escalated"
	case events.ChainExhausted:
		return "chain_exhausted"
	case events.ChainCancelled:
		return "chain_cancelled"
	case events.BrokerCallback:
		return "broker_callback"
	default:
		return ""
	}
}
