// Package audit persists dispatch lifecycle events for traceability.
package audit

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/fluxfret/cascade/core/storage"
	"github.com/fluxfret/cascade/internal/clock"
)

// Recorder writes audit events to an event store. It satisfies the engine's
// Recorder port.
type Recorder struct {
	events storage.EventStore
	clk    clock.Clock
}

// NewRecorder creates a Recorder. The clock defaults to the real clock.
func NewRecorder(events storage.EventStore, clk clock.Clock) (*Recorder, error) {
	if events == nil {
		return nil, fmt.Errorf("audit: nil event store")
	}
	if clk == nil {
		clk = clock.Real{}
	}
	return &Recorder{events: events, clk: clk}, nil
}

// Record appends one event for the order.
func (r *Recorder) Record(ctx context.Context, orderID, eventType string, payload map[string]any) error {
	ev := storage.EventRecord{
		ID:      uuid.NewString(),
		OrderID: orderID,
		Type:    eventType,
		Payload: payload,
		At:      r.clk.Now(),
	}
	return r.events.Append(ctx, ev)
}
