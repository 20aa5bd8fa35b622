package chain

import (
	"context"
	"time"

	"github.com/fluxfret/cascade/core/model"
)

// Notifier delivers carrier-facing notifications. Content rendering is the
// notifier's concern; the engine only states what happened and by when a
// response is expected.
type Notifier interface {
	NotifyAttempt(ctx context.Context, order model.Order, chain *model.DispatchChain, attempt model.DispatchAttempt, deadline time.Time) error
	NotifyReminder(ctx context.Context, order model.Order, chain *model.DispatchChain, attempt model.DispatchAttempt, remaining time.Duration) error
	NotifyAssigned(ctx context.Context, order model.Order, chain *model.DispatchChain, carrierID string) error
}

// Recorder appends audit events. Recording failures are logged, never
// allowed to fail a transition that already committed.
type Recorder interface {
	Record(ctx context.Context, orderID, eventType string, payload map[string]any) error
}

// Broker submits exhausted chains to the external brokerage service.
type Broker interface {
	// Submit hands the order to the broker and returns its external id.
	Submit(ctx context.Context, order model.Order) (string, error)
	// Cancel best-effort cancels an outstanding broker request.
	Cancel(ctx context.Context, externalID, reason string) error
}

// BrokerResult is the normalized content of an asynchronous broker callback.
type BrokerResult struct {
	ExternalID string
	OrderID    string
	Matched    bool
	CarrierID  string
	Price      *float64
	Reason     string
}
