package storage

import (
	"context"
	"errors"
	"time"

	"github.com/fluxfret/cascade/core/model"
)

// ErrNotFound is returned when the requested record does not exist.
var ErrNotFound = errors.New("storage: not found")

// ErrConflict is returned when a conditional update loses a version race.
// Callers are expected to re-read and re-evaluate their state guard.
var ErrConflict = errors.New("storage: version conflict")

// ErrDuplicate is returned when a chain already exists for the order.
var ErrDuplicate = errors.New("storage: chain exists for order")

// ChainStore persists dispatch chains. Update is a compare-and-set on the
// chain Version: a write whose Version does not match the persisted record
// fails with ErrConflict and leaves the record untouched.
type ChainStore interface {
	Create(ctx context.Context, chain *model.DispatchChain) error
	Get(ctx context.Context, id string) (*model.DispatchChain, error)
	GetByOrder(ctx context.Context, orderID string) (*model.DispatchChain, error)
	Update(ctx context.Context, chain *model.DispatchChain) error
	// ListInProgress returns chains the scheduler must inspect: status
	// in_progress, ordered by the current attempt's deadline.
	ListInProgress(ctx context.Context) ([]*model.DispatchChain, error)
	// List returns every chain ordered by id, for history projections.
	List(ctx context.Context) ([]*model.DispatchChain, error)
}

// LaneStore persists cascade templates. Lanes are soft-deactivated, never
// hard-deleted while referenced by chain history.
type LaneStore interface {
	Put(ctx context.Context, lane *model.Lane) error
	Get(ctx context.Context, id string) (*model.Lane, error)
	List(ctx context.Context) ([]*model.Lane, error)
	Deactivate(ctx context.Context, id string) error
}

// OrderStore is the read side of the external order service. Put exists for
// seeding and tests; order CRUD is not this service's concern.
type OrderStore interface {
	Put(ctx context.Context, order *model.Order) error
	Get(ctx context.Context, id string) (*model.Order, error)
}

// EventRecord is one audit trail entry for an order.
type EventRecord struct {
	ID      string         `json:"id"`
	OrderID string         `json:"order_id"`
	Type    string         `json:"type"`
	Payload map[string]any `json:"payload,omitempty"`
	At      time.Time      `json:"at"`
}

// EventStore appends and reads the per-order audit trail.
type EventStore interface {
	Append(ctx context.Context, rec EventRecord) error
	ListByOrder(ctx context.Context, orderID string) ([]EventRecord, error)
}
