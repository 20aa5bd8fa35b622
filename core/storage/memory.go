package storage

import (
	"context"
	"encoding/json"
	"sort"
	"sync"
	"time"

	"github.com/fluxfret/cascade/core/model"
)

func cloneChain(c *model.DispatchChain) *model.DispatchChain {
	b, _ := json.Marshal(c)
	var out model.DispatchChain
	_ = json.Unmarshal(b, &out)
	return &out
}

func cloneLane(l *model.Lane) *model.Lane {
	b, _ := json.Marshal(l)
	var out model.Lane
	_ = json.Unmarshal(b, &out)
	return &out
}

// MemoryChainStore is an in-memory ChainStore for tests and single-node
// deployments.
type MemoryChainStore struct {
	mu      sync.RWMutex
	chains  map[string]*model.DispatchChain
	byOrder map[string]string
}

// NewMemoryChainStore creates an empty MemoryChainStore.
func NewMemoryChainStore() *MemoryChainStore {
	return &MemoryChainStore{chains: map[string]*model.DispatchChain{}, byOrder: map[string]string{}}
}

// Create stores a new chain, enforcing the one-chain-per-order constraint.
func (m *MemoryChainStore) Create(_ context.Context, chain *model.DispatchChain) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.byOrder[chain.OrderID]; ok {
		return ErrDuplicate
	}
	chain.Version = 1
	m.chains[chain.ID] = cloneChain(chain)
	m.byOrder[chain.OrderID] = chain.ID
	return nil
}

// Get returns the chain with the given id.
func (m *MemoryChainStore) Get(_ context.Context, id string) (*model.DispatchChain, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.chains[id]
	if !ok {
		return nil, ErrNotFound
	}
	return cloneChain(c), nil
}

// GetByOrder returns the chain owning the given order.
func (m *MemoryChainStore) GetByOrder(_ context.Context, orderID string) (*model.DispatchChain, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	id, ok := m.byOrder[orderID]
	if !ok {
		return nil, ErrNotFound
	}
	return cloneChain(m.chains[id]), nil
}

// Update applies a compare-and-set write. On success the chain's Version is
// incremented in place so the caller holds the committed state.
func (m *MemoryChainStore) Update(_ context.Context, chain *model.DispatchChain) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cur, ok := m.chains[chain.ID]
	if !ok {
		return ErrNotFound
	}
	if cur.Version != chain.Version {
		return ErrConflict
	}
	chain.Version++
	m.chains[chain.ID] = cloneChain(chain)
	return nil
}

// ListInProgress returns in-progress chains ordered by current deadline.
func (m *MemoryChainStore) ListInProgress(_ context.Context) ([]*model.DispatchChain, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*model.DispatchChain
	for _, c := range m.chains {
		if c.Status == model.ChainInProgress {
			out = append(out, cloneChain(c))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		ei, ej := out[i].NextExpiry(), out[j].NextExpiry()
		switch {
		case ei == nil:
			return false
		case ej == nil:
			return true
		default:
			return ei.Before(*ej)
		}
	})
	return out, nil
}

// List returns all chains ordered by id.
func (m *MemoryChainStore) List(_ context.Context) ([]*model.DispatchChain, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*model.DispatchChain, 0, len(m.chains))
	for _, c := range m.chains {
		out = append(out, cloneChain(c))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// MemoryLaneStore is an in-memory LaneStore.
type MemoryLaneStore struct {
	mu    sync.RWMutex
	lanes map[string]*model.Lane
}

// NewMemoryLaneStore creates an empty MemoryLaneStore.
func NewMemoryLaneStore() *MemoryLaneStore {
	return &MemoryLaneStore{lanes: map[string]*model.Lane{}}
}

// Put stores a lane template.
func (m *MemoryLaneStore) Put(_ context.Context, lane *model.Lane) error {
	m.mu.Lock()
	m.lanes[lane.ID] = cloneLane(lane)
	m.mu.Unlock()
	return nil
}

// Get returns the lane with the given id.
func (m *MemoryLaneStore) Get(_ context.Context, id string) (*model.Lane, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	l, ok := m.lanes[id]
	if !ok {
		return nil, ErrNotFound
	}
	return cloneLane(l), nil
}

// List returns all lanes, active or not, ordered by id.
func (m *MemoryLaneStore) List(_ context.Context) ([]*model.Lane, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*model.Lane, 0, len(m.lanes))
	for _, l := range m.lanes {
		out = append(out, cloneLane(l))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// Deactivate soft-deletes a lane.
func (m *MemoryLaneStore) Deactivate(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	l, ok := m.lanes[id]
	if !ok {
		return ErrNotFound
	}
	l.Active = false
	return nil
}

// MemoryOrderStore is an in-memory OrderStore.
type MemoryOrderStore struct {
	mu     sync.RWMutex
	orders map[string]*model.Order
}

// NewMemoryOrderStore creates an empty MemoryOrderStore.
func NewMemoryOrderStore() *MemoryOrderStore {
	return &MemoryOrderStore{orders: map[string]*model.Order{}}
}

// Put stores an order fact for lookup.
func (m *MemoryOrderStore) Put(_ context.Context, order *model.Order) error {
	m.mu.Lock()
	o := *order
	o.Constraints = append([]string(nil), order.Constraints...)
	m.orders[order.ID] = &o
	m.mu.Unlock()
	return nil
}

// Get returns the order with the given id.
func (m *MemoryOrderStore) Get(_ context.Context, id string) (*model.Order, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	o, ok := m.orders[id]
	if !ok {
		return nil, ErrNotFound
	}
	out := *o
	return &out, nil
}

// MemoryEventStore is an in-memory EventStore.
type MemoryEventStore struct {
	mu     sync.RWMutex
	events []EventRecord
}

// NewMemoryEventStore creates an empty MemoryEventStore.
func NewMemoryEventStore() *MemoryEventStore { return &MemoryEventStore{} }

// Append adds an audit record.
func (m *MemoryEventStore) Append(_ context.Context, rec EventRecord) error {
	m.mu.Lock()
	if rec.At.IsZero() {
		rec.At = time.Now()
	}
	m.events = append(m.events, rec)
	m.mu.Unlock()
	return nil
}

// ListByOrder returns the audit trail of one order in append order.
func (m *MemoryEventStore) ListByOrder(_ context.Context, orderID string) ([]EventRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []EventRecord
	for _, e := range m.events {
		if e.OrderID == orderID {
			out = append(out, e)
		}
	}
	return out, nil
}
