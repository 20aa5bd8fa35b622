package cascade

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/knadh/koanf/parsers/json"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"

	"github.com/fluxfret/cascade/core/model"
	"github.com/fluxfret/cascade/core/storage"
)

// Registry resolves lanes for orders on top of a LaneStore.
type Registry struct {
	lanes storage.LaneStore
}

// NewRegistry creates a Registry backed by the given store.
func NewRegistry(lanes storage.LaneStore) *Registry {
	return &Registry{lanes: lanes}
}

// Match returns the first active lane covering the order, in lane id order.
// A missing match is a normal outcome, not an error: it triggers direct
// escalation upstream.
func (r *Registry) Match(ctx context.Context, order model.Order) (*model.Lane, bool, error) {
	lanes, err := r.lanes.List(ctx)
	if err != nil {
		return nil, false, err
	}
	for _, l := range lanes {
		if l.ShipperID != "" && order.ShipperID != "" && l.ShipperID != order.ShipperID {
			continue
		}
		if l.MatchesOrder(order) {
			return l, true, nil
		}
	}
	return nil, false, nil
}

// Get returns a lane by id.
func (r *Registry) Get(ctx context.Context, id string) (*model.Lane, error) {
	return r.lanes.Get(ctx, id)
}

// Seed stores the given lanes after normalizing their cascades.
func (r *Registry) Seed(ctx context.Context, lanes []*model.Lane) error {
	for _, l := range lanes {
		l.Normalize()
		if err := validateLane(l); err != nil {
			return fmt.Errorf("lane %s: %w", l.ID, err)
		}
		if err := r.lanes.Put(ctx, l); err != nil {
			return err
		}
	}
	return nil
}

// ApplyStats writes observed per-carrier success rates back into the stored
// lane slots so lane projections reflect cascade history.
func (r *Registry) ApplyStats(ctx context.Context, stats map[string]CarrierStats) error {
	lanes, err := r.lanes.List(ctx)
	if err != nil {
		return err
	}
	for _, l := range lanes {
		changed := false
		for i := range l.Carriers {
			st, ok := stats[l.Carriers[i].CarrierID]
			if !ok {
				continue
			}
			l.Carriers[i].SuccessRate = st.SuccessRate
			changed = true
		}
		if !changed {
			continue
		}
		if err := r.lanes.Put(ctx, l); err != nil {
			return err
		}
	}
	return nil
}

func validateLane(l *model.Lane) error {
	if l.ID == "" {
		return fmt.Errorf("id is required")
	}
	if l.DefaultWindowMinutes <= 0 {
		return fmt.Errorf("default_window_minutes must be positive")
	}
	seen := map[string]bool{}
	for _, c := range l.Carriers {
		if c.CarrierID == "" {
			return fmt.Errorf("carrier id is required")
		}
		if seen[c.CarrierID] {
			return fmt.Errorf("duplicate carrier %s", c.CarrierID)
		}
		seen[c.CarrierID] = true
	}
	return nil
}

type fixtures struct {
	Lanes []*model.Lane `json:"lanes"`
}

// LoadLanes reads lane fixtures from a JSON or YAML file.
func LoadLanes(path string) ([]*model.Lane, error) {
	k := koanf.New(".")
	var parser koanf.Parser
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		parser = yaml.Parser()
	case ".json":
		parser = json.Parser()
	default:
		return nil, fmt.Errorf("unsupported fixture format: %s", filepath.Ext(path))
	}
	if err := k.Load(file.Provider(path), parser); err != nil {
		return nil, err
	}
	var f fixtures
	if err := k.UnmarshalWithConf("", &f, koanf.UnmarshalConf{Tag: "json"}); err != nil {
		return nil, err
	}
	return f.Lanes, nil
}
