package cascade

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fluxfret/cascade/core/model"
	"github.com/fluxfret/cascade/core/storage"
)

func seedRegistry(t *testing.T, lanes ...*model.Lane) *Registry {
	t.Helper()
	r := NewRegistry(storage.NewMemoryLaneStore())
	require.NoError(t, r.Seed(context.Background(), lanes))
	return r
}

func lyonLane(id string) *model.Lane {
	return &model.Lane{
		ID:                   id,
		ShipperID:            "shipper-1",
		Origin:               model.GeoCriteria{City: "Lyon"},
		Destination:          model.GeoCriteria{Country: "FR"},
		DefaultWindowMinutes: 60,
		Active:               true,
		Carriers:             []model.LaneCarrier{{CarrierID: "c1", Position: 1, Active: true}},
	}
}

func TestRegistryMatchFirstActiveLane(t *testing.T) {
	inactive := lyonLane("lane-0")
	inactive.Active = false
	r := seedRegistry(t, inactive, lyonLane("lane-1"), lyonLane("lane-2"))

	order := model.Order{ID: "ord-1", ShipperID: "shipper-1", PickupCity: "Lyon", DeliveryCountry: "FR"}
	lane, ok, err := r.Match(context.Background(), order)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "lane-1", lane.ID)
}

func TestRegistryMatchRespectsShipper(t *testing.T) {
	r := seedRegistry(t, lyonLane("lane-1"))
	order := model.Order{ID: "ord-1", ShipperID: "other-shipper", PickupCity: "Lyon", DeliveryCountry: "FR"}
	_, ok, err := r.Match(context.Background(), order)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestRegistryApplyStats(t *testing.T) {
	lane := lyonLane("lane-1")
	lane.Carriers = append(lane.Carriers, model.LaneCarrier{CarrierID: "c2", Position: 2, Active: true})
	r := seedRegistry(t, lane, lyonLane("lane-2"))

	stats := map[string]CarrierStats{
		"c1": {CarrierID: "c1", Attempts: 4, Accepted: 3, SuccessRate: 0.75},
	}
	require.NoError(t, r.ApplyStats(context.Background(), stats))

	got, err := r.Get(context.Background(), "lane-1")
	require.NoError(t, err)
	assert.Equal(t, 0.75, got.Carriers[0].SuccessRate)
	// Carriers without history keep their stored rate.
	assert.Equal(t, 0.0, got.Carriers[1].SuccessRate)
}

func TestRegistryMatchPostalPrefix(t *testing.T) {
	lane := lyonLane("lane-1")
	lane.Origin = model.GeoCriteria{PostalPrefix: "69"}
	r := seedRegistry(t, lane)

	order := model.Order{ID: "ord-1", ShipperID: "shipper-1", PickupPostal: "69007", DeliveryCountry: "FR"}
	_, ok, err := r.Match(context.Background(), order)
	require.NoError(t, err)
	assert.True(t, ok)

	order.PickupPostal = "75001"
	_, ok, err = r.Match(context.Background(), order)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestSeedNormalizesPositions(t *testing.T) {
	lane := lyonLane("lane-1")
	lane.Carriers = []model.LaneCarrier{
		{CarrierID: "c9", Position: 9, Active: true},
		{CarrierID: "c3", Position: 3, Active: true},
	}
	r := seedRegistry(t, lane)

	got, err := r.Get(context.Background(), "lane-1")
	require.NoError(t, err)
	require.Len(t, got.Carriers, 2)
	assert.Equal(t, "c3", got.Carriers[0].CarrierID)
	assert.Equal(t, 1, got.Carriers[0].Position)
	assert.Equal(t, 2, got.Carriers[1].Position)
}

func TestSeedRejectsInvalidLane(t *testing.T) {
	r := NewRegistry(storage.NewMemoryLaneStore())
	err := r.Seed(context.Background(), []*model.Lane{{ID: "bad"}})
	assert.Error(t, err)

	dup := lyonLane("lane-1")
	dup.Carriers = append(dup.Carriers, model.LaneCarrier{CarrierID: "c1", Position: 2, Active: true})
	err = r.Seed(context.Background(), []*model.Lane{dup})
	assert.Error(t, err)
}

func TestLoadLanesYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "lanes.yaml")
	data := `
lanes:
  - id: lane-1
    name: Lyon to Paris
    origin:
      city: Lyon
    default_window_minutes: 45
    active: true
    carriers:
      - carrier_id: c1
        position: 1
        active: true
`
	require.NoError(t, os.WriteFile(path, []byte(data), 0o600))

	lanes, err := LoadLanes(path)
	require.NoError(t, err)
	require.Len(t, lanes, 1)
	assert.Equal(t, "lane-1", lanes[0].ID)
	assert.Equal(t, 45, lanes[0].DefaultWindowMinutes)
	require.Len(t, lanes[0].Carriers, 1)
	assert.Equal(t, "c1", lanes[0].Carriers[0].CarrierID)
}
