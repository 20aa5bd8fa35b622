package audit

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fluxfret/cascade/core/storage"
	"github.com/fluxfret/cascade/internal/clock"
)

func TestRecorderAppendsEvents(t *testing.T) {
	events := storage.NewMemoryEventStore()
	clk := clock.NewFake(time.Date(2026, 2, 28, 12, 0, 0, 0, time.UTC))
	rec, err := NewRecorder(events, clk)
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, rec.Record(ctx, "ord-1", "attempt_sent", map[string]any{"carrier_id": "c1"}))
	clk.Advance(time.Minute)
	require.NoError(t, rec.Record(ctx, "ord-1", "attempt_refused", nil))

	recs, err := events.ListByOrder(ctx, "ord-1")
	require.NoError(t, err)
	require.Len(t, recs, 2)
	assert.Equal(t, "attempt_sent", recs[0].Type)
	assert.Equal(t, "c1", recs[0].Payload["carrier_id"])
	assert.NotEmpty(t, recs[0].ID)
	assert.True(t, recs[1].At.After(recs[0].At))
}

func TestRecorderRequiresStore(t *testing.T) {
	_, err := NewRecorder(nil, nil)
	assert.Error(t, err)
}
