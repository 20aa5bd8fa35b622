package cascade

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fluxfret/cascade/core/model"
)

func TestSuccessRates(t *testing.T) {
	chains := []*model.DispatchChain{
		{Attempts: []model.DispatchAttempt{
			{CarrierID: "c1", Status: model.AttemptRefused},
			{CarrierID: "c2", Status: model.AttemptAccepted},
		}},
		{Attempts: []model.DispatchAttempt{
			{CarrierID: "c1", Status: model.AttemptAccepted},
			{CarrierID: "c2", Status: model.AttemptSent},
			{CarrierID: "c3", Status: model.AttemptSkipped},
		}},
	}

	stats := SuccessRates(chains)
	require.Contains(t, stats, "c1")
	assert.Equal(t, 2, stats["c1"].Attempts)
	assert.Equal(t, 1, stats["c1"].Accepted)
	assert.InDelta(t, 0.5, stats["c1"].SuccessRate, 1e-9)

	// The in-flight attempt does not count.
	assert.Equal(t, 1, stats["c2"].Attempts)
	assert.InDelta(t, 1.0, stats["c2"].SuccessRate, 1e-9)

	// Skips never touch the rate.
	assert.NotContains(t, stats, "c3")
}
