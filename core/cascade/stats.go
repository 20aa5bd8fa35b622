package cascade

import (
	"gonum.org/v1/gonum/stat"

	"github.com/fluxfret/cascade/core/model"
)

// CarrierStats summarizes a carrier's historical cascade outcomes.
type CarrierStats struct {
	CarrierID   string  `json:"carrier_id"`
	Attempts    int     `json:"attempts"`
	Accepted    int     `json:"accepted"`
	SuccessRate float64 `json:"success_rate"`
}

// SuccessRates computes per-carrier acceptance rates over chain history.
// Only terminal attempts count; pending and sent attempts are ignored.
func SuccessRates(chains []*model.DispatchChain) map[string]CarrierStats {
	samples := map[string][]float64{}
	for _, c := range chains {
		for _, a := range c.Attempts {
			if !a.Status.Terminal() || a.Status == model.AttemptSkipped {
				continue
			}
			v := 0.0
			if a.Status == model.AttemptAccepted {
				v = 1.0
			}
			samples[a.CarrierID] = append(samples[a.CarrierID], v)
		}
	}
	out := make(map[string]CarrierStats, len(samples))
	for id, xs := range samples {
		accepted := 0
		for _, v := range xs {
			if v == 1.0 {
				accepted++
			}
		}
		out[id] = CarrierStats{
			CarrierID:   id,
			Attempts:    len(xs),
			Accepted:    accepted,
			SuccessRate: stat.Mean(xs, nil),
		}
	}
	return out
}
