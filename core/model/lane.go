package model

import (
	"sort"
	"strings"
	"time"
)

// GeoCriteria defines how a lane matches an order's origin or destination.
// Empty fields are wildcards. Radius is configuration data consumed by
// external geo services; matching here only uses the textual criteria.
type GeoCriteria struct {
	City         string  `json:"city,omitempty"`
	PostalPrefix string  `json:"postal_prefix,omitempty"`
	Region       string  `json:"region,omitempty"`
	Country      string  `json:"country,omitempty"`
	RadiusKm     float64 `json:"radius_km,omitempty"`
}

// Matches reports whether the given location attributes satisfy the criteria.
func (g GeoCriteria) Matches(city, postal, region, country string) bool {
	if g.City != "" && !strings.EqualFold(g.City, city) {
		return false
	}
	if g.PostalPrefix != "" && !strings.HasPrefix(postal, g.PostalPrefix) {
		return false
	}
	if g.Region != "" && !strings.EqualFold(g.Region, region) {
		return false
	}
	if g.Country != "" && !strings.EqualFold(g.Country, country) {
		return false
	}
	return true
}

// LaneCarrier is one slot in a lane's cascade.
type LaneCarrier struct {
	CarrierID            string   `json:"carrier_id"`
	CarrierName          string   `json:"carrier_name,omitempty"`
	Position             int      `json:"position"`
	Channels             []string `json:"channels,omitempty"`     // overrides lane channels when set
	Capabilities         []string `json:"capabilities,omitempty"` // constraints the carrier can serve
	MinScore             *float64 `json:"min_score,omitempty"`
	ResponseDelayMinutes *int     `json:"response_delay_minutes,omitempty"`
	Active               bool     `json:"active"`
	SuccessRate          float64  `json:"success_rate,omitempty"`
}

// ResolveWindow returns the response window for this slot, falling back to
// the lane default. The result is always positive.
func (c LaneCarrier) ResolveWindow(laneDefault int) time.Duration {
	minutes := laneDefault
	if c.ResponseDelayMinutes != nil && *c.ResponseDelayMinutes > 0 {
		minutes = *c.ResponseDelayMinutes
	}
	if minutes <= 0 {
		minutes = 60
	}
	return time.Duration(minutes) * time.Minute
}

// ResolveMinScore returns the eligibility threshold for this slot, falling
// back to the lane default.
func (c LaneCarrier) ResolveMinScore(laneDefault float64) float64 {
	if c.MinScore != nil {
		return *c.MinScore
	}
	return laneDefault
}

// Lane is a reusable cascade template owned by a shipper.
type Lane struct {
	ID                   string        `json:"id"`
	ShipperID            string        `json:"shipper_id"`
	Name                 string        `json:"name"`
	Origin               GeoCriteria   `json:"origin"`
	Destination          GeoCriteria   `json:"destination"`
	MerchandiseTypes     []string      `json:"merchandise_types,omitempty"` // empty means any
	RequiredConstraints  []string      `json:"required_constraints,omitempty"`
	Carriers             []LaneCarrier `json:"carriers"`
	AutoDispatch         bool          `json:"auto_dispatch"`
	EscalateOnExhaustion bool          `json:"escalate_on_exhaustion"`
	MaxAttempts          int           `json:"max_attempts,omitempty"`
	DefaultWindowMinutes int           `json:"default_window_minutes"`
	DefaultMinScore      float64       `json:"default_min_score"`
	Channels             []string      `json:"channels,omitempty"`
	Active               bool          `json:"active"`
}

// MatchesOrder reports whether the lane covers the order's geography and
// merchandise type.
func (l Lane) MatchesOrder(o Order) bool {
	if !l.Active {
		return false
	}
	if !l.Origin.Matches(o.PickupCity, o.PickupPostal, o.PickupRegion, o.PickupCountry) {
		return false
	}
	if !l.Destination.Matches(o.DeliveryCity, o.DeliveryPostal, o.DeliveryRegion, o.DeliveryCountry) {
		return false
	}
	if len(l.MerchandiseTypes) > 0 {
		found := false
		for _, m := range l.MerchandiseTypes {
			if strings.EqualFold(m, o.MerchandiseType) {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}

// Normalize sorts carriers by position and re-densifies positions to a
// gapless 1..N sequence. It must be called after any cascade mutation.
func (l *Lane) Normalize() {
	sort.SliceStable(l.Carriers, func(i, j int) bool {
		return l.Carriers[i].Position < l.Carriers[j].Position
	})
	for i := range l.Carriers {
		l.Carriers[i].Position = i + 1
	}
}
