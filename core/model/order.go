package model

import "time"

// Order carries the facts about a transport order that dispatching needs.
// Order lifecycle management lives outside this service; we only read.
type Order struct {
	ID              string    `json:"id"`
	ShipperID       string    `json:"shipper_id"`
	Reference       string    `json:"reference"`
	PickupCity      string    `json:"pickup_city"`
	PickupPostal    string    `json:"pickup_postal"`
	PickupRegion    string    `json:"pickup_region"`
	PickupCountry   string    `json:"pickup_country"`
	DeliveryCity    string    `json:"delivery_city"`
	DeliveryPostal  string    `json:"delivery_postal"`
	DeliveryRegion  string    `json:"delivery_region"`
	DeliveryCountry string    `json:"delivery_country"`
	MerchandiseType string    `json:"merchandise_type"`
	Constraints     []string  `json:"constraints,omitempty"` // e.g. tailgate, ADR, frigo
	WeightKg        float64   `json:"weight_kg"`
	PickupAt        time.Time `json:"pickup_at"`
	DeliveryBy      time.Time `json:"delivery_by"`
}

// HasConstraint reports whether the order requires the given constraint.
func (o Order) HasConstraint(c string) bool {
	for _, v := range o.Constraints {
		if v == c {
			return true
		}
	}
	return false
}
