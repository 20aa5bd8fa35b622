package affretia

import (
	"fmt"
	"time"

	"github.com/fluxfret/cascade/core/chain"
	"github.com/fluxfret/cascade/core/model"
)

// Urgency levels understood by the Affretia API.
const (
	UrgencyStandard = "standard"
	UrgencyExpress  = "express"
	UrgencyUrgent   = "urgent"
)

// UrgencyFor derives the request urgency from the time left until pickup.
func UrgencyFor(pickup, now time.Time) string {
	left := pickup.Sub(now)
	switch {
	case left <= 6*time.Hour:
		return UrgencyUrgent
	case left <= 24*time.Hour:
		return UrgencyExpress
	default:
		return UrgencyStandard
	}
}

// submitRequest is the order payload sent to the broker.
type submitRequest struct {
	ExternalOrderID string   `json:"externalOrderId"`
	PickupCity      string   `json:"pickupCity"`
	PickupPostal    string   `json:"pickupPostal"`
	PickupCountry   string   `json:"pickupCountry"`
	DeliveryCity    string   `json:"deliveryCity"`
	DeliveryPostal  string   `json:"deliveryPostal"`
	DeliveryCountry string   `json:"deliveryCountry"`
	MerchandiseType string   `json:"merchandiseType"`
	Constraints     []string `json:"constraints,omitempty"`
	WeightKg        float64  `json:"weightKg"`
	PickupAt        string   `json:"pickupAt"`
	DeliveryBy      string   `json:"deliveryBy"`
	Urgency         string   `json:"urgency"`
}

func newSubmitRequest(o model.Order, now time.Time) submitRequest {
	return submitRequest{
		ExternalOrderID: o.ID,
		PickupCity:      o.PickupCity,
		PickupPostal:    o.PickupPostal,
		PickupCountry:   o.PickupCountry,
		DeliveryCity:    o.DeliveryCity,
		DeliveryPostal:  o.DeliveryPostal,
		DeliveryCountry: o.DeliveryCountry,
		MerchandiseType: o.MerchandiseType,
		Constraints:     o.Constraints,
		WeightKg:        o.WeightKg,
		PickupAt:        o.PickupAt.Format(time.RFC3339),
		DeliveryBy:      o.DeliveryBy.Format(time.RFC3339),
		Urgency:         UrgencyFor(o.PickupAt, now),
	}
}

type submitResponse struct {
	OrderID string `json:"orderId"`
	Status  string `json:"status"`
}

// StatusResponse is the broker-side view of an escalated order.
type StatusResponse struct {
	OrderID string           `json:"orderId"`
	Status  string           `json:"status"` // pending, in_progress, assigned, failed
	Carrier *CallbackCarrier `json:"carrier,omitempty"`
	Reason  string           `json:"reason,omitempty"`
}

// CallbackCarrier identifies the carrier sourced by the broker.
type CallbackCarrier struct {
	ID    string   `json:"id"`
	Name  string   `json:"name,omitempty"`
	Price *float64 `json:"price,omitempty"`
}

// CallbackPayload is the webhook body the broker posts back. Unknown status
// values pass Validate so forward-compatible payloads can be acknowledged
// and logged instead of rejected; only known terminal statuses are applied.
type CallbackPayload struct {
	AffretiaOrderID string           `json:"affretiaOrderId"`
	ExternalOrderID string           `json:"externalOrderId"`
	Status          string           `json:"status"` // matched | failed
	Carrier         *CallbackCarrier `json:"carrier,omitempty"`
	Reason          string           `json:"reason,omitempty"`
}

// Validate checks the payload identity fields.
func (p CallbackPayload) Validate() error {
	if p.AffretiaOrderID == "" {
		return fmt.Errorf("affretiaOrderId is required")
	}
	if p.ExternalOrderID == "" {
		return fmt.Errorf("externalOrderId is required")
	}
	if p.Status == "" {
		return fmt.Errorf("status is required")
	}
	if p.Status == "matched" && (p.Carrier == nil || p.Carrier.ID == "") {
		return fmt.Errorf("matched callback requires a carrier")
	}
	return nil
}

// Terminal reports whether the payload carries a status this service
// knows how to apply.
func (p CallbackPayload) Terminal() bool {
	return p.Status == "matched" || p.Status == "failed"
}

// ToResult converts the payload into the engine's normalized form.
func (p CallbackPayload) ToResult() chain.BrokerResult {
	res := chain.BrokerResult{
		ExternalID: p.AffretiaOrderID,
		OrderID:    p.ExternalOrderID,
		Matched:    p.Status == "matched",
		Reason:     p.Reason,
	}
	if p.Carrier != nil {
		res.CarrierID = p.Carrier.ID
		res.Price = p.Carrier.Price
	}
	return res
}
