package events

import "time"

// AttemptSent is published when a cascade attempt is offered to a carrier.
type AttemptSent struct {
	ChainID   string
	OrderID   string
	CarrierID string
	Position  int
	ExpiresAt time.Time
}

// ReminderSent is published when the mid-window reminder fires.
type ReminderSent struct {
	ChainID   string
	OrderID   string
	CarrierID string
	Remaining time.Duration
}

// AttemptResolved is published when an attempt reaches a terminal status.
type AttemptResolved struct {
	ChainID   string
	OrderID   string
	CarrierID string
	Position  int
	Status    string
	Reason    string
}

// ChainCompleted is published when a carrier is assigned.
type ChainCompleted struct {
	ChainID    string
	OrderID    string
	CarrierID  string
	FinalPrice float64
	ViaBroker  bool
}

// ChainEscalated is published when the cascade is handed to the broker.
type ChainEscalated struct {
	ChainID    string
	OrderID    string
	ExternalID string
}

// ChainExhausted is published when the cascade ends with no escalation
// configured and the chain requires manual intervention.
type ChainExhausted struct {
	ChainID string
	OrderID string
}

// ChainCancelled is published when a chain is aborted.
type ChainCancelled struct {
	ChainID string
	OrderID string
	Reason  string
}

// BrokerCallback is published for every callback received from the broker,
// including idempotent replays.
type BrokerCallback struct {
	ChainID    string
	OrderID    string
	ExternalID string
	Status     string
	Replay     bool
}
