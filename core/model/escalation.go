package model

import "time"

// EscalationStatus tracks the broker-side state of an escalated chain.
type EscalationStatus string

const (
	EscalationPending    EscalationStatus = "pending"
	EscalationInProgress EscalationStatus = "in_progress"
	EscalationAssigned   EscalationStatus = "assigned"
	EscalationFailed     EscalationStatus = "failed"
)

// Escalation records the hand-off of an exhausted chain to the external
// brokerage service. It is created at most once per chain; broker callbacks
// mutate it in place.
type Escalation struct {
	ExternalID      string           `json:"external_id"`
	Status          EscalationStatus `json:"status"`
	AssignedCarrier string           `json:"assigned_carrier,omitempty"`
	FailureReason   string           `json:"failure_reason,omitempty"`
	SubmittedAt     time.Time        `json:"submitted_at"`
	AssignedAt      *time.Time       `json:"assigned_at,omitempty"`
	UpdatedAt       time.Time        `json:"updated_at"`
}
