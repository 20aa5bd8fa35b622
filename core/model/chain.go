package model

import "time"

// ChainStatus is the lifecycle state of a dispatch chain.
type ChainStatus string

const (
	ChainPending    ChainStatus = "pending"
	ChainInProgress ChainStatus = "in_progress"
	ChainCompleted  ChainStatus = "completed"
	ChainEscalated  ChainStatus = "escalated"
	ChainExhausted  ChainStatus = "exhausted"
	ChainCancelled  ChainStatus = "cancelled"
)

// Terminal reports whether the chain can no longer send attempts. Escalated
// chains are terminal for the cascade but still mutated by broker callbacks.
func (s ChainStatus) Terminal() bool {
	switch s {
	case ChainCompleted, ChainEscalated, ChainExhausted, ChainCancelled:
		return true
	}
	return false
}

// AttemptStatus is the outcome state of one cascade slot.
type AttemptStatus string

const (
	AttemptPending  AttemptStatus = "pending"
	AttemptSent     AttemptStatus = "sent"
	AttemptAccepted AttemptStatus = "accepted"
	AttemptRefused  AttemptStatus = "refused"
	AttemptTimeout  AttemptStatus = "timeout"
	AttemptSkipped  AttemptStatus = "skipped"
)

// Terminal reports whether the attempt reached a final outcome.
func (s AttemptStatus) Terminal() bool {
	switch s {
	case AttemptAccepted, AttemptRefused, AttemptTimeout, AttemptSkipped:
		return true
	}
	return false
}

// NotificationRecord logs one notification sent for an attempt.
type NotificationRecord struct {
	Channel string    `json:"channel"`
	Kind    string    `json:"kind"` // offer, reminder
	SentAt  time.Time `json:"sent_at"`
}

// DispatchAttempt is one carrier's turn in a chain's cascade.
type DispatchAttempt struct {
	CarrierID     string               `json:"carrier_id"`
	CarrierName   string               `json:"carrier_name,omitempty"`
	Position      int                  `json:"position"`
	Status        AttemptStatus        `json:"status"`
	Channels      []string             `json:"channels,omitempty"`
	WindowMinutes int                  `json:"window_minutes"`
	SentAt        *time.Time           `json:"sent_at,omitempty"`
	ExpiresAt     *time.Time           `json:"expires_at,omitempty"`
	ReminderAt    *time.Time           `json:"reminder_at,omitempty"`
	Reason        string               `json:"reason,omitempty"`
	ProposedPrice *float64             `json:"proposed_price,omitempty"`
	Notifications []NotificationRecord `json:"notifications,omitempty"`
}

// Window returns the fixed response window of the attempt.
func (a DispatchAttempt) Window() time.Duration {
	return time.Duration(a.WindowMinutes) * time.Minute
}

// ReminderDue reports whether the mid-window reminder should fire at now.
// The threshold is half of the fixed window, measured from SentAt; the
// reminder fires at most once.
func (a DispatchAttempt) ReminderDue(now time.Time) bool {
	if a.Status != AttemptSent || a.SentAt == nil || a.ReminderAt != nil {
		return false
	}
	return !now.Before(a.SentAt.Add(a.Window() / 2))
}

// Expired reports whether the attempt's deadline has passed at now.
func (a DispatchAttempt) Expired(now time.Time) bool {
	return a.Status == AttemptSent && a.ExpiresAt != nil && now.After(*a.ExpiresAt)
}

// DispatchChain is the live per-order instance of a cascade run. Exactly one
// chain exists per order. Version implements optimistic concurrency: stores
// reject writes whose Version does not match the persisted one.
type DispatchChain struct {
	ID              string            `json:"id"`
	OrderID         string            `json:"order_id"`
	LaneID          string            `json:"lane_id,omitempty"`
	Status          ChainStatus       `json:"status"`
	Attempts        []DispatchAttempt `json:"attempts"`
	CurrentIndex    int               `json:"current_index"`
	AutoEscalate    bool              `json:"auto_escalate"`
	AssignedCarrier string            `json:"assigned_carrier,omitempty"`
	FinalPrice      *float64          `json:"final_price,omitempty"`
	Escalation      *Escalation       `json:"escalation,omitempty"`
	StartedAt       *time.Time        `json:"started_at,omitempty"`
	CompletedAt     *time.Time        `json:"completed_at,omitempty"`
	CreatedAt       time.Time         `json:"created_at"`
	UpdatedAt       time.Time         `json:"updated_at"`
	Version         int64             `json:"version"`
}

// Current returns the attempt at CurrentIndex, or nil when the cascade is
// exhausted or empty.
func (c *DispatchChain) Current() *DispatchAttempt {
	if c.CurrentIndex < 0 || c.CurrentIndex >= len(c.Attempts) {
		return nil
	}
	return &c.Attempts[c.CurrentIndex]
}

// NextExpiry returns the deadline of the current sent attempt, if any. The
// scheduler indexes on it.
func (c *DispatchChain) NextExpiry() *time.Time {
	cur := c.Current()
	if cur == nil || cur.Status != AttemptSent {
		return nil
	}
	return cur.ExpiresAt
}
