package metrics

import "time"

// AttemptEvent represents one attempt transition to be recorded.
type AttemptEvent struct {
	OrderID   string
	ChainID   string
	CarrierID string
	Position  int
	Status    string // sent, accepted, refused, timeout, skipped
	LaneID    string
	Time      time.Time
}

// EscalationEvent captures a hand-off to or callback from the broker.
type EscalationEvent struct {
	OrderID    string
	ChainID    string
	ExternalID string
	Status     string // pending, assigned, failed
	Time       time.Time
}

// Sink records dispatch events for observability purposes.
type Sink interface {
	RecordAttempt(ev AttemptEvent) error
	RecordEscalation(ev EscalationEvent) error
}

// ReminderRecorder records mid-window reminder sends. Optional.
type ReminderRecorder interface {
	RecordReminder(orderID, carrierID string) error
}

// TickRecorder records scheduler tick durations. Optional.
type TickRecorder interface {
	RecordTick(scanned int, d time.Duration) error
}

// BusEventRecorder counts event bus traffic by event type. Optional.
type BusEventRecorder interface {
	RecordBusEvent(eventType string) error
}

// NopSink discards all events.
type NopSink struct{}

func (NopSink) RecordAttempt(AttemptEvent) error       { return nil }
func (NopSink) RecordEscalation(EscalationEvent) error { return nil }
