package metrics

import (
	"time"

	coremetrics "github.com/fluxfret/cascade/core/metrics"
)

// MultiSink fans dispatch events out to multiple sinks.
type MultiSink struct {
	Sinks []coremetrics.Sink
}

// NewMultiSink creates a MultiSink with the provided sinks.
func NewMultiSink(sinks ...coremetrics.Sink) *MultiSink {
	return &MultiSink{Sinks: sinks}
}

// RecordAttempt forwards the event to all sinks, returning the first error.
func (m *MultiSink) RecordAttempt(ev coremetrics.AttemptEvent) error {
	for _, s := range m.Sinks {
		if err := s.RecordAttempt(ev); err != nil {
			return err
		}
	}
	return nil
}

// RecordEscalation forwards the event to all sinks.
func (m *MultiSink) RecordEscalation(ev coremetrics.EscalationEvent) error {
	for _, s := range m.Sinks {
		if err := s.RecordEscalation(ev); err != nil {
			return err
		}
	}
	return nil
}

// RecordReminder forwards to sinks implementing ReminderRecorder.
func (m *MultiSink) RecordReminder(orderID, carrierID string) error {
	for _, s := range m.Sinks {
		if rec, ok := s.(coremetrics.ReminderRecorder); ok {
			if err := rec.RecordReminder(orderID, carrierID); err != nil {
				return err
			}
		}
	}
	return nil
}

// RecordBusEvent forwards to sinks implementing BusEventRecorder.
func (m *MultiSink) RecordBusEvent(eventType string) error {
	for _, s := range m.Sinks {
		if rec, ok := s.(coremetrics.BusEventRecorder); ok {
			if err := rec.RecordBusEvent(eventType); err != nil {
				return err
			}
		}
	}
	return nil
}

// RecordTick forwards to sinks implementing TickRecorder.
func (m *MultiSink) RecordTick(scanned int, d time.Duration) error {
	for _, s := range m.Sinks {
		if rec, ok := s.(coremetrics.TickRecorder); ok {
			if err := rec.RecordTick(scanned, d); err != nil {
				return err
			}
		}
	}
	return nil
}
