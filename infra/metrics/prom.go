package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	coremetrics "github.com/fluxfret/cascade/core/metrics"
)

// PromSink records dispatch events in Prometheus metrics.
type PromSink struct {
	attempts    *prometheus.CounterVec
	reminders   prometheus.Counter
	escalations *prometheus.CounterVec
	busEvents   *prometheus.CounterVec
	tickSeconds prometheus.Histogram
	tickScanned prometheus.Gauge
}

// NewPromSink registers dispatch metrics on the default Prometheus
// registerer. The Prometheus server should be started separately.
func NewPromSink() (*PromSink, error) {
	return NewPromSinkWithRegistry(prometheus.DefaultRegisterer)
}

// NewPromSinkWithRegistry registers metrics on the provided registerer.
// A nil registerer defaults to the global Prometheus registerer.
func NewPromSinkWithRegistry(reg prometheus.Registerer) (*PromSink, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	attempts := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "dispatch_attempts_total",
		Help: "Total number of attempt transitions by outcome",
	}, []string{"status", "lane_id"})
	reminders := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "dispatch_reminders_total",
		Help: "Total number of mid-window reminders sent",
	})
	escalations := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "dispatch_escalations_total",
		Help: "Total number of broker escalation transitions by status",
	}, []string{"status"})
	busEvents := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "dispatch_events_total",
		Help: "Total number of dispatch events published on the bus by type",
	}, []string{"type"})
	tickSeconds := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "scheduler_tick_seconds",
		Help:    "Duration of one scheduler scan",
		Buckets: prometheus.DefBuckets,
	})
	tickScanned := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "scheduler_chains_scanned",
		Help: "Number of in-progress chains inspected by the last tick",
	})

	if err := register(reg, &attempts); err != nil {
		return nil, err
	}
	if err := register(reg, &reminders); err != nil {
		return nil, err
	}
	if err := register(reg, &escalations); err != nil {
		return nil, err
	}
	if err := register(reg, &busEvents); err != nil {
		return nil, err
	}
	if err := register(reg, &tickSeconds); err != nil {
		return nil, err
	}
	if err := register(reg, &tickScanned); err != nil {
		return nil, err
	}
	return &PromSink{attempts: attempts, reminders: reminders, escalations: escalations, busEvents: busEvents, tickSeconds: tickSeconds, tickScanned: tickScanned}, nil
}

// register adds the collector to the registry, reusing the already
// registered instance on duplicate registration.
func register[C prometheus.Collector](reg prometheus.Registerer, c *C) error {
	if err := reg.Register(*c); err != nil {
		are, ok := err.(prometheus.AlreadyRegisteredError)
		if !ok {
			return err
		}
		existing, ok := are.ExistingCollector.(C)
		if !ok {
			return err
		}
		*c = existing
	}
	return nil
}

// RecordAttempt increments the attempt counter for the transition.
func (s *PromSink) RecordAttempt(ev coremetrics.AttemptEvent) error {
	s.attempts.WithLabelValues(ev.Status, ev.LaneID).Inc()
	return nil
}

// RecordEscalation increments the escalation counter.
func (s *PromSink) RecordEscalation(ev coremetrics.EscalationEvent) error {
	s.escalations.WithLabelValues(ev.Status).Inc()
	return nil
}

// RecordReminder increments the reminder counter.
func (s *PromSink) RecordReminder(string, string) error {
	s.reminders.Inc()
	return nil
}

// RecordBusEvent counts one bus event by type.
func (s *PromSink) RecordBusEvent(eventType string) error {
	s.busEvents.WithLabelValues(eventType).Inc()
	return nil
}

// RecordTick observes the scan duration and size.
func (s *PromSink) RecordTick(scanned int, d time.Duration) error {
	s.tickSeconds.Observe(d.Seconds())
	s.tickScanned.Set(float64(scanned))
	return nil
}
