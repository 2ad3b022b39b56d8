package metrics

import "github.com/prometheus/client_golang/prometheus"

// Outbox publish outcomes.
const (
	OutboxResultPublished    = "published"
	OutboxResultRetried      = "retried"
	OutboxResultDeadLettered = "dead_lettered"
)

// OutboxMetrics counts outbox rows leaving the publisher by event type and outcome.
type OutboxMetrics struct {
	events *prometheus.CounterVec
}

func NewOutboxMetrics(reg prometheus.Registerer) *OutboxMetrics {
	if reg == nil {
		return &OutboxMetrics{}
	}
	events := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "outbox_events_total",
		Help:      "Outbox events handled by the publisher.",
	}, []string{"event_type", "result"})
	reg.MustRegister(events)
	return &OutboxMetrics{events: events}
}

func (o *OutboxMetrics) Inc(eventType, result string) {
	if o == nil || o.events == nil {
		return
	}
	o.events.WithLabelValues(normalizeLabel(eventType), normalizeLabel(result)).Inc()
}

// Counter exposes the underlying series, mainly for tests.
func (o *OutboxMetrics) Counter(eventType, result string) prometheus.Counter {
	if o == nil || o.events == nil {
		return prometheus.NewCounter(prometheus.CounterOpts{Name: "noop"})
	}
	return o.events.WithLabelValues(normalizeLabel(eventType), normalizeLabel(result))
}
