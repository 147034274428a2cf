package metrics

import "github.com/prometheus/client_golang/prometheus"

// OutboxMetrics counts publisher outcomes per event type. A nil value is safe to use.
type OutboxMetrics struct {
	outcomes *prometheus.CounterVec
}

// NewOutboxMetrics registers the outbox collectors on reg.
func NewOutboxMetrics(reg prometheus.Registerer) *OutboxMetrics {
	if reg == nil {
		return &OutboxMetrics{}
	}
	outcomes := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "outbox_publish_total",
		Help: "Outbox rows handled by the publisher, by event type and outcome.",
	}, []string{"event_type", "outcome"})
	reg.MustRegister(outcomes)
	return &OutboxMetrics{outcomes: outcomes}
}

// Inc records one outcome (published, retry, dead_letter).
func (m *OutboxMetrics) Inc(eventType, outcome string) {
	if m == nil || m.outcomes == nil {
		return
	}
	m.outcomes.WithLabelValues(normalizeLabel(eventType), normalizeLabel(outcome)).Inc()
}
