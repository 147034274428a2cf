package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// FulfillmentMetrics tracks webhook ingestion, print claims and deliverable
// outcomes. A nil value is safe to use.
type FulfillmentMetrics struct {
	events       *prometheus.CounterVec
	eventLatency *prometheus.HistogramVec
	claimed      prometheus.Counter
	printOutcome *prometheus.CounterVec
	deliverables *prometheus.CounterVec
}

// NewFulfillmentMetrics registers the fulfillment collectors on reg.
func NewFulfillmentMetrics(reg prometheus.Registerer) *FulfillmentMetrics {
	if reg == nil {
		return &FulfillmentMetrics{}
	}
	events := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "payment_events_total",
		Help: "Provider webhook events by type and outcome.",
	}, []string{"event_type", "outcome"})
	eventLatency := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "payment_event_handle_seconds",
		Help:    "Time spent applying a provider event.",
		Buckets: prometheus.DefBuckets,
	}, []string{"event_type"})
	claimed := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "print_jobs_claimed_total",
		Help: "Print jobs handed to fleet workers.",
	})
	printOutcome := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "print_jobs_outcome_total",
		Help: "Print job terminal reports by outcome.",
	}, []string{"outcome"})
	deliverables := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "deliverable_jobs_outcome_total",
		Help: "Deliverable job attempts by outcome.",
	}, []string{"kind", "outcome"})
	reg.MustRegister(events, eventLatency, claimed, printOutcome, deliverables)
	return &FulfillmentMetrics{
		events:       events,
		eventLatency: eventLatency,
		claimed:      claimed,
		printOutcome: printOutcome,
		deliverables: deliverables,
	}
}

// ObserveEvent records one webhook delivery outcome (processed, duplicate, failed).
func (m *FulfillmentMetrics) ObserveEvent(eventType, outcome string, took time.Duration) {
	if m == nil || m.events == nil {
		return
	}
	m.events.WithLabelValues(normalizeLabel(eventType), normalizeLabel(outcome)).Inc()
	m.eventLatency.WithLabelValues(normalizeLabel(eventType)).Observe(took.Seconds())
}

// AddClaimed records n newly claimed print jobs.
func (m *FulfillmentMetrics) AddClaimed(n int) {
	if m == nil || m.claimed == nil || n <= 0 {
		return
	}
	m.claimed.Add(float64(n))
}

// IncPrintOutcome counts a printed or failed report.
func (m *FulfillmentMetrics) IncPrintOutcome(outcome string) {
	if m == nil || m.printOutcome == nil {
		return
	}
	m.printOutcome.WithLabelValues(normalizeLabel(outcome)).Inc()
}

// IncDeliverable counts a deliverable attempt result (ready, retry, dead).
func (m *FulfillmentMetrics) IncDeliverable(kind, outcome string) {
	if m == nil || m.deliverables == nil {
		return
	}
	m.deliverables.WithLabelValues(normalizeLabel(kind), normalizeLabel(outcome)).Inc()
}

// BacklogGauges exposes operator-facing backlog counts refreshed by cron.
type BacklogGauges struct {
	backlog *prometheus.GaugeVec
}

func NewBacklogGauges(reg prometheus.Registerer) *BacklogGauges {
	if reg == nil {
		return &BacklogGauges{}
	}
	backlog := prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "fulfillment_backlog",
		Help: "Items needing operator attention, by kind.",
	}, []string{"kind"})
	reg.MustRegister(backlog)
	return &BacklogGauges{backlog: backlog}
}

// Set overwrites the gauge for kind.
func (g *BacklogGauges) Set(kind string, value int64) {
	if g == nil || g.backlog == nil {
		return
	}
	g.backlog.WithLabelValues(normalizeLabel(kind)).Set(float64(value))
}
