package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"
)

func TestFulfillmentMetricsCountsByLabel(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewFulfillmentMetrics(reg)

	m.ObserveEvent("checkout.session.completed", "processed", 20*time.Millisecond)
	m.ObserveEvent("checkout.session.completed", "duplicate", time.Millisecond)
	m.ObserveEvent("checkout.session.completed", "processed", 5*time.Millisecond)
	m.AddClaimed(3)
	m.AddClaimed(0)
	m.IncPrintOutcome("printed")
	m.IncDeliverable("listing_kit", "dead")

	mfs, err := reg.Gather()
	require.NoError(t, err)

	got, err := fetchCounterValue(mfs, "payment_events_total", "outcome", "processed")
	require.NoError(t, err)
	require.Equal(t, float64(2), got)

	got, err = fetchCounterValue(mfs, "print_jobs_outcome_total", "outcome", "printed")
	require.NoError(t, err)
	require.Equal(t, float64(1), got)

	got, err = fetchCounterValue(mfs, "deliverable_jobs_outcome_total", "outcome", "dead")
	require.NoError(t, err)
	require.Equal(t, float64(1), got)

	claimed := findMetricFamily(mfs, "print_jobs_claimed_total")
	require.NotNil(t, claimed)
	require.Equal(t, float64(3), claimed.GetMetric()[0].GetCounter().GetValue())
}

func TestBacklogGaugesOverwrite(t *testing.T) {
	reg := prometheus.NewRegistry()
	g := NewBacklogGauges(reg)

	g.Set("dead_deliverables", 4)
	g.Set("dead_deliverables", 1)

	mfs, err := reg.Gather()
	require.NoError(t, err)
	mf := findMetricFamily(mfs, "fulfillment_backlog")
	require.NotNil(t, mf)
	require.Len(t, mf.GetMetric(), 1)
	require.Equal(t, float64(1), mf.GetMetric()[0].GetGauge().GetValue())
}

func TestNilMetricsAreNoops(t *testing.T) {
	var m *FulfillmentMetrics
	m.ObserveEvent("x", "y", time.Second)
	m.AddClaimed(1)
	m.IncPrintOutcome("printed")
	m.IncDeliverable("k", "ready")

	var g *BacklogGauges
	g.Set("x", 1)

	NewFulfillmentMetrics(nil).AddClaimed(2)
}
