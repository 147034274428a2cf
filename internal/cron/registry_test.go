package cron

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

type namedJob string

func (n namedJob) Name() string              { return string(n) }
func (n namedJob) Run(context.Context) error { return nil }

func TestRegistryKeepsOrderAndCopies(t *testing.T) {
	registry, err := NewRegistry(namedJob("retention"), namedJob("fulfillment-backlog"))
	require.NoError(t, err)

	jobs := registry.Jobs()
	require.Len(t, jobs, 2)
	require.Equal(t, "retention", jobs[0].Name())
	require.Equal(t, "fulfillment-backlog", jobs[1].Name())

	jobs[0] = nil
	require.NotNil(t, registry.Jobs()[0])
}

func TestRegistryRejectsBadJobs(t *testing.T) {
	_, err := NewRegistry(namedJob("a"), namedJob("a"))
	require.ErrorContains(t, err, "registered twice")

	var registry Registry
	require.Error(t, registry.Register(nil))
	require.Error(t, registry.Register(namedJob("  ")))
	require.NoError(t, registry.Register(namedJob("b")))
	require.Len(t, registry.Jobs(), 1)
}
