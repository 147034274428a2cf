package cron

import (
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/angelmondragon/fulfillment-engine/pkg/logger"
)

type testJob struct {
	name     string
	err      error
	runs     int
	deadline time.Time
	onRun    func()
}

func (t *testJob) Name() string { return t.name }

func (t *testJob) Run(ctx context.Context) error {
	t.runs++
	t.deadline, _ = ctx.Deadline()
	if t.onRun != nil {
		t.onRun()
	}
	return t.err
}

func newTestService(t *testing.T, store *memoryStore, params ServiceParams, jobs ...Job) *Service {
	t.Helper()
	registry, err := NewRegistry(jobs...)
	require.NoError(t, err)
	lock, err := NewRedisLock(store, testLockKey, time.Minute)
	require.NoError(t, err)

	params.Logger = logger.New(logger.Options{ServiceName: "cron-test", Output: io.Discard})
	params.Registry = registry
	params.Lock = lock
	service, err := NewService(params)
	require.NoError(t, err)
	return service
}

func TestRunOnceRunsEveryJobPastFailures(t *testing.T) {
	store := newMemoryStore()
	ok := &testJob{name: "retention"}
	failing := &testJob{name: "fulfillment-backlog", err: errors.New("boom")}
	after := &testJob{name: "after"}
	service := newTestService(t, store, ServiceParams{}, ok, failing, after)

	err := service.RunOnce(context.Background())
	assert.ErrorContains(t, err, "fulfillment-backlog: boom")
	assert.Equal(t, 1, ok.runs)
	assert.Equal(t, 1, failing.runs)
	assert.Equal(t, 1, after.runs)
	assert.Empty(t, store.values, "lease released")
}

func TestRunOnceSkipsWhileLeaseHeldElsewhere(t *testing.T) {
	store := newMemoryStore()
	store.values[testLockKey] = "other-instance"
	job := &testJob{name: "fulfillment-backlog"}
	service := newTestService(t, store, ServiceParams{}, job)

	require.NoError(t, service.RunOnce(context.Background()))
	assert.Zero(t, job.runs)
	assert.Equal(t, "other-instance", store.values[testLockKey])
}

func TestRunOnceBoundsEachJob(t *testing.T) {
	job := &testJob{name: "retention"}
	service := newTestService(t, newMemoryStore(), ServiceParams{JobTimeout: time.Second}, job)

	started := time.Now()
	require.NoError(t, service.RunOnce(context.Background()))
	assert.WithinDuration(t, started.Add(time.Second), job.deadline, 500*time.Millisecond)
}

func TestRunOnceStopsAfterCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	first := &testJob{name: "first", onRun: cancel}
	second := &testJob{name: "second"}
	service := newTestService(t, newMemoryStore(), ServiceParams{}, first, second)

	require.NoError(t, service.RunOnce(ctx))
	assert.Equal(t, 1, first.runs)
	assert.Zero(t, second.runs)
}

func TestRunReturnsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	job := &testJob{name: "once", onRun: cancel}
	service := newTestService(t, newMemoryStore(), ServiceParams{Interval: time.Hour}, job)

	assert.ErrorIs(t, service.Run(ctx), context.Canceled)
	assert.Equal(t, 1, job.runs)
}

func TestServiceDefaults(t *testing.T) {
	service := newTestService(t, newMemoryStore(), ServiceParams{})
	assert.Equal(t, defaultInterval, service.interval)
	assert.Equal(t, defaultInterval, service.jobTimeout)

	_, err := NewService(ServiceParams{})
	assert.Error(t, err)
}
