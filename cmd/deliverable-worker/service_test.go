package main

import (
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/angelmondragon/fulfillment-engine/pkg/logger"
)

type fakePinger struct{ err error }

func (f fakePinger) Ping(context.Context) error { return f.err }

type fakeRunner struct {
	started chan struct{}
	err     error
}

func (f *fakeRunner) Run(ctx context.Context) error {
	close(f.started)
	if f.err != nil {
		return f.err
	}
	<-ctx.Done()
	return ctx.Err()
}

func testLogger() *logger.Logger {
	return logger.New(logger.Options{ServiceName: "deliverable-worker-test", Output: io.Discard})
}

func TestRunFailsWhenDependencyUnavailable(t *testing.T) {
	runner := &fakeRunner{started: make(chan struct{})}
	svc, err := NewService(ServiceParams{
		Logger:       testLogger(),
		Dependencies: map[string]pinger{"database": fakePinger{err: errors.New("down")}},
		Runner:       runner,
	})
	require.NoError(t, err)

	err = svc.Run(context.Background())
	require.ErrorContains(t, err, "database ping failed")
	select {
	case <-runner.started:
		t.Fatal("runner should not start")
	default:
	}
}

func TestRunReturnsRunnerError(t *testing.T) {
	runner := &fakeRunner{started: make(chan struct{}), err: errors.New("boom")}
	svc, err := NewService(ServiceParams{Logger: testLogger(), Runner: runner})
	require.NoError(t, err)

	require.EqualError(t, svc.Run(context.Background()), "boom")
}

func TestRunStopsOnCancel(t *testing.T) {
	runner := &fakeRunner{started: make(chan struct{})}
	svc, err := NewService(ServiceParams{
		Logger:       testLogger(),
		Dependencies: map[string]pinger{"database": fakePinger{}},
		Runner:       runner,
		Heartbeat:    10 * time.Millisecond,
	})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- svc.Run(ctx) }()
	<-runner.started
	cancel()

	select {
	case err := <-done:
		require.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("service did not stop")
	}
}

func TestNewServiceRequiresRunner(t *testing.T) {
	_, err := NewService(ServiceParams{Logger: testLogger()})
	require.Error(t, err)
}
