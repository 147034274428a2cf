package cron

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/multierr"

	"github.com/angelmondragon/fulfillment-engine/pkg/logger"
)

// BacklogCounter reports how many items of one kind need operator attention.
type BacklogCounter struct {
	Kind  string
	Count func(ctx context.Context, now time.Time) (int64, error)
}

type backlogSink interface {
	Set(kind string, value int64)
}

type BacklogJobParams struct {
	Logger   *logger.Logger
	Gauges   backlogSink
	Counters []BacklogCounter
}

// NewBacklogJob refreshes the backlog gauges: stuck payment events, stale
// print claims, parked print jobs, print_failed orders and dead deliverables.
func NewBacklogJob(params BacklogJobParams) (Job, error) {
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.Gauges == nil {
		return nil, fmt.Errorf("backlog gauges required")
	}
	for _, c := range params.Counters {
		if c.Kind == "" || c.Count == nil {
			return nil, fmt.Errorf("backlog counter requires kind and count")
		}
	}
	return &backlogJob{
		logg:     params.Logger,
		gauges:   params.Gauges,
		counters: params.Counters,
		now:      time.Now,
	}, nil
}

type backlogJob struct {
	logg     *logger.Logger
	gauges   backlogSink
	counters []BacklogCounter
	now      func() time.Time
}

func (j *backlogJob) Name() string { return "fulfillment-backlog" }

// Run refreshes every gauge it can; a failing counter leaves its gauge at
// the previous value.
func (j *backlogJob) Run(ctx context.Context) error {
	now := j.now().UTC()
	counts := make(map[string]any, len(j.counters))
	var errs error
	for _, c := range j.counters {
		n, err := c.Count(ctx, now)
		if err != nil {
			errs = multierr.Append(errs, fmt.Errorf("count %s: %w", c.Kind, err))
			continue
		}
		j.gauges.Set(c.Kind, n)
		counts[c.Kind] = n
	}
	j.logg.Info(j.logg.WithFields(ctx, counts), "fulfillment backlog refreshed")
	return errs
}
