package cron

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/multierr"
	"gorm.io/gorm"

	"github.com/angelmondragon/fulfillment-engine/pkg/logger"
)

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

// RetentionRule deletes rows of one table older than cutoff and reports how
// many went.
type RetentionRule struct {
	Table   string
	KeepFor time.Duration
	Delete  func(ctx context.Context, tx *gorm.DB, cutoff time.Time) (int64, error)
}

type RetentionJobParams struct {
	Logger *logger.Logger
	DB     txRunner
	Rules  []RetentionRule
}

// NewRetentionJob prunes each rule's table in its own transaction, so one
// failing table does not hold back the rest.
func NewRetentionJob(params RetentionJobParams) (Job, error) {
	if params.Logger == nil || params.DB == nil {
		return nil, errors.New("retention: logger and db required")
	}
	for _, rule := range params.Rules {
		if rule.Table == "" || rule.Delete == nil || rule.KeepFor <= 0 {
			return nil, fmt.Errorf("retention: rule %q needs a table, a delete func and a positive window", rule.Table)
		}
	}
	return &retentionJob{logg: params.Logger, db: params.DB, rules: params.Rules, now: time.Now}, nil
}

type retentionJob struct {
	logg  *logger.Logger
	db    txRunner
	rules []RetentionRule
	now   func() time.Time
}

func (j *retentionJob) Name() string { return "retention" }

func (j *retentionJob) Run(ctx context.Context) error {
	now := j.now().UTC()
	var errs error
	for _, rule := range j.rules {
		cutoff := now.Add(-rule.KeepFor)
		var deleted int64
		err := j.db.WithTx(ctx, func(tx *gorm.DB) error {
			n, err := rule.Delete(ctx, tx, cutoff)
			deleted = n
			return err
		})
		if err != nil {
			errs = multierr.Append(errs, fmt.Errorf("prune %s: %w", rule.Table, err))
			continue
		}
		j.logg.Info(j.logg.WithFields(ctx, map[string]any{
			"table":        rule.Table,
			"cutoff":       cutoff,
			"rows_deleted": deleted,
		}), "retention pruned table")
	}
	return errs
}
