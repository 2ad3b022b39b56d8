package cron

import (
	"context"
	"fmt"
	"time"

	"github.com/angelmondragon/marketplace-fulfillment/pkg/logger"
	"gorm.io/gorm"
)

// Purge deletes rows older than cutoff and returns how many were removed.
type Purge func(ctx context.Context, cutoff time.Time) (int64, error)

// RetentionJobParams configure a job that trims one table past its retention window.
type RetentionJobParams struct {
	Name      string
	Logger    *logger.Logger
	Retention time.Duration
	// Every overrides the service tick for this job.
	Every time.Duration
	Purge Purge
}

// NewRetentionJob builds a retention job.
func NewRetentionJob(params RetentionJobParams) (Job, error) {
	if params.Name == "" {
		return nil, fmt.Errorf("job name required")
	}
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.Purge == nil {
		return nil, fmt.Errorf("purge func required")
	}
	if params.Retention <= 0 {
		return nil, fmt.Errorf("%s: retention must be positive", params.Name)
	}
	return &retentionJob{
		name:      params.Name,
		logg:      params.Logger,
		retention: params.Retention,
		every:     params.Every,
		purge:     params.Purge,
		now:       time.Now,
	}, nil
}

type retentionJob struct {
	name      string
	logg      *logger.Logger
	retention time.Duration
	every     time.Duration
	purge     Purge
	now       func() time.Time
}

func (j *retentionJob) Name() string { return j.name }

func (j *retentionJob) Every() time.Duration { return j.every }

func (j *retentionJob) Run(ctx context.Context) error {
	cutoff := j.now().UTC().Add(-j.retention)
	deleted, err := j.purge(ctx, cutoff)
	if err != nil {
		return fmt.Errorf("%s: %w", j.name, err)
	}
	logCtx := j.logg.WithFields(ctx, map[string]any{
		"cutoff":       cutoff,
		"retention":    j.retention.String(),
		"rows_deleted": deleted,
	})
	j.logg.Info(logCtx, "retention cleanup complete")
	return nil
}

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

// InTx adapts a transaction-scoped delete into a Purge.
func InTx(db txRunner, fn func(tx *gorm.DB, cutoff time.Time) (int64, error)) Purge {
	return func(ctx context.Context, cutoff time.Time) (int64, error) {
		var deleted int64
		err := db.WithTx(ctx, func(tx *gorm.DB) error {
			rows, err := fn(tx, cutoff)
			if err != nil {
				return err
			}
			deleted = rows
			return nil
		})
		return deleted, err
	}
}
