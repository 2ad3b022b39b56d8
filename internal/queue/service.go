// Package queue is the durable fulfillment job queue. Jobs live in
// fulfillment_jobs, keyed by transaction reference, and are drained by a
// worker pool that retries with backoff and dead-letters what it cannot finish.
package queue

import (
	"context"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/angelmondragon/marketplace-fulfillment/pkg/db/models"
	"github.com/angelmondragon/marketplace-fulfillment/pkg/enums"
	pkgerrors "github.com/angelmondragon/marketplace-fulfillment/pkg/errors"
	"github.com/angelmondragon/marketplace-fulfillment/pkg/logger"
	"github.com/angelmondragon/marketplace-fulfillment/pkg/metrics"
	"github.com/angelmondragon/marketplace-fulfillment/pkg/pagination"
	"github.com/angelmondragon/marketplace-fulfillment/pkg/types"
)

var nowUTC = func() time.Time { return time.Now().UTC() }

// EnqueueResult reports whether the job row was created by this call.
type EnqueueResult struct {
	JobID   uuid.UUID
	Created bool
	Status  enums.FulfillmentJobStatus
}

// JobView is the operator-facing projection of a queue row.
type JobView struct {
	ID                   uuid.UUID                  `json:"id"`
	TransactionReference string                     `json:"transaction_reference"`
	Status               enums.FulfillmentJobStatus `json:"status"`
	Attempts             int                        `json:"attempts"`
	NextRunAt            time.Time                  `json:"next_run_at"`
	LastError            *string                    `json:"last_error,omitempty"`
	CreatedAt            time.Time                  `json:"created_at"`
	UpdatedAt            time.Time                  `json:"updated_at"`
}

type ListResult struct {
	Items      []JobView `json:"items"`
	NextCursor string    `json:"next_cursor,omitempty"`
}

type Service struct {
	repo     *Repository
	validate *validator.Validate
	metrics  *metrics.QueueMetrics
	logg     *logger.Logger
}

func NewService(repo *Repository, m *metrics.QueueMetrics, logg *logger.Logger) (*Service, error) {
	if repo == nil {
		return nil, fmt.Errorf("queue repository required")
	}
	return &Service{
		repo:     repo,
		validate: validator.New(),
		metrics:  m,
		logg:     logg,
	}, nil
}

// Enqueue stores the job once per transaction reference. A second call for
// the same reference is a successful no-op that reports the existing status.
func (s *Service) Enqueue(ctx context.Context, job types.FulfillmentJob) (EnqueueResult, error) {
	job = job.Normalize()
	if err := s.validate.StructCtx(ctx, job); err != nil {
		s.metrics.IncEnqueue(metrics.EnqueueResultError)
		return EnqueueResult{}, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid fulfillment job")
	}

	row := &models.FulfillmentJob{
		TransactionReference: job.TransactionReference,
		Payload:              job,
		Status:               enums.FulfillmentJobQueued,
		NextRunAt:            nowUTC(),
	}
	created, stored, err := s.repo.InsertIfAbsent(ctx, row)
	if err != nil {
		s.metrics.IncEnqueue(metrics.EnqueueResultError)
		return EnqueueResult{}, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "enqueue fulfillment job")
	}
	if stored == nil {
		s.metrics.IncEnqueue(metrics.EnqueueResultError)
		return EnqueueResult{}, pkgerrors.New(pkgerrors.CodeInternal, "fulfillment job vanished after conflict")
	}

	if s.logg != nil {
		logCtx := s.logg.WithFields(ctx, map[string]any{
			"transaction_reference": job.TransactionReference,
			"job_id":                stored.ID.String(),
			"created":               created,
		})
		s.logg.Info(logCtx, "fulfillment job enqueued")
	}
	if created {
		s.metrics.IncEnqueue(metrics.EnqueueResultCreated)
	} else {
		s.metrics.IncEnqueue(metrics.EnqueueResultDuplicate)
	}
	return EnqueueResult{JobID: stored.ID, Created: created, Status: stored.Status}, nil
}

// StatusByReference returns nil when no job was ever enqueued for reference.
func (s *Service) StatusByReference(ctx context.Context, reference string) (*JobView, error) {
	job, err := s.repo.FindByReference(ctx, reference)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load fulfillment job")
	}
	if job == nil {
		return nil, nil
	}
	view := toView(*job)
	return &view, nil
}

// ListDeadLettered pages through jobs awaiting operator action.
func (s *Service) ListDeadLettered(ctx context.Context, params pagination.Params) (ListResult, error) {
	limit := pagination.NormalizeLimit(params.Limit)
	cursor, err := pagination.ParseCursor(params.Cursor)
	if err != nil {
		return ListResult{}, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid cursor")
	}
	rows, err := s.repo.ListByStatus(ctx, enums.FulfillmentJobDeadLettered, pagination.LimitWithBuffer(limit), cursor)
	if err != nil {
		return ListResult{}, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list dead-lettered jobs")
	}
	page, next := pagination.Page(rows, limit, func(j models.FulfillmentJob) pagination.Cursor {
		return pagination.Cursor{CreatedAt: j.CreatedAt, ID: j.ID}
	})
	items := make([]JobView, 0, len(page))
	for _, row := range page {
		items = append(items, toView(row))
	}
	return ListResult{Items: items, NextCursor: next}, nil
}

// Requeue gives a dead-lettered job a fresh attempt budget.
func (s *Service) Requeue(ctx context.Context, jobID uuid.UUID) (*JobView, error) {
	ok, err := s.repo.Requeue(ctx, jobID, nowUTC())
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "requeue fulfillment job")
	}
	job, findErr := s.repo.FindByID(ctx, jobID)
	if findErr != nil {
		if !ok {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "fulfillment job not found")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, findErr, "load fulfillment job")
	}
	if !ok {
		return nil, pkgerrors.New(pkgerrors.CodeStateConflict, "only dead-lettered jobs can be requeued").
			WithDetails(map[string]any{"status": job.Status})
	}
	if s.logg != nil {
		logCtx := s.logg.WithFields(ctx, map[string]any{
			"job_id":                job.ID.String(),
			"transaction_reference": job.TransactionReference,
		})
		s.logg.Info(logCtx, "fulfillment job requeued")
	}
	view := toView(*job)
	return &view, nil
}

func toView(job models.FulfillmentJob) JobView {
	return JobView{
		ID:                   job.ID,
		TransactionReference: job.TransactionReference,
		Status:               job.Status,
		Attempts:             job.Attempts,
		NextRunAt:            job.NextRunAt,
		LastError:            job.LastError,
		CreatedAt:            job.CreatedAt,
		UpdatedAt:            job.UpdatedAt,
	}
}
