package queue

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/angelmondragon/marketplace-fulfillment/pkg/db/models"
	"github.com/angelmondragon/marketplace-fulfillment/pkg/enums"
	"github.com/angelmondragon/marketplace-fulfillment/pkg/pagination"
)

const (
	claimCandidates = 8
	maxLastErrorLen = 2048
)

// claimable matches rows a worker may take: due queued rows, or processing
// rows whose lease expired after a crash with attempts left.
const claimable = "((status = ? AND next_run_at <= ?) OR (status = ? AND locked_until < ? AND attempts < ?))"

type Repository struct {
	db *gorm.DB
}

func NewRepository(db *gorm.DB) *Repository {
	return &Repository{db: db}
}

// InsertIfAbsent writes the job unless one already exists for its
// transaction reference. It returns the stored row either way.
func (r *Repository) InsertIfAbsent(ctx context.Context, job *models.FulfillmentJob) (bool, *models.FulfillmentJob, error) {
	res := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "transaction_reference"}},
			DoNothing: true,
		}).
		Create(job)
	if res.Error != nil {
		return false, nil, res.Error
	}
	if res.RowsAffected == 1 {
		return true, job, nil
	}
	existing, err := r.FindByReference(ctx, job.TransactionReference)
	if err != nil {
		return false, nil, err
	}
	return false, existing, nil
}

// ClaimNext leases one due job to workerID. It returns nil when nothing is
// claimable. Each candidate is taken with a conditional update so concurrent
// workers never hold the same row. An expired lease is only reclaimed while
// the job has fewer than maxAttempts attempts.
func (r *Repository) ClaimNext(ctx context.Context, workerID string, now time.Time, lease time.Duration, maxAttempts int) (*models.FulfillmentJob, error) {
	args := []any{enums.FulfillmentJobQueued, now, enums.FulfillmentJobProcessing, now, maxAttempts}

	var candidates []uuid.UUID
	if err := r.db.WithContext(ctx).
		Model(&models.FulfillmentJob{}).
		Where(claimable, args...).
		Order("next_run_at ASC").
		Order("created_at ASC").
		Limit(claimCandidates).
		Pluck("id", &candidates).Error; err != nil {
		return nil, err
	}

	lockedUntil := now.Add(lease)
	for _, id := range candidates {
		res := r.db.WithContext(ctx).
			Model(&models.FulfillmentJob{}).
			Where("id = ?", id).
			Where(claimable, args...).
			Updates(map[string]any{
				"status":       enums.FulfillmentJobProcessing,
				"locked_by":    workerID,
				"locked_until": lockedUntil,
				"attempts":     gorm.Expr("attempts + 1"),
				"updated_at":   now,
			})
		if res.Error != nil {
			return nil, res.Error
		}
		if res.RowsAffected == 0 {
			continue
		}
		return r.FindByID(ctx, id)
	}
	return nil, nil
}

// DeadLetterAbandoned parks jobs whose lease expired on their last allowed
// attempt. These are jobs that took the worker down every time they ran.
func (r *Repository) DeadLetterAbandoned(ctx context.Context, now time.Time, maxAttempts int) (int64, error) {
	res := r.db.WithContext(ctx).
		Model(&models.FulfillmentJob{}).
		Where("status = ? AND locked_until < ? AND attempts >= ?", enums.FulfillmentJobProcessing, now, maxAttempts).
		Updates(map[string]any{
			"status":       enums.FulfillmentJobDeadLettered,
			"locked_by":    nil,
			"locked_until": nil,
			"last_error":   fmt.Sprintf("lease expired after %d attempts", maxAttempts),
			"updated_at":   now,
		})
	return res.RowsAffected, res.Error
}

// MarkSucceeded completes a job still held by workerID.
func (r *Repository) MarkSucceeded(ctx context.Context, id uuid.UUID, workerID string, now time.Time) (bool, error) {
	return r.release(ctx, id, workerID, map[string]any{
		"status":       enums.FulfillmentJobSucceeded,
		"completed_at": now,
		"last_error":   nil,
	})
}

// ScheduleRetry puts a job held by workerID back in the queue at nextRunAt.
func (r *Repository) ScheduleRetry(ctx context.Context, id uuid.UUID, workerID string, nextRunAt time.Time, cause error) (bool, error) {
	return r.release(ctx, id, workerID, map[string]any{
		"status":      enums.FulfillmentJobQueued,
		"next_run_at": nextRunAt,
		"last_error":  truncateError(cause),
	})
}

// MarkDeadLettered parks a job held by workerID for operator review.
func (r *Repository) MarkDeadLettered(ctx context.Context, id uuid.UUID, workerID string, cause error) (bool, error) {
	return r.release(ctx, id, workerID, map[string]any{
		"status":     enums.FulfillmentJobDeadLettered,
		"last_error": truncateError(cause),
	})
}

func (r *Repository) release(ctx context.Context, id uuid.UUID, workerID string, updates map[string]any) (bool, error) {
	updates["locked_by"] = nil
	updates["locked_until"] = nil
	res := r.db.WithContext(ctx).
		Model(&models.FulfillmentJob{}).
		Where("id = ? AND status = ? AND locked_by = ?", id, enums.FulfillmentJobProcessing, workerID).
		Updates(updates)
	return res.RowsAffected == 1, res.Error
}

// Requeue moves a dead-lettered job back to the queue with a fresh attempt budget.
func (r *Repository) Requeue(ctx context.Context, id uuid.UUID, now time.Time) (bool, error) {
	res := r.db.WithContext(ctx).
		Model(&models.FulfillmentJob{}).
		Where("id = ? AND status = ?", id, enums.FulfillmentJobDeadLettered).
		Updates(map[string]any{
			"status":      enums.FulfillmentJobQueued,
			"attempts":    0,
			"next_run_at": now,
		})
	return res.RowsAffected == 1, res.Error
}

func (r *Repository) FindByID(ctx context.Context, id uuid.UUID) (*models.FulfillmentJob, error) {
	var job models.FulfillmentJob
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&job).Error; err != nil {
		return nil, err
	}
	return &job, nil
}

// FindByReference returns nil when no job exists for the reference.
func (r *Repository) FindByReference(ctx context.Context, reference string) (*models.FulfillmentJob, error) {
	var job models.FulfillmentJob
	err := r.db.WithContext(ctx).Where("transaction_reference = ?", reference).First(&job).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &job, nil
}

// ListByStatus pages through jobs newest first.
func (r *Repository) ListByStatus(ctx context.Context, status enums.FulfillmentJobStatus, limit int, cursor *pagination.Cursor) ([]models.FulfillmentJob, error) {
	query := r.db.WithContext(ctx).
		Model(&models.FulfillmentJob{}).
		Where("status = ?", status)
	if cursor != nil {
		query = query.Where("((created_at < ?) OR (created_at = ? AND id < ?))", cursor.CreatedAt, cursor.CreatedAt, cursor.ID)
	}
	var rows []models.FulfillmentJob
	err := query.
		Order("created_at DESC").
		Order("id DESC").
		Limit(limit).
		Find(&rows).Error
	return rows, err
}

// DeleteSucceededBefore prunes completed jobs older than cutoff.
func (r *Repository) DeleteSucceededBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	res := r.db.WithContext(ctx).
		Where("status = ? AND completed_at < ?", enums.FulfillmentJobSucceeded, cutoff).
		Delete(&models.FulfillmentJob{})
	return res.RowsAffected, res.Error
}

func truncateError(err error) *string {
	if err == nil {
		return nil
	}
	msg := err.Error()
	if len(msg) > maxLastErrorLen {
		msg = msg[:maxLastErrorLen]
	}
	return &msg
}
