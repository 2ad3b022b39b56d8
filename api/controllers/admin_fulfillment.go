package controllers

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/angelmondragon/marketplace-fulfillment/internal/queue"
	"github.com/angelmondragon/marketplace-fulfillment/pkg/db/models"
	"github.com/angelmondragon/marketplace-fulfillment/pkg/enums"
	pkgerrors "github.com/angelmondragon/marketplace-fulfillment/pkg/errors"
	"github.com/angelmondragon/marketplace-fulfillment/pkg/logger"
	"github.com/angelmondragon/marketplace-fulfillment/pkg/outbox"
	"github.com/angelmondragon/marketplace-fulfillment/pkg/pagination"

	"github.com/angelmondragon/marketplace-fulfillment/api/responses"
	"github.com/angelmondragon/marketplace-fulfillment/api/validators"
)

type deadLetterQueue interface {
	ListDeadLettered(ctx context.Context, params pagination.Params) (queue.ListResult, error)
	Requeue(ctx context.Context, jobID uuid.UUID) (*queue.JobView, error)
}

type outboxDLQReader interface {
	List(ctx context.Context, filter outbox.DLQFilter) ([]models.OutboxDLQ, error)
}

// AdminDeadLetteredJobs pages through fulfillment jobs that exhausted their retries.
func AdminDeadLetteredJobs(jobs deadLetterQueue, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if jobs == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "fulfillment queue unavailable"))
			return
		}

		limit, err := validators.ParseQueryInt(r, "limit", pagination.DefaultLimit, 1, pagination.MaxLimit)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		params := pagination.Params{
			Limit:  limit,
			Cursor: strings.TrimSpace(r.URL.Query().Get("cursor")),
		}

		list, err := jobs.ListDeadLettered(r.Context(), params)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, list)
	}
}

// AdminRequeueJob gives a dead-lettered job a fresh attempt budget.
func AdminRequeueJob(jobs deadLetterQueue, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if jobs == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "fulfillment queue unavailable"))
			return
		}

		rawJobID := strings.TrimSpace(chi.URLParam(r, "jobId"))
		if rawJobID == "" {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeValidation, "job id is required"))
			return
		}
		jobID, err := uuid.Parse(rawJobID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid job id"))
			return
		}

		ctx := r.Context()
		if logg != nil {
			ctx = logg.WithField(ctx, "job_id", jobID.String())
		}
		view, err := jobs.Requeue(ctx, jobID)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		if logg != nil {
			logg.Info(logg.WithReference(ctx, view.TransactionReference), "fulfillment job requeued by operator")
		}
		responses.WriteSuccess(w, view)
	}
}

type outboxDLQResponse struct {
	ID            uuid.UUID                  `json:"id"`
	EventID       uuid.UUID                  `json:"event_id"`
	EventType     enums.OutboxEventType      `json:"event_type"`
	AggregateType enums.OutboxAggregateType  `json:"aggregate_type"`
	AggregateID   uuid.UUID                  `json:"aggregate_id"`
	Payload       json.RawMessage            `json:"payload"`
	ErrorReason   enums.OutboxDLQErrorReason `json:"error_reason"`
	ErrorMessage  *string                    `json:"error_message,omitempty"`
	AttemptCount  int                        `json:"attempt_count"`
	FailedAt      time.Time                  `json:"failed_at"`
}

// AdminOutboxDLQ lists outbox events the publisher gave up on, newest first.
// Optional ?reason= and ?order_id= narrow the listing.
func AdminOutboxDLQ(dlq outboxDLQReader, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if dlq == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "outbox dlq unavailable"))
			return
		}

		limit, err := validators.ParseQueryInt(r, "limit", pagination.DefaultLimit, 1, pagination.MaxLimit)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		filter := outbox.DLQFilter{Limit: limit}
		if raw := strings.TrimSpace(r.URL.Query().Get("reason")); raw != "" {
			reason := enums.OutboxDLQErrorReason(raw)
			if !reason.IsValid() {
				responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeValidation, "invalid reason"))
				return
			}
			filter.Reason = reason
		}
		if raw := strings.TrimSpace(r.URL.Query().Get("order_id")); raw != "" {
			orderID, err := uuid.Parse(raw)
			if err != nil {
				responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeValidation, "invalid order_id"))
				return
			}
			filter.AggregateID = orderID
		}

		rows, err := dlq.List(r.Context(), filter)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list outbox dlq"))
			return
		}
		items := make([]outboxDLQResponse, 0, len(rows))
		for _, row := range rows {
			items = append(items, outboxDLQResponse{
				ID:            row.ID,
				EventID:       row.EventID,
				EventType:     row.EventType,
				AggregateType: row.AggregateType,
				AggregateID:   row.AggregateID,
				Payload:       row.Payload,
				ErrorReason:   row.ErrorReason,
				ErrorMessage:  row.ErrorMessage,
				AttemptCount:  row.AttemptCount,
				FailedAt:      row.FailedAt,
			})
		}
		responses.WriteSuccess(w, map[string]any{"items": items})
	}
}
