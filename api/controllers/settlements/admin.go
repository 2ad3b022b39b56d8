package settlements

import (
	"context"
	"net/http"

	"github.com/google/uuid"

	"github.com/angelmondragon/marketplace-fulfillment/api/responses"
	"github.com/angelmondragon/marketplace-fulfillment/api/validators"
	"github.com/angelmondragon/marketplace-fulfillment/pkg/db/models"
	pkgerrors "github.com/angelmondragon/marketplace-fulfillment/pkg/errors"
	"github.com/angelmondragon/marketplace-fulfillment/pkg/logger"
)

// PayoutTransitions moves settlement records through the payout lifecycle.
type PayoutTransitions interface {
	MarkProcessing(ctx context.Context, id uuid.UUID, payoutAccountRef string) (*models.SettlementRecord, error)
	MarkPaid(ctx context.Context, id uuid.UUID, payoutReference string) (*models.SettlementRecord, error)
	MarkFailed(ctx context.Context, id uuid.UUID, reason string) (*models.SettlementRecord, error)
	RetryFailed(ctx context.Context, id uuid.UUID) (*models.SettlementRecord, error)
}

type processingRequest struct {
	PayoutAccountRef string `json:"payout_account_ref" validate:"omitempty,max=255"`
}

type paidRequest struct {
	PayoutReference string `json:"payout_reference" validate:"omitempty,max=255"`
}

type failedRequest struct {
	Reason string `json:"reason" validate:"required,max=1000"`
}

// MarkProcessing: PENDING -> PROCESSING.
func MarkProcessing(svc PayoutTransitions, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := settlementID(w, r, svc, logg)
		if !ok {
			return
		}
		var payload processingRequest
		if !decodeOptional(w, r, &payload, logg) {
			return
		}
		record, err := svc.MarkProcessing(r.Context(), id, payload.PayoutAccountRef)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		writeRecord(w, record)
	}
}

// MarkPaid: PROCESSING -> PAID. The seller's pending balance moves to earnings.
func MarkPaid(svc PayoutTransitions, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := settlementID(w, r, svc, logg)
		if !ok {
			return
		}
		var payload paidRequest
		if !decodeOptional(w, r, &payload, logg) {
			return
		}
		record, err := svc.MarkPaid(r.Context(), id, payload.PayoutReference)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		writeRecord(w, record)
	}
}

func MarkFailed(svc PayoutTransitions, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := settlementID(w, r, svc, logg)
		if !ok {
			return
		}
		var payload failedRequest
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		record, err := svc.MarkFailed(r.Context(), id, validators.SanitizeString(payload.Reason, 1000))
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		writeRecord(w, record)
	}
}

func RetryFailed(svc PayoutTransitions, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := settlementID(w, r, svc, logg)
		if !ok {
			return
		}
		record, err := svc.RetryFailed(r.Context(), id)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		writeRecord(w, record)
	}
}

func settlementID(w http.ResponseWriter, r *http.Request, svc PayoutTransitions, logg *logger.Logger) (uuid.UUID, bool) {
	if svc == nil {
		responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "settlement service unavailable"))
		return uuid.Nil, false
	}
	id, err := parseUUIDParam(r, "settlementId", "invalid settlement id")
	if err != nil {
		responses.WriteError(r.Context(), logg, w, err)
		return uuid.Nil, false
	}
	return id, true
}

// decodeOptional accepts an empty body for transitions whose fields are optional.
func decodeOptional(w http.ResponseWriter, r *http.Request, dest any, logg *logger.Logger) bool {
	if r.ContentLength == 0 {
		return true
	}
	if err := validators.DecodeJSONBody(r, dest); err != nil {
		responses.WriteError(r.Context(), logg, w, err)
		return false
	}
	return true
}
