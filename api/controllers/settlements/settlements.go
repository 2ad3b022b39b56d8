package settlements

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/angelmondragon/marketplace-fulfillment/api/responses"
	"github.com/angelmondragon/marketplace-fulfillment/api/validators"
	internalsettlements "github.com/angelmondragon/marketplace-fulfillment/internal/settlements"
	"github.com/angelmondragon/marketplace-fulfillment/pkg/db/models"
	"github.com/angelmondragon/marketplace-fulfillment/pkg/enums"
	pkgerrors "github.com/angelmondragon/marketplace-fulfillment/pkg/errors"
	"github.com/angelmondragon/marketplace-fulfillment/pkg/logger"
	"github.com/angelmondragon/marketplace-fulfillment/pkg/pagination"
)

// SellerLedger is the read side of the settlement ledger.
type SellerLedger interface {
	ListBySeller(ctx context.Context, sellerID uuid.UUID, params internalsettlements.ListParams) (*internalsettlements.ListResult, error)
	Account(ctx context.Context, sellerID uuid.UUID) (*internalsettlements.AccountView, error)
}

// List returns a seller's settlement records, optionally filtered by payout status.
func List(svc SellerLedger, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "settlement service unavailable"))
			return
		}

		sellerID, err := parseUUIDParam(r, "sellerId", "invalid seller id")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		limit, err := validators.ParseQueryInt(r, "limit", pagination.DefaultLimit, 1, pagination.MaxLimit)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		params := internalsettlements.ListParams{
			Params: pagination.Params{
				Limit:  limit,
				Cursor: strings.TrimSpace(r.URL.Query().Get("cursor")),
			},
		}
		if raw := strings.TrimSpace(r.URL.Query().Get("status")); raw != "" {
			status, err := enums.ParsePayoutStatus(strings.ToUpper(raw))
			if err != nil {
				responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid status filter"))
				return
			}
			params.Status = &status
		}

		result, err := svc.ListBySeller(r.Context(), sellerID, params)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		items := make([]recordResponse, 0, len(result.Items))
		for i := range result.Items {
			items = append(items, newRecordResponse(&result.Items[i]))
		}
		responses.WriteSuccess(w, listResponse{Items: items, NextCursor: result.NextCursor})
	}
}

// Account returns the seller's pending balance and total earnings.
func Account(svc SellerLedger, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "settlement service unavailable"))
			return
		}

		sellerID, err := parseUUIDParam(r, "sellerId", "invalid seller id")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		view, err := svc.Account(r.Context(), sellerID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, view)
	}
}

func parseUUIDParam(r *http.Request, name, message string) (uuid.UUID, error) {
	id, err := uuid.Parse(strings.TrimSpace(chi.URLParam(r, name)))
	if err != nil {
		return uuid.Nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, message)
	}
	return id, nil
}

type listResponse struct {
	Items      []recordResponse `json:"items"`
	NextCursor string           `json:"next_cursor,omitempty"`
}

type recordResponse struct {
	ID               uuid.UUID          `json:"id"`
	SellerID         uuid.UUID          `json:"seller_id"`
	OrderID          uuid.UUID          `json:"order_id"`
	SubOrderID       uuid.UUID          `json:"sub_order_id"`
	GrossCents       int64              `json:"gross_cents"`
	PlatformFeeCents int64              `json:"platform_fee_cents"`
	SettleCents      int64              `json:"settle_cents"`
	Currency         enums.Currency     `json:"currency"`
	PayoutStatus     enums.PayoutStatus `json:"payout_status"`
	PayoutAccountRef *string            `json:"payout_account_ref,omitempty"`
	PayoutReference  *string            `json:"payout_reference,omitempty"`
	FailureReason    *string            `json:"failure_reason,omitempty"`
	ProcessingAt     *time.Time         `json:"processing_at,omitempty"`
	PaidAt           *time.Time         `json:"paid_at,omitempty"`
	FailedAt         *time.Time         `json:"failed_at,omitempty"`
	CreatedAt        time.Time          `json:"created_at"`
}

func newRecordResponse(record *models.SettlementRecord) recordResponse {
	return recordResponse{
		ID:               record.ID,
		SellerID:         record.SellerID,
		OrderID:          record.OrderID,
		SubOrderID:       record.SubOrderID,
		GrossCents:       record.GrossCents,
		PlatformFeeCents: record.PlatformFeeCents,
		SettleCents:      record.SettleCents,
		Currency:         record.Currency,
		PayoutStatus:     record.PayoutStatus,
		PayoutAccountRef: record.PayoutAccountRef,
		PayoutReference:  record.PayoutReference,
		FailureReason:    record.FailureReason,
		ProcessingAt:     record.ProcessingAt,
		PaidAt:           record.PaidAt,
		FailedAt:         record.FailedAt,
		CreatedAt:        record.CreatedAt,
	}
}

func writeRecord(w http.ResponseWriter, record *models.SettlementRecord) {
	if record == nil {
		responses.WriteSuccess(w, nil)
		return
	}
	responses.WriteSuccess(w, newRecordResponse(record))
}
