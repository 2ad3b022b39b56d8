package orders

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/angelmondragon/marketplace-fulfillment/api/middleware"
	"github.com/angelmondragon/marketplace-fulfillment/api/responses"
	"github.com/angelmondragon/marketplace-fulfillment/api/validators"
	internalorders "github.com/angelmondragon/marketplace-fulfillment/internal/orders"
	"github.com/angelmondragon/marketplace-fulfillment/pkg/enums"
	pkgerrors "github.com/angelmondragon/marketplace-fulfillment/pkg/errors"
	"github.com/angelmondragon/marketplace-fulfillment/pkg/logger"
)

// StatusByReference answers "where is my order" for a payment reference.
// Until the worker commits the order only the queue status is returned.
func StatusByReference(svc internalorders.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "orders service unavailable"))
			return
		}

		userID, role, err := middleware.ActorFromContext(r.Context())
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		reference := validators.SanitizeString(chi.URLParam(r, "reference"), 255)
		if reference == "" {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeValidation, "reference is required"))
			return
		}

		ctx := r.Context()
		if logg != nil {
			ctx = logg.WithReference(ctx, reference)
		}
		status, err := svc.StatusByReference(ctx, reference, internalorders.Viewer{UserID: userID, Role: role})
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		responses.WriteSuccess(w, status)
	}
}

type deliveryStatusRequest struct {
	Status          string  `json:"status" validate:"required"`
	TrackingCarrier *string `json:"tracking_carrier,omitempty" validate:"omitempty,max=64"`
	TrackingNumber  *string `json:"tracking_number,omitempty" validate:"omitempty,max=128"`
}

// TransitionDelivery advances a sub-order's delivery status.
func TransitionDelivery(svc internalorders.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "orders service unavailable"))
			return
		}

		userID, role, err := middleware.ActorFromContext(r.Context())
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		subOrderID, err := uuid.Parse(strings.TrimSpace(chi.URLParam(r, "subOrderId")))
		if err != nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid sub-order id"))
			return
		}

		var payload deliveryStatusRequest
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		to, err := enums.ParseSubOrderDeliveryStatus(payload.Status)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid delivery status"))
			return
		}

		sub, err := svc.TransitionDelivery(r.Context(), internalorders.DeliveryTransitionInput{
			SubOrderID:      subOrderID,
			To:              to,
			TrackingCarrier: payload.TrackingCarrier,
			TrackingNumber:  payload.TrackingNumber,
			ActorUserID:     userID,
			ActorRole:       role,
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, sub)
	}
}
