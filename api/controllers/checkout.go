package controllers

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/angelmondragon/marketplace-fulfillment/api/middleware"
	"github.com/angelmondragon/marketplace-fulfillment/api/responses"
	"github.com/angelmondragon/marketplace-fulfillment/api/validators"
	checkoutsvc "github.com/angelmondragon/marketplace-fulfillment/internal/checkout"
	pkgerrors "github.com/angelmondragon/marketplace-fulfillment/pkg/errors"
	"github.com/angelmondragon/marketplace-fulfillment/pkg/logger"
)

// CaptureCheckout snapshots the buyer's cart into a checkout session whose id
// is later echoed back by the payment provider as reference_id.
func CaptureCheckout(svc checkoutsvc.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "checkout service unavailable"))
			return
		}

		buyerID, _, err := middleware.ActorFromContext(r.Context())
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		var payload checkoutsvc.CaptureInput
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		payload.BuyerEmail = validators.SanitizeString(payload.BuyerEmail, 320)

		session, err := svc.Capture(r.Context(), buyerID, payload)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccessStatus(w, http.StatusCreated, session)
	}
}

// GetCheckoutSession returns a session the caller captured earlier.
func GetCheckoutSession(svc checkoutsvc.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "checkout service unavailable"))
			return
		}

		buyerID, _, err := middleware.ActorFromContext(r.Context())
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		sessionID, err := uuid.Parse(strings.TrimSpace(chi.URLParam(r, "sessionId")))
		if err != nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid session id"))
			return
		}

		session, err := svc.Get(r.Context(), buyerID, sessionID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, session)
	}
}
