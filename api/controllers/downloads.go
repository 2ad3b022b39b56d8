package controllers

import (
	"context"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/angelmondragon/marketplace-fulfillment/api/responses"
	pkgerrors "github.com/angelmondragon/marketplace-fulfillment/pkg/errors"
	"github.com/angelmondragon/marketplace-fulfillment/pkg/logger"
)

type downloadRedeemer interface {
	Redeem(ctx context.Context, token string) (string, error)
}

// RedeemDownload exchanges a digital delivery token for a redirect to the
// signed storage object. Expired or exhausted grants answer 410.
func RedeemDownload(redeemer downloadRedeemer, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if redeemer == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "download service unavailable"))
			return
		}

		token := strings.TrimSpace(chi.URLParam(r, "token"))
		if token == "" {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeValidation, "download token required"))
			return
		}

		target, err := redeemer.Redeem(r.Context(), token)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		w.Header().Set("Cache-Control", "no-store")
		http.Redirect(w, r, target, http.StatusFound)
	}
}
