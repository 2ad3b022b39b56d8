package middleware

import (
	"net/http"
	"slices"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/angelmondragon/marketplace-fulfillment/api/responses"
	"github.com/angelmondragon/marketplace-fulfillment/pkg/enums"
	pkgerrors "github.com/angelmondragon/marketplace-fulfillment/pkg/errors"
	"github.com/angelmondragon/marketplace-fulfillment/pkg/logger"
)

// RequireRole admits callers whose token role is one of allowed.
func RequireRole(logg *logger.Logger, allowed ...enums.ActorRole) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !slices.Contains(allowed, RoleFromContext(r.Context())) {
				responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeForbidden, "role not permitted"))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// SellerScope restricts a seller-addressed route to the seller it names.
// Admins may read any seller; a seller's user_id is their sellerRef.
func SellerScope(param string, logg *logger.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			sellerID, err := uuid.Parse(chi.URLParam(r, param))
			if err != nil {
				responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid seller id"))
				return
			}
			userID, role, err := ActorFromContext(ctx)
			if err != nil {
				responses.WriteError(ctx, logg, w, err)
				return
			}
			switch role {
			case enums.ActorRoleAdmin:
			case enums.ActorRoleSeller:
				if userID != sellerID {
					responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeForbidden, "seller may only access own records"))
					return
				}
			default:
				responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeForbidden, "role not permitted"))
				return
			}
			if logg != nil {
				ctx = logg.WithSellerID(ctx, sellerID.String())
			}
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
