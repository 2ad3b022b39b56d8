package webhooks

import (
	"context"
	"encoding/json"
	"io"
	"net/http"

	"github.com/angelmondragon/marketplace-fulfillment/api/responses"
	paymentwebhook "github.com/angelmondragon/marketplace-fulfillment/internal/webhooks/payment"
	pkgerrors "github.com/angelmondragon/marketplace-fulfillment/pkg/errors"
	"github.com/angelmondragon/marketplace-fulfillment/pkg/logger"
	"github.com/angelmondragon/marketplace-fulfillment/pkg/metrics"
)

const maxWebhookBody = 64 << 10

type PaymentWebhookService interface {
	Accept(ctx context.Context, note paymentwebhook.Notification) (*paymentwebhook.Acceptance, error)
}

// PaymentWebhook receives payment-completed notifications. The body is only
// a hint; the service confirms the payment with the provider before queuing.
func PaymentWebhook(svc PaymentWebhookService, secret string, m *metrics.WebhookMetrics, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		if svc == nil {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeInternal, "webhook service unavailable"))
			return
		}

		payload, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBody))
		if err != nil {
			m.Inc(metrics.WebhookOutcomeMalformed)
			responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "read request body"))
			return
		}

		if !paymentwebhook.ValidSignature(payload, secret, r.Header.Get(paymentwebhook.SignatureHeader)) {
			m.Inc(metrics.WebhookOutcomeSignatureInvalid)
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeUnauthorized, "invalid payment signature"))
			return
		}

		var note paymentwebhook.Notification
		if err := json.Unmarshal(payload, &note); err != nil {
			m.Inc(metrics.WebhookOutcomeMalformed)
			responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "decode notification"))
			return
		}

		res, err := svc.Accept(ctx, note)
		if err != nil {
			switch pkgerrors.As(err).Code() {
			case pkgerrors.CodeValidation:
				m.Inc(metrics.WebhookOutcomeMalformed)
			case pkgerrors.CodeVerificationFailed:
				m.Inc(metrics.WebhookOutcomeVerificationFailed)
			default:
				m.Inc(metrics.WebhookOutcomeError)
			}
			responses.WriteError(ctx, logg, w, err)
			return
		}

		m.Inc(res.Status)
		responses.WriteSuccess(w, res)
	}
}
