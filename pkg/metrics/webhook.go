package metrics

import "github.com/prometheus/client_golang/prometheus"

// Webhook outcomes.
const (
	WebhookOutcomeQueued             = "queued"
	WebhookOutcomeDuplicate          = "duplicate"
	WebhookOutcomeSignatureInvalid   = "signature_invalid"
	WebhookOutcomeMalformed          = "malformed"
	WebhookOutcomeVerificationFailed = "verification_failed"
	WebhookOutcomeError              = "error"
)

// WebhookMetrics counts payment webhook deliveries by outcome.
type WebhookMetrics struct {
	requests *prometheus.CounterVec
}

func NewWebhookMetrics(reg prometheus.Registerer) *WebhookMetrics {
	if reg == nil {
		return &WebhookMetrics{}
	}
	requests := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "payment_webhook_requests_total",
		Help:      "Payment webhook deliveries by outcome.",
	}, []string{"outcome"})
	reg.MustRegister(requests)
	return &WebhookMetrics{requests: requests}
}

func (w *WebhookMetrics) Inc(outcome string) {
	if w == nil || w.requests == nil {
		return
	}
	w.requests.WithLabelValues(normalizeLabel(outcome)).Inc()
}
