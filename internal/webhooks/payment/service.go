// Package paymentwebhook turns a signed payment notification into a queued
// fulfillment job after confirming the payment with the provider.
package paymentwebhook

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/marketplace-fulfillment/internal/queue"
	"github.com/angelmondragon/marketplace-fulfillment/pkg/db/models"
	pkgerrors "github.com/angelmondragon/marketplace-fulfillment/pkg/errors"
	"github.com/angelmondragon/marketplace-fulfillment/pkg/logger"
	"github.com/angelmondragon/marketplace-fulfillment/pkg/square"
	"github.com/angelmondragon/marketplace-fulfillment/pkg/types"
)

// Acceptance statuses.
const (
	StatusQueued    = "queued"
	StatusDuplicate = "duplicate"
)

const defaultVerifyTimeout = 5 * time.Second

// Notification is the webhook body. Only the reference is trusted, and only
// as a lookup key.
type Notification struct {
	Reference string `json:"reference"`
	Status    string `json:"status"`
}

// Acceptance is the webhook response body.
type Acceptance struct {
	Reference string     `json:"reference"`
	Status    string     `json:"status"`
	JobID     *uuid.UUID `json:"job_id,omitempty"`
}

type paymentVerifier interface {
	GetPayment(ctx context.Context, paymentID string) (*square.Payment, error)
}

type sessionStore interface {
	FindByID(ctx context.Context, id uuid.UUID) (*models.CheckoutSession, error)
}

type jobQueue interface {
	Enqueue(ctx context.Context, job types.FulfillmentJob) (queue.EnqueueResult, error)
}

type referenceGuard interface {
	CheckAndMark(ctx context.Context, reference string) (bool, error)
	Delete(ctx context.Context, reference string) error
}

type ServiceParams struct {
	Payments      paymentVerifier
	Sessions      sessionStore
	Queue         jobQueue
	Guard         referenceGuard
	VerifyTimeout time.Duration
	Logger        *logger.Logger
}

type Service struct {
	payments      paymentVerifier
	sessions      sessionStore
	queue         jobQueue
	guard         referenceGuard
	verifyTimeout time.Duration
	logg          *logger.Logger
}

func NewService(params ServiceParams) (*Service, error) {
	if params.Payments == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "payment verifier required")
	}
	if params.Sessions == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "checkout session store required")
	}
	if params.Queue == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "order queue required")
	}
	if params.Guard == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "idempotency guard required")
	}
	timeout := params.VerifyTimeout
	if timeout <= 0 {
		timeout = defaultVerifyTimeout
	}
	return &Service{
		payments:      params.Payments,
		sessions:      params.Sessions,
		queue:         params.Queue,
		guard:         params.Guard,
		verifyTimeout: timeout,
		logg:          params.Logger,
	}, nil
}

// Accept verifies the payment named by the notification and enqueues its
// fulfillment. It never waits for fulfillment to run.
func (s *Service) Accept(ctx context.Context, note Notification) (result *Acceptance, err error) {
	reference := strings.TrimSpace(note.Reference)
	if reference == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "reference is required")
	}
	if s.logg != nil {
		ctx = s.logg.WithReference(ctx, reference)
	}

	seen, err := s.guard.CheckAndMark(ctx, reference)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "check idempotency")
	}
	if seen {
		return &Acceptance{Reference: reference, Status: StatusDuplicate}, nil
	}
	defer func() {
		if err == nil {
			return
		}
		if delErr := s.guard.Delete(context.WithoutCancel(ctx), reference); delErr != nil && s.logg != nil {
			s.logg.Error(ctx, "failed to clear webhook idempotency mark", delErr)
		}
	}()

	payment, err := s.verify(ctx, reference)
	if err != nil {
		return nil, err
	}
	session, err := s.loadSession(ctx, payment)
	if err != nil {
		return nil, err
	}

	job := buildJob(reference, payment, session)
	enqueued, err := s.queue.Enqueue(ctx, job)
	if err != nil {
		return nil, err
	}

	status := StatusQueued
	if !enqueued.Created {
		status = StatusDuplicate
	}
	jobID := enqueued.JobID
	if s.logg != nil {
		logCtx := s.logg.WithFields(ctx, map[string]any{
			"job_id":              jobID.String(),
			"checkout_session_id": session.ID.String(),
			"status":              status,
		})
		s.logg.Info(logCtx, "payment webhook accepted")
	}
	return &Acceptance{Reference: reference, Status: status, JobID: &jobID}, nil
}

// verify asks the provider for the payment under a bounded deadline.
func (s *Service) verify(ctx context.Context, reference string) (*square.Payment, error) {
	verifyCtx, cancel := context.WithTimeout(ctx, s.verifyTimeout)
	defer cancel()

	payment, err := s.payments.GetPayment(verifyCtx, reference)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeVerificationFailed, err, "payment could not be verified")
	}
	if payment == nil || !payment.Completed() {
		status := ""
		if payment != nil {
			status = payment.Status
		}
		return nil, pkgerrors.New(pkgerrors.CodeVerificationFailed, "payment is not completed").
			WithDetails(map[string]any{"status": status})
	}
	if strings.TrimSpace(payment.ReferenceID) == "" {
		return nil, pkgerrors.New(pkgerrors.CodeVerificationFailed, "payment has no checkout reference")
	}
	return payment, nil
}

func (s *Service) loadSession(ctx context.Context, payment *square.Payment) (*models.CheckoutSession, error) {
	sessionID, err := uuid.Parse(strings.TrimSpace(payment.ReferenceID))
	if err != nil {
		return nil, pkgerrors.New(pkgerrors.CodeVerificationFailed, "payment reference is not a checkout session")
	}
	session, err := s.sessions.FindByID(ctx, sessionID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load checkout session")
	}
	if session == nil {
		return nil, pkgerrors.New(pkgerrors.CodeVerificationFailed, "checkout session not found")
	}
	if payment.AmountCents < session.TotalCents {
		return nil, pkgerrors.New(pkgerrors.CodeVerificationFailed, "paid amount is below the checkout total").
			WithDetails(map[string]any{"paid_cents": payment.AmountCents, "total_cents": session.TotalCents})
	}
	if payment.Currency != "" && !strings.EqualFold(payment.Currency, session.Currency.String()) {
		return nil, pkgerrors.New(pkgerrors.CodeVerificationFailed, fmt.Sprintf("payment currency %s does not match checkout", payment.Currency))
	}
	return session, nil
}

// buildJob combines provider-verified amounts with the stored snapshot.
func buildJob(reference string, payment *square.Payment, session *models.CheckoutSession) types.FulfillmentJob {
	email := session.BuyerEmail
	if email == "" {
		email = payment.BuyerEmail
	}
	sessionID := session.ID
	items := make([]types.CartLineItem, len(session.LineItems))
	copy(items, session.LineItems)
	return types.FulfillmentJob{
		TransactionReference: reference,
		CheckoutSessionID:    &sessionID,
		BuyerID:              session.BuyerID,
		BuyerEmail:           email,
		CartLineItems:        items,
		ShippingSelections:   session.ShippingSelections,
		PaidAmountCents:      payment.AmountCents,
		Currency:             session.Currency.String(),
		DeliveryAddress:      session.DeliveryAddress,
	}
}
