package paymentwebhook

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	goredis "github.com/redis/go-redis/v9"

	"github.com/angelmondragon/marketplace-fulfillment/internal/queue"
	"github.com/angelmondragon/marketplace-fulfillment/pkg/db/models"
	"github.com/angelmondragon/marketplace-fulfillment/pkg/enums"
	pkgerrors "github.com/angelmondragon/marketplace-fulfillment/pkg/errors"
	"github.com/angelmondragon/marketplace-fulfillment/pkg/square"
	"github.com/angelmondragon/marketplace-fulfillment/pkg/types"
)

type memoryStore struct {
	mu   sync.Mutex
	data map[string]string
}

func newMemoryStore() *memoryStore {
	return &memoryStore{data: map[string]string{}}
}

func (m *memoryStore) Get(_ context.Context, key string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.data[key]
	if !ok {
		return "", goredis.Nil
	}
	return v, nil
}

func (m *memoryStore) SetNX(_ context.Context, key string, value any, _ time.Duration) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.data[key]; ok {
		return false, nil
	}
	m.data[key] = "1"
	return true, nil
}

func (m *memoryStore) IdempotencyKey(scope, id string) string {
	return scope + ":" + id
}

func (m *memoryStore) Del(_ context.Context, keys ...string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, k := range keys {
		delete(m.data, k)
	}
	return nil
}

type fakePayments struct {
	payment *square.Payment
	err     error
	delay   time.Duration
	calls   int
}

func (f *fakePayments) GetPayment(ctx context.Context, _ string) (*square.Payment, error) {
	f.calls++
	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return f.payment, f.err
}

type fakeSessions struct {
	sessions map[uuid.UUID]*models.CheckoutSession
	err      error
}

func (f *fakeSessions) FindByID(_ context.Context, id uuid.UUID) (*models.CheckoutSession, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.sessions[id], nil
}

type fakeQueue struct {
	jobs map[string]types.FulfillmentJob
	ids  map[string]uuid.UUID
}

func newFakeQueue() *fakeQueue {
	return &fakeQueue{jobs: map[string]types.FulfillmentJob{}, ids: map[string]uuid.UUID{}}
}

func (f *fakeQueue) Enqueue(_ context.Context, job types.FulfillmentJob) (queue.EnqueueResult, error) {
	if id, ok := f.ids[job.TransactionReference]; ok {
		return queue.EnqueueResult{JobID: id, Created: false, Status: enums.FulfillmentJobSucceeded}, nil
	}
	id := uuid.New()
	f.ids[job.TransactionReference] = id
	f.jobs[job.TransactionReference] = job
	return queue.EnqueueResult{JobID: id, Created: true, Status: enums.FulfillmentJobQueued}, nil
}

type fixture struct {
	svc      *Service
	payments *fakePayments
	sessions *fakeSessions
	queue    *fakeQueue
	store    *memoryStore
	session  *models.CheckoutSession
}

func newFixture(t *testing.T) fixture {
	t.Helper()
	seller := uuid.New()
	session := &models.CheckoutSession{
		ID:         uuid.New(),
		BuyerID:    uuid.New(),
		BuyerEmail: "buyer@example.com",
		LineItems: types.CartLineItems{{
			ProductID:      uuid.New(),
			SellerID:       seller,
			Kind:           enums.ProductKindPhysical,
			Title:          "Mug",
			Quantity:       2,
			UnitPriceCents: 1000,
		}},
		ShippingSelections: types.ShippingSelections{seller.String(): {Method: "ground", CostCents: 500}},
		SubtotalCents:      2000,
		ShippingCents:      500,
		TotalCents:         2500,
		Currency:           enums.CurrencyUSD,
	}
	payments := &fakePayments{payment: &square.Payment{
		ID:          "pay_1",
		Status:      square.PaymentStatusCompleted,
		ReferenceID: session.ID.String(),
		AmountCents: 2500,
		Currency:    "USD",
	}}
	sessions := &fakeSessions{sessions: map[uuid.UUID]*models.CheckoutSession{session.ID: session}}
	q := newFakeQueue()
	store := newMemoryStore()
	guard, err := NewIdempotencyGuard(store, time.Hour, IdempotencyScope)
	if err != nil {
		t.Fatalf("guard: %v", err)
	}
	svc, err := NewService(ServiceParams{
		Payments:      payments,
		Sessions:      sessions,
		Queue:         q,
		Guard:         guard,
		VerifyTimeout: 50 * time.Millisecond,
	})
	if err != nil {
		t.Fatalf("service: %v", err)
	}
	return fixture{svc: svc, payments: payments, sessions: sessions, queue: q, store: store, session: session}
}

func codeOf(err error) pkgerrors.Code {
	if typed := pkgerrors.As(err); typed != nil {
		return typed.Code()
	}
	return ""
}

func TestAcceptEnqueuesVerifiedPayment(t *testing.T) {
	f := newFixture(t)

	res, err := f.svc.Accept(context.Background(), Notification{Reference: " pay_1 ", Status: "COMPLETED"})
	if err != nil {
		t.Fatalf("Accept: %v", err)
	}
	if res.Status != StatusQueued || res.JobID == nil {
		t.Fatalf("unexpected acceptance %+v", res)
	}
	job, ok := f.queue.jobs["pay_1"]
	if !ok {
		t.Fatal("job not enqueued")
	}
	if job.PaidAmountCents != 2500 || job.BuyerID != f.session.BuyerID || job.Currency != "USD" {
		t.Fatalf("unexpected job %+v", job)
	}
	if job.CheckoutSessionID == nil || *job.CheckoutSessionID != f.session.ID {
		t.Fatalf("job should carry the checkout session id")
	}
	if _, ok := job.ShippingSelections.For(f.session.LineItems[0].SellerID); !ok {
		t.Fatal("shipping selection not carried")
	}
}

func TestAcceptReplayIsDuplicate(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	if _, err := f.svc.Accept(ctx, Notification{Reference: "pay_1"}); err != nil {
		t.Fatalf("first Accept: %v", err)
	}
	res, err := f.svc.Accept(ctx, Notification{Reference: "pay_1"})
	if err != nil {
		t.Fatalf("replay Accept: %v", err)
	}
	if res.Status != StatusDuplicate {
		t.Fatalf("expected duplicate, got %s", res.Status)
	}
	if f.payments.calls != 1 {
		t.Fatalf("replay should not verify again, got %d calls", f.payments.calls)
	}
	if len(f.queue.jobs) != 1 {
		t.Fatalf("expected a single job, got %d", len(f.queue.jobs))
	}
}

func TestAcceptQueueAlreadyHoldsReference(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	if _, err := f.svc.Accept(ctx, Notification{Reference: "pay_1"}); err != nil {
		t.Fatalf("Accept: %v", err)
	}
	// Redis forgot the mark (eviction or TTL); the queue still dedups.
	_ = f.store.Del(ctx, f.store.IdempotencyKey(IdempotencyScope, "pay_1"))

	res, err := f.svc.Accept(ctx, Notification{Reference: "pay_1"})
	if err != nil {
		t.Fatalf("Accept: %v", err)
	}
	if res.Status != StatusDuplicate {
		t.Fatalf("expected duplicate from queue, got %s", res.Status)
	}
}

func TestAcceptRejectsUnverifiablePayments(t *testing.T) {
	cases := map[string]func(f fixture){
		"provider error": func(f fixture) { f.payments.err = errors.New("square down") },
		"not completed":  func(f fixture) { f.payments.payment.Status = "APPROVED" },
		"no reference":   func(f fixture) { f.payments.payment.ReferenceID = "" },
		"bad reference":  func(f fixture) { f.payments.payment.ReferenceID = "order-42" },
		"unknown session": func(f fixture) {
			f.payments.payment.ReferenceID = uuid.NewString()
		},
		"underpaid":         func(f fixture) { f.payments.payment.AmountCents = 2499 },
		"currency mismatch": func(f fixture) { f.payments.payment.Currency = "EUR" },
		"timeout":           func(f fixture) { f.payments.delay = time.Second },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			f := newFixture(t)
			mutate(f)
			_, err := f.svc.Accept(context.Background(), Notification{Reference: "pay_1"})
			if codeOf(err) != pkgerrors.CodeVerificationFailed {
				t.Fatalf("expected verification failure, got %v", err)
			}
			if len(f.queue.jobs) != 0 {
				t.Fatal("nothing may be enqueued")
			}
			if _, err := f.store.Get(context.Background(), f.store.IdempotencyKey(IdempotencyScope, "pay_1")); err != goredis.Nil {
				t.Fatal("idempotency mark must be cleared after a rejection")
			}
		})
	}
}

func TestAcceptRetryAfterRejectionIsReevaluated(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.payments.payment.Status = "PENDING"
	if _, err := f.svc.Accept(ctx, Notification{Reference: "pay_1"}); err == nil {
		t.Fatal("expected rejection while pending")
	}

	f.payments.payment.Status = square.PaymentStatusCompleted
	res, err := f.svc.Accept(ctx, Notification{Reference: "pay_1"})
	if err != nil {
		t.Fatalf("retry Accept: %v", err)
	}
	if res.Status != StatusQueued {
		t.Fatalf("expected queued on retry, got %s", res.Status)
	}
}

func TestAcceptSessionStoreOutageIsRetryable(t *testing.T) {
	f := newFixture(t)
	f.sessions.err = errors.New("db down")
	_, err := f.svc.Accept(context.Background(), Notification{Reference: "pay_1"})
	if codeOf(err) != pkgerrors.CodeDependency {
		t.Fatalf("expected dependency error, got %v", err)
	}
}

func TestAcceptRequiresReference(t *testing.T) {
	f := newFixture(t)
	_, err := f.svc.Accept(context.Background(), Notification{Reference: "  "})
	if codeOf(err) != pkgerrors.CodeValidation {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestValidSignature(t *testing.T) {
	payload := []byte(`{"reference":"pay_1","status":"COMPLETED"}`)
	sig := Sign(payload, "whsec")
	if !ValidSignature(payload, "whsec", sig) {
		t.Fatal("expected signature to validate")
	}
	if !ValidSignature(payload, "whsec", " "+sig+" ") {
		t.Fatal("surrounding whitespace should be ignored")
	}
	if ValidSignature(payload, "other", sig) {
		t.Fatal("wrong secret must fail")
	}
	if ValidSignature(append(payload, ' '), "whsec", sig) {
		t.Fatal("altered payload must fail")
	}
	if ValidSignature(payload, "whsec", "") || ValidSignature(payload, "", sig) {
		t.Fatal("empty header or secret must fail")
	}
}
