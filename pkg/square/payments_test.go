package square

import (
	"context"
	"errors"
	"net/http"
	"testing"

	sq "github.com/square/square-go-sdk"
	sqcore "github.com/square/square-go-sdk/core"
	sqoption "github.com/square/square-go-sdk/option"

	pkgerrors "github.com/angelmondragon/marketplace-fulfillment/pkg/errors"
)

type fakePayments struct {
	resp    *sq.GetPaymentResponse
	err     error
	lastReq *sq.GetPaymentsRequest
}

func (f *fakePayments) Get(_ context.Context, req *sq.GetPaymentsRequest, _ ...sqoption.RequestOption) (*sq.GetPaymentResponse, error) {
	f.lastReq = req
	return f.resp, f.err
}

func strPtr(v string) *string { return &v }

func TestGetPaymentMapsProviderFields(t *testing.T) {
	amount := int64(4599)
	currency := sq.Currency("USD")
	fake := &fakePayments{resp: &sq.GetPaymentResponse{Payment: &sq.Payment{
		ID:                strPtr("pay_123"),
		Status:            strPtr("completed"),
		ReferenceID:       strPtr(" 7f8e0b5e-1a1d-4a53-9d89-5d1f4a0f9b10 "),
		BuyerEmailAddress: strPtr("buyer@example.com"),
		AmountMoney:       &sq.Money{Amount: &amount, Currency: &currency},
	}}}
	client := &Client{payments: fake}

	payment, err := client.GetPayment(context.Background(), " pay_123 ")
	if err != nil {
		t.Fatalf("GetPayment: %v", err)
	}
	if fake.lastReq.PaymentID != "pay_123" {
		t.Fatalf("expected trimmed payment id, got %q", fake.lastReq.PaymentID)
	}
	if !payment.Completed() {
		t.Fatalf("expected completed payment, got %q", payment.Status)
	}
	if payment.AmountCents != 4599 || payment.Currency != "USD" {
		t.Fatalf("unexpected amount %d %s", payment.AmountCents, payment.Currency)
	}
	if payment.ReferenceID != "7f8e0b5e-1a1d-4a53-9d89-5d1f4a0f9b10" {
		t.Fatalf("unexpected reference id %q", payment.ReferenceID)
	}
}

func TestGetPaymentErrors(t *testing.T) {
	if _, err := (&Client{payments: &fakePayments{}}).GetPayment(context.Background(), " "); pkgerrors.As(err).Code() != pkgerrors.CodeValidation {
		t.Fatalf("expected validation error, got %v", err)
	}

	missing := &Client{payments: &fakePayments{resp: &sq.GetPaymentResponse{}}}
	if _, err := missing.GetPayment(context.Background(), "pay_1"); pkgerrors.As(err).Code() != pkgerrors.CodeNotFound {
		t.Fatalf("expected not found for empty response, got %v", err)
	}

	upstream := &Client{payments: &fakePayments{err: sqcore.NewAPIError(http.StatusBadGateway, errors.New("bad gateway"))}}
	_, err := upstream.GetPayment(context.Background(), "pay_1")
	if !pkgerrors.IsRetryable(err) {
		t.Fatalf("expected retryable dependency error, got %v", err)
	}

	var nilClient *Client
	if _, err := nilClient.GetPayment(context.Background(), "pay_1"); err == nil {
		t.Fatal("expected error from nil client")
	}
}

func TestNormalizeEnv(t *testing.T) {
	if env, err := normalizeEnv(""); err != nil || env != sandboxEnv {
		t.Fatalf("expected sandbox default, got %q %v", env, err)
	}
	if _, err := normalizeEnv("staging"); err == nil {
		t.Fatal("expected unknown env to fail")
	}
}
