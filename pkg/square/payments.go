package square

import (
	"context"
	"strings"

	sq "github.com/square/square-go-sdk"

	pkgerrors "github.com/angelmondragon/marketplace-fulfillment/pkg/errors"
)

// PaymentStatusCompleted is the only status the fulfillment pipeline accepts.
const PaymentStatusCompleted = "COMPLETED"

// Payment is the provider's authoritative view of a payment.
type Payment struct {
	ID          string
	Status      string
	ReferenceID string
	OrderID     string
	AmountCents int64
	Currency    string
	BuyerEmail  string
}

// Completed reports whether the provider captured the funds.
func (p Payment) Completed() bool {
	return strings.EqualFold(p.Status, PaymentStatusCompleted)
}

// GetPayment fetches a payment by id straight from Square.
func (c *Client) GetPayment(ctx context.Context, paymentID string) (*Payment, error) {
	if c == nil || c.payments == nil {
		return nil, errAccessTokenRequired
	}
	paymentID = strings.TrimSpace(paymentID)
	if paymentID == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "payment id is required")
	}
	c.log(ctx, "request", "get_payment", map[string]any{"payment_id": paymentID})

	resp, err := c.payments.Get(ctx, &sq.GetPaymentsRequest{PaymentID: paymentID})
	if err != nil {
		c.log(ctx, "error", "get_payment", map[string]any{"error": err.Error()})
		return nil, c.mapSquareError(err, "get payment")
	}

	payment := resp.GetPayment()
	if payment == nil {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "square payment missing from response")
	}
	out := toPayment(payment)
	c.log(ctx, "response", "get_payment", map[string]any{
		"payment_id": out.ID,
		"status":     out.Status,
		"amount":     out.AmountCents,
	})
	return &out, nil
}

func toPayment(p *sq.Payment) Payment {
	out := Payment{
		ID:          stringValue(p.GetID()),
		Status:      strings.ToUpper(stringValue(p.GetStatus())),
		ReferenceID: strings.TrimSpace(stringValue(p.GetReferenceID())),
		OrderID:     stringValue(p.GetOrderID()),
		BuyerEmail:  stringValue(p.GetBuyerEmailAddress()),
	}
	if money := p.GetAmountMoney(); money != nil {
		if amount := money.GetAmount(); amount != nil {
			out.AmountCents = *amount
		}
		if currency := money.GetCurrency(); currency != nil {
			out.Currency = string(*currency)
		}
	}
	return out
}
