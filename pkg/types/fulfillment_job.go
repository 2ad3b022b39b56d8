package types

import (
	"database/sql/driver"
	"strings"

	"github.com/google/uuid"
)

// FulfillmentJob is the durable unit of work handed from the webhook receiver
// to the fulfillment engine. It is built only from provider-verified data and
// the stored checkout snapshot.
type FulfillmentJob struct {
	TransactionReference string             `json:"transaction_reference" validate:"required"`
	CheckoutSessionID    *uuid.UUID         `json:"checkout_session_id,omitempty"`
	BuyerID              uuid.UUID          `json:"buyer_id" validate:"required"`
	BuyerEmail           string             `json:"buyer_email" validate:"required,email"`
	CartLineItems        []CartLineItem     `json:"cart_line_items" validate:"required,min=1,dive"`
	ShippingSelections   ShippingSelections `json:"shipping_selections"`
	PaidAmountCents      int64              `json:"paid_amount_cents" validate:"gte=0"`
	Currency             string             `json:"currency" validate:"required,len=3"`
	DeliveryAddress      Address            `json:"delivery_address" validate:"-"`
}

// Normalize trims identifiers and upper-cases the currency.
func (j FulfillmentJob) Normalize() FulfillmentJob {
	j.TransactionReference = strings.TrimSpace(j.TransactionReference)
	j.BuyerEmail = strings.TrimSpace(strings.ToLower(j.BuyerEmail))
	j.Currency = strings.ToUpper(strings.TrimSpace(j.Currency))
	return j
}

// CartGrossCents sums every line at its effective unit price.
func (j FulfillmentJob) CartGrossCents() int64 {
	var total int64
	for _, line := range j.CartLineItems {
		total += line.GrossCents()
	}
	return total
}

// Value stores the job payload as JSON.
func (j FulfillmentJob) Value() (driver.Value, error) {
	return valueJSON(j)
}

// Scan reads the payload written by Value.
func (j *FulfillmentJob) Scan(src any) error {
	return scanJSON(src, j)
}
