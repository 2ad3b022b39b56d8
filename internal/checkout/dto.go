package checkout

import (
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/marketplace-fulfillment/pkg/db/models"
	"github.com/angelmondragon/marketplace-fulfillment/pkg/types"
)

// ItemInput is one requested cart line. Prices and sellers are resolved
// server-side from the catalog.
type ItemInput struct {
	ProductID uuid.UUID  `json:"product_id" validate:"required"`
	VariantID *uuid.UUID `json:"variant_id,omitempty"`
	Quantity  int        `json:"quantity" validate:"required,gt=0"`
}

// CaptureInput is the request body of POST /api/v1/checkout/sessions.
type CaptureInput struct {
	BuyerEmail         string                   `json:"buyer_email" validate:"required,email"`
	Items              []ItemInput              `json:"items" validate:"required,min=1,dive"`
	ShippingSelections types.ShippingSelections `json:"shipping_selections"`
	DeliveryAddress    *types.Address           `json:"delivery_address,omitempty"`
	Currency           string                   `json:"currency" validate:"omitempty,len=3"`
}

// SessionDTO is returned to the buyer; ID is the value to send to the
// payment provider as reference_id.
type SessionDTO struct {
	ID                 uuid.UUID                `json:"id"`
	BuyerID            uuid.UUID                `json:"buyer_id"`
	LineItems          []types.CartLineItem     `json:"line_items"`
	ShippingSelections types.ShippingSelections `json:"shipping_selections"`
	SubtotalCents      int64                    `json:"subtotal_cents"`
	ShippingCents      int64                    `json:"shipping_cents"`
	TotalCents         int64                    `json:"total_cents"`
	Currency           string                   `json:"currency"`
	CreatedAt          time.Time                `json:"created_at"`
}

func toSessionDTO(session *models.CheckoutSession) *SessionDTO {
	if session == nil {
		return nil
	}
	items := make([]types.CartLineItem, len(session.LineItems))
	copy(items, session.LineItems)
	return &SessionDTO{
		ID:                 session.ID,
		BuyerID:            session.BuyerID,
		LineItems:          items,
		ShippingSelections: session.ShippingSelections,
		SubtotalCents:      session.SubtotalCents,
		ShippingCents:      session.ShippingCents,
		TotalCents:         session.TotalCents,
		Currency:           session.Currency.String(),
		CreatedAt:          session.CreatedAt,
	}
}
