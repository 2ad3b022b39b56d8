package types

import (
	"database/sql/driver"
	"strings"

	"github.com/google/uuid"

	"github.com/angelmondragon/marketplace-fulfillment/pkg/enums"
)

// VariantSelection pins a sized product's label, price and stock counter at
// checkout time.
type VariantSelection struct {
	VariantID  uuid.UUID `json:"variant_id" validate:"required"`
	Label      string    `json:"label" validate:"required"`
	PriceCents int64     `json:"price_cents" validate:"gte=0"`
}

// CartLineItem is an immutable snapshot of one cart line captured at checkout.
type CartLineItem struct {
	ProductID       uuid.UUID         `json:"product_id" validate:"required"`
	SellerID        uuid.UUID         `json:"seller_id" validate:"required"`
	Kind            enums.ProductKind `json:"kind" validate:"required,oneof=physical digital"`
	Title           string            `json:"title"`
	Quantity        int               `json:"quantity" validate:"gt=0"`
	UnitPriceCents  int64             `json:"unit_price_cents" validate:"gte=0"`
	SelectedVariant *VariantSelection `json:"selected_variant,omitempty" validate:"omitempty"`
	AssetKey        string            `json:"asset_key,omitempty"`
}

// EffectiveUnitPrice prefers the size-specific price when a variant was chosen.
func (l CartLineItem) EffectiveUnitPrice() int64 {
	if l.SelectedVariant != nil {
		return l.SelectedVariant.PriceCents
	}
	return l.UnitPriceCents
}

// GrossCents returns unit price times quantity.
func (l CartLineItem) GrossCents() int64 {
	return l.EffectiveUnitPrice() * int64(l.Quantity)
}

// DisplayTitle appends the size label for variant lines.
func (l CartLineItem) DisplayTitle() string {
	title := strings.TrimSpace(l.Title)
	if l.SelectedVariant != nil && l.SelectedVariant.Label != "" {
		return title + " (" + l.SelectedVariant.Label + ")"
	}
	return title
}

// CartLineItems is the jsonb column shape used by checkout sessions.
type CartLineItems []CartLineItem

func (c CartLineItems) Value() (driver.Value, error) {
	if c == nil {
		c = CartLineItems{}
	}
	return valueJSON(c)
}

func (c *CartLineItems) Scan(src any) error {
	return scanJSON(src, c)
}

// ShippingSelection is the buyer's chosen shipping option for one seller.
type ShippingSelection struct {
	Method    string `json:"method" validate:"required"`
	CostCents int64  `json:"cost_cents" validate:"gte=0"`
}

// ShippingSelections maps a seller id to the chosen shipping option.
type ShippingSelections map[string]ShippingSelection

func (s ShippingSelections) Value() (driver.Value, error) {
	if s == nil {
		s = ShippingSelections{}
	}
	return valueJSON(s)
}

func (s *ShippingSelections) Scan(src any) error {
	return scanJSON(src, s)
}

// For returns the selection for sellerID, if any.
func (s ShippingSelections) For(sellerID uuid.UUID) (ShippingSelection, bool) {
	sel, ok := s[sellerID.String()]
	return sel, ok
}

// UUIDList stores an ordered list of ids as a JSON array.
type UUIDList []uuid.UUID

func (u UUIDList) Value() (driver.Value, error) {
	if u == nil {
		u = UUIDList{}
	}
	return valueJSON(u)
}

func (u *UUIDList) Scan(src any) error {
	return scanJSON(src, u)
}
