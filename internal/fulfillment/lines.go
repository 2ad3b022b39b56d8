package fulfillment

import (
	"strings"

	"github.com/google/uuid"

	"github.com/angelmondragon/marketplace-fulfillment/pkg/enums"
	pkgerrors "github.com/angelmondragon/marketplace-fulfillment/pkg/errors"
	"github.com/angelmondragon/marketplace-fulfillment/pkg/types"
)

// line is a cart line resolved to exactly one fulfillment strategy.
type line interface {
	item() types.CartLineItem
}

// physicalLine draws from the product's base stock counter.
type physicalLine struct {
	cart types.CartLineItem
}

// variantLine draws from one size variant's stock counter.
type variantLine struct {
	cart      types.CartLineItem
	variantID uuid.UUID
}

// digitalLine has no stock and is delivered through a grant.
type digitalLine struct {
	cart     types.CartLineItem
	assetKey string
}

func (l physicalLine) item() types.CartLineItem { return l.cart }
func (l variantLine) item() types.CartLineItem  { return l.cart }
func (l digitalLine) item() types.CartLineItem  { return l.cart }

// classify validates a cart line and picks its strategy. Every error it
// returns is permanent: retrying the same snapshot cannot fix it.
func classify(index int, item types.CartLineItem) (line, error) {
	details := map[string]any{"line": index, "product_id": item.ProductID}
	if item.ProductID == uuid.Nil || item.SellerID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "cart line is missing product or seller").WithDetails(details)
	}
	if item.Quantity <= 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "cart line quantity must be positive").WithDetails(details)
	}
	if item.EffectiveUnitPrice() < 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "cart line price must not be negative").WithDetails(details)
	}

	switch item.Kind {
	case enums.ProductKindPhysical:
		if item.SelectedVariant != nil {
			if item.SelectedVariant.VariantID == uuid.Nil {
				return nil, pkgerrors.New(pkgerrors.CodeValidation, "variant selection is missing its id").WithDetails(details)
			}
			return variantLine{cart: item, variantID: item.SelectedVariant.VariantID}, nil
		}
		return physicalLine{cart: item}, nil
	case enums.ProductKindDigital:
		key := strings.TrimSpace(item.AssetKey)
		if key == "" {
			return nil, pkgerrors.New(pkgerrors.CodeValidation, "digital line is missing its asset").WithDetails(details)
		}
		return digitalLine{cart: item, assetKey: key}, nil
	default:
		details["kind"] = item.Kind
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "unknown product kind").WithDetails(details)
	}
}
