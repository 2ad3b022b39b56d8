// Package checkout captures the priced cart snapshot a buyer pays for. The
// snapshot, not the live catalog, is what fulfillment later works from.
package checkout

import (
	"context"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	checkoutpkg "github.com/angelmondragon/marketplace-fulfillment/pkg/checkout"
	"github.com/angelmondragon/marketplace-fulfillment/pkg/db/models"
	"github.com/angelmondragon/marketplace-fulfillment/pkg/enums"
	pkgerrors "github.com/angelmondragon/marketplace-fulfillment/pkg/errors"
	"github.com/angelmondragon/marketplace-fulfillment/pkg/logger"
	"github.com/angelmondragon/marketplace-fulfillment/pkg/types"
)

type productCatalog interface {
	ProductsByID(ctx context.Context, ids []uuid.UUID) (map[uuid.UUID]models.Product, error)
}

// Service executes checkout capture.
type Service interface {
	Capture(ctx context.Context, buyerID uuid.UUID, input CaptureInput) (*SessionDTO, error)
	Get(ctx context.Context, buyerID, sessionID uuid.UUID) (*SessionDTO, error)
}

type service struct {
	repo     Repository
	catalog  productCatalog
	validate *validator.Validate
	logg     *logger.Logger
}

// NewService builds the checkout service.
func NewService(repo Repository, catalog productCatalog, logg *logger.Logger) (Service, error) {
	if repo == nil {
		return nil, fmt.Errorf("checkout repository required")
	}
	if catalog == nil {
		return nil, fmt.Errorf("product catalog required")
	}
	return &service{repo: repo, catalog: catalog, validate: validator.New(), logg: logg}, nil
}

func (s *service) Capture(ctx context.Context, buyerID uuid.UUID, input CaptureInput) (*SessionDTO, error) {
	if buyerID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeUnauthorized, "buyer identity required")
	}
	input.BuyerEmail = strings.ToLower(strings.TrimSpace(input.BuyerEmail))
	if err := s.validate.Struct(input); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid checkout request")
	}

	currency := enums.CurrencyUSD
	if strings.TrimSpace(input.Currency) != "" {
		parsed, err := enums.ParseCurrency(strings.ToUpper(strings.TrimSpace(input.Currency)))
		if err != nil {
			return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "unsupported currency")
		}
		currency = parsed
	}

	quantities := make([]checkoutpkg.QuantityInput, 0, len(input.Items))
	ids := make([]uuid.UUID, 0, len(input.Items))
	for _, item := range input.Items {
		quantities = append(quantities, checkoutpkg.QuantityInput{ProductID: item.ProductID, Quantity: item.Quantity})
		ids = append(ids, item.ProductID)
	}
	if err := checkoutpkg.ViolationsError(checkoutpkg.ValidateQuantities(quantities)); err != nil {
		return nil, err
	}

	products, err := s.catalog.ProductsByID(ctx, ids)
	if err != nil {
		return nil, err
	}

	var violations []checkoutpkg.Violation
	lines := make([]types.CartLineItem, 0, len(input.Items))
	for _, item := range input.Items {
		product, ok := products[item.ProductID]
		if !ok {
			violations = append(violations, checkoutpkg.Violation{ProductID: item.ProductID, Reason: "product not available"})
			continue
		}
		line, reason := snapshotLine(product, item, currency)
		if reason != "" {
			violations = append(violations, checkoutpkg.Violation{ProductID: product.ID, SellerID: product.SellerID, Title: product.Title, Reason: reason})
			continue
		}
		lines = append(lines, line)
	}

	totals, sellers := totalsBySeller(lines)
	shipping := types.ShippingSelections{}
	var subtotal, shippingTotal int64
	needsAddress := false
	for _, sellerID := range sellers {
		seller := totals[sellerID]
		subtotal += seller.SubtotalCents
		if !seller.HasPhysical {
			continue
		}
		needsAddress = true
		sel, ok := input.ShippingSelections.For(sellerID)
		if !ok || strings.TrimSpace(sel.Method) == "" || sel.CostCents < 0 {
			violations = append(violations, checkoutpkg.Violation{SellerID: sellerID, Reason: "shipping selection required"})
			continue
		}
		sel.Method = strings.TrimSpace(sel.Method)
		shipping[sellerID.String()] = sel
		shippingTotal += sel.CostCents
	}
	if err := checkoutpkg.ViolationsError(violations); err != nil {
		return nil, err
	}

	var address types.Address
	if input.DeliveryAddress != nil {
		address = input.DeliveryAddress.Normalize()
	}
	if needsAddress {
		if address.IsZero() {
			return nil, pkgerrors.New(pkgerrors.CodeValidation, "delivery address required for physical items")
		}
		if err := s.validate.Struct(address); err != nil {
			return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid delivery address")
		}
	}

	session := &models.CheckoutSession{
		BuyerID:            buyerID,
		BuyerEmail:         input.BuyerEmail,
		LineItems:          types.CartLineItems(lines),
		ShippingSelections: shipping,
		DeliveryAddress:    address,
		SubtotalCents:      subtotal,
		ShippingCents:      shippingTotal,
		TotalCents:         subtotal + shippingTotal,
		Currency:           currency,
	}
	if err := s.repo.Create(ctx, session); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "store checkout session")
	}

	if s.logg != nil {
		logCtx := s.logg.WithFields(ctx, map[string]any{
			"checkout_session_id": session.ID.String(),
			"sellers":             len(sellers),
			"total_cents":         session.TotalCents,
		})
		s.logg.Info(logCtx, "checkout session captured")
	}
	return toSessionDTO(session), nil
}

// Get returns the buyer's own session.
func (s *service) Get(ctx context.Context, buyerID, sessionID uuid.UUID) (*SessionDTO, error) {
	session, err := s.repo.FindByID(ctx, sessionID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load checkout session")
	}
	if session == nil || session.BuyerID != buyerID {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "checkout session not found")
	}
	return toSessionDTO(session), nil
}

// snapshotLine pins the product's current seller, price, variant and asset.
// A non-empty reason rejects the line.
func snapshotLine(product models.Product, item ItemInput, currency enums.Currency) (types.CartLineItem, string) {
	if product.Currency != currency {
		return types.CartLineItem{}, "product is priced in " + product.Currency.String()
	}
	line := types.CartLineItem{
		ProductID:      product.ID,
		SellerID:       product.SellerID,
		Kind:           product.Kind,
		Title:          product.Title,
		Quantity:       item.Quantity,
		UnitPriceCents: product.PriceCents,
	}

	switch product.Kind {
	case enums.ProductKindDigital:
		if item.VariantID != nil {
			return types.CartLineItem{}, "digital products have no sizes"
		}
		if product.AssetKey == nil || strings.TrimSpace(*product.AssetKey) == "" {
			return types.CartLineItem{}, "digital asset unavailable"
		}
		line.AssetKey = strings.TrimSpace(*product.AssetKey)
	case enums.ProductKindPhysical:
		if len(product.Variants) == 0 {
			if item.VariantID != nil {
				return types.CartLineItem{}, "product has no sizes"
			}
			break
		}
		if item.VariantID == nil {
			return types.CartLineItem{}, "size selection required"
		}
		var chosen *models.ProductVariant
		for i := range product.Variants {
			if product.Variants[i].ID == *item.VariantID {
				chosen = &product.Variants[i]
				break
			}
		}
		if chosen == nil {
			return types.CartLineItem{}, "size not offered for product"
		}
		line.SelectedVariant = &types.VariantSelection{
			VariantID:  chosen.ID,
			Label:      chosen.Label,
			PriceCents: chosen.PriceCents,
		}
	default:
		return types.CartLineItem{}, "unsupported product kind"
	}
	return line, ""
}
