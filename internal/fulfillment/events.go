package fulfillment

import (
	"context"

	"github.com/google/uuid"

	"github.com/angelmondragon/marketplace-fulfillment/pkg/db/models"
	"github.com/angelmondragon/marketplace-fulfillment/pkg/enums"
	pkgerrors "github.com/angelmondragon/marketplace-fulfillment/pkg/errors"
	"github.com/angelmondragon/marketplace-fulfillment/pkg/outbox"
	"github.com/angelmondragon/marketplace-fulfillment/pkg/outbox/payloads"
)

// emitEvents records every notification and analytics intent for the order
// in the outbox, inside the fulfillment transaction.
func (r *run) emitEvents(ctx context.Context) error {
	actor := outbox.SystemActor(actorComponent)
	emit := func(eventType enums.OutboxEventType, aggregate enums.OutboxAggregateType, id uuid.UUID, data any) error {
		err := r.engine.deps.Outbox.Emit(ctx, r.tx, outbox.DomainEvent{
			EventType:     eventType,
			AggregateType: aggregate,
			AggregateID:   id,
			Actor:         actor,
			Data:          data,
			OccurredAt:    r.now,
		})
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "emit "+string(eventType))
		}
		return nil
	}

	var allLines []payloads.SaleLine
	for _, summary := range r.result.SubOrders {
		g := r.groups[summary.SellerID]
		lines := saleLines(g.items)
		allLines = append(allLines, lines...)
		sub := g.subOrder
		if err := emit(enums.EventSellerSaleAlert, enums.AggregateSubOrder, sub.ID, payloads.SellerSaleAlertEvent{
			OrderID:              r.orderID,
			SubOrderID:           sub.ID,
			SellerID:             sub.SellerID,
			TransactionReference: r.job.TransactionReference,
			DeliveryStatus:       summary.DeliveryStatus,
			ShippingMethod:       sub.ShippingMethod,
			GrossCents:           summary.GrossCents,
			PlatformFeeCents:     summary.PlatformFeeCents,
			SettleCents:          summary.SettleCents,
			Currency:             r.currency.String(),
			Lines:                lines,
		}); err != nil {
			return err
		}
	}

	unfulfilled := make([]payloads.SaleLine, 0, len(r.short))
	for _, short := range r.short {
		if err := emit(enums.EventLowStockAlert, enums.AggregateProduct, short.ProductID, payloads.LowStockAlertEvent{
			OrderID:              r.orderID,
			SellerID:             short.SellerID,
			ProductID:            short.ProductID,
			VariantID:            short.VariantID,
			Title:                short.Title,
			RequestedQuantity:    short.Quantity,
			TransactionReference: r.job.TransactionReference,
		}); err != nil {
			return err
		}
		unfulfilled = append(unfulfilled, payloads.SaleLine{
			ProductID:  short.ProductID,
			Title:      short.Title,
			Kind:       enums.ProductKindPhysical,
			Quantity:   short.Quantity,
			GrossCents: short.GrossCents,
		})
	}

	for _, grant := range r.result.DigitalGrants {
		if err := emit(enums.EventDigitalDelivery, enums.AggregateDigitalGrant, grant.GrantID, payloads.DigitalDeliveryEvent{
			OrderID:     r.orderID,
			SubOrderID:  grant.SubOrderID,
			GrantID:     grant.GrantID,
			ProductID:   grant.ProductID,
			BuyerEmail:  r.job.BuyerEmail,
			Title:       grant.Title,
			DownloadURL: grant.DownloadURL,
			ExpiresAt:   grant.ExpiresAt,
		}); err != nil {
			return err
		}
	}

	if err := emit(enums.EventOrderConfirmation, enums.AggregateOrder, r.orderID, payloads.OrderConfirmationEvent{
		OrderID:              r.orderID,
		TransactionReference: r.job.TransactionReference,
		BuyerEmail:           r.job.BuyerEmail,
		PaidAmountCents:      r.job.PaidAmountCents,
		FulfilledAmountCents: r.result.FulfilledAmountCents,
		ShortfallCents:       r.result.ShortfallCents,
		Currency:             r.currency.String(),
		FulfillmentStatus:    r.result.FulfillmentStatus,
		SubOrderCount:        len(r.result.SubOrders),
		Lines:                allLines,
		Unfulfilled:          unfulfilled,
	}); err != nil {
		return err
	}

	return emit(enums.EventOrderFulfilled, enums.AggregateOrder, r.orderID, payloads.OrderFulfilledEvent{
		OrderID:              r.orderID,
		TransactionReference: r.job.TransactionReference,
		BuyerID:              r.job.BuyerID,
		SellerIDs:            r.sellers,
		PaidAmountCents:      r.job.PaidAmountCents,
		FulfilledAmountCents: r.result.FulfilledAmountCents,
		ShortfallCents:       r.result.ShortfallCents,
		PlatformFeeCents:     r.result.PlatformFeeCents,
		Currency:             r.currency.String(),
		FulfillmentStatus:    r.result.FulfillmentStatus,
		LineCount:            len(r.job.CartLineItems),
		InsufficientCount:    len(r.short),
		DigitalGrantCount:    len(r.result.DigitalGrants),
		FulfilledAt:          r.now,
	})
}

func saleLines(items []models.OrderLineItem) []payloads.SaleLine {
	lines := make([]payloads.SaleLine, 0, len(items))
	for _, item := range items {
		lines = append(lines, payloads.SaleLine{
			ProductID:  item.ProductID,
			Title:      item.Title,
			Kind:       item.Kind,
			Quantity:   item.Quantity,
			GrossCents: item.GrossCents,
		})
	}
	return lines
}
