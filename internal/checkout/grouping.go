package checkout

import (
	"github.com/google/uuid"

	"github.com/angelmondragon/marketplace-fulfillment/pkg/enums"
	"github.com/angelmondragon/marketplace-fulfillment/pkg/types"
)

// sellerTotals captures pre-calculated totals for one seller's lines.
type sellerTotals struct {
	SellerID      uuid.UUID
	SubtotalCents int64
	ItemCount     int
	HasPhysical   bool
}

// totalsBySeller returns totals keyed by seller plus the sellers in
// first-appearance order.
func totalsBySeller(items []types.CartLineItem) (map[uuid.UUID]sellerTotals, []uuid.UUID) {
	results := make(map[uuid.UUID]sellerTotals)
	var order []uuid.UUID
	for _, item := range items {
		totals, seen := results[item.SellerID]
		if !seen {
			totals.SellerID = item.SellerID
			order = append(order, item.SellerID)
		}
		totals.SubtotalCents += item.GrossCents()
		totals.ItemCount++
		if item.Kind == enums.ProductKindPhysical {
			totals.HasPhysical = true
		}
		results[item.SellerID] = totals
	}
	return results, order
}
