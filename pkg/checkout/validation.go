package checkout

import (
	"fmt"

	"github.com/google/uuid"

	pkgerrors "github.com/angelmondragon/marketplace-fulfillment/pkg/errors"
)

// MaxLineQuantity caps a single cart line.
const MaxLineQuantity = 99

// QuantityInput describes one requested cart line.
type QuantityInput struct {
	ProductID uuid.UUID
	Title     string
	Quantity  int
}

// Violation is returned to callers when a cart line is rejected.
type Violation struct {
	ProductID uuid.UUID `json:"product_id,omitempty"`
	SellerID  uuid.UUID `json:"seller_id,omitempty"`
	Title     string    `json:"title,omitempty"`
	Reason    string    `json:"reason"`
}

// ValidateQuantities checks every line is within 1..MaxLineQuantity.
func ValidateQuantities(items []QuantityInput) []Violation {
	var violations []Violation
	for _, item := range items {
		switch {
		case item.Quantity <= 0:
			violations = append(violations, Violation{ProductID: item.ProductID, Title: item.Title, Reason: "quantity must be positive"})
		case item.Quantity > MaxLineQuantity:
			violations = append(violations, Violation{
				ProductID: item.ProductID,
				Title:     item.Title,
				Reason:    fmt.Sprintf("quantity exceeds %d", MaxLineQuantity),
			})
		}
	}
	return violations
}

// ViolationsError folds violations into one validation error, or nil.
func ViolationsError(violations []Violation) error {
	if len(violations) == 0 {
		return nil
	}
	return pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("checkout rejected %d line(s)", len(violations))).WithDetails(map[string]any{
		"violations": violations,
	})
}
