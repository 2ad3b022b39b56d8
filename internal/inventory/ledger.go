package inventory

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/marketplace-fulfillment/pkg/db/models"
	"github.com/angelmondragon/marketplace-fulfillment/pkg/enums"
	pkgerrors "github.com/angelmondragon/marketplace-fulfillment/pkg/errors"
)

// Ledger owns the per-product and per-variant stock counters. Every mutation is a
// single conditional UPDATE so concurrent buyers can never drive a counter below zero.
type Ledger struct {
	db *gorm.DB
}

func NewLedger(db *gorm.DB) *Ledger {
	return &Ledger{db: db}
}

func (l *Ledger) conn(ctx context.Context, tx *gorm.DB) *gorm.DB {
	if tx != nil {
		return tx.WithContext(ctx)
	}
	return l.db.WithContext(ctx)
}

// TryDecrement removes amount units from the product's base stock, or from the
// variant's stock when variantID is set. It reports false, changing nothing, when
// the counter holds fewer than amount units.
func (l *Ledger) TryDecrement(ctx context.Context, tx *gorm.DB, productID uuid.UUID, variantID *uuid.UUID, amount int) (bool, error) {
	if amount <= 0 {
		return false, pkgerrors.New(pkgerrors.CodeValidation, "decrement amount must be positive")
	}
	if productID == uuid.Nil {
		return false, pkgerrors.New(pkgerrors.CodeValidation, "product id is required")
	}

	var res *gorm.DB
	if variantID != nil {
		res = l.conn(ctx, tx).Model(&models.ProductVariant{}).
			Where("id = ? AND product_id = ? AND stock >= ?", *variantID, productID, amount).
			UpdateColumn("stock", gorm.Expr("stock - ?", amount))
	} else {
		res = l.conn(ctx, tx).Model(&models.Product{}).
			Where("id = ? AND kind = ? AND stock >= ?", productID, enums.ProductKindPhysical, amount).
			UpdateColumn("stock", gorm.Expr("stock - ?", amount))
	}
	if res.Error != nil {
		return false, pkgerrors.Wrap(pkgerrors.CodeDependency, res.Error, "decrement stock")
	}
	return res.RowsAffected == 1, nil
}

// Restock adds amount units back to a counter. Used for admin corrections.
func (l *Ledger) Restock(ctx context.Context, tx *gorm.DB, productID uuid.UUID, variantID *uuid.UUID, amount int) error {
	if amount <= 0 {
		return pkgerrors.New(pkgerrors.CodeValidation, "restock amount must be positive")
	}

	var res *gorm.DB
	if variantID != nil {
		res = l.conn(ctx, tx).Model(&models.ProductVariant{}).
			Where("id = ? AND product_id = ?", *variantID, productID).
			UpdateColumn("stock", gorm.Expr("stock + ?", amount))
	} else {
		res = l.conn(ctx, tx).Model(&models.Product{}).
			Where("id = ? AND kind = ?", productID, enums.ProductKindPhysical).
			UpdateColumn("stock", gorm.Expr("stock + ?", amount))
	}
	if res.Error != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, res.Error, "restock")
	}
	if res.RowsAffected == 0 {
		return pkgerrors.New(pkgerrors.CodeNotFound, "stock counter not found")
	}
	return nil
}

// Stock reads a single counter.
func (l *Ledger) Stock(ctx context.Context, productID uuid.UUID, variantID *uuid.UUID) (int, error) {
	var stock int
	var err error
	if variantID != nil {
		err = l.db.WithContext(ctx).Model(&models.ProductVariant{}).
			Select("stock").
			Where("id = ? AND product_id = ?", *variantID, productID).
			Take(&stock).Error
	} else {
		err = l.db.WithContext(ctx).Model(&models.Product{}).
			Select("stock").
			Where("id = ?", productID).
			Take(&stock).Error
	}
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return 0, pkgerrors.New(pkgerrors.CodeNotFound, "stock counter not found")
	}
	if err != nil {
		return 0, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "read stock")
	}
	return stock, nil
}

// TotalStock is the sum of variant stocks for sized products and the base stock
// otherwise. It is always derived, never stored.
func (l *Ledger) TotalStock(ctx context.Context, productID uuid.UUID) (int, error) {
	var variants int64
	if err := l.db.WithContext(ctx).Model(&models.ProductVariant{}).
		Where("product_id = ?", productID).
		Count(&variants).Error; err != nil {
		return 0, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "count variants")
	}
	if variants == 0 {
		return l.Stock(ctx, productID, nil)
	}

	var total int
	if err := l.db.WithContext(ctx).Model(&models.ProductVariant{}).
		Select("COALESCE(SUM(stock), 0)").
		Where("product_id = ?", productID).
		Scan(&total).Error; err != nil {
		return 0, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "sum variant stock")
	}
	return total, nil
}
