package inventory

import (
	"context"

	"github.com/google/uuid"

	"github.com/angelmondragon/marketplace-fulfillment/pkg/db/models"
	pkgerrors "github.com/angelmondragon/marketplace-fulfillment/pkg/errors"
)

// ProductsByID loads active products with their variants, keyed by id.
func (l *Ledger) ProductsByID(ctx context.Context, ids []uuid.UUID) (map[uuid.UUID]models.Product, error) {
	out := make(map[uuid.UUID]models.Product, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	var rows []models.Product
	if err := l.db.WithContext(ctx).
		Preload("Variants").
		Where("id IN ? AND is_active = ?", ids, true).
		Find(&rows).Error; err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load products")
	}
	for _, row := range rows {
		out[row.ID] = row
	}
	return out, nil
}
