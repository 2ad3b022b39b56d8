package delivery

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/marketplace-fulfillment/pkg/db/models"
)

type Repository struct {
	db *gorm.DB
}

func NewRepository(db *gorm.DB) *Repository {
	return &Repository{db: db}
}

func (r *Repository) WithTx(tx *gorm.DB) *Repository {
	if tx == nil {
		return r
	}
	return &Repository{db: tx}
}

func (r *Repository) Create(ctx context.Context, grant *models.DigitalDeliveryGrant) error {
	return r.db.WithContext(ctx).Create(grant).Error
}

func (r *Repository) FindByID(ctx context.Context, id uuid.UUID) (*models.DigitalDeliveryGrant, error) {
	var grant models.DigitalDeliveryGrant
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&grant).Error; err != nil {
		return nil, err
	}
	return &grant, nil
}

// Consume records one redemption if the grant is unexpired and, for one-time
// grants, not yet used. It reports whether the redemption was accepted.
func (r *Repository) Consume(ctx context.Context, id uuid.UUID, now time.Time) (bool, error) {
	res := r.db.WithContext(ctx).Model(&models.DigitalDeliveryGrant{}).
		Where("id = ? AND expires_at > ? AND (one_time = ? OR consumed_at IS NULL)", id, now, false).
		Updates(map[string]any{
			"consumed_at":    gorm.Expr("COALESCE(consumed_at, ?)", now),
			"download_count": gorm.Expr("download_count + 1"),
		})
	return res.RowsAffected == 1, res.Error
}

// DeleteExpiredBefore removes grants whose expiry is older than cutoff.
func (r *Repository) DeleteExpiredBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	res := r.db.WithContext(ctx).
		Where("expires_at < ?", cutoff).
		Delete(&models.DigitalDeliveryGrant{})
	return res.RowsAffected, res.Error
}
