package orders

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/angelmondragon/marketplace-fulfillment/pkg/db/models"
	"github.com/angelmondragon/marketplace-fulfillment/pkg/enums"
)

type repository struct {
	db *gorm.DB
}

// NewRepository builds an orders repository bound to the provided DB.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

func (r *repository) CreateOrder(ctx context.Context, order *models.Order) error {
	return r.db.WithContext(ctx).Omit(clause.Associations).Create(order).Error
}

func (r *repository) CreateSubOrders(ctx context.Context, subOrders []models.SubOrder) error {
	if len(subOrders) == 0 {
		return nil
	}
	return r.db.WithContext(ctx).Omit(clause.Associations).Create(&subOrders).Error
}

func (r *repository) CreateLineItems(ctx context.Context, items []models.OrderLineItem) error {
	if len(items) == 0 {
		return nil
	}
	return r.db.WithContext(ctx).Create(&items).Error
}

func (r *repository) ExistsByReference(ctx context.Context, reference string) (bool, error) {
	var count int64
	err := r.db.WithContext(ctx).
		Model(&models.Order{}).
		Where("transaction_reference = ?", reference).
		Count(&count).Error
	return count > 0, err
}

// FindByReference returns nil when no order exists for reference.
func (r *repository) FindByReference(ctx context.Context, reference string) (*models.Order, error) {
	return r.findOne(ctx, "transaction_reference = ?", reference)
}

func (r *repository) FindByID(ctx context.Context, id uuid.UUID) (*models.Order, error) {
	return r.findOne(ctx, "id = ?", id)
}

func (r *repository) findOne(ctx context.Context, query string, arg any) (*models.Order, error) {
	var order models.Order
	err := r.db.WithContext(ctx).
		Preload("SubOrders", func(db *gorm.DB) *gorm.DB { return db.Order("position ASC") }).
		Preload("SubOrders.Items", func(db *gorm.DB) *gorm.DB { return db.Order("created_at ASC") }).
		Where(query, arg).
		First(&order).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &order, nil
}

func (r *repository) FindSubOrder(ctx context.Context, id uuid.UUID) (*models.SubOrder, error) {
	var sub models.SubOrder
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&sub).Error; err != nil {
		return nil, err
	}
	return &sub, nil
}

// UpdateSubOrderStatus applies updates only while the sub-order is still in
// from and reports the rows changed.
func (r *repository) UpdateSubOrderStatus(ctx context.Context, id uuid.UUID, from enums.SubOrderDeliveryStatus, updates map[string]any) (int64, error) {
	res := r.db.WithContext(ctx).
		Model(&models.SubOrder{}).
		Where("id = ? AND delivery_status = ?", id, from).
		Updates(updates)
	return res.RowsAffected, res.Error
}
