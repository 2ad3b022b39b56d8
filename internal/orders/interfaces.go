package orders

import (
	"context"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/marketplace-fulfillment/pkg/db/models"
	"github.com/angelmondragon/marketplace-fulfillment/pkg/enums"
)

// Repository defines persistence operations for order tables.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	CreateOrder(ctx context.Context, order *models.Order) error
	CreateSubOrders(ctx context.Context, subOrders []models.SubOrder) error
	CreateLineItems(ctx context.Context, items []models.OrderLineItem) error
	ExistsByReference(ctx context.Context, reference string) (bool, error)
	FindByReference(ctx context.Context, reference string) (*models.Order, error)
	FindByID(ctx context.Context, id uuid.UUID) (*models.Order, error)
	FindSubOrder(ctx context.Context, id uuid.UUID) (*models.SubOrder, error)
	UpdateSubOrderStatus(ctx context.Context, id uuid.UUID, from enums.SubOrderDeliveryStatus, updates map[string]any) (int64, error)
}
